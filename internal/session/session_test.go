package session

import (
	"strings"
	"testing"
)

func TestCurrentPrecedence(t *testing.T) {
	t.Setenv("SY_SESSION", "env-session")

	id, generated := Current("flag-session")
	if id != "flag-session" || generated {
		t.Errorf("Current with flag = %q, %v; want flag-session, false", id, generated)
	}

	id, generated = Current("")
	if id != "env-session" || generated {
		t.Errorf("Current from env = %q, %v; want env-session, false", id, generated)
	}
}

func TestCurrentGeneratesWhenUnset(t *testing.T) {
	t.Setenv("SY_SESSION", "")

	id, generated := Current("")
	if !generated {
		t.Fatal("expected generated session id")
	}
	if !strings.HasPrefix(id, "sy-") || len(id) <= len("sy-") {
		t.Errorf("generated id %q lacks sy- prefix or body", id)
	}

	// Two generations never collide.
	second, _ := Current("")
	if second == id {
		t.Errorf("generated ids collided: %q", id)
	}
}
