// Package session resolves the identity of the calling agent session.
//
// Every engine operation takes the session id as an explicit parameter,
// nothing reads it ambiently, so lock ownership and guard asymmetry stay
// testable without process-environment games. This package is only the
// resolution shim at the CLI boundary.
package session

import (
	"os"

	"github.com/google/uuid"

	"github.com/steveyegge/switchyard/internal/constants"
)

// Current resolves the session id for this invocation.
//
// Resolution order:
//  1. explicit --session flag value
//  2. SY_SESSION environment variable (set by the orchestrator so every
//     sub-agent it spawns shares lock ownership with it)
//  3. a freshly generated id
//
// The second return reports whether the id was generated; callers print
// generated ids so the surrounding shell can export them for sub-agents.
func Current(flagValue string) (string, bool) {
	if flagValue != "" {
		return flagValue, false
	}
	if env := os.Getenv(constants.SessionEnvVar); env != "" {
		return env, false
	}
	return constants.SessionIDPrefix + uuid.NewString(), true
}
