package cli

import (
	"errors"

	"gitdelayed/internal/core"
	"gitdelayed/internal/daemon"
)

// Process exit codes.
const (
	ExitOK                = 0
	ExitError             = 1
	ExitInvalidExpression = 2
	ExitNotARepository    = 3
	ExitAlreadyRunning    = 4
	ExitStaleMarker       = 5
	ExitNotRunning        = 6
)

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, core.ErrInvalidExpression):
		return ExitInvalidExpression
	case errors.Is(err, core.ErrNotARepository):
		return ExitNotARepository
	case errors.Is(err, daemon.ErrAlreadyRunning):
		return ExitAlreadyRunning
	case errors.Is(err, daemon.ErrStale):
		return ExitStaleMarker
	case errors.Is(err, daemon.ErrNotRunning):
		return ExitNotRunning
	default:
		return ExitError
	}
}
