package coordinator

import (
	"errors"

	"github.com/nerrad567/solar-controller-core/internal/access"
)

var (
	// ErrInvalidClaim is returned when no confirmation code is on record for
	// the device or the presented code does not match it.
	ErrInvalidClaim = errors.New("coordinator: invalid confirmation code or device not found")

	// ErrInvalidCommand is returned for a control request without a command.
	ErrInvalidCommand = errors.New("coordinator: invalid command")

	// ErrDispatchFailed is returned when a command could not be published.
	ErrDispatchFailed = errors.New("coordinator: failed to send command")
)

// Store errors surface unchanged so callers need only this package.
var (
	ErrAlreadyLinked  = access.ErrAlreadyLinked
	ErrAccessDenied   = access.ErrAccessDenied
	ErrTargetNotFound = access.ErrTargetNotFound
	ErrNotFound       = access.ErrNotFound
	ErrStore          = access.ErrStore
)
