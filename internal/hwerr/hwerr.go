// Package hwerr defines the error taxonomy shared by the hardware services.
package hwerr

import (
	"github.com/pkg/errors"
)

var (
	ErrDeviceNotFound       = errors.New("hardware: device not found")
	ErrConnectionFailure    = errors.New("hardware: connection failure")
	ErrUnsupportedOperation = errors.New("hardware: unsupported operation")
	ErrValidationFailure    = errors.New("hardware: validation failure")
	ErrRenderFailure        = errors.New("hardware: render failure")
	ErrNotConnected         = errors.New("hardware: not connected")
	// ErrHotplugUnsupported is a capability downgrade, never surfaced as a failure.
	ErrHotplugUnsupported = errors.New("hardware: hotplug notifications unavailable")
)

// KindOf names the taxonomy class of err, or "internal" when it carries none.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, ErrConnectionFailure):
		return "connection_failure"
	case errors.Is(err, ErrUnsupportedOperation):
		return "unsupported_operation"
	case errors.Is(err, ErrValidationFailure):
		return "validation_failure"
	case errors.Is(err, ErrRenderFailure):
		return "render_failure"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrHotplugUnsupported):
		return "hotplug_unsupported"
	default:
		return "internal"
	}
}

// Wrapf attaches a taxonomy class and context to a native error.
func Wrapf(kind error, err error, format string, args ...interface{}) error {
	if err == nil {
		return errors.Wrapf(kind, format, args...)
	}
	return &classified{kind: kind, cause: errors.Wrapf(err, format, args...)}
}

type classified struct {
	kind  error
	cause error
}

func (c *classified) Error() string {
	return c.cause.Error()
}

func (c *classified) Is(target error) bool {
	return target == c.kind
}

func (c *classified) Unwrap() error {
	return c.cause
}
