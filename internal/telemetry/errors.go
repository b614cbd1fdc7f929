package telemetry

import "errors"

var (
	// ErrDecode is returned when a status payload is not a valid JSON object.
	ErrDecode = errors.New("telemetry: undecodable payload")

	// ErrUnhandledTopic is returned for topics outside the device scheme or
	// with an unknown kind.
	ErrUnhandledTopic = errors.New("telemetry: unhandled topic")
)
