package analysis

import (
	"errors"
	"fmt"
)

// Kind classifies why an analysis did not produce a report.
type Kind int

const (
	KindUnknown Kind = iota
	// KindTransport covers network failures, timeouts and non-2xx statuses.
	KindTransport
	// KindNoVehicle means the service found no vehicle in the image.
	KindNoVehicle
	// KindMalformed means a 2xx body lacked required result fields.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport_error"
	case KindNoVehicle:
		return "no_vehicle_detected"
	case KindMalformed:
		return "malformed_response"
	default:
		return "unknown"
	}
}

var (
	ErrTransport         = errors.New("analysis transport failed")
	ErrNoVehicleDetected = errors.New("no vehicle detected")
	ErrMalformedResponse = errors.New("malformed analysis response")
	// ErrImageUnreadable is returned before any request is sent.
	ErrImageUnreadable = errors.New("image unreadable")
)

// Error is the classified failure returned by Analyze.
type Error struct {
	Kind       Kind
	StatusCode int
	// Message is the server supplied explanation, when there is one.
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrTransport:
		return e.Kind == KindTransport
	case ErrNoVehicleDetected:
		return e.Kind == KindNoVehicle
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	}
	return false
}

// KindOf extracts the discriminant from err, or KindUnknown.
func KindOf(err error) Kind {
	var aErr *Error
	if errors.As(err, &aErr) {
		return aErr.Kind
	}
	return KindUnknown
}
