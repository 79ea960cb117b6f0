package checks

import (
	"context"
	"errors"
)

// Checker probes a single host. A nil error means the host passed; any other
// error describes the failure and should wrap one of the failure sentinels so
// that Classify can tell failures apart.
//
// Implementations must not retry, must not mutate state shared between calls
// and must return once ctx is done.
type Checker interface {
	// Kind returns the configuration tag the checker was built from.
	Kind() string
	Check(ctx context.Context, host string) error
}

// Class groups failure reasons into categories suitable for reports and alerts.
type Class string

const (
	ClassRefused     Class = "refused"
	ClassTimeout     Class = "timeout"
	ClassResolve     Class = "resolve"
	ClassUnreachable Class = "unreachable"
	ClassIO          Class = "io"
	ClassProtocol    Class = "protocol"
	ClassInternal    Class = "internal"
	ClassCanceled    Class = "canceled"
	ClassFailed      Class = "failed"
)

var (
	ErrRefused     = errors.New("connection refused")
	ErrTimeout     = errors.New("timeout")
	ErrResolve     = errors.New("address resolution failed")
	ErrUnreachable = errors.New("host unreachable")
	ErrIO          = errors.New("i/o failure")
	ErrProtocol    = errors.New("protocol failure")
	ErrInternal    = errors.New("internal checker error")
	ErrCanceled    = errors.New("canceled")

	// ErrUnknownChecker is returned when a configuration tag has no registered builder.
	ErrUnknownChecker = errors.New("unknown checker")
)

// Classify maps a failure returned by a Checker to its Class. It returns an
// empty Class for a nil error.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInternal):
		return ClassInternal
	case errors.Is(err, ErrRefused):
		return ClassRefused
	case errors.Is(err, ErrResolve):
		return ClassResolve
	case errors.Is(err, ErrUnreachable):
		return ClassUnreachable
	case errors.Is(err, ErrProtocol):
		return ClassProtocol
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return ClassCanceled
	case errors.Is(err, ErrIO):
		return ClassIO
	default:
		return ClassFailed
	}
}
