package fetch

import "fmt"

// ErrorKind classifies fetch failures.
type ErrorKind string

const (
	ErrorKindNetwork   ErrorKind = "network"
	ErrorKindTimeout   ErrorKind = "timeout"
	ErrorKindTooLarge  ErrorKind = "too_large"
	ErrorKindBadStatus ErrorKind = "bad_status"
)

// Error is returned for requests that failed outright: 5xx responses,
// network, TLS or DNS failures, timeouts, or oversized bodies when
// truncation is disabled. 1xx-4xx responses are not errors.
type Error struct {
	Kind  ErrorKind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("fetch error (%s)", e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsFetchError reports whether err is a fetch Error of the given kind.
func IsFetchError(err error, kind ErrorKind) bool {
	fe, ok := err.(*Error)
	return ok && fe.Kind == kind
}
