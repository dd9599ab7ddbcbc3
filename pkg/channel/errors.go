package channel

import (
	"errors"
	"fmt"
)

var (
	ErrIDInUse       = errors.New("request id already in use")
	ErrTimeout       = errors.New("timeout awaiting response")
	ErrClosed        = errors.New("channel is closed")
	ErrNoBaseURL     = errors.New("base url not set")
	ErrNoMarshaler   = errors.New("marshaler is not set")
	ErrNoUnmarshaler = errors.New("unmarshaler is not set")
)

// TransportError wraps a channel failure. The core never retries; surfacing
// the failure to the caller is the whole contract.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool {
	_, ok := target.(*TransportError)
	return ok
}
