package remote

import (
	stderrors "errors"
	"fmt"
)

var (
	// ErrInvalidRange reports start_block > stop_block. It is raised before any
	// request is built.
	ErrInvalidRange = stderrors.New("remote: invalid block range")
	// ErrInvalidModuleName reports a blank module name.
	ErrInvalidModuleName = stderrors.New("remote: module name is required")
)

// TransportError means the exchange did not complete: the connection was
// refused, dropped, or timed out. Retrying the same call is safe.
type TransportError struct {
	Op      Op
	URL     string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("remote: %s %s: timed out: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("remote: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means a response arrived but its body could not be decoded as
// text.
type ProtocolError struct {
	Op         Op
	URL        string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("remote: %s %s: undecodable response (status %d): %v", e.Op, e.URL, e.StatusCode, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// IsTransport reports whether err carries a TransportError.
func IsTransport(err error) bool {
	var target *TransportError
	return stderrors.As(err, &target)
}

// IsProtocol reports whether err carries a ProtocolError.
func IsProtocol(err error) bool {
	var target *ProtocolError
	return stderrors.As(err, &target)
}
