package duplex

import (
	"errors"
	"fmt"
	"io"
	"syscall"
)

// Operation names carried by OpError.
const (
	OpRead  = "read"
	OpWrite = "write"
)

var (
	// ErrPending is returned by an endpoint that cannot make progress yet.
	// The endpoint must have arranged for the Waker it was given to be
	// called once progress is possible.
	ErrPending = errors.New("duplex: operation pending")

	// ErrWriteClosedEarly is the failure reported when the writer accepts
	// zero bytes while buffered data remains. It wraps io.ErrShortWrite.
	ErrWriteClosedEarly = fmt.Errorf("duplex: writer closed before all data was forwarded: %w", io.ErrShortWrite)

	// ErrPollerClosed is returned when registering with a closed Poller.
	ErrPollerClosed = errors.New("duplex: poller closed")

	// ErrNilForwarder is returned by Run when given a nil Forwarder.
	ErrNilForwarder = errors.New("duplex: nil forwarder")

	// ErrNotSyscallConn is returned when a connection does not expose a
	// file descriptor.
	ErrNotSyscallConn = errors.New("duplex: connection does not implement syscall.Conn")
)

// OpError is a fatal endpoint failure. Op is OpRead or OpWrite; Err is the
// error the endpoint returned.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return "duplex: " + e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error { return e.Err }

// wouldBlock reports whether err only means "not ready yet".
func wouldBlock(err error) bool {
	return errors.Is(err, ErrPending) || errors.Is(err, syscall.EAGAIN)
}

// interrupted reports whether err is a retryable interruption.
func interrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
