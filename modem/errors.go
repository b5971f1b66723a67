package modem

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has not been successfully initialized.
	//
	// This can occur if the Dialer returned no transport or if the Modem was
	// not created via New.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still serving the same Modem.
	ErrLoopRunning = errors.New("modem loop already running")

	// ErrTransportClosed is returned for submissions made after the transport
	// closed, and settles every job that was queued or in flight at the time.
	ErrTransportClosed = errors.New("transport closed")

	// ErrTimeout matches every TimeoutError.
	ErrTimeout = errors.New("command timeout")

	// ErrProtocol matches every ProtocolError.
	ErrProtocol = errors.New("command failed")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")
)

// ProtocolError reports a command whose terminator signalled failure, either
// an error result code or an explicit failure literal such as CONNECT FAIL.
type ProtocolError struct {
	Command    string
	Terminator string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, e.Terminator)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// TimeoutError reports a command that saw no terminator within its window.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: no response within %v", e.Command, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
