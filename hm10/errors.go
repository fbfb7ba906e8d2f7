package hm10

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDialer is returned when a Device is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the module.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Device
	// that has no transport.
	ErrNotInitialized = errors.New("module not initialized")

	// ErrAlreadyClosed is returned by operations on a closed Device,
	// including a second Close.
	ErrAlreadyClosed = errors.New("module already closed")

	// ErrTransmit is returned when the transport refuses to start a
	// transmission. The receive expectation is dropped and nothing is retried.
	ErrTransmit = errors.New("transmit failed")

	// ErrReceiveTimeout is returned when no idle-line frame completed within
	// the command timeout. Reception is restarted before returning.
	ErrReceiveTimeout = errors.New("receive timeout")

	// ErrMarkerMismatch is returned when a response arrived but did not start
	// with the expected marker. See MismatchError for the raw response.
	ErrMarkerMismatch = errors.New("unexpected response marker")

	// ErrInvalidParameter is returned by setters given an invalid sentinel or
	// out-of-range value. No bytes are transmitted.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrUnexpectedValue is returned by getters when the module reports a
	// value outside the setting's range.
	ErrUnexpectedValue = errors.New("unexpected value in response")

	// ErrBusy is returned when a command is issued while another one is
	// still in flight. Callers must serialize commands.
	ErrBusy = errors.New("command already in flight")

	// ErrNotAlive is returned when the module does not answer the liveness
	// check within the startup poll budget after a reboot.
	ErrNotAlive = errors.New("module not responding after reboot")

	// ErrLoopRunning is returned when Loop is called while already running.
	ErrLoopRunning = errors.New("loop already running")

	// ErrTooLong is returned when a payload does not fit the transmit buffer.
	ErrTooLong = errors.New("payload exceeds transmit buffer")
)

// MismatchError carries the response that failed a marker check so callers
// can inspect it.
type MismatchError struct {
	Command  string
	Marker   string
	Response []byte
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected %q, got %q", e.Command, e.Marker, e.Response)
}

func (e *MismatchError) Unwrap() error { return ErrMarkerMismatch }
