package hm10

import (
	"context"

	"i4.energy/across/hm10bridge/at"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=hm10

// Notifier receives the transport's completion events. Its methods are
// called from the transport's own goroutine, the equivalent of interrupt
// context, and must return quickly.
type Notifier interface {
	// TransmitCompleted reports that the last Transmit finished on the wire.
	TransmitCompleted()
	// ReceiveIdle reports an idle-line gap. remaining is the number of bytes
	// the transport can still write before its cursor wraps to the start of
	// the receive region.
	ReceiveIdle(remaining int)
	// TransportError reports a line error such as framing or overrun.
	TransportError(err error)
}

// Transport is an asynchronous byte link to an HM-10 module.
//
// A Transport writes received bytes into the region handed to Receive in
// circular fashion. It owns no other driver state.
type Transport interface {
	// Transmit starts sending p and returns immediately. Completion is
	// reported through Notifier.TransmitCompleted once per accepted call,
	// even when the caller stopped waiting for it; a failed write is
	// reported through Notifier.TransportError instead. p may be reused as
	// soon as Transmit returns.
	Transmit(p []byte) error
	// Receive starts continuous circular reception into region.
	Receive(region []byte) error
	// AbortReceive stops reception. The write cursor restarts at the
	// beginning of the region on the next Receive.
	AbortReceive() error
	// SetBaudRate reprograms the local UART. It is synchronous.
	SetBaudRate(rate at.Baudrate) error
	// Close releases the link.
	Close() error
}

// Dialer opens a Transport to a module.
//
// Dialer abstracts how the connection is created (serial port, scripted
// test double) and is used during Device construction only.
type Dialer interface {
	// Dial creates a connected Transport that reports its events to n. It
	// should respect cancellation and deadlines provided by the context.
	Dial(ctx context.Context, n Notifier) (Transport, error)
}
