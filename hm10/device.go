package hm10

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"i4.energy/across/hm10bridge/at"
)

// Device is an HM-10 BLE serial bridge module driven over an asynchronous
// Transport.
//
// A Device serves one owning goroutine: commands are synchronous and only
// one may be in flight at a time (a second concurrent command fails with
// ErrBusy). Transport notifications arrive on the transport's goroutine and
// run the framer and, for unsolicited messages, the dispatcher.
type Device struct {
	// transport provides the link to the module (serial port, test double)
	transport Transport
	// config contains the driver settings
	config Config
	logger *slog.Logger
	// framer rebuilds messages from the circular receive region
	framer *Framer

	closed      atomic.Bool
	loopRunning atomic.Bool

	// inFlight guards the one-transaction-at-a-time discipline
	inFlight atomic.Bool
	// expecting is set while a command waits for its reply; frames that
	// complete while it is clear are unsolicited
	expecting atomic.Bool
	txDone    chan struct{}
	rxDone    chan struct{}
	// staleTx counts abandoned transmissions whose completion is still
	// owed; those completions are swallowed instead of crediting the next
	// command
	staleTx atomic.Int32
	// rxMsg is the reply snapshot handed from ReceiveIdle to the waiter
	rxMsg []byte
	// txBuf holds formatted commands and payloads while the transport sends them
	txBuf []byte

	linkMu sync.Mutex
	link   LinkState

	connMu    sync.RWMutex
	connected bool
	mac       string

	cbMu         sync.RWMutex
	onData       func([]byte)
	onConnect    func(mac string)
	onDisconnect func()

	// events carries at most one unsolicited event to Loop when callbacks
	// are deferred
	events chan event
}

// New creates a Device with the given configuration. It dials the
// transport, starts reception and polls the module until it answers the
// liveness check or the init timeout expires.
func New(ctx context.Context, config Config) (*Device, error) {
	if config.Dialer == nil {
		return nil, ErrNoDialer
	}
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	d := &Device{
		config: config,
		logger: config.Logger.With("component", "hm10"),
		framer: NewFramer(config.RegionSize),
		txDone: make(chan struct{}, 1),
		rxDone: make(chan struct{}, 1),
		txBuf:  make([]byte, config.TxBufferSize),
		link:   LinkState{Current: config.BaudRate, Pending: config.BaudRate},
		events: make(chan event, 1),
	}

	transport, err := config.Dialer.Dial(ctx, d)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}
	d.transport = transport

	if err := transport.Receive(d.framer.Region()); err != nil {
		transport.Close()
		return nil, fmt.Errorf("start reception: %w", err)
	}

	initCtx := ctx
	if config.InitTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.InitTimeout)
		defer cancel()
	}

	if err := d.waitAlive(initCtx, 0); err != nil {
		transport.AbortReceive()
		transport.Close()
		return nil, fmt.Errorf("initialize module: %w", err)
	}

	d.logger.Info("Module ready", "baud", config.BaudRate)
	return d, nil
}

// Close stops reception and closes the transport. After Close the Device
// cannot be reused.
func (d *Device) Close() error {
	if !d.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	if d.transport == nil {
		return nil
	}
	if err := d.transport.AbortReceive(); err != nil {
		d.logger.Warn("Failed to abort reception", "error", err)
	}
	return d.transport.Close()
}

func (d *Device) ready() error {
	if d.closed.Load() {
		return ErrAlreadyClosed
	}
	if d.transport == nil {
		return ErrNotInitialized
	}
	return nil
}

// TransmitCompleted implements Notifier.
func (d *Device) TransmitCompleted() {
	if d.takeStale() {
		d.logger.Debug("Late transmit completion ignored")
		return
	}
	signal(d.txDone)
}

// takeStale consumes one owed completion, if any.
func (d *Device) takeStale() bool {
	for {
		n := d.staleTx.Load()
		if n <= 0 {
			return false
		}
		if d.staleTx.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// ReceiveIdle implements Notifier. It reconstructs the frame that ended at
// the idle gap and hands it either to the waiting command or, when no
// command is outstanding, to the dispatcher. A frame that completes a
// command is never dispatched, even when it is OK+CONN or OK+LOST; the
// caller sees it as a *MismatchError.
func (d *Device) ReceiveIdle(remaining int) {
	msg, err := d.framer.Complete(remaining)
	if err != nil {
		d.logger.Warn("Dropping frame", "error", err)
		return
	}
	d.logger.Debug("RX", "message", string(msg), "length", len(msg))

	if d.expecting.CompareAndSwap(true, false) {
		d.rxMsg = append(d.rxMsg[:0], msg...)
		signal(d.rxDone)
		return
	}
	d.dispatch(at.Classify(msg), msg)
}

// TransportError implements Notifier. Line errors are only logged.
func (d *Device) TransportError(err error) {
	d.logger.Warn("UART error", "error", err)
}

// LastMessage returns a copy of the most recently framed message, which is
// useful to inspect a reply that failed its marker check.
func (d *Device) LastMessage() []byte {
	return d.framer.Message()
}

// Exchange transmits cmd verbatim and waits up to timeout for both the
// transmit completion and the next framed message, which it returns.
func (d *Device) Exchange(ctx context.Context, cmd []byte, timeout time.Duration) ([]byte, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer d.inFlight.Store(false)

	msg, _, err := d.exchange(ctx, cmd, timeout, true)
	return msg, err
}

// Check formats a command into the bounded transmit buffer, runs the
// transaction and verifies that the reply starts with marker. On a mismatch
// the reply is returned together with a *MismatchError.
func (d *Device) Check(ctx context.Context, marker string, timeout time.Duration, format string, args ...any) ([]byte, error) {
	if err := d.ready(); err != nil {
		return nil, err
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer d.inFlight.Store(false)

	n := at.Format(d.txBuf, format, args...)
	cmd := d.txBuf[:n]
	msg, _, err := d.exchange(ctx, cmd, timeout, true)
	if err != nil {
		return nil, err
	}
	if !at.HasMarker(msg, marker) {
		return msg, &MismatchError{Command: string(cmd), Marker: marker, Response: msg}
	}
	return msg, nil
}

// check runs Check with the configured command timeout.
func (d *Device) check(ctx context.Context, marker string, format string, args ...any) ([]byte, error) {
	return d.Check(ctx, marker, d.config.CommandTimeout, format, args...)
}

// exchange performs one transaction. The caller holds inFlight. sent
// reports whether the transport confirmed the transmission, which matters
// to callers for whom the reply is optional.
func (d *Device) exchange(ctx context.Context, cmd []byte, timeout time.Duration, expectReply bool) (msg []byte, sent bool, err error) {
	drain(d.txDone)
	drain(d.rxDone)
	d.expecting.Store(expectReply)

	d.logger.Debug("TX", "command", string(cmd), "length", len(cmd))
	if err := d.transport.Transmit(cmd); err != nil {
		d.expecting.Store(false)
		return nil, false, fmt.Errorf("%w %q: %w", ErrTransmit, cmd, err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	received := !expectReply
	for !sent || !received {
		select {
		case <-d.txDone:
			sent = true
		case <-d.rxDone:
			received = true
			msg = append([]byte(nil), d.rxMsg...)
		case <-timer.C:
			sent = d.abandon(expectReply, sent)
			if !sent {
				return nil, false, fmt.Errorf("%w after %v: %q was not transmitted", ErrReceiveTimeout, timeout, cmd)
			}
			return nil, true, fmt.Errorf("%w after %v: no reply to %q", ErrReceiveTimeout, timeout, cmd)
		case <-ctx.Done():
			sent = d.abandon(expectReply, sent)
			return nil, sent, fmt.Errorf("command %q: %w", cmd, ctx.Err())
		}
	}
	return msg, true, nil
}

// abandon drops the receive expectation and, when a reply was expected,
// restarts reception so the next frame starts from a known position. A
// transmission that has not completed yet is recorded as owing its
// completion. abandon reports whether the transmission completed after all.
func (d *Device) abandon(expectReply, sent bool) bool {
	d.expecting.Store(false)
	if !sent {
		d.staleTx.Add(1)
		// The completion may have been signalled before it became owed
		select {
		case <-d.txDone:
			d.takeStale()
			sent = true
		default:
		}
	}
	if !expectReply {
		return sent
	}
	if err := d.transport.AbortReceive(); err != nil {
		d.logger.Warn("Failed to abort reception", "error", err)
	}
	d.framer.Reset()
	if err := d.transport.Receive(d.framer.Region()); err != nil {
		d.logger.Error("Failed to restart reception", "error", err)
	}
	return sent
}

// IsAlive sends AT and reports whether the module answered OK within the
// alive timeout.
func (d *Device) IsAlive(ctx context.Context) bool {
	return d.alive(ctx) == nil
}

func (d *Device) alive(ctx context.Context) error {
	_, err := d.Check(ctx, at.OK, d.config.AliveTimeout, at.CmdAt)
	return err
}

// waitAlive polls the liveness check until it succeeds. maxPolls of zero
// leaves the context as the only bound.
func (d *Device) waitAlive(ctx context.Context, maxPolls int) error {
	for attempt := 1; maxPolls <= 0 || attempt <= maxPolls; attempt++ {
		err := d.alive(ctx)
		if err == nil {
			return nil
		}
		// Fail fast on critical errors
		if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) {
			return fmt.Errorf("%w: %w", ErrNotAlive, err)
		}
		d.logger.Debug("Module not alive yet", "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotAlive, ctx.Err())
		case <-time.After(d.config.AlivePollInterval):
		}
	}
	return fmt.Errorf("%w after %d polls", ErrNotAlive, maxPolls)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func drain(ch chan struct{}) {
	select {
	case <-ch:
	default:
	}
}
