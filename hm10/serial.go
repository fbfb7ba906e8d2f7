package hm10

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"i4.energy/across/hm10bridge/at"
)

// DefaultIdleGap is the read timeout that SerialDialer treats as an
// idle-line event.
const DefaultIdleGap = 20 * time.Millisecond

// SerialDialer opens a module over a serial port using go.bug.st/serial.
//
// The port has no idle-line interrupt on a host, so a read timeout after
// data has arrived stands in for it.
type SerialDialer struct {
	PortName string
	BaudRate at.Baudrate
	// IdleGap is the silence that ends a frame. Defaults to DefaultIdleGap.
	IdleGap time.Duration
	// Mode overrides the line settings. Its BaudRate is replaced by
	// BaudRate when that is valid.
	Mode *serial.Mode
}

func (s SerialDialer) Dial(ctx context.Context, n Notifier) (Transport, error) {
	if s.PortName == "" {
		return nil, errors.New("hm10: serial port name is required")
	}
	if ctx == nil {
		return nil, errors.New("hm10: context is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := serial.Mode{
		BaudRate: at.DefaultBaudrate.Value(),
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	if s.Mode != nil {
		mode = *s.Mode
	}
	if s.BaudRate.Valid() {
		mode.BaudRate = s.BaudRate.Value()
	}

	idle := s.IdleGap
	if idle <= 0 {
		idle = DefaultIdleGap
	}

	port, err := serial.Open(s.PortName, &mode)
	if err != nil {
		return nil, fmt.Errorf("hm10: open %s: %w", s.PortName, err)
	}
	if err := port.SetReadTimeout(idle); err != nil {
		port.Close()
		return nil, fmt.Errorf("hm10: set read timeout: %w", err)
	}

	return &serialTransport{port: port, mode: mode, notifier: n}, nil
}

// serialTransport emulates a DMA UART with idle-line detection on top of a
// blocking serial port.
type serialTransport struct {
	port     serial.Port
	notifier Notifier

	mu      sync.Mutex
	mode    serial.Mode
	sending bool
	stop    chan struct{}
	stopped chan struct{}
}

func (t *serialTransport) Transmit(p []byte) error {
	t.mu.Lock()
	if t.sending {
		t.mu.Unlock()
		return errors.New("transmission in progress")
	}
	t.sending = true
	t.mu.Unlock()

	// The caller may reuse p once its command gave up waiting
	buf := append([]byte(nil), p...)
	go func() {
		_, err := t.port.Write(buf)
		if err == nil {
			err = t.port.Drain()
		}
		t.mu.Lock()
		t.sending = false
		t.mu.Unlock()
		if err != nil {
			t.notifier.TransportError(fmt.Errorf("write: %w", err))
			return
		}
		t.notifier.TransmitCompleted()
	}()
	return nil
}

func (t *serialTransport) Receive(region []byte) error {
	if len(region) == 0 {
		return errors.New("empty receive region")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return errors.New("reception already running")
	}
	t.stop = make(chan struct{})
	t.stopped = make(chan struct{})
	go t.rxLoop(region, t.stop, t.stopped)
	return nil
}

// rxLoop copies incoming bytes into region at a wrapping cursor, like a
// circular DMA channel, and reports an idle event whenever a read times out
// after data arrived.
func (t *serialTransport) rxLoop(region []byte, stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	buf := make([]byte, len(region))
	cursor := 0
	pending := false
	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if err != nil {
			var perr *serial.PortError
			if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
				return
			}
			// Reception stays down until the next AbortReceive/Receive cycle
			t.notifier.TransportError(fmt.Errorf("read: %w", err))
			return
		}
		if n == 0 {
			if pending {
				pending = false
				t.notifier.ReceiveIdle(len(region) - cursor)
			}
			continue
		}
		for _, b := range buf[:n] {
			region[cursor] = b
			cursor = (cursor + 1) % len(region)
		}
		pending = true
	}
}

func (t *serialTransport) AbortReceive() error {
	t.mu.Lock()
	stop, stopped := t.stop, t.stopped
	t.stop, t.stopped = nil, nil
	t.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-stopped
	return t.port.ResetInputBuffer()
}

func (t *serialTransport) SetBaudRate(rate at.Baudrate) error {
	if !rate.Valid() {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, uint8(rate))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	mode := t.mode
	mode.BaudRate = rate.Value()
	if err := t.port.SetMode(&mode); err != nil {
		return err
	}
	t.mode = mode
	return nil
}

func (t *serialTransport) Close() error {
	return t.port.Close()
}
