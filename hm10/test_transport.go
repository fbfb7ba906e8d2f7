package hm10

import (
	"context"
	"errors"
	"strings"
	"sync"

	"i4.energy/across/hm10bridge/at"
)

// TestTransport is a test helper that plays the module side of the link in
// memory. It is both the Dialer and the Transport. Replies are written into
// the receive region like a circular DMA channel would, followed by an idle
// event; notifications are delivered synchronously from Transmit and Inject.
type TestTransport struct {
	mu        sync.Mutex
	notifier  Notifier
	region    []byte
	cursor    int
	receiving bool
	closed    bool

	replies      map[string][]string
	sent         []string
	bauds        []at.Baudrate
	failTransmit error
	holdTx       bool
	heldTx       int

	// Rate emulation: replies are lost while local and module rates differ
	emulate       bool
	local         at.Baudrate
	module        at.Baudrate
	modulePending at.Baudrate
}

// NewTestTransport creates a transport whose module answers AT with OK.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		replies: map[string][]string{at.CmdAt: {at.OK}},
	}
}

func (t *TestTransport) Dial(ctx context.Context, n Notifier) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifier = n
	return t, nil
}

// Reply scripts the answers to cmd. Successive transmissions of cmd get
// successive replies and the last one repeats. An empty reply means the
// module stays silent.
func (t *TestTransport) Reply(cmd string, replies ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[cmd] = replies
}

// FailTransmit makes every following Transmit return err. nil restores
// normal operation.
func (t *TestTransport) FailTransmit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failTransmit = err
}

// HoldTransmitCompletion suppresses TransmitCompleted notifications, as if
// the line stalled. Releasing the hold reports the completions that were
// held back.
func (t *TestTransport) HoldTransmitCompletion(hold bool) {
	t.mu.Lock()
	t.holdTx = hold
	held, n := 0, t.notifier
	if !hold {
		held, t.heldTx = t.heldTx, 0
	}
	t.mu.Unlock()

	for ; held > 0 && n != nil; held-- {
		n.TransmitCompleted()
	}
}

// EmulateBaud makes the module track its own UART rate, starting at rate
// on both sides. AT+BAUD and AT+RENEW replies set the module's pending
// rate, AT+RESET applies it, and replies are lost while the local rate set
// through SetBaudRate differs from the module's.
func (t *TestTransport) EmulateBaud(rate at.Baudrate) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emulate = true
	t.local, t.module, t.modulePending = rate, rate, rate
}

// ModuleBaud returns the module's emulated rate.
func (t *TestTransport) ModuleBaud() at.Baudrate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.module
}

func (t *TestTransport) Transmit(p []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New("transport closed")
	}
	if t.failTransmit != nil {
		err := t.failTransmit
		t.mu.Unlock()
		return err
	}
	cmd := string(p)
	t.sent = append(t.sent, cmd)
	reply := t.next(cmd)
	understood := !t.emulate || t.local == t.module
	if !understood {
		reply = ""
	} else if t.emulate {
		t.emulateCommand(cmd, reply)
	}
	n, hold, emulate := t.notifier, t.holdTx, t.emulate
	if hold {
		t.heldTx++
	}
	t.mu.Unlock()

	if !hold && n != nil {
		n.TransmitCompleted()
	}
	if reply != "" {
		t.Inject(reply)
	}
	if emulate && understood && cmd == at.CmdReset {
		t.mu.Lock()
		t.module = t.modulePending
		t.mu.Unlock()
	}
	return nil
}

func (t *TestTransport) next(cmd string) string {
	queue, ok := t.replies[cmd]
	if !ok || len(queue) == 0 {
		return ""
	}
	reply := queue[0]
	if len(queue) > 1 {
		t.replies[cmd] = queue[1:]
	}
	return reply
}

func (t *TestTransport) emulateCommand(cmd, reply string) {
	switch {
	case strings.HasPrefix(cmd, at.CmdBaud) && reply != "" && !strings.HasSuffix(cmd, at.Query):
		b := at.Baudrate(cmd[len(at.CmdBaud)] - '0')
		if b.Valid() {
			t.modulePending = b
		}
	case cmd == at.CmdRenew && reply != "":
		t.modulePending = at.DefaultBaudrate
	}
}

// Inject delivers data as one frame from the module, as if it arrived
// unsolicited. Nothing happens while reception is stopped.
func (t *TestTransport) Inject(data string) {
	t.mu.Lock()
	if !t.receiving || len(t.region) == 0 {
		t.mu.Unlock()
		return
	}
	for i := 0; i < len(data); i++ {
		t.region[t.cursor] = data[i]
		t.cursor = (t.cursor + 1) % len(t.region)
	}
	remaining := len(t.region) - t.cursor
	n := t.notifier
	t.mu.Unlock()

	if n != nil {
		n.ReceiveIdle(remaining)
	}
}

func (t *TestTransport) Receive(region []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.receiving {
		return errors.New("reception already running")
	}
	t.region = region
	t.cursor = 0
	t.receiving = true
	return nil
}

func (t *TestTransport) AbortReceive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.receiving = false
	t.cursor = 0
	return nil
}

func (t *TestTransport) SetBaudRate(rate at.Baudrate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bauds = append(t.bauds, rate)
	t.local = rate
	return nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.receiving = false
	return nil
}

// Sent returns every transmission in order.
func (t *TestTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

// ClearSent forgets the recorded transmissions.
func (t *TestTransport) ClearSent() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}

// BaudRates returns every rate the local UART was reprogrammed to.
func (t *TestTransport) BaudRates() []at.Baudrate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]at.Baudrate(nil), t.bauds...)
}

func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
