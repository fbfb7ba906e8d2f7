package hm10

import (
	"context"

	"i4.energy/across/hm10bridge/at"
)

// event is an unsolicited message after classification.
type event struct {
	kind at.MessageType
	mac  string
	data []byte
}

// OnData registers the callback for application payloads sent by the
// master. The slice is only valid during the call unless callbacks are
// deferred. It replaces any previous registration; nil unregisters.
//
// Callbacks run in the transport's notification context unless the Device
// was configured with deferred callbacks, so they must not block.
func (d *Device) OnData(fn func(data []byte)) {
	d.cbMu.Lock()
	d.onData = fn
	d.cbMu.Unlock()
}

// OnConnect registers the callback for a master connecting. It receives the
// master's 12 character MAC address.
func (d *Device) OnConnect(fn func(mac string)) {
	d.cbMu.Lock()
	d.onConnect = fn
	d.cbMu.Unlock()
}

// OnDisconnect registers the callback for the master disconnecting.
func (d *Device) OnDisconnect(fn func()) {
	d.cbMu.Lock()
	d.onDisconnect = fn
	d.cbMu.Unlock()
}

// Connected reports whether a master is connected.
func (d *Device) Connected() bool {
	d.connMu.RLock()
	defer d.connMu.RUnlock()
	return d.connected
}

// MasterMAC returns the connected master's MAC address, or "" when no
// master is connected.
func (d *Device) MasterMAC() string {
	d.connMu.RLock()
	defer d.connMu.RUnlock()
	return d.mac
}

// dispatch applies a classified message to the connection state and
// delivers it to exactly one callback.
func (d *Device) dispatch(kind at.MessageType, msg []byte) {
	ev := event{kind: kind, data: msg}

	switch kind {
	case at.TypeConnect:
		mac := at.String(msg, at.ConnMACOffset)
		if len(mac) > at.MACLength {
			mac = mac[:at.MACLength]
		}
		ev.mac = mac
		d.connMu.Lock()
		d.connected = true
		d.mac = mac
		d.connMu.Unlock()
		d.logger.Info("Master connected", "mac", mac)

	case at.TypeLost:
		d.connMu.Lock()
		d.connected = false
		d.mac = ""
		d.connMu.Unlock()
		d.logger.Info("Master disconnected")
	}

	if !d.config.DeferCallbacks {
		d.deliver(ev)
		return
	}

	ev.data = append([]byte(nil), msg...)
	select {
	case d.events <- ev:
	default:
		// The previous event has not been picked up by Loop yet
		d.logger.Warn("Dropping unsolicited message", "type", kind, "length", len(msg))
	}
}

func (d *Device) deliver(ev event) {
	d.cbMu.RLock()
	onData, onConnect, onDisconnect := d.onData, d.onConnect, d.onDisconnect
	d.cbMu.RUnlock()

	switch ev.kind {
	case at.TypeConnect:
		if onConnect != nil {
			onConnect(ev.mac)
		}
	case at.TypeLost:
		if onDisconnect != nil {
			onDisconnect()
		}
	default:
		if onData != nil {
			onData(ev.data)
		}
	}
}

// Loop delivers unsolicited events to the registered callbacks when the
// Device was configured with deferred callbacks. It runs until ctx is
// cancelled and must not be started twice.
//
// Usage:
//
//	dev, err := New(ctx, config)
//	if err != nil { return err }
//	go dev.Loop(ctx)
func (d *Device) Loop(ctx context.Context) error {
	if !d.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer d.loopRunning.Store(false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-d.events:
			d.deliver(ev)
		}
	}
}
