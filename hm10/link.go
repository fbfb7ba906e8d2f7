package hm10

import (
	"context"
	"errors"
	"fmt"
	"time"

	"i4.energy/across/hm10bridge/at"
)

// LinkPhase is the position of the baud/reboot state machine.
type LinkPhase int

const (
	PhaseStable          LinkPhase = iota // module and local UART agree on Current
	PhaseChangeRequested                  // module accepted a new rate, applied on next reboot
	PhaseRebooting                        // AT+RESET in progress
	PhaseVerifyingAlive                   // waiting for the module to answer after reboot
)

func (p LinkPhase) String() string {
	switch p {
	case PhaseChangeRequested:
		return "change-requested"
	case PhaseRebooting:
		return "rebooting"
	case PhaseVerifyingAlive:
		return "verifying-alive"
	default:
		return "stable"
	}
}

// LinkState describes the negotiated UART rate between the local port and
// the module.
type LinkState struct {
	// Current is the rate both sides use now.
	Current at.Baudrate
	// Pending is the rate the module switches to on its next reboot.
	Pending at.Baudrate
	// FactoryPending is set after AT+RENEW until the reboot applies the
	// factory default rate.
	FactoryPending bool
	Phase          LinkPhase
}

// LinkState returns a snapshot of the link state.
func (d *Device) LinkState() LinkState {
	d.linkMu.Lock()
	defer d.linkMu.Unlock()
	return d.link
}

func (d *Device) setPhase(p LinkPhase) {
	d.linkMu.Lock()
	d.link.Phase = p
	d.linkMu.Unlock()
}

// FactoryReset restores the module's factory settings with AT+RENEW and
// reboots it. The local UART follows the module back to the default rate.
func (d *Device) FactoryReset(ctx context.Context, waitForStartup bool) error {
	if _, err := d.check(ctx, at.MarkerRenew, at.CmdRenew); err != nil {
		return fmt.Errorf("factory reset: %w", err)
	}

	d.linkMu.Lock()
	d.link.FactoryPending = true
	d.linkMu.Unlock()

	return d.Reboot(ctx, waitForStartup)
}

// SetBaudRate asks the module to switch to rate on its next reboot. With
// rebootNow the module is rebooted right away and the local UART follows;
// otherwise both keep running at the current rate.
func (d *Device) SetBaudRate(ctx context.Context, rate at.Baudrate, rebootNow, waitForStartup bool) error {
	if !rate.Valid() {
		return fmt.Errorf("%w: baud rate %d", ErrInvalidParameter, uint8(rate))
	}
	if _, err := d.check(ctx, at.MarkerBaud, "%s%s", at.CmdBaud, rate.Code()); err != nil {
		return fmt.Errorf("set baud rate: %w", err)
	}

	d.linkMu.Lock()
	d.link.Pending = rate
	if rate != d.link.Current {
		d.link.Phase = PhaseChangeRequested
	}
	d.linkMu.Unlock()
	d.logger.Info("Baud rate change accepted", "rate", rate, "reboot", rebootNow)

	if !rebootNow {
		return nil
	}
	return d.Reboot(ctx, waitForStartup)
}

// Reboot resets the module with AT+RESET. Once the command has left the
// local UART, any pending rate (or the factory default after FactoryReset)
// is applied to the local UART so both sides come back at the same rate.
// With waitForStartup, Reboot then waits for the module to answer AT, within
// the configured poll budget.
func (d *Device) Reboot(ctx context.Context, waitForStartup bool) error {
	if err := d.ready(); err != nil {
		return err
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}

	d.setPhase(PhaseRebooting)
	n := at.Format(d.txBuf, at.CmdReset)
	// OK+RESET is sent at the old rate before the module restarts. It is
	// awaited so the local UART is not switched mid-reply, but not required.
	_, sent, err := d.exchange(ctx, d.txBuf[:n], d.config.CommandTimeout, true)
	d.inFlight.Store(false)
	if !sent {
		d.restorePhase()
		return fmt.Errorf("reboot: %w", err)
	}
	if err != nil && !errors.Is(err, ErrReceiveTimeout) {
		d.logger.Warn("Reset reply not received", "error", err)
	}

	if err := d.applyPendingBaud(); err != nil {
		d.restorePhase()
		return fmt.Errorf("reboot: reprogram local UART: %w", err)
	}

	if !waitForStartup {
		d.setPhase(PhaseStable)
		return nil
	}

	d.setPhase(PhaseVerifyingAlive)
	select {
	case <-ctx.Done():
		d.setPhase(PhaseStable)
		return fmt.Errorf("reboot: %w", ctx.Err())
	case <-time.After(d.config.RebootSettle):
	}

	err = d.waitAlive(ctx, d.config.MaxAlivePolls)
	d.setPhase(PhaseStable)
	if err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	d.logger.Info("Module rebooted", "baud", d.LinkState().Current)
	return nil
}

// applyPendingBaud reprograms the local UART to the rate the module comes
// back with.
func (d *Device) applyPendingBaud() error {
	d.linkMu.Lock()
	defer d.linkMu.Unlock()

	var target at.Baudrate
	switch {
	case d.link.FactoryPending:
		target = at.DefaultBaudrate
	case d.link.Pending != d.link.Current:
		target = d.link.Pending
	default:
		return nil
	}

	if err := d.transport.SetBaudRate(target); err != nil {
		return err
	}
	d.logger.Info("Local UART reprogrammed", "from", d.link.Current, "to", target)
	d.link.Current = target
	d.link.Pending = target
	d.link.FactoryPending = false
	return nil
}

func (d *Device) restorePhase() {
	d.linkMu.Lock()
	defer d.linkMu.Unlock()
	if d.link.Pending != d.link.Current || d.link.FactoryPending {
		d.link.Phase = PhaseChangeRequested
		return
	}
	d.link.Phase = PhaseStable
}
