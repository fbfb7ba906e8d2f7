package hm10_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"i4.energy/across/hm10bridge/at"
	"i4.energy/across/hm10bridge/hm10"
)

func TestSetBaudRateDeferred(t *testing.T) {
	for _, rate := range at.Baudrates() {
		t.Run(rate.String(), func(t *testing.T) {
			tr := hm10.NewTestTransport()
			cmd := at.CmdBaud + rate.Code()
			tr.Reply(cmd, at.MarkerBaud+rate.Code())
			d := newTestDevice(t, tr)

			if err := d.SetBaudRate(context.Background(), rate, false, false); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sent := tr.Sent(); !slices.Equal(sent, []string{cmd}) {
				t.Errorf("expected %q, got %q", cmd, sent)
			}
			if len(tr.BaudRates()) != 0 {
				t.Errorf("local UART must not change without reboot, got %v", tr.BaudRates())
			}

			state := d.LinkState()
			if state.Current != at.Baud9600 {
				t.Errorf("expected current rate 9600, got %v", state.Current)
			}
			if state.Pending != rate {
				t.Errorf("expected pending rate %v, got %v", rate, state.Pending)
			}
			expectedPhase := hm10.PhaseChangeRequested
			if rate == at.Baud9600 {
				expectedPhase = hm10.PhaseStable
			}
			if state.Phase != expectedPhase {
				t.Errorf("expected phase %v, got %v", expectedPhase, state.Phase)
			}
		})
	}
}

func TestSetBaudRateInvalid(t *testing.T) {
	tr := hm10.NewTestTransport()
	d := newTestDevice(t, tr)

	err := d.SetBaudRate(context.Background(), at.BaudInvalid, true, true)
	if !errors.Is(err, hm10.ErrInvalidParameter) {
		t.Errorf("expected ErrInvalidParameter, got: %v", err)
	}
	if len(tr.Sent()) != 0 {
		t.Errorf("nothing should be transmitted, got %q", tr.Sent())
	}
	if state := d.LinkState(); state.Pending != at.Baud9600 || state.Phase != hm10.PhaseStable {
		t.Errorf("link state must be unchanged, got %+v", state)
	}
}

func TestSetBaudRateRejected(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.Reply("AT+BAUD4", "ERROR")
	d := newTestDevice(t, tr)

	err := d.SetBaudRate(context.Background(), at.Baud115200, true, true)
	if !errors.Is(err, hm10.ErrMarkerMismatch) {
		t.Errorf("expected ErrMarkerMismatch, got: %v", err)
	}
	if state := d.LinkState(); state.Pending != at.Baud9600 {
		t.Errorf("pending rate must be unchanged, got %v", state.Pending)
	}
	for _, cmd := range tr.Sent() {
		if cmd == at.CmdReset {
			t.Error("a rejected rate must not reboot the module")
		}
	}
}

func TestSetBaudRateWithReboot(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.EmulateBaud(at.Baud9600)
	tr.Reply("AT+BAUD4", "OK+SET4")
	tr.Reply(at.CmdReset, at.MarkerReset)
	d := newTestDevice(t, tr)

	if err := d.SetBaudRate(context.Background(), at.Baud115200, true, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := tr.BaudRates(); !slices.Equal(got, []at.Baudrate{at.Baud115200}) {
		t.Errorf("expected local UART switched to 115200 once, got %v", got)
	}
	if tr.ModuleBaud() != at.Baud115200 {
		t.Errorf("expected module at 115200, got %v", tr.ModuleBaud())
	}
	state := d.LinkState()
	if state.Current != at.Baud115200 || state.Pending != at.Baud115200 || state.Phase != hm10.PhaseStable {
		t.Errorf("unexpected link state after reboot: %+v", state)
	}
	expected := []string{"AT+BAUD4", at.CmdReset, at.CmdAt}
	if sent := tr.Sent(); !slices.Equal(sent, expected) {
		t.Errorf("expected %q, got %q", expected, sent)
	}
}

func TestRebootWithoutRateChange(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.Reply(at.CmdReset, at.MarkerReset)
	d := newTestDevice(t, tr)

	if err := d.Reboot(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tr.BaudRates()) != 0 {
		t.Errorf("local UART must not be reprogrammed, got %v", tr.BaudRates())
	}
	if sent := tr.Sent(); !slices.Equal(sent, []string{at.CmdReset}) {
		t.Errorf("expected only AT+RESET without waiting, got %q", sent)
	}
}

func TestRebootReplyOptional(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.Reply("AT+BAUD3", "OK+SET3")
	tr.Reply(at.CmdReset, "")
	d := newTestDevice(t, tr)

	if err := d.SetBaudRate(context.Background(), at.Baud57600, false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := d.Reboot(context.Background(), false); err != nil {
		t.Fatalf("a missing OK+RESET must not fail the reboot: %v", err)
	}
	if got := tr.BaudRates(); !slices.Equal(got, []at.Baudrate{at.Baud57600}) {
		t.Errorf("expected pending rate applied, got %v", got)
	}
}

func TestRebootTransmitFailure(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.Reply("AT+BAUD2", "OK+SET2")
	d := newTestDevice(t, tr)

	if err := d.SetBaudRate(context.Background(), at.Baud38400, false, false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr.FailTransmit(errors.New("tx busy"))

	if err := d.Reboot(context.Background(), true); !errors.Is(err, hm10.ErrTransmit) {
		t.Errorf("expected ErrTransmit, got: %v", err)
	}
	if len(tr.BaudRates()) != 0 {
		t.Error("local UART must not change when AT+RESET was not sent")
	}
	if state := d.LinkState(); state.Phase != hm10.PhaseChangeRequested || state.Pending != at.Baud38400 {
		t.Errorf("pending change must survive a failed reboot, got %+v", state)
	}
}

func TestRebootNotAlive(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.Reply(at.CmdReset, at.MarkerReset)
	d := newTestDevice(t, tr, func(b *hm10.ConfigBuilder) {
		b.WithAliveTimeout(5*time.Millisecond).
			WithRebootPolling(time.Millisecond, time.Millisecond, 3)
	})
	tr.Reply(at.CmdAt, "")

	err := d.Reboot(context.Background(), true)
	if !errors.Is(err, hm10.ErrNotAlive) {
		t.Fatalf("expected ErrNotAlive, got: %v", err)
	}

	polls := 0
	for _, cmd := range tr.Sent() {
		if cmd == at.CmdAt {
			polls++
		}
	}
	if polls != 3 {
		t.Errorf("expected 3 liveness polls, got %d", polls)
	}
	if state := d.LinkState(); state.Phase != hm10.PhaseStable {
		t.Errorf("expected phase to settle, got %v", state.Phase)
	}
}

func TestRebootCancelled(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.Reply(at.CmdReset, at.MarkerReset)
	d := newTestDevice(t, tr, func(b *hm10.ConfigBuilder) {
		b.WithRebootPolling(time.Second, time.Millisecond, 3)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := d.Reboot(ctx, true); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got: %v", err)
	}
}

func TestFactoryReset(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.EmulateBaud(at.Baud115200)
	tr.Reply(at.CmdRenew, at.MarkerRenew)
	tr.Reply(at.CmdReset, at.MarkerReset)
	d := newTestDevice(t, tr, func(b *hm10.ConfigBuilder) { b.WithBaudRate(at.Baud115200) })

	if err := d.FactoryReset(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := tr.BaudRates(); !slices.Equal(got, []at.Baudrate{at.Baud9600}) {
		t.Errorf("expected local UART back at 9600, got %v", got)
	}
	if tr.ModuleBaud() != at.Baud9600 {
		t.Errorf("expected module back at 9600, got %v", tr.ModuleBaud())
	}
	state := d.LinkState()
	if state.Current != at.Baud9600 || state.FactoryPending || state.Phase != hm10.PhaseStable {
		t.Errorf("unexpected link state after factory reset: %+v", state)
	}
}

func TestFactoryResetRejected(t *testing.T) {
	tr := hm10.NewTestTransport()
	tr.Reply(at.CmdRenew, "ERROR")
	d := newTestDevice(t, tr)

	err := d.FactoryReset(context.Background(), true)
	if !errors.Is(err, hm10.ErrMarkerMismatch) {
		t.Errorf("expected ErrMarkerMismatch, got: %v", err)
	}
	if state := d.LinkState(); state.FactoryPending {
		t.Error("factory default must not be pending after a rejected AT+RENEW")
	}
	if sent := strings.Join(tr.Sent(), ","); strings.Contains(sent, at.CmdReset) {
		t.Errorf("no reboot expected, sent %s", sent)
	}
}

func TestLinkPhaseString(t *testing.T) {
	tests := map[hm10.LinkPhase]string{
		hm10.PhaseStable:          "stable",
		hm10.PhaseChangeRequested: "change-requested",
		hm10.PhaseRebooting:       "rebooting",
		hm10.PhaseVerifyingAlive:  "verifying-alive",
	}
	for phase, expected := range tests {
		if got := phase.String(); got != expected {
			t.Errorf("%d.String() = %q, expected %q", phase, got, expected)
		}
	}
}
