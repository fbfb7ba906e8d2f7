package hm10

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"i4.energy/across/hm10bridge/at"
)

// getInt queries cmd and parses the numeric value of an OK+Get: reply.
func (d *Device) getInt(ctx context.Context, cmd string, base int) (int64, error) {
	msg, err := d.check(ctx, at.MarkerGet, "%s%s", cmd, at.Query)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", cmd, err)
	}
	v, err := at.Int(msg, at.GetValueOffset, base)
	if err != nil {
		return 0, fmt.Errorf("query %s: %w", cmd, err)
	}
	return v, nil
}

// getString queries cmd and extracts the text that follows marker.
func (d *Device) getString(ctx context.Context, marker, cmd string) (string, error) {
	msg, err := d.check(ctx, marker, "%s%s", cmd, at.Query)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", cmd, err)
	}
	return at.String(msg, len(marker)), nil
}

// code is an enumerated setting the module reports as a single number.
type code interface {
	~uint8
	Valid() bool
}

// getCode queries an enumerated setting. Values the enumeration does not
// define yield the invalid sentinel and ErrUnexpectedValue.
func getCode[T code](ctx context.Context, d *Device, cmd string, base int, invalid T) (T, error) {
	v, err := d.getInt(ctx, cmd, base)
	if err != nil {
		return invalid, err
	}
	if v < 0 || v > 0xFF || !T(v).Valid() {
		return invalid, fmt.Errorf("query %s: %w: code %d", cmd, ErrUnexpectedValue, v)
	}
	return T(v), nil
}

func (d *Device) getUUID(ctx context.Context, cmd string) (uint16, error) {
	v, err := d.getInt(ctx, cmd, 16)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 0xFFFF {
		return 0, fmt.Errorf("query %s: %w: UUID 0x%X", cmd, ErrUnexpectedValue, v)
	}
	return uint16(v), nil
}

// getFlag queries a 0/1 setting.
func (d *Device) getFlag(ctx context.Context, cmd string) (bool, error) {
	v, err := d.getInt(ctx, cmd, 10)
	if err != nil {
		return false, err
	}
	if v != 0 && v != 1 {
		return false, fmt.Errorf("query %s: %w: flag %d", cmd, ErrUnexpectedValue, v)
	}
	return v == 1, nil
}

// set writes value with cmd and expects an OK+Set reply.
func (d *Device) set(ctx context.Context, cmd, value string) error {
	if _, err := d.check(ctx, at.MarkerSet, "%s%s", cmd, value); err != nil {
		return fmt.Errorf("set %s: %w", cmd, err)
	}
	return nil
}

func invalid(what string, v any) error {
	return fmt.Errorf("%w: %s %v", ErrInvalidParameter, what, v)
}

func validMAC(mac string) bool {
	if len(mac) != at.MACLength {
		return false
	}
	for i := 0; i < len(mac); i++ {
		c := mac[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'F' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// BaudRate queries the rate the module is configured for. After a
// SetBaudRate without reboot this is the pending rate.
func (d *Device) BaudRate(ctx context.Context) (at.Baudrate, error) {
	return getCode(ctx, d, at.CmdBaud, 10, at.BaudInvalid)
}

// MACAddress returns the module's own MAC address as 12 hex characters.
func (d *Device) MACAddress(ctx context.Context) (string, error) {
	return d.getString(ctx, at.MarkerAddr, at.CmdAddr)
}

// SetMACAddress changes the module's MAC address. It takes effect after a
// reboot.
func (d *Device) SetMACAddress(ctx context.Context, mac string) error {
	if !validMAC(mac) {
		return invalid("MAC address", mac)
	}
	return d.set(ctx, at.CmdAddr, strings.ToUpper(mac))
}

func (d *Device) AdvertisingInterval(ctx context.Context) (at.AdvertInterval, error) {
	return getCode(ctx, d, at.CmdAdvInterval, 16, at.AdvertIntervalInvalid)
}

func (d *Device) SetAdvertisingInterval(ctx context.Context, interval at.AdvertInterval) error {
	if !interval.Valid() {
		return invalid("advertising interval", uint8(interval))
	}
	return d.set(ctx, at.CmdAdvInterval, interval.Code())
}

func (d *Device) AdvertisingType(ctx context.Context) (at.AdvertType, error) {
	return getCode(ctx, d, at.CmdAdvType, 10, at.AdvertTypeInvalid)
}

func (d *Device) SetAdvertisingType(ctx context.Context, t at.AdvertType) error {
	if !t.Valid() {
		return invalid("advertising type", uint8(t))
	}
	return d.set(ctx, at.CmdAdvType, fmt.Sprint(uint8(t)))
}

// Whitelist reports whether only whitelisted masters may connect.
func (d *Device) Whitelist(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, at.CmdWhitelist)
}

func (d *Device) SetWhitelist(ctx context.Context, on bool) error {
	return d.set(ctx, at.CmdWhitelist, at.Flag(on))
}

func whitelistCmd(slot int) (string, error) {
	if slot < 1 || slot > 3 {
		return "", invalid("whitelist slot", slot)
	}
	return fmt.Sprintf("%s%d", at.CmdWhitelistAD, slot), nil
}

// WhitelistEntry returns the MAC address stored in whitelist slot 1 to 3.
func (d *Device) WhitelistEntry(ctx context.Context, slot int) (string, error) {
	cmd, err := whitelistCmd(slot)
	if err != nil {
		return "", err
	}
	return d.getString(ctx, at.MarkerGet, cmd)
}

func (d *Device) SetWhitelistEntry(ctx context.Context, slot int, mac string) error {
	cmd, err := whitelistCmd(slot)
	if err != nil {
		return err
	}
	if !validMAC(mac) {
		return invalid("MAC address", mac)
	}
	return d.set(ctx, cmd, strings.ToUpper(mac))
}

func (d *Device) MinConnInterval(ctx context.Context) (at.ConnInterval, error) {
	return getCode(ctx, d, at.CmdMinConnInt, 10, at.ConnIntervalInvalid)
}

func (d *Device) SetMinConnInterval(ctx context.Context, c at.ConnInterval) error {
	if !c.Valid() {
		return invalid("minimum connection interval", uint8(c))
	}
	return d.set(ctx, at.CmdMinConnInt, fmt.Sprint(uint8(c)))
}

func (d *Device) MaxConnInterval(ctx context.Context) (at.ConnInterval, error) {
	return getCode(ctx, d, at.CmdMaxConnInt, 10, at.ConnIntervalInvalid)
}

func (d *Device) SetMaxConnInterval(ctx context.Context, c at.ConnInterval) error {
	if !c.Valid() {
		return invalid("maximum connection interval", uint8(c))
	}
	return d.set(ctx, at.CmdMaxConnInt, fmt.Sprint(uint8(c)))
}

func (d *Device) SlaveLatency(ctx context.Context) (at.SlaveLatency, error) {
	return getCode(ctx, d, at.CmdSlaveLat, 10, at.SlaveLatencyInvalid)
}

func (d *Device) SetSlaveLatency(ctx context.Context, l at.SlaveLatency) error {
	if !l.Valid() {
		return invalid("slave latency", uint8(l))
	}
	return d.set(ctx, at.CmdSlaveLat, fmt.Sprint(uint8(l)))
}

func (d *Device) SupervisionTimeout(ctx context.Context) (at.SupervisionTimeout, error) {
	return getCode(ctx, d, at.CmdSupervision, 10, at.SupervisionTimeoutInvalid)
}

func (d *Device) SetSupervisionTimeout(ctx context.Context, s at.SupervisionTimeout) error {
	if !s.Valid() {
		return invalid("supervision timeout", uint8(s))
	}
	return d.set(ctx, at.CmdSupervision, fmt.Sprint(uint8(s)))
}

// ConnUpdate reports whether the module asks the master to update the
// connection parameters after connecting.
func (d *Device) ConnUpdate(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, at.CmdConnUpdate)
}

func (d *Device) SetConnUpdate(ctx context.Context, on bool) error {
	return d.set(ctx, at.CmdConnUpdate, at.Flag(on))
}

// Characteristic returns the UUID of the data characteristic.
func (d *Device) Characteristic(ctx context.Context) (uint16, error) {
	return d.getUUID(ctx, at.CmdChar)
}

func (d *Device) SetCharacteristic(ctx context.Context, uuid uint16) error {
	if uuid == 0x0000 || uuid == 0xFFFF {
		return invalid("characteristic", fmt.Sprintf("0x%04X", uuid))
	}
	return d.set(ctx, at.CmdChar, fmt.Sprintf("0x%04X", uuid))
}

// Notify reports whether connect and disconnect notifications are sent
// over the UART.
func (d *Device) Notify(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, at.CmdNotify)
}

func (d *Device) SetNotify(ctx context.Context, on bool) error {
	return d.set(ctx, at.CmdNotify, at.Flag(on))
}

// NotifyWithAddress reports whether the connect notification carries the
// master's address.
func (d *Device) NotifyWithAddress(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, at.CmdNotifyAddr)
}

func (d *Device) SetNotifyWithAddress(ctx context.Context, on bool) error {
	return d.set(ctx, at.CmdNotifyAddr, at.Flag(on))
}

func (d *Device) Name(ctx context.Context) (string, error) {
	return d.getString(ctx, at.MarkerName, at.CmdName)
}

// SetName changes the advertised name, at most 12 printable characters.
func (d *Device) SetName(ctx context.Context, name string) error {
	if name == "" || len(name) > at.MaxNameLength || strings.ContainsAny(name, "\r\n\x00?") {
		return invalid("name", name)
	}
	return d.set(ctx, at.CmdName, name)
}

func (d *Device) OutputPower(ctx context.Context) (at.OutputPower, error) {
	return getCode(ctx, d, at.CmdPower, 10, at.OutputPowerInvalid)
}

func (d *Device) SetOutputPower(ctx context.Context, p at.OutputPower) error {
	if !p.Valid() {
		return invalid("output power", uint8(p))
	}
	return d.set(ctx, at.CmdPower, fmt.Sprint(uint8(p)))
}

// Password returns the 6 digit pairing PIN, leading zeros included.
func (d *Device) Password(ctx context.Context) (string, error) {
	return d.getString(ctx, at.MarkerGet, at.CmdPass)
}

func (d *Device) SetPassword(ctx context.Context, pin string) error {
	if len(pin) != at.PasswordLength || strings.Trim(pin, "0123456789") != "" {
		return invalid("password", pin)
	}
	return d.set(ctx, at.CmdPass, pin)
}

// HighPower reports whether the module power control is set to maximum
// instead of normal.
func (d *Device) HighPower(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, at.CmdPowerCtl)
}

func (d *Device) SetHighPower(ctx context.Context, on bool) error {
	return d.set(ctx, at.CmdPowerCtl, at.Flag(on))
}

// AutoSleep reports whether the module sleeps automatically. The module
// encodes auto sleep as 0.
func (d *Device) AutoSleep(ctx context.Context) (bool, error) {
	manual, err := d.getFlag(ctx, at.CmdAutoSleep)
	return !manual && err == nil, err
}

func (d *Device) SetAutoSleep(ctx context.Context, on bool) error {
	return d.set(ctx, at.CmdAutoSleep, at.Flag(!on))
}

func (d *Device) ReliableAdvertising(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, at.CmdReliable)
}

func (d *Device) SetReliableAdvertising(ctx context.Context, on bool) error {
	return d.set(ctx, at.CmdReliable, at.Flag(on))
}

func (d *Device) Role(ctx context.Context) (at.Role, error) {
	return getCode(ctx, d, at.CmdRole, 10, at.RoleInvalid)
}

func (d *Device) SetRole(ctx context.Context, r at.Role) error {
	if !r.Valid() {
		return invalid("role", uint8(r))
	}
	return d.set(ctx, at.CmdRole, fmt.Sprint(uint8(r)))
}

// Start makes a module in manual start mode begin working.
func (d *Device) Start(ctx context.Context) error {
	if _, err := d.check(ctx, at.MarkerStart, at.CmdStart); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// Sleep puts the module into sleep mode. Use Wake to bring it back.
func (d *Device) Sleep(ctx context.Context) error {
	if _, err := d.check(ctx, at.MarkerSleep, at.CmdSleep); err != nil {
		return fmt.Errorf("sleep: %w", err)
	}
	return nil
}

// Wake sends the long byte sequence that wakes a sleeping module.
func (d *Device) Wake(ctx context.Context) error {
	seq := string(bytes.Repeat([]byte{'I'}, at.WakeLength))
	if _, err := d.check(ctx, at.MarkerWake, "%s", seq); err != nil {
		return fmt.Errorf("wake: %w", err)
	}
	return nil
}

func (d *Device) BondMode(ctx context.Context) (at.BondMode, error) {
	return getCode(ctx, d, at.CmdBondType, 10, at.BondModeInvalid)
}

func (d *Device) SetBondMode(ctx context.Context, m at.BondMode) error {
	if !m.Valid() {
		return invalid("bond mode", uint8(m))
	}
	return d.set(ctx, at.CmdBondType, fmt.Sprint(uint8(m)))
}

// ServiceUUID returns the UUID of the module's GATT service.
func (d *Device) ServiceUUID(ctx context.Context) (uint16, error) {
	return d.getUUID(ctx, at.CmdUUID)
}

func (d *Device) SetServiceUUID(ctx context.Context, uuid uint16) error {
	if uuid == 0x0000 || uuid == 0xFFFF {
		return invalid("service UUID", fmt.Sprintf("0x%04X", uuid))
	}
	return d.set(ctx, at.CmdUUID, fmt.Sprintf("0x%04X", uuid))
}

// UARTSleep reports whether the UART is shut down while the module sleeps.
func (d *Device) UARTSleep(ctx context.Context) (bool, error) {
	return d.getFlag(ctx, at.CmdUARTSleep)
}

func (d *Device) SetUARTSleep(ctx context.Context, on bool) error {
	return d.set(ctx, at.CmdUARTSleep, at.Flag(on))
}

// AdvertisementData returns the custom advertisement payload.
func (d *Device) AdvertisementData(ctx context.Context) (string, error) {
	return d.getString(ctx, at.MarkerGet, at.CmdAdvData)
}

func (d *Device) SetAdvertisementData(ctx context.Context, data string) error {
	if data == "" || strings.ContainsAny(data, "\r\n\x00?") || len(at.CmdAdvData)+len(data) > len(d.txBuf) {
		return invalid("advertisement data", data)
	}
	return d.set(ctx, at.CmdAdvData, data)
}

// FirmwareVersion returns the module's version string, e.g. "HMSoft V605".
// The reply carries no marker.
func (d *Device) FirmwareVersion(ctx context.Context) (string, error) {
	msg, err := d.check(ctx, "", "%s%s", at.CmdVersion, at.Query)
	if err != nil {
		return "", fmt.Errorf("query %s: %w", at.CmdVersion, err)
	}
	v := at.String(msg, 0)
	if v == "" {
		return "", fmt.Errorf("query %s: %w", at.CmdVersion, &MismatchError{Command: at.CmdVersion + at.Query, Response: msg})
	}
	return v, nil
}

// Send transmits data to the connected master. It returns once the bytes
// left the local UART; no reply is expected.
func (d *Device) Send(ctx context.Context, data []byte) error {
	if len(data) > len(d.txBuf) {
		return fmt.Errorf("%w: %d > %d bytes", ErrTooLong, len(data), len(d.txBuf))
	}
	return d.transmit(ctx, func(buf []byte) int { return copy(buf, data) })
}

// Sendf formats a payload into the transmit buffer and sends it like Send.
// Output that does not fit is truncated; the returned count is what was
// actually sent.
func (d *Device) Sendf(ctx context.Context, format string, args ...any) (int, error) {
	var n int
	err := d.transmit(ctx, func(buf []byte) int {
		n = at.Format(buf, format, args...)
		return n
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (d *Device) transmit(ctx context.Context, fill func([]byte) int) error {
	if err := d.ready(); err != nil {
		return err
	}
	if !d.inFlight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer d.inFlight.Store(false)

	n := fill(d.txBuf)
	if _, _, err := d.exchange(ctx, d.txBuf[:n], d.config.CommandTimeout, false); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}
