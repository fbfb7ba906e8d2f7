// Package profile describes the desired settings of an HM-10 module in YAML
// and applies them through the driver.
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"i4.energy/across/hm10bridge/at"
)

// Profile holds the module settings to enforce. Unset fields leave the
// module's current setting alone.
type Profile struct {
	Name     string `yaml:"name"`
	Role     string `yaml:"role"` // "peripheral" or "central"
	Password string `yaml:"password"`
	// BaudRate in bits per second. A change is applied by rebooting.
	BaudRate int `yaml:"baud_rate"`

	Advertising AdvertisingProfile `yaml:"advertising"`
	Connection  ConnectionProfile  `yaml:"connection"`

	Notify            *bool `yaml:"notify"`
	NotifyWithAddress *bool `yaml:"notify_with_address"`
	OutputPower       *int  `yaml:"output_power"`
	HighPower         *bool `yaml:"high_power"`
	AutoSleep         *bool `yaml:"auto_sleep"`

	ServiceUUID    *uint16 `yaml:"service_uuid"`
	Characteristic *uint16 `yaml:"characteristic"`

	// Whitelist enables the whitelist with up to three master addresses.
	Whitelist []string `yaml:"whitelist"`

	// Reboot restarts the module after applying so that settings which
	// only take effect on startup become active.
	Reboot bool `yaml:"reboot"`
}

// AdvertisingProfile holds advertising settings.
type AdvertisingProfile struct {
	Interval *int `yaml:"interval"` // AT+ADVI code 0-15
	Type     *int `yaml:"type"`     // AT+ADTY code 0-3
}

// ConnectionProfile holds the connection parameters requested from the master.
type ConnectionProfile struct {
	MinInterval        *int `yaml:"min_interval"`
	MaxInterval        *int `yaml:"max_interval"`
	SlaveLatency       *int `yaml:"slave_latency"`
	SupervisionTimeout *int `yaml:"supervision_timeout"`
}

// Applier is the part of the driver a profile is applied through.
// *hm10.Device implements it.
type Applier interface {
	SetName(ctx context.Context, name string) error
	SetRole(ctx context.Context, r at.Role) error
	SetPassword(ctx context.Context, pin string) error
	SetAdvertisingInterval(ctx context.Context, interval at.AdvertInterval) error
	SetAdvertisingType(ctx context.Context, t at.AdvertType) error
	SetMinConnInterval(ctx context.Context, c at.ConnInterval) error
	SetMaxConnInterval(ctx context.Context, c at.ConnInterval) error
	SetSlaveLatency(ctx context.Context, l at.SlaveLatency) error
	SetSupervisionTimeout(ctx context.Context, s at.SupervisionTimeout) error
	SetNotify(ctx context.Context, on bool) error
	SetNotifyWithAddress(ctx context.Context, on bool) error
	SetOutputPower(ctx context.Context, p at.OutputPower) error
	SetHighPower(ctx context.Context, on bool) error
	SetAutoSleep(ctx context.Context, on bool) error
	SetServiceUUID(ctx context.Context, uuid uint16) error
	SetCharacteristic(ctx context.Context, uuid uint16) error
	SetWhitelist(ctx context.Context, on bool) error
	SetWhitelistEntry(ctx context.Context, slot int, mac string) error
	SetBaudRate(ctx context.Context, rate at.Baudrate, rebootNow, waitForStartup bool) error
	Reboot(ctx context.Context, waitForStartup bool) error
}

// Load reads and parses a YAML profile file and validates it.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML profile. Unknown keys are rejected so that typos do
// not silently leave a setting untouched.
func Parse(data []byte) (*Profile, error) {
	p := &Profile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the profile for values the module would reject.
func (p *Profile) Validate() error {
	if len(p.Name) > at.MaxNameLength {
		return fmt.Errorf("name must be at most %d characters, got %q", at.MaxNameLength, p.Name)
	}
	if _, err := p.role(); err != nil {
		return err
	}
	if p.Password != "" && (len(p.Password) != at.PasswordLength || !digits(p.Password)) {
		return fmt.Errorf("password must be %d digits", at.PasswordLength)
	}
	if p.BaudRate != 0 && !at.ParseBaudrate(p.BaudRate).Valid() {
		return fmt.Errorf("baud_rate %d is not supported", p.BaudRate)
	}
	if v := p.Advertising.Interval; v != nil && !validCode(*v, func(i int) bool { return at.AdvertInterval(i).Valid() }) {
		return fmt.Errorf("advertising.interval %d out of range", *v)
	}
	if v := p.Advertising.Type; v != nil && !validCode(*v, func(i int) bool { return at.AdvertType(i).Valid() }) {
		return fmt.Errorf("advertising.type %d out of range", *v)
	}
	if v := p.Connection.MinInterval; v != nil && !validCode(*v, func(i int) bool { return at.ConnInterval(i).Valid() }) {
		return fmt.Errorf("connection.min_interval %d out of range", *v)
	}
	if v := p.Connection.MaxInterval; v != nil && !validCode(*v, func(i int) bool { return at.ConnInterval(i).Valid() }) {
		return fmt.Errorf("connection.max_interval %d out of range", *v)
	}
	if v := p.Connection.SlaveLatency; v != nil && !validCode(*v, func(i int) bool { return at.SlaveLatency(i).Valid() }) {
		return fmt.Errorf("connection.slave_latency %d out of range", *v)
	}
	if v := p.Connection.SupervisionTimeout; v != nil && !validCode(*v, func(i int) bool { return at.SupervisionTimeout(i).Valid() }) {
		return fmt.Errorf("connection.supervision_timeout %d out of range", *v)
	}
	if v := p.OutputPower; v != nil && !validCode(*v, func(i int) bool { return at.OutputPower(i).Valid() }) {
		return fmt.Errorf("output_power %d out of range", *v)
	}
	if len(p.Whitelist) > 3 {
		return fmt.Errorf("whitelist holds at most 3 addresses, got %d", len(p.Whitelist))
	}
	return nil
}

func (p *Profile) role() (at.Role, error) {
	switch p.Role {
	case "":
		return at.RoleInvalid, nil
	case "peripheral":
		return at.RolePeripheral, nil
	case "central":
		return at.RoleCentral, nil
	default:
		return at.RoleInvalid, fmt.Errorf("role must be \"peripheral\" or \"central\", got %q", p.Role)
	}
}

// Apply writes every set field to the module. A baud rate change and the
// Reboot option restart the module once at the end and wait for it.
func (p *Profile) Apply(ctx context.Context, a Applier) error {
	if err := p.Validate(); err != nil {
		return err
	}

	steps := []struct {
		name string
		set  bool
		fn   func() error
	}{
		{"name", p.Name != "", func() error { return a.SetName(ctx, p.Name) }},
		{"role", p.Role != "", func() error {
			r, _ := p.role()
			return a.SetRole(ctx, r)
		}},
		{"password", p.Password != "", func() error { return a.SetPassword(ctx, p.Password) }},
		{"advertising.interval", p.Advertising.Interval != nil, func() error {
			return a.SetAdvertisingInterval(ctx, at.AdvertInterval(*p.Advertising.Interval))
		}},
		{"advertising.type", p.Advertising.Type != nil, func() error {
			return a.SetAdvertisingType(ctx, at.AdvertType(*p.Advertising.Type))
		}},
		{"connection.min_interval", p.Connection.MinInterval != nil, func() error {
			return a.SetMinConnInterval(ctx, at.ConnInterval(*p.Connection.MinInterval))
		}},
		{"connection.max_interval", p.Connection.MaxInterval != nil, func() error {
			return a.SetMaxConnInterval(ctx, at.ConnInterval(*p.Connection.MaxInterval))
		}},
		{"connection.slave_latency", p.Connection.SlaveLatency != nil, func() error {
			return a.SetSlaveLatency(ctx, at.SlaveLatency(*p.Connection.SlaveLatency))
		}},
		{"connection.supervision_timeout", p.Connection.SupervisionTimeout != nil, func() error {
			return a.SetSupervisionTimeout(ctx, at.SupervisionTimeout(*p.Connection.SupervisionTimeout))
		}},
		{"notify", p.Notify != nil, func() error { return a.SetNotify(ctx, *p.Notify) }},
		{"notify_with_address", p.NotifyWithAddress != nil, func() error { return a.SetNotifyWithAddress(ctx, *p.NotifyWithAddress) }},
		{"output_power", p.OutputPower != nil, func() error { return a.SetOutputPower(ctx, at.OutputPower(*p.OutputPower)) }},
		{"high_power", p.HighPower != nil, func() error { return a.SetHighPower(ctx, *p.HighPower) }},
		{"auto_sleep", p.AutoSleep != nil, func() error { return a.SetAutoSleep(ctx, *p.AutoSleep) }},
		{"service_uuid", p.ServiceUUID != nil, func() error { return a.SetServiceUUID(ctx, *p.ServiceUUID) }},
		{"characteristic", p.Characteristic != nil, func() error { return a.SetCharacteristic(ctx, *p.Characteristic) }},
		{"whitelist", len(p.Whitelist) > 0, func() error {
			for i, mac := range p.Whitelist {
				if err := a.SetWhitelistEntry(ctx, i+1, mac); err != nil {
					return err
				}
			}
			return a.SetWhitelist(ctx, true)
		}},
	}

	for _, step := range steps {
		if !step.set {
			continue
		}
		if err := step.fn(); err != nil {
			return fmt.Errorf("apply %s: %w", step.name, err)
		}
	}

	if p.BaudRate != 0 {
		if err := a.SetBaudRate(ctx, at.ParseBaudrate(p.BaudRate), true, true); err != nil {
			return fmt.Errorf("apply baud_rate: %w", err)
		}
		return nil
	}
	if p.Reboot {
		if err := a.Reboot(ctx, true); err != nil {
			return fmt.Errorf("apply reboot: %w", err)
		}
	}
	return nil
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func validCode(v int, valid func(int) bool) bool {
	return v >= 0 && v < 0xFF && valid(v)
}
