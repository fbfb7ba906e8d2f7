package hm10

import (
	"fmt"
	"log/slog"
	"time"

	"i4.energy/across/hm10bridge/at"
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	if !c.BaudRate.Valid() {
		return fmt.Errorf("%w: baud rate", ErrInvalidParameter)
	}
	if c.RegionSize <= 0 {
		return fmt.Errorf("%w: receive region of %d bytes", ErrInvalidParameter, c.RegionSize)
	}
	if c.TxBufferSize < at.WakeLength {
		return fmt.Errorf("%w: transmit buffer of %d bytes cannot hold a wake sequence", ErrInvalidParameter, c.TxBufferSize)
	}
	if c.CommandTimeout <= 0 || c.AliveTimeout <= 0 || c.InitTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidParameter)
	}
	if c.RebootSettle < 0 || c.AlivePollInterval < 0 {
		return fmt.Errorf("%w: reboot polling delays must not be negative", ErrInvalidParameter)
	}
	// Reboot polling must stay bounded even without a context deadline
	if c.MaxAlivePolls <= 0 {
		return fmt.Errorf("%w: %d alive polls", ErrInvalidParameter, c.MaxAlivePolls)
	}
	return nil
}

// Config holds the driver settings. Use NewConfigBuilder to obtain one with
// defaults applied.
type Config struct {
	Dialer Dialer
	Logger *slog.Logger

	// BaudRate is the rate the local UART is configured for when dialing.
	BaudRate at.Baudrate

	// RegionSize is the capacity of the circular receive region.
	RegionSize int
	// TxBufferSize bounds every formatted command and data payload.
	TxBufferSize int

	// CommandTimeout bounds a single command transaction.
	CommandTimeout time.Duration
	// AliveTimeout bounds the AT liveness check.
	AliveTimeout time.Duration
	// InitTimeout bounds the startup liveness polling in New.
	InitTimeout time.Duration

	// RebootSettle is waited after AT+RESET before polling for liveness.
	RebootSettle time.Duration
	// AlivePollInterval is the pause between liveness polls after a reboot.
	AlivePollInterval time.Duration
	// MaxAlivePolls bounds the liveness polls after a reboot.
	MaxAlivePolls int

	// DeferCallbacks hands unsolicited events to Loop instead of running
	// callbacks in the transport's notification context.
	DeferCallbacks bool
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RegionSize == 0 {
		c.RegionSize = 128
	}
	if c.TxBufferSize == 0 {
		c.TxBufferSize = 128
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 500 * time.Millisecond
	}
	if c.AliveTimeout == 0 {
		c.AliveTimeout = 100 * time.Millisecond
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 5 * time.Second
	}
	if c.RebootSettle == 0 {
		c.RebootSettle = 500 * time.Millisecond
	}
	if c.AlivePollInterval == 0 {
		c.AlivePollInterval = 100 * time.Millisecond
	}
	if c.MaxAlivePolls == 0 {
		c.MaxAlivePolls = 50
	}
}

// ConfigBuilder assembles a Config step by step.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: Config{BaudRate: at.DefaultBaudrate}}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithBaudRate(rate at.Baudrate) *ConfigBuilder {
	b.config.BaudRate = rate
	return b
}

func (b *ConfigBuilder) WithRegionSize(n int) *ConfigBuilder {
	b.config.RegionSize = n
	return b
}

func (b *ConfigBuilder) WithTxBufferSize(n int) *ConfigBuilder {
	b.config.TxBufferSize = n
	return b
}

func (b *ConfigBuilder) WithCommandTimeout(d time.Duration) *ConfigBuilder {
	b.config.CommandTimeout = d
	return b
}

func (b *ConfigBuilder) WithAliveTimeout(d time.Duration) *ConfigBuilder {
	b.config.AliveTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

// WithRebootPolling sets how a reboot waits for the module to come back.
func (b *ConfigBuilder) WithRebootPolling(settle, interval time.Duration, maxPolls int) *ConfigBuilder {
	b.config.RebootSettle = settle
	b.config.AlivePollInterval = interval
	b.config.MaxAlivePolls = maxPolls
	return b
}

func (b *ConfigBuilder) WithDeferredCallbacks() *ConfigBuilder {
	b.config.DeferCallbacks = true
	return b
}

// Build applies defaults and validates the result.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.setDefaults()
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
