package at

import "fmt"

// Baudrate is the module's UART rate, stored as the digit AT+BAUD uses on
// the wire.
type Baudrate uint8

const (
	Baud9600   Baudrate = 0
	Baud19200  Baudrate = 1
	Baud38400  Baudrate = 2
	Baud57600  Baudrate = 3
	Baud115200 Baudrate = 4
	Baud4800   Baudrate = 5
	Baud2400   Baudrate = 6
	Baud1200   Baudrate = 7
	Baud230400 Baudrate = 8

	// BaudInvalid is never sent to the module.
	BaudInvalid Baudrate = 0xFF

	// DefaultBaudrate is what the module runs at after a factory reset.
	DefaultBaudrate = Baud9600
)

var baudValues = [...]int{9600, 19200, 38400, 57600, 115200, 4800, 2400, 1200, 230400}

func (b Baudrate) Valid() bool { return int(b) < len(baudValues) }

// Value returns the rate in bits per second, or 0 for an invalid rate.
func (b Baudrate) Value() int {
	if !b.Valid() {
		return 0
	}
	return baudValues[b]
}

// Code returns the AT+BAUD parameter digit.
func (b Baudrate) Code() string { return fmt.Sprintf("%d", uint8(b)) }

func (b Baudrate) String() string {
	if !b.Valid() {
		return "invalid"
	}
	return fmt.Sprintf("%d", b.Value())
}

// ParseBaudrate maps a rate in bits per second to its Baudrate. Unknown rates
// yield BaudInvalid.
func ParseBaudrate(bps int) Baudrate {
	for i, v := range baudValues {
		if v == bps {
			return Baudrate(i)
		}
	}
	return BaudInvalid
}

// Baudrates lists every valid rate in code order.
func Baudrates() []Baudrate {
	out := make([]Baudrate, len(baudValues))
	for i := range baudValues {
		out[i] = Baudrate(i)
	}
	return out
}

// AdvertInterval is the AT+ADVI code, 0x0 (100ms) to 0xF (7000ms).
type AdvertInterval uint8

const AdvertIntervalInvalid AdvertInterval = 0xFF

var advertIntervalMillis = [...]int{100, 152, 211, 318, 417, 546, 760, 852, 1022, 1285, 2000, 3000, 4000, 5000, 6000, 7000}

func (a AdvertInterval) Valid() bool { return int(a) < len(advertIntervalMillis) }

// Millis returns the interval in milliseconds.
func (a AdvertInterval) Millis() int {
	if !a.Valid() {
		return 0
	}
	return advertIntervalMillis[a]
}

// Code returns the single hex digit used on the wire.
func (a AdvertInterval) Code() string { return fmt.Sprintf("%X", uint8(a)) }

type AdvertType uint8

const (
	AdvertAll         AdvertType = 0 // advertising, scan response, connectable
	AdvertLastDevice  AdvertType = 1 // only the last bonded device may connect within 1.28s
	AdvertScanOnly    AdvertType = 2 // advertising and scan response only
	AdvertNonConnect  AdvertType = 3 // advertising only
	AdvertTypeInvalid AdvertType = 0xFF
)

func (a AdvertType) Valid() bool { return a <= AdvertNonConnect }

// ConnInterval is the AT+COMI/AT+COMA code.
type ConnInterval uint8

const ConnIntervalInvalid ConnInterval = 0xFF

var connIntervalMicros = [...]int{7500, 10000, 15000, 20000, 25000, 30000, 35000, 40000, 45000, 4000000}

func (c ConnInterval) Valid() bool { return int(c) < len(connIntervalMicros) }

// Micros returns the interval in microseconds.
func (c ConnInterval) Micros() int {
	if !c.Valid() {
		return 0
	}
	return connIntervalMicros[c]
}

// SlaveLatency is the AT+COLA value, 0 to 4 skipped connection events.
type SlaveLatency uint8

const SlaveLatencyInvalid SlaveLatency = 0xFF

func (s SlaveLatency) Valid() bool { return s <= 4 }

// SupervisionTimeout is the AT+COSU code.
type SupervisionTimeout uint8

const SupervisionTimeoutInvalid SupervisionTimeout = 0xFF

var supervisionMillis = [...]int{100, 1000, 2000, 3000, 4000, 5000, 6000}

func (s SupervisionTimeout) Valid() bool { return int(s) < len(supervisionMillis) }

func (s SupervisionTimeout) Millis() int {
	if !s.Valid() {
		return 0
	}
	return supervisionMillis[s]
}

type OutputPower uint8

const (
	PowerMinus23dBm    OutputPower = 0
	PowerMinus6dBm     OutputPower = 1
	Power0dBm          OutputPower = 2
	Power6dBm          OutputPower = 3
	OutputPowerInvalid OutputPower = 0xFF
)

func (p OutputPower) Valid() bool { return p <= Power6dBm }

type Role uint8

const (
	RolePeripheral Role = 0
	RoleCentral    Role = 1
	RoleInvalid    Role = 0xFF
)

func (r Role) Valid() bool { return r <= RoleCentral }

func (r Role) String() string {
	switch r {
	case RolePeripheral:
		return "peripheral"
	case RoleCentral:
		return "central"
	default:
		return "invalid"
	}
}

type BondMode uint8

const (
	BondNoPin       BondMode = 0
	BondAuthNoPin   BondMode = 1
	BondAuthWithPin BondMode = 2
	BondAuthAndBond BondMode = 3
	BondModeInvalid BondMode = 0xFF
)

func (b BondMode) Valid() bool { return b <= BondAuthAndBond }

// Flag encodes a boolean setting as the module expects it.
func Flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
