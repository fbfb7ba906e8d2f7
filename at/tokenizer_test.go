package at_test

import (
	"strings"
	"testing"

	"i4.energy/across/hm10bridge/at"
)

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		format   string
		args     []any
		expected string
	}{
		{name: "Plain command", size: 16, format: "AT", expected: "AT"},
		{name: "Baud command", size: 16, format: "%s%s", args: []any{at.CmdBaud, "4"}, expected: "AT+BAUD4"},
		{name: "Exact fit", size: 8, format: "AT+BAUD%d", args: []any{4}, expected: "AT+BAUD4"},
		{name: "Truncated", size: 10, format: "AT+NAME%s", args: []any{"verylongname"}, expected: "AT+NAMEver"},
		{name: "Zero capacity", size: 0, format: "AT", expected: ""},
		{name: "Escaped percent", size: 16, format: "AT+PIO1%%", expected: "AT+PIO1%"},
		{name: "Literal passed as argument", size: 16, format: "%s", args: []any{"AT+PIO1%"}, expected: "AT+PIO1%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Guard bytes after the destination must stay untouched
			backing := make([]byte, tt.size+4)
			for i := range backing {
				backing[i] = '#'
			}
			n := at.Format(backing[:tt.size], tt.format, tt.args...)

			if got := string(backing[:n]); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
			if tail := string(backing[tt.size:]); tail != "####" {
				t.Errorf("formatter wrote past capacity: %q", tail)
			}
		})
	}
}

func TestHasMarker(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		marker   string
		expected bool
	}{
		{name: "Exact", msg: "OK", marker: "OK", expected: true},
		{name: "Prefix only compared", msg: "OK+Get:4", marker: "OK+Get:", expected: true},
		{name: "Case sensitive", msg: "OK+SET:4", marker: "OK+Set", expected: false},
		{name: "Baud marker", msg: "OK+SET", marker: at.MarkerBaud, expected: true},
		{name: "Shorter message", msg: "O", marker: "OK", expected: false},
		{name: "Empty message", msg: "", marker: "OK", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := at.HasMarker([]byte(tt.msg), tt.marker); got != tt.expected {
				t.Errorf("HasMarker(%q, %q) = %v, expected %v", tt.msg, tt.marker, got, tt.expected)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected at.MessageType
	}{
		{name: "Connect event", input: "OK+CONN001122334455", expected: at.TypeConnect},
		{name: "Lost event", input: "OK+LOST", expected: at.TypeLost},
		{name: "Application payload", input: "hello", expected: at.TypeData},
		{name: "Command reply", input: "OK+Get:4", expected: at.TypeData},
		{name: "Lowercase is data", input: "ok+conn001122334455", expected: at.TypeData},
		{name: "Truncated marker is data", input: "OK+CON", expected: at.TypeData},
		{name: "Empty frame", input: "", expected: at.TypeData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := at.Classify([]byte(tt.input))
			if result != tt.expected {
				t.Errorf("Expected %v, got %v for input %q", tt.expected, result, tt.input)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		offset   int
		expected string
	}{
		{name: "MAC address", input: "OK+ADDR:001122334455", offset: at.AddrOffset, expected: "001122334455"},
		{name: "Stops at CRLF", input: "OK+NAME:HMSoft\r\n", offset: at.NameOffset, expected: "HMSoft"},
		{name: "Stops at LF", input: "OK+NAME:abc\ndef", offset: at.NameOffset, expected: "abc"},
		{name: "Stops at NUL", input: "OK+Get:12\x00garbage", offset: at.GetValueOffset, expected: "12"},
		{name: "Offset at end", input: "OK+ADDR:", offset: at.AddrOffset, expected: ""},
		{name: "Offset past end", input: "OK", offset: 10, expected: ""},
		{name: "Negative offset", input: "OK", offset: -1, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := at.String([]byte(tt.input), tt.offset)
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
			if strings.ContainsAny(got, "\r\n\x00") {
				t.Errorf("result contains control characters: %q", got)
			}
		})
	}
}

func TestInt(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		offset   int
		base     int
		expected int64
		wantErr  bool
	}{
		{name: "Decimal value", input: "OK+Get:4", offset: 7, base: 10, expected: 4},
		{name: "Trailing bytes ignored", input: "OK+Get:123\r\n", offset: 7, base: 10, expected: 123},
		{name: "Hex digit", input: "OK+Get:F", offset: 7, base: 16, expected: 15},
		{name: "Hex with prefix", input: "OK+Get:0xFFE1", offset: 7, base: 16, expected: 0xFFE1},
		{name: "Hex prefix without digits", input: "OK+Get:0xZ", offset: 7, base: 16, expected: 0},
		{name: "Leading blanks", input: "OK+Get:  42", offset: 7, base: 10, expected: 42},
		{name: "Negative", input: "OK+Get:-3", offset: 7, base: 10, expected: -3},
		{name: "Smallest int64", input: "OK+Get:-9223372036854775808", offset: 7, base: 10, expected: -9223372036854775808},
		{name: "Largest int64", input: "OK+Get:9223372036854775807", offset: 7, base: 10, expected: 9223372036854775807},
		{name: "Overflow saturates", input: "OK+Get:99999999999999999999", offset: 7, base: 10, expected: 9223372036854775807},
		{name: "Negative overflow saturates", input: "OK+Get:-99999999999999999999", offset: 7, base: 10, expected: -9223372036854775808},
		{name: "Negative hex with prefix", input: "OK+Get:-0x10", offset: 7, base: 16, expected: -16},
		{name: "Password keeps leading zeros", input: "OK+Get:000123", offset: 7, base: 10, expected: 123},
		{name: "No digits", input: "OK+Get:abc", offset: 7, base: 10, wantErr: true},
		{name: "Offset past end", input: "OK+Get:", offset: 7, base: 10, wantErr: true},
		{name: "Bad base", input: "OK+Get:1", offset: 7, base: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := at.Int([]byte(tt.input), tt.offset, tt.base)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %d", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, got)
			}
		})
	}
}
