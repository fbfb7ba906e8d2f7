package at

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

// Format writes the formatted command into dst and returns the number of
// bytes written. Output longer than dst is truncated; dst is never written
// past its length.
func Format(dst []byte, format string, args ...any) int {
	return copy(dst, fmt.Sprintf(format, args...))
}

// HasMarker reports whether msg begins with marker. The comparison is
// byte-wise and case-sensitive; only len(marker) bytes are inspected.
func HasMarker(msg []byte, marker string) bool {
	return bytes.HasPrefix(msg, []byte(marker))
}

// Classify identifies the nature of a message that was not requested by a
// command.
func Classify(msg []byte) MessageType {
	switch {
	case HasMarker(msg, MarkerConn):
		return TypeConnect
	case HasMarker(msg, MarkerLost):
		return TypeLost
	default:
		return TypeData
	}
}

// String extracts text starting at offset up to the first CR, LF or NUL.
// An offset outside msg yields an empty string.
func String(msg []byte, offset int) string {
	if offset < 0 || offset >= len(msg) {
		return ""
	}
	rest := msg[offset:]
	if i := bytes.IndexAny(rest, "\r\n\x00"); i >= 0 {
		rest = rest[:i]
	}
	return string(rest)
}

// Int parses an integer from msg at offset in the given base. Like strtol it
// skips leading blanks, accepts a sign and, for base 16, a 0x prefix, and
// stops at the first byte that is not a digit. Values outside the int64
// range saturate to math.MaxInt64 or math.MinInt64. It fails only when no
// digit could be consumed.
func Int(msg []byte, offset, base int) (int64, error) {
	if base < 2 || base > 36 {
		return 0, fmt.Errorf("at: unsupported base %d", base)
	}
	if offset < 0 || offset >= len(msg) {
		return 0, fmt.Errorf("at: offset %d outside message of %d bytes", offset, len(msg))
	}

	i := offset
	for i < len(msg) && (msg[i] == ' ' || msg[i] == '\t') {
		i++
	}
	sign := ""
	if i < len(msg) && (msg[i] == '+' || msg[i] == '-') {
		sign = string(msg[i])
		i++
	}
	if base == 16 && i+2 < len(msg) && msg[i] == '0' && (msg[i+1] == 'x' || msg[i+1] == 'X') && digitValue(msg[i+2]) < 16 {
		i += 2
	}

	start := i
	for i < len(msg) && digitValue(msg[i]) < base {
		i++
	}
	if i == start {
		return 0, fmt.Errorf("at: no digits at offset %d in %q", offset, msg)
	}

	v, err := strconv.ParseInt(sign+string(msg[start:i]), base, 64)
	if errors.Is(err, strconv.ErrRange) {
		// ParseInt already returns the saturated bound
		return v, nil
	}
	if err != nil {
		return 0, fmt.Errorf("at: parse %q: %w", msg[start:i], err)
	}
	return v, nil
}

func digitValue(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'z':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'Z':
		return int(c-'A') + 10
	default:
		return 99
	}
}
