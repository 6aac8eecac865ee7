package intent

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf16"
)

// Canonical serialization: fixed key order, stable number formatting,
// ASCII-safe string escaping. Two logically identical intents must produce
// byte-identical output across processes and languages, so the rules below
// deliberately match the common JSON canonical form
// (sort_keys, "," / ":" separators, ensure_ascii).

// FormatFloat renders a float the way a canonical JSON encoder does:
// integral values keep a trailing ".0", everything else uses the shortest
// round-trip decimal form. Fixed notation covers decimal exponents in
// [-4, 16); only values outside that range switch to exponent notation, so
// the output stays byte-identical to the canonical form produced elsewhere.
func FormatFloat(f float64) string {
	abs := math.Abs(f)
	if f == math.Trunc(f) && abs < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// EscapeString produces an ASCII-safe JSON string literal: control characters
// and every rune above 0x7F become \uXXXX escapes (surrogate pairs beyond the
// BMP).
func EscapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || r > 0x7E && r <= 0xFFFF:
				b.WriteString(`\u`)
				b.WriteString(hex4(uint16(r)))
			case r > 0xFFFF:
				hi, lo := utf16.EncodeRune(r)
				b.WriteString(`\u`)
				b.WriteString(hex4(uint16(hi)))
				b.WriteString(`\u`)
				b.WriteString(hex4(uint16(lo)))
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func hex4(v uint16) string {
	const digits = "0123456789abcdef"
	return string([]byte{
		digits[v>>12&0xF],
		digits[v>>8&0xF],
		digits[v>>4&0xF],
		digits[v&0xF],
	})
}

// field is one canonical key/value pair, value already encoded.
type field struct {
	key   string
	value string
}

func encodeFields(fields []field) string {
	sort.Slice(fields, func(i, j int) bool { return fields[i].key < fields[j].key })
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(EscapeString(f.key))
		b.WriteByte(':')
		b.WriteString(f.value)
	}
	b.WriteByte('}')
	return b.String()
}

// SHA256Hex digests a canonical string.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ISOTime formats a timestamp the way the canonical form expects: UTC with an
// explicit +00:00 offset, second precision.
func ISOTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format("2006-01-02T15:04:05+00:00")
}

// ParseISOTime accepts the canonical format as well as RFC3339 "Z" suffixes.
// Results are always in UTC.
func ParseISOTime(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02T15:04:05+00:00", s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
