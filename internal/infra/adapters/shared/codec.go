package shared

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Decimal decodes a JSON number or string, treating "" and null as zero.
type Decimal struct {
	decimal.Decimal
	Present bool
}

func (d *Decimal) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	if s == "" || s == "null" {
		d.Decimal, d.Present = decimal.Zero, false
		return nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	d.Decimal, d.Present = v, true
	return nil
}

// Nullable returns the value as a NullDecimal, invalid when absent.
func (d Decimal) Nullable() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d.Decimal, Valid: d.Present}
}

// NonZero returns the value as a NullDecimal, invalid when absent or zero.
func (d Decimal) NonZero() decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d.Decimal, Valid: d.Present && !d.IsZero()}
}

// ID decodes an identifier sent either as a JSON string or a JSON number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	*id = ID(strings.TrimSpace(string(b)))
	return nil
}

func (id ID) String() string { return string(id) }

// Millis decodes a unix millisecond timestamp sent as a number or string.
type Millis int64

func (m *Millis) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(bytes.Trim(b, `"`)))
	if s == "" || s == "null" {
		*m = 0
		return nil
	}
	if strings.ContainsAny(s, ".eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*m = Millis(int64(f))
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*m = Millis(v)
	return nil
}

// Time converts the timestamp to UTC, falling back to fallback when unset.
func (m Millis) Time(fallback time.Time) time.Time {
	if m <= 0 {
		return fallback.UTC()
	}
	return time.UnixMilli(int64(m)).UTC()
}

// Clone copies raw so it can outlive the read buffer.
func Clone(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	out := make([]byte, len(raw))
	copy(out, raw)
	return out
}
