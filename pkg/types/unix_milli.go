package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding"
	"encoding/json"
	"github.com/pkg/errors"
	"strconv"
	"time"
)

// UnixMilli is a nullable millisecond UNIX timestamp in databases and JSON.
// The zero value means NULL, i.e. "never" or "not set".
type UnixMilli time.Time

// FromTime converts a time.Time to UnixMilli, truncating to millisecond precision.
func FromTime(t time.Time) UnixMilli {
	if t.IsZero() {
		return UnixMilli{}
	}

	return UnixMilli(fromUnixMilli(t.UnixMilli()))
}

// Time returns the time.Time conversion of UnixMilli.
func (t UnixMilli) Time() time.Time {
	return time.Time(t)
}

// IsZero reports whether the timestamp is unset.
func (t UnixMilli) IsZero() bool {
	return time.Time(t).IsZero()
}

// Before reports whether t is before u.
func (t UnixMilli) Before(u UnixMilli) bool {
	return time.Time(t).Before(time.Time(u))
}

// MarshalJSON implements the json.Marshaler interface.
// Marshals to milliseconds. Supports JSON null.
func (t UnixMilli) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}

	return []byte(strconv.FormatInt(time.Time(t).UnixMilli(), 10)), nil
}

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (t *UnixMilli) UnmarshalText(text []byte) error {
	parsed, err := strconv.ParseFloat(string(text), 64)
	if err != nil {
		return errors.Wrapf(err, "can't parse %q into float64", string(text))
	}

	*t = UnixMilli(fromUnixMilli(int64(parsed)))
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface.
// Unmarshals from milliseconds. Supports JSON null.
func (t *UnixMilli) UnmarshalJSON(data []byte) error {
	if string(data) == "null" || len(data) == 0 {
		return nil
	}

	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return errors.Wrapf(err, "can't parse %q into float64", string(data))
	}

	*t = UnixMilli(fromUnixMilli(int64(ms)))
	return nil
}

// Scan implements the sql.Scanner interface.
// Scans from milliseconds. Supports SQL NULL.
func (t *UnixMilli) Scan(src interface{}) error {
	if src == nil {
		return nil
	}

	v, ok := src.(int64)
	if !ok {
		return errors.Errorf("bad int64 type assertion from %#v", src)
	}

	*t = UnixMilli(fromUnixMilli(v))
	return nil
}

// Value implements the driver.Valuer interface.
// Returns milliseconds. Supports SQL NULL.
func (t UnixMilli) Value() (driver.Value, error) {
	if t.Time().IsZero() {
		return nil, nil
	}

	return t.Time().UnixMilli(), nil
}

// fromUnixMilli creates and returns a time.Time value
// from the given milliseconds since the Unix epoch ms.
func fromUnixMilli(ms int64) time.Time {
	sec, dec := ms/1e3, ms%1e3

	return time.Unix(sec, dec*1e6)
}

// Assert interface compliance.
var (
	_ json.Marshaler           = UnixMilli{}
	_ encoding.TextUnmarshaler = (*UnixMilli)(nil)
	_ json.Unmarshaler         = (*UnixMilli)(nil)
	_ sql.Scanner              = (*UnixMilli)(nil)
	_ driver.Valuer            = UnixMilli{}
)
