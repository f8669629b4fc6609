package model

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// TimeLayout is the fixed-width text form used for timestamps. It sorts
// lexically in time order and is accepted by Postgres as timestamptz input.
const TimeLayout = "2006-01-02 15:04:05.000000+00:00"

// Time is a UTC timestamp that scans from native timestamp columns as well as
// from the text columns used by SQLite.
type Time struct {
	time.Time
}

// Now returns the current time truncated to microseconds, the precision both
// backends store.
func Now() Time {
	return Time{time.Now().UTC().Truncate(time.Microsecond)}
}

// Scan implements sql.Scanner.
func (t *Time) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("scan time: unsupported type %T", src)
	}
}

func (t *Time) parse(s string) error {
	for _, layout := range []string{TimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("scan time: unrecognised value %q", s)
}

// Value implements driver.Valuer.
func (t Time) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.UTC().Format(TimeLayout), nil
}

func (t Time) MarshalJSON() ([]byte, error) {
	return t.Time.UTC().MarshalJSON()
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var tt time.Time
	if err := tt.UnmarshalJSON(data); err != nil {
		return err
	}
	t.Time = tt.UTC()
	return nil
}
