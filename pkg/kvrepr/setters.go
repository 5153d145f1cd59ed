package kvrepr

import (
	"fmt"
	"strconv"
)

// Uint64(dst) returns a FieldSetter that parses the value token as an
// unsigned integer and stores it at dst. It's used for plain /proc
// counters ("MemTotal 16384 kB" -> 16384).
func Uint64(dst *uint64) FieldSetter {
	return func(raw string) error {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse uint64 %q: %w", raw, err)
		}
		*dst = v
		return nil
	}
}

// Int64 parses the value token as a signed integer.
func Int64(dst *int64) FieldSetter {
	return func(raw string) error {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("parse int64 %q: %w", raw, err)
		}
		*dst = v
		return nil
	}
}

// Float64 parses the value token as a float.
func Float64(dst *float64) FieldSetter {
	return func(raw string) error {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("parse float64 %q: %w", raw, err)
		}
		*dst = v
		return nil
	}
}

// String stores the value token verbatim.
func String(dst *string) FieldSetter {
	return func(raw string) error {
		*dst = raw
		return nil
	}
}
