package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrMissingArg marks a call that lacks a required argument.
var ErrMissingArg = errors.New("missing argument")

// Args are the decoded arguments of a call. Numbers decoded from JSON arrive
// as float64 and are converted on access.
type Args map[string]any

// ParseArgs decodes a JSON object into Args. An empty payload yields empty
// Args.
func ParseArgs(data []byte) (Args, error) {
	args := Args{}
	if len(data) == 0 || string(data) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("decode service args: %w", err)
	}
	return args, nil
}

// Has reports whether key is present and non-nil.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// String returns a string argument.
func (a Args) String(key string) (string, bool) {
	v, ok := a[key].(string)
	return v, ok
}

// Int returns an integral argument.
func (a Args) Int(key string) (int, bool) {
	switch v := a[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint32:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := strconv.Atoi(v.String())
		return n, err == nil
	default:
		return 0, false
	}
}

// Uint32 returns a non-negative integral argument, such as an ID.
func (a Args) Uint32(key string) (uint32, bool) {
	n, ok := a.Int(key)
	if !ok || n < 0 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// Float returns a numeric argument.
func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Bool returns a boolean argument.
func (a Args) Bool(key string) (bool, bool) {
	v, ok := a[key].(bool)
	return v, ok
}

// RequireString is String that reports a missing key as an error.
func (a Args) RequireString(key string) (string, error) {
	v, ok := a.String(key)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: string %q", ErrMissingArg, key)
	}
	return v, nil
}

// RequireUint32 is Uint32 that reports a missing key as an error.
func (a Args) RequireUint32(key string) (uint32, error) {
	v, ok := a.Uint32(key)
	if !ok {
		return 0, fmt.Errorf("%w: integer %q", ErrMissingArg, key)
	}
	return v, nil
}
