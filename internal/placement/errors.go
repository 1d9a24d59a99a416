package placement

import (
	"errors"
	"fmt"
)

// Code classifies a placement failure.
type Code string

const (
	CodeInvalidUnitType  Code = "invalid_unit_type"
	CodeInvalidSquad     Code = "invalid_squad"
	CodeMissingPosition  Code = "missing_position"
	CodeNoValidCells     Code = "no_valid_cells"
	CodeNoResource       Code = "no_resource_node"
	CodeInsufficientGold Code = "insufficient_gold"
	CodeSupplyCap        Code = "supply_cap"
	CodeNotAuthoritative Code = "not_authoritative"
	CodeUnknownPlacement Code = "unknown_placement"
	CodeInternal         Code = "internal"
)

// ErrNotAuthoritative is returned when a non-authoritative registry is asked
// to allocate a placement ID.
var ErrNotAuthoritative = errors.New("placement: only the authoritative registry allocates placement ids")

// ErrIDsExhausted is returned when an allocator has issued every ID of its
// range.
var ErrIDsExhausted = errors.New("placement: placement id range exhausted")

// Error is the structured failure carried by spawn and place results.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("placement %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("placement %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the failure code from err, or "" when err is not a
// placement error.
func CodeOf(err error) Code {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}
