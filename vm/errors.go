package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error kinds surfaced to managed callers
// ---------------------------------------------------------------------------

var (
	// ErrArgumentNull reports a required reference argument that is absent.
	ErrArgumentNull = errors.New("value cannot be null")

	// ErrArgument reports a malformed argument combination.
	ErrArgument = errors.New("value does not fall within the expected range")

	// ErrNotWidening is the recognised-but-disallowed narrowing case of an
	// array store. It matches ErrArgument under errors.Is.
	ErrNotWidening = fmt.Errorf("%w: not a widening conversion", ErrArgument)

	// ErrArgumentOutOfRange reports a structurally invalid length or size.
	ErrArgumentOutOfRange = errors.New("specified argument was out of the range of valid values")

	// ErrIndexOutOfRange reports an index outside its bound pair at access time.
	ErrIndexOutOfRange = errors.New("index was outside the bounds of the array")

	// ErrInvalidCast reports a value whose runtime type cannot be stored in
	// the destination slot.
	ErrInvalidCast = errors.New("specified cast is not valid")

	// ErrTypeLoad reports a class that the loader could not supply.
	ErrTypeLoad = errors.New("type could not be loaded")

	// ErrBadImageFormat reports malformed metadata (blob heap, constants).
	ErrBadImageFormat = errors.New("bad image format")

	// ErrMissingMethod reports an internal call name with no registration.
	ErrMissingMethod = errors.New("internal call not found")
)

// ArgumentError attaches the offending parameter name to one of the
// argument error kinds.
type ArgumentError struct {
	Param  string
	Err    error
	Detail string
}

func (e *ArgumentError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg = e.Err.Error() + ": " + e.Detail
	}
	if e.Param != "" {
		return fmt.Sprintf("%s (parameter %q)", msg, e.Param)
	}
	return msg
}

func (e *ArgumentError) Unwrap() error { return e.Err }

func argNull(param string) error {
	return &ArgumentError{Param: param, Err: ErrArgumentNull}
}

func argInvalid(param, detail string) error {
	return &ArgumentError{Param: param, Err: ErrArgument, Detail: detail}
}

func argOutOfRange(param, detail string) error {
	return &ArgumentError{Param: param, Err: ErrArgumentOutOfRange, Detail: detail}
}

func notWidening() error {
	return &ArgumentError{Param: "value", Err: ErrNotWidening}
}
