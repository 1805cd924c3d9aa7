// Package cerr defines the typed error surface returned by every
// fallible operation in the engine: an HTTP-style code plus a message,
// never a bare string.
package cerr

import "fmt"

// Code classifies an Error the way an HTTP status would, without
// depending on net/http.
type Code int

const (
	_ Code = iota
	CodeValidation
	CodeNotFound
	CodeConflict
	CodeCapacity
	CodeTimeout
	CodeInternal
)

func (c Code) String() string {
	switch c {
	case CodeValidation:
		return "validation"
	case CodeNotFound:
		return "not_found"
	case CodeConflict:
		return "conflict"
	case CodeCapacity:
		return "capacity"
	case CodeTimeout:
		return "timeout"
	case CodeInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the value every package-level operation in this module
// returns on failure.
type Error struct {
	Code    Code
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func new(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error { return new(CodeValidation, format, args...) }
func NotFound(format string, args ...any) *Error    { return new(CodeNotFound, format, args...) }
func Conflict(format string, args ...any) *Error    { return new(CodeConflict, format, args...) }
func Capacity(format string, args ...any) *Error    { return new(CodeCapacity, format, args...) }
func Timeout(format string, args ...any) *Error     { return new(CodeTimeout, format, args...) }
func Internal(format string, args ...any) *Error    { return new(CodeInternal, format, args...) }

// Wrap attaches a cause to a freshly built Error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	e := new(code, format, args...)
	e.Err = err
	return e
}

// Is reports whether err is a *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code == code
	}
	return false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
