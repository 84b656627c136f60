package ebtree

import (
	"errors"
	"fmt"
)

// ErrorCode identifies the class of failure for an Error.
type ErrorCode int

// Error kinds, per the engine's error handling design.
const (
	// ErrNotFound means the key is absent. Non-fatal, expected during lookups.
	ErrNotFound ErrorCode = iota + 1
	// ErrKeyExists means a non-DUP_SORT put collided with an existing key.
	ErrKeyExists
	// ErrMapFull means the allocator cannot grow within the configured map size.
	ErrMapFull
	// ErrTxnFull means a write transaction exceeded its dirty-page budget.
	ErrTxnFull
	// ErrReadersFull means the reader table has no free slots.
	ErrReadersFull
	// ErrInvalidPageID means a page ID is out of range or would overflow an offset computation.
	ErrInvalidPageID
	// ErrCorruption means a page failed header, bounds, or checksum validation.
	ErrCorruption
	// ErrInvalidParameter means a caller-supplied argument violates a documented constraint.
	ErrInvalidParameter
	// ErrIO wraps an underlying filesystem/backend error.
	ErrIO
)

var errorMessages = map[ErrorCode]string{
	ErrNotFound:         "key not found",
	ErrKeyExists:        "key already exists",
	ErrMapFull:          "map size limit reached",
	ErrTxnFull:          "transaction dirty-page budget exceeded",
	ErrReadersFull:      "reader table exhausted",
	ErrInvalidPageID:    "invalid page id",
	ErrCorruption:       "page corruption detected",
	ErrInvalidParameter: "invalid parameter",
	ErrIO:               "i/o error",
}

// Error is the engine's error type: a code plus optional page context and a
// wrapped underlying error.
type Error struct {
	Code    ErrorCode
	Message string
	PageID  pgno // valid only for ErrCorruption / ErrInvalidPageID
	HasPage bool
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.HasPage && e.Err != nil:
		return fmt.Sprintf("ebtree: %s (page %d): %v", e.Message, e.PageID, e.Err)
	case e.HasPage:
		return fmt.Sprintf("ebtree: %s (page %d)", e.Message, e.PageID)
	case e.Err != nil:
		return fmt.Sprintf("ebtree: %s: %v", e.Message, e.Err)
	default:
		return fmt.Sprintf("ebtree: %s", e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds an Error for code, using the default message.
func newError(code ErrorCode) *Error {
	return &Error{Code: code, Message: errorMessages[code]}
}

// wrapError builds an Error for code, wrapping the underlying err.
func wrapError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Message: errorMessages[code], Err: err}
}

// corruption builds a Corruption{page_id, details} error as specified in §7.
func corruption(id pgno, details string) *Error {
	return &Error{Code: ErrCorruption, Message: details, PageID: id, HasPage: true}
}

func invalidPageIDErr(id pgno, details string) *Error {
	return &Error{Code: ErrInvalidPageID, Message: details, PageID: id, HasPage: true}
}

func invalidParam(msg string) *Error {
	return &Error{Code: ErrInvalidParameter, Message: msg}
}

// Is reports whether err carries the given ErrorCode.
func Is(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool { return Is(err, ErrNotFound) }

// IsKeyExists reports whether err is ErrKeyExists.
func IsKeyExists(err error) bool { return Is(err, ErrKeyExists) }

// IsMapFull reports whether err is ErrMapFull.
func IsMapFull(err error) bool { return Is(err, ErrMapFull) }

// IsCorruption reports whether err is ErrCorruption.
func IsCorruption(err error) bool { return Is(err, ErrCorruption) }

// Code extracts the ErrorCode from err, or 0 if err is not an *Error.
func Code(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
