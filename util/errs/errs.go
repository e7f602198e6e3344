// Package errs carries the error codes shared by the rental core.
package errs

import "errors"

type ErrCode string

const (
	ErrNotFound          ErrCode = "NOT_FOUND"
	ErrStateConflict     ErrCode = "STATE_CONFLICT"
	ErrInsufficientFunds ErrCode = "INSUFFICIENT_FUNDS"
	ErrLimitExceeded     ErrCode = "LIMIT_EXCEEDED"
	ErrUnauthorized      ErrCode = "UNAUTHORIZED"
	ErrValidation        ErrCode = "VALIDATION"
)

type codedError struct {
	code ErrCode
	msg  string
}

func (e codedError) Error() string {
	if e.msg == "" {
		return string(e.code)
	}
	return string(e.code) + ": " + e.msg
}
func (e codedError) Code() ErrCode { return e.code }

func New(c ErrCode, msg string) error { return codedError{code: c, msg: msg} }

// Code extracts the error code, or "" for uncoded errors.
func Code(err error) ErrCode {
	var ce interface{ Code() ErrCode }
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return ""
}

func Is(err error, c ErrCode) bool { return Code(err) == c }

// Retryable reports whether the caller may retry after re-reading state.
// STATE_CONFLICT is the only retryable code.
func Retryable(err error) bool { return Code(err) == ErrStateConflict }
