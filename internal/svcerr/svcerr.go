// Package svcerr carries the operation.reason error codes emitted by the
// domain services.
package svcerr

import "fmt"

// Error pairs a stable machine-readable code with its underlying cause.
type Error struct {
	code string
	err  error
}

// New builds a coded error of the form "<operation>.<reason>".
func New(operation, reason string, cause error) error {
	return &Error{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *Error) Code() string {
	return e.code
}
