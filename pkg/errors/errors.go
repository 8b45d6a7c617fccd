// Package errors defines the coded error type returned by tilesplit packages.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies the kind of failure.
type Code string

const (
	CodeValidationFailed Code = "VALIDATION_FAILED" // bad arguments or split counts
	CodeFileNotFound     Code = "FILE_NOT_FOUND"    // source image does not exist
	CodeDecodeFailed     Code = "DECODE_FAILED"     // source image could not be decoded
	CodeIoError          Code = "IO_ERROR"          // directory or tile write failed
	CodeUploadFailed     Code = "UPLOAD_FAILED"     // object storage upload failed
	CodeDispatchFailed   Code = "DISPATCH_FAILED"   // kubernetes job creation failed
)

// Error is a failure tagged with a Code and the package (Domain) it came from.
type Error struct {
	Code    Code
	Domain  string
	Message string
	Cause   error
}

// New builds an *Error. cause may be nil.
func New(code Code, domain string, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Domain:  domain,
		Message: message,
		Cause:   cause,
	}
}

// Validation returns a CodeValidationFailed error with a formatted message.
func Validation(domain, format string, args ...interface{}) *Error {
	return New(CodeValidationFailed, domain, fmt.Sprintf(format, args...), nil)
}

// FileNotFound reports a missing source file.
func FileNotFound(domain, path string, cause error) *Error {
	return New(CodeFileNotFound, domain, fmt.Sprintf("%s not found", path), cause)
}

// Error formats as "[domain:CODE] message: cause".
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Domain, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Domain, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if there is none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsUsage reports whether err should be presented as a usage problem
// (bad arguments or a missing input file) rather than a runtime failure.
func IsUsage(err error) bool {
	switch CodeOf(err) {
	case CodeValidationFailed, CodeFileNotFound:
		return true
	}
	return false
}
