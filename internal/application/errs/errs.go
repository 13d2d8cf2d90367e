package errs

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError is bad input. No side effects happened, the caller may
// correct the request and retry immediately.
type ValidationError struct {
	Msg string
}

func (t ValidationError) Error() string {
	return t.Msg
}

// TransientError is a network blip or rate limit, the same step may be retried.
type TransientError struct {
	Err error
}

func (t TransientError) Error() string {
	return fmt.Sprintf("transient error: %v", t.Err)
}

func (t TransientError) Unwrap() error {
	return t.Err
}

// PermanentError is an upstream rejection (quota, domain taken, bad request).
// Retrying won't help, an operator has to intervene.
type PermanentError struct {
	Err error
}

func (t PermanentError) Error() string {
	return fmt.Sprintf("permanent error: %v", t.Err)
}

func (t PermanentError) Unwrap() error {
	return t.Err
}

// TimeoutError means a bounded wait elapsed without the condition becoming
// true. Distinct from PermanentError since the underlying operation may still
// complete later.
type TimeoutError struct {
	Op      string
	Elapsed time.Duration
}

func (t TimeoutError) Error() string {
	return fmt.Sprintf("%v did not complete within %v", t.Op, t.Elapsed)
}

// PartialWarning marks a step that advanced the record but left something for
// the operator, e.g. vhost configured while DNS stayed unmanaged. Treated as
// success-with-warning, never as failure.
type PartialWarning struct {
	Msg string
}

func (t PartialWarning) Error() string {
	return t.Msg
}

func IsValidation(err error) bool {
	var v ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t TransientError
	return errors.As(err, &t)
}

func IsPermanent(err error) bool {
	var p PermanentError
	return errors.As(err, &p)
}

func IsTimeout(err error) bool {
	var t TimeoutError
	return errors.As(err, &t)
}

func IsPartial(err error) bool {
	var p PartialWarning
	return errors.As(err, &p)
}
