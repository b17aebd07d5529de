package model

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for callers. The API layer maps each kind to a
// status code; nothing else about an error crosses the trust boundary.
type Kind string

// Error kinds
const (
	KindValidation  Kind = "VALIDATION"
	KindRateLimited Kind = "RATE_LIMITED"
	KindAuth        Kind = "AUTH"
	KindUpstream    Kind = "UPSTREAM"
	KindNotFound    Kind = "NOT_FOUND"
	KindInternal    Kind = "INTERNAL"
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// RetryAfter is set on RATE_LIMITED errors when the wait is known.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Message == "" {
			return fmt.Sprintf("%s: %v", e.Kind, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error.
func NewError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// ValidationError reports malformed or missing caller input.
func ValidationError(msg string) *Error { return NewError(KindValidation, msg, nil) }

// RateLimitedError reports a caller over its request ceiling.
func RateLimitedError(retryAfter time.Duration) *Error {
	e := NewError(KindRateLimited, "too many requests, try again later", nil)
	e.RetryAfter = retryAfter
	return e
}

// AuthError reports a failed authenticity or ownership check.
func AuthError(err error) *Error { return NewError(KindAuth, "access denied", err) }

// UpstreamError reports a failure of an external collaborator the caller may retry.
func UpstreamError(msg string, err error) *Error { return NewError(KindUpstream, msg, err) }

// NotFoundError reports an unknown record.
func NotFoundError(msg string) *Error { return NewError(KindNotFound, msg, nil) }

// InternalError reports a persistence or consistency fault.
func InternalError(msg string, err error) *Error { return NewError(KindInternal, msg, err) }

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
