package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the short stable code attached to failed tasks and used to
// pick the propagation policy (retry vs terminal).
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindUpstream      ErrorKind = "upstream"
	KindNetwork       ErrorKind = "network"
	KindTimeout       ErrorKind = "timeout"
	KindAuth          ErrorKind = "auth"
	KindContentPolicy ErrorKind = "content_policy"
	KindDownload      ErrorKind = "download"
	KindStore         ErrorKind = "store"
	KindUnknown       ErrorKind = "unknown"
)

// Error is a classified failure from the provider boundary.
type Error struct {
	Kind    ErrorKind
	Code    string // provider-supplied code, when present
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified provider error.
func NewError(kind ErrorKind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from an error, classifying its text when it
// is not already a provider Error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return Classify(err.Error())
}

// Classify maps an error message to an ErrorKind by case-insensitive
// substring matching. Providers vary the casing of error text, so matching
// must not be case sensitive.
func Classify(msg string) ErrorKind {
	m := strings.ToLower(msg)
	switch {
	case containsAny(m, "unauthorized", "authorization", "login", "invalid token", "session expired"):
		return KindAuth
	case containsAny(m, "timeout", "timed out", "deadline exceeded"):
		return KindTimeout
	case containsAny(m, "content policy", "moderation", "prohibited content"):
		return KindContentPolicy
	case containsAny(m, "connection refused", "econnrefused", "connection reset",
		"no such host", "broken pipe", "network", "unexpected eof", "unexpected end of json"):
		return KindNetwork
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsTransient reports whether the error is worth retrying: network-level
// failures and unparseable responses, but never provider rejections.
func IsTransient(err error) bool {
	return KindOf(err) == KindNetwork
}
