// Package errs implements the error taxonomy used across the privacy core:
// UserInput, PolicyViolation, Transient, Integrity, Internal. Components
// wrap errors with a Kind so callers (and the management API) can decide
// whether to retry, fall back, or surface a single sanitized message.
package errs

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies an error for propagation/retry decisions.
type Kind int

// Error kinds, lowest to highest "give up and tell the user" severity.
const (
	KindUserInput Kind = iota
	KindPolicyViolation
	KindTransient
	KindIntegrity
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUserInput:
		return "user_input"
	case KindPolicyViolation:
		return "policy_violation"
	case KindTransient:
		return "transient"
	case KindIntegrity:
		return "integrity"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a Kind-tagged error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap tags an existing error with a Kind, preserving it for errors.Is/As.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// pathPatterns match absolute filesystem paths for redaction in
// user-visible error text: POSIX (/…) and Windows (X:\…) forms.
var pathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/[^\s"']+`),
	regexp.MustCompile(`[A-Za-z]:\\[^\s"']+`),
}

// stackStart finds the first stack-frame-looking line in a message: an
// indented "at ..." frame or a Go "goroutine N [...]" header.
var stackStart = regexp.MustCompile(`(?m)^(?:[ \t]+at |goroutine \d+ \[)`)

// Sanitize strips stack-frame-looking detail (everything from the first
// line matched by stackStart on) and replaces absolute filesystem paths
// with "[path]" in an error message, without touching the error's Kind or
// a leading "label: " prefix the caller has already composed. Used by the
// Safe Executor before a tool error reaches the caller.
func Sanitize(msg string) string {
	out := msg
	if loc := stackStart.FindStringIndex(out); loc != nil {
		out = strings.TrimRight(out[:loc[0]], "\r\n")
	}
	for _, re := range pathPatterns {
		out = re.ReplaceAllString(out, "[path]")
	}
	return out
}
