// Package sigerr defines the error taxonomy shared by every sigil package.
//
// All failures surfaced by the module are *Error values carrying a Kind
// (the coarse category), a stable machine-readable Code, a human-readable
// Message, optional structured Details, and an optional wrapped cause.
// Callers branch on Kind or Code via the helpers in this package or the
// standard errors.Is and errors.As.
package sigerr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the coarse error category. Every error produced by the module
// belongs to exactly one Kind.
type Kind string

const (
	// KindConfiguration marks invalid setup: bad key lengths, empty
	// component lists, unknown policy names, malformed policy documents.
	KindConfiguration Kind = "configuration"

	// KindFormat marks unparseable wire data: malformed Signature or
	// Signature-Input headers, bad digest headers, non-hex signatures.
	KindFormat Kind = "format"

	// KindValidation marks well-formed but unacceptable values: timestamps
	// outside the accepted range, non-UUID nonces, missing required headers.
	KindValidation Kind = "validation"

	// KindCryptographic marks signing or verification primitive failures.
	KindCryptographic Kind = "cryptographic"

	// KindKeyResolution marks failures to obtain key material, including
	// exhaustion of a key source chain.
	KindKeyResolution Kind = "key_resolution"
)

// Error is the concrete error type used across the module.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

// New returns an *Error with the given kind, code and message.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Newf returns an *Error with a formatted message.
func Newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error wrapping cause. A nil cause yields the same error
// without a wrapped cause.
func Wrap(cause error, kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: cause}
}

// With attaches a detail to the error and returns it for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Error implements the error interface. Details are rendered in key order
// so the output is stable.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("sigil: ")
	sb.WriteString(e.Code)
	sb.WriteString(": ")
	sb.WriteString(e.Message)

	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s=%v", k, e.Details[k])
		}
		sb.WriteString(")")
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}

	return sb.String()
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind and Code.
// This lets package-level sentinel errors work with errors.Is even when
// the compared values carry different details or causes.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// KindOf returns the Kind of err, or the empty Kind when err is not an
// *Error from this module.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the Code of err, or the empty string when err is not an
// *Error from this module.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
