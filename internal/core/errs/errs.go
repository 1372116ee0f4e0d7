// Package errs defines the failure taxonomy shared by adapters, the sink and
// the orchestrator.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure
type Kind string

const (
	KindInvalidInput        Kind = "InvalidInput"
	KindUnsupportedPlatform Kind = "UnsupportedPlatform"
	KindBackendUnavailable  Kind = "BackendUnavailable"
	KindExtractionFailed    Kind = "ExtractionFailed"
	KindTimeout             Kind = "Timeout"
	KindAllBackendsFailed   Kind = "AllBackendsFailed"
	KindPersistFailed       Kind = "PersistFailed"
	KindCanceled            Kind = "Canceled"
	KindInternal            Kind = "Internal"
)

// Fallback reports whether a failure of this kind lets the orchestrator move
// on to the next adapter.
func (k Kind) Fallback() bool {
	switch k {
	case KindBackendUnavailable, KindExtractionFailed, KindTimeout:
		return true
	}
	return false
}

// Error is the structured error returned across component boundaries
type Error struct {
	Kind     Kind
	Op       string // operation, e.g. "ytdlp.FetchInfo"
	Platform string
	Adapter  string
	Err      error

	// Causes holds the per-adapter failures behind an AllBackendsFailed error,
	// in the order they were attempted.
	Causes []error
}

// E builds an *Error
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted message as its cause
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Adapter != "" || e.Platform != "" {
		b.WriteString(" [")
		b.WriteString(e.Platform)
		if e.Adapter != "" {
			if e.Platform != "" {
				b.WriteString("/")
			}
			b.WriteString(e.Adapter)
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the direct cause followed by every attempt cause
func (e *Error) Unwrap() []error {
	out := make([]error, 0, len(e.Causes)+1)
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return append(out, e.Causes...)
}

// Message is the human readable part of the error, without op or kind prefix
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// KindOf returns the kind of the outermost *Error in err's chain, or
// KindInternal when err carries no kind. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
