// Package apperr carries the error kinds that decide whether a scan job
// degrades or fails.
package apperr

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	// KindUpstreamUnavailable: guideline fetch failed and nothing is cached,
	// or a forced refresh failed.
	KindUpstreamUnavailable
	// KindScannerInvocationFailed: the scanner errored and produced no output.
	KindScannerInvocationFailed
	// KindEnrichmentFailed is absorbed into the report as a diagnostic.
	KindEnrichmentFailed
	// KindMalformedScanOutput is absorbed by the normalizer (status UNKNOWN).
	KindMalformedScanOutput
)

func (k Kind) String() string {
	switch k {
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindScannerInvocationFailed:
		return "scanner_invocation_failed"
	case KindEnrichmentFailed:
		return "enrichment_failed"
	case KindMalformedScanOutput:
		return "malformed_scan_output"
	default:
		return "unknown"
	}
}

// Error is a kinded error. Op names the failing operation (e.g. "guidelines.Get").
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: k})
// works regardless of Op and Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
