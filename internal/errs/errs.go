// Package errs implements a closed error-kind taxonomy so the Runner can
// decide whether a mapping should retry, fail cleanly, or be treated as
// recovered, without parsing error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a sync-engine failure. It classifies, it does not replace,
// the underlying error: an *Error exposes its cause, when it has one, via
// errors.Unwrap.
type Kind int

const (
	// ConfigInvalid marks a malformed mapping or missing credential reference.
	// Fatal for that mapping; no network or DB activity is attempted.
	ConfigInvalid Kind = iota
	// SourceUnavailable marks a refused connection, failed auth, or downed DB.
	// Retried a bounded number of times before becoming fatal for the mapping.
	SourceUnavailable
	// QueryRejected marks a SQL error, missing column, or permission denial.
	// Fatal for the mapping; never retried.
	QueryRejected
	// SchemaDrift marks a best-effort detection that the column set changed
	// mid-run.
	SchemaDrift
	// Transient marks a mid-stream disconnect, 5xx, 429, or timeout. Retried
	// per the Uploader's or Extractor's own retry policy.
	Transient
	// UploadFailed marks retry-budget exhaustion on the upload path. Fatal
	// for the mapping; the watermark is not advanced.
	UploadFailed
	// StateCorrupt marks an unparseable state file. Recovered automatically:
	// the StateStore quarantines the file and returns empty state.
	StateCorrupt
	// Cancelled marks external cancellation (signal, context). Fatal for the
	// mapping, but a clean termination rather than a failure.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case ConfigInvalid:
		return "ConfigInvalid"
	case SourceUnavailable:
		return "SourceUnavailable"
	case QueryRejected:
		return "QueryRejected"
	case SchemaDrift:
		return "SchemaDrift"
	case Transient:
		return "Transient"
	case UploadFailed:
		return "UploadFailed"
	case StateCorrupt:
		return "StateCorrupt"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error pairs a Kind with the underlying cause. Components construct one
// with New and callers classify with errors.As against *Error.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error produced by this package. For anything else it returns Transient
// with ok=false, leaving the caller's fallback to the retry-by-default
// policy.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Transient, false
}
