// Package failure classifies errors raised while importing datasets and estimating delays so the
// queue layer can decide between acknowledging and rejecting a task.
package failure

import (
	"errors"
	"fmt"
)

// Kind groups failures by how the caller should react to them.
type Kind int

const (
	// Integrity covers row count mismatches and failed promotions. Never retried automatically.
	Integrity Kind = iota + 1
	// Matching is returned when no scheduled trip corresponds to an observed trip.
	Matching
	// Persistence is a partial failure writing per fix results.
	Persistence
	// Infrastructure covers storage and broker errors and malformed tasks.
	Infrastructure
)

func (k Kind) String() string {
	switch k {
	case Integrity:
		return "integrity"
	case Matching:
		return "matching"
	case Persistence:
		return "persistence"
	case Infrastructure:
		return "infrastructure"
	}
	return "unknown"
}

// Codes attached to failures. The queue layer may be configured to stop the process on some of them.
const (
	CodeRowCount     = "row_count_mismatch"
	CodeSuperseded   = "version_superseded"
	CodePromotion    = "promotion_failed"
	CodeTripNotFound = "trip_not_found"
	CodeFixPersist   = "fix_persist_failed"
	CodeDecode       = "decode_failed"
	CodeCatalogue    = "catalogue_mismatch"
	CodeStorage      = "storage"
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

// New wraps err with kind and code.
func New(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Err: err}
}

// Newf builds an Error from a format string.
func Newf(kind Kind, code string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failure (%s): %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Recoverable reports whether the task may be acknowledged with a warning.
func (e *Error) Recoverable() bool {
	return e.Kind == Matching || e.Kind == Persistence
}

// Classify returns the Kind and code of err. Errors that were never classified are treated as
// infrastructure failures.
func Classify(err error) (Kind, string) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, fe.Code
	}
	return Infrastructure, CodeStorage
}

// IsRecoverable reports whether err may be acknowledged. A nil error is recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	kind, _ := Classify(err)
	return kind == Matching || kind == Persistence
}

// Disposition adapts Classify to queue consumers: the task may be acknowledged when recoverable is set.
func Disposition(err error) (recoverable bool, code string) {
	kind, code := Classify(err)
	return kind == Matching || kind == Persistence, code
}
