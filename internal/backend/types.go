package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure so the scheduler knows whether
// and how to retry.
type ErrorKind string

const (
	// KindRateLimited is retryable after a backoff delay.
	KindRateLimited ErrorKind = "rate_limited"
	// KindTransient covers network errors and timeouts; retryable.
	KindTransient ErrorKind = "transient"
	// KindAuth is fatal for the whole backend; never retried.
	KindAuth ErrorKind = "auth"
	// KindContentRejected is fatal for the unit; never retried.
	KindContentRejected ErrorKind = "content_rejected"
	// KindUnknown is retried a bounded number of times, then fatal
	// for the unit.
	KindUnknown ErrorKind = "unknown"
)

// Error is a classified provider failure.
type Error struct {
	Kind    ErrorKind
	Backend string
	Cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the scheduler may attempt the request again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindTransient, KindUnknown:
		return true
	default:
		return false
	}
}

// Classify extracts the error kind, defaulting to Unknown for errors that
// did not come from an adapter.
func Classify(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// Limits are the dispatch constraints of an adapter. Zero values mean
// unlimited.
type Limits struct {
	// Concurrency is the ceiling of simultaneous requests.
	Concurrency int
	// RequestsPerSecond and RequestsPerMinute feed the rate limiter;
	// the stricter of the two wins.
	RequestsPerSecond int
	RequestsPerMinute int
	// BatchSize is the preferred number of texts per request.
	BatchSize int
}

// Options carries per-request settings.
type Options struct {
	// SourceLang is the ISO 639-1 code of the source, empty for auto.
	SourceLang string
}

// Adapter is the capability interface over translation providers.
//
// Translate must return exactly one output per input, in input order, or a
// classified *Error. Protected placeholder markers in the input must appear
// unchanged in the output.
type Adapter interface {
	Name() string
	Defaults() Limits
	Translate(ctx context.Context, batch []string, targetLang string, opts Options) ([]string, error)
}
