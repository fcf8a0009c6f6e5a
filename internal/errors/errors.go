// Package errors classifies the failures the extractor meets into the small
// set of kinds that drive retry decisions: transient transport trouble,
// server-signalled rate limiting, caller mistakes, malformed records, and
// single-record write contention. Components wrap causes with a kind and an
// operation name; callers branch on the kind, never on error strings.
package errors

import (
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Kind is the retry-relevant classification of an error.
type Kind string

const (
	// KindTransient covers network failures, timeouts and HTTP 5xx. Retried
	// with exponential backoff before being surfaced.
	KindTransient Kind = "transient"

	// KindRateLimited covers HTTP 429 despite local limiting. Retried with a
	// longer backoff and a smaller attempt budget.
	KindRateLimited Kind = "rate_limited"

	// KindInvalidRequest covers HTTP 4xx other than 429. Never retried;
	// retrying a caller error only wastes rate budget.
	KindInvalidRequest Kind = "invalid_request"

	// KindValidation marks one malformed record. The record is dropped and
	// the batch containing it continues.
	KindValidation Kind = "validation"

	// KindStorageConflict marks write contention on a single record. Retried
	// at record granularity, then dropped with a logged error.
	KindStorageConflict Kind = "storage_conflict"
)

// Error is a classified error with the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// RetryAfter carries a server-provided delay hint on rate-limit errors.
	// Zero means no hint was given.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two classified errors by kind, so sentinel-style checks like
// errors.Is(err, &Error{Kind: KindTransient}) work across wrapping.
func (e *Error) Is(target error) bool {
	var t *Error
	if stderrors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Transient wraps err as a retryable transport failure.
func Transient(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// RateLimited wraps err as a server-signalled rate-limit violation,
// carrying the Retry-After hint when the server provided one.
func RateLimited(op string, err error, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Op: op, Err: err, RetryAfter: retryAfter}
}

// InvalidRequest wraps err as a non-retryable caller error.
func InvalidRequest(op string, err error) *Error {
	return &Error{Kind: KindInvalidRequest, Op: op, Err: err}
}

// Validation wraps err as a single-record validation failure.
func Validation(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// StorageConflict wraps err as single-record write contention.
func StorageConflict(op string, err error) *Error {
	return &Error{Kind: KindStorageConflict, Op: op, Err: err}
}

// KindOf returns the classification of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether err is worth retrying at the call site that
// produced it. Unclassified network errors count as retryable so transport
// failures surfaced by the standard library are not dropped on the floor.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited, KindStorageConflict:
		return true
	case KindInvalidRequest, KindValidation:
		return false
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	return false
}

// RetryAfterHint extracts the server-provided retry delay from err, if any.
func RetryAfterHint(err error) time.Duration {
	var e *Error
	if stderrors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// FromStatus classifies an HTTP response status per the retry policy:
// 5xx is transient, 429 is rate-limited, any other 4xx is an invalid request.
// Statuses below 400 return nil.
func FromStatus(op string, status int, body string, retryAfter time.Duration) error {
	switch {
	case status >= http.StatusInternalServerError:
		return Transient(op, fmt.Errorf("server error %d: %s", status, body))
	case status == http.StatusTooManyRequests:
		return RateLimited(op, fmt.Errorf("rate limited: %s", body), retryAfter)
	case status >= http.StatusBadRequest:
		return InvalidRequest(op, fmt.Errorf("client error %d: %s", status, body))
	}
	return nil
}
