// Package retry classifies store failures and retries transient ones with
// exponential backoff.
package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/yndnr/snapfn-go/internal/core/domain"
)

// TransientError is implemented by errors that know whether they are
// worth retrying.
type TransientError interface {
	error
	Transient() bool
}

// IsTransient reports whether err is worth another attempt.
//
// Domain errors are final except ErrStoreTransient. Context errors are
// final: the caller's deadline is the invocation deadline.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te TransientError
	if errors.As(err, &te) {
		return te.Transient()
	}

	if errors.Is(err, domain.ErrStoreTransient) {
		return true
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return IsTransient(urlErr.Err)
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"timeout",
	"throttl",
	"rate exceeded",
	"service unavailable",
	"internal server error",
	"bad gateway",
}

type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// MarkTransient wraps err so IsTransient reports true.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Policy controls how many attempts are made and how long to wait between
// them.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultPolicy returns 3 attempts starting at 50ms, capped at 1s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseBackoff: 50 * time.Millisecond,
		MaxBackoff:  time.Second,
	}
}

// NotifyFunc is called before each retry with the failed attempt number.
type NotifyFunc func(err error, attempt int, wait time.Duration)

// Do runs op until it succeeds, fails with a non-transient error, the
// attempts are used up, or ctx is done. It returns the number of attempts
// made and the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error, notify NotifyFunc) (int, error) {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.BaseBackoff
	eb.MaxInterval = p.MaxBackoff
	eb.MaxElapsedTime = 0

	var b backoff.BackOff = backoff.WithMaxRetries(eb, uint64(p.MaxAttempts-1))
	b = backoff.WithContext(b, ctx)

	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		err := op(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempts, wait)
		}
	})
	return attempts, err
}
