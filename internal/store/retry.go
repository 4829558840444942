package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// TransientError wraps a store-busy condition that a caller should retry
// with backoff rather than surface as a hard failure.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "store: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// classifyBusy wraps SQLITE_BUSY / SQLITE_LOCKED errors as TransientError so
// callers can distinguish "retry me" from every other failure.
func classifyBusy(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "busy") || strings.Contains(msg, "locked") {
		return &TransientError{Err: err}
	}

	return err
}

// withBusyRetry runs fn, retrying on TransientError with an exponential,
// capped, jittered backoff, per the "workers must back off on transient busy
// errors" requirement on the claim transaction. Non-transient errors are
// returned immediately.
func withBusyRetry(ctx context.Context, fn func() error) error {
	backoff := retry.NewExponential(5 * time.Millisecond)
	backoff = retry.WithMaxRetries(8, backoff)
	backoff = retry.WithCappedDuration(250*time.Millisecond, backoff)
	backoff = retry.WithJitter(10*time.Millisecond, backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var transient *TransientError
		if errors.As(err, &transient) {
			return retry.RetryableError(err)
		}

		return err
	})
}
