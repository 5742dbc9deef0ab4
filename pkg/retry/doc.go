// Package retry wraps fallible operations (database calls, billing provider
// calls) with error classification, bounded exponential backoff with jitter,
// and context-aware cancellation.
//
// The package is centred around the generic function Do, which runs an
// operation and retries it only when the failure classifies as transient.
// Classification is performed by Classify, which inspects structured error
// codes (pgconn.PgError, stripe.Error, net.Error) first and falls back to
// substring matching on the error message. Non-transient failures such as
// authentication errors, integrity violations and invalid data are never
// retried.
//
// A companion HealthTracker counts consecutive failures with a decay window
// so that health checks can report "degraded" distinctly from "down" without
// that state bleeding into the operation's own control flow. The tracker is
// an injected dependency with an explicit lifecycle, never package-level
// state.
//
// # Usage
//
//	import (
//	    "context"
//	    "github.com/aigensolutions/billingcore/pkg/retry"
//	)
//
//	func fetch(ctx context.Context) (string, error) {
//	    return retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) (string, error) {
//	        return client.Get(ctx, "key")
//	    })
//	}
//
// On exhaustion Do returns an *Error carrying the classification of the last
// failure and the number of attempts made, with the underlying error
// available through errors.Unwrap.
package retry
