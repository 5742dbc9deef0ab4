package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stripe/stripe-go/v81"
)

// Kind is the classification of a failure, used to decide retry eligibility.
type Kind string

const (
	KindConnectionRefused     Kind = "connection_refused"
	KindConnectionLost        Kind = "connection_lost"
	KindConnectionTimeout     Kind = "connection_timeout"
	KindAuth                  Kind = "auth_error"
	KindInsufficientResources Kind = "insufficient_resources"
	KindIntegrityViolation    Kind = "integrity_violation"
	KindInvalidData           Kind = "invalid_data"
	KindSystem                Kind = "system_error"
	KindUnclassified          Kind = "unclassified"
)

// Classify maps an error to a Kind. Structured error codes from the store or
// provider take precedence; free-text matching on the message is a documented
// fallback heuristic, not guaranteed exhaustive. Unknown failures classify as
// KindUnclassified and are treated conservatively as non-retryable.
func Classify(err error) Kind {
	if err == nil {
		return KindUnclassified
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnectionTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPgCode(pgErr.Code)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return classifyStripe(stripeErr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return KindConnectionLost
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindConnectionTimeout
	}

	return classifyMessage(err.Error())
}

// classifyPgCode maps PostgreSQL SQLSTATE codes to kinds. Class 08 covers
// connection exceptions, 28 authorization, 23 integrity constraints, 22 data
// exceptions, 53 insufficient resources.
func classifyPgCode(code string) Kind {
	if len(code) < 2 {
		return KindUnclassified
	}
	switch code[:2] {
	case "08":
		return KindConnectionLost
	case "28":
		return KindAuth
	case "23":
		return KindIntegrityViolation
	case "22":
		return KindInvalidData
	case "53":
		return KindInsufficientResources
	case "57":
		// 57014 query_canceled, 57P01 admin_shutdown
		return KindConnectionLost
	case "58", "XX":
		return KindSystem
	}
	return KindUnclassified
}

func classifyStripe(err *stripe.Error) Kind {
	// Status code first: the SDK reports auth failures and rate limiting as
	// invalid_request_error, the HTTP status is the reliable signal.
	switch {
	case err.HTTPStatusCode == 401 || err.HTTPStatusCode == 403:
		return KindAuth
	case err.HTTPStatusCode == 429:
		return KindInsufficientResources
	case err.HTTPStatusCode >= 500:
		return KindSystem
	}
	switch err.Type {
	case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeCard:
		return KindInvalidData
	case stripe.ErrorTypeAPI:
		return KindSystem
	}
	return KindUnclassified
}

// classifyMessage is the substring fallback for drivers that surface plain
// text errors instead of structured codes.
func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "connection refused"):
		return KindConnectionRefused
	case strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "broken pipe"),
		strings.Contains(lower, "server closed the connection"),
		strings.Contains(lower, "unexpected eof"):
		return KindConnectionLost
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		return KindConnectionTimeout
	case strings.Contains(lower, "too many connections"),
		strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "too many clients"):
		return KindInsufficientResources
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "password"):
		return KindAuth
	case strings.Contains(lower, "duplicate key"), strings.Contains(lower, "violates"):
		return KindIntegrityViolation
	}
	return KindUnclassified
}

// DefaultRetryable reports whether failures of the given kind are retried by
// default. Only transient transport and resource pressure failures qualify;
// auth, integrity and validation failures never recover by retrying.
func DefaultRetryable(kind Kind) bool {
	switch kind {
	case KindConnectionRefused, KindConnectionLost, KindConnectionTimeout, KindInsufficientResources:
		return true
	}
	return false
}
