package billing

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the provider no longer has the object. This is a
	// normal domain outcome, not a transport failure.
	ErrNotFound = errors.New("billing: object not found at provider")

	// ErrUnavailable means the provider could not be reached after retries.
	// Safe to retry from the caller's side.
	ErrUnavailable = errors.New("billing: provider unavailable")

	// ErrAuth means the provider rejected our credentials. Fatal
	// misconfiguration; never retried.
	ErrAuth = errors.New("billing: provider authentication failed")

	// ErrSignature means a webhook payload failed signature verification.
	ErrSignature = errors.New("billing: webhook signature verification failed")
)

// Subscription is the provider's view of a subscription, mapped to neutral
// types. Status carries the provider-native status string; the subscription
// package owns the mapping to local lifecycle states.
type Subscription struct {
	ID                 string
	Status             string
	CustomerID         string
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool
}

// PaymentIntent is the provider's view of a one-time payment.
type PaymentIntent struct {
	ID          string
	Status      string
	AmountCents int64
	Currency    string
	CustomerID  string
	Metadata    map[string]string
}

// Gateway is the facade over the external billing provider. Implementations
// must be safe for concurrent use; calls block the calling goroutine only
// and honor ctx cancellation including during backoff waits.
type Gateway interface {
	// RetrieveSubscription fetches the provider's current view of a
	// subscription. Returns ErrNotFound when the provider deleted it.
	RetrieveSubscription(ctx context.Context, providerSubID string) (*Subscription, error)

	// RetrievePaymentIntent fetches a payment intent by provider ID.
	RetrievePaymentIntent(ctx context.Context, providerID string) (*PaymentIntent, error)

	// CancelSubscription cancels immediately at the provider.
	CancelSubscription(ctx context.Context, providerSubID string) error

	// SetCancelAtPeriodEnd flags the subscription to lapse (or resume) at
	// the period boundary. Entitlement continues until then.
	SetCancelAtPeriodEnd(ctx context.Context, providerSubID string, cancel bool) (*Subscription, error)
}
