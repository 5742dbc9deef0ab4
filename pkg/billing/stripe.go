package billing

import (
	"context"
	"errors"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/paymentintent"
	stripesub "github.com/stripe/stripe-go/v81/subscription"

	"github.com/aigensolutions/billingcore/pkg/retry"
)

// StripeConfig holds configuration for the Stripe gateway.
type StripeConfig struct {
	APIKey        string `env:"STRIPE_API_KEY,required"`
	WebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required"`
}

// StripeGateway implements Gateway using the Stripe SDK. The SDK performs
// blocking HTTP; calls run on the caller's goroutine, which the Go scheduler
// parks during I/O, so no separate worker pool is needed.
type StripeGateway struct {
	config   StripeConfig
	retryCfg retry.Config
}

// StripeOption configures a StripeGateway.
type StripeOption func(*StripeGateway)

// WithRetryConfig overrides the retry posture for provider calls.
func WithRetryConfig(cfg retry.Config) StripeOption {
	return func(g *StripeGateway) { g.retryCfg = cfg }
}

// WithHealthTracker wires the degraded-mode tracker into every provider
// call.
func WithHealthTracker(t *retry.HealthTracker) StripeOption {
	return func(g *StripeGateway) { g.retryCfg.Tracker = t }
}

// NewStripeGateway creates the gateway and sets the SDK's API key.
func NewStripeGateway(cfg StripeConfig, opts ...StripeOption) (*StripeGateway, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("billing: stripe API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("billing: stripe webhook secret is required")
	}

	stripe.Key = cfg.APIKey

	g := &StripeGateway{
		config:   cfg,
		retryCfg: retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, providerSubID string) (*Subscription, error) {
	sub, err := retry.Do(ctx, g.retryCfg, func(ctx context.Context) (*stripe.Subscription, error) {
		return stripesub.Get(providerSubID, &stripe.SubscriptionParams{
			Params: stripe.Params{Context: ctx},
		})
	})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return mapSubscription(sub), nil
}

func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, providerID string) (*PaymentIntent, error) {
	pi, err := retry.Do(ctx, g.retryCfg, func(ctx context.Context) (*stripe.PaymentIntent, error) {
		return paymentintent.Get(providerID, &stripe.PaymentIntentParams{
			Params: stripe.Params{Context: ctx},
		})
	})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return mapPaymentIntent(pi), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, providerSubID string) error {
	_, err := retry.Do(ctx, g.retryCfg, func(ctx context.Context) (*stripe.Subscription, error) {
		return stripesub.Cancel(providerSubID, &stripe.SubscriptionCancelParams{
			Params: stripe.Params{Context: ctx},
		})
	})
	if err != nil {
		return mapStripeError(err)
	}
	return nil
}

func (g *StripeGateway) SetCancelAtPeriodEnd(ctx context.Context, providerSubID string, cancel bool) (*Subscription, error) {
	sub, err := retry.Do(ctx, g.retryCfg, func(ctx context.Context) (*stripe.Subscription, error) {
		return stripesub.Update(providerSubID, &stripe.SubscriptionParams{
			Params:            stripe.Params{Context: ctx},
			CancelAtPeriodEnd: stripe.Bool(cancel),
		})
	})
	if err != nil {
		return nil, mapStripeError(err)
	}
	return mapSubscription(sub), nil
}

// mapStripeError translates SDK and retry failures into the gateway's error
// taxonomy, preserving the original error for logging.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return ErrNotFound
	}

	var rerr *retry.Error
	if errors.As(err, &rerr) {
		switch rerr.Kind {
		case retry.KindAuth:
			return errors.Join(ErrAuth, err)
		case retry.KindConnectionRefused, retry.KindConnectionLost,
			retry.KindConnectionTimeout, retry.KindInsufficientResources,
			retry.KindSystem:
			return errors.Join(ErrUnavailable, err)
		}
	}
	return err
}

func mapSubscription(sub *stripe.Subscription) *Subscription {
	if sub == nil {
		return nil
	}

	out := &Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		out.TrialEnd = &trialEnd
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		out.PriceID = sub.Items.Data[0].Price.ID
	}
	return out
}

func mapPaymentIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	if pi == nil {
		return nil
	}

	out := &PaymentIntent{
		ID:          pi.ID,
		Status:      string(pi.Status),
		AmountCents: pi.Amount,
		Currency:    string(pi.Currency),
		Metadata:    pi.Metadata,
	}
	if pi.Customer != nil {
		out.CustomerID = pi.Customer.ID
	}
	return out
}
