package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aigensolutions/billingcore/pkg/billing"
	"github.com/aigensolutions/billingcore/pkg/ledger"
	"github.com/aigensolutions/billingcore/pkg/plan"
	"github.com/aigensolutions/billingcore/pkg/webhookguard"
)

// Checkout attaches these metadata keys to provider objects so webhook
// events can be correlated back to a local user and grant size.
const (
	userMetadataKey         = "user_id"
	creditAmountMetadataKey = "credit_amount"
)

// IdempotencyGuard gates event handlers so each event id is applied at most
// once, with events for the same scope key serialized against each other.
type IdempotencyGuard interface {
	Process(ctx context.Context, eventID, scopeKey string, fn func(ctx context.Context) error) error
}

// Processor applies verified provider webhook events to local state. Every
// mutation runs under the idempotency guard; provider lookups happen before
// the guarded transaction so no database connection is held across a
// provider call.
type Processor struct {
	svc   *Service
	guard IdempotencyGuard
	log   *slog.Logger
}

// NewProcessor creates a webhook event processor. Panics on nil dependencies
// to fail fast during initialization.
func NewProcessor(svc *Service, guard IdempotencyGuard, log *slog.Logger) *Processor {
	if svc == nil {
		panic("subscription: Service is required")
	}
	if guard == nil {
		panic("subscription: IdempotencyGuard is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{svc: svc, guard: guard, log: log}
}

// HandleEvent routes a verified event to its handler. A replayed event id is
// success: the first application already happened and the response tells the
// provider to stop redelivering.
func (p *Processor) HandleEvent(ctx context.Context, event *billing.Event) error {
	var err error
	switch event.Type {
	case billing.EventSubscriptionUpdated:
		err = p.handleSubscriptionUpdated(ctx, event, false)
	case billing.EventSubscriptionDeleted:
		err = p.handleSubscriptionUpdated(ctx, event, true)
	case billing.EventInvoicePaid:
		err = p.handleInvoicePaid(ctx, event)
	case billing.EventInvoiceFailed:
		err = p.handleInvoiceFailed(ctx, event)
	case billing.EventPaymentSucceeded:
		err = p.handlePaymentSucceeded(ctx, event)
	default:
		p.log.InfoContext(ctx, "ignoring webhook event",
			slog.String("event_id", event.ID),
			slog.String("provider_type", event.ProviderType),
		)
		return nil
	}

	if errors.Is(err, webhookguard.ErrEventAlreadyProcessed) {
		p.log.InfoContext(ctx, "webhook event already processed",
			slog.String("event_id", event.ID),
		)
		return nil
	}
	return err
}

// scopeKey picks the serialization scope for an event: all events touching
// one subscription (or failing that, one user) apply in order.
func scopeKey(event *billing.Event) string {
	if event.SubscriptionID != "" {
		return event.SubscriptionID
	}
	if event.UserID != "" {
		return event.UserID
	}
	return event.ID
}

// handleSubscriptionUpdated converges the local row to the provider's
// current view. The event payload's own state is never applied: webhook
// deliveries can arrive out of order, and a late older payload would roll
// the row back, so the provider subscription is fetched instead. The fetch
// happens before the guarded transaction; a deleted event needs no fetch, a
// nil state already means gone upstream. A subscription we have no local
// row for is ignored; there is nothing to converge.
func (p *Processor) handleSubscriptionUpdated(ctx context.Context, event *billing.Event, deleted bool) error {
	if event.SubscriptionID == "" {
		return nil
	}

	var state *billing.Subscription
	if !deleted {
		var err error
		state, err = p.svc.fetchProviderState(ctx, event.SubscriptionID)
		if err != nil {
			return err
		}
	}

	return p.guard.Process(ctx, event.ID, scopeKey(event), func(ctx context.Context) error {
		sub, err := p.svc.store.GetByProviderSubID(ctx, event.SubscriptionID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			p.log.InfoContext(ctx, "webhook for unknown subscription",
				slog.String("provider_subscription_id", event.SubscriptionID),
			)
			return nil
		}
		if err != nil {
			return err
		}

		_, err = p.svc.reconcile(ctx, sub, state)
		return err
	})
}

// handleInvoicePaid posts the plan's credit grant when the invoice renews
// the subscription. The provider subscription is fetched first so the period
// comparison uses authoritative data; an invoice for the current period (the
// initial purchase invoice) only refreshes status and grants nothing, since
// PurchasePlan already credited the plan amount.
func (p *Processor) handleInvoicePaid(ctx context.Context, event *billing.Event) error {
	if event.SubscriptionID == "" {
		return nil
	}

	providerSub, err := p.svc.fetchProviderState(ctx, event.SubscriptionID)
	if err != nil {
		return err
	}

	var renewedUser uuid.UUID
	var renewed bool
	err = p.guard.Process(ctx, event.ID, scopeKey(event), func(ctx context.Context) error {
		sub, err := p.svc.store.GetByProviderSubID(ctx, event.SubscriptionID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		now := p.svc.now()
		renewal := providerSub != nil && providerSub.CurrentPeriodEnd.After(sub.CurrentPeriodEnd)
		applyProviderState(sub, providerSub, now)

		if renewal {
			pl, err := p.resolvePlan(ctx, event, sub.PlanID)
			if err != nil {
				return err
			}
			_, err = p.svc.ledger.Credit(ctx, ledger.CreditParams{
				UserID:      sub.UserID,
				Amount:      pl.CreditAmount,
				Kind:        ledger.KindPlanPurchase,
				ReferenceID: event.ID,
				Description: fmt.Sprintf("Renewal of plan %s", pl.Name),
				Monetary:    &ledger.Money{AmountCents: pl.PriceCents, Currency: pl.Currency},
			})
			if err != nil {
				return err
			}
			if !providerSub.CurrentPeriodStart.IsZero() {
				sub.CurrentPeriodStart = providerSub.CurrentPeriodStart
			}
			sub.LastRenewalDate = &now
			renewedUser = sub.UserID
			renewed = true
		}
		return p.svc.store.Update(ctx, sub)
	})
	if err != nil {
		return err
	}

	if renewed {
		p.svc.notify(ctx, Notification{
			UserID:  renewedUser,
			Kind:    NotificationPaymentConfirmed,
			Message: "Your subscription payment was received and credits were added.",
		})
	}
	return nil
}

func (p *Processor) handleInvoiceFailed(ctx context.Context, event *billing.Event) error {
	if event.SubscriptionID == "" {
		return nil
	}

	var failedUser uuid.UUID
	var marked bool
	err := p.guard.Process(ctx, event.ID, scopeKey(event), func(ctx context.Context) error {
		sub, err := p.svc.store.GetByProviderSubID(ctx, event.SubscriptionID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		// Entitlement is preserved while the provider retries the charge.
		sub.Status = StatusPastDue
		sub.UpdatedAt = p.svc.now()
		if err := p.svc.store.Update(ctx, sub); err != nil {
			return err
		}
		failedUser = sub.UserID
		marked = true
		return nil
	})
	if err != nil {
		return err
	}

	if marked {
		p.svc.notify(ctx, Notification{
			UserID:  failedUser,
			Kind:    NotificationPaymentFailed,
			Message: "Your subscription payment failed. Please update your payment method.",
		})
	}
	return nil
}

// handlePaymentSucceeded grants one-time purchase credits. The payment
// intent's metadata carries the user and the credit amount; a payment
// without them is not a credit purchase and is skipped.
func (p *Processor) handlePaymentSucceeded(ctx context.Context, event *billing.Event) error {
	if event.PaymentIntentID == "" {
		return nil
	}

	pi, err := p.svc.gateway.RetrievePaymentIntent(ctx, event.PaymentIntentID)
	if errors.Is(err, billing.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("retrieve payment intent: %w", err)
	}

	userID, err := uuid.Parse(pi.Metadata[userMetadataKey])
	if err != nil {
		p.log.InfoContext(ctx, "payment intent without user metadata, skipping",
			slog.String("payment_intent_id", pi.ID),
		)
		return nil
	}
	creditAmount, err := decimal.NewFromString(pi.Metadata[creditAmountMetadataKey])
	if err != nil || !creditAmount.IsPositive() {
		p.log.InfoContext(ctx, "payment intent without credit amount, skipping",
			slog.String("payment_intent_id", pi.ID),
		)
		return nil
	}

	// The notification goes out only after the guarded transaction commits;
	// a rollback at the event record must not tell the user credits landed.
	err = p.guard.Process(ctx, event.ID, scopeKey(event), func(ctx context.Context) error {
		_, err := p.svc.purchaseOneTime(ctx, userID, creditAmount, pi.AmountCents, pi.Currency, event.ID)
		return err
	})
	if err != nil {
		return err
	}
	p.svc.notify(ctx, oneTimePurchaseNotification(userID, creditAmount))
	return nil
}

// resolvePlan prefers the price reference carried by the event, which still
// resolves plans retired after the subscription was sold, and falls back to
// the locally recorded plan id.
func (p *Processor) resolvePlan(ctx context.Context, event *billing.Event, planID uuid.UUID) (*plan.Plan, error) {
	if event.PriceID != "" {
		if pl, err := p.svc.plans.GetPlanByProviderPrice(ctx, event.PriceID); err == nil {
			return pl, nil
		}
	}
	pl, err := p.svc.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("resolve renewal plan: %w", err)
	}
	return pl, nil
}
