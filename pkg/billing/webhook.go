package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// EventType is the provider-neutral classification of a webhook event.
type EventType string

const (
	EventSubscriptionUpdated EventType = "subscription.updated"
	EventSubscriptionDeleted EventType = "subscription.deleted"
	EventInvoicePaid         EventType = "invoice.paid"
	EventInvoiceFailed       EventType = "invoice.payment_failed"
	EventPaymentSucceeded    EventType = "payment.succeeded"
	EventUnknown             EventType = "unknown"
)

// Event is a verified, normalized webhook event. Fields are populated from
// the provider payload where present; absent fields are zero.
type Event struct {
	ID                string
	Type              EventType
	ProviderType      string
	SubscriptionID    string
	PaymentIntentID   string
	CustomerID        string
	UserID            string
	Status            string
	PriceID           string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  *time.Time
	TrialEnd          *time.Time
	AmountCents       int64
	Currency          string
}

// userIDMetadataKey is the metadata key under which checkout attaches the
// local user identifier to Stripe objects.
const userIDMetadataKey = "user_id"

// VerifyAndParse checks the webhook signature against the configured secret
// and normalizes the payload. Returns ErrSignature when verification fails;
// callers must respond 4xx in that case and never process the body.
func (g *StripeGateway) VerifyAndParse(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.config.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrSignature, err)
	}
	return normalizeEvent(event)
}

func normalizeEvent(event stripe.Event) (*Event, error) {
	out := &Event{
		ID:           event.ID,
		Type:         mapEventType(event.Type),
		ProviderType: string(event.Type),
	}

	switch event.Type {
	case "customer.subscription.updated", "customer.subscription.deleted",
		"customer.subscription.created":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("billing: parse subscription event %s: %w", event.ID, err)
		}
		out.SubscriptionID = sub.ID
		out.Status = string(sub.Status)
		out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		out.UserID = sub.Metadata[userIDMetadataKey]
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}
		if sub.CurrentPeriodEnd > 0 {
			end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
		if sub.TrialEnd > 0 {
			trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
			out.TrialEnd = &trialEnd
		}
		if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
			out.PriceID = sub.Items.Data[0].Price.ID
		}

	case "invoice.paid", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("billing: parse invoice event %s: %w", event.ID, err)
		}
		out.AmountCents = inv.AmountPaid
		out.Currency = string(inv.Currency)
		out.UserID = inv.Metadata[userIDMetadataKey]
		if inv.Subscription != nil {
			out.SubscriptionID = inv.Subscription.ID
		}
		if inv.Customer != nil {
			out.CustomerID = inv.Customer.ID
		}
		if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Price != nil {
			out.PriceID = inv.Lines.Data[0].Price.ID
		}

	case "payment_intent.succeeded":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("billing: parse payment intent event %s: %w", event.ID, err)
		}
		out.PaymentIntentID = pi.ID
		out.Status = string(pi.Status)
		out.AmountCents = pi.Amount
		out.Currency = string(pi.Currency)
		out.UserID = pi.Metadata[userIDMetadataKey]
		if pi.Customer != nil {
			out.CustomerID = pi.Customer.ID
		}
	}

	return out, nil
}

func mapEventType(t stripe.EventType) EventType {
	switch t {
	case "customer.subscription.updated", "customer.subscription.created":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "invoice.paid":
		return EventInvoicePaid
	case "invoice.payment_failed":
		return EventInvoiceFailed
	case "payment_intent.succeeded":
		return EventPaymentSucceeded
	default:
		return EventUnknown
	}
}
