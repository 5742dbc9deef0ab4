package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aigensolutions/billingcore/pkg/billing"
)

// CancelResult describes the outcome of a user-initiated cancellation.
type CancelResult struct {
	ProviderSubscriptionID string
	Status                 Status
	PeriodEnd              time.Time
}

// mapProviderStatus translates a provider status into the local status and
// entitlement flag. Only statuses outside {active, trialing, past_due} clear
// entitlement; past_due stays entitled through the provider's payment retry
// window.
func mapProviderStatus(providerStatus string) (Status, bool) {
	switch providerStatus {
	case "active":
		return StatusActive, true
	case "trialing":
		return StatusTrialing, true
	case "past_due":
		return StatusPastDue, true
	}
	return StatusCanceled, false
}

// applyProviderState writes the provider's authoritative view onto the local
// row. A nil state means the subscription no longer exists upstream.
func applyProviderState(sub *Subscription, state *billing.Subscription, now time.Time) {
	if state == nil {
		sub.Status = StatusCanceled
		sub.IsActive = false
		sub.UpdatedAt = now
		return
	}

	sub.Status, sub.IsActive = mapProviderStatus(state.Status)
	sub.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	if !state.CurrentPeriodEnd.IsZero() {
		sub.CurrentPeriodEnd = state.CurrentPeriodEnd
	}
	if state.TrialEnd != nil && state.TrialEnd.After(now) {
		sub.TrialEndDate = state.TrialEnd
	}
	sub.UpdatedAt = now
}

// Sync makes the local subscription converge to the provider's view. A
// subscription that is already canceled locally is not resynced; the
// provider call is skipped entirely. Sync never posts ledger transactions:
// credit grants only happen through purchase workflows and renewal
// handling.
func (s *Service) Sync(ctx context.Context, subscriptionID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	return s.syncSubscription(ctx, sub)
}

// SyncByProviderSubID is Sync for callers that only hold the provider's
// subscription reference, such as webhook correlation.
func (s *Service) SyncByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error) {
	sub, err := s.store.GetByProviderSubID(ctx, providerSubID)
	if err != nil {
		return nil, err
	}
	return s.syncSubscription(ctx, sub)
}

func (s *Service) syncSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub.ProviderSubscriptionID == "" {
		return sub, nil
	}
	if !sub.IsActive && sub.Status != StatusActive && sub.Status != StatusTrialing {
		return sub, nil
	}

	providerSub, err := s.fetchProviderState(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, sub, providerSub)
}

// fetchProviderState retrieves the provider's current view of a
// subscription. A "not found" upstream reads as a nil state: the
// subscription was deleted, a normal outcome, not a transport failure.
func (s *Service) fetchProviderState(ctx context.Context, providerSubID string) (*billing.Subscription, error) {
	providerSub, err := s.gateway.RetrieveSubscription(ctx, providerSubID)
	switch {
	case errors.Is(err, billing.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("retrieve provider subscription: %w", err)
	}
	return providerSub, nil
}

// reconcile writes the provider's current view onto the local row and
// persists it. A row that is already canceled locally is terminal and is
// never resurrected, whatever state the caller hands in.
func (s *Service) reconcile(ctx context.Context, sub *Subscription, state *billing.Subscription) (*Subscription, error) {
	if !sub.IsActive && sub.Status == StatusCanceled {
		return sub, nil
	}

	applyProviderState(sub, state, s.now())

	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription synced",
		slog.String("subscription_id", sub.ID.String()),
		slog.String("status", string(sub.Status)),
		slog.Bool("is_active", sub.IsActive),
	)
	return sub, nil
}

// CancelUserSubscription schedules the user's active subscription to end at
// the period boundary. The provider is told to cancel at period end, never
// to delete immediately, so access continues until CurrentPeriodEnd. The
// reason is recorded for audit.
func (s *Service) CancelUserSubscription(ctx context.Context, userID uuid.UUID, reason string) (*CancelResult, error) {
	sub, err := s.store.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive && sub.Status != StatusTrialing {
		return nil, ErrSubscriptionNotFound
	}

	now := s.now()
	if sub.ProviderSubscriptionID != "" {
		providerSub, err := s.gateway.SetCancelAtPeriodEnd(ctx, sub.ProviderSubscriptionID, true)
		switch {
		case errors.Is(err, billing.ErrNotFound):
			// Already gone upstream; converge to canceled locally.
			sub.Status = StatusCanceled
			sub.IsActive = false
		case err != nil:
			return nil, err
		default:
			if !providerSub.CurrentPeriodEnd.IsZero() {
				sub.CurrentPeriodEnd = providerSub.CurrentPeriodEnd
			}
		}
	}

	sub.CancelAtPeriodEnd = true
	sub.AutoRenew = false
	sub.CancellationReason = reason
	sub.UpdatedAt = now
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "subscription cancellation scheduled",
		slog.String("user_id", userID.String()),
		slog.String("subscription_id", sub.ID.String()),
		slog.String("reason", reason),
	)
	s.notify(ctx, Notification{
		UserID:  userID,
		Kind:    NotificationSubscriptionCanceled,
		Message: "Your subscription will end at the current period end.",
	})
	return &CancelResult{
		ProviderSubscriptionID: sub.ProviderSubscriptionID,
		Status:                 sub.Status,
		PeriodEnd:              sub.CurrentPeriodEnd,
	}, nil
}
