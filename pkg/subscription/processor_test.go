package subscription_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/aigensolutions/billingcore/pkg/billing"
	"github.com/aigensolutions/billingcore/pkg/ledger"
	"github.com/aigensolutions/billingcore/pkg/plan"
	"github.com/aigensolutions/billingcore/pkg/subscription"
)

func newProcessorEnv(t *testing.T, plans []plan.Plan, subs ...*subscription.Subscription) (*env, *subscription.Processor, *memGuard) {
	t.Helper()
	e := newEnv(t, plans, subs...)
	guard := newMemGuard()
	proc := subscription.NewProcessor(e.svc, guard, slog.Default())
	return e, proc, guard
}

func TestHandleEventIdempotency(t *testing.T) {
	t.Parallel()

	sub := activeSub(uuid.New())
	e, proc, _ := newProcessorEnv(t, nil, sub)

	event := &billing.Event{
		ID:             "evt_dup",
		Type:           billing.EventInvoiceFailed,
		SubscriptionID: "sub_provider_1",
	}

	require.NoError(t, proc.HandleEvent(context.Background(), event))
	// Redelivery of the same event id is success with no second mutation.
	require.NoError(t, proc.HandleEvent(context.Background(), event))

	stored, err := e.store.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusPastDue, stored.Status)
	assert.True(t, stored.IsActive)
}

func TestHandleSubscriptionEvents(t *testing.T) {
	t.Parallel()

	t.Run("updated converges to the provider's current state", func(t *testing.T) {
		t.Parallel()
		sub := activeSub(uuid.New())
		e, proc, _ := newProcessorEnv(t, nil, sub)
		periodEnd := testNow.Add(60 * 24 * time.Hour)

		e.gateway.On("RetrieveSubscription", mock.Anything, "sub_provider_1").
			Return(&billing.Subscription{
				ID:                "sub_provider_1",
				Status:            "past_due",
				CancelAtPeriodEnd: true,
				CurrentPeriodEnd:  periodEnd,
			}, nil)

		// The payload claims active; the provider's current view wins.
		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:             "evt_upd",
			Type:           billing.EventSubscriptionUpdated,
			SubscriptionID: "sub_provider_1",
			Status:         "active",
		})
		require.NoError(t, err)

		stored, err := e.store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, stored.Status)
		assert.True(t, stored.IsActive)
		assert.True(t, stored.CancelAtPeriodEnd)
		assert.Equal(t, periodEnd, stored.CurrentPeriodEnd)
	})

	t.Run("deleted clears entitlement without a provider call", func(t *testing.T) {
		t.Parallel()
		sub := activeSub(uuid.New())
		e, proc, _ := newProcessorEnv(t, nil, sub)

		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:             "evt_del",
			Type:           billing.EventSubscriptionDeleted,
			SubscriptionID: "sub_provider_1",
		})
		require.NoError(t, err)

		stored, err := e.store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, stored.Status)
		assert.False(t, stored.IsActive)
		e.gateway.AssertNotCalled(t, "RetrieveSubscription", mock.Anything, mock.Anything)
	})

	t.Run("late update after deletion cannot resurrect the row", func(t *testing.T) {
		t.Parallel()
		sub := activeSub(uuid.New())
		e, proc, _ := newProcessorEnv(t, nil, sub)

		require.NoError(t, proc.HandleEvent(context.Background(), &billing.Event{
			ID:             "evt_newer_deleted",
			Type:           billing.EventSubscriptionDeleted,
			SubscriptionID: "sub_provider_1",
		}))

		// An older update delivered late, with a provider fetch that races
		// the deletion and still reports active. The canceled row is
		// terminal either way.
		e.gateway.On("RetrieveSubscription", mock.Anything, "sub_provider_1").
			Return(&billing.Subscription{
				ID:     "sub_provider_1",
				Status: "active",
			}, nil)

		require.NoError(t, proc.HandleEvent(context.Background(), &billing.Event{
			ID:             "evt_older_updated",
			Type:           billing.EventSubscriptionUpdated,
			SubscriptionID: "sub_provider_1",
			Status:         "active",
		}))

		stored, err := e.store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCanceled, stored.Status)
		assert.False(t, stored.IsActive)
	})

	t.Run("unknown subscription is ignored", func(t *testing.T) {
		t.Parallel()
		e, proc, _ := newProcessorEnv(t, nil)
		e.gateway.On("RetrieveSubscription", mock.Anything, "sub_nobody").
			Return(nil, billing.ErrNotFound)

		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:             "evt_unknown_sub",
			Type:           billing.EventSubscriptionUpdated,
			SubscriptionID: "sub_nobody",
			Status:         "active",
		})
		require.NoError(t, err)
	})

	t.Run("unhandled event types are acknowledged", func(t *testing.T) {
		t.Parallel()
		_, proc, _ := newProcessorEnv(t, nil)
		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:           "evt_other",
			Type:         billing.EventUnknown,
			ProviderType: "charge.refunded",
		})
		require.NoError(t, err)
	})
}

func TestHandleInvoicePaid(t *testing.T) {
	t.Parallel()

	t.Run("renewal grants plan credits and advances the period", func(t *testing.T) {
		t.Parallel()
		p := proPlan()
		sub := activeSub(uuid.New())
		sub.PlanID = p.ID
		e, proc, _ := newProcessorEnv(t, []plan.Plan{p}, sub)

		newStart := sub.CurrentPeriodEnd
		newEnd := sub.CurrentPeriodEnd.Add(30 * 24 * time.Hour)
		e.gateway.On("RetrieveSubscription", mock.Anything, "sub_provider_1").
			Return(&billing.Subscription{
				ID:                 "sub_provider_1",
				Status:             "active",
				CurrentPeriodStart: newStart,
				CurrentPeriodEnd:   newEnd,
			}, nil)

		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:             "evt_renewal",
			Type:           billing.EventInvoicePaid,
			SubscriptionID: "sub_provider_1",
			PriceID:        p.ProviderPriceID,
		})
		require.NoError(t, err)

		require.Equal(t, 1, e.ledger.count())
		grant := e.ledger.credits[0]
		assert.Equal(t, ledger.KindPlanPurchase, grant.Kind)
		assert.True(t, grant.Amount.Equal(p.CreditAmount))
		assert.Equal(t, "evt_renewal", grant.ReferenceID)

		stored, err := e.store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Equal(t, newEnd, stored.CurrentPeriodEnd)
		assert.Equal(t, newStart, stored.CurrentPeriodStart)
		require.NotNil(t, stored.LastRenewalDate)
		assert.Equal(t, subscription.StatusActive, stored.Status)
	})

	t.Run("initial invoice grants nothing", func(t *testing.T) {
		t.Parallel()
		p := proPlan()
		sub := activeSub(uuid.New())
		sub.PlanID = p.ID
		e, proc, _ := newProcessorEnv(t, []plan.Plan{p}, sub)

		// Same period as the local row: the purchase already credited it.
		e.gateway.On("RetrieveSubscription", mock.Anything, "sub_provider_1").
			Return(&billing.Subscription{
				ID:               "sub_provider_1",
				Status:           "active",
				CurrentPeriodEnd: sub.CurrentPeriodEnd,
			}, nil)

		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:             "evt_initial",
			Type:           billing.EventInvoicePaid,
			SubscriptionID: "sub_provider_1",
			PriceID:        p.ProviderPriceID,
		})
		require.NoError(t, err)
		assert.Zero(t, e.ledger.count())

		stored, err := e.store.GetByID(context.Background(), sub.ID)
		require.NoError(t, err)
		assert.Nil(t, stored.LastRenewalDate)
	})

	t.Run("replayed renewal credits once", func(t *testing.T) {
		t.Parallel()
		p := proPlan()
		sub := activeSub(uuid.New())
		sub.PlanID = p.ID
		e, proc, _ := newProcessorEnv(t, []plan.Plan{p}, sub)

		e.gateway.On("RetrieveSubscription", mock.Anything, "sub_provider_1").
			Return(&billing.Subscription{
				ID:               "sub_provider_1",
				Status:           "active",
				CurrentPeriodEnd: sub.CurrentPeriodEnd.Add(30 * 24 * time.Hour),
			}, nil)

		event := &billing.Event{
			ID:             "evt_renewal_replay",
			Type:           billing.EventInvoicePaid,
			SubscriptionID: "sub_provider_1",
			PriceID:        p.ProviderPriceID,
		}
		require.NoError(t, proc.HandleEvent(context.Background(), event))
		require.NoError(t, proc.HandleEvent(context.Background(), event))
		assert.Equal(t, 1, e.ledger.count())
	})
}

func TestHandlePaymentSucceeded(t *testing.T) {
	t.Parallel()

	t.Run("grants one-time credits from metadata", func(t *testing.T) {
		t.Parallel()
		userID := uuid.New()
		e, proc, _ := newProcessorEnv(t, nil)
		e.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_1").
			Return(&billing.PaymentIntent{
				ID:          "pi_1",
				Status:      "succeeded",
				AmountCents: 990,
				Currency:    "usd",
				Metadata: map[string]string{
					"user_id":       userID.String(),
					"credit_amount": "100",
				},
			}, nil)

		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:              "evt_pi",
			Type:            billing.EventPaymentSucceeded,
			PaymentIntentID: "pi_1",
		})
		require.NoError(t, err)

		require.Equal(t, 1, e.ledger.count())
		grant := e.ledger.credits[0]
		assert.Equal(t, ledger.KindOneTimePurchase, grant.Kind)
		assert.Equal(t, userID, grant.UserID)
		assert.True(t, grant.Amount.Equal(decimal.NewFromInt(100)))
		assert.Equal(t, "evt_pi", grant.ReferenceID)

		select {
		case note := <-e.notifier.ch:
			assert.Equal(t, subscription.NotificationPaymentConfirmed, note.Kind)
			assert.Equal(t, userID, note.UserID)
		case <-time.After(time.Second):
			t.Fatal("no payment notification dispatched")
		}
	})

	t.Run("no notification when the event record fails to commit", func(t *testing.T) {
		t.Parallel()
		userID := uuid.New()
		e := newEnv(t, nil)
		proc := subscription.NewProcessor(e.svc, &failingGuard{err: errors.New("commit failed")}, slog.Default())
		e.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_3").
			Return(&billing.PaymentIntent{
				ID:          "pi_3",
				Status:      "succeeded",
				AmountCents: 990,
				Currency:    "usd",
				Metadata: map[string]string{
					"user_id":       userID.String(),
					"credit_amount": "100",
				},
			}, nil)

		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:              "evt_pi_fail",
			Type:            billing.EventPaymentSucceeded,
			PaymentIntentID: "pi_3",
		})
		require.Error(t, err)
		assert.Zero(t, e.notifier.count())
	})

	t.Run("payments without credit metadata are skipped", func(t *testing.T) {
		t.Parallel()
		e, proc, _ := newProcessorEnv(t, nil)
		e.gateway.On("RetrievePaymentIntent", mock.Anything, "pi_2").
			Return(&billing.PaymentIntent{
				ID:       "pi_2",
				Status:   "succeeded",
				Metadata: map[string]string{},
			}, nil)

		err := proc.HandleEvent(context.Background(), &billing.Event{
			ID:              "evt_pi_skip",
			Type:            billing.EventPaymentSucceeded,
			PaymentIntentID: "pi_2",
		})
		require.NoError(t, err)
		assert.Zero(t, e.ledger.count())
	})
}
