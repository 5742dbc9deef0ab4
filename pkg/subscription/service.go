package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aigensolutions/billingcore/pkg/async"
	"github.com/aigensolutions/billingcore/pkg/billing"
	"github.com/aigensolutions/billingcore/pkg/ledger"
	"github.com/aigensolutions/billingcore/pkg/plan"
)

// defaultBillingPeriod is the single billing interval the catalog sells.
const defaultBillingPeriod = 30 * 24 * time.Hour

// CreditLedger is the slice of the ledger API the purchase workflows use.
type CreditLedger interface {
	Credit(ctx context.Context, params ledger.CreditParams) (*ledger.Transaction, error)
}

// PlanCatalog resolves plans for purchases and webhook correlation.
type PlanCatalog interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*plan.Plan, error)
	GetPlanByProviderPrice(ctx context.Context, priceID string) (*plan.Plan, error)
}

// TrialState reports whether a user has consumed their one-time trial.
type TrialState interface {
	HasConsumedInitialTrial(ctx context.Context, userID uuid.UUID) (bool, error)
}

// Service owns purchase workflows and provider reconciliation. All credit
// changes go through the ledger; the service never touches balances
// directly.
type Service struct {
	store         Store
	ledger        CreditLedger
	plans         PlanCatalog
	gateway       billing.Gateway
	trials        TrialState
	notifier      Notifier
	log           *slog.Logger
	now           func() time.Time
	billingPeriod time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifier sets the notification channel. Defaults to a LogNotifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithBillingPeriod overrides the subscription period length.
func WithBillingPeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.billingPeriod = d
		}
	}
}

// NewService creates the subscription service. Panics if a required
// dependency is nil to fail fast during initialization.
func NewService(store Store, credits CreditLedger, plans PlanCatalog, gateway billing.Gateway, trials TrialState, opts ...Option) *Service {
	if store == nil {
		panic("subscription: Store is required")
	}
	if credits == nil {
		panic("subscription: CreditLedger is required")
	}
	if plans == nil {
		panic("subscription: PlanCatalog is required")
	}
	if gateway == nil {
		panic("subscription: billing.Gateway is required")
	}
	if trials == nil {
		panic("subscription: TrialState is required")
	}

	s := &Service{
		store:         store,
		ledger:        credits,
		plans:         plans,
		gateway:       gateway,
		trials:        trials,
		log:           slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		billingPeriod: defaultBillingPeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.log)
	}
	return s
}

// GetSubscription returns the user's currently active subscription.
func (s *Service) GetSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	return s.store.GetActiveByUserID(ctx, userID)
}

// PurchasePlan creates a subscription for the plan and grants its credit
// amount in the same transaction. First-time users of a trial-eligible plan
// start in trialing with a trial end date; the credit grant is immediate
// either way. Any previously active subscription is deactivated so one
// subscription at a time carries entitlement.
func (s *Service) PurchasePlan(ctx context.Context, userID, planID uuid.UUID, referenceID string) (*ledger.Transaction, *Subscription, error) {
	p, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}

	consumedTrial, err := s.trials.HasConsumedInitialTrial(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("check trial state: %w", err)
	}

	now := s.now()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanID:             p.ID,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(s.billingPeriod),
		IsActive:           true,
		AutoRenew:          true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if p.IsTrialEligible && !consumedTrial {
		sub.Status = StatusTrialing
		trialEnd := p.TrialEndsAt(now)
		sub.TrialEndDate = &trialEnd
	}

	var tx *ledger.Transaction
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		if err := s.store.DeactivateForUser(ctx, userID); err != nil {
			return err
		}
		if err := s.store.Create(ctx, sub); err != nil {
			return err
		}
		tx, err = s.ledger.Credit(ctx, ledger.CreditParams{
			UserID:      userID,
			Amount:      p.CreditAmount,
			Kind:        ledger.KindPlanPurchase,
			ReferenceID: referenceID,
			Description: fmt.Sprintf("Purchase of plan %s", p.Name),
			Monetary:    &ledger.Money{AmountCents: p.PriceCents, Currency: p.Currency},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.InfoContext(ctx, "plan purchased",
		slog.String("user_id", userID.String()),
		slog.String("plan_id", p.ID.String()),
		slog.String("status", string(sub.Status)),
	)
	s.notify(ctx, Notification{
		UserID:  userID,
		Kind:    NotificationPlanPurchased,
		Message: fmt.Sprintf("Your %s plan is now active.", p.Name),
	})
	return tx, sub, nil
}

// UpgradePlan deactivates the user's current subscription and creates one on
// the new plan, granting the new plan's full credit amount. The grant is not
// prorated against the old plan.
func (s *Service) UpgradePlan(ctx context.Context, userID, currentSubID, newPlanID uuid.UUID, referenceID string) (*ledger.Transaction, *Subscription, error) {
	current, err := s.store.GetByID(ctx, currentSubID)
	if err != nil {
		return nil, nil, err
	}
	if current.UserID != userID {
		return nil, nil, ErrSubscriptionNotFound
	}

	newPlan, err := s.plans.GetPlan(ctx, newPlanID)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	sub := &Subscription{
		ID:                 uuid.New(),
		UserID:             userID,
		PlanID:             newPlan.ID,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.Add(s.billingPeriod),
		IsActive:           true,
		AutoRenew:          true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	var tx *ledger.Transaction
	err = s.store.InTx(ctx, func(ctx context.Context) error {
		current.IsActive = false
		current.Status = StatusCanceled
		current.UpdatedAt = now
		if err := s.store.Update(ctx, current); err != nil {
			return err
		}
		if err := s.store.Create(ctx, sub); err != nil {
			return err
		}
		tx, err = s.ledger.Credit(ctx, ledger.CreditParams{
			UserID:      userID,
			Amount:      newPlan.CreditAmount,
			Kind:        ledger.KindPlanUpgrade,
			ReferenceID: referenceID,
			Description: fmt.Sprintf("Upgrade to plan %s", newPlan.Name),
			Monetary:    &ledger.Money{AmountCents: newPlan.PriceCents, Currency: newPlan.Currency},
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.InfoContext(ctx, "plan upgraded",
		slog.String("user_id", userID.String()),
		slog.String("from_subscription_id", currentSubID.String()),
		slog.String("to_plan_id", newPlan.ID.String()),
	)
	s.notify(ctx, Notification{
		UserID:  userID,
		Kind:    NotificationPlanUpgraded,
		Message: fmt.Sprintf("Your plan was upgraded to %s.", newPlan.Name),
	})
	return tx, sub, nil
}

// PurchaseOneTime grants credits without creating a subscription.
func (s *Service) PurchaseOneTime(ctx context.Context, userID uuid.UUID, creditAmount decimal.Decimal, priceCents int64, currency, referenceID string) (*ledger.Transaction, error) {
	tx, err := s.purchaseOneTime(ctx, userID, creditAmount, priceCents, currency, referenceID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, oneTimePurchaseNotification(userID, creditAmount))
	return tx, nil
}

// purchaseOneTime is the grant without the notification, for callers that
// must defer dispatch until their surrounding transaction has committed.
func (s *Service) purchaseOneTime(ctx context.Context, userID uuid.UUID, creditAmount decimal.Decimal, priceCents int64, currency, referenceID string) (*ledger.Transaction, error) {
	if !creditAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	return s.ledger.Credit(ctx, ledger.CreditParams{
		UserID:      userID,
		Amount:      creditAmount,
		Kind:        ledger.KindOneTimePurchase,
		ReferenceID: referenceID,
		Description: "One-time credit purchase",
		Monetary:    &ledger.Money{AmountCents: priceCents, Currency: currency},
	})
}

func oneTimePurchaseNotification(userID uuid.UUID, creditAmount decimal.Decimal) Notification {
	return Notification{
		UserID:  userID,
		Kind:    NotificationPaymentConfirmed,
		Message: fmt.Sprintf("%s credits were added to your account.", creditAmount.String()),
	}
}

// SetAutoRenew toggles auto-renewal. Turning it off is how a user cancels:
// the subscription stays entitled through the current period end and simply
// does not renew. An ownership mismatch reads as not found.
func (s *Service) SetAutoRenew(ctx context.Context, userID, subscriptionID uuid.UUID, autoRenew bool) (*Subscription, error) {
	sub, err := s.store.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, ErrSubscriptionNotFound
	}

	sub.AutoRenew = autoRenew
	sub.UpdatedAt = s.now()
	if err := s.store.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "auto renew changed",
		slog.String("subscription_id", sub.ID.String()),
		slog.Bool("auto_renew", autoRenew),
	)
	return sub, nil
}

// notify dispatches a notification request without blocking the caller and
// detached from the request's cancellation. Delivery failures are logged,
// never returned.
func (s *Service) notify(ctx context.Context, n Notification) {
	async.Fire(context.WithoutCancel(ctx), n, func(ctx context.Context, n Notification) error {
		if err := s.notifier.Notify(ctx, n); err != nil {
			s.log.ErrorContext(ctx, "notification delivery failed",
				slog.String("user_id", n.UserID.String()),
				slog.String("kind", string(n.Kind)),
				slog.Any("error", err),
			)
		}
		return nil
	})
}
