// Package trial issues the one-time trial credit grant for new users. The
// has_consumed_initial_trial flag and the credit commit together, so the
// grant happens exactly once even under concurrent calls.
package trial

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aigensolutions/billingcore/pkg/ledger"
	"github.com/aigensolutions/billingcore/pkg/plan"
)

var ErrUserNotFound = errors.New("trial: user not found")

// defaultTrialCredits is the fallback grant when no trial-eligible plan
// defines one.
var defaultTrialCredits = decimal.NewFromInt(10)

// UserStore owns the per-user trial flag. GetFlagForUpdate must lock the
// user row so concurrent grants serialize on it.
type UserStore interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetFlagForUpdate(ctx context.Context, userID uuid.UUID) (bool, error)
	SetTrialConsumed(ctx context.Context, userID uuid.UUID) error
	HasConsumedInitialTrial(ctx context.Context, userID uuid.UUID) (bool, error)
}

// CreditLedger is the slice of the ledger API the controller uses.
type CreditLedger interface {
	Credit(ctx context.Context, params ledger.CreditParams) (*ledger.Transaction, error)
}

// PlanCatalog lists plans so the grant size can follow the trial-eligible
// plan's configuration.
type PlanCatalog interface {
	ListActivePublicPlans(ctx context.Context) ([]plan.Plan, error)
}

// Controller performs the one-shot trial grant.
type Controller struct {
	users   UserStore
	ledger  CreditLedger
	plans   PlanCatalog
	credits decimal.Decimal
	log     *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithPlanCatalog derives the grant size from the first trial-eligible
// plan's credits_awarded instead of the fixed fallback.
func WithPlanCatalog(plans PlanCatalog) Option {
	return func(c *Controller) { c.plans = plans }
}

// WithTrialCredits overrides the fallback grant size.
func WithTrialCredits(amount decimal.Decimal) Option {
	return func(c *Controller) {
		if amount.IsPositive() {
			c.credits = amount
		}
	}
}

// NewController creates the trial grant controller. Panics on nil required
// dependencies to fail fast during initialization.
func NewController(users UserStore, credits CreditLedger, opts ...Option) *Controller {
	if users == nil {
		panic("trial: UserStore is required")
	}
	if credits == nil {
		panic("trial: CreditLedger is required")
	}
	c := &Controller{
		users:   users,
		ledger:  credits,
		credits: defaultTrialCredits,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GrantInitialTrialIfEligible grants the trial credits once per user. A user
// who already consumed the trial gets granted=false and no mutation; calling
// it again is always safe. The flag flip and the credit commit in one
// transaction, and the flag read locks the user row so N concurrent calls
// produce exactly one grant.
func (c *Controller) GrantInitialTrialIfEligible(ctx context.Context, userID uuid.UUID) (bool, *ledger.Transaction, error) {
	consumed, err := c.users.HasConsumedInitialTrial(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	if consumed {
		return false, nil, nil
	}

	amount := c.trialAmount(ctx)

	var tx *ledger.Transaction
	granted := false
	err = c.users.InTx(ctx, func(ctx context.Context) error {
		consumed, err := c.users.GetFlagForUpdate(ctx, userID)
		if err != nil {
			return err
		}
		if consumed {
			return nil
		}
		if err := c.users.SetTrialConsumed(ctx, userID); err != nil {
			return err
		}
		tx, err = c.ledger.Credit(ctx, ledger.CreditParams{
			UserID:      userID,
			Amount:      amount,
			Kind:        ledger.KindCreditAdded,
			ReferenceID: "trial:" + userID.String(),
			Description: "Initial trial credits",
		})
		if err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	if !granted {
		return false, nil, nil
	}

	c.log.InfoContext(ctx, "trial credits granted",
		slog.String("user_id", userID.String()),
		slog.String("amount", amount.String()),
	)
	return true, tx, nil
}

// trialAmount resolves the grant size from the catalog's trial-eligible
// plan, falling back to the configured fixed amount.
func (c *Controller) trialAmount(ctx context.Context) decimal.Decimal {
	if c.plans == nil {
		return c.credits
	}
	plans, err := c.plans.ListActivePublicPlans(ctx)
	if err != nil {
		c.log.WarnContext(ctx, "trial amount lookup failed, using fallback",
			slog.Any("error", err),
		)
		return c.credits
	}
	for _, p := range plans {
		if p.IsTrialEligible && p.CreditsAwarded.IsPositive() {
			return p.CreditsAwarded
		}
	}
	return c.credits
}
