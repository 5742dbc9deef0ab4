package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the local subscription lifecycle state.
type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusCanceled Status = "canceled"
)

// Entitled reports whether the status grants access. past_due keeps
// entitlement during the provider's payment retry window.
func (s Status) Entitled() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	}
	return false
}

// Subscription is the locally-owned subscription record. At most one
// subscription per user has IsActive=true; prior rows are kept as history.
type Subscription struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	PlanID                 uuid.UUID
	ProviderSubscriptionID string
	Status                 Status
	CurrentPeriodStart     time.Time
	CurrentPeriodEnd       time.Time
	TrialEndDate           *time.Time
	IsActive               bool
	AutoRenew              bool
	CancelAtPeriodEnd      bool
	LastRenewalDate        *time.Time
	CancellationReason     string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Store defines subscription persistence. Implementations return
// ErrSubscriptionNotFound for missing rows.
type Store interface {
	// InTx runs fn inside a transaction; nested calls join the outer one.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// GetActiveByUserID returns the user's is_active=true subscription,
	// newest first should history ever contain more than one.
	GetActiveByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)

	GetByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error

	// DeactivateForUser clears is_active on every subscription the user
	// has, keeping each row's status for history.
	DeactivateForUser(ctx context.Context, userID uuid.UUID) error
}
