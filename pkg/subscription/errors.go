package subscription

import "errors"

var (
	// ErrSubscriptionNotFound is returned for missing rows and for
	// ownership mismatches, so callers cannot probe for other users'
	// subscription IDs.
	ErrSubscriptionNotFound = errors.New("subscription: subscription not found")

	ErrInvalidAmount = errors.New("subscription: credit amount must be positive")
)
