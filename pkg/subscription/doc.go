// Package subscription owns the local subscription record per user, the
// purchase workflows that grant ledger credits, and reconciliation of local
// state against the billing provider.
//
// The Service exposes purchase operations (PurchasePlan, UpgradePlan,
// PurchaseOneTime), lifecycle toggles (SetAutoRenew, CancelUserSubscription)
// and on-demand reconciliation (Sync). The Processor applies verified
// provider webhook events under an idempotency guard so at-least-once
// delivery never double-applies a mutation.
//
// All credit changes flow through the ledger package; this package never
// mutates balances directly. Status sync performs no ledger mutation at all:
// credits are granted only by purchases and renewal handling.
package subscription
