// Package webhookguard makes webhook event application idempotent under
// at-least-once delivery.
//
// The Guard remembers which event ids have been fully applied in a
// processed_events table, records the id in the same transaction as the
// handler's mutation, and serializes events for the same scope key with a
// transaction-scoped advisory lock. An optional Redis fast path short-cuts
// duplicate checks for recent events without being load-bearing: the
// database record is the source of truth.
package webhookguard
