// Package ledger owns the credit balance and the append-only transaction log
// for each user. All balance mutation in the system goes through this
// package; other components (purchase workflows, trial grants, webhook
// handlers) post credits and debits here and never touch the balance
// directly.
//
// The core invariant: at any time a user's balance equals the signed sum of
// their transactions (credits add, debits subtract). Credit and Debit append
// a transaction and adjust the balance inside one database transaction, with
// the balance row locked for the duration of the read-modify-write, so
// concurrent operations against one user serialize and no update is lost.
// Debits that would take the balance negative fail with
// ErrInsufficientCredits before anything is written.
//
// Amounts are fixed-point decimals (shopspring/decimal) and serialize as
// exact decimal strings, never binary floats.
package ledger
