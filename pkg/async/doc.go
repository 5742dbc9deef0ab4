// Package async provides a small futures helper for running functions in
// background goroutines and collecting their results.
//
// Async starts a computation and returns a Future that can be awaited with
// or without a timeout. Fire is the fire-and-forget variant for side effects
// such as notification delivery.
package async
