// Package billing is the only component that talks to the external billing
// provider. It exposes a thin Gateway facade over the provider's subscription
// and payment-intent surface, plus webhook signature verification and
// normalized event parsing.
//
// Every provider call is wrapped by the retry package: transient transport
// failures are retried with backoff, authentication failures surface
// immediately as ErrAuth (fatal misconfiguration that must alert operators),
// and exhausted retries surface as ErrUnavailable, which callers may safely
// retry later. A "not found" response from the provider is a normal outcome
// (the object was deleted upstream), reported as ErrNotFound and never
// confused with a transport failure.
//
// No other package imports the provider SDK.
package billing
