// Package correlator parks callers waiting on a request id until the
// matching asynchronous reply arrives. Each entry resolves exactly once,
// a background sweeper reaps entries whose deadline has passed, and
// shutdown cancels every outstanding waiter.
package correlator
