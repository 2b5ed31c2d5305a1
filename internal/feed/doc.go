// Package feed watches the message collection's change stream for newly
// inserted outbound documents and pushes each one to its subscriber
// group and to any request waiting on it. The watcher owns the
// subscription for the life of the process, classifying failures as
// transient or not and resubscribing after the matching backoff.
package feed
