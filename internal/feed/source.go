// ABOUTME: Source and Stream abstractions over a store-native change feed
// ABOUTME: Lets the watcher supervise real change streams and test doubles alike

package feed

import (
	"context"

	"github.com/wireline/chatrelay/internal/store"
)

// Stream is one live subscription to a change feed. NextBatch blocks
// until at least one new document arrives, then returns it together with
// whatever else the feed already buffered.
type Stream interface {
	NextBatch(ctx context.Context) ([]store.Message, error)
	Close(ctx context.Context) error
}

// Source opens change feed subscriptions. Each Subscribe call starts a
// fresh stream; the watcher re-subscribes after a stream dies.
type Source interface {
	Subscribe(ctx context.Context) (Stream, error)
}
