// ABOUTME: In-memory fan-out broadcaster keyed by workflow/participant/tenant group
// ABOUTME: Delivers outbound events to every subscribed connection without polling

package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/wireline/chatrelay/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Event kinds delivered to subscribers.
const (
	KindReceiveMessage   = "ReceiveMessage"
	KindReceiveMetadata  = "ReceiveMetadata"
	KindInboundProcessed = "InboundProcessed"
	KindConnectionError  = "ConnectionError"
)

// Event is a single outbound notification for a subscriber group.
type Event struct {
	Kind    string         `json:"kind"`
	Message *store.Message `json:"message,omitempty"`
}

// GroupKey builds the routing key for a workflow/participant/tenant triple.
// All three parts matter: two tenants sharing workflow and participant ids
// must never see each other's events.
func GroupKey(workflowID, participantID, tenantID string) string {
	return fmt.Sprintf("%s:%s:%s", workflowID, participantID, tenantID)
}

// Broadcaster provides in-memory pub/sub for outbound events. Subscribers
// register for a group key and receive events as the change feed emits
// them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // groupKey -> subID -> ch
	logger      *slog.Logger
}

// New creates a Broadcaster. Pass nil logger for default.
func New(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for events on the given group key.
// Returns a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx
// is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, groupKey string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[groupKey]; !ok {
		b.subscribers[groupKey] = make(map[string]chan Event)
	}
	b.subscribers[groupKey][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"group_key", groupKey,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(groupKey, subID)
	}()

	return ch, subID
}

// Publish sends an event to all subscribers of the given group key.
// Non-blocking: events are dropped for subscribers whose channels are full.
//
// The read lock is held across the sends. Channels are only closed under
// the write lock, so a send can never race a close; the sends never
// block, so the hold is bounded.
func (b *Broadcaster) Publish(groupKey string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[groupKey] {
		select {
		case ch <- event:
			// Sent
		default:
			// Subscriber channel full — drop event for this subscriber
			b.logger.Debug("dropped event for slow subscriber",
				"group_key", groupKey,
				"kind", event.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(groupKey, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[groupKey]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty group key entries
	if len(subs) == 0 {
		delete(b.subscribers, groupKey)
	}

	b.logger.Debug("subscriber removed",
		"group_key", groupKey,
		"sub_id", subID)
}

// GroupCount returns the number of group keys with at least one subscriber.
func (b *Broadcaster) GroupCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for groupKey, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, groupKey)
	}

	b.logger.Debug("broadcaster closed")
}
