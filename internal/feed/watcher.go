// ABOUTME: Supervises a change feed subscription and keeps it alive across failures
// ABOUTME: Routes each outbound document to its subscriber group and any waiting request

package feed

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/wireline/chatrelay/internal/broadcast"
	"github.com/wireline/chatrelay/internal/correlator"
	"github.com/wireline/chatrelay/internal/normalize"
	"github.com/wireline/chatrelay/internal/store"
)

const (
	// DefaultTransientBackoff is the resubscribe delay after a short-lived
	// outage such as a network blip or primary election.
	DefaultTransientBackoff = 5 * time.Second

	// DefaultResubscribeBackoff is the resubscribe delay after any other
	// stream failure.
	DefaultResubscribeBackoff = 10 * time.Second
)

// metadataRequestIDKey is the metadata field that links an outbound
// document back to the inbound request waiting on it.
const metadataRequestIDKey = "requestId"

// Config tunes the watcher's recovery behaviour. Zero values select the
// defaults.
type Config struct {
	TransientBackoff   time.Duration
	ResubscribeBackoff time.Duration
}

// Watcher owns one feed subscription for the lifetime of the process.
// It never returns an error to its caller while the context is live:
// every failure is logged, backed off, and retried.
type Watcher struct {
	source      Source
	broadcaster *broadcast.Broadcaster
	correlator  *correlator.Correlator
	normalizer  *normalize.Normalizer
	cfg         Config
	logger      *slog.Logger
}

// NewWatcher creates a Watcher. Pass nil logger for default.
func NewWatcher(source Source, b *broadcast.Broadcaster, c *correlator.Correlator, cfg Config, logger *slog.Logger) *Watcher {
	if cfg.TransientBackoff <= 0 {
		cfg.TransientBackoff = DefaultTransientBackoff
	}
	if cfg.ResubscribeBackoff <= 0 {
		cfg.ResubscribeBackoff = DefaultResubscribeBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		source:      source,
		broadcaster: b,
		correlator:  c,
		normalizer:  normalize.New(logger),
		cfg:         cfg,
		logger:      logger.With("component", "feed-watcher"),
	}
}

// Run subscribes and consumes the feed until ctx is cancelled, which is
// the only way it returns.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		stream, err := w.source.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.backoff(ctx, err, "subscribe failed")
			continue
		}
		w.logger.Info("change feed subscribed")

		err = w.consume(ctx, stream)
		_ = stream.Close(context.WithoutCancel(ctx))
		if ctx.Err() != nil {
			w.logger.Info("change feed stopped")
			return nil
		}
		w.backoff(ctx, err, "change feed interrupted")
	}
}

// consume pumps batches out of one stream until it dies.
func (w *Watcher) consume(ctx context.Context, stream Stream) error {
	for {
		batch, err := stream.NextBatch(ctx)
		for i := range batch {
			w.dispatch(&batch[i])
		}
		if err != nil {
			return err
		}
	}
}

// dispatch routes a single outbound document. A bad document is logged
// and skipped; one poison message must not stall the feed.
func (w *Watcher) dispatch(msg *store.Message) {
	if msg.Direction != store.DirectionOutgoing {
		// The source filters server-side; this guards substitute sources.
		return
	}
	if msg.TenantID == "" || msg.ParticipantID == "" {
		w.logger.Warn("skipping document without routing fields", "message_id", msg.ID)
		return
	}

	kind := broadcast.KindReceiveMessage
	if msg.Text() == "" {
		kind = broadcast.KindReceiveMetadata
	}

	key := broadcast.GroupKey(msg.WorkflowID, msg.ParticipantID, msg.TenantID)
	w.broadcaster.Publish(key, broadcast.Event{Kind: kind, Message: msg})

	if id := w.requestID(msg); id != "" {
		if w.correlator.Complete(id, msg) {
			w.logger.Debug("resolved pending request", "request_id", id, "message_id", msg.ID)
		}
	}
}

// requestID extracts the correlation id from the document's normalized
// metadata, if present.
func (w *Watcher) requestID(msg *store.Message) string {
	meta, ok := w.normalizer.Value(msg.Metadata).(map[string]any)
	if !ok {
		return ""
	}
	id, _ := meta[metadataRequestIDKey].(string)
	return id
}

// backoff logs the failure and sleeps the class-appropriate delay,
// returning early if ctx is cancelled.
func (w *Watcher) backoff(ctx context.Context, err error, msg string) {
	delay := w.cfg.ResubscribeBackoff
	if IsTransient(err) {
		delay = w.cfg.TransientBackoff
	}
	if err == nil {
		err = errors.New("stream ended")
	}
	w.logger.Warn(msg, "error", err, "retry_in", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
