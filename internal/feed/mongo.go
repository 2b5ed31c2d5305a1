// ABOUTME: Change-stream Source backed by a MongoDB collection watch
// ABOUTME: Filters server-side to freshly inserted outbound messages

package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/wireline/chatrelay/internal/store"
)

// Server error codes that indicate a replica set election in progress.
// Streams dropped for these reasons come back quickly, so the watcher
// treats them as transient.
const (
	codeNotWritablePrimary = 10107
	codeShutdownInProgress = 91
)

// MongoSource opens change streams against the message collection.
type MongoSource struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoSource creates a Source watching the given collection. Pass
// nil logger for default.
func NewMongoSource(collection *mongo.Collection, logger *slog.Logger) *MongoSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoSource{
		collection: collection,
		logger:     logger.With("component", "feed-source"),
	}
}

// Subscribe opens a new change stream filtered to inserted outbound
// messages. Inbound writes and updates never reach the watcher.
func (s *MongoSource) Subscribe(ctx context.Context) (Stream, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: "insert"},
			{Key: "fullDocument.direction", Value: string(store.DirectionOutgoing)},
		}}},
	}

	cs, err := s.collection.Watch(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("opening change stream: %w", err)
	}
	return &mongoStream{cur: cs, logger: s.logger}, nil
}

// changeCursor is the slice of mongo.ChangeStream the stream consumes.
type changeCursor interface {
	Next(ctx context.Context) bool
	TryNext(ctx context.Context) bool
	Decode(val any) error
	RemainingBatchLength() int
	Err() error
	Close(ctx context.Context) error
}

type mongoStream struct {
	cur    changeCursor
	logger *slog.Logger
}

type changeDocument struct {
	FullDocument messageDocument `bson:"fullDocument"`
}

// messageDocument mirrors store.Message but defers _id decoding: our own
// inserts carry hex string ids while documents written with the driver's
// default id generator carry ObjectIDs, and both must route.
type messageDocument struct {
	ID            bson.RawValue   `bson:"_id"`
	TenantID      string          `bson:"tenantId"`
	WorkflowID    string          `bson:"workflowId"`
	ParticipantID string          `bson:"participantId"`
	Direction     store.Direction `bson:"direction"`
	Content       *string         `bson:"content"`
	Metadata      bson.RawValue   `bson:"metadata"`
	CreatedAt     time.Time       `bson:"createdAt"`
}

func (d *messageDocument) message() store.Message {
	id := ""
	switch d.ID.Type {
	case bson.TypeString:
		id = d.ID.StringValue()
	case bson.TypeObjectID:
		id = d.ID.ObjectID().Hex()
	default:
		if len(d.ID.Value) > 0 {
			id = d.ID.String()
		}
	}
	return store.Message{
		ID:            id,
		TenantID:      d.TenantID,
		WorkflowID:    d.WorkflowID,
		ParticipantID: d.ParticipantID,
		Direction:     d.Direction,
		Content:       d.Content,
		Metadata:      d.Metadata,
		CreatedAt:     d.CreatedAt,
	}
}

// NextBatch blocks for the next change, then drains the rest of the
// server batch without blocking so a burst of inserts is delivered as
// one slice. An undecodable document costs only itself: it is logged
// and skipped, and the rest of the batch is still delivered.
func (m *mongoStream) NextBatch(ctx context.Context) ([]store.Message, error) {
	if !m.cur.Next(ctx) {
		if err := m.cur.Err(); err != nil {
			return nil, err
		}
		return nil, ctx.Err()
	}

	var batch []store.Message
	for {
		var doc changeDocument
		if err := m.cur.Decode(&doc); err != nil {
			m.logger.Warn("skipping undecodable change event", "error", err)
		} else {
			batch = append(batch, doc.FullDocument.message())
		}

		if m.cur.RemainingBatchLength() == 0 {
			break
		}
		if !m.cur.TryNext(ctx) {
			if err := m.cur.Err(); err != nil {
				return batch, err
			}
			break
		}
	}
	return batch, nil
}

func (m *mongoStream) Close(ctx context.Context) error {
	return m.cur.Close(ctx)
}

// IsTransient reports whether err looks like a short-lived feed outage:
// network blips, timeouts, or a primary stepping down. Anything else is
// treated as a longer outage and retried on the slower cadence.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case codeNotWritablePrimary, codeShutdownInProgress:
			return true
		}
	}
	return false
}
