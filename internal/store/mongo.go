// ABOUTME: MongoDB-backed access to the messages collection
// ABOUTME: History paging plus inbound inserts; replies are written by an external service

package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// MongoStore reads conversation messages from a MongoDB collection.
type MongoStore struct {
	client   *mongo.Client
	messages *mongo.Collection
	logger   *slog.Logger
}

// NewMongoStore connects to MongoDB and verifies the connection.
func NewMongoStore(ctx context.Context, uri, database, collection string, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	return &MongoStore{
		client:   client,
		messages: client.Database(database).Collection(collection),
		logger:   logger.With("component", "store"),
	}, nil
}

// Messages exposes the underlying collection for the change feed source.
func (s *MongoStore) Messages() *mongo.Collection {
	return s.messages
}

// InsertMessage persists a new message. Used for inbound documents; the
// processing service writes the outbound side.
func (s *MongoStore) InsertMessage(ctx context.Context, msg *Message) error {
	if msg.ID == "" {
		msg.ID = bson.NewObjectID().Hex()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("message inserted",
		"message_id", msg.ID,
		"tenant_id", msg.TenantID,
		"direction", msg.Direction)
	return nil
}

// ListMessages returns one page of messages for an agent conversation,
// oldest first. Page is 1-based; page size is clamped to 1-100.
func (s *MongoStore) ListMessages(ctx context.Context, p ListParams) ([]Message, error) {
	p = p.clamp()

	filter := bson.D{
		{Key: "tenantId", Value: p.TenantID},
		{Key: "participantId", Value: p.ParticipantID},
	}
	if p.Agent != "" {
		filter = append(filter, bson.E{Key: "agent", Value: p.Agent})
	}
	if p.WorkflowType != "" {
		filter = append(filter, bson.E{Key: "workflowType", Value: p.WorkflowType})
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetSkip(int64((p.Page - 1) * p.PageSize)).
		SetLimit(int64(p.PageSize))

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer cursor.Close(ctx)

	var out []Message
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}

	s.logger.Debug("history page loaded",
		"tenant_id", p.TenantID,
		"participant_id", p.ParticipantID,
		"page", p.Page,
		"count", len(out))
	return out, nil
}

// Close disconnects the MongoDB client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
