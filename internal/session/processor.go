// ABOUTME: Default inbound processor that persists client messages to the store
// ABOUTME: Stamps each document with the request id its reply must echo

package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/wireline/chatrelay/internal/auth"
	"github.com/wireline/chatrelay/internal/store"
)

// MessageInserter persists inbound documents.
type MessageInserter interface {
	InsertMessage(ctx context.Context, msg *store.Message) error
}

// StoreProcessor implements Processor by writing the inbound document to
// the message collection. The external processing service picks it up
// from there and writes the outbound reply, which comes back through the
// change feed carrying the same request id in its metadata.
type StoreProcessor struct {
	inserter MessageInserter
	logger   *slog.Logger
}

// NewStoreProcessor creates a StoreProcessor. Pass nil logger for default.
func NewStoreProcessor(inserter MessageInserter, logger *slog.Logger) *StoreProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreProcessor{
		inserter: inserter,
		logger:   logger.With("component", "processor"),
	}
}

// ProcessInbound persists the message and returns its request id.
func (p *StoreProcessor) ProcessInbound(ctx context.Context, tc *auth.TenantContext, in InboundRequest) (string, error) {
	requestID := uuid.New().String()

	meta, err := bson.Marshal(bson.D{
		{Key: "requestId", Value: requestID},
		{Key: "threadId", Value: in.ThreadID},
		{Key: "userId", Value: tc.UserID},
	})
	if err != nil {
		return "", fmt.Errorf("encoding metadata: %w", err)
	}

	content := in.Content
	msg := &store.Message{
		TenantID:      tc.TenantID,
		WorkflowID:    in.WorkflowID,
		ParticipantID: in.ParticipantID,
		Direction:     store.DirectionInbound,
		Content:       &content,
		Metadata:      bson.RawValue{Type: bson.TypeEmbeddedDocument, Value: meta},
	}

	if err := p.inserter.InsertMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("persisting inbound message: %w", err)
	}

	p.logger.Debug("inbound message accepted",
		"request_id", requestID,
		"tenant_id", tc.TenantID,
		"participant_id", in.ParticipantID)
	return requestID, nil
}
