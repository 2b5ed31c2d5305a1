// ABOUTME: Conversation message model shared by the feed watcher and history queries
// ABOUTME: Matches the document shape the external processing service writes

package store

import (
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ErrNotFound is returned when a requested message does not exist.
var ErrNotFound = errors.New("message not found")

// Direction indicates whether a message travelled toward or away from the agent.
type Direction string

const (
	DirectionInbound  Direction = "Inbound"
	DirectionOutgoing Direction = "Outgoing"
)

// Message is a stored conversation message. The relay writes the inbound
// side; the external processing service writes the outbound side.
type Message struct {
	ID            string        `bson:"_id"`
	TenantID      string        `bson:"tenantId"`
	WorkflowID    string        `bson:"workflowId"`
	ParticipantID string        `bson:"participantId"`
	Direction     Direction     `bson:"direction"`
	Content       *string       `bson:"content"`
	Metadata      bson.RawValue `bson:"metadata"`
	CreatedAt     time.Time     `bson:"createdAt"`
}

// Text returns the message content, or "" when content is null.
func (m *Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ListParams selects a page of messages for history queries.
type ListParams struct {
	TenantID      string
	Agent         string
	WorkflowType  string
	ParticipantID string
	Page          int
	PageSize      int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// clamp normalizes page and page size into their allowed ranges.
func (p ListParams) clamp() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize <= 0 {
		p.PageSize = defaultPageSize
	}
	if p.PageSize > maxPageSize {
		p.PageSize = maxPageSize
	}
	return p
}
