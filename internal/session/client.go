// ABOUTME: Per-connection read loop and operation dispatch for live sessions
// ABOUTME: Owns the write lock, subscriptions, and cleanup for one WebSocket

package session

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/wireline/chatrelay/internal/auth"
	"github.com/wireline/chatrelay/internal/broadcast"
	"github.com/wireline/chatrelay/internal/correlator"
	"github.com/wireline/chatrelay/internal/store"
)

// Operations a client may invoke over the socket.
const (
	opRegisterThread       = "RegisterThread"
	opDisconnectThread     = "DisconnectThread"
	opGetThreadHistory     = "GetThreadHistory"
	opSendInboundMessage   = "SendInboundMessage"
	opSubscribeToAgent     = "SubscribeToAgent"
	opUnsubscribeFromAgent = "UnsubscribeFromAgent"
)

// kindThreadHistory carries a history page back to the requesting client.
const kindThreadHistory = "ThreadHistory"

// request is the envelope for every client-to-server frame.
type request struct {
	Op            string `json:"op"`
	ThreadID      string `json:"threadId,omitempty"`
	Agent         string `json:"agent,omitempty"`
	WorkflowType  string `json:"workflowType,omitempty"`
	WorkflowID    string `json:"workflowId,omitempty"`
	ParticipantID string `json:"participantId,omitempty"`
	Content       string `json:"content,omitempty"`
	Page          int    `json:"page,omitempty"`
	PageSize      int    `json:"pageSize,omitempty"`
}

// event is the envelope for every server-to-client frame.
type event struct {
	Kind      string           `json:"kind"`
	Status    int              `json:"status,omitempty"`
	RequestID string           `json:"requestId,omitempty"`
	Error     string           `json:"error,omitempty"`
	Message   *messagePayload  `json:"message,omitempty"`
	Messages  []messagePayload `json:"messages,omitempty"`
}

// messagePayload is the wire shape of a stored message. Metadata goes
// through the normalizer so clients see plain JSON values instead of
// BSON internals.
type messagePayload struct {
	ID            string          `json:"id"`
	TenantID      string          `json:"tenantId"`
	WorkflowID    string          `json:"workflowId,omitempty"`
	ParticipantID string          `json:"participantId"`
	Direction     store.Direction `json:"direction"`
	Content       *string         `json:"content,omitempty"`
	Metadata      any             `json:"metadata,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	connID string
	tenant *auth.TenantContext

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]string // group key -> subscription id

	logger *slog.Logger
}

// run reads frames until the connection dies, then releases everything
// the connection owned.
func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.cleanup()

	for {
		var req request
		if err := wsjson.Read(ctx, c.conn, &req); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Debug("read failed", "error", err)
			return
		}
		c.dispatch(ctx, req)
	}
}

func (c *client) dispatch(ctx context.Context, req request) {
	if !c.ensureTenant(ctx) {
		return
	}

	switch req.Op {
	case opRegisterThread:
		c.registerThread(req)
	case opDisconnectThread:
		c.disconnectThread(req)
	case opGetThreadHistory:
		c.threadHistory(ctx, req)
	case opSendInboundMessage:
		c.sendInbound(ctx, req)
	case opSubscribeToAgent:
		c.subscribe(ctx, req)
	case opUnsubscribeFromAgent:
		c.unsubscribe(req)
	default:
		c.logger.Warn("unknown operation", "op", req.Op)
		c.send(ctx, event{
			Kind:   broadcast.KindConnectionError,
			Status: http.StatusBadRequest,
			Error:  "unknown operation: " + req.Op,
		})
	}
}

// ensureTenant re-checks the identity precondition on every operation.
// The tenant is bound at connect, so a miss here means the session state
// was torn down underneath us.
func (c *client) ensureTenant(ctx context.Context) bool {
	if c.tenant != nil && c.tenant.TenantID != "" {
		return true
	}
	c.send(ctx, event{
		Kind:   broadcast.KindConnectionError,
		Status: http.StatusUnauthorized,
		Error:  "missing tenant context",
	})
	return false
}

func (c *client) registerThread(req request) {
	if req.ThreadID == "" {
		return
	}
	c.hub.registry.Bind(req.ThreadID, c.connID)
}

func (c *client) disconnectThread(req request) {
	if req.ThreadID == "" {
		return
	}
	c.hub.registry.UnbindThread(req.ThreadID, c.connID)
}

func (c *client) threadHistory(ctx context.Context, req request) {
	messages, err := c.hub.history.ListMessages(ctx, store.ListParams{
		TenantID:      c.tenant.TenantID,
		Agent:         req.Agent,
		WorkflowType:  req.WorkflowType,
		ParticipantID: req.ParticipantID,
		Page:          req.Page,
		PageSize:      req.PageSize,
	})
	if err != nil {
		c.logger.Error("history query failed", "error", err)
		c.send(ctx, event{
			Kind:   broadcast.KindConnectionError,
			Status: http.StatusInternalServerError,
			Error:  "history unavailable",
		})
		return
	}
	page := make([]messagePayload, 0, len(messages))
	for i := range messages {
		page = append(page, *c.payload(&messages[i]))
	}
	c.send(ctx, event{Kind: kindThreadHistory, Messages: page})
}

// sendInbound hands the message to the processor and waits, off the read
// loop, for the correlated reply. The reply also reaches group
// subscribers via the broadcaster; this path just closes the loop for
// the sender.
func (c *client) sendInbound(ctx context.Context, req request) {
	if req.ThreadID != "" {
		c.hub.registry.Bind(req.ThreadID, c.connID)
	}

	requestID, err := c.hub.processor.ProcessInbound(ctx, c.tenant, InboundRequest{
		ThreadID:      req.ThreadID,
		WorkflowID:    req.WorkflowID,
		ParticipantID: req.ParticipantID,
		Content:       req.Content,
	})
	if err != nil {
		c.logger.Error("inbound processing failed", "error", err)
		c.send(ctx, event{
			Kind:   broadcast.KindConnectionError,
			Status: http.StatusInternalServerError,
			Error:  "inbound processing failed",
		})
		return
	}

	go func() {
		reply, err := correlator.Wait[*store.Message](c.hub.correlator, ctx, requestID, c.hub.requestTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.send(ctx, event{
				Kind:      broadcast.KindInboundProcessed,
				RequestID: requestID,
				Error:     err.Error(),
			})
			return
		}
		c.send(ctx, event{
			Kind:      broadcast.KindInboundProcessed,
			RequestID: requestID,
			Message:   c.payload(reply),
		})
	}()
}

func (c *client) subscribe(ctx context.Context, req request) {
	if req.WorkflowID == "" || req.ParticipantID == "" {
		return
	}
	// Tenant comes from the verified token, never from the frame.
	key := broadcast.GroupKey(req.WorkflowID, req.ParticipantID, c.tenant.TenantID)

	c.subMu.Lock()
	if _, exists := c.subs[key]; exists {
		c.subMu.Unlock()
		return
	}
	ch, subID := c.hub.broadcaster.Subscribe(ctx, key)
	c.subs[key] = subID
	c.subMu.Unlock()

	c.logger.Debug("group subscribed", "group_key", key)

	go func() {
		for ev := range ch {
			c.send(ctx, event{Kind: ev.Kind, Message: c.payload(ev.Message)})
		}
	}()
}

func (c *client) unsubscribe(req request) {
	key := broadcast.GroupKey(req.WorkflowID, req.ParticipantID, c.tenant.TenantID)

	c.subMu.Lock()
	subID, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.subMu.Unlock()

	if ok {
		c.hub.broadcaster.Unsubscribe(key, subID)
		c.logger.Debug("group unsubscribed", "group_key", key)
	}
}

// payload converts a stored message for the wire.
func (c *client) payload(m *store.Message) *messagePayload {
	if m == nil {
		return nil
	}
	return &messagePayload{
		ID:            m.ID,
		TenantID:      m.TenantID,
		WorkflowID:    m.WorkflowID,
		ParticipantID: m.ParticipantID,
		Direction:     m.Direction,
		Content:       m.Content,
		Metadata:      c.hub.normalizer.Value(m.Metadata),
		CreatedAt:     m.CreatedAt,
	}
}

// cleanup releases thread bindings and group subscriptions when the
// connection goes away for any reason.
func (c *client) cleanup() {
	c.hub.registry.Unbind(c.connID)

	c.subMu.Lock()
	subs := c.subs
	c.subs = make(map[string]string)
	c.subMu.Unlock()

	for key, subID := range subs {
		c.hub.broadcaster.Unsubscribe(key, subID)
	}
}

// send serializes one event onto the socket. Writes from the read loop,
// reply waiters, and subscription forwarders all funnel through here.
func (c *client) send(ctx context.Context, ev event) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := wsjson.Write(ctx, c.conn, ev); err != nil {
		c.logger.Debug("write failed", "kind", ev.Kind, "error", err)
	}
}
