// ABOUTME: WebSocket endpoint for live conversation sessions
// ABOUTME: Authenticates each connection, then hands it to a per-client loop

package session

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/wireline/chatrelay/internal/auth"
	"github.com/wireline/chatrelay/internal/broadcast"
	"github.com/wireline/chatrelay/internal/correlator"
	"github.com/wireline/chatrelay/internal/normalize"
	"github.com/wireline/chatrelay/internal/registry"
	"github.com/wireline/chatrelay/internal/store"
)

// DefaultRequestTimeout bounds how long an inbound message waits for its
// reply before the sender is told to stop waiting.
const DefaultRequestTimeout = 45 * time.Second

// HistoryStore pages persisted conversation messages.
type HistoryStore interface {
	ListMessages(ctx context.Context, p store.ListParams) ([]store.Message, error)
}

// Processor accepts an inbound message for handling and returns the
// request id the eventual reply will carry.
type Processor interface {
	ProcessInbound(ctx context.Context, tc *auth.TenantContext, in InboundRequest) (string, error)
}

// InboundRequest is a client-submitted message bound for the processing
// service.
type InboundRequest struct {
	ThreadID      string
	WorkflowID    string
	ParticipantID string
	Content       string
}

// Hub terminates WebSocket sessions. Each accepted connection gets its
// own read loop; all cross-connection state lives in the registry, the
// broadcaster, and the correlator.
type Hub struct {
	verifier       auth.TokenVerifier
	registry       *registry.Registry
	broadcaster    *broadcast.Broadcaster
	correlator     *correlator.Correlator
	history        HistoryStore
	processor      Processor
	normalizer     *normalize.Normalizer
	requestTimeout time.Duration
	active         atomic.Int64
	logger         *slog.Logger
}

// NewHub creates a session hub. requestTimeout <= 0 selects the default.
func NewHub(
	verifier auth.TokenVerifier,
	reg *registry.Registry,
	b *broadcast.Broadcaster,
	c *correlator.Correlator,
	history HistoryStore,
	processor Processor,
	requestTimeout time.Duration,
	logger *slog.Logger,
) *Hub {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		verifier:       verifier,
		registry:       reg,
		broadcaster:    b,
		correlator:     c,
		history:        history,
		processor:      processor,
		normalizer:     normalize.New(logger),
		requestTimeout: requestTimeout,
		logger:         logger.With("component", "session"),
	}
}

// ActiveConnections returns the number of live sessions.
func (h *Hub) ActiveConnections() int {
	return int(h.active.Load())
}

// ServeHTTP upgrades the request to a WebSocket session. A connection
// that fails authentication is still accepted so the client receives a
// ConnectionError event with status 401 before the close.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tc, authErr := auth.Authenticate(r, h.verifier)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	ctx := r.Context()

	if authErr != nil {
		h.logger.Info("connection rejected", "error", authErr)
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_ = wsjson.Write(writeCtx, conn, event{
			Kind:   broadcast.KindConnectionError,
			Status: http.StatusUnauthorized,
			Error:  "authentication failed",
		})
		cancel()
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication failed")
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		connID: uuid.New().String(),
		tenant: tc,
		subs:   make(map[string]string),
		logger: h.logger.With("tenant_id", tc.TenantID, "user_id", tc.UserID),
	}

	h.active.Add(1)
	defer h.active.Add(-1)

	c.logger.Info("session opened", "connection_id", c.connID)
	c.run(ctx)
	c.logger.Info("session closed", "connection_id", c.connID)
}
