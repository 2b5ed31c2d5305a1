// ABOUTME: Thread-to-connection binding table with a reverse index for disconnects
// ABOUTME: Last writer wins; safe for concurrent reads and writes

package registry

import (
	"log/slog"
	"sync"
)

// Registry tracks which live connection currently owns each logical
// thread id. Bindings are a pure cross-reference: no other component
// mutates them, and a thread has at most one owning connection at a time.
type Registry struct {
	mu       sync.RWMutex
	byThread map[string]string              // thread id -> connection id
	byConn   map[string]map[string]struct{} // connection id -> owned thread ids
	logger   *slog.Logger
}

// New creates an empty Registry. Pass nil logger for default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byThread: make(map[string]string),
		byConn:   make(map[string]map[string]struct{}),
		logger:   logger.With("component", "registry"),
	}
}

// Bind records connID as the owner of threadID, overwriting any prior
// binding for the thread. Rebinding the same pair is a no-op.
func (r *Registry) Bind(threadID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byThread[threadID]; ok {
		if prev == connID {
			return
		}
		r.dropReverse(prev, threadID)
	}

	r.byThread[threadID] = connID
	threads, ok := r.byConn[connID]
	if !ok {
		threads = make(map[string]struct{})
		r.byConn[connID] = threads
	}
	threads[threadID] = struct{}{}

	r.logger.Debug("thread bound", "thread_id", threadID, "connection_id", connID)
}

// Unbind removes every binding owned by connID. Called on transport
// disconnect; the reverse index keeps this O(owned threads) rather than
// a scan of the whole table.
func (r *Registry) Unbind(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	threads, ok := r.byConn[connID]
	if !ok {
		return
	}
	for threadID := range threads {
		if r.byThread[threadID] == connID {
			delete(r.byThread, threadID)
		}
	}
	delete(r.byConn, connID)

	r.logger.Debug("connection unbound", "connection_id", connID, "threads", len(threads))
}

// UnbindThread removes the binding for threadID, but only if connID
// still owns it. Used by explicit disconnect-thread calls so a stale
// caller cannot release a thread that was rebound elsewhere.
func (r *Registry) UnbindThread(threadID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byThread[threadID] != connID {
		return
	}
	delete(r.byThread, threadID)
	r.dropReverse(connID, threadID)

	r.logger.Debug("thread released", "thread_id", threadID, "connection_id", connID)
}

// Lookup returns the connection id currently bound to threadID.
func (r *Registry) Lookup(threadID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connID, ok := r.byThread[threadID]
	return connID, ok
}

// Len returns the number of active thread bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byThread)
}

// dropReverse removes threadID from a connection's owned set. Must be
// called with mu held.
func (r *Registry) dropReverse(connID, threadID string) {
	threads, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(threads, threadID)
	if len(threads) == 0 {
		delete(r.byConn, connID)
	}
}
