// ABOUTME: Matches asynchronous replies back to waiting callers by request id
// ABOUTME: Entries expire on a sweep timer and are all cancelled at shutdown

package correlator

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

var (
	// ErrDuplicateRequest is returned by Wait when the id is already pending.
	ErrDuplicateRequest = errors.New("request id already pending")

	// ErrTimeout is returned by Wait when no reply arrives in time.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled is returned by Wait when the entry is cancelled or the
	// correlator shuts down.
	ErrCancelled = errors.New("request cancelled")
)

// DefaultSweepInterval is how often expired entries are reaped when no
// interval is configured.
const DefaultSweepInterval = 30 * time.Second

type outcome struct {
	value any
	err   error
}

type pending struct {
	ch       chan outcome // buffered(1): first resolver wins, rest are no-ops
	expect   reflect.Type
	deadline time.Time
}

// Correlator parks callers waiting on a request id until a reply, an
// error, a cancellation, or a timeout resolves them. Each entry fires
// exactly once.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*pending
	closed  bool
	stop    chan struct{}
	done    chan struct{}
	logger  *slog.Logger
}

// New creates a Correlator and starts its background sweeper. sweepInterval
// <= 0 selects DefaultSweepInterval. Call Close to stop the sweeper and
// cancel all waiters.
func New(sweepInterval time.Duration, logger *slog.Logger) *Correlator {
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Correlator{
		pending: make(map[string]*pending),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		logger:  logger.With("component", "correlator"),
	}
	go c.sweep(sweepInterval)
	return c
}

// Wait registers id and blocks until the entry resolves, the timeout
// elapses, or ctx is done. The entry is removed on every exit path. A
// Complete carrying a value of the wrong type resolves nobody; the entry
// stays pending until timeout.
func Wait[T any](c *Correlator, ctx context.Context, id string, timeout time.Duration) (T, error) {
	var zero T

	p := &pending{
		ch:       make(chan outcome, 1),
		expect:   reflect.TypeOf(zero),
		deadline: time.Now().Add(timeout),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, ErrCancelled
	}
	if _, exists := c.pending[id]; exists {
		c.mu.Unlock()
		return zero, ErrDuplicateRequest
	}
	c.pending[id] = p
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-p.ch:
		c.remove(id)
		if out.err != nil {
			return zero, out.err
		}
		v, ok := out.value.(T)
		if !ok {
			return zero, ErrCancelled
		}
		return v, nil
	case <-timer.C:
		c.remove(id)
		return zero, ErrTimeout
	case <-ctx.Done():
		c.remove(id)
		return zero, ctx.Err()
	}
}

// Complete resolves the waiter for id with value. It reports whether a
// waiter was resolved. A value whose type does not match what the waiter
// asked for is logged and dropped, leaving the entry pending.
func (c *Correlator) Complete(id string, value any) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}

	if p.expect != nil && value != nil && !reflect.TypeOf(value).AssignableTo(p.expect) {
		c.logger.Warn("completion type mismatch",
			"request_id", id,
			"expected", p.expect.String(),
			"got", reflect.TypeOf(value).String())
		return false
	}

	select {
	case p.ch <- outcome{value: value}:
		return true
	default:
		return false
	}
}

// CompleteWithError resolves the waiter for id with err.
func (c *Correlator) CompleteWithError(id string, err error) bool {
	c.mu.Lock()
	p, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.ch <- outcome{err: err}:
		return true
	default:
		return false
	}
}

// Cancel resolves the waiter for id with ErrCancelled.
func (c *Correlator) Cancel(id string) bool {
	return c.CompleteWithError(id, ErrCancelled)
}

// PendingCount returns the number of unresolved entries.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close stops the sweeper and cancels every outstanding waiter. Safe to
// call once; Wait calls after Close fail with ErrCancelled.
func (c *Correlator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	entries := c.pending
	c.pending = make(map[string]*pending)
	c.mu.Unlock()

	close(c.stop)
	<-c.done

	for id, p := range entries {
		select {
		case p.ch <- outcome{err: ErrCancelled}:
		default:
		}
		c.logger.Debug("cancelled at shutdown", "request_id", id)
	}
}

func (c *Correlator) remove(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// sweep reaps entries whose deadline passed without the waiter noticing,
// which covers waiters that died without cleaning up after themselves.
func (c *Correlator) sweep(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			var expired []string
			for id, p := range c.pending {
				if now.After(p.deadline) {
					expired = append(expired, id)
					select {
					case p.ch <- outcome{err: ErrTimeout}:
					default:
					}
					delete(c.pending, id)
				}
			}
			c.mu.Unlock()
			if len(expired) > 0 {
				c.logger.Debug("swept expired requests", "count", len(expired))
			}
		}
	}
}
