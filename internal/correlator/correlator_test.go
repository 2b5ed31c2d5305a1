// ABOUTME: Tests for request/reply correlation semantics
// ABOUTME: Covers single-fire delivery, duplicates, timeouts, type mismatch, shutdown

package correlator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitComplete(t *testing.T) {
	c := New(time.Minute, nil)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := Wait[string](c, context.Background(), "req-1", time.Second)
		require.NoError(t, err)
		assert.Equal(t, "hello", v)
	}()

	require.Eventually(t, func() bool {
		return c.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, c.Complete("req-1", "hello"))
	<-done
	assert.Equal(t, 0, c.PendingCount())
}

func TestWaitTimeout(t *testing.T) {
	c := New(time.Minute, nil)
	defer c.Close()

	start := time.Now()
	_, err := Wait[string](c, context.Background(), "req-1", 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, c.PendingCount())

	// A late completion finds nothing to resolve.
	assert.False(t, c.Complete("req-1", "too late"))
}

func TestWaitDuplicateID(t *testing.T) {
	c := New(time.Minute, nil)
	defer c.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := Wait[string](c, context.Background(), "req-1", time.Second)
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		return c.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	_, err := Wait[string](c, context.Background(), "req-1", time.Second)
	assert.ErrorIs(t, err, ErrDuplicateRequest)

	c.Complete("req-1", "ok")
	wg.Wait()
}

func TestCompleteWithError(t *testing.T) {
	c := New(time.Minute, nil)
	defer c.Close()

	boom := errors.New("upstream failed")
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := Wait[string](c, context.Background(), "req-1", time.Second)
		assert.ErrorIs(t, err, boom)
	}()

	require.Eventually(t, func() bool {
		return c.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, c.CompleteWithError("req-1", boom))
	<-done
}

func TestCancel(t *testing.T) {
	c := New(time.Minute, nil)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := Wait[string](c, context.Background(), "req-1", time.Second)
		assert.ErrorIs(t, err, ErrCancelled)
	}()

	require.Eventually(t, func() bool {
		return c.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	assert.True(t, c.Cancel("req-1"))
	<-done
}

func TestCompleteTypeMismatch(t *testing.T) {
	c := New(time.Minute, nil)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		v, err := Wait[int](c, context.Background(), "req-1", time.Second)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}()

	require.Eventually(t, func() bool {
		return c.PendingCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Wrong payload type leaves the entry pending.
	assert.False(t, c.Complete("req-1", "not an int"))
	assert.Equal(t, 1, c.PendingCount())

	assert.True(t, c.Complete("req-1", 42))
	<-done
}

func TestSweeperReapsExpired(t *testing.T) {
	c := New(10*time.Millisecond, nil)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Long select timeout: the sweeper resolves this first.
		_, err := Wait[string](c, context.Background(), "req-1", -time.Millisecond)
		assert.Error(t, err)
	}()
	<-done

	assert.Eventually(t, func() bool {
		return c.PendingCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCloseCancelsAll(t *testing.T) {
	c := New(time.Minute, nil)

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := Wait[string](c, context.Background(), id, time.Minute)
			assert.ErrorIs(t, err, ErrCancelled)
		}(id)
	}

	require.Eventually(t, func() bool {
		return c.PendingCount() == 3
	}, time.Second, 5*time.Millisecond)

	c.Close()
	wg.Wait()

	_, err := Wait[string](c, context.Background(), "after", time.Second)
	assert.ErrorIs(t, err, ErrCancelled)
}
