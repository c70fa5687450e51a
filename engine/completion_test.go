package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionResolveOnce(t *testing.T) {
	c := NewCompletion[int]()
	assert.False(t, c.Resolved())

	assert.True(t, c.Resolve(1))
	assert.False(t, c.Resolve(2))
	assert.True(t, c.Resolved())

	v, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	// a second wait sees the same value
	v, err = c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestCompletionResolveFromOtherGoroutine(t *testing.T) {
	c := NewCompletion[string]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Resolve("done")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
}

func TestCompletionConcurrentResolversOneWinner(t *testing.T) {
	c := NewCompletion[int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if c.Resolve(i) {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
	<-c.Done()
}

func TestCompletionNeverResolvedStaysPending(t *testing.T) {
	c := NewCompletion[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, c.Resolved())

	// the slot is still usable after the waiter gave up
	assert.True(t, c.Resolve(7))
	v, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCompletionResolveAfterAbandonIsNoop(t *testing.T) {
	c := NewCompletion[Result[int]]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Wait(ctx)
	require.ErrorIs(t, err, context.Canceled)

	cb := Deliver(c)
	assert.NotPanics(t, func() {
		cb(1, nil)
		cb(2, errors.New("late"))
	})
}

func TestCompletionWaitPrefersResolvedValue(t *testing.T) {
	c := NewCompletion[int]()
	c.Resolve(3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}
