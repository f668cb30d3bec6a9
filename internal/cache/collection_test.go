package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type source struct {
	mu    sync.Mutex
	items []int
	calls atomic.Int32
	err   error
}

func (s *source) load(ctx context.Context) ([]int, error) {
	s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]int(nil), s.items...), nil
}

func (s *source) set(items ...int) {
	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
}

func TestAllLoadsOnce(t *testing.T) {
	src := &source{items: []int{1, 2, 3}}
	c := New("ints", src.load)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		items, err := c.All(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, items)
	}
	assert.EqualValues(t, 1, src.calls.Load())
}

func TestAllReturnsCopy(t *testing.T) {
	src := &source{items: []int{1, 2, 3}}
	c := New("ints", src.load)

	items, err := c.All(context.Background())
	require.NoError(t, err)
	items[0] = 99

	again, err := c.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, again[0])
}

func TestStaleUntilReset(t *testing.T) {
	src := &source{items: []int{1}}
	c := New("ints", src.load)
	ctx := context.Background()

	_, err := c.All(ctx)
	require.NoError(t, err)

	src.set(1, 2)
	items, _ := c.All(ctx)
	assert.Equal(t, []int{1}, items, "no TTL: the snapshot is served until reset")

	require.NoError(t, c.Reset(ctx))
	items, _ = c.All(ctx)
	assert.Equal(t, []int{1, 2}, items)
}

func TestFindAndFilter(t *testing.T) {
	src := &source{items: []int{5, 6, 7, 8}}
	c := New("ints", src.load)
	ctx := context.Background()

	v, ok, err := c.Find(ctx, func(i int) bool { return i%2 == 0 })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, v)

	_, ok, err = c.Find(ctx, func(i int) bool { return i > 100 })
	require.NoError(t, err)
	assert.False(t, ok)

	evens, err := c.Filter(ctx, func(i int) bool { return i%2 == 0 })
	require.NoError(t, err)
	assert.Equal(t, []int{6, 8}, evens)
}

func TestLoadErrorPropagates(t *testing.T) {
	boom := errors.New("db down")
	src := &source{err: boom}
	c := New("ints", src.load)

	_, err := c.All(context.Background())
	assert.ErrorIs(t, err, boom)

	src.mu.Lock()
	src.err = nil
	src.items = []int{4}
	src.mu.Unlock()

	items, err := c.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{4}, items)
}

func TestResetFailureLeavesInvalidated(t *testing.T) {
	src := &source{items: []int{1}}
	c := New("ints", src.load)
	ctx := context.Background()
	_, err := c.All(ctx)
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("db down")
	src.mu.Unlock()
	require.Error(t, c.Reset(ctx))

	src.mu.Lock()
	src.err = nil
	src.items = []int{1, 2}
	src.mu.Unlock()

	items, err := c.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, items)
}

func TestConcurrentReadsCoalesce(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	c := New("ints", func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		<-release
		return []int{1}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := c.All(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, []int{1}, items)
		}()
	}
	close(release)
	wg.Wait()

	// Goroutines that arrived after the first load finished read the
	// snapshot, so at most one load ran per generation.
	assert.EqualValues(t, 1, calls.Load())
}

func TestLoadStartedBeforeInvalidationIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var version atomic.Int32
	version.Store(1)
	var first atomic.Bool
	first.Store(true)

	c := New("ints", func(ctx context.Context) ([]int, error) {
		v := int(version.Load())
		if first.CompareAndSwap(true, false) {
			close(started)
			<-release
		}
		return []int{v}, nil
	})

	done := make(chan []int)
	go func() {
		items, _ := c.All(context.Background())
		done <- items
	}()

	<-started
	version.Store(2)
	c.Invalidate()
	close(release)
	assert.Equal(t, []int{1}, <-done, "the slow reader sees what it loaded")

	items, err := c.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{2}, items, "but its stale result is not installed")
}

func TestCancelledReadersDoNotTripBreaker(t *testing.T) {
	src := &source{items: []int{7}}
	c := New("ints", func(ctx context.Context) ([]int, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return src.load(ctx)
	})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		c.Invalidate()
		_, _ = c.All(cancelled)
	}

	items, err := c.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{7}, items)
}

func TestContextErrorsFromStoreDoNotTripBreaker(t *testing.T) {
	src := &source{err: context.Canceled}
	c := New("ints", src.load)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := c.All(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	}

	src.mu.Lock()
	src.err = nil
	src.items = []int{3}
	src.mu.Unlock()

	items, err := c.All(ctx)
	require.NoError(t, err, "a canceled query is not a store failure")
	assert.Equal(t, []int{3}, items)
}

func TestCancelledReaderDoesNotFailSharedLoad(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	c := New("ints", func(ctx context.Context) ([]int, error) {
		close(started)
		select {
		case <-release:
			return []int{1, 2}, ctx.Err()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	leaving, leave := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := c.All(leaving)
		first <- err
	}()
	<-started

	second := make(chan []int, 1)
	go func() {
		items, _ := c.All(context.Background())
		second <- items
	}()

	leave()
	assert.ErrorIs(t, <-first, context.Canceled)
	close(release)
	assert.Equal(t, []int{1, 2}, <-second)
}
