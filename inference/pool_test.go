package inference

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-detect/models/model"
)

type fakeSession struct {
	id      int
	closed  atomic.Bool
	running atomic.Int32
	outputs []model.Output
	err     error
	panic   bool
	inputs  []model.Input
	mu      sync.Mutex
}

func (s *fakeSession) Run(input model.Input) ([]model.Output, error) {
	if s.running.Add(1) > 1 {
		panic("session used concurrently")
	}
	defer s.running.Add(-1)

	s.mu.Lock()
	s.inputs = append(s.inputs, input)
	s.mu.Unlock()

	if s.panic {
		panic("native crash")
	}
	return s.outputs, s.err
}

func (s *fakeSession) Close() error {
	s.closed.Store(true)
	return nil
}

func newFakePool(t *testing.T, size int, timeout time.Duration) (*SessionPool, []*fakeSession) {
	t.Helper()
	var sessions []*fakeSession
	pool, err := NewSessionPool(size, timeout, func(i int) (Session, error) {
		s := &fakeSession{id: i}
		sessions = append(sessions, s)
		return s, nil
	})
	require.NoError(t, err)
	return pool, sessions
}

func TestNewSessionPoolDefaults(t *testing.T) {
	pool, sessions := newFakePool(t, 0, 0)
	defer pool.Close()

	assert.Equal(t, DefaultPoolSize, pool.Size())
	assert.Len(t, sessions, DefaultPoolSize)
	assert.Equal(t, DefaultAcquireTimeout, pool.timeout)
}

func TestNewSessionPoolFactoryError(t *testing.T) {
	var created []*fakeSession
	_, err := NewSessionPool(3, time.Second, func(i int) (Session, error) {
		if i == 2 {
			return nil, errors.New("out of memory")
		}
		s := &fakeSession{id: i}
		created = append(created, s)
		return s, nil
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "session 2")
	require.Len(t, created, 2)
	for _, s := range created {
		assert.True(t, s.closed.Load(), "session %d leaked", s.id)
	}
}

func TestAcquireRelease(t *testing.T) {
	pool, _ := newFakePool(t, 2, time.Second)
	defer pool.Close()

	a, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	b, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, a.(*fakeSession).id, b.(*fakeSession).id)
	assert.Equal(t, 2, pool.Metrics().InUse)

	pool.Release(a)
	pool.Release(b)

	m := pool.Metrics()
	assert.Equal(t, 0, m.InUse)
	assert.Equal(t, int64(2), m.TotalAcquired)
	assert.Equal(t, int64(2), m.TotalReleased)
	assert.Equal(t, int64(0), m.AcquireFailures)
}

func TestAcquireTimeout(t *testing.T) {
	pool, _ := newFakePool(t, 1, 20*time.Millisecond)
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrAcquireTimeout)
	assert.Equal(t, int64(1), pool.Metrics().AcquireFailures)
}

func TestAcquireContextCanceled(t *testing.T) {
	pool, _ := newFakePool(t, 1, time.Minute)
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(held)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireWaitsForRelease(t *testing.T) {
	pool, _ := newFakePool(t, 1, time.Second)
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	go func() {
		time.Sleep(10 * time.Millisecond)
		pool.Release(held)
	}()

	got, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, held, got)
	assert.Greater(t, pool.Metrics().WaitTime, time.Duration(0))
	pool.Release(got)
}

func TestClose(t *testing.T) {
	pool, sessions := newFakePool(t, 2, time.Second)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	idle := 0
	for _, s := range sessions {
		if s.closed.Load() {
			idle++
		}
	}
	assert.Equal(t, 1, idle, "only the idle session is closed")

	pool.Release(held)
	assert.True(t, held.(*fakeSession).closed.Load(), "released after close")

	_, err = pool.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestCloseWakesWaiters(t *testing.T) {
	pool, _ := newFakePool(t, 1, time.Minute)

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, pool.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by Close")
	}
	pool.Release(held)
}

func TestPoolConcurrentUse(t *testing.T) {
	pool, _ := newFakePool(t, 3, 5*time.Second)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pool.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer pool.Release(s)
			_, _ = s.Run(model.Input{})
		}()
	}
	wg.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(50), m.TotalAcquired)
	assert.Equal(t, 0, m.InUse)
}

func TestCollectMetrics(t *testing.T) {
	pool, _ := newFakePool(t, 2, time.Second)
	defer pool.Close()

	s, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(s)

	m := pool.CollectMetrics()
	assert.Equal(t, 2.0, m["pool_size"])
	assert.Equal(t, 1.0, m["pool_in_use"])
	assert.Equal(t, 1.0, m["pool_acquired_total"])
}
