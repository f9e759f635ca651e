package inference

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultPoolSize is used when a pool is created with a non-positive size.
	DefaultPoolSize = 1
	// DefaultAcquireTimeout bounds how long Acquire waits for a free session.
	DefaultAcquireTimeout = 5 * time.Second
)

var (
	// ErrPoolClosed is returned by Acquire after Close.
	ErrPoolClosed = errors.New("session pool is closed")
	// ErrAcquireTimeout is returned when no session frees up in time.
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// SessionPool hands out a fixed set of sessions to concurrent callers.
// Callers queue in Acquire until a session is released.
type SessionPool struct {
	sessions chan Session
	done     chan struct{}
	size     int
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool

	metricsMu sync.Mutex
	metrics   PoolMetrics
}

// PoolMetrics is a snapshot of pool usage.
type PoolMetrics struct {
	Size            int           `json:"size"`
	InUse           int           `json:"in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time_ns"`
}

// AvgWait returns the mean time callers waited for a session.
func (m PoolMetrics) AvgWait() time.Duration {
	if m.TotalAcquired == 0 {
		return 0
	}
	return m.WaitTime / time.Duration(m.TotalAcquired)
}

// NewSessionPool creates size sessions with factory.
//
// Arguments:
//   - size: The number of sessions. Non-positive means DefaultPoolSize.
//   - timeout: How long Acquire waits. Non-positive means DefaultAcquireTimeout.
//   - factory: Builds each session.
//
// Returns:
//   - *SessionPool: The filled pool. The caller must Close it.
//   - error: The first factory error. Sessions created before it are closed.
func NewSessionPool(size int, timeout time.Duration, factory SessionFactory) (*SessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}

	pool := &SessionPool{
		sessions: make(chan Session, size),
		done:     make(chan struct{}),
		size:     size,
		timeout:  timeout,
	}
	pool.metrics.Size = size

	for i := 0; i < size; i++ {
		session, err := factory(i)
		if err != nil {
			pool.Close()
			return nil, errors.Wrapf(err, "failed to initialize session %d", i)
		}
		pool.sessions <- session
	}

	return pool, nil
}

// Size returns the number of sessions the pool was created with.
func (p *SessionPool) Size() int {
	return p.size
}

// Acquire takes a session out of the pool, waiting until one is released,
// the timeout elapses, ctx is done or the pool is closed.
func (p *SessionPool) Acquire(ctx context.Context) (Session, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case session := <-p.sessions:
		p.metricsMu.Lock()
		p.metrics.InUse++
		p.metrics.TotalAcquired++
		p.metrics.WaitTime += time.Since(start)
		p.metricsMu.Unlock()
		return session, nil
	case <-timer.C:
		p.fail()
		return nil, ErrAcquireTimeout
	case <-p.done:
		p.fail()
		return nil, ErrPoolClosed
	case <-ctx.Done():
		p.fail()
		return nil, ctx.Err()
	}
}

func (p *SessionPool) fail() {
	p.metricsMu.Lock()
	p.metrics.AcquireFailures++
	p.metricsMu.Unlock()
}

// Release returns a session taken with Acquire. Sessions released after
// Close are closed instead.
func (p *SessionPool) Release(session Session) {
	p.metricsMu.Lock()
	p.metrics.InUse--
	p.metrics.TotalReleased++
	p.metricsMu.Unlock()

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		_ = session.Close()
		return
	}
	p.sessions <- session
}

// Close closes every idle session. Sessions still in use are closed when
// released. Close is idempotent.
func (p *SessionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	var first error
	for {
		select {
		case session := <-p.sessions:
			if err := session.Close(); err != nil && first == nil {
				first = err
			}
		default:
			return first
		}
	}
}

// Metrics returns a snapshot of pool usage.
func (p *SessionPool) Metrics() PoolMetrics {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	return p.metrics
}

// CollectMetrics reports pool usage to the runtime profiler.
func (p *SessionPool) CollectMetrics() map[string]float64 {
	m := p.Metrics()
	return map[string]float64{
		"pool_size":             float64(m.Size),
		"pool_in_use":           float64(m.InUse),
		"pool_acquired_total":   float64(m.TotalAcquired),
		"pool_acquire_failures": float64(m.AcquireFailures),
		"pool_wait_ms_avg":      float64(m.AvgWait()) / float64(time.Millisecond),
	}
}
