package detections

import (
	"context"
	"sync"
	"time"

	"github.com/Tutortoise/leaf-detection-service/lgr"
)

// Session is anything the pool can hand out and tear down.
type Session interface {
	Destroy()
}

// SessionPool hands out a fixed number of sessions. Sessions that fail are
// discarded by the caller and recreated by the periodic health check.
type SessionPool[S Session] struct {
	sessions       chan S
	size           int
	newSession     func() (S, error)
	acquireTimeout time.Duration

	mu         sync.Mutex
	closed     bool
	live       int
	stop       chan struct{}
	lastErrors []error

	metrics *poolMetrics
}

type poolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolMetrics is a snapshot of pool activity.
type PoolMetrics struct {
	PoolSize        int
	InUse           int
	TotalAcquired   int64
	TotalReleased   int64
	AcquireFailures int64
	WaitTime        time.Duration

	// RecentErrors are the latest failures to recreate a session.
	RecentErrors []string
}

func NewSessionPool[S Session](size int, newSession func() (S, error)) (*SessionPool[S], error) {
	return newSessionPool(size, AcquireTimeout, HealthCheckPeriod, newSession)
}

func newSessionPool[S Session](size int, acquireTimeout, healthCheckPeriod time.Duration, newSession func() (S, error)) (*SessionPool[S], error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	pool := &SessionPool[S]{
		sessions:       make(chan S, size),
		size:           size,
		newSession:     newSession,
		acquireTimeout: acquireTimeout,
		stop:           make(chan struct{}),
		metrics:        &poolMetrics{},
	}

	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			pool.Destroy()
			return nil, &ProcessingError{Message: "initialize session pool", Cause: err}
		}
		pool.live++
		pool.sessions <- session
	}

	if healthCheckPeriod > 0 {
		go pool.healthCheck(healthCheckPeriod)
	}

	return pool, nil
}

func (p *SessionPool[S]) Acquire(ctx context.Context) (S, error) {
	var zero S

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return zero, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return zero, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return zero, ErrAcquireTimeout
	case <-ctx.Done():
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return zero, ctx.Err()
	}
}

// Release returns a healthy session to the pool.
func (p *SessionPool[S]) Release(session S) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		p.live--
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Discard destroys a session that can no longer be trusted. The health
// check replaces it.
func (p *SessionPool[S]) Discard(session S) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	p.live--
	p.mu.Unlock()

	session.Destroy()
}

func (p *SessionPool[S]) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.stop)
	close(p.sessions)

	for session := range p.sessions {
		p.live--
		session.Destroy()
	}
}

func (p *SessionPool[S]) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.replenishSessions()
		}
	}
}

// replenishSessions recreates sessions lost through Discard.
func (p *SessionPool[S]) replenishSessions() {
	p.mu.Lock()
	missing := p.size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.newSession()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.live++
		p.sessions <- session
		p.mu.Unlock()
	}
}

func (p *SessionPool[S]) recordError(err error) {
	lgr.Logger.Warn("failed to replenish model session", lgr.Err(err))

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *SessionPool[S]) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.lastErrors...)
}

func (p *SessionPool[S]) GetMetrics() PoolMetrics {
	recent := make([]string, 0)
	for _, err := range p.LastErrors() {
		recent = append(recent, err.Error())
	}

	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PoolMetrics{
		PoolSize:        p.size,
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
		RecentErrors:    recent,
	}
}
