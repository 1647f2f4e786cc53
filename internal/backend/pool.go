package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultPoolSize is the number of sessions opened per ONNX model.
const DefaultPoolSize = 4

// errPoolClosed is returned by Acquire after Destroy.
var errPoolClosed = errors.New("session pool is closed")

// pooledSession is anything the pool can hand out and tear down.
type pooledSession interface {
	Destroy()
}

// PoolStats are cumulative session pool counters.
type PoolStats struct {
	Size          int           `json:"size"`
	InUse         int           `json:"in_use"`
	TotalAcquired int64         `json:"total_acquired"`
	TotalReleased int64         `json:"total_released"`
	WaitTime      time.Duration `json:"wait_time"`
}

// sessionPool hands out a fixed set of sessions, one request per session.
type sessionPool struct {
	sessions chan pooledSession
	size     int

	mu     sync.Mutex
	closed bool
	stats  PoolStats
}

// newSessionPool opens size sessions with open. ctx is checked between
// sessions so a slow load can be abandoned.
func newSessionPool(ctx context.Context, size int, open func() (pooledSession, error)) (*sessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}

	p := &sessionPool{
		sessions: make(chan pooledSession, size),
		size:     size,
		stats:    PoolStats{Size: size},
	}

	for i := 0; i < size; i++ {
		if err := ctx.Err(); err != nil {
			p.Destroy()
			return nil, err
		}
		s, err := open()
		if err != nil {
			p.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		p.sessions <- s
	}

	return p, nil
}

// Size returns the number of sessions the pool was created with.
func (p *sessionPool) Size() int {
	return p.size
}

// Acquire waits for a free session or for ctx to end.
func (p *sessionPool) Acquire(ctx context.Context) (pooledSession, error) {
	start := time.Now()

	select {
	case s, ok := <-p.sessions:
		if !ok {
			return nil, errPoolClosed
		}
		p.mu.Lock()
		p.stats.InUse++
		p.stats.TotalAcquired++
		p.stats.WaitTime += time.Since(start)
		p.mu.Unlock()
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns s to the pool, or destroys it if the pool has been closed.
func (p *sessionPool) Release(s pooledSession) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.InUse--
	p.stats.TotalReleased++
	if p.closed {
		s.Destroy()
		return
	}
	p.sessions <- s
}

// Destroy closes the pool and destroys every idle session. Sessions still in
// use are destroyed when they are released.
func (p *sessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.sessions)

	for s := range p.sessions {
		s.Destroy()
	}
}

// Stats returns a snapshot of the pool counters.
func (p *sessionPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
