// Package pool provides a fixed-size pool of live graph connections.
//
// Every connection is dialed eagerly when the pool is created, so Acquire
// never pays connection-setup latency. Connections are never created or torn
// down while the pool is open; they only move between the idle set and the
// caller that checked them out.
//
// Invariant: idle + checked-out == configured size, for the whole lifetime
// of an open pool.
//
// Usage:
//
//	p, err := pool.New(ctx, graph.DialNeo4j(opts), pool.PoolConfig{
//		Size:           3,
//		AcquireTimeout: 10 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer p.Close(ctx)
//
//	conn, err := p.Acquire(ctx)
//	if err != nil {
//		return err
//	}
//	defer p.Release(conn)
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/cypherbatch/pkg/graph"
)

var (
	// ErrPoolExhausted is returned by Acquire when no connection became idle
	// within the configured AcquireTimeout.
	ErrPoolExhausted = errors.New("pool: no connection available before acquire timeout")

	// ErrInvalidRelease is returned by Release for a connection that was not
	// checked out from this pool, or that was already released.
	ErrInvalidRelease = errors.New("pool: invalid release")

	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("pool: closed")
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Size is the fixed number of connections. Values below 1 become 1.
	Size int

	// AcquireTimeout bounds how long Acquire waits for an idle connection.
	// Zero waits indefinitely (until the context is done).
	AcquireTimeout time.Duration

	// Logger receives acquire/release debug logs. Nil disables logging.
	Logger *zap.Logger
}

// Stats is a point-in-time view of pool accounting.
type Stats struct {
	Size            int   `json:"size"`
	Idle            int   `json:"idle"`
	InUse           int   `json:"in_use"`
	Acquires        int64 `json:"acquires"`
	Waits           int64 `json:"waits"`
	Timeouts        int64 `json:"timeouts"`
	InvalidReleases int64 `json:"invalid_releases"`
}

// Pool hands out a fixed set of graph.Conn to concurrent callers.
//
// Thread Safety:
//
//	Acquire and Release are safe for concurrent use and are the only
//	synchronization point between independent batches.
type Pool struct {
	idle           chan graph.Conn
	done           chan struct{}
	size           int
	acquireTimeout time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	owned  map[graph.Conn]bool // true while checked out
	closed bool

	acquires        atomic.Int64
	waits           atomic.Int64
	timeouts        atomic.Int64
	invalidReleases atomic.Int64
}

// New dials cfg.Size connections up front. If any dial fails, the
// connections opened so far are closed and the error is returned.
func New(ctx context.Context, dial graph.Dialer, cfg PoolConfig) (*Pool, error) {
	if dial == nil {
		return nil, errors.New("pool: nil dialer")
	}
	size := cfg.Size
	if size < 1 {
		size = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{
		idle:           make(chan graph.Conn, size),
		done:           make(chan struct{}),
		size:           size,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger,
		owned:          make(map[graph.Conn]bool, size),
	}

	for i := 0; i < size; i++ {
		conn, err := dial(ctx)
		if err != nil {
			p.closeIdle(ctx)
			return nil, fmt.Errorf("pool: creating connection %d/%d: %w", i+1, size, err)
		}
		if _, dup := p.owned[conn]; dup {
			p.closeIdle(ctx)
			return nil, fmt.Errorf("pool: dialer returned the same connection twice")
		}
		p.owned[conn] = false
		p.idle <- conn
		logger.Debug("connection created", zap.Int("slot", i+1), zap.Int("size", size))
	}

	logger.Info("connection pool ready", zap.Int("size", size), zap.Duration("acquire_timeout", cfg.AcquireTimeout))
	return p, nil
}

// Acquire checks out an idle connection, blocking until one is released,
// the acquire timeout elapses (ErrPoolExhausted), ctx is done, or the pool
// is closed (ErrClosed).
func (p *Pool) Acquire(ctx context.Context) (graph.Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	p.acquires.Add(1)

	// Fast path: an idle connection is ready.
	select {
	case conn := <-p.idle:
		return p.checkOut(conn)
	default:
	}

	p.waits.Add(1)
	var timeout <-chan time.Time
	if p.acquireTimeout > 0 {
		timer := time.NewTimer(p.acquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case conn := <-p.idle:
		return p.checkOut(conn)
	case <-timeout:
		p.timeouts.Add(1)
		p.logger.Warn("acquire timed out", zap.Duration("acquire_timeout", p.acquireTimeout))
		return nil, fmt.Errorf("%w (waited %s, size %d)", ErrPoolExhausted, p.acquireTimeout, p.size)
	case <-ctx.Done():
		return nil, fmt.Errorf("pool: acquire: %w", ctx.Err())
	case <-p.done:
		return nil, ErrClosed
	}
}

func (p *Pool) checkOut(conn graph.Conn) (graph.Conn, error) {
	p.mu.Lock()
	if p.closed {
		// Close raced with us and may have finished draining already.
		p.mu.Unlock()
		_ = conn.Close(context.Background())
		return nil, ErrClosed
	}
	p.owned[conn] = true
	p.mu.Unlock()

	p.logger.Debug("connection acquired", zap.Int("idle", len(p.idle)))
	return conn, nil
}

// Release returns a checked-out connection to the idle set. Releasing a
// connection this pool never handed out, or releasing it twice, returns
// ErrInvalidRelease and leaves the accounting untouched.
func (p *Pool) Release(conn graph.Conn) error {
	if conn == nil {
		p.invalidReleases.Add(1)
		return fmt.Errorf("%w: nil connection", ErrInvalidRelease)
	}

	p.mu.Lock()
	out, known := p.owned[conn]
	if !known {
		p.mu.Unlock()
		p.invalidReleases.Add(1)
		return fmt.Errorf("%w: connection does not belong to this pool", ErrInvalidRelease)
	}
	if !out {
		p.mu.Unlock()
		p.invalidReleases.Add(1)
		return fmt.Errorf("%w: connection already released", ErrInvalidRelease)
	}
	p.owned[conn] = false
	if p.closed {
		p.mu.Unlock()
		return conn.Close(context.Background())
	}
	// Pushed under p.mu so Close either sees the conn in idle or has not
	// started yet. Never blocks: capacity equals size and this conn was not
	// in the channel.
	p.idle <- conn
	p.mu.Unlock()

	p.logger.Debug("connection released", zap.Int("idle", len(p.idle)))
	return nil
}

// With checks out a connection, runs fn, and releases the connection on
// every exit path, including a panic in fn.
func (p *Pool) With(ctx context.Context, fn func(graph.Conn) error) (err error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := p.Release(conn); relErr != nil && err == nil {
			err = relErr
		}
	}()
	return fn(conn)
}

// Size returns the configured pool size.
func (p *Pool) Size() int { return p.size }

// Stats returns a snapshot of pool accounting. Idle and InUse come from the
// ownership table under one lock, so they always sum to Size while the pool
// is open.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle, inUse := 0, 0
	for _, out := range p.owned {
		if out {
			inUse++
		} else {
			idle++
		}
	}
	p.mu.Unlock()

	return Stats{
		Size:            p.size,
		Idle:            idle,
		InUse:           inUse,
		Acquires:        p.acquires.Load(),
		Waits:           p.waits.Load(),
		Timeouts:        p.timeouts.Load(),
		InvalidReleases: p.invalidReleases.Load(),
	}
}

// Close closes every idle connection and wakes blocked Acquire calls with
// ErrClosed. Connections still checked out are closed when released.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	return p.closeIdle(ctx)
}

func (p *Pool) closeIdle(ctx context.Context) error {
	var errs []error
	for {
		select {
		case conn := <-p.idle:
			if err := conn.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		default:
			return errors.Join(errs...)
		}
	}
}
