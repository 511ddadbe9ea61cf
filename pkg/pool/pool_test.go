package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/cypherbatch/pkg/graph"
	"github.com/orneryd/cypherbatch/pkg/graph/graphtest"
)

func newTestPool(t *testing.T, size int, timeout time.Duration) (*Pool, []*graphtest.FakeConn) {
	t.Helper()
	conns := graphtest.Conns(size)
	p, err := New(context.Background(), graphtest.Dialer(conns...), PoolConfig{
		Size:           size,
		AcquireTimeout: timeout,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p, conns
}

// =============================================================================
// Construction
// =============================================================================

func TestNew(t *testing.T) {
	t.Run("dials every connection eagerly", func(t *testing.T) {
		dialed := 0
		dial := func(ctx context.Context) (graph.Conn, error) {
			dialed++
			return graphtest.NewFakeConn(), nil
		}
		p, err := New(context.Background(), dial, PoolConfig{Size: 4})
		require.NoError(t, err)
		defer p.Close(context.Background())

		assert.Equal(t, 4, dialed)
		assert.Equal(t, 4, p.Stats().Idle)
		assert.Equal(t, 0, p.Stats().InUse)
	})

	t.Run("size below one becomes one", func(t *testing.T) {
		p, err := New(context.Background(), graphtest.Dialer(graphtest.Conns(1)...), PoolConfig{Size: 0})
		require.NoError(t, err)
		defer p.Close(context.Background())
		assert.Equal(t, 1, p.Size())
	})

	t.Run("dial failure closes opened connections", func(t *testing.T) {
		conns := graphtest.Conns(2)
		_, err := New(context.Background(), graphtest.Dialer(conns...), PoolConfig{Size: 3})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "creating connection 3/3")
		for _, c := range conns {
			assert.True(t, c.Closed())
		}
	})

	t.Run("nil dialer", func(t *testing.T) {
		_, err := New(context.Background(), nil, PoolConfig{Size: 1})
		assert.Error(t, err)
	})

	t.Run("duplicate connection rejected", func(t *testing.T) {
		c := graphtest.NewFakeConn()
		_, err := New(context.Background(), graphtest.Dialer(c, c), PoolConfig{Size: 2})
		assert.Error(t, err)
	})
}

// =============================================================================
// Acquire / Release
// =============================================================================

func TestAcquire_SizeNeverBlocks(t *testing.T) {
	const size = 3
	p, _ := newTestPool(t, size, 0)

	var wg sync.WaitGroup
	got := make(chan graph.Conn, size)
	for i := 0; i < size; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := p.Acquire(context.Background())
			if err == nil {
				got <- conn
			}
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquiring pool size connections blocked")
	}
	close(got)

	seen := map[graph.Conn]bool{}
	for c := range got {
		seen[c] = true
	}
	assert.Len(t, seen, size, "each caller gets a distinct connection")
	assert.Equal(t, 0, p.Stats().Idle)
	assert.Equal(t, size, p.Stats().InUse)
}

func TestAcquire_BlocksUntilRelease(t *testing.T) {
	p, _ := newTestPool(t, 2, 0)
	ctx := context.Background()

	c1, err := p.Acquire(ctx)
	require.NoError(t, err)
	_, err = p.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan graph.Conn)
	go func() {
		conn, err := p.Acquire(ctx)
		if err == nil {
			acquired <- conn
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block while both connections are out")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, p.Release(c1))

	select {
	case conn := <-acquired:
		assert.Same(t, c1.(*graphtest.FakeConn), conn.(*graphtest.FakeConn))
	case <-time.After(2 * time.Second):
		t.Fatal("blocked acquire was not woken by release")
	}
}

func TestAcquire_Timeout(t *testing.T) {
	p, _ := newTestPool(t, 1, 20*time.Millisecond)

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPoolExhausted))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(1), p.Stats().Timeouts)
}

func TestAcquire_ContextCancelled(t *testing.T) {
	p, _ := newTestPool(t, 1, 0)
	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, errors.Is(err, ErrPoolExhausted))
}

func TestRelease_Invalid(t *testing.T) {
	p, _ := newTestPool(t, 1, 0)

	t.Run("foreign connection", func(t *testing.T) {
		err := p.Release(graphtest.NewFakeConn())
		assert.True(t, errors.Is(err, ErrInvalidRelease))
	})

	t.Run("nil connection", func(t *testing.T) {
		err := p.Release(nil)
		assert.True(t, errors.Is(err, ErrInvalidRelease))
	})

	t.Run("double release", func(t *testing.T) {
		conn, err := p.Acquire(context.Background())
		require.NoError(t, err)
		require.NoError(t, p.Release(conn))

		err = p.Release(conn)
		assert.True(t, errors.Is(err, ErrInvalidRelease))
	})

	t.Run("release of idle connection", func(t *testing.T) {
		// the only conn is idle now; releasing it must not duplicate it
		conn, err := p.Acquire(context.Background())
		require.NoError(t, err)
		require.NoError(t, p.Release(conn))
		assert.Error(t, p.Release(conn))
	})

	stats := p.Stats()
	assert.Equal(t, 1, stats.Idle+stats.InUse, "accounting unchanged by invalid releases")
	assert.Equal(t, int64(4), stats.InvalidReleases)
}

func TestWith_ReleasesOnAllPaths(t *testing.T) {
	p, _ := newTestPool(t, 1, 0)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		err := p.With(ctx, func(graph.Conn) error { return nil })
		require.NoError(t, err)
		assert.Equal(t, 1, p.Stats().Idle)
	})

	t.Run("error", func(t *testing.T) {
		boom := errors.New("boom")
		err := p.With(ctx, func(graph.Conn) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, p.Stats().Idle)
	})

	t.Run("panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = p.With(ctx, func(graph.Conn) error { panic("kaboom") })
		})
		assert.Equal(t, 1, p.Stats().Idle)
	})
}

func TestInvariant_UnderConcurrency(t *testing.T) {
	const size = 3
	p, _ := newTestPool(t, size, 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.With(context.Background(), func(c graph.Conn) error {
				stats := p.Stats()
				if stats.Idle+stats.InUse != size {
					t.Errorf("idle(%d)+in_use(%d) != %d", stats.Idle, stats.InUse, size)
				}
				_, err := c.Run(context.Background(), "RETURN 1")
				return err
			})
		}()
	}
	wg.Wait()

	stats := p.Stats()
	assert.Equal(t, size, stats.Idle)
	assert.Equal(t, 0, stats.InUse)
	assert.Equal(t, int64(50), stats.Acquires)
}

// =============================================================================
// Close
// =============================================================================

func TestClose(t *testing.T) {
	conns := graphtest.Conns(2)
	p, err := New(context.Background(), graphtest.Dialer(conns...), PoolConfig{Size: 2})
	require.NoError(t, err)

	out, err := p.Acquire(context.Background())
	require.NoError(t, err)

	waiting := make(chan error, 1)
	_, err = p.Acquire(context.Background())
	require.NoError(t, err)
	go func() {
		_, err := p.Acquire(context.Background())
		waiting <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, p.Close(context.Background()))
	assert.NoError(t, p.Close(context.Background()), "close is idempotent")

	select {
	case err := <-waiting:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked acquire not woken by close")
	}

	_, err = p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, p.Release(out))
	assert.True(t, out.(*graphtest.FakeConn).Closed(), "released conn closed after pool close")
}

func TestClose_ConcurrentReleaseClosesEveryConn(t *testing.T) {
	for i := 0; i < 50; i++ {
		conns := graphtest.Conns(4)
		p, err := New(context.Background(), graphtest.Dialer(conns...), PoolConfig{Size: 4})
		require.NoError(t, err)

		held := make([]graph.Conn, 0, 4)
		for range conns {
			c, err := p.Acquire(context.Background())
			require.NoError(t, err)
			held = append(held, c)
		}

		var wg sync.WaitGroup
		for _, c := range held {
			wg.Add(1)
			go func(c graph.Conn) {
				defer wg.Done()
				assert.NoError(t, p.Release(c))
			}(c)
		}
		require.NoError(t, p.Close(context.Background()))
		wg.Wait()

		for j, c := range conns {
			assert.True(t, c.Closed(), "iteration %d: conn %d leaked", i, j)
		}
	}
}
