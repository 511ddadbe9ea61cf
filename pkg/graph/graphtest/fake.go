// Package graphtest provides a scripted in-memory graph.Conn for tests.
//
// A FakeConn answers statements from a list of rules matched in order by
// substring; unmatched statements succeed with an empty result. Every call is
// recorded so tests can assert exactly what ran and in which order.
//
//	conn := graphtest.NewFakeConn().
//		FailOn("BROKEN", errors.New("Invalid input 'BROKEN'")).
//		ReturnOn("MERGE (a", &graph.Result{Counters: &graph.Counters{NodesCreated: 1}})
package graphtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/orneryd/cypherbatch/pkg/graph"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("graphtest: connection closed")

type rule struct {
	contains string
	result   *graph.Result
	err      error
	panicVal any
}

// FakeConn is a scripted graph.Conn. Safe for concurrent use.
type FakeConn struct {
	mu     sync.Mutex
	name   string
	rules  []rule
	calls  []string
	closed bool
}

// NewFakeConn creates an empty FakeConn.
func NewFakeConn() *FakeConn {
	return &FakeConn{}
}

// Named sets a label used by tests that track which pool slot ran a batch.
func (c *FakeConn) Named(name string) *FakeConn {
	c.name = name
	return c
}

// Name returns the label set by Named.
func (c *FakeConn) Name() string { return c.name }

// ReturnOn makes statements containing substr return res.
func (c *FakeConn) ReturnOn(substr string, res *graph.Result) *FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule{contains: substr, result: res})
	return c
}

// FailOn makes statements containing substr fail with err.
func (c *FakeConn) FailOn(substr string, err error) *FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule{contains: substr, err: err})
	return c
}

// PanicOn makes statements containing substr panic with v.
func (c *FakeConn) PanicOn(substr string, v any) *FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule{contains: substr, panicVal: v})
	return c
}

// Run implements graph.Conn.
func (c *FakeConn) Run(ctx context.Context, statement string) (*graph.Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.calls = append(c.calls, statement)
	var matched *rule
	for i := range c.rules {
		if strings.Contains(statement, c.rules[i].contains) {
			matched = &c.rules[i]
			break
		}
	}
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if matched == nil {
		return &graph.Result{}, nil
	}
	if matched.panicVal != nil {
		panic(matched.panicVal)
	}
	if matched.err != nil {
		return nil, matched.err
	}
	return matched.result, nil
}

// Close implements graph.Conn.
func (c *FakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Calls returns the statements run so far, in order.
func (c *FakeConn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Dialer returns a graph.Dialer that hands out conns in order and fails once
// they are used up.
func Dialer(conns ...*FakeConn) graph.Dialer {
	var mu sync.Mutex
	next := 0
	return func(ctx context.Context) (graph.Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(conns) {
			return nil, errors.New("graphtest: no more scripted connections")
		}
		c := conns[next]
		next++
		return c, nil
	}
}

// Conns creates n unscripted FakeConns.
func Conns(n int) []*FakeConn {
	out := make([]*FakeConn, n)
	for i := range out {
		out[i] = NewFakeConn()
	}
	return out
}
