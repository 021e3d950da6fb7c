package bridge

import (
	"context"
	"sync"
)

// gate counts in-flight calls and lets teardown wait for them.
// Entering never blocks, so a call made from inside a call cannot deadlock.
type gate struct {
	mu       sync.Mutex
	open     bool
	inflight int
	idle     chan struct{}
}

func (g *gate) enter() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return false
	}
	g.inflight++
	return true
}

func (g *gate) exit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight--
	if g.inflight == 0 && g.idle != nil {
		close(g.idle)
		g.idle = nil
	}
}

// drain closes the gate and waits until no call is in flight.
// If ctx ends first the gate is reopened.
func (g *gate) drain(ctx context.Context) error {
	g.mu.Lock()
	g.open = false
	if g.inflight == 0 {
		g.mu.Unlock()
		return nil
	}
	idle := make(chan struct{})
	g.idle = idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		g.open = true
		if g.idle == idle {
			g.idle = nil
		}
		g.mu.Unlock()
		return ctx.Err()
	}
}

func (g *gate) reopen() {
	g.mu.Lock()
	g.open = true
	g.mu.Unlock()
}

func (g *gate) inFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inflight
}
