package queue

import (
	"sync"
	"time"

	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// pipeline is the three-tier bounded dispatch queue. Channel semantics
// give FIFO within a tier; tryPop gives strict priority across tiers.
//
// Cancellation never removes a command from its channel. The cancel
// path resolves the completion immediately and leaves a tombstone the
// worker discards on dequeue, so FIFO positions stay stable and the
// channel bound keeps holding.
type pipeline struct {
	// enqueueMu serializes insertions. Single-command submits only need
	// it for a moment; a transaction commit holds it across the whole
	// member batch so the members land contiguously.
	enqueueMu sync.Mutex

	high   chan *command
	normal chan *command
	low    chan *command

	// notify wakes the worker after an insertion. Capacity one: a
	// pending wakeup absorbs further signals.
	notify chan struct{}

	// queued indexes commands between enqueue and dequeue so the
	// cancellation engine can find them by id, kind or age.
	mu     sync.Mutex
	queued map[uint64]*command
}

func newPipeline(high, normal, low int) *pipeline {
	return &pipeline{
		high:   make(chan *command, high),
		normal: make(chan *command, normal),
		low:    make(chan *command, low),
		notify: make(chan struct{}, 1),
		queued: make(map[uint64]*command),
	}
}

func (p *pipeline) channel(prio model.Priority) chan *command {
	switch prio {
	case model.PriorityHigh:
		return p.high
	case model.PriorityLow:
		return p.low
	default:
		return p.normal
	}
}

// depth reports the current fill of one tier.
func (p *pipeline) depth(prio model.Priority) int {
	return len(p.channel(prio))
}

// push inserts one command, waiting up to wait for room. A full channel
// with no (or an expired) wait yields ErrQueueFull and the command is
// never registered.
func (p *pipeline) push(c *command, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for {
		if p.tryPush(c) {
			return nil
		}
		if wait <= 0 || time.Now().After(deadline) {
			return model.ErrQueueFull
		}
		// The worker drains at device speed; a coarse retry tick is
		// enough and keeps enqueueMu uncontended.
		time.Sleep(5 * time.Millisecond)
	}
}

func (p *pipeline) tryPush(c *command) bool {
	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()

	select {
	case p.channel(c.priority) <- c:
		p.register(c)
		p.wake()
		return true
	default:
		return false
	}
}

// pushBatch inserts all commands contiguously or none of them. Used by
// transaction commit; all members share one priority.
func (p *pipeline) pushBatch(cmds []*command, prio model.Priority) error {
	p.enqueueMu.Lock()
	defer p.enqueueMu.Unlock()

	ch := p.channel(prio)
	if cap(ch)-len(ch) < len(cmds) {
		return model.ErrQueueFull
	}
	for _, c := range cmds {
		ch <- c
		p.register(c)
	}
	p.wake()
	return nil
}

func (p *pipeline) register(c *command) {
	p.mu.Lock()
	p.queued[c.id] = c
	p.mu.Unlock()
}

func (p *pipeline) unregister(id uint64) {
	p.mu.Lock()
	delete(p.queued, id)
	p.mu.Unlock()
}

func (p *pipeline) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// tryPop takes the next command by strict priority: drain High, then at
// most one Normal, then at most one Low, re-checked from the top on the
// caller's next call.
func (p *pipeline) tryPop() *command {
	select {
	case c := <-p.high:
		return c
	default:
	}
	select {
	case c := <-p.high:
		return c
	case c := <-p.normal:
		return c
	default:
	}
	select {
	case c := <-p.high:
		return c
	case c := <-p.normal:
		return c
	case c := <-p.low:
		return c
	default:
	}
	return nil
}

// pop blocks until a command is available or stop closes. The poll
// order of tryPop keeps priority strict even when several tiers are
// ready at wakeup. When idle is positive and nothing arrives within it,
// pop returns (nil, true) so the worker can run its liveness probe.
func (p *pipeline) pop(stop <-chan struct{}, idle time.Duration) (*command, bool) {
	var idleCh <-chan time.Time
	if idle > 0 {
		timer := time.NewTimer(idle)
		defer timer.Stop()
		idleCh = timer.C
	}
	for {
		if c := p.tryPop(); c != nil {
			p.unregister(c.id)
			return c, true
		}
		select {
		case <-p.notify:
		case <-idleCh:
			return nil, true
		case <-stop:
			return nil, false
		}
	}
}

// popTier takes the head of a single tier without blocking. The worker
// uses it while a transaction hold is active: the held transaction's
// members sit contiguously at the head of their own tier.
func (p *pipeline) popTier(prio model.Priority) *command {
	select {
	case c := <-p.channel(prio):
		p.unregister(c.id)
		return c
	default:
		return nil
	}
}

// snapshotQueued returns the currently queued commands for the
// cancellation engine to filter. Resolution happens outside the lock.
func (p *pipeline) snapshotQueued() []*command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*command, 0, len(p.queued))
	for _, c := range p.queued {
		out = append(out, c)
	}
	return out
}

// lookupQueued finds one queued command by id.
func (p *pipeline) lookupQueued(id uint64) (*command, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.queued[id]
	return c, ok
}
