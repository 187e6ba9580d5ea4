package queue

import (
	"time"

	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// run is the single consumer loop. Every Connect, Ping, Execute and
// Cooldown call happens here, and no internal lock is ever held across
// an Execute.
func (m *Manager) run() {
	defer m.wg.Done()

	// hold is the explicit transaction interlock: while set, only the
	// held transaction's tier is drained, and its members sit
	// contiguously at that tier's head, so nothing can interleave.
	var hold *Transaction

	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		if m.State() != model.StateConnected {
			m.setState(model.StateConnecting)
			if m.super.connect(m.runCtx) {
				m.setState(model.StateConnected)
			} else if m.closing() {
				return
			}
			continue
		}

		if !m.adapter.Connected() {
			m.setState(model.StateDisconnected)
			continue
		}

		var c *command
		if hold != nil {
			if c = m.pipe.popTier(hold.priority); c == nil {
				// Every member already dequeued; whatever is left
				// resolves off-channel.
				hold = nil
				continue
			}
		} else {
			var ok bool
			if c, ok = m.pipe.pop(m.stopCh, m.opts.pingInterval); !ok {
				return
			}
			if c == nil {
				m.probe()
				continue
			}
		}

		if c.txn != nil && hold == nil && c.txn.isCommitted() {
			hold = c.txn
		}

		switch {
		case c.resolved():
			// Tombstone left by the cancellation engine; the
			// completion already went out.
		case c.cancel.Load(), c.txn != nil && c.txn.aborted.Load():
			if c.resolveCancelled() {
				m.stats.noteCancelled()
			}
		default:
			m.dispatch(c)
		}

		if hold != nil && hold.remainingUnresolved() == 0 {
			hold = nil
		}
	}
}

// dispatch runs one command against the device and settles its
// completion by error class.
func (m *Manager) dispatch(c *command) {
	m.inflight.Store(c)
	res, err := m.adapter.Execute(m.runCtx, c.kind, c.params)
	m.inflight.Store(nil)

	if err == nil {
		c.resolve(Completion{Status: StatusCompleted, Result: res})
		m.stats.noteProcessed(false)
		m.sleepCooldown(c)
		return
	}

	c.resolve(Completion{Status: StatusFailed, Err: err})
	m.stats.noteProcessed(true)

	if model.Classify(err) == model.ClassLinkFailure {
		m.log.Warn("device link lost",
			"device", m.adapter.Name(),
			"command", m.adapter.KindName(c.kind),
			"error", err)
		m.setState(model.StateDisconnected)
	}
}

// sleepCooldown applies the adapter-declared recovery pause after a
// successful dispatch, still responsive to shutdown.
func (m *Manager) sleepCooldown(c *command) {
	d := m.adapter.Cooldown(c.kind)
	if d <= 0 {
		return
	}
	select {
	case <-time.After(d):
	case <-m.stopCh:
	}
}

// probe checks link liveness on an idle queue.
func (m *Manager) probe() {
	if err := m.adapter.Ping(m.runCtx); err != nil {
		m.log.Warn("liveness probe failed",
			"device", m.adapter.Name(),
			"error", err)
		m.setState(model.StateDisconnected)
	}
}
