package queue

import (
	"fmt"
	"time"

	"github.com/webitel/device-gateway-service/internal/adapter/device"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// The cancellation engine only marks commands. It never tears out the
// worker or interrupts the adapter: a queued command resolves as
// Cancelled on the spot (its channel slot becomes a tombstone the
// worker discards), a dispatched one finishes on the device and its
// completion carries the cancel flag.

// CancelCommand cancels one command by id, wherever it currently is.
// Cancelling a command already dispatched only sets the advisory flag.
func (m *Manager) CancelCommand(id uint64) error {
	if c, ok := m.pipe.lookupQueued(id); ok {
		if c.resolveCancelled() {
			m.stats.noteCancelled()
		}
		return nil
	}

	if infl := m.inflight.Load(); infl != nil && infl.id == id {
		infl.cancel.Store(true)
		return nil
	}

	// Staged inside an uncommitted transaction.
	m.txnMu.Lock()
	for _, t := range m.txns {
		t.mu.Lock()
		for _, member := range t.members {
			if member.id == id && !t.committed {
				t.mu.Unlock()
				m.txnMu.Unlock()
				if member.resolveCancelled() {
					m.stats.noteCancelled()
				}
				return nil
			}
		}
		t.mu.Unlock()
	}
	m.txnMu.Unlock()

	return fmt.Errorf("%w: command %d", model.ErrNotFound, id)
}

// CancelKind cancels every queued command of the given kind and returns
// how many were resolved.
func (m *Manager) CancelKind(kind device.Kind) int {
	return m.cancelQueued(func(c *command) bool { return c.kind == kind })
}

// CancelOlderThan cancels every queued command submitted before
// now-age.
func (m *Manager) CancelOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	return m.cancelQueued(func(c *command) bool { return c.submittedAt.Before(cutoff) })
}

// CancelAll cancels every queued command in every tier and returns how
// many were resolved. Their channel slots stay behind as tombstones.
func (m *Manager) CancelAll() int {
	return m.cancelQueued(func(*command) bool { return true })
}

func (m *Manager) cancelQueued(match func(*command) bool) int {
	n := 0
	for _, c := range m.pipe.snapshotQueued() {
		if !match(c) {
			continue
		}
		if c.resolveCancelled() {
			m.stats.noteCancelled()
			n++
		}
	}
	return n
}

// CancelTransaction disposes an uncommitted transaction or terminates a
// committed one early. The aggregated callback of a committed
// transaction still fires exactly once, after its last member settles.
func (m *Manager) CancelTransaction(txnID uint64) error {
	t, err := m.lookupTxn(txnID)
	if err != nil {
		return err
	}

	committed := t.isCommitted()
	pending := t.cancelPending()

	infl := m.inflight.Load()
	for _, member := range pending {
		if infl != nil && infl.id == member.id {
			// Mid-flight member: let the device finish, tag the
			// completion.
			member.cancel.Store(true)
			continue
		}
		if member.resolveCancelled() {
			m.stats.noteCancelled()
		}
	}

	if !committed {
		// Nothing was enqueued and no callback was registered;
		// dispose of the registry entry directly.
		m.dropTxn(txnID)
	}
	return nil
}
