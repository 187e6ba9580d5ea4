package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// supervisor drives the reconnect schedule for one manager. It runs
// embedded in the worker goroutine; nothing here is called from client
// goroutines.
type supervisor struct {
	m  *Manager
	bo *backoff.ExponentialBackOff
}

func newSupervisor(m *Manager) *supervisor {
	ceiling := m.opts.reconnectBase << uint(m.opts.maxBackoffExp)
	if ceiling > m.opts.reconnectMax || ceiling <= 0 {
		ceiling = m.opts.reconnectMax
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.opts.reconnectBase
	bo.Multiplier = 2
	// The schedule must stay a clean geometric sequence so operators
	// can predict retry times from the two config knobs.
	bo.RandomizationFactor = 0
	bo.MaxInterval = ceiling
	bo.Reset()

	return &supervisor{m: m, bo: bo}
}

// connect runs one attempt of the reconnect loop: dial, and on failure
// park until the next retry deadline. Returns true once the link is up,
// false after a failed attempt, once the retry delay has passed or
// shutdown has interrupted it.
func (s *supervisor) connect(ctx context.Context) bool {
	m := s.m

	dialCtx := ctx
	if m.connOpts.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.connOpts.DialTimeout)
		defer cancel()
	}

	err := m.adapter.Connect(dialCtx, m.connOpts)
	if err == nil {
		s.bo.Reset()
		m.log.Info("device link established",
			"device", m.adapter.Name(),
			"address", m.connOpts.Address)
		return true
	}

	m.stats.noteReconnectAttempt()
	delay := s.bo.NextBackOff()
	m.log.Warn("device connect failed",
		"device", m.adapter.Name(),
		"address", m.connOpts.Address,
		"retry_in", delay,
		"error", err)

	select {
	case <-time.After(delay):
	case <-m.stopCh:
		return false
	}
	return false
}
