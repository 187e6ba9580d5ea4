/*
Package queue implements the device command queue engine: a prioritized,
cancellable, transactional pipeline with a single worker goroutine per
managed device and automatic reconnection.

Key Architectural Concepts:
  - Single Consumer: one worker goroutine owns the device adapter.
    Clients on any number of goroutines talk to it only through bounded
    channels and resolved completion values.
  - Strict Priority, FIFO Within: three bounded tiers drained
    High > Normal > Low, re-checked after every dispatch.
  - Transaction Hold: a committed transaction's members execute
    back-to-back; the hold is an explicit worker state, not an accident
    of code ordering.
  - Advisory Cancellation: cancelling never interrupts the device. A
    queued command resolves immediately; a dispatched one finishes and
    its completion carries the cancel flag.
*/
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webitel/device-gateway-service/internal/adapter/device"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// Queuer is the engine façade. Manager is its only implementation.
type Queuer interface {
	SubmitWait(ctx context.Context, kind device.Kind, params device.Params, prio model.Priority) (Completion, error)
	SubmitAsync(kind device.Kind, params device.Params, prio model.Priority, cb CompletionFunc) (uint64, error)

	Begin(opts ...TxnOption) (uint64, error)
	AddToTransaction(txnID uint64, kind device.Kind, params device.Params) error
	Commit(txnID uint64, cb TransactionFunc) error
	CancelTransaction(txnID uint64) error

	CancelCommand(id uint64) error
	CancelKind(kind device.Kind) int
	CancelOlderThan(age time.Duration) int
	CancelAll() int

	Stats() Snapshot
	State() model.ConnState
	Adapter() device.Adapter
	Close(ctx context.Context) error
}

// Manager serializes access to one device. Create one per device with
// New; handles are plain values passed around explicitly.
type Manager struct {
	adapter  device.Adapter
	connOpts device.ConnectOptions
	opts     options
	log      *slog.Logger

	pipe  *pipeline
	super *supervisor
	stats stats

	ids    atomic.Uint64
	txnIDs atomic.Uint64

	txnMu sync.Mutex
	txns  map[uint64]*Transaction

	state    atomic.Int32
	inflight atomic.Pointer[command]

	runCtx    context.Context
	cancelRun context.CancelFunc
	stopCh    chan struct{}
	closed    atomic.Bool
	wg        sync.WaitGroup
}

var _ Queuer = (*Manager)(nil)

// New builds a manager around the adapter and starts its worker. The
// first connect attempt begins immediately.
func New(adapter device.Adapter, connOpts device.ConnectOptions, opts ...Option) *Manager {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		adapter:  adapter,
		connOpts: connOpts,
		opts:     o,
		log:      o.logger.With("component", "queue", "device", adapter.Name()),
		pipe:     newPipeline(o.highCapacity, o.normalCapacity, o.lowCapacity),
		txns:     make(map[uint64]*Transaction),
		stopCh:   make(chan struct{}),
	}
	m.runCtx, m.cancelRun = context.WithCancel(context.Background())
	m.super = newSupervisor(m)
	m.state.Store(int32(model.StateDisconnected))

	m.wg.Add(1)
	go m.run()
	return m
}

// Adapter exposes the driver for kind-name lookups at the API boundary.
func (m *Manager) Adapter() device.Adapter { return m.adapter }

// State returns the supervisor's current connection state.
func (m *Manager) State() model.ConnState {
	return model.ConnState(m.state.Load())
}

func (m *Manager) setState(s model.ConnState) {
	prev := model.ConnState(m.state.Swap(int32(s)))
	if prev == s {
		return
	}
	m.log.Info("connection state changed", "from", prev.String(), "to", s.String())
	if m.opts.onStateChange != nil {
		m.opts.onStateChange(s)
	}
}

func (m *Manager) closing() bool { return m.closed.Load() }

// newCommand validates the submission and builds the engine-owned
// record, deep-copying the parameters.
func (m *Manager) newCommand(kind device.Kind, params device.Params, prio model.Priority, cb CompletionFunc) (*command, error) {
	if m.closing() {
		return nil, fmt.Errorf("%w: manager is shutting down", model.ErrInvalidState)
	}
	if !prio.Valid() {
		return nil, fmt.Errorf("%w: priority %d", model.ErrInvalidParameter, prio)
	}
	if params != nil {
		if params.CommandKind() != kind {
			return nil, fmt.Errorf("%w: params of kind %s for command %s",
				model.ErrInvalidParameter, m.adapter.KindName(params.CommandKind()), m.adapter.KindName(kind))
		}
		params = params.Clone()
	}

	c := newCommand(m.ids.Add(1), kind, params, prio)
	listener := m.opts.onCompletion
	if cb != nil || listener != nil {
		c.callback = func(comp Completion) {
			if cb != nil {
				cb(comp)
			}
			if listener != nil {
				listener(comp)
			}
		}
	}
	return c, nil
}

// SubmitAsync enqueues without waiting for room. The callback fires
// exactly once. A full channel rejects with id 0 and ErrQueueFull.
func (m *Manager) SubmitAsync(kind device.Kind, params device.Params, prio model.Priority, cb CompletionFunc) (uint64, error) {
	c, err := m.newCommand(kind, params, prio, cb)
	if err != nil {
		return 0, err
	}
	if err := m.pipe.push(c, 0); err != nil {
		return 0, err
	}
	return c.id, nil
}

// SubmitWait enqueues and blocks until the command resolves or the
// context expires. Without a caller deadline the manager's default
// timeout applies. On timeout the command is left to execute; its
// eventual result is discarded.
func (m *Manager) SubmitWait(ctx context.Context, kind device.Kind, params device.Params, prio model.Priority) (Completion, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.defaultTimeout)
		defer cancel()
	}

	c, err := m.newCommand(kind, params, prio, nil)
	if err != nil {
		return Completion{}, err
	}

	deadline, _ := ctx.Deadline()
	if err := m.pipe.push(c, time.Until(deadline)); err != nil {
		return Completion{}, err
	}

	select {
	case comp := <-c.done:
		return comp, comp.Err
	case <-ctx.Done():
		return Completion{}, model.TimeoutError(ctx.Err())
	}
}

// Stats assembles a point-in-time snapshot.
func (m *Manager) Stats() Snapshot {
	processed, errs, cancelled, reconnects := m.stats.counters()
	return Snapshot{
		TotalProcessed:    processed,
		TotalErrors:       errs,
		TotalCancelled:    cancelled,
		ReconnectAttempts: reconnects,
		HighQueued:        m.pipe.depth(model.PriorityHigh),
		NormalQueued:      m.pipe.depth(model.PriorityNormal),
		LowQueued:         m.pipe.depth(model.PriorityLow),
		Connected:         m.State() == model.StateConnected,
		Processing:        m.inflight.Load() != nil,
	}
}

// Begin opens a transaction. Allowed while disconnected: the members
// will run after reconnect.
func (m *Manager) Begin(opts ...TxnOption) (uint64, error) {
	if m.closing() {
		return 0, fmt.Errorf("%w: manager is shutting down", model.ErrInvalidState)
	}
	t := newTransaction(m.txnIDs.Add(1))
	for _, opt := range opts {
		opt(t)
	}
	t.onFinish = func(t *Transaction) { m.dropTxn(t.id) }

	m.txnMu.Lock()
	m.txns[t.id] = t
	m.txnMu.Unlock()
	return t.id, nil
}

func (m *Manager) lookupTxn(id uint64) (*Transaction, error) {
	m.txnMu.Lock()
	defer m.txnMu.Unlock()
	t, ok := m.txns[id]
	if !ok {
		return nil, fmt.Errorf("%w: transaction %d", model.ErrNotFound, id)
	}
	return t, nil
}

func (m *Manager) dropTxn(id uint64) {
	m.txnMu.Lock()
	delete(m.txns, id)
	m.txnMu.Unlock()
}

// AddToTransaction stages one command. Staged commands occupy no
// channel slot until commit.
func (m *Manager) AddToTransaction(txnID uint64, kind device.Kind, params device.Params) error {
	t, err := m.lookupTxn(txnID)
	if err != nil {
		return err
	}
	c, err := m.newCommand(kind, params, t.priority, nil)
	if err != nil {
		return err
	}
	return t.add(c, m.opts.maxTxnCommands)
}

// Commit seals the transaction and enqueues every member contiguously
// at its priority. Either all members land or none do.
func (m *Manager) Commit(txnID uint64, cb TransactionFunc) error {
	t, err := m.lookupTxn(txnID)
	if err != nil {
		return err
	}
	members, err := t.seal(cb)
	if err != nil {
		return err
	}
	if err := m.pipe.pushBatch(members, t.priority); err != nil {
		t.unseal()
		return err
	}
	if t.timeout > 0 {
		t.mu.Lock()
		t.timer = time.AfterFunc(t.timeout, func() { _ = m.CancelTransaction(txnID) })
		t.mu.Unlock()
	}
	return nil
}

// Close shuts the manager down: reject new work, stop the worker,
// resolve everything outstanding as Cancelled, drop the link.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(m.stopCh)
	m.cancelRun()
	m.wg.Wait()

	m.CancelAll()

	m.txnMu.Lock()
	ids := make([]uint64, 0, len(m.txns))
	for id := range m.txns {
		ids = append(ids, id)
	}
	m.txnMu.Unlock()
	for _, id := range ids {
		_ = m.CancelTransaction(id)
	}

	m.setState(model.StateDisconnected)
	if err := m.adapter.Disconnect(ctx); err != nil {
		m.log.Warn("disconnect failed", "error", err)
	}
	return nil
}
