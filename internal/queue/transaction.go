package queue

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// TransactionResult is the aggregated outcome delivered once, when the
// last member of a committed transaction resolves.
type TransactionResult struct {
	ID  uint64
	UID uuid.UUID

	SuccessCount int
	FailureCount int

	// Completions holds the per-member outcomes in member order.
	Completions []Completion
}

// TransactionFunc receives the aggregated result. It fires exactly once
// per committed transaction, on whichever goroutine resolved the last
// member.
type TransactionFunc func(TransactionResult)

// TxnOption mutates an uncommitted transaction at Begin time.
type TxnOption func(*Transaction)

// WithTxnPriority selects the dispatch tier all members are enqueued
// at. Default is Normal.
func WithTxnPriority(p model.Priority) TxnOption {
	return func(t *Transaction) {
		if p.Valid() {
			t.priority = p
		}
	}
}

// WithAbortOnError makes the first failed member cancel every member
// after it.
func WithAbortOnError() TxnOption {
	return func(t *Transaction) { t.abortOnError = true }
}

// WithTxnTimeout cancels whatever part of the transaction is still
// outstanding once d elapses after commit. Zero means no timeout.
func WithTxnTimeout(d time.Duration) TxnOption {
	return func(t *Transaction) { t.timeout = d }
}

// Transaction is an ordered group of commands committed as one atomic
// run. While uncommitted the members live only here, never in a
// dispatch channel.
type Transaction struct {
	id  uint64
	uid uuid.UUID

	priority     model.Priority
	abortOnError bool
	timeout      time.Duration

	mu        sync.Mutex
	committed bool
	cancelled bool
	members   []*command

	// aborted trips when abort-on-error sees its first failure. The
	// worker checks it before every member dispatch.
	aborted atomic.Bool

	// Aggregation state, guarded by mu.
	doneCount    int
	successCount int
	failureCount int
	results      []Completion
	callback     TransactionFunc

	timer    *time.Timer
	onFinish func(*Transaction)
}

func newTransaction(id uint64) *Transaction {
	return &Transaction{
		id:       id,
		uid:      uuid.New(),
		priority: model.PriorityNormal,
	}
}

// ID returns the manager-scoped transaction id.
func (t *Transaction) ID() uint64 { return t.id }

// UID returns the correlation id carried into published events.
func (t *Transaction) UID() uuid.UUID { return t.uid }

// add appends a member while uncommitted. It fails once the transaction
// is committed or cancelled, or already holds maxMembers commands.
func (t *Transaction) add(c *command, maxMembers int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.committed:
		return fmt.Errorf("%w: transaction %d already committed", model.ErrInvalidState, t.id)
	case t.cancelled:
		return fmt.Errorf("%w: transaction %d cancelled", model.ErrInvalidState, t.id)
	case len(t.members) >= maxMembers:
		return fmt.Errorf("%w: transaction %d holds %d commands already", model.ErrInvalidState, t.id, maxMembers)
	}

	c.txn = t
	c.txnIndex = len(t.members)
	t.members = append(t.members, c)
	return nil
}

// seal flips the transaction to committed and returns the member batch
// for contiguous enqueueing. Committing twice or committing an empty
// transaction fails.
func (t *Transaction) seal(cb TransactionFunc) ([]*command, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.committed:
		return nil, fmt.Errorf("%w: transaction %d already committed", model.ErrInvalidState, t.id)
	case t.cancelled:
		return nil, fmt.Errorf("%w: transaction %d cancelled", model.ErrInvalidState, t.id)
	case len(t.members) == 0:
		return nil, fmt.Errorf("%w: transaction %d is empty", model.ErrInvalidState, t.id)
	}

	t.committed = true
	t.callback = cb
	t.results = make([]Completion, len(t.members))
	return t.members, nil
}

// unseal reverts a failed commit so the transaction can be retried or
// cancelled.
func (t *Transaction) unseal() {
	t.mu.Lock()
	t.committed = false
	t.callback = nil
	t.results = nil
	t.mu.Unlock()
}

func (t *Transaction) isCommitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.committed
}

// cancelPending marks the transaction cancelled and returns the members
// that still need resolving. For an uncommitted transaction that is
// everything; for a committed one it is whatever has not resolved yet,
// which the cancellation engine then tombstones in place.
func (t *Transaction) cancelPending() []*command {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cancelled = true
	t.aborted.Store(true)

	var pending []*command
	for _, m := range t.members {
		if !m.resolved() {
			pending = append(pending, m)
		}
	}
	return pending
}

// noteDone records one member outcome and fires the aggregated callback
// when the last member settles.
func (t *Transaction) noteDone(index int, comp Completion) {
	t.mu.Lock()

	if t.results != nil && index < len(t.results) {
		t.results[index] = comp
	}
	if comp.Status == StatusCompleted {
		t.successCount++
	} else {
		t.failureCount++
	}
	if t.abortOnError && comp.Status == StatusFailed {
		t.aborted.Store(true)
	}

	t.doneCount++
	finished := t.doneCount == len(t.members) && t.committed
	var (
		cb  TransactionFunc
		res TransactionResult
	)
	if finished {
		cb = t.callback
		res = TransactionResult{
			ID:           t.id,
			UID:          t.uid,
			SuccessCount: t.successCount,
			FailureCount: t.failureCount,
			Completions:  t.results,
		}
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
	}
	onFinish := t.onFinish
	t.mu.Unlock()

	if !finished {
		return
	}
	if cb != nil {
		cb(res)
	}
	if onFinish != nil {
		onFinish(t)
	}
}

// remainingUnresolved returns how many members have not settled yet.
// The worker uses it to decide when the transaction hold releases.
func (t *Transaction) remainingUnresolved() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.members) - t.doneCount
}
