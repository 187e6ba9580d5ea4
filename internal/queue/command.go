package queue

import (
	"sync/atomic"
	"time"

	"github.com/webitel/device-gateway-service/internal/adapter/device"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

// Status is the terminal disposition of a command.
type Status int16

const (
	// [ZERO_VALUE_GUARD] WE START FROM 1 TO DISTINGUISH FROM UNINITIALIZED DATA
	StatusCompleted Status = iota + 1
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Completion is the resolved outcome of one command. Exactly one is
// produced per submitted command, across completion, failure and
// cancellation.
type Completion struct {
	ID       uint64
	Kind     device.Kind
	Priority model.Priority
	Status   Status

	// Result carries the device payload on StatusCompleted. Ownership
	// passes to the consumer of the completion.
	Result device.Result

	// Err is set on StatusFailed (classified through the model
	// package) and on StatusCancelled (model.ErrCancelled).
	Err error

	// CancelRequested reports that a cancel raced in at or after
	// dispatch. The command still ran; the flag is advisory for
	// post-facto audit.
	CancelRequested bool

	TransactionID uint64
	SubmittedAt   time.Time
	FinishedAt    time.Time
}

// CompletionFunc receives async completions. For commands resolved by
// the worker it runs on the worker goroutine; for commands cancelled
// before dispatch it runs on the cancelling goroutine.
type CompletionFunc func(Completion)

const (
	cmdPending int32 = iota
	cmdResolved
)

// command is the in-flight unit owned by the engine. Its completion
// slot resolves exactly once; the state CAS is the interlock between
// the worker and the cancellation engine.
type command struct {
	id          uint64
	kind        device.Kind
	priority    model.Priority
	params      device.Params
	submittedAt time.Time

	// txn is non-nil for transaction members; txnIndex is the member's
	// position inside the transaction for result aggregation.
	txn      *Transaction
	txnIndex int

	// cancel latches false to true. A cancel observed before dispatch
	// suppresses the adapter call; afterwards it only tags the
	// delivered completion.
	cancel atomic.Bool

	state atomic.Int32

	// done is the rendezvous for blocking submitters. Capacity one, so
	// resolve never blocks on an abandoned waiter.
	done     chan Completion
	callback CompletionFunc
}

func newCommand(id uint64, kind device.Kind, params device.Params, prio model.Priority) *command {
	return &command{
		id:          id,
		kind:        kind,
		priority:    prio,
		params:      params,
		submittedAt: time.Now(),
		done:        make(chan Completion, 1),
	}
}

func (c *command) resolved() bool {
	return c.state.Load() == cmdResolved
}

// resolve settles the completion slot. The first caller wins; any
// racing resolution is dropped, which is what gives the engine its
// at-most-once completion guarantee.
func (c *command) resolve(comp Completion) bool {
	if !c.state.CompareAndSwap(cmdPending, cmdResolved) {
		return false
	}

	comp.ID = c.id
	comp.Kind = c.kind
	comp.Priority = c.priority
	comp.SubmittedAt = c.submittedAt
	comp.FinishedAt = time.Now()
	comp.CancelRequested = c.cancel.Load()
	if c.txn != nil {
		comp.TransactionID = c.txn.id
	}

	c.done <- comp
	if c.callback != nil {
		c.callback(comp)
	}
	if c.txn != nil {
		c.txn.noteDone(c.txnIndex, comp)
	}
	return true
}

// resolveCancelled is the shared terminal path of the cancellation
// engine.
func (c *command) resolveCancelled() bool {
	c.cancel.Store(true)
	return c.resolve(Completion{Status: StatusCancelled, Err: model.ErrCancelled})
}
