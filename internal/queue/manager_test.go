package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/device-gateway-service/internal/adapter/device"
	"github.com/webitel/device-gateway-service/internal/adapter/mock"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

func testConnOpts() device.ConnectOptions {
	return device.ConnectOptions{Address: "mock://dev0"}
}

func newTestManager(t *testing.T, a *mock.Adapter, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithReconnectBackoff(10*time.Millisecond, 200*time.Millisecond),
		WithDefaultTimeout(5 * time.Second),
		WithPingInterval(0),
	}
	m := New(a, testConnOpts(), append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func waitConnected(t *testing.T, m *Manager) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Stats().Connected
	}, 2*time.Second, 5*time.Millisecond, "manager never connected")
}

func TestSubmitWaitRoundTrip(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)
	waitConnected(t, m)

	comp, err := m.SubmitWait(context.Background(), mock.KindEcho, mock.EchoParams{Payload: "hello-42"}, model.PriorityNormal)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, comp.Status)

	res, ok := comp.Result.(mock.EchoResult)
	require.True(t, ok, "expected EchoResult, got %T", comp.Result)
	assert.Equal(t, "hello-42", res.Payload)
}

func TestPriorityOrdering(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true)
	m := newTestManager(t, a)

	var wg sync.WaitGroup
	submit := func(prio model.Priority, label string) {
		wg.Add(1)
		_, err := m.SubmitAsync(mock.KindEcho, mock.EchoParams{Payload: label}, prio, func(Completion) { wg.Done() })
		require.NoError(t, err)
	}

	// Lows first, then normals, then highs: submission order must not
	// matter across tiers.
	for i := 0; i < 3; i++ {
		submit(model.PriorityLow, fmt.Sprintf("A%d", i))
	}
	for i := 0; i < 3; i++ {
		submit(model.PriorityNormal, fmt.Sprintf("B%d", i))
	}
	for i := 0; i < 3; i++ {
		submit(model.PriorityHigh, fmt.Sprintf("C%d", i))
	}

	a.FailConnect(false)
	wg.Wait()

	want := []string{
		"ECHO(C0)", "ECHO(C1)", "ECHO(C2)",
		"ECHO(B0)", "ECHO(B1)", "ECHO(B2)",
		"ECHO(A0)", "ECHO(A1)", "ECHO(A2)",
	}
	assert.Equal(t, want, a.Trace())
}

func TestTransactionAtomicity(t *testing.T) {
	a := mock.New("dev")
	a.SetExecDelay(30 * time.Millisecond)
	m := newTestManager(t, a)
	waitConnected(t, m)

	txn, err := m.Begin(WithTxnPriority(model.PriorityNormal))
	require.NoError(t, err)
	for _, v := range []int64{0, 100, 200, 300, 400} {
		require.NoError(t, m.AddToTransaction(txn, mock.KindSet, mock.SetParams{Value: v}))
	}

	done := make(chan TransactionResult, 1)
	require.NoError(t, m.Commit(txn, func(res TransactionResult) { done <- res }))

	// Wait for the first member to reach the device, then race a High
	// command against the remaining members. The transaction hold must
	// keep it out until the last member finished.
	require.Eventually(t, func() bool { return len(a.Trace()) >= 1 }, 2*time.Second, time.Millisecond)

	getDone := make(chan struct{})
	_, err = m.SubmitAsync(mock.KindGet, nil, model.PriorityHigh, func(Completion) { close(getDone) })
	require.NoError(t, err)

	res := <-done
	<-getDone

	require.Equal(t, 5, res.SuccessCount)
	require.Equal(t, 0, res.FailureCount)

	want := []string{"SET(0)", "SET(100)", "SET(200)", "SET(300)", "SET(400)", "GET"}
	assert.Equal(t, want, a.Trace())
}

func TestTransactionAbortOnError(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)
	waitConnected(t, m)

	txn, err := m.Begin(WithAbortOnError())
	require.NoError(t, err)
	require.NoError(t, m.AddToTransaction(txn, mock.KindSet, mock.SetParams{Value: 100}))
	require.NoError(t, m.AddToTransaction(txn, mock.KindFail, nil))
	require.NoError(t, m.AddToTransaction(txn, mock.KindSet, mock.SetParams{Value: 100}))

	done := make(chan TransactionResult, 1)
	require.NoError(t, m.Commit(txn, func(res TransactionResult) { done <- res }))

	res := <-done
	assert.Equal(t, 1, res.SuccessCount)
	assert.Equal(t, 2, res.FailureCount)
	require.Len(t, res.Completions, 3)
	assert.Equal(t, StatusCompleted, res.Completions[0].Status)
	assert.Equal(t, StatusFailed, res.Completions[1].Status)
	assert.Equal(t, StatusCancelled, res.Completions[2].Status)

	// The aborted member must never reach the device.
	assert.Equal(t, []string{"SET(100)", "FAIL"}, a.Trace())
}

func TestReconnectBackoff(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true)
	m := newTestManager(t, a, WithReconnectBackoff(20*time.Millisecond, 500*time.Millisecond))

	require.Eventually(t, func() bool {
		return m.Stats().ReconnectAttempts >= 2
	}, 3*time.Second, 5*time.Millisecond, "expected repeated connect attempts")
	require.False(t, m.Stats().Connected)

	a.FailConnect(false)
	waitConnected(t, m)

	comp, err := m.SubmitWait(context.Background(), mock.KindGet, nil, model.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, comp.Status)
}

func TestQueueFullRejectsWithoutLoss(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true) // park the worker so the channel stays full
	m := newTestManager(t, a, WithQueueCapacities(8, 8, 8))

	var wg sync.WaitGroup
	accepted, rejected := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		id, err := m.SubmitAsync(mock.KindGet, nil, model.PriorityHigh, func(Completion) { wg.Done() })
		if err != nil {
			require.ErrorIs(t, err, model.ErrQueueFull)
			require.Zero(t, id)
			rejected++
			wg.Done()
			continue
		}
		require.NotZero(t, id)
		accepted++
	}
	require.Equal(t, 8, accepted)
	require.Equal(t, 4, rejected)

	a.FailConnect(false)
	wg.Wait()

	require.Eventually(t, func() bool {
		s := m.Stats()
		return s.TotalProcessed+s.TotalCancelled == 8
	}, 2*time.Second, 5*time.Millisecond)
}

func TestBlockingTimeoutLeavesCommandRunning(t *testing.T) {
	a := mock.New("dev")
	a.SetExecDelay(400 * time.Millisecond)
	m := newTestManager(t, a)
	waitConnected(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.SubmitWait(ctx, mock.KindEcho, mock.EchoParams{Payload: "slow"}, model.PriorityNormal)
	require.ErrorIs(t, err, model.ErrTimeout)
	require.Less(t, time.Since(start), 300*time.Millisecond)

	// The device still finishes the command; its result is discarded.
	require.Eventually(t, func() bool {
		return m.Stats().TotalProcessed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"ECHO(slow)"}, a.Trace())
}

func TestCancelBeforeDispatchNeverExecutes(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true)
	m := newTestManager(t, a)

	got := make(chan Completion, 1)
	id, err := m.SubmitAsync(mock.KindSet, mock.SetParams{Value: 7}, model.PriorityNormal, func(c Completion) { got <- c })
	require.NoError(t, err)

	require.NoError(t, m.CancelCommand(id))
	comp := <-got
	assert.Equal(t, StatusCancelled, comp.Status)
	assert.ErrorIs(t, comp.Err, model.ErrCancelled)

	a.FailConnect(false)
	waitConnected(t, m)

	// Give the worker a chance to drain the tombstone.
	require.Eventually(t, func() bool {
		return m.Stats().NormalQueued == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, a.Trace())
	assert.EqualValues(t, 0, m.Stats().TotalProcessed)
	assert.EqualValues(t, 1, m.Stats().TotalCancelled)
}

func TestCancelByKindAndAge(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true)
	m := newTestManager(t, a)

	var cancelled atomic.Int32
	cb := func(c Completion) {
		if c.Status == StatusCancelled {
			cancelled.Add(1)
		}
	}

	for i := 0; i < 3; i++ {
		_, err := m.SubmitAsync(mock.KindSet, mock.SetParams{Value: int64(i)}, model.PriorityLow, cb)
		require.NoError(t, err)
	}
	_, err := m.SubmitAsync(mock.KindGet, nil, model.PriorityLow, cb)
	require.NoError(t, err)

	require.Equal(t, 3, m.CancelKind(mock.KindSet))
	require.EqualValues(t, 3, cancelled.Load())

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 1, m.CancelOlderThan(10*time.Millisecond))
	require.EqualValues(t, 4, cancelled.Load())

	require.Equal(t, 0, m.CancelAll())
}

func TestCancelInFlightDeliversResultWithFlag(t *testing.T) {
	a := mock.New("dev")
	a.SetExecDelay(150 * time.Millisecond)
	m := newTestManager(t, a)
	waitConnected(t, m)

	got := make(chan Completion, 1)
	id, err := m.SubmitAsync(mock.KindEcho, mock.EchoParams{Payload: "x"}, model.PriorityNormal, func(c Completion) { got <- c })
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return m.Stats().Processing
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, m.CancelCommand(id))

	comp := <-got
	assert.Equal(t, StatusCompleted, comp.Status)
	assert.True(t, comp.CancelRequested)
	assert.Equal(t, []string{"ECHO(x)"}, a.Trace())
}

func TestLinkFailureTriggersReconnect(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)
	waitConnected(t, m)

	a.FailLinkNext(1)
	comp, err := m.SubmitWait(context.Background(), mock.KindGet, nil, model.PriorityNormal)
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrLinkFailure)
	require.Equal(t, StatusFailed, comp.Status)

	// The supervisor reconnects on its own and work resumes.
	waitConnected(t, m)
	comp, err = m.SubmitWait(context.Background(), mock.KindGet, nil, model.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, comp.Status)
}

func TestTimeoutErrorDoesNotDisconnect(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)
	waitConnected(t, m)

	a.TimeoutNext(1)
	_, err := m.SubmitWait(context.Background(), mock.KindGet, nil, model.PriorityNormal)
	require.ErrorIs(t, err, model.ErrTimeout)
	assert.True(t, m.Stats().Connected)
}

func TestAtMostOnceCompletion(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)
	waitConnected(t, m)

	const n = 40
	var fired atomic.Int32
	var wg sync.WaitGroup
	ids := make([]uint64, 0, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		id, err := m.SubmitAsync(mock.KindGet, nil, model.PriorityNormal, func(Completion) {
			fired.Add(1)
			wg.Done()
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Racing cancels must not double-resolve anything.
	for _, id := range ids {
		go func(id uint64) { _ = m.CancelCommand(id) }(id)
	}

	wg.Wait()
	assert.EqualValues(t, n, fired.Load())
}

func TestCloseWakesBlockedSubmitters(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true)
	m := New(a, testConnOpts(), WithReconnectBackoff(10*time.Millisecond, 100*time.Millisecond))

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, err := m.SubmitWait(ctx, mock.KindGet, nil, model.PriorityNormal)
		errCh <- err
	}()

	// Let the submitter park on its rendezvous first.
	require.Eventually(t, func() bool {
		return m.Stats().NormalQueued == 1
	}, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, model.ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submitter never woke up")
	}

	// Submissions after shutdown are rejected outright.
	_, err := m.SubmitAsync(mock.KindGet, nil, model.PriorityNormal, nil)
	require.ErrorIs(t, err, model.ErrInvalidState)
}

func TestSubmitInvalidPriority(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)

	_, err := m.SubmitAsync(mock.KindGet, nil, model.Priority(9), nil)
	require.ErrorIs(t, err, model.ErrInvalidParameter)
}
