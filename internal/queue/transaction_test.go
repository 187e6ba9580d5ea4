package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/device-gateway-service/internal/adapter/mock"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

func TestCommitEmptyTransactionFails(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.ErrorIs(t, m.Commit(txn, nil), model.ErrInvalidState)
}

func TestCommitTwiceFails(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)
	waitConnected(t, m)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.AddToTransaction(txn, mock.KindGet, nil))

	done := make(chan TransactionResult, 1)
	require.NoError(t, m.Commit(txn, func(res TransactionResult) { done <- res }))
	err = m.Commit(txn, nil)
	if err == nil {
		t.Fatal("second commit must fail")
	}
	// Either the registry entry is still there (InvalidState) or the
	// transaction already finished and vanished (NotFound).
	assert.Contains(t,
		[]model.Class{model.ClassInvalidState, model.ClassNotFound},
		model.Classify(err), "unexpected error %v", err)
	<-done
}

func TestAddToCommittedTransactionFails(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true) // keep members queued so the txn stays alive
	m := newTestManager(t, a)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.AddToTransaction(txn, mock.KindGet, nil))
	require.NoError(t, m.Commit(txn, nil))

	require.ErrorIs(t, m.AddToTransaction(txn, mock.KindGet, nil), model.ErrInvalidState)
}

func TestUnknownTransactionFails(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)

	require.ErrorIs(t, m.AddToTransaction(999, mock.KindGet, nil), model.ErrNotFound)
	require.ErrorIs(t, m.Commit(999, nil), model.ErrNotFound)
	require.ErrorIs(t, m.CancelTransaction(999), model.ErrNotFound)
}

func TestTransactionLengthBound(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a, WithMaxTransactionCommands(2))

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.AddToTransaction(txn, mock.KindGet, nil))
	require.NoError(t, m.AddToTransaction(txn, mock.KindGet, nil))
	require.ErrorIs(t, m.AddToTransaction(txn, mock.KindGet, nil), model.ErrInvalidState)
}

func TestCancelUncommittedTransactionDisposes(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a)
	waitConnected(t, m)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.AddToTransaction(txn, mock.KindSet, mock.SetParams{Value: 1}))
	require.NoError(t, m.CancelTransaction(txn))

	// Gone from the registry, nothing ever reaches the device.
	require.ErrorIs(t, m.Commit(txn, nil), model.ErrNotFound)
	assert.Empty(t, a.Trace())
}

func TestCancelCommittedTransactionStillAggregates(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true) // members stay queued until we cancel
	m := newTestManager(t, a)

	txn, err := m.Begin()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, m.AddToTransaction(txn, mock.KindSet, mock.SetParams{Value: int64(i)}))
	}

	done := make(chan TransactionResult, 1)
	require.NoError(t, m.Commit(txn, func(res TransactionResult) { done <- res }))
	require.NoError(t, m.CancelTransaction(txn))

	select {
	case res := <-done:
		assert.Equal(t, 0, res.SuccessCount)
		assert.Equal(t, 3, res.FailureCount)
	case <-time.After(2 * time.Second):
		t.Fatal("aggregated callback never fired")
	}
	assert.Empty(t, a.Trace())
}

func TestBeginWhileDisconnectedExecutesAfterReconnect(t *testing.T) {
	a := mock.New("dev")
	a.FailConnect(true)
	m := newTestManager(t, a)

	txn, err := m.Begin()
	require.NoError(t, err)
	require.NoError(t, m.AddToTransaction(txn, mock.KindSet, mock.SetParams{Value: 42}))

	done := make(chan TransactionResult, 1)
	require.NoError(t, m.Commit(txn, func(res TransactionResult) { done <- res }))

	a.FailConnect(false)
	select {
	case res := <-done:
		require.Equal(t, 1, res.SuccessCount)
	case <-time.After(2 * time.Second):
		t.Fatal("transaction never ran after reconnect")
	}
	assert.EqualValues(t, 42, a.Value())
}

func TestTransactionTimeoutCancelsRemainder(t *testing.T) {
	a := mock.New("dev")
	a.SetExecDelay(80 * time.Millisecond)
	m := newTestManager(t, a)
	waitConnected(t, m)

	txn, err := m.Begin(WithTxnTimeout(120 * time.Millisecond))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.AddToTransaction(txn, mock.KindGet, nil))
	}

	done := make(chan TransactionResult, 1)
	require.NoError(t, m.Commit(txn, func(res TransactionResult) { done <- res }))

	select {
	case res := <-done:
		assert.Greater(t, res.SuccessCount, 0)
		assert.Greater(t, res.FailureCount, 0)
	case <-time.After(3 * time.Second):
		t.Fatal("aggregated callback never fired")
	}
}
