package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

func queuedCmd(id uint64, prio model.Priority) *command {
	return newCommand(id, 0, nil, prio)
}

func TestPipelineStrictPriority(t *testing.T) {
	p := newPipeline(4, 4, 4)

	require.NoError(t, p.push(queuedCmd(1, model.PriorityLow), 0))
	require.NoError(t, p.push(queuedCmd(2, model.PriorityNormal), 0))
	require.NoError(t, p.push(queuedCmd(3, model.PriorityHigh), 0))
	require.NoError(t, p.push(queuedCmd(4, model.PriorityHigh), 0))

	var got []uint64
	for i := 0; i < 4; i++ {
		c := p.tryPop()
		require.NotNil(t, c)
		got = append(got, c.id)
	}
	assert.Equal(t, []uint64{3, 4, 2, 1}, got)
	assert.Nil(t, p.tryPop())
}

func TestPipelineFIFOWithinTier(t *testing.T) {
	p := newPipeline(8, 8, 8)
	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, p.push(queuedCmd(id, model.PriorityNormal), 0))
	}
	for id := uint64(1); id <= 5; id++ {
		c := p.tryPop()
		require.NotNil(t, c)
		assert.Equal(t, id, c.id)
	}
}

func TestPipelineQueueFull(t *testing.T) {
	p := newPipeline(1, 1, 1)
	require.NoError(t, p.push(queuedCmd(1, model.PriorityHigh), 0))

	err := p.push(queuedCmd(2, model.PriorityHigh), 0)
	require.ErrorIs(t, err, model.ErrQueueFull)

	// A bounded wait also expires if nobody drains.
	start := time.Now()
	err = p.push(queuedCmd(3, model.PriorityHigh), 30*time.Millisecond)
	require.ErrorIs(t, err, model.ErrQueueFull)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	// Rejected commands are never registered for cancellation.
	_, ok := p.lookupQueued(2)
	assert.False(t, ok)
}

func TestPipelineBatchAllOrNothing(t *testing.T) {
	p := newPipeline(4, 2, 4)

	batch := []*command{
		queuedCmd(1, model.PriorityNormal),
		queuedCmd(2, model.PriorityNormal),
		queuedCmd(3, model.PriorityNormal),
	}
	require.ErrorIs(t, p.pushBatch(batch, model.PriorityNormal), model.ErrQueueFull)
	assert.Equal(t, 0, p.depth(model.PriorityNormal))

	require.NoError(t, p.pushBatch(batch[:2], model.PriorityNormal))
	assert.Equal(t, 2, p.depth(model.PriorityNormal))
}

func TestPipelinePopObservesStop(t *testing.T) {
	p := newPipeline(1, 1, 1)
	stop := make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, ok := p.pop(stop, 0)
		assert.Nil(t, c)
		assert.False(t, ok)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pop did not observe stop")
	}
}

func TestPipelineIdleTick(t *testing.T) {
	p := newPipeline(1, 1, 1)
	stop := make(chan struct{})
	defer close(stop)

	start := time.Now()
	c, ok := p.pop(stop, 20*time.Millisecond)
	require.True(t, ok)
	require.Nil(t, c)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
