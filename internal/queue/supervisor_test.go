package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/webitel/device-gateway-service/internal/adapter/mock"
)

func TestSupervisorBackoffSchedule(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a,
		WithReconnectBackoff(100*time.Millisecond, 10*time.Second),
		WithMaxBackoffShift(3))
	s := newSupervisor(m)

	// Geometric doubling from the base, capped at base<<shift.
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, w := range want {
		assert.Equal(t, w, s.bo.NextBackOff(), "attempt %d", i)
	}
}

func TestSupervisorCeilingRespectsMax(t *testing.T) {
	a := mock.New("dev")
	m := newTestManager(t, a,
		WithReconnectBackoff(100*time.Millisecond, 300*time.Millisecond),
		WithMaxBackoffShift(5))
	s := newSupervisor(m)

	// base<<5 overshoots the configured ceiling; the ceiling wins.
	var last time.Duration
	for i := 0; i < 8; i++ {
		last = s.bo.NextBackOff()
	}
	assert.Equal(t, 300*time.Millisecond, last)
}
