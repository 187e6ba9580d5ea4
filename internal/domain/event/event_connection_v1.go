package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/webitel/device-gateway-service/internal/domain/model"
)

var _ Eventer = (*ConnectionStateV1)(nil)

// ConnectionStateV1 announces a supervisor state transition for one
// device link.
type ConnectionStateV1 struct {
	ID         uuid.UUID       `json:"id"`
	Device     string          `json:"device"`
	State      model.ConnState `json:"-"`
	StateLabel string          `json:"state"`
	OccurredAt int64           `json:"occurred_at"`
}

func NewConnectionStateV1(device string, state model.ConnState) *ConnectionStateV1 {
	return &ConnectionStateV1{
		ID:         uuid.New(),
		Device:     device,
		State:      state,
		StateLabel: state.String(),
		OccurredAt: time.Now().UnixMilli(),
	}
}

func (e *ConnectionStateV1) GetID() uuid.UUID     { return e.ID }
func (e *ConnectionStateV1) GetKind() EventKind   { return ConnectionChanged }
func (e *ConnectionStateV1) GetDevice() string    { return e.Device }
func (e *ConnectionStateV1) GetPayload() any      { return e }
func (e *ConnectionStateV1) GetOccurredAt() int64 { return e.OccurredAt }

// GetRoutingKey builds the bus topic.
// Pattern: device_gateway.v1.{device}.connection.{state}
func (e *ConnectionStateV1) GetRoutingKey() string {
	return fmt.Sprintf("device_gateway.v1.%s.connection.%s", e.Device, e.StateLabel)
}
