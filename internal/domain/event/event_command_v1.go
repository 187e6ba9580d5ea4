package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Eventer = (*CommandCompletedV1)(nil)

// CommandPayloadV1 is the wire form of one resolved command. Result is
// the adapter's own payload, marshalled as-is.
type CommandPayloadV1 struct {
	CommandID       uint64 `json:"command_id"`
	Kind            string `json:"kind"`
	Priority        string `json:"priority"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
	CancelRequested bool   `json:"cancel_requested,omitempty"`
	TransactionID   uint64 `json:"transaction_id,omitempty"`
	Result          any    `json:"result,omitempty"`
	SubmittedAt     int64  `json:"submitted_at"`
	FinishedAt      int64  `json:"finished_at"`
}

// CommandCompletedV1 is published for every command the engine
// resolves, regardless of disposition.
type CommandCompletedV1 struct {
	ID      uuid.UUID        `json:"id"`
	Device  string           `json:"device"`
	Command CommandPayloadV1 `json:"command"`
}

func NewCommandCompletedV1(device string, payload CommandPayloadV1) *CommandCompletedV1 {
	return &CommandCompletedV1{
		ID:      uuid.New(),
		Device:  device,
		Command: payload,
	}
}

func (e *CommandCompletedV1) GetID() uuid.UUID   { return e.ID }
func (e *CommandCompletedV1) GetKind() EventKind { return CommandCompleted }
func (e *CommandCompletedV1) GetDevice() string  { return e.Device }
func (e *CommandCompletedV1) GetPayload() any    { return e.Command }
func (e *CommandCompletedV1) GetOccurredAt() int64 {
	if e.Command.FinishedAt != 0 {
		return e.Command.FinishedAt
	}
	return time.Now().UnixMilli()
}

// GetRoutingKey builds the bus topic.
// Pattern: device_gateway.v1.{device}.command.{status}
func (e *CommandCompletedV1) GetRoutingKey() string {
	return fmt.Sprintf("device_gateway.v1.%s.command.%s", e.Device, e.Command.Status)
}
