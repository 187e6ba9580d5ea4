package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ Eventer = (*TransactionCompletedV1)(nil)

// TransactionPayloadV1 aggregates the outcome of one committed
// transaction.
type TransactionPayloadV1 struct {
	TransactionID  uint64             `json:"transaction_id"`
	TransactionUID uuid.UUID          `json:"transaction_uid"`
	SuccessCount   int                `json:"success_count"`
	FailureCount   int                `json:"failure_count"`
	Commands       []CommandPayloadV1 `json:"commands"`
}

// TransactionCompletedV1 is published once per committed transaction,
// when its last member settles.
type TransactionCompletedV1 struct {
	ID          uuid.UUID            `json:"id"`
	Device      string               `json:"device"`
	Transaction TransactionPayloadV1 `json:"transaction"`
	OccurredAt  int64                `json:"occurred_at"`
}

func NewTransactionCompletedV1(device string, payload TransactionPayloadV1) *TransactionCompletedV1 {
	return &TransactionCompletedV1{
		ID:          uuid.New(),
		Device:      device,
		Transaction: payload,
		OccurredAt:  time.Now().UnixMilli(),
	}
}

func (e *TransactionCompletedV1) GetID() uuid.UUID     { return e.ID }
func (e *TransactionCompletedV1) GetKind() EventKind   { return TransactionCompleted }
func (e *TransactionCompletedV1) GetDevice() string    { return e.Device }
func (e *TransactionCompletedV1) GetPayload() any      { return e.Transaction }
func (e *TransactionCompletedV1) GetOccurredAt() int64 { return e.OccurredAt }

// GetRoutingKey builds the bus topic.
// Pattern: device_gateway.v1.{device}.transaction.completed
func (e *TransactionCompletedV1) GetRoutingKey() string {
	return fmt.Sprintf("device_gateway.v1.%s.transaction.completed", e.Device)
}
