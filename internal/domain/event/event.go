package event

import "github.com/google/uuid"

type EventKind int16

//go:generate stringer -type=EventKind
const (
	ConnectionChanged    EventKind = iota + 1 // [SYSTEM]
	CommandCompleted                          // [BUSINESS]
	TransactionCompleted                      // [BUSINESS]
)

// Eventer defines the contract for all data packets flowing out of the
// gateway: to the in-process bus, to AMQP, to websocket subscribers.
type Eventer interface {
	GetID() uuid.UUID
	GetKind() EventKind
	GetDevice() string
	GetOccurredAt() int64
	GetPayload() any

	// GetRoutingKey names the bus topic. An empty string tells the
	// dispatcher to skip publishing.
	GetRoutingKey() string
}
