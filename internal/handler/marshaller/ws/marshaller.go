package wsmarshaller

import (
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
)

// WSEvent is a generic wrapper for WebSocket frames to provide a
// consistent structure regardless of the event flavour inside.
type WSEvent struct {
	Topic   string          `json:"topic"`
	Device  string          `json:"device"`
	EventID string          `json:"event_id"`
	Payload json.RawMessage `json:"payload"`
}

// MarshallBusMessage wraps one bus message for WebSocket transmission.
// The payload is already JSON; it is embedded verbatim.
func MarshallBusMessage(msg *message.Message) ([]byte, error) {
	return json.Marshal(&WSEvent{
		Topic:   msg.Metadata.Get("routing_key"),
		Device:  msg.Metadata.Get("device"),
		EventID: msg.Metadata.Get("event_id"),
		Payload: json.RawMessage(msg.Payload),
	})
}
