package wsmarshaller

import (
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshallBusMessage(t *testing.T) {
	msg := message.NewMessage("m1", []byte(`{"command":{"command_id":3}}`))
	msg.Metadata.Set("routing_key", "device_gateway.v1.mock0.command.completed")
	msg.Metadata.Set("device", "mock0")
	msg.Metadata.Set("event_id", "e-1")

	data, err := MarshallBusMessage(msg)
	require.NoError(t, err)

	var got WSEvent
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "device_gateway.v1.mock0.command.completed", got.Topic)
	assert.Equal(t, "mock0", got.Device)
	assert.Equal(t, "e-1", got.EventID)
	assert.JSONEq(t, `{"command":{"command_id":3}}`, string(got.Payload))
}
