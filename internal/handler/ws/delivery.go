package ws

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/webitel/device-gateway-service/internal/adapter/pubsub"
	wsmarshaller "github.com/webitel/device-gateway-service/internal/handler/marshaller/ws"
)

// WSHandler streams the gateway event firehose to websocket clients.
// An optional ?device= query narrows the stream to one instrument.
type WSHandler struct {
	logger     *slog.Logger
	dispatcher pubsub.EventDispatcher
	upgrader   websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, dispatcher pubsub.EventDispatcher) *WSHandler {
	return &WSHandler{
		logger:     logger,
		dispatcher: dispatcher,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceFilter := r.URL.Query().Get("device")

	msgs, err := h.dispatcher.Subscriber().Subscribe(r.Context(), pubsub.TopicAllEvents)
	if err != nil {
		h.logger.Error("ws subscribe failed", "error", err)
		http.Error(w, "subscribe failed", http.StatusInternalServerError)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	h.logger.Info("ws opened", "remote", r.RemoteAddr, "device_filter", deviceFilter)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}

			if deviceFilter != "" && msg.Metadata.Get("device") != deviceFilter {
				msg.Ack()
				continue
			}

			data, err := wsmarshaller.MarshallBusMessage(msg)
			msg.Ack()
			if err != nil {
				h.logger.Error("failed to marshal ws event", "error", err)
				continue
			}

			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("ws send failed", "error", err)
				return
			}
		}
	}
}
