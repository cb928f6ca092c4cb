package server

import (
	"context"
	"encoding/json"

	"feedhub/models"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Buffered per-subscriber channel. A subscriber that falls this many
// envelopes behind is considered dead and pruned by the broadcaster.
const clientBufferSize = 64

// wsHandler serves one subscriber connection: it registers the connection
// with the broadcaster, pumps its channel to the socket in FIFO order and
// dispatches inbound requests. Direct replies travel through the same
// channel as broadcasts so a single subscriber observes every message in
// order.
func wsHandler(router *Router, broadcaster *Broadcaster) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		key := uuid.New().String()
		client := make(chan models.Envelope, clientBufferSize)

		broadcaster.AddClient(key, client)
		defer broadcaster.RemoveClient(key)

		// Writer goroutine, drains the client channel until it is closed
		// by the broadcaster. A write failure closes the socket which in
		// turn ends the read loop below.
		go func() {
			for envelope := range client {
				if err := conn.WriteJSON(envelope); err != nil {
					log.WithFields(log.Fields{
						"key":   key,
						"error": err,
					}).Warn("Failed to send to client")
					conn.Close()
					return
				}
			}
		}()

		// Direct replies go through the broadcaster so the send is held
		// under its lock. The broadcaster may have pruned and closed this
		// channel at any point, a bare send here could hit a closed channel.
		reply := func(envelope models.Envelope) {
			broadcaster.Send(key, envelope)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.WithFields(log.Fields{
					"key": key,
				}).Info("Client read loop ended")
				return
			}

			var request models.Request
			if err := json.Unmarshal(data, &request); err != nil {
				reply(models.ErrorEnvelope("malformed request envelope"))
				continue
			}

			router.Dispatch(context.Background(), request, reply)
		}
	}
}
