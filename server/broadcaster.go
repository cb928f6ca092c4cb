package server

import (
	"sync"

	"feedhub/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "feedhub_connected_subscribers",
	Help: "The current number of connected websocket subscribers",
})

// Broadcaster tracks live subscriber channels and fans event envelopes out
// to all of them. Delivery is isolated per subscriber: a failing client is
// pruned without affecting delivery to the rest.
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan models.Envelope
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan models.Envelope),
	}
}

// AddClient registers a subscriber channel under the given key
func (b *Broadcaster) AddClient(key string, client chan models.Envelope) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client
	connectedClients.Set(float64(len(b.clients)))
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Client connected")
}

// RemoveClient deregisters and closes a subscriber channel. Removing an
// unknown key is a no-op.
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	connectedClients.Set(float64(len(b.clients)))
	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Client disconnected")
}

// Broadcast delivers the envelope to every client registered at call time.
// A client whose channel cannot accept the message is considered dead and
// removed, the remaining clients still receive the message.
//
// The sends happen under the read lock. RemoveClient and Shutdown close
// channels under the write lock, so no send can overlap a close.
func (b *Broadcaster) Broadcast(envelope models.Envelope) {
	var dead []string

	b.RLock()
	for key, client := range b.clients {
		select {
		case client <- envelope: // Non-blocking send
		default:
			log.WithFields(log.Fields{
				"key":  key,
				"type": envelope.Type,
			}).Warn("Client channel full, dropping client")
			dead = append(dead, key)
		}
	}
	b.RUnlock()

	for _, key := range dead {
		b.RemoveClient(key)
	}
}

// Send delivers the envelope to a single client. Sending to an unknown or
// already removed key is a no-op, a full channel drops the envelope. Like
// Broadcast, the send is held under the read lock so it cannot overlap a
// close.
func (b *Broadcaster) Send(key string, envelope models.Envelope) {
	b.RLock()
	defer b.RUnlock()

	client, ok := b.clients[key]
	if !ok {
		return
	}
	select {
	case client <- envelope:
	default:
		log.WithFields(log.Fields{
			"key":  key,
			"type": envelope.Type,
		}).Warn("Client channel full, dropping reply")
	}
}

// ClientCount returns the number of live subscribers
func (b *Broadcaster) ClientCount() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

// Shutdown closes every client channel
func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
	connectedClients.Set(0)
}
