package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"weak"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/kpisim/pkg/observability"
)

// Hub is the registry of live subscribers. It does not own them: entries are
// weak references and the connection that created a subscriber keeps it alive.
type Hub struct {
	log logrus.FieldLogger

	mu   sync.RWMutex
	subs map[string]weak.Pointer[Subscriber]
}

// NewHub creates an empty hub
func NewHub(log logrus.FieldLogger) *Hub {
	return &Hub{
		log:  log.WithField("component", "broadcast"),
		subs: make(map[string]weak.Pointer[Subscriber]),
	}
}

// Register adds s to the hub.
func (h *Hub) Register(s *Subscriber) {
	h.mu.Lock()
	h.subs[s.ID()] = weak.Make(s)
	count := len(h.subs)
	h.mu.Unlock()

	observability.Subscribers.Set(float64(count))

	h.log.WithFields(logrus.Fields{
		"subscriber":  s.ID(),
		"subscribers": count,
	}).Debug("Subscriber registered")
}

// Unregister removes s from the hub.
func (h *Hub) Unregister(s *Subscriber) {
	h.mu.Lock()

	if _, ok := h.subs[s.ID()]; !ok {
		h.mu.Unlock()
		h.log.WithField("subscriber", s.ID()).Warn("Unregister of unknown subscriber")

		return
	}

	delete(h.subs, s.ID())
	count := len(h.subs)
	h.mu.Unlock()

	observability.Subscribers.Set(float64(count))

	h.log.WithFields(logrus.Fields{
		"subscriber":  s.ID(),
		"subscribers": count,
	}).Debug("Subscriber unregistered")
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.subs)
}

// Publish enqueues msg on every live subscriber and returns how many received it.
// It never waits on subscriber I/O.
func (h *Hub) Publish(msg []byte) int {
	h.mu.RLock()
	targets := make([]weak.Pointer[Subscriber], 0, len(h.subs))

	for _, wp := range h.subs {
		targets = append(targets, wp)
	}
	h.mu.RUnlock()

	delivered := 0

	for _, wp := range targets {
		s := wp.Value()
		if s == nil || s.Closed() {
			continue
		}

		s.Enqueue(msg)
		delivered++
	}

	observability.BroadcastMessages.Inc()

	return delivered
}

// PublishJSON marshals v and publishes it.
func (h *Hub) PublishJSON(v any) (int, error) {
	msg, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal broadcast message: %w", err)
	}

	return h.Publish(msg), nil
}
