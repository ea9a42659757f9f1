package lifecycle

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Publisher accepts lifecycle events.
type Publisher interface {
	Publish(event Event)
}

// Listener receives lifecycle events.
type Listener interface {
	OnEvent(event Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

// OnEvent calls f(event).
func (f ListenerFunc) OnEvent(event Event) { f(event) }

// Nop discards every event.
var Nop Publisher = nopPublisher{}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

var subscriptionCounter int64

type subscription struct {
	id       string
	listener Listener
}

// Hub dispatches events to listeners synchronously, in subscription order,
// on the publishing goroutine.
type Hub struct {
	mu          sync.RWMutex
	subscribers []subscription
	now         func() time.Time
	logger      *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		now:    time.Now,
		logger: logger.With(zap.String("component", "lifecycle_hub")),
	}
}

// Subscribe registers a listener and returns its subscription id.
func (h *Hub) Subscribe(l Listener) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := fmt.Sprintf("sub-%d", atomic.AddInt64(&subscriptionCounter, 1))
	h.subscribers = append(h.subscribers, subscription{id: id, listener: l})
	return id
}

// Unsubscribe removes a listener. Unknown ids are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, s := range h.subscribers {
		if s.id == id {
			h.subscribers = append(h.subscribers[:i:i], h.subscribers[i+1:]...)
			return
		}
	}
}

// Publish stamps the event time if unset and delivers it to every listener.
// A panicking listener is logged and does not affect the others.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}

	h.mu.RLock()
	subs := make([]subscription, len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.RUnlock()

	for _, s := range subs {
		h.deliver(s, event)
	}
}

func (h *Hub) deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("lifecycle listener panicked",
				zap.String("subscription", s.id),
				zap.String("event_type", string(event.Type)),
				zap.Any("recover", r),
			)
		}
	}()
	s.listener.OnEvent(event)
}

var _ Publisher = (*Hub)(nil)
