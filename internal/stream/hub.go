// Package stream fans detection events out to live subscribers.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"pattern-scanner/internal/models"
)

// AllKeys subscribes to the events of every key.
const AllKeys = ""

// HubConfig holds configuration for the event hub.
type HubConfig struct {
	// BufferSize is the size of the internal event channel buffer.
	BufferSize int
	// SubscriberBufferSize is the size of each subscriber's channel buffer.
	SubscriberBufferSize int
	// SlowConsumerDropThreshold is the number of drops between slow-consumer warnings.
	SlowConsumerDropThreshold int
}

// DefaultHubConfig returns the default hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BufferSize:                1000,
		SubscriberBufferSize:      100,
		SlowConsumerDropThreshold: 10,
	}
}

// Hub distributes detection events to subscribers. Events published by the
// engine are queued and broadcast from a single goroutine; a subscriber that
// does not keep up loses events instead of blocking the others.
type Hub struct {
	config      HubConfig
	logger      zerolog.Logger
	mu          sync.RWMutex
	subscribers map[string][]*Subscriber
	events      chan models.DetectionEvent
	done        chan struct{}
	started     bool

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// Subscriber is one consumer channel.
type Subscriber struct {
	Key          string
	Channel      chan models.DetectionEvent
	DroppedCount int
}

// NewHub creates a hub with the default configuration.
func NewHub(logger zerolog.Logger) *Hub {
	return NewHubWithConfig(DefaultHubConfig(), logger)
}

// NewHubWithConfig creates a hub with a custom configuration.
func NewHubWithConfig(config HubConfig, logger zerolog.Logger) *Hub {
	return &Hub{
		config:      config,
		logger:      logger,
		subscribers: make(map[string][]*Subscriber),
		events:      make(chan models.DetectionEvent, config.BufferSize),
	}
}

// Start begins the distribution loop. It returns immediately. A stopped hub can
// be started again; subscribers from the previous run are not carried over.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return
	}
	h.started = true
	h.done = make(chan struct{})
	go h.broadcastLoop(ctx, h.done)
}

func (h *Hub) broadcastLoop(ctx context.Context, done chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			h.stop(done)
			return
		case <-done:
			return
		case ev := <-h.events:
			h.received.Add(1)
			h.broadcast(ev)
		}
	}
}

// Stop stops the hub and closes all subscriber channels.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

// stop stops the run owning done. A loop left over from an earlier run must not
// stop a restarted hub.
func (h *Hub) stop(done chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done == done {
		h.stopLocked()
	}
}

func (h *Hub) stopLocked() {
	if !h.started {
		return
	}
	close(h.done)
	h.started = false

	for key, subs := range h.subscribers {
		for _, sub := range subs {
			close(sub.Channel)
		}
		delete(h.subscribers, key)
	}
}

// Subscribe returns a channel receiving the events of key, or of every key
// when key is AllKeys.
func (h *Hub) Subscribe(key string) <-chan models.DetectionEvent {
	ch := make(chan models.DetectionEvent, h.config.SubscriberBufferSize)

	h.mu.Lock()
	h.subscribers[key] = append(h.subscribers[key], &Subscriber{Key: key, Channel: ch})
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes and closes a subscriber channel. Channels already closed
// by Stop are ignored.
func (h *Hub) Unsubscribe(key string, ch <-chan models.DetectionEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subscribers[key]
	for i, sub := range subs {
		if sub.Channel == ch {
			close(sub.Channel)
			h.subscribers[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subscribers[key]) == 0 {
		delete(h.subscribers, key)
	}
}

// Publish queues an event for distribution. It never blocks; when the queue is
// full the event is dropped.
func (h *Hub) Publish(ev models.DetectionEvent) {
	select {
	case h.events <- ev:
	default:
		h.dropped.Add(1)
	}
}

// broadcast delivers ev to the subscribers of its key and to the subscribers
// of all keys. The read lock is held across the sends so Stop and Unsubscribe
// cannot close a channel mid-send.
func (h *Hub) broadcast(ev models.DetectionEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, subs := range [][]*Subscriber{h.subscribers[ev.Key], h.subscribers[AllKeys]} {
		for _, sub := range subs {
			select {
			case sub.Channel <- ev:
				h.delivered.Add(1)
			default:
				sub.DroppedCount++
				h.dropped.Add(1)
				if t := h.config.SlowConsumerDropThreshold; t > 0 && sub.DroppedCount%t == 0 {
					h.logger.Warn().Str("key", sub.Key).Int("dropped", sub.DroppedCount).Msg("Slow event subscriber")
				}
			}
		}
	}
}

// SubscriberCount returns the total number of subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, subs := range h.subscribers {
		count += len(subs)
	}
	return count
}

// Metrics returns a snapshot of the hub counters.
func (h *Hub) Metrics() HubMetrics {
	return HubMetrics{
		EventsReceived:  h.received.Load(),
		EventsBroadcast: h.delivered.Load(),
		EventsDropped:   h.dropped.Load(),
		Subscribers:     h.SubscriberCount(),
	}
}

// HubMetrics contains hub counters.
type HubMetrics struct {
	EventsReceived  uint64 `json:"events_received"`
	EventsBroadcast uint64 `json:"events_broadcast"`
	EventsDropped   uint64 `json:"events_dropped"`
	Subscribers     int    `json:"subscribers"`
}

// IsStarted returns whether the hub is running.
func (h *Hub) IsStarted() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}
