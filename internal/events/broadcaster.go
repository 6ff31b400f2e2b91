// Package events fans one agent event stream out to multiple consumers
// (terminal renderer, SSE clients, persister) over buffered channels.
package events

import (
	"log/slog"
	"sync"

	"github.com/anteroomhq/anteroom/internal/observability"
	"github.com/anteroomhq/anteroom/pkg/models"
)

const subscriberBuffer = 32

// Subscription is one consumer's view of the event stream.
type Subscription struct {
	// Name identifies the consumer in logs and metrics.
	Name string

	ch     chan models.AgentEvent
	closed bool
}

// Events returns the consumer channel. Closed when the subscription is
// cancelled or the broadcaster shuts down.
func (s *Subscription) Events() <-chan models.AgentEvent { return s.ch }

// Broadcaster delivers every published event to every subscriber. A consumer
// that falls more than one buffer behind loses events rather than blocking
// the producer; drops are counted per consumer.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	done    bool
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *slog.Logger, metrics *observability.Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subs:    make(map[*Subscription]struct{}),
		logger:  logger.With("component", "events"),
		metrics: metrics,
	}
}

// Subscribe registers a named consumer. Returns nil after Close.
func (b *Broadcaster) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil
	}
	sub := &Subscription{
		Name: name,
		ch:   make(chan models.AgentEvent, subscriberBuffer),
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a consumer and closes its channel.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.closed = true
	close(sub.ch)
}

// Publish delivers ev to every live subscriber without blocking.
func (b *Broadcaster) Publish(ev models.AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			if b.metrics != nil {
				b.metrics.EventsDropped.WithLabelValues(sub.Name).Inc()
			}
			b.logger.Debug("dropped event for slow consumer", "consumer", sub.Name, "kind", ev.Kind)
		}
	}
}

// Close shuts the broadcaster down and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	for sub := range b.subs {
		sub.closed = true
		close(sub.ch)
	}
	b.subs = make(map[*Subscription]struct{})
}
