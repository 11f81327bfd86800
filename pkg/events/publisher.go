package events

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/appforge/appforge/pkg/models"
)

// subscriberBuffer is the channel capacity per subscriber. A subscriber
// that falls this far behind starts losing events; history is available
// from the pipeline's event ring.
const subscriberBuffer = 256

// Subscription is a live event feed. Close it via Publisher.Unsubscribe.
type Subscription struct {
	ID         string
	PipelineID string // empty = all pipelines
	C          chan models.PipelineEvent
}

// Publisher fans pipeline events out to registered subscribers.
// One instance per process, owned by the orchestrator.
type Publisher struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewPublisher creates an empty Publisher.
func NewPublisher() *Publisher {
	return &Publisher{subs: make(map[string]*Subscription)}
}

// Subscribe registers a subscriber. pipelineID may be empty to receive
// events from every pipeline.
func (p *Publisher) Subscribe(pipelineID string) *Subscription {
	sub := &Subscription{
		ID:         uuid.New().String(),
		PipelineID: pipelineID,
		C:          make(chan models.PipelineEvent, subscriberBuffer),
	}
	p.mu.Lock()
	p.subs[sub.ID] = sub
	p.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// once per subscription; unknown ids are ignored.
func (p *Publisher) Unsubscribe(id string) {
	p.mu.Lock()
	sub, ok := p.subs[id]
	if ok {
		delete(p.subs, id)
	}
	p.mu.Unlock()
	if ok {
		close(sub.C)
	}
}

// Publish delivers an event to every matching subscriber. Non-blocking:
// events for a full subscriber are dropped (the ring keeps history).
func (p *Publisher) Publish(evt models.PipelineEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, sub := range p.subs {
		if sub.PipelineID != "" && sub.PipelineID != evt.PipelineID {
			continue
		}
		select {
		case sub.C <- evt:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"subscription_id", sub.ID, "pipeline_id", evt.PipelineID)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
// Used by tests to poll instead of sleeping.
func (p *Publisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}
