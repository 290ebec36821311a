// Package events implements the Event Publisher: thread-safe,
// fire-and-forget broadcast of Agent Events to per-session subscribers.
// Delivery failures are swallowed — a slow or absent subscriber must
// never block or abort a session's Agent Loop.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relayhq/relay/pkg/models"
)

// NewEvent constructs an AgentEvent with TimestampMs stamped to now. Callers
// set Content/Payload via models.AgentEvent.WithPayload before Publish.
func NewEvent(sessionID string, eventType models.AgentEventType, iteration int) models.AgentEvent {
	return models.AgentEvent{
		SessionID:      sessionID,
		Type:           eventType,
		IterationIndex: iteration,
		TimestampMs:    time.Now().UnixMilli(),
	}
}

// subscriberBuffer is the per-subscriber channel capacity. A subscriber
// that falls this far behind starts dropping events rather than
// blocking the publisher, via a non-blocking buffered-channel send.
const subscriberBuffer = 256

// DropHandler is invoked when an event could not be delivered to a
// subscriber because its buffer was full. Wire a logger here; the
// publisher itself never logs.
type DropHandler func(sessionID string, event models.AgentEvent)

type subscriber struct {
	ch chan models.AgentEvent
}

// Publisher broadcasts events to subscribers of a session's topic
// (`/agent/{sessionId}`). A session's publish order is
// preserved per subscriber; no ordering guarantee holds across sessions.
type Publisher struct {
	mu       sync.RWMutex
	topics   map[string][]*subscriber
	sequence map[string]*uint64
	onDrop   DropHandler
}

// New returns a Publisher. onDrop may be nil.
func New(onDrop DropHandler) *Publisher {
	return &Publisher{
		topics:   make(map[string][]*subscriber),
		sequence: make(map[string]*uint64),
		onDrop:   onDrop,
	}
}

// Subscribe registers a new listener on sessionID's topic and returns a
// receive-only channel plus an unsubscribe function. Callers must call
// unsubscribe when done to release the channel.
func (p *Publisher) Subscribe(sessionID string) (<-chan models.AgentEvent, func()) {
	sub := &subscriber{ch: make(chan models.AgentEvent, subscriberBuffer)}

	p.mu.Lock()
	p.topics[sessionID] = append(p.topics[sessionID], sub)
	if _, ok := p.sequence[sessionID]; !ok {
		var seq uint64
		p.sequence[sessionID] = &seq
	}
	p.mu.Unlock()

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		subs := p.topics[sessionID]
		for i, s := range subs {
			if s == sub {
				p.topics[sessionID] = append(subs[:i], subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
		if len(p.topics[sessionID]) == 0 {
			delete(p.topics, sessionID)
			delete(p.sequence, sessionID)
		}
	}
	return sub.ch, unsubscribe
}

// Publish broadcasts event to every current subscriber of event.SessionID,
// overwriting its Sequence with the next per-session monotonic value
// (TimestampMs is left as NewEvent set it). Publish never blocks on a
// slow subscriber and never returns an error: a full subscriber buffer
// causes that one event, for that one subscriber, to be dropped and
// reported via onDrop instead.
func (p *Publisher) Publish(ctx context.Context, event models.AgentEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	subs := p.topics[event.SessionID]
	seqPtr := p.sequence[event.SessionID]

	if len(subs) == 0 {
		return
	}
	if seqPtr != nil {
		event.Sequence = atomic.AddUint64(seqPtr, 1)
	}

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			if p.onDrop != nil {
				p.onDrop(event.SessionID, event)
			}
		}
	}
}
