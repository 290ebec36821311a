package events

import (
	"context"
	"testing"
	"time"

	"github.com/relayhq/relay/pkg/models"
)

func TestPublishDeliversToSubscriberInOrder(t *testing.T) {
	p := New(nil)
	ch, unsubscribe := p.Subscribe("s1")
	defer unsubscribe()

	p.Publish(context.Background(), NewEvent("s1", models.EventPlanReady, 0))
	p.Publish(context.Background(), NewEvent("s1", models.EventStepStart, 1))

	first := recvOrTimeout(t, ch)
	second := recvOrTimeout(t, ch)
	if first.Type != models.EventPlanReady || second.Type != models.EventStepStart {
		t.Fatalf("got types %v, %v in wrong order", first.Type, second.Type)
	}
	if second.Sequence <= first.Sequence {
		t.Fatalf("sequence not monotonic: %d then %d", first.Sequence, second.Sequence)
	}
}

func TestPublishDoesNotCrossSessionTopics(t *testing.T) {
	p := New(nil)
	ch1, unsub1 := p.Subscribe("s1")
	defer unsub1()
	ch2, unsub2 := p.Subscribe("s2")
	defer unsub2()

	p.Publish(context.Background(), NewEvent("s1", models.EventThinking, 1))

	select {
	case e := <-ch1:
		if e.SessionID != "s1" {
			t.Fatalf("unexpected session id %q", e.SessionID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected event on s1 topic")
	}

	select {
	case e := <-ch2:
		t.Fatalf("unexpected event delivered to unrelated session: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithNoSubscribersIsANoop(t *testing.T) {
	p := New(nil)
	// Must not panic or block when nobody is subscribed.
	p.Publish(context.Background(), NewEvent("ghost", models.EventError, 0))
}

func TestPublishDropsAndReportsWhenSubscriberBufferFull(t *testing.T) {
	var dropped int
	p := New(func(sessionID string, event models.AgentEvent) { dropped++ })
	_, unsubscribe := p.Subscribe("s1")
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+5; i++ {
		p.Publish(context.Background(), NewEvent("s1", models.EventThinking, i))
	}

	if dropped == 0 {
		t.Fatal("expected at least one dropped event once the buffer filled")
	}
}

func TestUnsubscribeClosesChannelAndRemovesTopic(t *testing.T) {
	p := New(nil)
	ch, unsubscribe := p.Subscribe("s1")
	unsubscribe()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
	p.mu.RLock()
	_, exists := p.topics["s1"]
	p.mu.RUnlock()
	if exists {
		t.Fatal("expected topic to be removed once its last subscriber unsubscribed")
	}
}

func recvOrTimeout(t *testing.T, ch <-chan models.AgentEvent) models.AgentEvent {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return models.AgentEvent{}
	}
}
