package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"nutriplan/internal/logger"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Invalidate(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

type recordingPublisher struct {
	published []Event
	err       error
}

func (p *recordingPublisher) Publish(_ context.Context, ev Event) error {
	p.published = append(p.published, ev)
	return p.err
}

func TestNotifyDeliversLocallyAndRemotely(t *testing.T) {
	sink := &recordingSink{}
	pub := &recordingPublisher{}
	n := NewNotifier(logger.Nop(), sink, pub)

	id := uuid.New()
	n.Notify(context.Background(), MealChanged, id)

	if len(sink.events) != 1 || sink.events[0].Kind != MealChanged || sink.events[0].ID != id {
		t.Fatalf("local: got=%+v", sink.events)
	}
	if len(pub.published) != 1 || pub.published[0].Origin != n.Origin() {
		t.Fatalf("remote: got=%+v", pub.published)
	}
}

func TestNotifyInvalidatesLocallyWhenPublishFails(t *testing.T) {
	sink := &recordingSink{}
	n := NewNotifier(logger.Nop(), sink, &recordingPublisher{err: errors.New("redis down")})
	n.Notify(context.Background(), FoodChanged, uuid.New())
	if len(sink.events) != 1 {
		t.Fatalf("expected local invalidation, got=%d", len(sink.events))
	}
}

func TestForwardDropsOwnEvents(t *testing.T) {
	sink := &recordingSink{}
	n := NewNotifier(logger.Nop(), sink, nil)

	n.Forward(Event{Kind: PlanChanged, ID: uuid.New(), Origin: n.Origin()})
	if len(sink.events) != 0 {
		t.Fatalf("own event forwarded: %+v", sink.events)
	}
	n.Forward(Event{Kind: PlanChanged, ID: uuid.New(), Origin: "other-replica"})
	if len(sink.events) != 1 {
		t.Fatalf("remote event dropped")
	}
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.Notify(context.Background(), All, uuid.Nil)
	n.Forward(Event{Kind: All})
}
