// Package events carries cache invalidation signals from write paths to the aggregate refresher,
// locally and, when configured, across replicas.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/logger"
)

type Kind string

const (
	// FoodChanged: catalog nutrients of ID changed.
	FoodChanged Kind = "food_changed"
	// MealChanged: the food composition of meal ID changed or the meal was deleted.
	MealChanged Kind = "meal_changed"
	// PlanChanged: entries of plan ID were added, edited or removed, or the plan was deleted.
	PlanChanged Kind = "plan_changed"
	// All: everything is suspect; forces a full recompute.
	All Kind = "all"
)

type Event struct {
	Kind   Kind      `json:"kind"`
	ID     uuid.UUID `json:"id"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// Sink receives invalidations. It must not block.
type Sink interface {
	Invalidate(ev Event)
}

// Publisher fans events out to other replicas.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Notifier stamps events with this replica's origin, hands them to the local sink and
// publishes them for other replicas.
type Notifier struct {
	log    *logger.Logger
	local  Sink
	remote Publisher
	origin string
	now    func() time.Time
}

// NewNotifier builds a notifier. remote may be nil for a single-replica deployment.
func NewNotifier(log *logger.Logger, local Sink, remote Publisher) *Notifier {
	return &Notifier{
		log:    log.With("service", "Notifier"),
		local:  local,
		remote: remote,
		origin: uuid.NewString(),
		now:    time.Now,
	}
}

func (n *Notifier) Origin() string { return n.origin }

// Notify records a write. Publishing failures are logged; the local cache is always invalidated.
func (n *Notifier) Notify(ctx context.Context, kind Kind, id uuid.UUID) {
	if n == nil {
		return
	}
	ev := Event{Kind: kind, ID: id, Origin: n.origin, At: n.now().UTC()}
	if n.local != nil {
		n.local.Invalidate(ev)
	}
	if n.remote != nil {
		if err := n.remote.Publish(ctx, ev); err != nil {
			n.log.Warn("publish invalidation failed", "kind", kind, "id", id, "error", err)
		}
	}
}

// Forward delivers an event received from another replica. Events from this replica are dropped.
func (n *Notifier) Forward(ev Event) {
	if n == nil || n.local == nil || ev.Origin == n.origin {
		return
	}
	n.local.Invalidate(ev)
}
