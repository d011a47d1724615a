package aggregate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nutriplan/internal/events"
	"nutriplan/internal/logger"
	"nutriplan/internal/models"
)

const (
	// Above this many affected plans a partial refresh costs more than a full one.
	maxPartialPlans = 500
	planBatchSize   = 100
	refreshWorkers  = 4
	retryDelay      = 2 * time.Second
)

// Source is the part of the store a refresh reads.
type Source interface {
	MealsForFood(ctx context.Context, foodID uuid.UUID) ([]uuid.UUID, error)
	PlansForMeals(ctx context.Context, mealIDs []uuid.UUID) ([]uuid.UUID, error)
	PlanDateTotals(ctx context.Context, planIDs []uuid.UUID) ([]models.PlanDateAggregate, error)
}

type RefresherOptions struct {
	Debounce time.Duration
	Timeout  time.Duration
}

// Stats describes the refresher for the cache status endpoint.
type Stats struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	Refreshes   int64     `json:"refreshes"`
	Events      int64     `json:"events"`
	Coalesced   int64     `json:"coalesced"`
	DirtyPlans  int       `json:"dirty_plans"`
	AllDirty    bool      `json:"all_dirty"`
	CachedPlans int       `json:"cached_plans"`
	LastError   string    `json:"last_error,omitempty"`
}

// Refresher keeps the Cache in step with the store. Invalidate only records the event and
// pokes the worker; dependency resolution and recomputation happen on the worker goroutine,
// one recompute per debounce window.
type Refresher struct {
	log      *logger.Logger
	src      Source
	cache    *Cache
	debounce time.Duration
	timeout  time.Duration
	now      func() time.Time

	signal chan struct{}

	mu       sync.Mutex
	pending  []events.Event
	inflight bool
	stats    Stats

	// serializes recomputes between the worker and RefreshNow
	refreshMu sync.Mutex
}

func NewRefresher(log *logger.Logger, src Source, cache *Cache, opts RefresherOptions) *Refresher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Refresher{
		log:      log.With("service", "AggregateRefresher"),
		src:      src,
		cache:    cache,
		debounce: opts.Debounce,
		timeout:  opts.Timeout,
		now:      time.Now,
		signal:   make(chan struct{}, 1),
	}
}

// Invalidate implements events.Sink. It never blocks.
func (r *Refresher) Invalidate(ev events.Event) {
	switch ev.Kind {
	case events.PlanChanged:
		r.cache.markDirty(ev.ID)
	case events.All:
		r.cache.markAllDirty()
	}
	r.mu.Lock()
	r.pending = append(r.pending, ev)
	r.stats.Events++
	r.publishLocked()
	r.mu.Unlock()
	r.kick()
}

func (r *Refresher) kick() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Run processes invalidations until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) {
	r.log.Info("refresher started", "debounce", r.debounce.String())
	for {
		select {
		case <-ctx.Done():
			r.log.Info("refresher stopped")
			return
		case <-r.signal:
		}
		if r.debounce > 0 {
			t := time.NewTimer(r.debounce)
			select {
			case <-ctx.Done():
				t.Stop()
				r.log.Info("refresher stopped")
				return
			case <-t.C:
			}
		}
		r.cycle(ctx)
	}
}

// Start runs the worker in its own goroutine.
func (r *Refresher) Start(ctx context.Context) {
	go r.Run(ctx)
}

// publishLocked hands the queue state to the cache. r.mu must be held so a concurrent
// Invalidate cannot be overwritten by an older count.
func (r *Refresher) publishLocked() {
	r.cache.setQueue(len(r.pending), r.inflight)
}

// begin drains the queue and marks a recompute in flight.
func (r *Refresher) begin() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	evs := r.pending
	r.pending = nil
	if len(evs) > 1 {
		r.stats.Coalesced += int64(len(evs) - 1)
	}
	r.inflight = true
	r.publishLocked()
	return evs
}

func (r *Refresher) finish() {
	r.mu.Lock()
	r.inflight = false
	r.publishLocked()
	r.mu.Unlock()
}

func (r *Refresher) requeue(evs []events.Event) {
	r.mu.Lock()
	r.pending = append(evs, r.pending...)
	r.publishLocked()
	r.mu.Unlock()
}

func (r *Refresher) cycle(ctx context.Context) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	evs := r.begin()
	defer r.finish()
	if len(evs) == 0 {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	plans, all, err := r.resolve(rctx, evs)
	if err != nil {
		r.log.Warn("resolve invalidations failed, refreshing everything", "events", len(evs), "error", err)
		all = true
	}
	var rows int
	reason := "invalidation"
	if all {
		reason = "full"
		rows, err = r.refreshAll(rctx)
	} else {
		rows, err = r.refreshPlans(rctx, plans)
	}
	if err != nil {
		r.log.Error("aggregate refresh failed", "events", len(evs), "error", err)
		r.requeue(evs)
		if ctx.Err() == nil {
			time.AfterFunc(retryDelay, r.kick)
		}
		return
	}
	r.log.Info("aggregate refreshed",
		"reason", reason, "events", len(evs), "plans", len(plans), "rows", rows, "duration", time.Since(start).String())
}

// resolve walks food -> meals -> plans. all is true when any event forces a full recompute.
func (r *Refresher) resolve(ctx context.Context, evs []events.Event) ([]uuid.UUID, bool, error) {
	planSet := map[uuid.UUID]struct{}{}
	mealSet := map[uuid.UUID]struct{}{}
	for _, ev := range evs {
		switch ev.Kind {
		case events.PlanChanged:
			planSet[ev.ID] = struct{}{}
		case events.MealChanged:
			mealSet[ev.ID] = struct{}{}
		case events.FoodChanged:
			meals, err := r.src.MealsForFood(ctx, ev.ID)
			if err != nil {
				return nil, false, err
			}
			for _, m := range meals {
				mealSet[m] = struct{}{}
			}
		default:
			return nil, true, nil
		}
	}
	if len(mealSet) > 0 {
		meals := make([]uuid.UUID, 0, len(mealSet))
		for m := range mealSet {
			meals = append(meals, m)
		}
		affected, err := r.src.PlansForMeals(ctx, meals)
		if err != nil {
			return nil, false, err
		}
		for _, p := range affected {
			planSet[p] = struct{}{}
		}
	}
	if len(planSet) > maxPartialPlans {
		return nil, true, nil
	}
	plans := make([]uuid.UUID, 0, len(planSet))
	for p := range planSet {
		plans = append(plans, p)
	}
	return plans, false, nil
}

func (r *Refresher) refreshAll(ctx context.Context) (int, error) {
	rows, err := r.src.PlanDateTotals(ctx, nil)
	if err != nil {
		r.recordError(err)
		return 0, err
	}
	at := r.now().UTC()
	r.cache.swap(full(rows, at))
	r.cache.clean(nil, true)
	r.recordRefresh(at)
	return len(rows), nil
}

func (r *Refresher) refreshPlans(ctx context.Context, plans []uuid.UUID) (int, error) {
	if len(plans) == 0 {
		return 0, nil
	}
	batches := make([][]models.PlanDateAggregate, (len(plans)+planBatchSize-1)/planBatchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refreshWorkers)
	for i := range batches {
		lo := i * planBatchSize
		hi := min(lo+planBatchSize, len(plans))
		g.Go(func() error {
			rows, err := r.src.PlanDateTotals(gctx, plans[lo:hi])
			if err != nil {
				return err
			}
			batches[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.recordError(err)
		return 0, err
	}
	var rows []models.PlanDateAggregate
	for _, b := range batches {
		rows = append(rows, b...)
	}
	at := r.now().UTC()
	r.cache.swap(r.cache.Snapshot().withPlans(plans, rows, at))
	r.cache.clean(plans, false)
	r.recordRefresh(at)
	return len(rows), nil
}

// RefreshNow recomputes every plan synchronously. Queued events are folded into it.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	evs := r.begin()
	defer r.finish()

	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	start := time.Now()
	rows, err := r.refreshAll(rctx)
	if err != nil {
		r.requeue(evs)
		return err
	}
	r.log.Info("aggregate refreshed", "reason", "manual", "events", len(evs), "rows", rows, "duration", time.Since(start).String())
	return nil
}

func (r *Refresher) recordRefresh(at time.Time) {
	r.mu.Lock()
	r.stats.Refreshes++
	r.stats.RefreshedAt = at
	r.stats.LastError = ""
	r.mu.Unlock()
}

func (r *Refresher) recordError(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	r.mu.Lock()
	r.stats.LastError = err.Error()
	r.mu.Unlock()
}

func (r *Refresher) Stats() Stats {
	r.mu.Lock()
	s := r.stats
	r.mu.Unlock()
	s.DirtyPlans, s.AllDirty = r.cache.dirtyCount()
	s.CachedPlans = r.cache.Snapshot().PlanCount()
	return s
}
