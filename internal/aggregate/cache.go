package aggregate

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/models"
)

// Snapshot is an immutable view of the plan-date aggregate. A refresh builds a new one and
// swaps it in whole, so readers see either the previous or the next snapshot.
type Snapshot struct {
	// complete is set by a full refresh: a plan absent from rows has no entries at all.
	complete bool
	fullAt   time.Time
	planAt   map[uuid.UUID]time.Time
	rows     map[uuid.UUID]map[string]models.PlanDateAggregate
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		planAt: map[uuid.UUID]time.Time{},
		rows:   map[uuid.UUID]map[string]models.PlanDateAggregate{},
	}
}

// Covers reports whether the snapshot knows plan's totals (possibly as "no entries").
func (s *Snapshot) Covers(plan uuid.UUID) bool {
	if s.complete {
		return true
	}
	_, ok := s.planAt[plan]
	return ok
}

// RefreshedAt is when plan's rows were last recomputed; zero when never.
func (s *Snapshot) RefreshedAt(plan uuid.UUID) time.Time {
	if at, ok := s.planAt[plan]; ok && at.After(s.fullAt) {
		return at
	}
	if s.complete {
		return s.fullAt
	}
	return time.Time{}
}

// Row returns the cached totals for (plan, date); a covered plan without a row is all zero.
func (s *Snapshot) Row(plan uuid.UUID, date time.Time) (models.PlanDateAggregate, bool) {
	if !s.Covers(plan) {
		return models.PlanDateAggregate{}, false
	}
	if row, ok := s.rows[plan][models.DateKey(date)]; ok {
		return row, true
	}
	return models.PlanDateAggregate{PlanID: plan, Date: models.DateOnly(date)}, true
}

// Rows returns every cached row of plan, keyed by date.
func (s *Snapshot) Rows(plan uuid.UUID) map[string]models.PlanDateAggregate {
	return s.rows[plan]
}

// PlanCount is the number of plans holding at least one row.
func (s *Snapshot) PlanCount() int { return len(s.rows) }

func group(rows []models.PlanDateAggregate) map[uuid.UUID]map[string]models.PlanDateAggregate {
	out := make(map[uuid.UUID]map[string]models.PlanDateAggregate)
	for _, r := range rows {
		byDate, ok := out[r.PlanID]
		if !ok {
			byDate = make(map[string]models.PlanDateAggregate)
			out[r.PlanID] = byDate
		}
		byDate[models.DateKey(r.Date)] = r
	}
	return out
}

// full builds a snapshot from a whole-table recompute.
func full(rows []models.PlanDateAggregate, at time.Time) *Snapshot {
	return &Snapshot{
		complete: true,
		fullAt:   at,
		planAt:   map[uuid.UUID]time.Time{},
		rows:     group(rows),
	}
}

// withPlans copies s, replacing the rows of plans with rows.
func (s *Snapshot) withPlans(plans []uuid.UUID, rows []models.PlanDateAggregate, at time.Time) *Snapshot {
	next := &Snapshot{
		complete: s.complete,
		fullAt:   s.fullAt,
		planAt:   make(map[uuid.UUID]time.Time, len(s.planAt)+len(plans)),
		rows:     make(map[uuid.UUID]map[string]models.PlanDateAggregate, len(s.rows)+len(plans)),
	}
	for k, v := range s.planAt {
		next.planAt[k] = v
	}
	for k, v := range s.rows {
		next.rows[k] = v
	}
	for _, p := range plans {
		delete(next.rows, p)
		next.planAt[p] = at
	}
	for p, byDate := range group(rows) {
		next.rows[p] = byDate
	}
	return next
}

// Cache holds the current snapshot and the invalidation state readers use to judge staleness.
type Cache struct {
	snap       atomic.Pointer[Snapshot]
	staleAfter time.Duration

	mu       sync.Mutex
	dirty    map[uuid.UUID]struct{}
	allDirty bool
	pending  int
	inflight bool
}

func NewCache(staleAfter time.Duration) *Cache {
	c := &Cache{staleAfter: staleAfter, dirty: map[uuid.UUID]struct{}{}}
	c.snap.Store(emptySnapshot())
	return c
}

func (c *Cache) Snapshot() *Snapshot { return c.snap.Load() }

func (c *Cache) swap(s *Snapshot) { c.snap.Store(s) }

func (c *Cache) markDirty(plan uuid.UUID) {
	c.mu.Lock()
	c.dirty[plan] = struct{}{}
	c.mu.Unlock()
}

func (c *Cache) markAllDirty() {
	c.mu.Lock()
	c.allDirty = true
	c.mu.Unlock()
}

func (c *Cache) setQueue(pending int, inflight bool) {
	c.mu.Lock()
	c.pending, c.inflight = pending, inflight
	c.mu.Unlock()
}

// clean drops the dirty marks of refreshed plans; all clears everything.
func (c *Cache) clean(plans []uuid.UUID, all bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if all {
		c.allDirty = false
		c.dirty = map[uuid.UUID]struct{}{}
		return
	}
	for _, p := range plans {
		delete(c.dirty, p)
	}
}

// Stale reports whether plan's cached rows may lag behind the source data at now.
func (c *Cache) Stale(plan uuid.UUID, now time.Time) bool {
	snap := c.Snapshot()
	at := snap.RefreshedAt(plan)
	if at.IsZero() {
		return true
	}
	c.mu.Lock()
	_, dirty := c.dirty[plan]
	queued := c.allDirty || c.pending > 0 || c.inflight
	c.mu.Unlock()
	if dirty || queued {
		return true
	}
	return c.staleAfter > 0 && now.Sub(at) > c.staleAfter
}

func (c *Cache) dirtyCount() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty), c.allDirty
}
