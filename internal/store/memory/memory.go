// Package memory is an in-process Store used when no DATABASE_URL is configured and in tests.
// A single mutex plays the role of the database's transaction isolation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
)

type Store struct {
	mu sync.RWMutex

	foods     map[uuid.UUID]models.Food
	logs      map[uuid.UUID]models.LogEntry
	meals     map[uuid.UUID]models.Meal
	mealFoods map[uuid.UUID][]models.MealFood
	plans     map[uuid.UUID]models.WeeklyPlan
	entries   map[uuid.UUID]models.PlanEntry

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		foods:     make(map[uuid.UUID]models.Food),
		logs:      make(map[uuid.UUID]models.LogEntry),
		meals:     make(map[uuid.UUID]models.Meal),
		mealFoods: make(map[uuid.UUID][]models.MealFood),
		plans:     make(map[uuid.UUID]models.WeeklyPlan),
		entries:   make(map[uuid.UUID]models.PlanEntry),
		now:       time.Now,
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func notFound(what string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", what, id, store.ErrNotFound)
}

// ---- foods ----

func (s *Store) CreateFood(ctx context.Context, f *models.Food) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if _, ok := s.foods[f.ID]; ok {
		return fmt.Errorf("food %s: %w", f.ID, store.ErrConflict)
	}
	if !f.Category.Valid() {
		return store.ValidationError("category %q", f.Category)
	}
	if neg := f.Nutrients.Negative(); len(neg) > 0 {
		return store.ValidationError("negative nutrients: %s", strings.Join(neg, ", "))
	}
	if f.EnrichmentStatus == "" {
		f.EnrichmentStatus = models.EnrichmentPending
	}
	now := s.now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	s.foods[f.ID] = *f
	return nil
}

func (s *Store) GetFood(ctx context.Context, id uuid.UUID) (models.Food, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.foods[id]
	if !ok {
		return models.Food{}, notFound("food", id)
	}
	return f, nil
}

func (s *Store) SearchFoods(ctx context.Context, query string, limit int) ([]models.Food, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	var out []models.Food
	for _, f := range s.foods {
		if q == "" || strings.Contains(strings.ToLower(f.Name), q) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SimilarFoods(ctx context.Context, name string, threshold float64, limit int) ([]store.FoodMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.FoodMatch
	for _, f := range s.foods {
		if sim := nutrition.Similarity(name, f.Name); sim >= threshold {
			out = append(out, store.FoodMatch{ID: f.ID, Name: f.Name, Similarity: sim})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateFoodNutrients(ctx context.Context, id uuid.UUID, u store.FoodUpdate) (models.Food, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.foods[id]
	if !ok {
		return models.Food{}, notFound("food", id)
	}
	if neg := u.Nutrients.Negative(); len(neg) > 0 {
		return models.Food{}, store.ValidationError("negative nutrients: %s", strings.Join(neg, ", "))
	}
	f.Nutrients = u.Nutrients
	f.QualityScore = u.QualityScore
	if u.Status != "" {
		f.EnrichmentStatus = u.Status
	}
	f.UpdatedAt = s.now().UTC()
	s.foods[id] = f
	return f, nil
}

func (s *Store) SetEnrichmentStatus(ctx context.Context, id uuid.UUID, from, to models.EnrichmentStatus) (models.Food, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.foods[id]
	if !ok {
		return models.Food{}, notFound("food", id)
	}
	if f.EnrichmentStatus != from {
		return models.Food{}, fmt.Errorf("food %s is %s, not %s: %w", id, f.EnrichmentStatus, from, store.ErrConflict)
	}
	f.EnrichmentStatus = to
	f.UpdatedAt = s.now().UTC()
	s.foods[id] = f
	return f, nil
}

// ---- logs ----

func (s *Store) absolute(e *models.LogEntry) error {
	f, ok := s.foods[e.FoodID]
	if !ok {
		return store.ValidationError("food %s does not exist", e.FoodID)
	}
	e.Nutrients = f.Nutrients.Scale(e.Quantity)
	return nil
}

func (s *Store) CreateLog(ctx context.Context, e *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Quantity <= 0 {
		return store.ValidationError("quantity must be positive")
	}
	if err := s.absolute(e); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.LogDate = models.DateOnly(e.LogDate)
	e.CreatedAt = s.now().UTC()
	s.logs[e.ID] = *e
	return nil
}

// CreateLogs validates the whole batch before storing any of it.
func (s *Store) CreateLogs(ctx context.Context, entries []*models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range entries {
		if e.Quantity <= 0 {
			return fmt.Errorf("entry %d: %w", i, store.ValidationError("quantity must be positive"))
		}
		if _, ok := s.foods[e.FoodID]; !ok {
			return fmt.Errorf("entry %d: %w", i, store.ValidationError("food %s does not exist", e.FoodID))
		}
	}
	now := s.now().UTC()
	for _, e := range entries {
		_ = s.absolute(e)
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.LogDate = models.DateOnly(e.LogDate)
		e.CreatedAt = now
		s.logs[e.ID] = *e
	}
	return nil
}

func (s *Store) UpdateLog(ctx context.Context, e *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.logs[e.ID]
	if !ok {
		return notFound("log entry", e.ID)
	}
	if e.Quantity <= 0 {
		return store.ValidationError("quantity must be positive")
	}
	if err := s.absolute(e); err != nil {
		return err
	}
	e.UserID = cur.UserID
	e.CreatedAt = cur.CreatedAt
	e.LogDate = models.DateOnly(e.LogDate)
	s.logs[e.ID] = *e
	return nil
}

func (s *Store) GetLog(ctx context.Context, id uuid.UUID) (models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.logs[id]
	if !ok {
		return models.LogEntry{}, notFound("log entry", id)
	}
	return e, nil
}

func (s *Store) DeleteLog(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.logs[id]; !ok {
		return notFound("log entry", id)
	}
	delete(s.logs, id)
	return nil
}

func inRange(d, from, to time.Time) bool {
	d = models.DateOnly(d)
	return !d.Before(models.DateOnly(from)) && !d.After(models.DateOnly(to))
}

func (s *Store) ListLogs(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.LogEntry
	for _, e := range s.logs {
		if e.UserID == userID && inRange(e.LogDate, from, to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LogDate.Equal(out[j].LogDate) {
			return out[i].LogDate.Before(out[j].LogDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) DailyLogTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]store.DayTotals, error) {
	logs, err := s.ListLogs(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	byDay := map[string]*store.DayTotals{}
	var keys []string
	for _, e := range logs {
		k := models.DateKey(e.LogDate)
		d, ok := byDay[k]
		if !ok {
			d = &store.DayTotals{Date: models.DateOnly(e.LogDate)}
			byDay[k] = d
			keys = append(keys, k)
		}
		d.EntryCount++
		// stored values are absolute; summing them is the whole rollup
		d.Nutrients = d.Nutrients.Add(e.Nutrients)
	}
	sort.Strings(keys)
	out := make([]store.DayTotals, 0, len(keys))
	for _, k := range keys {
		d := byDay[k]
		d.Nutrients = d.Nutrients.Round(2)
		out = append(out, *d)
	}
	return out, nil
}
