package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
)

// ---- meals ----

func (s *Store) validMealFoods(foods []models.MealFood) error {
	for _, mf := range foods {
		if mf.Quantity <= 0 {
			return store.ValidationError("quantity for food %s must be positive", mf.FoodID)
		}
		if _, ok := s.foods[mf.FoodID]; !ok {
			return store.ValidationError("food %s does not exist", mf.FoodID)
		}
	}
	return nil
}

func (s *Store) CreateMeal(ctx context.Context, m *models.Meal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(m.Name) == "" {
		return store.ValidationError("meal name is required")
	}
	if err := s.validMealFoods(m.Foods); err != nil {
		return err
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	now := s.now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	foods := make([]models.MealFood, len(m.Foods))
	for i, mf := range m.Foods {
		mf.MealID = m.ID
		foods[i] = mf
	}
	m.Foods = foods
	stored := *m
	stored.Foods = nil
	s.meals[m.ID] = stored
	s.mealFoods[m.ID] = append([]models.MealFood(nil), foods...)
	return nil
}

func (s *Store) loadMeal(id uuid.UUID) (models.Meal, bool) {
	m, ok := s.meals[id]
	if !ok {
		return models.Meal{}, false
	}
	m.Foods = append([]models.MealFood{}, s.mealFoods[id]...)
	return m, true
}

func (s *Store) GetMeal(ctx context.Context, id uuid.UUID) (models.Meal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.loadMeal(id)
	if !ok {
		return models.Meal{}, notFound("meal", id)
	}
	return m, nil
}

func (s *Store) ListMeals(ctx context.Context, userID uuid.UUID) ([]models.Meal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Meal
	for id := range s.meals {
		m, _ := s.loadMeal(id)
		if m.VisibleTo(userID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ReplaceMealFoods(ctx context.Context, mealID uuid.UUID, foods []models.MealFood) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meals[mealID]
	if !ok {
		return notFound("meal", mealID)
	}
	if err := s.validMealFoods(foods); err != nil {
		return err
	}
	next := make([]models.MealFood, len(foods))
	for i, mf := range foods {
		mf.MealID = mealID
		next[i] = mf
	}
	s.mealFoods[mealID] = next
	m.UpdatedAt = s.now().UTC()
	s.meals[mealID] = m
	return nil
}

func (s *Store) DeleteMeal(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meals[id]; !ok {
		return notFound("meal", id)
	}
	delete(s.meals, id)
	delete(s.mealFoods, id)
	for eid, e := range s.entries {
		if e.MealID == id {
			delete(s.entries, eid)
		}
	}
	return nil
}

func (s *Store) mealTotal(id uuid.UUID) nutrition.Nutrients {
	var total nutrition.Nutrients
	for _, mf := range s.mealFoods[id] {
		f, ok := s.foods[mf.FoodID]
		if !ok {
			continue
		}
		total = total.Add(f.Nutrients.Scale(mf.Quantity))
	}
	return total
}

func (s *Store) MealTotals(ctx context.Context, mealIDs []uuid.UUID) (map[uuid.UUID]nutrition.Nutrients, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]nutrition.Nutrients, len(mealIDs))
	for _, id := range mealIDs {
		if _, ok := s.meals[id]; !ok {
			return nil, notFound("meal", id)
		}
		out[id] = s.mealTotal(id)
	}
	return out, nil
}

func (s *Store) MealsForFood(ctx context.Context, foodID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for mealID, foods := range s.mealFoods {
		for _, mf := range foods {
			if mf.FoodID == foodID {
				out = append(out, mealID)
				break
			}
		}
	}
	return out, nil
}

// ---- plans ----

func (s *Store) CreatePlan(ctx context.Context, p *models.WeeklyPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(p.Name) == "" {
		return store.ValidationError("plan name is required")
	}
	if p.EndDate.Before(p.StartDate) {
		return store.ValidationError("end_date before start_date")
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.StartDate, p.EndDate = models.DateOnly(p.StartDate), models.DateOnly(p.EndDate)
	// activation only happens through ActivatePlan
	p.IsActive = false
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.plans[p.ID] = *p
	return nil
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (models.WeeklyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return models.WeeklyPlan{}, notFound("plan", id)
	}
	return p, nil
}

func (s *Store) ListPlans(ctx context.Context, userID uuid.UUID) ([]models.WeeklyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.WeeklyPlan
	for _, p := range s.plans {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out, nil
}

func (s *Store) DeletePlan(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return notFound("plan", id)
	}
	delete(s.plans, id)
	for eid, e := range s.entries {
		if e.PlanID == id {
			delete(s.entries, eid)
		}
	}
	return nil
}

func (s *Store) ActivePlan(ctx context.Context, userID uuid.UUID) (models.WeeklyPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.plans {
		if p.UserID == userID && p.IsActive {
			return p, nil
		}
	}
	return models.WeeklyPlan{}, fmt.Errorf("active plan for %s: %w", userID, store.ErrNotFound)
}

func (s *Store) ActivatePlan(ctx context.Context, userID, planID uuid.UUID) (models.WeeklyPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.plans[planID]
	if !ok || target.UserID != userID {
		return models.WeeklyPlan{}, notFound("plan", planID)
	}
	now := s.now().UTC()
	for id, p := range s.plans {
		if p.UserID == userID && p.IsActive && id != planID {
			p.IsActive = false
			p.UpdatedAt = now
			s.plans[id] = p
		}
	}
	target.IsActive = true
	target.UpdatedAt = now
	s.plans[planID] = target
	return target, nil
}

func (s *Store) DeactivatePlan(ctx context.Context, userID, planID uuid.UUID) (models.WeeklyPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[planID]
	if !ok || p.UserID != userID {
		return models.WeeklyPlan{}, notFound("plan", planID)
	}
	p.IsActive = false
	p.UpdatedAt = s.now().UTC()
	s.plans[planID] = p
	return p, nil
}

func (s *Store) validEntry(e *models.PlanEntry) error {
	p, ok := s.plans[e.PlanID]
	if !ok {
		return notFound("plan", e.PlanID)
	}
	if _, ok := s.meals[e.MealID]; !ok {
		return store.ValidationError("meal %s does not exist", e.MealID)
	}
	if e.Servings <= 0 {
		return store.ValidationError("servings must be positive")
	}
	if !e.MealType.Valid() {
		return store.ValidationError("meal_type %q", e.MealType)
	}
	if !p.Covers(e.EntryDate) {
		return store.ValidationError("entry_date %s outside plan range", models.DateKey(e.EntryDate))
	}
	return nil
}

func (s *Store) CreatePlanEntry(ctx context.Context, e *models.PlanEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.validEntry(e); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.EntryDate = models.DateOnly(e.EntryDate)
	e.CreatedAt = s.now().UTC()
	s.entries[e.ID] = *e
	return nil
}

func (s *Store) GetPlanEntry(ctx context.Context, id uuid.UUID) (models.PlanEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return models.PlanEntry{}, notFound("plan entry", id)
	}
	return e, nil
}

func (s *Store) UpdatePlanEntry(ctx context.Context, e *models.PlanEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.entries[e.ID]
	if !ok {
		return notFound("plan entry", e.ID)
	}
	e.PlanID = cur.PlanID
	e.CreatedAt = cur.CreatedAt
	if err := s.validEntry(e); err != nil {
		return err
	}
	e.EntryDate = models.DateOnly(e.EntryDate)
	s.entries[e.ID] = *e
	return nil
}

func (s *Store) DeletePlanEntry(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return notFound("plan entry", id)
	}
	delete(s.entries, id)
	return nil
}

func (s *Store) ListPlanEntries(ctx context.Context, planID uuid.UUID, from, to time.Time) ([]models.PlanEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PlanEntry
	for _, e := range s.entries {
		if e.PlanID == planID && inRange(e.EntryDate, from, to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryDate.Equal(out[j].EntryDate) {
			return out[i].EntryDate.Before(out[j].EntryDate)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) PlansForMeals(ctx context.Context, mealIDs []uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(mealIDs))
	for _, id := range mealIDs {
		want[id] = true
	}
	seen := map[uuid.UUID]bool{}
	var out []uuid.UUID
	for _, e := range s.entries {
		if want[e.MealID] && !seen[e.PlanID] {
			seen[e.PlanID] = true
			out = append(out, e.PlanID)
		}
	}
	return out, nil
}

func (s *Store) PlanDateTotals(ctx context.Context, planIDs []uuid.UUID) ([]models.PlanDateAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var want map[uuid.UUID]bool
	if planIDs != nil {
		want = make(map[uuid.UUID]bool, len(planIDs))
		for _, id := range planIDs {
			want[id] = true
		}
	}
	type key struct {
		plan uuid.UUID
		date string
	}
	type acc struct {
		agg   models.PlanDateAggregate
		meals map[uuid.UUID]bool
		foods map[uuid.UUID]bool
	}
	// fixed summation order keeps repeated recomputes bit-identical
	entries := make([]models.PlanEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if want == nil || want[e.PlanID] {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID.String() < entries[j].ID.String() })

	rows := map[key]*acc{}
	for _, e := range entries {
		k := key{e.PlanID, models.DateKey(e.EntryDate)}
		a, ok := rows[k]
		if !ok {
			a = &acc{
				agg:   models.PlanDateAggregate{PlanID: e.PlanID, Date: models.DateOnly(e.EntryDate)},
				meals: map[uuid.UUID]bool{},
				foods: map[uuid.UUID]bool{},
			}
			rows[k] = a
		}
		a.meals[e.MealID] = true
		for _, mf := range s.mealFoods[e.MealID] {
			a.foods[mf.FoodID] = true
		}
		a.agg.Nutrients = a.agg.Nutrients.Add(s.mealTotal(e.MealID).Scale(e.Servings))
	}
	out := make([]models.PlanDateAggregate, 0, len(rows))
	for _, a := range rows {
		a.agg.MealCount = len(a.meals)
		a.agg.FoodCount = len(a.foods)
		a.agg.Nutrients = a.agg.Nutrients.Round(2)
		out = append(out, a.agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PlanID != out[j].PlanID {
			return out[i].PlanID.String() < out[j].PlanID.String()
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}
