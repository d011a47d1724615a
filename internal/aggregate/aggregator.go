// Package aggregate computes nutrition totals for meals, plan dates and logged days, and serves
// plan-date totals from a snapshot cache kept fresh by the Refresher.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
)

const (
	precision  = 2
	windowDays = 7
)

// Reader is the store surface the live computations need.
type Reader interface {
	GetMeal(ctx context.Context, id uuid.UUID) (models.Meal, error)
	MealTotals(ctx context.Context, mealIDs []uuid.UUID) (map[uuid.UUID]nutrition.Nutrients, error)
	ListPlanEntries(ctx context.Context, planID uuid.UUID, from, to time.Time) ([]models.PlanEntry, error)
	DailyLogTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]store.DayTotals, error)
}

// DaySummary is the logged intake of one calendar day.
type DaySummary struct {
	Date       time.Time `json:"date"`
	EntryCount int       `json:"entry_count"`
	nutrition.Nutrients
}

// WeekSummary is a rolling seven-day window ending at End.
type WeekSummary struct {
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	Days         []DaySummary        `json:"days"`
	Total        nutrition.Nutrients `json:"total"`
	DailyAverage nutrition.Nutrients `json:"daily_average"`
}

// CachedTotals is a plan-date row with its freshness. Source is "cache" or "live".
type CachedTotals struct {
	models.PlanDateAggregate
	RefreshedAt time.Time `json:"refreshed_at"`
	Stale       bool      `json:"stale"`
	Source      string    `json:"source"`
}

type PlanWeek struct {
	PlanID       uuid.UUID           `json:"plan_id"`
	Start        time.Time           `json:"start"`
	End          time.Time           `json:"end"`
	Days         []CachedTotals      `json:"days"`
	Total        nutrition.Nutrients `json:"total"`
	DailyAverage nutrition.Nutrients `json:"daily_average"`
	RefreshedAt  time.Time           `json:"refreshed_at"`
	Stale        bool                `json:"stale"`
}

type Aggregator struct {
	store Reader
	cache *Cache
	group singleflight.Group
	now   func() time.Time
}

func NewAggregator(r Reader, cache *Cache) *Aggregator {
	return &Aggregator{store: r, cache: cache, now: time.Now}
}

// MealNutrition sums food nutrients times quantity for one meal. Always live.
func (a *Aggregator) MealNutrition(ctx context.Context, mealID uuid.UUID) (nutrition.Nutrients, error) {
	totals, err := a.store.MealTotals(ctx, []uuid.UUID{mealID})
	if err != nil {
		return nutrition.Nutrients{}, err
	}
	return totals[mealID].Round(precision), nil
}

// PlanDateNutrition computes the totals of every entry of plan on date from source data.
// Concurrent calls for the same key share one computation; a caller that gives up does not
// cancel it for the others.
func (a *Aggregator) PlanDateNutrition(ctx context.Context, planID uuid.UUID, date time.Time) (models.PlanDateAggregate, error) {
	date = models.DateOnly(date)
	key := planID.String() + "/" + models.DateKey(date)
	shared := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (interface{}, error) {
		return a.planDate(shared, planID, date)
	})
	select {
	case <-ctx.Done():
		return models.PlanDateAggregate{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return models.PlanDateAggregate{}, res.Err
		}
		return res.Val.(models.PlanDateAggregate), nil
	}
}

func (a *Aggregator) planDate(ctx context.Context, planID uuid.UUID, date time.Time) (models.PlanDateAggregate, error) {
	out := models.PlanDateAggregate{PlanID: planID, Date: date}
	entries, err := a.store.ListPlanEntries(ctx, planID, date, date)
	if err != nil {
		return out, err
	}
	if len(entries) == 0 {
		return out, nil
	}

	var mealIDs []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, e := range entries {
		if !seen[e.MealID] {
			seen[e.MealID] = true
			mealIDs = append(mealIDs, e.MealID)
		}
	}

	var totals map[uuid.UUID]nutrition.Nutrients
	meals := make([]models.Meal, len(mealIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		totals, err = a.store.MealTotals(gctx, mealIDs)
		return err
	})
	for i, id := range mealIDs {
		g.Go(func() error {
			m, err := a.store.GetMeal(gctx, id)
			if err != nil {
				return fmt.Errorf("meal %s: %w", id, err)
			}
			meals[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	foods := map[uuid.UUID]bool{}
	for _, m := range meals {
		for _, mf := range m.Foods {
			foods[mf.FoodID] = true
		}
	}
	// scale unrounded meal totals and round once, in entry id order, exactly as the
	// store's PlanDateTotals does; live and cached rows must be identical
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID.String() < entries[j].ID.String() })
	for _, e := range entries {
		out.Nutrients = out.Nutrients.Add(totals[e.MealID].Scale(e.Servings))
	}
	out.Nutrients = out.Nutrients.Round(precision)
	out.MealCount = len(mealIDs)
	out.FoodCount = len(foods)
	return out, nil
}

// DayNutrition sums the stored absolute nutrients of user's logs on date.
func (a *Aggregator) DayNutrition(ctx context.Context, userID uuid.UUID, date time.Time) (DaySummary, error) {
	date = models.DateOnly(date)
	rows, err := a.store.DailyLogTotals(ctx, userID, date, date)
	if err != nil {
		return DaySummary{}, err
	}
	day := DaySummary{Date: date}
	for _, r := range rows {
		if models.DateKey(r.Date) == models.DateKey(date) {
			day.EntryCount = r.EntryCount
			day.Nutrients = r.Nutrients.Round(precision)
		}
	}
	return day, nil
}

// WeekNutrition returns the window [end-6, end]; days without logs are zero rows.
func (a *Aggregator) WeekNutrition(ctx context.Context, userID uuid.UUID, end time.Time) (WeekSummary, error) {
	end = models.DateOnly(end)
	start := end.AddDate(0, 0, -(windowDays - 1))
	rows, err := a.store.DailyLogTotals(ctx, userID, start, end)
	if err != nil {
		return WeekSummary{}, err
	}
	byDate := make(map[string]store.DayTotals, len(rows))
	for _, r := range rows {
		byDate[models.DateKey(r.Date)] = r
	}

	week := WeekSummary{Start: start, End: end, Days: make([]DaySummary, 0, windowDays)}
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := DaySummary{Date: d}
		if r, ok := byDate[models.DateKey(d)]; ok {
			day.EntryCount = r.EntryCount
			day.Nutrients = r.Nutrients.Round(precision)
		}
		week.Total = week.Total.Add(day.Nutrients)
		week.Days = append(week.Days, day)
	}
	week.Total = week.Total.Round(precision)
	week.DailyAverage = week.Total.Scale(1.0 / windowDays).Round(precision)
	return week, nil
}

// CachedPlanDate serves (plan, date) from the snapshot. A plan the cache has never computed
// falls back to a live computation.
func (a *Aggregator) CachedPlanDate(ctx context.Context, planID uuid.UUID, date time.Time) (CachedTotals, error) {
	date = models.DateOnly(date)
	snap := a.cache.Snapshot()
	if row, ok := snap.Row(planID, date); ok {
		return CachedTotals{
			PlanDateAggregate: row,
			RefreshedAt:       snap.RefreshedAt(planID),
			Stale:             a.cache.Stale(planID, a.now()),
			Source:            "cache",
		}, nil
	}
	row, err := a.PlanDateNutrition(ctx, planID, date)
	if err != nil {
		return CachedTotals{}, err
	}
	return CachedTotals{PlanDateAggregate: row, RefreshedAt: a.now().UTC(), Source: "live"}, nil
}

// CachedPlanWeek serves the seven days ending at end, from one snapshot.
func (a *Aggregator) CachedPlanWeek(ctx context.Context, planID uuid.UUID, end time.Time) (PlanWeek, error) {
	end = models.DateOnly(end)
	start := end.AddDate(0, 0, -(windowDays - 1))
	week := PlanWeek{PlanID: planID, Start: start, End: end, Days: make([]CachedTotals, 0, windowDays)}

	snap := a.cache.Snapshot()
	cached := snap.Covers(planID)
	if cached {
		week.RefreshedAt = snap.RefreshedAt(planID)
		week.Stale = a.cache.Stale(planID, a.now())
	} else {
		week.RefreshedAt = a.now().UTC()
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := CachedTotals{RefreshedAt: week.RefreshedAt, Stale: week.Stale, Source: "cache"}
		if cached {
			day.PlanDateAggregate, _ = snap.Row(planID, d)
		} else {
			row, err := a.PlanDateNutrition(ctx, planID, d)
			if err != nil {
				return PlanWeek{}, err
			}
			day.PlanDateAggregate = row
			day.Source = "live"
		}
		week.Total = week.Total.Add(day.Nutrients)
		week.Days = append(week.Days, day)
	}
	week.Total = week.Total.Round(precision)
	week.DailyAverage = week.Total.Scale(1.0 / windowDays).Round(precision)
	return week, nil
}
