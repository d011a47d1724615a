package aggregate

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/events"
	"nutriplan/internal/logger"
	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
	"nutriplan/internal/store/memory"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memory.Store
	user   uuid.UUID
	oats   models.Food
	banana models.Food
	meal   models.Meal
	plan   models.WeeklyPlan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{store: memory.New(), user: uuid.New()}

	f.oats = models.Food{Name: "Oats", Category: models.CategoryGrain, Source: models.SourceCatalog,
		Nutrients: nutrition.Nutrients{Calories: 150, ProteinG: 5}}
	f.banana = models.Food{Name: "Banana", Category: models.CategoryFruit, Source: models.SourceCatalog,
		Nutrients: nutrition.Nutrients{Calories: 100, ProteinG: 1}}
	for _, food := range []*models.Food{&f.oats, &f.banana} {
		if err := f.store.CreateFood(ctx, food); err != nil {
			t.Fatalf("CreateFood: %v", err)
		}
	}

	f.meal = models.Meal{Name: "Oatmeal Bowl", OwnerID: &f.user, Foods: []models.MealFood{
		{FoodID: f.oats.ID, Quantity: 2},
		{FoodID: f.banana.ID, Quantity: 1},
	}}
	if err := f.store.CreateMeal(ctx, &f.meal); err != nil {
		t.Fatalf("CreateMeal: %v", err)
	}

	f.plan = models.WeeklyPlan{UserID: f.user, Name: "Week 10", StartDate: day, EndDate: day.AddDate(0, 0, 6)}
	if err := f.store.CreatePlan(ctx, &f.plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	return f
}

func (f *fixture) addEntry(t *testing.T, date time.Time, servings float64) models.PlanEntry {
	t.Helper()
	e := models.PlanEntry{PlanID: f.plan.ID, MealID: f.meal.ID, EntryDate: date,
		MealType: models.MealBreakfast, Servings: servings}
	if err := f.store.CreatePlanEntry(context.Background(), &e); err != nil {
		t.Fatalf("CreatePlanEntry: %v", err)
	}
	return e
}

// countingSource counts full and partial recomputes.
type countingSource struct {
	Source
	calls atomic.Int64
}

func (c *countingSource) PlanDateTotals(ctx context.Context, planIDs []uuid.UUID) ([]models.PlanDateAggregate, error) {
	c.calls.Add(1)
	return c.Source.PlanDateTotals(ctx, planIDs)
}

func TestMealNutritionOatmealBowl(t *testing.T) {
	f := newFixture(t)
	agg := NewAggregator(f.store, NewCache(time.Minute))

	got, err := agg.MealNutrition(context.Background(), f.meal.ID)
	if err != nil {
		t.Fatalf("MealNutrition: %v", err)
	}
	if got.Calories != 400 || got.ProteinG != 11 {
		t.Fatalf("want=400kcal/11g got=%vkcal/%vg", got.Calories, got.ProteinG)
	}
	if got.FatG != 0 || got.VitaminCMg != 0 {
		t.Fatalf("missing fields must contribute zero: %+v", got)
	}
}

func TestMealNutritionUnknownMeal(t *testing.T) {
	f := newFixture(t)
	agg := NewAggregator(f.store, NewCache(time.Minute))
	if _, err := agg.MealNutrition(context.Background(), uuid.New()); err == nil {
		t.Fatalf("expected error for unknown meal")
	}
}

func TestPlanDateNutrition(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	f.addEntry(t, day, 0.5)
	agg := NewAggregator(f.store, NewCache(time.Minute))

	got, err := agg.PlanDateNutrition(context.Background(), f.plan.ID, day)
	if err != nil {
		t.Fatalf("PlanDateNutrition: %v", err)
	}
	if got.Calories != 600 || got.ProteinG != 16.5 {
		t.Fatalf("want=600kcal/16.5g got=%vkcal/%vg", got.Calories, got.ProteinG)
	}
	if got.MealCount != 1 || got.FoodCount != 2 {
		t.Fatalf("counts: want=1/2 got=%d/%d", got.MealCount, got.FoodCount)
	}
}

func TestPlanDateNutritionWithoutEntriesIsZero(t *testing.T) {
	f := newFixture(t)
	agg := NewAggregator(f.store, NewCache(time.Minute))

	got, err := agg.PlanDateNutrition(context.Background(), f.plan.ID, day.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("PlanDateNutrition: %v", err)
	}
	if !got.Nutrients.IsZero() || got.MealCount != 0 {
		t.Fatalf("want zero totals, got=%+v", got)
	}
}

func TestPlanDateNutritionConcurrentCalls(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 2)
	agg := NewAggregator(f.store, NewCache(time.Minute))

	var wg sync.WaitGroup
	results := make([]float64, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := agg.PlanDateNutrition(context.Background(), f.plan.ID, day)
			if err != nil {
				t.Errorf("PlanDateNutrition: %v", err)
				return
			}
			results[i] = got.Calories
		}()
	}
	wg.Wait()
	for i, cal := range results {
		if cal != 800 {
			t.Fatalf("call %d: want=800 got=%v", i, cal)
		}
	}
}

// gatedReader holds ListPlanEntries until release is closed and then honours the caller's ctx.
type gatedReader struct {
	Reader
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedReader) ListPlanEntries(ctx context.Context, planID uuid.UUID, from, to time.Time) ([]models.PlanEntry, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return g.Reader.ListPlanEntries(ctx, planID, from, to)
}

func TestPlanDateNutritionSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 2)
	gate := &gatedReader{Reader: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	agg := NewAggregator(gate, NewCache(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := agg.PlanDateNutrition(ctx, f.plan.ID, day)
		firstErr <- err
	}()
	<-gate.entered

	type result struct {
		row models.PlanDateAggregate
		err error
	}
	second := make(chan result, 1)
	go func() {
		row, err := agg.PlanDateNutrition(context.Background(), f.plan.ID, day)
		second <- result{row, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; err != context.Canceled {
		t.Fatalf("cancelled caller: want=%v got=%v", context.Canceled, err)
	}
	close(gate.release)
	got := <-second
	if got.err != nil {
		t.Fatalf("second caller failed with the first caller's cancellation: %v", got.err)
	}
	if got.row.Calories != 800 {
		t.Fatalf("want=800 got=%v", got.row.Calories)
	}
}

func TestDayAndWeekDoNotRemultiplyQuantity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	user := uuid.New()
	food := models.Food{Name: "Toast", Category: models.CategoryGrain, Source: models.SourceCatalog,
		Nutrients: nutrition.Nutrients{Calories: 100}}
	if err := s.CreateFood(ctx, &food); err != nil {
		t.Fatalf("CreateFood: %v", err)
	}
	entry := models.LogEntry{UserID: user, FoodID: food.ID, Quantity: 3, MealType: models.MealBreakfast, LogDate: day}
	if err := s.CreateLog(ctx, &entry); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	if entry.Calories != 300 {
		t.Fatalf("stored calories: want=300 got=%v", entry.Calories)
	}

	agg := NewAggregator(s, NewCache(time.Minute))
	d, err := agg.DayNutrition(ctx, user, day)
	if err != nil {
		t.Fatalf("DayNutrition: %v", err)
	}
	if d.Calories != 300 || d.EntryCount != 1 {
		t.Fatalf("day: want=300/1 got=%v/%d", d.Calories, d.EntryCount)
	}

	w, err := agg.WeekNutrition(ctx, user, day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("WeekNutrition: %v", err)
	}
	if len(w.Days) != 7 {
		t.Fatalf("days: want=7 got=%d", len(w.Days))
	}
	if !w.Start.Equal(day.AddDate(0, 0, -4)) {
		t.Fatalf("start: want=%s got=%s", models.DateKey(day.AddDate(0, 0, -4)), models.DateKey(w.Start))
	}
	if w.Total.Calories != 300 {
		t.Fatalf("week total: want=300 got=%v", w.Total.Calories)
	}
	if w.DailyAverage.Calories != 42.86 {
		t.Fatalf("daily average: want=42.86 got=%v", w.DailyAverage.Calories)
	}
}

func TestCachedPlanDateFallsBackToLiveBeforeFirstRefresh(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	agg := NewAggregator(f.store, NewCache(time.Minute))

	got, err := agg.CachedPlanDate(context.Background(), f.plan.ID, day)
	if err != nil {
		t.Fatalf("CachedPlanDate: %v", err)
	}
	if got.Source != "live" || got.Calories != 400 {
		t.Fatalf("want live 400, got=%s %v", got.Source, got.Calories)
	}
}

func TestRefreshNowServesCacheAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	f.addEntry(t, day.AddDate(0, 0, 1), 2)
	cache := NewCache(time.Minute)
	r := NewRefresher(logger.Nop(), f.store, cache, RefresherOptions{})
	agg := NewAggregator(f.store, cache)
	ctx := context.Background()

	if err := r.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	first := cache.Snapshot().Rows(f.plan.ID)
	if err := r.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	second := cache.Snapshot().Rows(f.plan.ID)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("refresh not idempotent: first=%+v second=%+v", first, second)
	}

	got, err := agg.CachedPlanDate(ctx, f.plan.ID, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("CachedPlanDate: %v", err)
	}
	if got.Source != "cache" || got.Stale || got.Calories != 800 {
		t.Fatalf("want fresh cached 800, got=%+v", got)
	}

	empty, err := agg.CachedPlanDate(ctx, f.plan.ID, day.AddDate(0, 0, 5))
	if err != nil {
		t.Fatalf("CachedPlanDate: %v", err)
	}
	if empty.Source != "cache" || !empty.Nutrients.IsZero() {
		t.Fatalf("empty date: want cached zero, got=%+v", empty)
	}

	week, err := agg.CachedPlanWeek(ctx, f.plan.ID, day.AddDate(0, 0, 6))
	if err != nil {
		t.Fatalf("CachedPlanWeek: %v", err)
	}
	if week.Total.Calories != 1200 || len(week.Days) != 7 {
		t.Fatalf("week: want=1200 over 7 days got=%v over %d", week.Total.Calories, len(week.Days))
	}
	if r.Stats().Refreshes != 2 {
		t.Fatalf("refreshes: want=2 got=%d", r.Stats().Refreshes)
	}
}

func TestLiveAndCachedPlanDateAgree(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	salt := models.Food{Name: "Pinch", Category: models.CategoryOther, Source: models.SourceCatalog,
		Nutrients: nutrition.Nutrients{Calories: 0.335, SodiumMg: 0.004}}
	if err := f.store.CreateFood(ctx, &salt); err != nil {
		t.Fatalf("CreateFood: %v", err)
	}
	f.meal = models.Meal{Name: "Seasoning", OwnerID: &f.user, Foods: []models.MealFood{{FoodID: salt.ID, Quantity: 1}}}
	if err := f.store.CreateMeal(ctx, &f.meal); err != nil {
		t.Fatalf("CreateMeal: %v", err)
	}
	f.addEntry(t, day, 3)
	f.addEntry(t, day, 1.5)

	cache := NewCache(time.Minute)
	r := NewRefresher(logger.Nop(), f.store, cache, RefresherOptions{})
	agg := NewAggregator(f.store, cache)
	if err := r.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	live, err := agg.PlanDateNutrition(ctx, f.plan.ID, day)
	if err != nil {
		t.Fatalf("PlanDateNutrition: %v", err)
	}
	cached, err := agg.CachedPlanDate(ctx, f.plan.ID, day)
	if err != nil {
		t.Fatalf("CachedPlanDate: %v", err)
	}
	if cached.Source != "cache" || cached.Stale {
		t.Fatalf("want fresh cached row got=%s stale=%v", cached.Source, cached.Stale)
	}
	if !reflect.DeepEqual(cached.PlanDateAggregate, live) {
		t.Fatalf("live and cached differ: live=%+v cached=%+v", live, cached.PlanDateAggregate)
	}
	if live.SodiumMg == 0 {
		t.Fatalf("small per-unit values must survive the rollup: %+v", live.Nutrients)
	}
}

func TestCacheMarksStaleOnInvalidationAndAge(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	cache := NewCache(30 * time.Second)
	r := NewRefresher(logger.Nop(), f.store, cache, RefresherOptions{})
	if err := r.RefreshNow(context.Background()); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	at := cache.Snapshot().RefreshedAt(f.plan.ID)

	if cache.Stale(f.plan.ID, at.Add(time.Second)) {
		t.Fatalf("fresh snapshot reported stale")
	}
	if !cache.Stale(f.plan.ID, at.Add(31*time.Second)) {
		t.Fatalf("old snapshot not reported stale")
	}
	r.Invalidate(events.Event{Kind: events.PlanChanged, ID: f.plan.ID})
	if !cache.Stale(f.plan.ID, at.Add(time.Second)) {
		t.Fatalf("invalidated plan not reported stale")
	}
}

// gatedSource holds the first PlanDateTotals call until release is closed.
type gatedSource struct {
	Source
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSource) PlanDateTotals(ctx context.Context, planIDs []uuid.UUID) ([]models.PlanDateAggregate, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return g.Source.PlanDateTotals(ctx, planIDs)
}

func TestInvalidationDuringRefreshKeepsPlanStale(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	cache := NewCache(time.Minute)
	src := &gatedSource{Source: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	r := NewRefresher(logger.Nop(), src, cache, RefresherOptions{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- r.RefreshNow(ctx) }()
	<-src.entered
	r.Invalidate(events.Event{Kind: events.PlanChanged, ID: f.plan.ID})
	close(src.release)
	if err := <-done; err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	at := cache.Snapshot().RefreshedAt(f.plan.ID)
	if !cache.Stale(f.plan.ID, at) {
		t.Fatalf("event queued during the refresh must keep the plan stale")
	}
	r.cycle(ctx)
	if cache.Stale(f.plan.ID, cache.Snapshot().RefreshedAt(f.plan.ID)) {
		t.Fatalf("plan still stale after the queued event was processed")
	}
}

func TestConcurrentInvalidationsNeverLoseQueuedState(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	cache := NewCache(time.Minute)
	r := NewRefresher(logger.Nop(), f.store, cache, RefresherOptions{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				r.Invalidate(events.Event{Kind: events.PlanChanged, ID: f.plan.ID})
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				r.cycle(ctx)
			}
		}()
	}
	wg.Wait()

	// whatever the interleaving, the published count matches the queue
	r.mu.Lock()
	queued := len(r.pending)
	r.mu.Unlock()
	cache.mu.Lock()
	published, inflight := cache.pending, cache.inflight
	cache.mu.Unlock()
	if published != queued || inflight {
		t.Fatalf("cache queue state want=%d/false got=%d/%v", queued, published, inflight)
	}
	if queued > 0 && !cache.Stale(f.plan.ID, time.Now()) {
		t.Fatalf("queued events must report stale")
	}
}

func TestFoodChangePropagatesToPlan(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	cache := NewCache(time.Minute)
	r := NewRefresher(logger.Nop(), f.store, cache, RefresherOptions{})
	ctx := context.Background()
	if err := r.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}

	upd := f.banana.Nutrients
	upd.Calories = 200
	if _, err := f.store.UpdateFoodNutrients(ctx, f.banana.ID, store.FoodUpdate{Nutrients: upd}); err != nil {
		t.Fatalf("UpdateFoodNutrients: %v", err)
	}
	r.Invalidate(events.Event{Kind: events.FoodChanged, ID: f.banana.ID})
	r.cycle(ctx)

	row, _ := cache.Snapshot().Row(f.plan.ID, day)
	if row.Calories != 500 {
		t.Fatalf("after food change: want=500 got=%v", row.Calories)
	}
	if cache.Stale(f.plan.ID, time.Now()) {
		t.Fatalf("plan still stale after refresh")
	}
}

func TestBurstOfInvalidationsRecomputesOnce(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	src := &countingSource{Source: f.store}
	cache := NewCache(time.Minute)
	r := NewRefresher(logger.Nop(), src, cache, RefresherOptions{Debounce: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	for i := 0; i < 25; i++ {
		r.Invalidate(events.Event{Kind: events.PlanChanged, ID: f.plan.ID})
		r.Invalidate(events.Event{Kind: events.MealChanged, ID: f.meal.ID})
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Refreshes == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// let a spurious second cycle show up if there is one
	time.Sleep(150 * time.Millisecond)

	if got := src.calls.Load(); got != 1 {
		t.Fatalf("recomputes: want=1 got=%d", got)
	}
	st := r.Stats()
	if st.Events != 50 || st.Coalesced != 49 {
		t.Fatalf("stats: want events=50 coalesced=49 got=%+v", st)
	}
	row, ok := cache.Snapshot().Row(f.plan.ID, day)
	if !ok || row.Calories != 400 {
		t.Fatalf("cached row: want=400 got=%+v ok=%v", row, ok)
	}
}

func TestDeletedPlanDropsFromCache(t *testing.T) {
	f := newFixture(t)
	f.addEntry(t, day, 1)
	cache := NewCache(time.Minute)
	r := NewRefresher(logger.Nop(), f.store, cache, RefresherOptions{})
	ctx := context.Background()
	if err := r.RefreshNow(ctx); err != nil {
		t.Fatalf("RefreshNow: %v", err)
	}
	if err := f.store.DeletePlan(ctx, f.plan.ID); err != nil {
		t.Fatalf("DeletePlan: %v", err)
	}
	r.Invalidate(events.Event{Kind: events.PlanChanged, ID: f.plan.ID})
	r.cycle(ctx)

	if rows := cache.Snapshot().Rows(f.plan.ID); len(rows) != 0 {
		t.Fatalf("deleted plan still cached: %+v", rows)
	}
}
