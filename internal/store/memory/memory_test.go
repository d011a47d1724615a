package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func seedFood(t *testing.T, s *Store, name string, kcal, protein float64) models.Food {
	t.Helper()
	f := models.Food{Name: name, Category: models.CategoryOther, Source: models.SourceCatalog,
		Nutrients: nutrition.Nutrients{Calories: kcal, ProteinG: protein}}
	if err := s.CreateFood(context.Background(), &f); err != nil {
		t.Fatalf("CreateFood: %v", err)
	}
	return f
}

func TestCreateLogStoresAbsoluteNutrients(t *testing.T) {
	s := New()
	f := seedFood(t, s, "Egg", 70, 6)
	e := models.LogEntry{UserID: uuid.New(), FoodID: f.ID, Quantity: 3, MealType: models.MealBreakfast, LogDate: monday.Add(9 * time.Hour)}
	if err := s.CreateLog(context.Background(), &e); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	if e.Calories != 210 || e.ProteinG != 18 {
		t.Fatalf("want=210/18 got=%v/%v", e.Calories, e.ProteinG)
	}
	if !e.LogDate.Equal(monday) {
		t.Fatalf("log date want=%v got=%v", monday, e.LogDate)
	}

	days, err := s.DailyLogTotals(context.Background(), e.UserID, monday, monday)
	if err != nil {
		t.Fatalf("DailyLogTotals: %v", err)
	}
	if len(days) != 1 || days[0].Calories != 210 || days[0].EntryCount != 1 {
		t.Fatalf("day totals want=210/1 got=%+v", days)
	}
}

func TestCreateLogsIsAtomic(t *testing.T) {
	s := New()
	f := seedFood(t, s, "Rice", 200, 4)
	user := uuid.New()
	batch := []*models.LogEntry{
		{UserID: user, FoodID: f.ID, Quantity: 1, MealType: models.MealLunch, LogDate: monday},
		{UserID: user, FoodID: uuid.New(), Quantity: 1, MealType: models.MealLunch, LogDate: monday},
	}
	err := s.CreateLogs(context.Background(), batch)
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("want validation error got=%v", err)
	}
	logs, _ := s.ListLogs(context.Background(), user, monday, monday)
	if len(logs) != 0 {
		t.Fatalf("partial batch stored: %d", len(logs))
	}

	batch[1].FoodID = f.ID
	if err := s.CreateLogs(context.Background(), batch); err != nil {
		t.Fatalf("CreateLogs: %v", err)
	}
	logs, _ = s.ListLogs(context.Background(), user, monday, monday)
	if len(logs) != 2 {
		t.Fatalf("logs want=2 got=%d", len(logs))
	}
}

func TestUpdateLogRecomputesFromFood(t *testing.T) {
	s := New()
	f := seedFood(t, s, "Milk", 100, 8)
	e := models.LogEntry{UserID: uuid.New(), FoodID: f.ID, Quantity: 2, MealType: models.MealSnack, LogDate: monday}
	if err := s.CreateLog(context.Background(), &e); err != nil {
		t.Fatalf("CreateLog: %v", err)
	}
	e.Quantity = 0.5
	if err := s.UpdateLog(context.Background(), &e); err != nil {
		t.Fatalf("UpdateLog: %v", err)
	}
	if e.Calories != 50 || e.ProteinG != 4 {
		t.Fatalf("want=50/4 got=%v/%v", e.Calories, e.ProteinG)
	}
}

func TestSimilarFoodsOrdersBySimilarity(t *testing.T) {
	s := New()
	seedFood(t, s, "Greek Yogurt", 60, 10)
	seedFood(t, s, "Brown Rice", 110, 2.5)
	got, err := s.SimilarFoods(context.Background(), "greek yogurt", 0.6, 5)
	if err != nil {
		t.Fatalf("SimilarFoods: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Greek Yogurt" {
		t.Fatalf("want Greek Yogurt got=%+v", got)
	}
}

func TestSetEnrichmentStatusChecksCurrentStatus(t *testing.T) {
	s := New()
	f := models.Food{Name: "Tofu", Category: models.CategoryProtein, Source: models.SourceUser}
	if err := s.CreateFood(context.Background(), &f); err != nil {
		t.Fatalf("CreateFood: %v", err)
	}
	if _, err := s.SetEnrichmentStatus(context.Background(), f.ID, models.EnrichmentCompleted, models.EnrichmentPending); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("want conflict got=%v", err)
	}
	got, err := s.SetEnrichmentStatus(context.Background(), f.ID, models.EnrichmentPending, models.EnrichmentProcessing)
	if err != nil || got.EnrichmentStatus != models.EnrichmentProcessing {
		t.Fatalf("want processing got=%v err=%v", got.EnrichmentStatus, err)
	}
}

func TestActivatePlanConcurrentLeavesOneActive(t *testing.T) {
	s := New()
	user := uuid.New()
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		p := models.WeeklyPlan{UserID: user, Name: "Plan", StartDate: monday, EndDate: monday.AddDate(0, 0, 6)}
		if err := s.CreatePlan(context.Background(), &p); err != nil {
			t.Fatalf("CreatePlan: %v", err)
		}
		ids = append(ids, p.ID)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if _, err := s.ActivatePlan(context.Background(), user, id); err != nil {
				t.Errorf("ActivatePlan: %v", err)
			}
		}(ids[i%len(ids)])
	}
	wg.Wait()

	plans, _ := s.ListPlans(context.Background(), user)
	active := 0
	for _, p := range plans {
		if p.IsActive {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("active plans want=1 got=%d", active)
	}

	if _, err := s.ActivatePlan(context.Background(), uuid.New(), ids[0]); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign activation want not found got=%v", err)
	}
}

func TestPlanDateTotalsAndMealDeleteCascade(t *testing.T) {
	ctx := context.Background()
	s := New()
	oats := seedFood(t, s, "Oats", 150, 5)
	banana := seedFood(t, s, "Banana", 100, 1)
	user := uuid.New()
	meal := models.Meal{Name: "Oatmeal Bowl", OwnerID: &user, Foods: []models.MealFood{
		{FoodID: oats.ID, Quantity: 2}, {FoodID: banana.ID, Quantity: 1},
	}}
	if err := s.CreateMeal(ctx, &meal); err != nil {
		t.Fatalf("CreateMeal: %v", err)
	}
	plan := models.WeeklyPlan{UserID: user, Name: "Week", StartDate: monday, EndDate: monday.AddDate(0, 0, 6)}
	if err := s.CreatePlan(ctx, &plan); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	for _, servings := range []float64{1, 0.5} {
		e := models.PlanEntry{PlanID: plan.ID, MealID: meal.ID, EntryDate: monday, MealType: models.MealDinner, Servings: servings}
		if err := s.CreatePlanEntry(ctx, &e); err != nil {
			t.Fatalf("CreatePlanEntry: %v", err)
		}
	}
	outside := models.PlanEntry{PlanID: plan.ID, MealID: meal.ID, EntryDate: monday.AddDate(0, 0, 7), MealType: models.MealDinner, Servings: 1}
	if err := s.CreatePlanEntry(ctx, &outside); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("entry outside range want validation got=%v", err)
	}

	rows, err := s.PlanDateTotals(ctx, nil)
	if err != nil {
		t.Fatalf("PlanDateTotals: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows want=1 got=%d", len(rows))
	}
	if rows[0].Calories != 600 || rows[0].ProteinG != 16.5 || rows[0].MealCount != 1 || rows[0].FoodCount != 2 {
		t.Fatalf("row want=600/16.5/1/2 got=%+v", rows[0])
	}

	plans, _ := s.PlansForMeals(ctx, []uuid.UUID{meal.ID})
	if len(plans) != 1 || plans[0] != plan.ID {
		t.Fatalf("PlansForMeals want=[%s] got=%v", plan.ID, plans)
	}

	if err := s.DeleteMeal(ctx, meal.ID); err != nil {
		t.Fatalf("DeleteMeal: %v", err)
	}
	entries, _ := s.ListPlanEntries(ctx, plan.ID, monday, monday.AddDate(0, 0, 6))
	if len(entries) != 0 {
		t.Fatalf("entries not cascaded: %d", len(entries))
	}
}
