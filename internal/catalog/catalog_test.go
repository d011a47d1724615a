package catalog

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"

	"nutriplan/internal/events"
	"nutriplan/internal/logger"
	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
	"nutriplan/internal/store/memory"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Invalidate(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newService(t *testing.T) (*Service, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	n := events.NewNotifier(logger.Nop(), sink, nil)
	return NewService(logger.Nop(), memory.New(), nutrition.DefaultGuardrails(), n), sink
}

func TestIngestClampsUntrustedSources(t *testing.T) {
	svc, _ := newService(t)
	f, rep, err := svc.Ingest(context.Background(), FoodInput{
		Name:      "Mystery Shake",
		Category:  models.CategoryBeverage,
		Source:    models.SourceAIEstimate,
		Nutrients: nutrition.Nutrients{Calories: 3500, ProteinG: 150, CarbsG: 100, FatG: 20},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if f.Calories != 2000 || f.ProteinG != 100 {
		t.Fatalf("clamp: want=2000/100 got=%v/%v", f.Calories, f.ProteinG)
	}
	if len(rep.Violations) != 2 || !rep.Clamped {
		t.Fatalf("violations: want=2 clamped got=%+v", rep.Check)
	}
	if f.EnrichmentStatus != models.EnrichmentPending {
		t.Fatalf("status: want=pending got=%s", f.EnrichmentStatus)
	}
}

func TestIngestKeepsTrustedValues(t *testing.T) {
	svc, _ := newService(t)
	f, rep, err := svc.Ingest(context.Background(), FoodInput{
		Name:      "Olive Oil (1 cup)",
		Category:  models.CategoryFat,
		Source:    models.SourceUSDA,
		Nutrients: nutrition.Nutrients{Calories: 1910, FatG: 216},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if f.FatG != 216 || rep.Clamped || len(rep.Violations) != 0 {
		t.Fatalf("trusted source altered: fat=%v report=%+v", f.FatG, rep.Check)
	}
	if f.EnrichmentStatus != models.EnrichmentCompleted {
		t.Fatalf("status: want=completed got=%s", f.EnrichmentStatus)
	}
}

func TestIngestCalorieConsistency(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, rep, err := svc.Ingest(ctx, FoodInput{
		Name: "Bar A", Category: models.CategorySnack, Source: models.SourceUser,
		Nutrients: nutrition.Nutrients{Calories: 400, ProteinG: 50, CarbsG: 50},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Inconsistency != nil {
		t.Fatalf("consistent food flagged: %+v", rep.Inconsistency)
	}

	_, rep, err = svc.Ingest(ctx, FoodInput{
		Name: "Bar B", Category: models.CategorySnack, Source: models.SourceUser,
		Nutrients: nutrition.Nutrients{Calories: 1000, ProteinG: 50, CarbsG: 50},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rep.Inconsistency == nil || rep.Inconsistency.EstimatedCalories != 400 {
		t.Fatalf("want inconsistency with estimate 400, got=%+v", rep.Inconsistency)
	}
}

func TestIngestReportsDuplicatesWithoutBlocking(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	first, _, err := svc.Ingest(ctx, FoodInput{Name: "Greek Yogurt", Category: models.CategoryDairy, Source: models.SourceCatalog})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	second, rep, err := svc.Ingest(ctx, FoodInput{Name: "greek yogurt", Category: models.CategoryDairy})
	if err != nil {
		t.Fatalf("duplicate blocked: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("duplicate reused existing id")
	}
	if len(rep.Duplicates) != 1 || rep.Duplicates[0].ID != first.ID {
		t.Fatalf("duplicate not reported: %+v", rep.Duplicates)
	}

	_, rep, err = svc.Ingest(ctx, FoodInput{Name: "Brown Rice", Category: models.CategoryGrain})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if len(rep.Duplicates) != 0 {
		t.Fatalf("unrelated name reported as duplicate: %+v", rep.Duplicates)
	}
}

func TestIngestValidation(t *testing.T) {
	svc, _ := newService(t)
	cases := []struct {
		name string
		in   FoodInput
	}{
		{"missing name", FoodInput{Category: models.CategoryOther}},
		{"bad category", FoodInput{Name: "X", Category: "meat"}},
		{"bad source", FoodInput{Name: "X", Category: models.CategoryOther, Source: "scraped"}},
		{"negative", FoodInput{Name: "X", Category: models.CategoryOther, Nutrients: nutrition.Nutrients{SodiumMg: -1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.Ingest(context.Background(), tc.in)
			if !errors.Is(err, store.ErrValidation) {
				t.Fatalf("want ErrValidation got=%v", err)
			}
		})
	}
}

func TestUpdateNutrientsInvalidatesAndCompletes(t *testing.T) {
	svc, sink := newService(t)
	ctx := context.Background()
	f, _, err := svc.Ingest(ctx, FoodInput{Name: "Lentils", Category: models.CategoryProtein, Source: models.SourceAIEstimate,
		Nutrients: nutrition.Nutrients{IronMg: 3.3, FiberG: 8}})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := svc.MarkEnrichment(ctx, f.ID, models.EnrichmentProcessing); err != nil {
		t.Fatalf("MarkEnrichment: %v", err)
	}

	got, rep, err := svc.UpdateNutrients(ctx, f.ID, nutrition.Patch{"calories": 230, "protein_g": 18, "carbs_g": 40, "fat_g": 1}, nil)
	if err != nil {
		t.Fatalf("UpdateNutrients: %v", err)
	}
	if got.EnrichmentStatus != models.EnrichmentCompleted || got.Calories != 230 {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.IronMg != 3.3 || got.FiberG != 8 {
		t.Fatalf("fields absent from the update must survive: iron=%v fiber=%v", got.IronMg, got.FiberG)
	}
	if !rep.OK() {
		t.Fatalf("unexpected findings: %+v", rep.Check)
	}
	if len(sink.events) != 1 || sink.events[0].Kind != events.FoodChanged || sink.events[0].ID != f.ID {
		t.Fatalf("invalidation: got=%+v", sink.events)
	}

	bad := 1.5
	if _, _, err := svc.UpdateNutrients(ctx, f.ID, nutrition.Patch{}, &bad); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("quality score >1: want ErrValidation got=%v", err)
	}
	if _, _, err := svc.UpdateNutrients(ctx, uuid.New(), nutrition.Patch{}, nil); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown food: want ErrNotFound got=%v", err)
	}
	if _, _, err := svc.UpdateNutrients(ctx, f.ID, nutrition.Patch{"kcal": 100}, nil); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("unknown column: want ErrValidation got=%v", err)
	}
	if _, _, err := svc.UpdateNutrients(ctx, f.ID, nutrition.Patch{"sodium_mg": -4}, nil); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("negative value: want ErrValidation got=%v", err)
	}
}

func TestMarkEnrichmentTransitions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	f, _, err := svc.Ingest(ctx, FoodInput{Name: "Kale", Category: models.CategoryVegetable})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	steps := []struct {
		to models.EnrichmentStatus
		ok bool
	}{
		{models.EnrichmentCompleted, false},
		{models.EnrichmentProcessing, true},
		{models.EnrichmentPending, false},
		{models.EnrichmentFailed, true},
		{models.EnrichmentPending, true},
		{models.EnrichmentProcessing, true},
		{models.EnrichmentCompleted, true},
		{models.EnrichmentPending, false},
		{models.EnrichmentFailed, false},
	}
	want := models.EnrichmentPending
	for i, st := range steps {
		got, err := svc.MarkEnrichment(ctx, f.ID, st.to)
		if st.ok {
			if err != nil {
				t.Fatalf("step %d %s->%s: %v", i, want, st.to, err)
			}
			want = st.to
			if got.EnrichmentStatus != want {
				t.Fatalf("step %d: want=%s got=%s", i, want, got.EnrichmentStatus)
			}
			continue
		}
		if !errors.Is(err, store.ErrValidation) {
			t.Fatalf("step %d %s->%s: want ErrValidation got=%v", i, want, st.to, err)
		}
	}
}

func TestQualityScore(t *testing.T) {
	full := nutrition.Nutrients{Calories: 200, ProteinG: 10, CarbsG: 20, FatG: 8}
	if got := QualityScore(models.SourceCatalog, full, "1 cup", nutrition.Check{}); got < 0.999 {
		t.Fatalf("catalog full profile: want=1 got=%v", got)
	}
	est := QualityScore(models.SourceAIEstimate, full, "", nutrition.Check{})
	flagged := QualityScore(models.SourceAIEstimate, full, "", nutrition.Check{Inconsistency: &nutrition.Inconsistency{}})
	if !(flagged < est && est < 1) {
		t.Fatalf("want flagged < estimate < 1, got flagged=%v estimate=%v", flagged, est)
	}
	if got := QualityScore(models.SourceUser, nutrition.Nutrients{}, "", nutrition.Check{Violations: make([]nutrition.Violation, 9)}); got != 0 {
		t.Fatalf("score must clamp at 0, got=%v", got)
	}
}
