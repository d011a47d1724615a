package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
)

// FoodMatch is a catalog entry whose name resembles a candidate name.
type FoodMatch struct {
	ID         uuid.UUID `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	Similarity float64   `db:"similarity" json:"similarity"`
}

// DayTotals sums the stored (already absolute) log nutrients of one day.
type DayTotals struct {
	Date       time.Time `db:"log_date"`
	EntryCount int       `db:"entry_count"`
	nutrition.Nutrients
}

// FoodUpdate is the enrichment write: new per-serving nutrients and quality score.
type FoodUpdate struct {
	Nutrients    nutrition.Nutrients
	QualityScore float64
	Status       models.EnrichmentStatus
}

type Foods interface {
	CreateFood(ctx context.Context, f *models.Food) error
	GetFood(ctx context.Context, id uuid.UUID) (models.Food, error)
	SearchFoods(ctx context.Context, query string, limit int) ([]models.Food, error)
	// SimilarFoods returns catalog names whose trigram similarity to name is at least threshold.
	SimilarFoods(ctx context.Context, name string, threshold float64, limit int) ([]FoodMatch, error)
	UpdateFoodNutrients(ctx context.Context, id uuid.UUID, u FoodUpdate) (models.Food, error)
	// SetEnrichmentStatus moves a food from one status to another; ErrConflict when the
	// stored status is not `from`.
	SetEnrichmentStatus(ctx context.Context, id uuid.UUID, from, to models.EnrichmentStatus) (models.Food, error)
}

type Logs interface {
	// CreateLog stores e with nutrients = food nutrients * e.Quantity, read in the same statement.
	CreateLog(ctx context.Context, e *models.LogEntry) error
	// CreateLogs stores a batch atomically.
	CreateLogs(ctx context.Context, entries []*models.LogEntry) error
	// UpdateLog recomputes the absolute nutrients from the food, never from the stored row.
	UpdateLog(ctx context.Context, e *models.LogEntry) error
	GetLog(ctx context.Context, id uuid.UUID) (models.LogEntry, error)
	DeleteLog(ctx context.Context, id uuid.UUID) error
	ListLogs(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.LogEntry, error)
	DailyLogTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]DayTotals, error)
}

type Meals interface {
	CreateMeal(ctx context.Context, m *models.Meal) error
	GetMeal(ctx context.Context, id uuid.UUID) (models.Meal, error)
	ListMeals(ctx context.Context, userID uuid.UUID) ([]models.Meal, error)
	ReplaceMealFoods(ctx context.Context, mealID uuid.UUID, foods []models.MealFood) error
	DeleteMeal(ctx context.Context, id uuid.UUID) error
	// MealTotals returns the unrounded sum of food nutrients * quantity per meal.
	// Meals without foods map to zero totals.
	MealTotals(ctx context.Context, mealIDs []uuid.UUID) (map[uuid.UUID]nutrition.Nutrients, error)
	MealsForFood(ctx context.Context, foodID uuid.UUID) ([]uuid.UUID, error)
}

type Plans interface {
	CreatePlan(ctx context.Context, p *models.WeeklyPlan) error
	GetPlan(ctx context.Context, id uuid.UUID) (models.WeeklyPlan, error)
	ListPlans(ctx context.Context, userID uuid.UUID) ([]models.WeeklyPlan, error)
	DeletePlan(ctx context.Context, id uuid.UUID) error
	ActivePlan(ctx context.Context, userID uuid.UUID) (models.WeeklyPlan, error)
	// ActivatePlan deactivates every other plan of userID and activates planID in one
	// transaction. ErrNotFound when the plan does not belong to userID.
	ActivatePlan(ctx context.Context, userID, planID uuid.UUID) (models.WeeklyPlan, error)
	DeactivatePlan(ctx context.Context, userID, planID uuid.UUID) (models.WeeklyPlan, error)

	CreatePlanEntry(ctx context.Context, e *models.PlanEntry) error
	GetPlanEntry(ctx context.Context, id uuid.UUID) (models.PlanEntry, error)
	UpdatePlanEntry(ctx context.Context, e *models.PlanEntry) error
	DeletePlanEntry(ctx context.Context, id uuid.UUID) error
	ListPlanEntries(ctx context.Context, planID uuid.UUID, from, to time.Time) ([]models.PlanEntry, error)
	PlansForMeals(ctx context.Context, mealIDs []uuid.UUID) ([]uuid.UUID, error)
	// PlanDateTotals recomputes the per-(plan, date) aggregate for the given plans, or for
	// every plan when planIDs is nil.
	PlanDateTotals(ctx context.Context, planIDs []uuid.UUID) ([]models.PlanDateAggregate, error)
}

// Store is the full persistence surface. Implementations: postgres (sqlx) and memory.
type Store interface {
	Foods
	Logs
	Meals
	Plans
	Ping(ctx context.Context) error
}
