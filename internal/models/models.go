package models

import (
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/nutrition"
)

type FoodCategory string

const (
	CategoryProtein   FoodCategory = "protein"
	CategoryGrain     FoodCategory = "grain"
	CategoryVegetable FoodCategory = "vegetable"
	CategoryFruit     FoodCategory = "fruit"
	CategoryDairy     FoodCategory = "dairy"
	CategoryFat       FoodCategory = "fat"
	CategoryBeverage  FoodCategory = "beverage"
	CategorySnack     FoodCategory = "snack"
	CategoryOther     FoodCategory = "other"
)

func (c FoodCategory) Valid() bool {
	switch c {
	case CategoryProtein, CategoryGrain, CategoryVegetable, CategoryFruit, CategoryDairy,
		CategoryFat, CategoryBeverage, CategorySnack, CategoryOther:
		return true
	}
	return false
}

// FoodSource records where a catalog profile came from. Only SourceCatalog and SourceUSDA are
// trusted without guardrails.
type FoodSource string

const (
	SourceCatalog    FoodSource = "catalog"
	SourceUSDA       FoodSource = "usda"
	SourceAIEstimate FoodSource = "ai_estimate"
	SourceUser       FoodSource = "user"
)

func (s FoodSource) Valid() bool {
	switch s {
	case SourceCatalog, SourceUSDA, SourceAIEstimate, SourceUser:
		return true
	}
	return false
}

func (s FoodSource) Trusted() bool {
	return s == SourceCatalog || s == SourceUSDA
}

type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentProcessing EnrichmentStatus = "processing"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// CanTransition reports whether the enrichment state machine allows from -> to.
func (from EnrichmentStatus) CanTransition(to EnrichmentStatus) bool {
	switch from {
	case EnrichmentPending:
		return to == EnrichmentProcessing
	case EnrichmentProcessing:
		return to == EnrichmentCompleted || to == EnrichmentFailed
	case EnrichmentFailed:
		return to == EnrichmentPending
	}
	return false
}

type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

func (m MealType) Valid() bool {
	switch m {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

type Food struct {
	ID                 uuid.UUID        `db:"id" json:"id"`
	Name               string           `db:"name" json:"name"`
	Brand              string           `db:"brand" json:"brand,omitempty"`
	Category           FoodCategory     `db:"category" json:"category"`
	ServingDescription string           `db:"serving_description" json:"serving_description,omitempty"`
	Source             FoodSource       `db:"source" json:"source"`
	QualityScore       float64          `db:"quality_score" json:"quality_score"`
	EnrichmentStatus   EnrichmentStatus `db:"enrichment_status" json:"enrichment_status"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
	nutrition.Nutrients
}

// LogEntry nutrients are absolute: food value times quantity, fixed at write time.
type LogEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	FoodID    uuid.UUID `db:"food_id" json:"food_id"`
	Quantity  float64   `db:"quantity" json:"quantity"`
	MealType  MealType  `db:"meal_type" json:"meal_type"`
	LogDate   time.Time `db:"log_date" json:"log_date"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	nutrition.Nutrients
}

type Meal struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	OwnerID   *uuid.UUID `db:"owner_id" json:"owner_id,omitempty"`
	Name      string     `db:"name" json:"name"`
	Category  string     `db:"category" json:"category"`
	IsPremade bool       `db:"is_premade" json:"is_premade"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	Foods     []MealFood `db:"-" json:"foods"`
}

// OwnedBy reports whether user may modify the meal. Premade meals belong to nobody.
func (m Meal) OwnedBy(user uuid.UUID) bool {
	return !m.IsPremade && m.OwnerID != nil && *m.OwnerID == user
}

// VisibleTo reports whether user may read the meal.
func (m Meal) VisibleTo(user uuid.UUID) bool {
	return m.IsPremade || m.OwnedBy(user)
}

type MealFood struct {
	MealID   uuid.UUID `db:"meal_id" json:"-"`
	FoodID   uuid.UUID `db:"food_id" json:"food_id"`
	Quantity float64   `db:"quantity" json:"quantity"`
}

type WeeklyPlan struct {
	ID        uuid.UUID `db:"id" json:"id"`
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	StartDate time.Time `db:"start_date" json:"start_date"`
	EndDate   time.Time `db:"end_date" json:"end_date"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Covers reports whether date falls inside the plan's inclusive range.
func (p WeeklyPlan) Covers(date time.Time) bool {
	d := DateOnly(date)
	return !d.Before(DateOnly(p.StartDate)) && !d.After(DateOnly(p.EndDate))
}

type PlanEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	PlanID    uuid.UUID `db:"plan_id" json:"plan_id"`
	MealID    uuid.UUID `db:"meal_id" json:"meal_id"`
	EntryDate time.Time `db:"entry_date" json:"entry_date"`
	MealType  MealType  `db:"meal_type" json:"meal_type"`
	Servings  float64   `db:"servings" json:"servings"`
	Logged    bool      `db:"logged" json:"logged"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PlanDateAggregate is one cached row: totals for every entry of a plan on a date.
type PlanDateAggregate struct {
	PlanID    uuid.UUID `db:"plan_id" json:"plan_id"`
	Date      time.Time `db:"entry_date" json:"date"`
	MealCount int       `db:"meal_count" json:"meal_count"`
	FoodCount int       `db:"food_count" json:"food_count"`
	nutrition.Nutrients
}

const DateLayout = "2006-01-02"

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a date the way the API and cache keys expect it.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}
