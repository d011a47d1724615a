package handlers

import (
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/aggregate"
	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
)

func toDateString(t time.Time) string {
	return t.Format(models.DateLayout)
}

func toDateTimeString(t time.Time) string {
	return t.Format(time.RFC3339)
}

// PlanDTO ensures date-only strings for start_date and end_date
type PlanDTO struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date"`
	IsActive  bool      `json:"is_active"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
}

func ToPlanDTO(p models.WeeklyPlan) PlanDTO {
	return PlanDTO{
		ID:        p.ID,
		Name:      p.Name,
		StartDate: toDateString(p.StartDate),
		EndDate:   toDateString(p.EndDate),
		IsActive:  p.IsActive,
		CreatedAt: toDateTimeString(p.CreatedAt),
		UpdatedAt: toDateTimeString(p.UpdatedAt),
	}
}

type EntryDTO struct {
	ID        uuid.UUID       `json:"id"`
	PlanID    uuid.UUID       `json:"plan_id"`
	MealID    uuid.UUID       `json:"meal_id"`
	EntryDate string          `json:"entry_date"`
	MealType  models.MealType `json:"meal_type"`
	Servings  float64         `json:"servings"`
	Logged    bool            `json:"logged"`
}

func ToEntryDTO(e models.PlanEntry) EntryDTO {
	return EntryDTO{
		ID:        e.ID,
		PlanID:    e.PlanID,
		MealID:    e.MealID,
		EntryDate: toDateString(e.EntryDate),
		MealType:  e.MealType,
		Servings:  e.Servings,
		Logged:    e.Logged,
	}
}

type LogDTO struct {
	ID        uuid.UUID       `json:"id"`
	FoodID    uuid.UUID       `json:"food_id"`
	Quantity  float64         `json:"quantity"`
	MealType  models.MealType `json:"meal_type"`
	LogDate   string          `json:"log_date"`
	CreatedAt string          `json:"created_at"`
	nutrition.Nutrients
}

func ToLogDTO(e models.LogEntry) LogDTO {
	return LogDTO{
		ID:        e.ID,
		FoodID:    e.FoodID,
		Quantity:  e.Quantity,
		MealType:  e.MealType,
		LogDate:   toDateString(e.LogDate),
		CreatedAt: toDateTimeString(e.CreatedAt),
		Nutrients: e.Nutrients,
	}
}

type DayDTO struct {
	Date       string `json:"date"`
	EntryCount int    `json:"entry_count"`
	nutrition.Nutrients
}

func ToDayDTO(d aggregate.DaySummary) DayDTO {
	return DayDTO{Date: toDateString(d.Date), EntryCount: d.EntryCount, Nutrients: d.Nutrients}
}

type WeekDTO struct {
	Start        string              `json:"start"`
	End          string              `json:"end"`
	Days         []DayDTO            `json:"days"`
	Total        nutrition.Nutrients `json:"total"`
	DailyAverage nutrition.Nutrients `json:"daily_average"`
}

func ToWeekDTO(w aggregate.WeekSummary) WeekDTO {
	out := WeekDTO{Start: toDateString(w.Start), End: toDateString(w.End), Total: w.Total, DailyAverage: w.DailyAverage}
	for _, d := range w.Days {
		out.Days = append(out.Days, ToDayDTO(d))
	}
	return out
}

// PlanDateDTO is one plan-date total with its freshness.
type PlanDateDTO struct {
	PlanID      uuid.UUID `json:"plan_id"`
	Date        string    `json:"date"`
	MealCount   int       `json:"meal_count"`
	FoodCount   int       `json:"food_count"`
	RefreshedAt string    `json:"refreshed_at"`
	Stale       bool      `json:"stale"`
	Source      string    `json:"source"`
	nutrition.Nutrients
}

func ToPlanDateDTO(c aggregate.CachedTotals) PlanDateDTO {
	return PlanDateDTO{
		PlanID:      c.PlanID,
		Date:        toDateString(c.Date),
		MealCount:   c.MealCount,
		FoodCount:   c.FoodCount,
		RefreshedAt: toDateTimeString(c.RefreshedAt),
		Stale:       c.Stale,
		Source:      c.Source,
		Nutrients:   c.Nutrients,
	}
}

type PlanWeekDTO struct {
	PlanID       uuid.UUID           `json:"plan_id"`
	Start        string              `json:"start"`
	End          string              `json:"end"`
	Days         []PlanDateDTO       `json:"days"`
	Total        nutrition.Nutrients `json:"total"`
	DailyAverage nutrition.Nutrients `json:"daily_average"`
	RefreshedAt  string              `json:"refreshed_at"`
	Stale        bool                `json:"stale"`
}

func ToPlanWeekDTO(w aggregate.PlanWeek) PlanWeekDTO {
	out := PlanWeekDTO{
		PlanID:       w.PlanID,
		Start:        toDateString(w.Start),
		End:          toDateString(w.End),
		Total:        w.Total,
		DailyAverage: w.DailyAverage,
		RefreshedAt:  toDateTimeString(w.RefreshedAt),
		Stale:        w.Stale,
	}
	for _, d := range w.Days {
		out.Days = append(out.Days, ToPlanDateDTO(d))
	}
	return out
}
