// Package catalog owns food ingestion: validation, plausibility guardrails, duplicate
// detection and the enrichment write path.
package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"nutriplan/internal/events"
	"nutriplan/internal/logger"
	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	duplicateLimit     = 5
)

type FoodInput struct {
	Name               string              `json:"name"`
	Brand              string              `json:"brand"`
	Category           models.FoodCategory `json:"category"`
	ServingDescription string              `json:"serving_description"`
	Source             models.FoodSource   `json:"source"`
	Nutrients          nutrition.Nutrients `json:"nutrients"`
}

// Report carries the advisory findings of an ingest or enrichment write.
type Report struct {
	nutrition.Check
	Duplicates []store.FoodMatch `json:"duplicates,omitempty"`
}

type Service struct {
	log    *logger.Logger
	foods  store.Foods
	guard  nutrition.Guardrails
	notify *events.Notifier
}

func NewService(log *logger.Logger, foods store.Foods, guard nutrition.Guardrails, notify *events.Notifier) *Service {
	return &Service{log: log.With("service", "Catalog"), foods: foods, guard: guard, notify: notify}
}

// screen runs the guardrails for source. Trusted sources are never clamped but still get the
// calorie-consistency annotation.
func (s *Service) screen(source models.FoodSource, n nutrition.Nutrients) (nutrition.Nutrients, nutrition.Check) {
	if source.Trusted() {
		return n, nutrition.Check{Inconsistency: s.guard.CalorieConsistency(n)}
	}
	return s.guard.Apply(n)
}

// Ingest validates and stores a new food. Guardrail findings and near-duplicate names are
// reported, never rejected; malformed input is a validation error.
func (s *Service) Ingest(ctx context.Context, in FoodInput) (models.Food, Report, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return models.Food{}, Report{}, store.ValidationError("name is required")
	}
	if !in.Category.Valid() {
		return models.Food{}, Report{}, store.ValidationError("category %q", in.Category)
	}
	if in.Source == "" {
		in.Source = models.SourceUser
	}
	if !in.Source.Valid() {
		return models.Food{}, Report{}, store.ValidationError("source %q", in.Source)
	}
	if neg := in.Nutrients.Negative(); len(neg) > 0 {
		return models.Food{}, Report{}, store.ValidationError("negative nutrients: %s", strings.Join(neg, ", "))
	}

	nutrients, check := s.screen(in.Source, in.Nutrients)
	report := Report{Check: check}

	dups, err := s.foods.SimilarFoods(ctx, in.Name, s.guard.DuplicateSimilarity, duplicateLimit)
	if err != nil {
		// duplicate detection is advisory
		s.log.Warn("duplicate lookup failed", "name", in.Name, "error", err)
	}
	report.Duplicates = dups

	status := models.EnrichmentCompleted
	if !in.Source.Trusted() {
		status = models.EnrichmentPending
	}
	f := models.Food{
		Name:               in.Name,
		Brand:              strings.TrimSpace(in.Brand),
		Category:           in.Category,
		ServingDescription: strings.TrimSpace(in.ServingDescription),
		Source:             in.Source,
		QualityScore:       QualityScore(in.Source, nutrients, in.ServingDescription, check),
		EnrichmentStatus:   status,
		Nutrients:          nutrients,
	}
	if err := s.foods.CreateFood(ctx, &f); err != nil {
		return models.Food{}, Report{}, err
	}
	if !check.OK() || len(dups) > 0 {
		s.log.Info("food ingested with findings",
			"food_id", f.ID, "violations", len(check.Violations),
			"inconsistent", check.Inconsistency != nil, "duplicates", len(dups))
	}
	return f, report, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (models.Food, error) {
	return s.foods.GetFood(ctx, id)
}

func (s *Service) Search(ctx context.Context, query string, limit int) ([]models.Food, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	return s.foods.SearchFoods(ctx, strings.TrimSpace(query), limit)
}

// UpdateNutrients is the enrichment write: the provided fields are merged over the current
// profile, the result goes through the same guardrails, the food is marked completed and every
// cached aggregate depending on it is invalidated. A nil qualityScore is derived from the profile.
func (s *Service) UpdateNutrients(ctx context.Context, id uuid.UUID, patch nutrition.Patch, qualityScore *float64) (models.Food, Report, error) {
	current, err := s.foods.GetFood(ctx, id)
	if err != nil {
		return models.Food{}, Report{}, err
	}
	n, err := patch.Merge(current.Nutrients)
	if err != nil {
		return models.Food{}, Report{}, store.ValidationError("%v", err)
	}
	if neg := n.Negative(); len(neg) > 0 {
		return models.Food{}, Report{}, store.ValidationError("negative nutrients: %s", strings.Join(neg, ", "))
	}
	nutrients, check := s.screen(current.Source, n)

	score := QualityScore(current.Source, nutrients, current.ServingDescription, check)
	if qualityScore != nil {
		if *qualityScore < 0 || *qualityScore > 1 {
			return models.Food{}, Report{}, store.ValidationError("quality_score must be within [0,1]")
		}
		score = *qualityScore
	}

	f, err := s.foods.UpdateFoodNutrients(ctx, id, store.FoodUpdate{
		Nutrients:    nutrients,
		QualityScore: score,
		Status:       models.EnrichmentCompleted,
	})
	if err != nil {
		return models.Food{}, Report{}, err
	}
	s.notify.Notify(ctx, events.FoodChanged, id)
	return f, Report{Check: check}, nil
}

// MarkEnrichment moves a food through pending -> processing -> completed|failed, with
// failed able to go back to pending for a retry.
func (s *Service) MarkEnrichment(ctx context.Context, id uuid.UUID, to models.EnrichmentStatus) (models.Food, error) {
	current, err := s.foods.GetFood(ctx, id)
	if err != nil {
		return models.Food{}, err
	}
	if !current.EnrichmentStatus.CanTransition(to) {
		return models.Food{}, store.ValidationError("cannot move enrichment from %s to %s", current.EnrichmentStatus, to)
	}
	return s.foods.SetEnrichmentStatus(ctx, id, current.EnrichmentStatus, to)
}
