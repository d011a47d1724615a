// Package plans manages weekly plans, their entries and the single-active-plan state.
package plans

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/events"
	"nutriplan/internal/logger"
	"nutriplan/internal/models"
	"nutriplan/internal/store"
)

type Store interface {
	store.Plans
	GetMeal(ctx context.Context, id uuid.UUID) (models.Meal, error)
}

type PlanInput struct {
	Name      string
	StartDate time.Time
	EndDate   time.Time
	Activate  bool
}

type EntryInput struct {
	MealID   uuid.UUID
	Date     time.Time
	MealType models.MealType
	Servings float64
}

// EntryPatch holds the fields an entry update may change; nil leaves a field alone.
type EntryPatch struct {
	Date     *time.Time
	MealType *models.MealType
	Servings *float64
	Logged   *bool
}

type Service struct {
	log    *logger.Logger
	store  Store
	notify *events.Notifier
}

func NewService(log *logger.Logger, s Store, notify *events.Notifier) *Service {
	return &Service{log: log.With("service", "Plans"), store: s, notify: notify}
}

func (s *Service) Create(ctx context.Context, user uuid.UUID, in PlanInput) (models.WeeklyPlan, error) {
	if strings.TrimSpace(in.Name) == "" {
		return models.WeeklyPlan{}, store.ValidationError("name is required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() {
		return models.WeeklyPlan{}, store.ValidationError("start_date and end_date are required")
	}
	if models.DateOnly(in.EndDate).Before(models.DateOnly(in.StartDate)) {
		return models.WeeklyPlan{}, store.ValidationError("end_date before start_date")
	}
	p := models.WeeklyPlan{
		UserID:    user,
		Name:      strings.TrimSpace(in.Name),
		StartDate: models.DateOnly(in.StartDate),
		EndDate:   models.DateOnly(in.EndDate),
	}
	if err := s.store.CreatePlan(ctx, &p); err != nil {
		return models.WeeklyPlan{}, err
	}
	if !in.Activate {
		return p, nil
	}
	active, err := s.Activate(ctx, user, p.ID)
	if err != nil {
		// an activate-on-create that fails must not leave an inactive plan behind
		if derr := s.store.DeletePlan(context.WithoutCancel(ctx), p.ID); derr != nil {
			s.log.Error("rollback of unactivated plan failed", "plan_id", p.ID, "error", derr)
		}
		return models.WeeklyPlan{}, err
	}
	return active, nil
}

func (s *Service) List(ctx context.Context, user uuid.UUID) ([]models.WeeklyPlan, error) {
	return s.store.ListPlans(ctx, user)
}

// Get returns plan id if it belongs to user. Foreign plans are reported as not found.
func (s *Service) Get(ctx context.Context, user, id uuid.UUID) (models.WeeklyPlan, error) {
	p, err := s.store.GetPlan(ctx, id)
	if err != nil {
		return models.WeeklyPlan{}, err
	}
	if p.UserID != user {
		return models.WeeklyPlan{}, fmt.Errorf("plan %s: %w", id, store.ErrNotFound)
	}
	return p, nil
}

func (s *Service) Delete(ctx context.Context, user, id uuid.UUID) error {
	if _, err := s.Get(ctx, user, id); err != nil {
		return err
	}
	if err := s.store.DeletePlan(ctx, id); err != nil {
		return err
	}
	s.notify.Notify(ctx, events.PlanChanged, id)
	return nil
}

// Activate checks the transition against the user's current state, then applies it in one
// store transaction that also deactivates the previous plan.
func (s *Service) Activate(ctx context.Context, user, id uuid.UUID) (models.WeeklyPlan, error) {
	target, err := s.Get(ctx, user, id)
	if err != nil {
		return models.WeeklyPlan{}, err
	}
	all, err := s.store.ListPlans(ctx, user)
	if err != nil {
		return models.WeeklyPlan{}, err
	}
	current, err := StateOf(user, all)
	if err != nil && !errors.Is(err, store.ErrActivePlanConflict) {
		return models.WeeklyPlan{}, err
	}
	next, err := current.Activate(target)
	if err != nil {
		return models.WeeklyPlan{}, err
	}
	p, err := s.store.ActivatePlan(ctx, user, next.Active)
	if err != nil {
		return models.WeeklyPlan{}, err
	}
	if current.Active != next.Active {
		s.log.Info("plan activated", "user_id", user, "plan_id", p.ID, "previous", current.Active)
	}
	return p, nil
}

func (s *Service) Deactivate(ctx context.Context, user, id uuid.UUID) (models.WeeklyPlan, error) {
	target, err := s.Get(ctx, user, id)
	if err != nil {
		return models.WeeklyPlan{}, err
	}
	if !target.IsActive {
		return target, nil
	}
	return s.store.DeactivatePlan(ctx, user, id)
}

func (s *Service) Active(ctx context.Context, user uuid.UUID) (models.WeeklyPlan, error) {
	return s.store.ActivePlan(ctx, user)
}

// ---- entries ----

func (s *Service) AddEntry(ctx context.Context, user, planID uuid.UUID, in EntryInput) (models.PlanEntry, error) {
	if _, err := s.Get(ctx, user, planID); err != nil {
		return models.PlanEntry{}, err
	}
	if err := s.checkMeal(ctx, user, in.MealID); err != nil {
		return models.PlanEntry{}, err
	}
	if in.Servings == 0 {
		in.Servings = 1
	}
	e := models.PlanEntry{
		PlanID:    planID,
		MealID:    in.MealID,
		EntryDate: models.DateOnly(in.Date),
		MealType:  in.MealType,
		Servings:  in.Servings,
	}
	if err := s.store.CreatePlanEntry(ctx, &e); err != nil {
		return models.PlanEntry{}, err
	}
	s.notify.Notify(ctx, events.PlanChanged, planID)
	return e, nil
}

func (s *Service) UpdateEntry(ctx context.Context, user, planID, entryID uuid.UUID, patch EntryPatch) (models.PlanEntry, error) {
	e, err := s.entry(ctx, user, planID, entryID)
	if err != nil {
		return models.PlanEntry{}, err
	}
	if patch.Date != nil {
		e.EntryDate = models.DateOnly(*patch.Date)
	}
	if patch.MealType != nil {
		e.MealType = *patch.MealType
	}
	if patch.Servings != nil {
		e.Servings = *patch.Servings
	}
	if patch.Logged != nil {
		e.Logged = *patch.Logged
	}
	if err := s.store.UpdatePlanEntry(ctx, &e); err != nil {
		return models.PlanEntry{}, err
	}
	s.notify.Notify(ctx, events.PlanChanged, planID)
	return e, nil
}

func (s *Service) RemoveEntry(ctx context.Context, user, planID, entryID uuid.UUID) error {
	if _, err := s.entry(ctx, user, planID, entryID); err != nil {
		return err
	}
	if err := s.store.DeletePlanEntry(ctx, entryID); err != nil {
		return err
	}
	s.notify.Notify(ctx, events.PlanChanged, planID)
	return nil
}

// ListEntries returns the entries of a plan between from and to; zero bounds default to the
// plan's own range.
func (s *Service) ListEntries(ctx context.Context, user, planID uuid.UUID, from, to time.Time) ([]models.PlanEntry, error) {
	p, err := s.Get(ctx, user, planID)
	if err != nil {
		return nil, err
	}
	if from.IsZero() {
		from = p.StartDate
	}
	if to.IsZero() {
		to = p.EndDate
	}
	return s.store.ListPlanEntries(ctx, planID, models.DateOnly(from), models.DateOnly(to))
}

func (s *Service) entry(ctx context.Context, user, planID, entryID uuid.UUID) (models.PlanEntry, error) {
	if _, err := s.Get(ctx, user, planID); err != nil {
		return models.PlanEntry{}, err
	}
	e, err := s.store.GetPlanEntry(ctx, entryID)
	if err != nil {
		return models.PlanEntry{}, err
	}
	if e.PlanID != planID {
		return models.PlanEntry{}, fmt.Errorf("plan entry %s: %w", entryID, store.ErrNotFound)
	}
	return e, nil
}

func (s *Service) checkMeal(ctx context.Context, user, mealID uuid.UUID) error {
	m, err := s.store.GetMeal(ctx, mealID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ValidationError("meal %s does not exist", mealID)
	}
	if err != nil {
		return err
	}
	if !m.VisibleTo(user) {
		return store.ValidationError("meal %s does not exist", mealID)
	}
	return nil
}
