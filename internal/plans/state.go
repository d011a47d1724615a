package plans

import (
	"fmt"

	"github.com/google/uuid"

	"nutriplan/internal/models"
	"nutriplan/internal/store"
)

// ActiveState is the per-user activation state: which plan, if any, is active.
// Its transitions are the only legal ways the active plan changes.
type ActiveState struct {
	User   uuid.UUID
	Active uuid.UUID // uuid.Nil when no plan is active
}

// StateOf derives the state from a user's plans. More than one active plan is reported
// as ErrActivePlanConflict.
func StateOf(user uuid.UUID, plans []models.WeeklyPlan) (ActiveState, error) {
	st := ActiveState{User: user}
	for _, p := range plans {
		if p.UserID != user || !p.IsActive {
			continue
		}
		if st.Active != uuid.Nil {
			return st, fmt.Errorf("user %s has plans %s and %s active: %w", user, st.Active, p.ID, store.ErrActivePlanConflict)
		}
		st.Active = p.ID
	}
	return st, nil
}

// Activate makes plan the active one. The previously active plan, if any, is implicitly
// deactivated. Plans of other users do not exist for this state.
func (s ActiveState) Activate(plan models.WeeklyPlan) (ActiveState, error) {
	if plan.UserID != s.User {
		return s, fmt.Errorf("plan %s: %w", plan.ID, store.ErrNotFound)
	}
	return ActiveState{User: s.User, Active: plan.ID}, nil
}

// Deactivate clears the active plan if it is plan; deactivating an inactive plan is a no-op.
func (s ActiveState) Deactivate(plan models.WeeklyPlan) (ActiveState, error) {
	if plan.UserID != s.User {
		return s, fmt.Errorf("plan %s: %w", plan.ID, store.ErrNotFound)
	}
	if s.Active != plan.ID {
		return s, nil
	}
	return ActiveState{User: s.User}, nil
}

func (s ActiveState) HasActive() bool { return s.Active != uuid.Nil }
