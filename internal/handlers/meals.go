package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"nutriplan/internal/aggregate"
	"nutriplan/internal/events"
	"nutriplan/internal/models"
	"nutriplan/internal/store"
)

// MealStore is what the meal endpoints read and write.
type MealStore interface {
	store.Meals
	PlansForMeals(ctx context.Context, mealIDs []uuid.UUID) ([]uuid.UUID, error)
}

type MealHandler struct {
	meals  MealStore
	agg    *aggregate.Aggregator
	notify *events.Notifier
}

func NewMealHandler(meals MealStore, agg *aggregate.Aggregator, notify *events.Notifier) *MealHandler {
	return &MealHandler{meals: meals, agg: agg, notify: notify}
}

type mealFoodRequest struct {
	FoodID   uuid.UUID `json:"food_id"`
	Quantity float64   `json:"quantity"`
}

type mealRequest struct {
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Foods    []mealFoodRequest `json:"foods"`
}

type mealFoodsRequest struct {
	Foods []mealFoodRequest `json:"foods"`
}

func toMealFoods(in []mealFoodRequest) []models.MealFood {
	out := make([]models.MealFood, 0, len(in))
	for _, f := range in {
		out = append(out, models.MealFood{FoodID: f.FoodID, Quantity: f.Quantity})
	}
	return out
}

// List returns the user's own meals and the premade ones.
func (h *MealHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	meals, err := h.meals.ListMeals(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	if meals == nil {
		meals = []models.Meal{}
	}
	writeJSON(w, http.StatusOK, meals)
}

func (h *MealHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req mealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	m := models.Meal{
		OwnerID:  &user,
		Name:     strings.TrimSpace(req.Name),
		Category: req.Category,
		Foods:    toMealFoods(req.Foods),
	}
	if err := h.meals.CreateMeal(r.Context(), &m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// load fetches the meal in the path if the user may read it. write additionally requires
// ownership; premade meals are read-only.
func (h *MealHandler) load(w http.ResponseWriter, r *http.Request, write bool) (models.Meal, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return models.Meal{}, false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return models.Meal{}, false
	}
	m, err := h.meals.GetMeal(r.Context(), id)
	switch {
	case err != nil:
	case !m.VisibleTo(user):
		err = store.ErrNotFound
	case write && !m.OwnedBy(user):
		err = errForbidden
	}
	if err != nil {
		writeError(w, err)
		return models.Meal{}, false
	}
	return m, true
}

func (h *MealHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// SetFoods replaces the composition of a meal and invalidates plan totals that use it.
func (h *MealHandler) SetFoods(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r, true)
	if !ok {
		return
	}
	var req mealFoodsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	foods := toMealFoods(req.Foods)
	if err := h.meals.ReplaceMealFoods(r.Context(), m.ID, foods); err != nil {
		writeError(w, err)
		return
	}
	h.notify.Notify(r.Context(), events.MealChanged, m.ID)

	updated, err := h.meals.GetMeal(r.Context(), m.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// Delete removes the meal together with its plan entries. The affected plans are resolved
// before the entries disappear.
func (h *MealHandler) Delete(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r, true)
	if !ok {
		return
	}
	affected, err := h.meals.PlansForMeals(r.Context(), []uuid.UUID{m.ID})
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.meals.DeleteMeal(r.Context(), m.ID); err != nil {
		writeError(w, err)
		return
	}
	for _, planID := range affected {
		h.notify.Notify(r.Context(), events.PlanChanged, planID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Nutrition returns the live totals of one meal.
func (h *MealHandler) Nutrition(w http.ResponseWriter, r *http.Request) {
	m, ok := h.load(w, r, false)
	if !ok {
		return
	}
	n, err := h.agg.MealNutrition(r.Context(), m.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"meal_id":   m.ID,
		"nutrients": n,
	})
}
