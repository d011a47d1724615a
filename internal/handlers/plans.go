package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/aggregate"
	"nutriplan/internal/models"
	"nutriplan/internal/plans"
)

type PlanHandler struct {
	plans *plans.Service
	agg   *aggregate.Aggregator
}

func NewPlanHandler(p *plans.Service, agg *aggregate.Aggregator) *PlanHandler {
	return &PlanHandler{plans: p, agg: agg}
}

type planRequest struct {
	Name      string `json:"name"`
	StartDate string `json:"start_date"` // YYYY-MM-DD
	EndDate   string `json:"end_date"`
	Activate  bool   `json:"activate"`
}

func (h *PlanHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	list, err := h.plans.List(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]PlanDTO, 0, len(list))
	for _, p := range list {
		out = append(out, ToPlanDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// Create godoc
// @Summary Create a weekly plan
// @Description Creates a plan over an inclusive date range; activate=true makes it the single active plan
// @Tags plans
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param data body planRequest true "Plan"
// @Success 201 {object} PlanDTO
// @Failure 400 {string} string "Bad request"
// @Router /plans [post]
func (h *PlanHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		http.Error(w, "invalid start_date format; expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		http.Error(w, "invalid end_date format; expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	p, err := h.plans.Create(r.Context(), user, plans.PlanInput{
		Name:      req.Name,
		StartDate: start,
		EndDate:   end,
		Activate:  req.Activate,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToPlanDTO(p))
}

func (h *PlanHandler) Active(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, err := h.plans.Active(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPlanDTO(p))
}

// ids reads the current user and the plan id from the path.
func (h *PlanHandler) ids(w http.ResponseWriter, r *http.Request) (user, plan uuid.UUID, ok bool) {
	if user, ok = currentUser(w, r); !ok {
		return
	}
	plan, ok = pathID(w, r, "id")
	return
}

func (h *PlanHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	p, err := h.plans.Get(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPlanDTO(p))
}

func (h *PlanHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	if err := h.plans.Delete(r.Context(), user, id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activate makes the plan the user's only active plan.
func (h *PlanHandler) Activate(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	p, err := h.plans.Activate(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPlanDTO(p))
}

func (h *PlanHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	p, err := h.plans.Deactivate(r.Context(), user, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPlanDTO(p))
}

// ListEntries accepts optional from/to (YYYY-MM-DD); absent bounds default to the plan range.
func (h *PlanHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	from, ok := optionalDate(w, r, "from")
	if !ok {
		return
	}
	to, ok := optionalDate(w, r, "to")
	if !ok {
		return
	}
	entries, err := h.plans.ListEntries(r.Context(), user, id, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]EntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

type entryRequest struct {
	MealID   uuid.UUID       `json:"meal_id"`
	Date     string          `json:"entry_date"`
	MealType models.MealType `json:"meal_type"`
	Servings float64         `json:"servings"`
}

func (h *PlanHandler) AddEntry(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	var req entryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	d, err := parseDate(req.Date)
	if err != nil {
		http.Error(w, "invalid entry_date format; expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	e, err := h.plans.AddEntry(r.Context(), user, id, plans.EntryInput{
		MealID:   req.MealID,
		Date:     d,
		MealType: req.MealType,
		Servings: req.Servings,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToEntryDTO(e))
}

type entryPatchRequest struct {
	Date     *string          `json:"entry_date"`
	MealType *models.MealType `json:"meal_type"`
	Servings *float64         `json:"servings"`
	Logged   *bool            `json:"logged"`
}

func (h *PlanHandler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	entryID, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}
	var req entryPatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	patch := plans.EntryPatch{MealType: req.MealType, Servings: req.Servings, Logged: req.Logged}
	if req.Date != nil {
		d, err := parseDate(*req.Date)
		if err != nil {
			http.Error(w, "invalid entry_date format; expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		patch.Date = &d
	}
	e, err := h.plans.UpdateEntry(r.Context(), user, id, entryID, patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToEntryDTO(e))
}

func (h *PlanHandler) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	entryID, ok := pathID(w, r, "entryID")
	if !ok {
		return
	}
	if err := h.plans.RemoveEntry(r.Context(), user, id, entryID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Nutrition godoc
// @Summary Plan totals for one date
// @Description Served from the aggregate cache with refreshed_at and stale; live=true recomputes from the store
// @Tags plans
// @Produce json
// @Security BearerAuth
// @Param date query string false "YYYY-MM-DD, default today"
// @Param live query bool false "Bypass the cache"
// @Success 200 {object} PlanDateDTO
// @Router /plans/{id}/nutrition [get]
func (h *PlanHandler) Nutrition(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	date, ok := queryDate(w, r, "date")
	if !ok {
		return
	}
	if _, err := h.plans.Get(r.Context(), user, id); err != nil {
		writeError(w, err)
		return
	}

	var (
		out aggregate.CachedTotals
		err error
	)
	if queryBool(r, "live") {
		var row models.PlanDateAggregate
		row, err = h.agg.PlanDateNutrition(r.Context(), id, date)
		out = aggregate.CachedTotals{PlanDateAggregate: row, RefreshedAt: time.Now().UTC(), Source: "live"}
	} else {
		out, err = h.agg.CachedPlanDate(r.Context(), id, date)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPlanDateDTO(out))
}

// Week returns the seven plan days ending at ?end= (default today).
func (h *PlanHandler) Week(w http.ResponseWriter, r *http.Request) {
	user, id, ok := h.ids(w, r)
	if !ok {
		return
	}
	end, ok := queryDate(w, r, "end")
	if !ok {
		return
	}
	if _, err := h.plans.Get(r.Context(), user, id); err != nil {
		writeError(w, err)
		return
	}
	week, err := h.agg.CachedPlanWeek(r.Context(), id, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToPlanWeekDTO(week))
}
