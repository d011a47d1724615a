package handlers

import (
	"context"
	"net/http"

	"nutriplan/internal/aggregate"
)

// CacheRefresher is the part of the aggregate refresher exposed over HTTP.
type CacheRefresher interface {
	RefreshNow(ctx context.Context) error
	Stats() aggregate.Stats
}

type NutritionHandler struct {
	agg       *aggregate.Aggregator
	refresher CacheRefresher
}

func NewNutritionHandler(agg *aggregate.Aggregator, refresher CacheRefresher) *NutritionHandler {
	return &NutritionHandler{agg: agg, refresher: refresher}
}

// Day returns the logged intake of ?date= (default today).
func (h *NutritionHandler) Day(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	date, ok := queryDate(w, r, "date")
	if !ok {
		return
	}
	day, err := h.agg.DayNutrition(r.Context(), user, date)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToDayDTO(day))
}

// Week godoc
// @Summary Rolling seven-day intake
// @Description Daily totals for the seven days ending at end, with total and daily average
// @Tags nutrition
// @Produce json
// @Security BearerAuth
// @Param end query string false "YYYY-MM-DD, default today"
// @Success 200 {object} WeekDTO
// @Router /nutrition/week [get]
func (h *NutritionHandler) Week(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	end, ok := queryDate(w, r, "end")
	if !ok {
		return
	}
	week, err := h.agg.WeekNutrition(r.Context(), user, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToWeekDTO(week))
}

// Refresh recomputes the whole plan aggregate synchronously.
func (h *NutritionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.refresher.RefreshNow(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.refresher.Stats())
}

func (h *NutritionHandler) Cache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.refresher.Stats())
}
