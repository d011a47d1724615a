package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"nutriplan/internal/catalog"
	mw "nutriplan/internal/middleware"
	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
)

type FoodHandler struct {
	catalog *catalog.Service
}

func NewFoodHandler(c *catalog.Service) *FoodHandler {
	return &FoodHandler{catalog: c}
}

type foodResponse struct {
	Food   models.Food    `json:"food"`
	Report catalog.Report `json:"report"`
}

// Search lists catalog foods whose name contains q.
// Accepts optional query params: q, limit.
func (h *FoodHandler) Search(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	foods, err := h.catalog.Search(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if foods == nil {
		foods = []models.Food{}
	}
	writeJSON(w, http.StatusOK, foods)
}

// Create godoc
// @Summary Ingest a food
// @Description Validates and stores a catalog food; guardrail findings and likely duplicates are returned in report
// @Tags foods
// @Accept json
// @Produce json
// @Security BearerAuth
// @Success 201 {object} foodResponse
// @Failure 400 {string} string "Bad request"
// @Router /foods [post]
func (h *FoodHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in catalog.FoodInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	// end users always submit user-sourced foods; catalog and AI sources come from enrichment
	if !mw.Privileged(r.Context()) {
		in.Source = models.SourceUser
	}
	f, report, err := h.catalog.Ingest(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, foodResponse{Food: f, Report: report})
}

func (h *FoodHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	f, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type nutrientsRequest struct {
	Nutrients    nutrition.Patch `json:"nutrients"`
	QualityScore *float64        `json:"quality_score"`
}

// UpdateNutrients is the enrichment write path. Only the nutrient columns present in the body
// change. Cached plan totals that use the food are invalidated.
func (h *FoodHandler) UpdateNutrients(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req nutrientsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	f, report, err := h.catalog.UpdateNutrients(r.Context(), id, req.Nutrients, req.QualityScore)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, foodResponse{Food: f, Report: report})
}

type enrichmentRequest struct {
	Status models.EnrichmentStatus `json:"status"`
}

func (h *FoodHandler) UpdateEnrichment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req enrichmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	f, err := h.catalog.MarkEnrichment(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}
