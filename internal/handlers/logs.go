package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"nutriplan/internal/models"
	"nutriplan/internal/store"
)

const maxImportEntries = 500

type LogHandler struct {
	logs store.Logs
}

func NewLogHandler(logs store.Logs) *LogHandler {
	return &LogHandler{logs: logs}
}

type logRequest struct {
	FoodID   uuid.UUID       `json:"food_id"`
	Quantity float64         `json:"quantity"`
	MealType models.MealType `json:"meal_type"`
	LogDate  string          `json:"log_date"` // YYYY-MM-DD provided by frontend
}

func (req logRequest) entry(user uuid.UUID) (models.LogEntry, error) {
	if req.FoodID == uuid.Nil || req.Quantity <= 0 || !req.MealType.Valid() || req.LogDate == "" {
		return models.LogEntry{}, store.ValidationError("food_id, positive quantity, meal_type and log_date are required")
	}
	d, err := parseDate(req.LogDate)
	if err != nil {
		return models.LogEntry{}, store.ValidationError("invalid log_date format; expected YYYY-MM-DD")
	}
	return models.LogEntry{UserID: user, FoodID: req.FoodID, Quantity: req.Quantity, MealType: req.MealType, LogDate: d}, nil
}

// Create records a consumed food. Nutrients are fixed at write time as food value times quantity.
func (h *LogHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req logRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	e, err := req.entry(user)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.logs.CreateLog(r.Context(), &e); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToLogDTO(e))
}

type importRequest struct {
	Entries []logRequest `json:"entries"`
}

// Import godoc
// @Summary Import log entries
// @Description Stores a batch of log entries in one transaction; any invalid entry rejects the batch
// @Tags logs
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param data body importRequest true "Entries"
// @Success 201 {object} map[string]interface{} "Entries imported"
// @Failure 400 {string} string "Bad request"
// @Router /logs/import [post]
func (h *LogHandler) Import(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Entries) == 0 {
		http.Error(w, "no entries provided", http.StatusBadRequest)
		return
	}
	if len(req.Entries) > maxImportEntries {
		http.Error(w, fmt.Sprintf("at most %d entries per import", maxImportEntries), http.StatusBadRequest)
		return
	}

	entries := make([]*models.LogEntry, 0, len(req.Entries))
	for i, item := range req.Entries {
		e, err := item.entry(user)
		if err != nil {
			http.Error(w, fmt.Sprintf("entry %d: %v", i, err), http.StatusBadRequest)
			return
		}
		entries = append(entries, &e)
	}
	if err := h.logs.CreateLogs(r.Context(), entries); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Entries imported successfully",
		"imported": len(entries),
	})
}

// List returns the user's log entries for one day (date) or a range (from, to).
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}
	var from, to time.Time
	if r.URL.Query().Get("from") != "" || r.URL.Query().Get("to") != "" {
		if from, ok = queryDate(w, r, "from"); !ok {
			return
		}
		if to, ok = queryDate(w, r, "to"); !ok {
			return
		}
	} else {
		if from, ok = queryDate(w, r, "date"); !ok {
			return
		}
		to = from
	}
	if to.Before(from) {
		http.Error(w, "to before from", http.StatusBadRequest)
		return
	}
	entries, err := h.logs.ListLogs(r.Context(), user, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]LogDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToLogDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *LogHandler) owned(w http.ResponseWriter, r *http.Request) (models.LogEntry, bool) {
	user, ok := currentUser(w, r)
	if !ok {
		return models.LogEntry{}, false
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return models.LogEntry{}, false
	}
	e, err := h.logs.GetLog(r.Context(), id)
	if err == nil && e.UserID != user {
		err = store.ErrNotFound
	}
	if err != nil {
		writeError(w, err)
		return models.LogEntry{}, false
	}
	return e, true
}

type logUpdateRequest struct {
	Quantity *float64         `json:"quantity"`
	MealType *models.MealType `json:"meal_type"`
	LogDate  *string          `json:"log_date"`
}

// Update changes quantity, slot or date. Nutrients are recomputed from the food, never
// rescaled from the stored values.
func (h *LogHandler) Update(w http.ResponseWriter, r *http.Request) {
	e, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req logUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Quantity != nil {
		e.Quantity = *req.Quantity
	}
	if req.MealType != nil {
		if !req.MealType.Valid() {
			http.Error(w, "invalid meal_type", http.StatusBadRequest)
			return
		}
		e.MealType = *req.MealType
	}
	if req.LogDate != nil {
		d, err := parseDate(*req.LogDate)
		if err != nil {
			http.Error(w, "invalid log_date format; expected YYYY-MM-DD", http.StatusBadRequest)
			return
		}
		e.LogDate = d
	}
	if err := h.logs.UpdateLog(r.Context(), &e); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToLogDTO(e))
}

func (h *LogHandler) Delete(w http.ResponseWriter, r *http.Request) {
	e, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.logs.DeleteLog(r.Context(), e.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
