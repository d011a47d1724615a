package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "nutriplan/internal/middleware"
	"nutriplan/internal/models"
	"nutriplan/internal/store"
)

var errForbidden = errors.New("forbidden")

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps store sentinels onto status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrActivePlanConflict):
		http.Error(w, "another plan is already active", http.StatusConflict)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, "conflict", http.StatusConflict)
	case errors.Is(err, errForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := mw.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
	return id, ok
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		http.Error(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// queryDate parses a YYYY-MM-DD query parameter, falling back to today (UTC) when absent.
func queryDate(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return models.DateOnly(time.Now().UTC()), true
	}
	d, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		http.Error(w, "invalid "+name+" format; expected YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return d, true
}

// optionalDate parses a YYYY-MM-DD query parameter; absent means the zero time.
func optionalDate(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	if r.URL.Query().Get(name) == "" {
		return time.Time{}, true
	}
	return queryDate(w, r, name)
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(models.DateLayout, raw)
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}
