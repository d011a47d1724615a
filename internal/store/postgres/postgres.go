// Package postgres implements store.Store on sqlx over the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
)

type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// inTx runs fn in a transaction, rolling back on any error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- foods ----

var foodColumns = "id, name, brand, category, serving_description, source, quality_score, enrichment_status, created_at, updated_at, " +
	nutrition.CoalesceSelect("foods")

func (s *Store) CreateFood(ctx context.Context, f *models.Food) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	if f.EnrichmentStatus == "" {
		f.EnrichmentStatus = models.EnrichmentPending
	}
	cols := append([]string{"id", "name", "brand", "category", "serving_description", "source", "quality_score", "enrichment_status"},
		nutrition.Columns("")...)
	named := make([]string, len(cols))
	for i, c := range cols {
		named[i] = ":" + c
	}
	query, args, err := sqlx.Named(
		"INSERT INTO foods ("+strings.Join(cols, ", ")+") VALUES ("+strings.Join(named, ", ")+") RETURNING created_at, updated_at", f)
	if err != nil {
		return err
	}
	err = s.db.QueryRowxContext(ctx, s.db.Rebind(query), args...).Scan(&f.CreatedAt, &f.UpdatedAt)
	return store.MapError("create food", err)
}

func (s *Store) GetFood(ctx context.Context, id uuid.UUID) (models.Food, error) {
	var f models.Food
	err := s.db.GetContext(ctx, &f, `SELECT `+foodColumns+` FROM foods WHERE id = $1`, id)
	return f, store.MapError("get food", err)
}

func (s *Store) SearchFoods(ctx context.Context, query string, limit int) ([]models.Food, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Food
	err := s.db.SelectContext(ctx, &out, `SELECT `+foodColumns+` FROM foods
		WHERE $1 = '' OR name ILIKE '%' || $1 || '%'
		ORDER BY similarity(name, $1) DESC, name
		LIMIT $2`, strings.TrimSpace(query), limit)
	return out, store.MapError("search foods", err)
}

func (s *Store) SimilarFoods(ctx context.Context, name string, threshold float64, limit int) ([]store.FoodMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	var out []store.FoodMatch
	err := s.db.SelectContext(ctx, &out, `SELECT id, name, similarity(name, $1)::float8 AS similarity
		FROM foods
		WHERE similarity(name, $1) >= $2
		ORDER BY similarity DESC
		LIMIT $3`, name, threshold, limit)
	return out, store.MapError("similar foods", err)
}

func (s *Store) UpdateFoodNutrients(ctx context.Context, id uuid.UUID, u store.FoodUpdate) (models.Food, error) {
	sets := make([]string, 0, len(nutrition.Fields)+3)
	args := []any{id, u.QualityScore}
	sets = append(sets, "quality_score = $2", "updated_at = NOW()")
	if u.Status != "" {
		args = append(args, string(u.Status))
		sets = append(sets, fmt.Sprintf("enrichment_status = $%d", len(args)))
	}
	for _, f := range nutrition.Fields {
		args = append(args, *f.Ref(&u.Nutrients))
		sets = append(sets, fmt.Sprintf("%s = $%d", f.Column, len(args)))
	}
	var f models.Food
	err := s.db.GetContext(ctx, &f, `UPDATE foods SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+foodColumns, args...)
	return f, store.MapError("update food nutrients", err)
}

func (s *Store) SetEnrichmentStatus(ctx context.Context, id uuid.UUID, from, to models.EnrichmentStatus) (models.Food, error) {
	var f models.Food
	err := s.db.GetContext(ctx, &f, `UPDATE foods SET enrichment_status = $3, updated_at = NOW()
		WHERE id = $1 AND enrichment_status = $2 RETURNING `+foodColumns, id, string(from), string(to))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetFood(ctx, id); getErr != nil {
			return models.Food{}, getErr
		}
		return models.Food{}, fmt.Errorf("food %s is not %s: %w", id, from, store.ErrConflict)
	}
	return f, store.MapError("set enrichment status", err)
}

// ---- logs ----

var logColumns = "id, user_id, food_id, quantity, meal_type, log_date, created_at, " + strings.Join(nutrition.Columns(""), ", ")

// absoluteSelect multiplies each catalog nutrient by the quantity parameter.
func absoluteSelect(qtyParam string) string {
	parts := make([]string, len(nutrition.Fields))
	for i, f := range nutrition.Fields {
		parts[i] = "COALESCE(f." + f.Column + ", 0) * " + qtyParam + "::float8"
	}
	return strings.Join(parts, ", ")
}

func (s *Store) CreateLog(ctx context.Context, e *models.LogEntry) error {
	return createLog(ctx, s.db, e)
}

// CreateLogs stores a batch of log entries in one transaction; one bad entry rejects all.
func (s *Store) CreateLogs(ctx context.Context, entries []*models.LogEntry) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		for i, e := range entries {
			if err := createLog(ctx, tx, e); err != nil {
				return fmt.Errorf("entry %d: %w", i, err)
			}
		}
		return nil
	})
}

func createLog(ctx context.Context, q sqlx.QueryerContext, e *models.LogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `INSERT INTO log_entries (id, user_id, food_id, quantity, meal_type, log_date, ` + strings.Join(nutrition.Columns(""), ", ") + `)
		SELECT $1, $2, f.id, $4::float8, $5, $6::date, ` + absoluteSelect("$4") + `
		FROM foods f WHERE f.id = $3
		RETURNING ` + logColumns
	err := sqlx.GetContext(ctx, q, e, query, e.ID, e.UserID, e.FoodID, e.Quantity, string(e.MealType), models.DateOnly(e.LogDate))
	if errors.Is(err, sql.ErrNoRows) {
		return store.ValidationError("food %s does not exist", e.FoodID)
	}
	return store.MapError("create log", err)
}

func (s *Store) UpdateLog(ctx context.Context, e *models.LogEntry) error {
	if _, err := s.GetLog(ctx, e.ID); err != nil {
		return err
	}
	sets := []string{"food_id = f.id", "quantity = $3::float8", "meal_type = $4", "log_date = $5::date"}
	for _, f := range nutrition.Fields {
		sets = append(sets, f.Column+" = COALESCE(f."+f.Column+", 0) * $3::float8")
	}
	query := `UPDATE log_entries l SET ` + strings.Join(sets, ", ") + `
		FROM foods f WHERE l.id = $1 AND f.id = $2
		RETURNING ` + prefixed("l", logColumns)
	err := s.db.GetContext(ctx, e, query, e.ID, e.FoodID, e.Quantity, string(e.MealType), models.DateOnly(e.LogDate))
	if errors.Is(err, sql.ErrNoRows) {
		return store.ValidationError("food %s does not exist", e.FoodID)
	}
	return store.MapError("update log", err)
}

func prefixed(alias, cols string) string {
	parts := strings.Split(cols, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

func (s *Store) GetLog(ctx context.Context, id uuid.UUID) (models.LogEntry, error) {
	var e models.LogEntry
	err := s.db.GetContext(ctx, &e, `SELECT `+logColumns+` FROM log_entries WHERE id = $1`, id)
	return e, store.MapError("get log", err)
}

func (s *Store) DeleteLog(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM log_entries WHERE id = $1`, id)
	if err != nil {
		return store.MapError("delete log", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("log entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListLogs(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]models.LogEntry, error) {
	var out []models.LogEntry
	err := s.db.SelectContext(ctx, &out, `SELECT `+logColumns+` FROM log_entries
		WHERE user_id = $1 AND log_date BETWEEN $2::date AND $3::date
		ORDER BY log_date, created_at`, userID, models.DateOnly(from), models.DateOnly(to))
	return out, store.MapError("list logs", err)
}

// DailyLogTotals sums stored columns as-is: they already hold food value * quantity.
func (s *Store) DailyLogTotals(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]store.DayTotals, error) {
	var out []store.DayTotals
	err := s.db.SelectContext(ctx, &out, `SELECT log_date, COUNT(*)::int AS entry_count,
		`+nutrition.SumSelect(func(c string) string { return c })+`
		FROM log_entries
		WHERE user_id = $1 AND log_date BETWEEN $2::date AND $3::date
		GROUP BY log_date
		ORDER BY log_date`, userID, models.DateOnly(from), models.DateOnly(to))
	if err != nil {
		return nil, store.MapError("daily log totals", err)
	}
	for i := range out {
		out[i].Nutrients = out[i].Nutrients.Round(2)
	}
	return out, nil
}
