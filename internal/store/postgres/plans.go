package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"nutriplan/internal/models"
	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
)

// ---- meals ----

const mealColumns = "id, owner_id, name, category, is_premade, created_at, updated_at"

func insertMealFoods(ctx context.Context, tx *sqlx.Tx, mealID uuid.UUID, foods []models.MealFood) error {
	for i, mf := range foods {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meal_foods (meal_id, food_id, position, quantity) VALUES ($1, $2, $3, $4)`,
			mealID, mf.FoodID, i, mf.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateMeal(ctx context.Context, m *models.Meal) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.QueryRowxContext(ctx, `INSERT INTO meals (id, owner_id, name, category, is_premade)
			VALUES ($1, $2, $3, $4, $5) RETURNING created_at, updated_at`,
			m.ID, m.OwnerID, m.Name, m.Category, m.IsPremade).Scan(&m.CreatedAt, &m.UpdatedAt); err != nil {
			return err
		}
		return insertMealFoods(ctx, tx, m.ID, m.Foods)
	})
	if err != nil {
		return store.MapError("create meal", err)
	}
	for i := range m.Foods {
		m.Foods[i].MealID = m.ID
	}
	return nil
}

func (s *Store) loadFoods(ctx context.Context, meals []models.Meal) error {
	if len(meals) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(meals))
	idx := make(map[uuid.UUID]int, len(meals))
	for i, m := range meals {
		ids[i] = m.ID
		idx[m.ID] = i
		meals[i].Foods = []models.MealFood{}
	}
	var rows []models.MealFood
	if err := s.db.SelectContext(ctx, &rows, `SELECT meal_id, food_id, quantity FROM meal_foods
		WHERE meal_id = ANY($1::uuid[]) ORDER BY meal_id, position`, uuidStrings(ids)); err != nil {
		return err
	}
	for _, r := range rows {
		i := idx[r.MealID]
		meals[i].Foods = append(meals[i].Foods, r)
	}
	return nil
}

func (s *Store) GetMeal(ctx context.Context, id uuid.UUID) (models.Meal, error) {
	var m models.Meal
	if err := s.db.GetContext(ctx, &m, `SELECT `+mealColumns+` FROM meals WHERE id = $1`, id); err != nil {
		return models.Meal{}, store.MapError("get meal", err)
	}
	meals := []models.Meal{m}
	if err := s.loadFoods(ctx, meals); err != nil {
		return models.Meal{}, store.MapError("get meal foods", err)
	}
	return meals[0], nil
}

func (s *Store) ListMeals(ctx context.Context, userID uuid.UUID) ([]models.Meal, error) {
	var out []models.Meal
	if err := s.db.SelectContext(ctx, &out, `SELECT `+mealColumns+` FROM meals
		WHERE is_premade OR owner_id = $1 ORDER BY name`, userID); err != nil {
		return nil, store.MapError("list meals", err)
	}
	return out, store.MapError("list meal foods", s.loadFoods(ctx, out))
}

func (s *Store) ReplaceMealFoods(ctx context.Context, mealID uuid.UUID, foods []models.MealFood) error {
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE meals SET updated_at = NOW() WHERE id = $1`, mealID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("meal %s: %w", mealID, store.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM meal_foods WHERE meal_id = $1`, mealID); err != nil {
			return err
		}
		return insertMealFoods(ctx, tx, mealID, foods)
	})
	return store.MapError("replace meal foods", err)
}

func (s *Store) DeleteMeal(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM meals WHERE id = $1`, id)
	if err != nil {
		return store.MapError("delete meal", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("meal %s: %w", id, store.ErrNotFound)
	}
	return nil
}

type mealTotalRow struct {
	MealID uuid.UUID `db:"meal_id"`
	nutrition.Nutrients
}

func (s *Store) MealTotals(ctx context.Context, mealIDs []uuid.UUID) (map[uuid.UUID]nutrition.Nutrients, error) {
	if len(mealIDs) == 0 {
		return map[uuid.UUID]nutrition.Nutrients{}, nil
	}
	var rows []mealTotalRow
	err := s.db.SelectContext(ctx, &rows, `SELECT m.id AS meal_id,
		`+nutrition.SumSelect(func(c string) string { return "f." + c + " * mf.quantity" })+`
		FROM meals m
		LEFT JOIN meal_foods mf ON mf.meal_id = m.id
		LEFT JOIN foods f ON f.id = mf.food_id
		WHERE m.id = ANY($1::uuid[])
		GROUP BY m.id`, uuidStrings(mealIDs))
	if err != nil {
		return nil, store.MapError("meal totals", err)
	}
	out := make(map[uuid.UUID]nutrition.Nutrients, len(rows))
	for _, r := range rows {
		out[r.MealID] = r.Nutrients
	}
	for _, id := range mealIDs {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("meal %s: %w", id, store.ErrNotFound)
		}
	}
	return out, nil
}

func (s *Store) MealsForFood(ctx context.Context, foodID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT meal_id FROM meal_foods WHERE food_id = $1`, foodID)
	return out, store.MapError("meals for food", err)
}

// ---- plans ----

const planColumns = "id, user_id, name, start_date, end_date, is_active, created_at, updated_at"

func (s *Store) CreatePlan(ctx context.Context, p *models.WeeklyPlan) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.IsActive = false
	err := s.db.GetContext(ctx, p, `INSERT INTO weekly_plans (id, user_id, name, start_date, end_date, is_active)
		VALUES ($1, $2, $3, $4::date, $5::date, false) RETURNING `+planColumns,
		p.ID, p.UserID, p.Name, models.DateOnly(p.StartDate), models.DateOnly(p.EndDate))
	return store.MapError("create plan", err)
}

func (s *Store) GetPlan(ctx context.Context, id uuid.UUID) (models.WeeklyPlan, error) {
	var p models.WeeklyPlan
	err := s.db.GetContext(ctx, &p, `SELECT `+planColumns+` FROM weekly_plans WHERE id = $1`, id)
	return p, store.MapError("get plan", err)
}

func (s *Store) ListPlans(ctx context.Context, userID uuid.UUID) ([]models.WeeklyPlan, error) {
	var out []models.WeeklyPlan
	err := s.db.SelectContext(ctx, &out, `SELECT `+planColumns+` FROM weekly_plans
		WHERE user_id = $1 ORDER BY start_date DESC`, userID)
	return out, store.MapError("list plans", err)
}

func (s *Store) DeletePlan(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM weekly_plans WHERE id = $1`, id)
	if err != nil {
		return store.MapError("delete plan", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ActivePlan(ctx context.Context, userID uuid.UUID) (models.WeeklyPlan, error) {
	var p models.WeeklyPlan
	err := s.db.GetContext(ctx, &p, `SELECT `+planColumns+` FROM weekly_plans WHERE user_id = $1 AND is_active`, userID)
	return p, store.MapError("active plan", err)
}

// ActivatePlan locks every plan row of the user so concurrent activations queue behind
// each other; the later commit wins. The partial unique index rejects anything that
// slips past this path.
func (s *Store) ActivatePlan(ctx context.Context, userID, planID uuid.UUID) (models.WeeklyPlan, error) {
	var out models.WeeklyPlan
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var owned []uuid.UUID
		if err := tx.SelectContext(ctx, &owned, `SELECT id FROM weekly_plans WHERE user_id = $1 ORDER BY id FOR UPDATE`, userID); err != nil {
			return err
		}
		found := false
		for _, id := range owned {
			if id == planID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("plan %s: %w", planID, store.ErrNotFound)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE weekly_plans SET is_active = false, updated_at = NOW()
			WHERE user_id = $1 AND is_active AND id <> $2`, userID, planID); err != nil {
			return err
		}
		return tx.GetContext(ctx, &out, `UPDATE weekly_plans SET is_active = true, updated_at = NOW()
			WHERE id = $1 RETURNING `+planColumns, planID)
	})
	return out, store.MapError("activate plan", err)
}

func (s *Store) DeactivatePlan(ctx context.Context, userID, planID uuid.UUID) (models.WeeklyPlan, error) {
	var p models.WeeklyPlan
	err := s.db.GetContext(ctx, &p, `UPDATE weekly_plans SET is_active = false, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 RETURNING `+planColumns, planID, userID)
	return p, store.MapError("deactivate plan", err)
}

const entryColumns = "id, plan_id, meal_id, entry_date, meal_type, servings, logged, created_at"

// CreatePlanEntry only inserts when the date lies inside the plan's range.
func (s *Store) CreatePlanEntry(ctx context.Context, e *models.PlanEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := s.db.GetContext(ctx, e, `INSERT INTO plan_entries (id, plan_id, meal_id, entry_date, meal_type, servings, logged)
		SELECT $1, p.id, $3, $4::date, $5, $6, $7
		FROM weekly_plans p
		WHERE p.id = $2 AND $4::date BETWEEN p.start_date AND p.end_date
		RETURNING `+entryColumns,
		e.ID, e.PlanID, e.MealID, models.DateOnly(e.EntryDate), string(e.MealType), e.Servings, e.Logged)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ValidationError("entry_date %s outside plan range", models.DateKey(e.EntryDate))
	}
	return store.MapError("create plan entry", err)
}

func (s *Store) GetPlanEntry(ctx context.Context, id uuid.UUID) (models.PlanEntry, error) {
	var e models.PlanEntry
	err := s.db.GetContext(ctx, &e, `SELECT `+entryColumns+` FROM plan_entries WHERE id = $1`, id)
	return e, store.MapError("get plan entry", err)
}

func (s *Store) UpdatePlanEntry(ctx context.Context, e *models.PlanEntry) error {
	if _, err := s.GetPlanEntry(ctx, e.ID); err != nil {
		return err
	}
	err := s.db.GetContext(ctx, e, `UPDATE plan_entries pe
		SET meal_id = $2, entry_date = $3::date, meal_type = $4, servings = $5, logged = $6
		FROM weekly_plans p
		WHERE pe.id = $1 AND p.id = pe.plan_id AND $3::date BETWEEN p.start_date AND p.end_date
		RETURNING `+prefixed("pe", entryColumns),
		e.ID, e.MealID, models.DateOnly(e.EntryDate), string(e.MealType), e.Servings, e.Logged)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ValidationError("entry_date %s outside plan range", models.DateKey(e.EntryDate))
	}
	return store.MapError("update plan entry", err)
}

func (s *Store) DeletePlanEntry(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM plan_entries WHERE id = $1`, id)
	if err != nil {
		return store.MapError("delete plan entry", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan entry %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListPlanEntries(ctx context.Context, planID uuid.UUID, from, to time.Time) ([]models.PlanEntry, error) {
	var out []models.PlanEntry
	err := s.db.SelectContext(ctx, &out, `SELECT `+entryColumns+` FROM plan_entries
		WHERE plan_id = $1 AND entry_date BETWEEN $2::date AND $3::date
		ORDER BY entry_date, created_at`, planID, models.DateOnly(from), models.DateOnly(to))
	return out, store.MapError("list plan entries", err)
}

func (s *Store) PlansForMeals(ctx context.Context, mealIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(mealIDs) == 0 {
		return nil, nil
	}
	var out []uuid.UUID
	err := s.db.SelectContext(ctx, &out, `SELECT DISTINCT plan_id FROM plan_entries WHERE meal_id = ANY($1::uuid[])`, uuidStrings(mealIDs))
	return out, store.MapError("plans for meals", err)
}

// planTotalsQuery is the bulk recompute: meal totals first, then servings-weighted sums per
// (plan, date). filter is either empty or a WHERE clause on pe.
func planTotalsQuery(filter string) string {
	return `WITH meal_totals AS (
		SELECT mf.meal_id,
		` + nutrition.SumSelect(func(c string) string { return "f." + c + " * mf.quantity" }) + `
		FROM meal_foods mf
		JOIN foods f ON f.id = mf.food_id
		GROUP BY mf.meal_id
	)
	SELECT pe.plan_id, pe.entry_date,
		COUNT(DISTINCT pe.meal_id)::int AS meal_count,
		(SELECT COUNT(DISTINCT mf.food_id)::int
			FROM plan_entries pe2
			JOIN meal_foods mf ON mf.meal_id = pe2.meal_id
			WHERE pe2.plan_id = pe.plan_id AND pe2.entry_date = pe.entry_date) AS food_count,
		` + nutrition.SumSelect(func(c string) string { return "mt." + c + " * pe.servings" }) + `
	FROM plan_entries pe
	LEFT JOIN meal_totals mt ON mt.meal_id = pe.meal_id
	` + filter + `
	GROUP BY pe.plan_id, pe.entry_date
	ORDER BY pe.plan_id, pe.entry_date`
}

func (s *Store) PlanDateTotals(ctx context.Context, planIDs []uuid.UUID) ([]models.PlanDateAggregate, error) {
	var (
		out []models.PlanDateAggregate
		err error
	)
	switch {
	case planIDs == nil:
		err = s.db.SelectContext(ctx, &out, planTotalsQuery(""))
	case len(planIDs) == 0:
		return nil, nil
	default:
		err = s.db.SelectContext(ctx, &out, planTotalsQuery("WHERE pe.plan_id = ANY($1::uuid[])"), uuidStrings(planIDs))
	}
	if err != nil {
		return nil, store.MapError("plan date totals", err)
	}
	for i := range out {
		out[i].Nutrients = out[i].Nutrients.Round(2)
	}
	return out, nil
}
