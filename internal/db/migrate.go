package db

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"nutriplan/internal/nutrition"
	"nutriplan/internal/store"
)

func nutrientColumns(constraint func(column string) string) string {
	cols := make([]string, len(nutrition.Fields))
	for i, f := range nutrition.Fields {
		cols[i] = "    " + f.Column + " DOUBLE PRECISION " + constraint(f.Column)
	}
	return strings.Join(cols, ",\n")
}

// Catalog nutrients stay nullable until enrichment fills them in; readers COALESCE to 0.
func nullableNonNegative(col string) string { return "CHECK (" + col + " IS NULL OR " + col + " >= 0)" }

func absoluteNotNull(string) string { return "NOT NULL DEFAULT 0" }

// Schema returns the idempotent DDL for the service.
func Schema() string {
	return `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS foods (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name TEXT NOT NULL,
    brand TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL CHECK (category IN ('protein','grain','vegetable','fruit','dairy','fat','beverage','snack','other')),
    serving_description TEXT NOT NULL DEFAULT '',
    source TEXT NOT NULL DEFAULT 'catalog' CHECK (source IN ('catalog','usda','ai_estimate','user')),
    quality_score DOUBLE PRECISION NOT NULL DEFAULT 0 CHECK (quality_score BETWEEN 0 AND 1),
    enrichment_status TEXT NOT NULL DEFAULT 'pending' CHECK (enrichment_status IN ('pending','processing','completed','failed')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
` + nutrientColumns(nullableNonNegative) + `
);

CREATE INDEX IF NOT EXISTS foods_name_trgm ON foods USING gin (name gin_trgm_ops);

CREATE TABLE IF NOT EXISTS log_entries (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL,
    food_id UUID NOT NULL REFERENCES foods(id) ON DELETE RESTRICT,
    quantity DOUBLE PRECISION NOT NULL CHECK (quantity > 0),
    meal_type TEXT NOT NULL CHECK (meal_type IN ('breakfast','lunch','dinner','snack')),
    log_date DATE NOT NULL DEFAULT CURRENT_DATE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
` + nutrientColumns(absoluteNotNull) + `
);

CREATE INDEX IF NOT EXISTS log_entries_user_date ON log_entries (user_id, log_date);

CREATE TABLE IF NOT EXISTS meals (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    owner_id UUID,
    name TEXT NOT NULL CHECK (btrim(name) <> ''),
    category TEXT NOT NULL DEFAULT '',
    is_premade BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (is_premade OR owner_id IS NOT NULL)
);

CREATE TABLE IF NOT EXISTS meal_foods (
    meal_id UUID NOT NULL REFERENCES meals(id) ON DELETE CASCADE,
    food_id UUID NOT NULL REFERENCES foods(id) ON DELETE RESTRICT,
    position INTEGER NOT NULL,
    quantity DOUBLE PRECISION NOT NULL CHECK (quantity > 0),
    PRIMARY KEY (meal_id, position)
);

CREATE INDEX IF NOT EXISTS meal_foods_food ON meal_foods (food_id);

CREATE TABLE IF NOT EXISTS weekly_plans (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id UUID NOT NULL,
    name TEXT NOT NULL CHECK (btrim(name) <> ''),
    start_date DATE NOT NULL,
    end_date DATE NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (end_date >= start_date)
);

CREATE UNIQUE INDEX IF NOT EXISTS ` + store.ActivePlanIndex + ` ON weekly_plans (user_id) WHERE is_active;

CREATE TABLE IF NOT EXISTS plan_entries (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    plan_id UUID NOT NULL REFERENCES weekly_plans(id) ON DELETE CASCADE,
    meal_id UUID NOT NULL REFERENCES meals(id) ON DELETE CASCADE,
    entry_date DATE NOT NULL,
    meal_type TEXT NOT NULL CHECK (meal_type IN ('breakfast','lunch','dinner','snack')),
    servings DOUBLE PRECISION NOT NULL DEFAULT 1 CHECK (servings > 0),
    logged BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS plan_entries_plan_date ON plan_entries (plan_id, entry_date);
CREATE INDEX IF NOT EXISTS plan_entries_meal ON plan_entries (meal_id);
`
}

func RunMigrations(db *sqlx.DB) error {
	_, err := db.ExecContext(context.Background(), Schema())
	return err
}
