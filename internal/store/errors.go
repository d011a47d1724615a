package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation failed")
	// ErrActivePlanConflict is returned when the single-active-plan index rejects a write.
	ErrActivePlanConflict = errors.New("another plan is already active")
)

// ActivePlanIndex names the partial unique index guarding one active plan per user.
const ActivePlanIndex = "weekly_plans_one_active_per_user"

// ValidationError tags msg as a caller input failure.
func ValidationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// MapError maps driver failures onto the package sentinels, keeping the original error in the chain.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict),
		errors.Is(err, ErrValidation), errors.Is(err, ErrActivePlanConflict):
		return err
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch strings.TrimSpace(pgErr.Code) {
		case "23505": // unique_violation
			if pgErr.ConstraintName == ActivePlanIndex {
				return fmt.Errorf("%s: %w", op, errors.Join(ErrActivePlanConflict, err))
			}
			return fmt.Errorf("%s: %w", op, errors.Join(ErrConflict, err))
		case "23503", "23514", "22P02", "23502": // fk, check, bad text repr, not null
			return fmt.Errorf("%s: %w", op, errors.Join(ErrValidation, err))
		case "40001", "40P01": // serialization failure, deadlock
			return fmt.Errorf("%s: %w", op, errors.Join(ErrConflict, err))
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
