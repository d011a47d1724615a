package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"active plan index", &pgconn.PgError{Code: "23505", ConstraintName: ActivePlanIndex}, ErrActivePlanConflict},
		{"other unique", &pgconn.PgError{Code: "23505", ConstraintName: "foods_pkey"}, ErrConflict},
		{"check violation", &pgconn.PgError{Code: "23514"}, ErrValidation},
		{"fk violation", &pgconn.PgError{Code: "23503"}, ErrValidation},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, ErrConflict},
		{"already mapped", ValidationError("bad %s", "input"), ErrValidation},
		{"canceled", context.Canceled, context.Canceled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MapError("op", tc.in)
			if !errors.Is(got, tc.want) {
				t.Fatalf("want errors.Is(%v), got %v", tc.want, got)
			}
		})
	}
}

func TestMapErrorKeepsUnknownErrors(t *testing.T) {
	boom := errors.New("boom")
	got := MapError("op", boom)
	if !errors.Is(got, boom) {
		t.Fatalf("expected wrapped original, got %v", got)
	}
	for _, s := range []error{ErrNotFound, ErrConflict, ErrValidation, ErrActivePlanConflict} {
		if errors.Is(got, s) {
			t.Fatalf("unexpected sentinel %v in %v", s, got)
		}
	}
	if MapError("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}
