package postgres

import (
	"errors"
	"fmt"
	"testing"

	"clinicq/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapPgErrorRetryableCodes(t *testing.T) {
	cases := []struct {
		name string
		code string
	}{
		{"serialization failure", "40001"},
		{"deadlock detected", "40P01"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapPgError(&pgconn.PgError{Code: tc.code, Message: tc.name})
			if !errors.Is(err, store.ErrConflict) {
				t.Fatalf("code %s: expected ErrConflict, got %v", tc.code, err)
			}
		})
	}
}

func TestMapPgErrorWrappedConflict(t *testing.T) {
	wrapped := fmt.Errorf("update turn: %w", &pgconn.PgError{Code: "40001"})
	if !errors.Is(mapPgError(wrapped), store.ErrConflict) {
		t.Fatalf("wrapped serialization failure not mapped to ErrConflict")
	}
}

func TestMapPgErrorPassesThroughOtherErrors(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	if got := mapPgError(unique); got != unique {
		t.Fatalf("expected unique violation to pass through, got %v", got)
	}

	plain := errors.New("connection reset")
	if got := mapPgError(plain); got != plain {
		t.Fatalf("expected plain error to pass through, got %v", got)
	}
}
