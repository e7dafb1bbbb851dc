package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		code  string
		retry bool
	}{
		{"40001", true}, // serialization failure
		{"40P01", true}, // deadlock
		{"23505", true}, // unique violation from a lazy-creation race
		{"23502", false},
		{"23514", false},
		{"42601", false},
	}
	for _, tc := range cases {
		err := fmt.Errorf("exec: %w", &pgconn.PgError{Code: tc.code})
		require.Equal(t, tc.retry, isRetryable(err), "code %s", tc.code)
	}
}

func TestIsRetryableNonPgError(t *testing.T) {
	require.False(t, isRetryable(errors.New("connection refused")))
	require.False(t, isRetryable(nil))
}
