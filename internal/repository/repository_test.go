package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLockOrder(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	c := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	t.Run("sorted ascending", func(t *testing.T) {
		require.Equal(t, []uuid.UUID{a, b, c}, LockOrder([]uuid.UUID{c, a, b}))
	})

	t.Run("same order regardless of input order", func(t *testing.T) {
		require.Equal(t, LockOrder([]uuid.UUID{b, a}), LockOrder([]uuid.UUID{a, b}), "opposite transfers must lock in same order")
	})

	t.Run("duplicates removed", func(t *testing.T) {
		require.Equal(t, []uuid.UUID{a}, LockOrder([]uuid.UUID{a, a}))
	})

	t.Run("input not modified", func(t *testing.T) {
		in := []uuid.UUID{c, a}
		_ = LockOrder(in)
		require.Equal(t, []uuid.UUID{c, a}, in)
	})
}
