package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func alwaysFree(string) (bool, error) { return false, nil }

func TestNewUserIDShapeAndUniqueness(t *testing.T) {
	id, err := NewUserID(alwaysFree)
	require.NoError(t, err)
	require.Len(t, id, 6)
	for _, r := range id {
		require.True(t, r >= '0' && r <= '9', "expected all digits, got %q", id)
	}
}

func TestNewPoolIDShape(t *testing.T) {
	id, err := NewPoolID(alwaysFree)
	require.NoError(t, err)
	require.Len(t, id, 42) // "0x" + 40 hex chars
	require.Equal(t, "0x", id[:2])
}

func TestNewOrderIDRetriesOnCollision(t *testing.T) {
	calls := 0
	exists := func(id string) (bool, error) {
		calls++
		return calls <= 2, nil // first two candidates are "taken"
	}
	id, err := NewOrderID(exists)
	require.NoError(t, err)
	require.Len(t, id, 13)
	require.Equal(t, 3, calls)
}

func TestIDCollisionExhausted(t *testing.T) {
	alwaysTaken := func(string) (bool, error) { return true, nil }
	_, err := NewUserID(alwaysTaken)
	require.Error(t, err)
}
