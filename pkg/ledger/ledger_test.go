package ledger

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidting0918/vegaexchange/pkg/storage"
)

// newTestGateway opens a SQLite-backed gateway at a unique temp path per
// test, mirroring the teacher's per-test database isolation.
func newTestGateway(t *testing.T) *storage.Gateway {
	dbPath := fmt.Sprintf("./tmp_test_ledger_%s.db", t.Name())
	os.RemoveAll(dbPath)
	t.Cleanup(func() { os.RemoveAll(dbPath) })

	g, err := storage.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestCreditThenGetBalance(t *testing.T) {
	store := newTestGateway(t)
	l := New()

	err := store.WithTx(context.Background(), func(tx *storage.Tx) error {
		return l.Credit(tx, "100001", "USDT", decimal.NewFromInt(1000))
	})
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(tx *storage.Tx) error {
		avail, locked, err := l.GetBalance(tx, "100001", "USDT")
		require.NoError(t, err)
		require.True(t, avail.Equal(decimal.NewFromInt(1000)))
		require.True(t, locked.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestDebitRejectsInsufficientFunds(t *testing.T) {
	store := newTestGateway(t)
	l := New()

	err := store.WithTx(context.Background(), func(tx *storage.Tx) error {
		return l.Debit(tx, "100002", "USDT", decimal.NewFromInt(10))
	})
	require.Error(t, err)
}

func TestLockThenSettleMovesLockedToSettled(t *testing.T) {
	store := newTestGateway(t)
	l := New()

	err := store.WithTx(context.Background(), func(tx *storage.Tx) error {
		if err := l.Credit(tx, "100003", "USDT", decimal.NewFromInt(500)); err != nil {
			return err
		}
		return l.Lock(tx, "100003", "USDT", decimal.NewFromInt(200))
	})
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(tx *storage.Tx) error {
		avail, locked, err := l.GetBalance(tx, "100003", "USDT")
		require.NoError(t, err)
		require.True(t, avail.Equal(decimal.NewFromInt(300)))
		require.True(t, locked.Equal(decimal.NewFromInt(200)))
		return nil
	})
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(tx *storage.Tx) error {
		return l.Settle(tx, "100003", "USDT", decimal.NewFromInt(200))
	})
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(tx *storage.Tx) error {
		_, locked, err := l.GetBalance(tx, "100003", "USDT")
		require.NoError(t, err)
		require.True(t, locked.IsZero())
		return nil
	})
	require.NoError(t, err)
}

func TestSettleMoreThanLockedIsInvariantViolation(t *testing.T) {
	store := newTestGateway(t)
	l := New()

	err := store.WithTx(context.Background(), func(tx *storage.Tx) error {
		if err := l.Credit(tx, "100004", "USDT", decimal.NewFromInt(100)); err != nil {
			return err
		}
		return l.Lock(tx, "100004", "USDT", decimal.NewFromInt(50))
	})
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(tx *storage.Tx) error {
		return l.Settle(tx, "100004", "USDT", decimal.NewFromInt(100))
	})
	require.Error(t, err)
}

func TestTransferMovesBetweenUsers(t *testing.T) {
	store := newTestGateway(t)
	l := New()

	err := store.WithTx(context.Background(), func(tx *storage.Tx) error {
		return l.Credit(tx, "100005", "USDT", decimal.NewFromInt(1000))
	})
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(tx *storage.Tx) error {
		return l.Transfer(tx, "100005", "100006", "USDT", decimal.NewFromInt(400))
	})
	require.NoError(t, err)

	err = store.WithTx(context.Background(), func(tx *storage.Tx) error {
		fromAvail, _, err := l.GetBalance(tx, "100005", "USDT")
		require.NoError(t, err)
		toAvail, _, err := l.GetBalance(tx, "100006", "USDT")
		require.NoError(t, err)
		require.True(t, fromAvail.Equal(decimal.NewFromInt(600)))
		require.True(t, toAvail.Equal(decimal.NewFromInt(400)))
		return nil
	})
	require.NoError(t, err)
}
