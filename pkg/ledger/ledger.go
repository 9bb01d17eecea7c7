// Package ledger implements the per-(user, currency) balance model of
// spec.md §4.2, generalized from the teacher's
// pkg/app/core/account.AccountManager: an in-memory cache in front of
// the persistence gateway, locked by a small stripe of mutexes instead
// of the teacher's single sync.RWMutex so unrelated users don't
// serialize against each other.
package ledger

import (
	"hash/fnv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/davidting0918/vegaexchange/pkg/storage"
	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

const stripes = 32

// AccountType distinguishes the simulated wallets a user can hold
// balances in. VegaExchange has exactly one today (spot), but the
// column exists per spec.md §6 for future account classes.
const AccountType = "spot"

type balanceKey struct {
	userID   string
	currency string
}

// Ledger caches balances in memory and mirrors every mutation through
// the persistence gateway inside the caller's transaction.
type Ledger struct {
	mus   [stripes]sync.Mutex
	cache map[balanceKey]*storage.BalanceRow
	cmu   sync.RWMutex
}

// New creates an empty ledger cache; entries populate lazily from
// storage on first access.
func New() *Ledger {
	return &Ledger{cache: make(map[balanceKey]*storage.BalanceRow)}
}

func stripeFor(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32()) % stripes
}

func (l *Ledger) lock(userID string) func() {
	idx := stripeFor(userID)
	l.mus[idx].Lock()
	return l.mus[idx].Unlock
}

func (l *Ledger) load(tx *storage.Tx, userID, currency string) (*storage.BalanceRow, error) {
	key := balanceKey{userID, currency}

	l.cmu.RLock()
	row, ok := l.cache[key]
	l.cmu.RUnlock()
	if ok {
		return row, nil
	}

	loaded, err := tx.GetBalance(AccountType, userID, currency)
	if err != nil {
		return nil, err
	}

	l.cmu.Lock()
	l.cache[key] = &loaded
	l.cmu.Unlock()
	return &loaded, nil
}

func (l *Ledger) store(userID, currency string, row *storage.BalanceRow) {
	l.cmu.Lock()
	l.cache[balanceKey{userID, currency}] = row
	l.cmu.Unlock()
}

// GetBalance returns (available, locked) for a user/currency pair,
// zero if absent.
func (l *Ledger) GetBalance(tx *storage.Tx, userID, currency string) (decimal.Decimal, decimal.Decimal, error) {
	unlock := l.lock(userID)
	defer unlock()

	row, err := l.load(tx, userID, currency)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return row.Available, row.Locked, nil
}

// Credit adds amount to available, creating the row if missing.
func (l *Ledger) Credit(tx *storage.Tx, userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return vegaerr.InvalidAmount("credit amount must be positive")
	}
	unlock := l.lock(userID)
	defer unlock()

	row, err := l.load(tx, userID, currency)
	if err != nil {
		return err
	}
	row.Available = row.Available.Add(amount)
	if err := tx.UpsertBalance(*row); err != nil {
		return err
	}
	l.store(userID, currency, row)
	return nil
}

// Debit removes amount from available. Fails with InsufficientFunds if
// available is too small.
func (l *Ledger) Debit(tx *storage.Tx, userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return vegaerr.InvalidAmount("debit amount must be positive")
	}
	unlock := l.lock(userID)
	defer unlock()

	row, err := l.load(tx, userID, currency)
	if err != nil {
		return err
	}
	if row.Available.LessThan(amount) {
		return vegaerr.InsufficientFunds("insufficient available balance")
	}
	row.Available = row.Available.Sub(amount)
	if err := tx.UpsertBalance(*row); err != nil {
		return err
	}
	l.store(userID, currency, row)
	return nil
}

// Lock moves amount from available to locked.
func (l *Ledger) Lock(tx *storage.Tx, userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return vegaerr.InvalidAmount("lock amount must be positive")
	}
	unlock := l.lock(userID)
	defer unlock()

	row, err := l.load(tx, userID, currency)
	if err != nil {
		return err
	}
	if row.Available.LessThan(amount) {
		return vegaerr.InsufficientFunds("insufficient available balance to lock")
	}
	row.Available = row.Available.Sub(amount)
	row.Locked = row.Locked.Add(amount)
	if err := tx.UpsertBalance(*row); err != nil {
		return err
	}
	l.store(userID, currency, row)
	return nil
}

// Unlock moves amount from locked back to available.
func (l *Ledger) Unlock(tx *storage.Tx, userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return vegaerr.InvalidAmount("unlock amount must be positive")
	}
	unlock := l.lock(userID)
	defer unlock()

	row, err := l.load(tx, userID, currency)
	if err != nil {
		return err
	}
	if row.Locked.LessThan(amount) {
		return vegaerr.InvariantViolation("cannot unlock more than locked")
	}
	row.Locked = row.Locked.Sub(amount)
	row.Available = row.Available.Add(amount)
	if err := tx.UpsertBalance(*row); err != nil {
		return err
	}
	l.store(userID, currency, row)
	return nil
}

// Settle removes amount from locked without crediting anywhere (the
// caller credits the counterparty's available separately, see
// Transfer for the common debit+credit shape).
func (l *Ledger) Settle(tx *storage.Tx, userID, currency string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return vegaerr.InvalidAmount("settle amount must be positive")
	}
	unlock := l.lock(userID)
	defer unlock()

	row, err := l.load(tx, userID, currency)
	if err != nil {
		return err
	}
	if row.Locked.LessThan(amount) {
		return vegaerr.InvariantViolation("cannot settle more than locked")
	}
	row.Locked = row.Locked.Sub(amount)
	if err := tx.UpsertBalance(*row); err != nil {
		return err
	}
	l.store(userID, currency, row)
	return nil
}

// Transfer atomically debits fromUser and credits toUser. Locking order
// is fixed (debit before credit) since both run inside the caller's
// single storage transaction, which already serializes the statements.
func (l *Ledger) Transfer(tx *storage.Tx, fromUser, toUser, currency string, amount decimal.Decimal) error {
	if err := l.Debit(tx, fromUser, currency, amount); err != nil {
		return err
	}
	return l.Credit(tx, toUser, currency, amount)
}

// SettleToUser removes amount from fromUser's locked balance and
// credits toUser's available balance — the CLOB match-loop shape of
// "settle quote from taker's locked to maker's available" (spec.md §4.5).
func (l *Ledger) SettleToUser(tx *storage.Tx, fromUser, toUser, currency string, amount decimal.Decimal) error {
	if err := l.Settle(tx, fromUser, currency, amount); err != nil {
		return err
	}
	return l.Credit(tx, toUser, currency, amount)
}
