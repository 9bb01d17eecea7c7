package util

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/davidting0918/vegaexchange/pkg/vegaerr"
)

const maxIDRetries = 16

// ExistsFunc reports whether a candidate id is already in use. Callers
// supply this from the persistence gateway so id minting stays storage
// agnostic.
type ExistsFunc func(id string) (bool, error)

// NewUserID mints a 6-digit random numeric string, retrying on collision
// per spec.md §4.1.
func NewUserID(exists ExistsFunc) (string, error) {
	for i := 0; i < maxIDRetries; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
		if err != nil {
			return "", vegaerr.Wrap(vegaerr.Transient, vegaerr.CodeStorageError, err)
		}
		candidate := fmt.Sprintf("%06d", n.Int64())
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", vegaerr.IDCollisionExhausted()
}

// NewPoolID mints a "0x" + 40 hex character pool id, retrying on collision.
func NewPoolID(exists ExistsFunc) (string, error) {
	for i := 0; i < maxIDRetries; i++ {
		buf := make([]byte, 20)
		if _, err := rand.Read(buf); err != nil {
			return "", vegaerr.Wrap(vegaerr.Transient, vegaerr.CodeStorageError, err)
		}
		candidate := fmt.Sprintf("0x%x", buf)
		taken, err := exists(candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", vegaerr.IDCollisionExhausted()
}

// newTimestampID mints a 13-digit millisecond timestamp id, incrementing
// by 1 on collision until unique (spec.md §4.1), instead of re-rolling.
func newTimestampID(exists ExistsFunc) (string, error) {
	candidate := time.Now().UnixMilli()
	for i := 0; i < maxIDRetries; i++ {
		id := fmt.Sprintf("%013d", candidate)
		taken, err := exists(id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
		candidate++
	}
	return "", vegaerr.IDCollisionExhausted()
}

// NewOrderID mints a 13-digit millisecond timestamp order id.
func NewOrderID(exists ExistsFunc) (string, error) { return newTimestampID(exists) }

// NewTradeID mints a 13-digit millisecond timestamp trade id.
func NewTradeID(exists ExistsFunc) (string, error) { return newTimestampID(exists) }
