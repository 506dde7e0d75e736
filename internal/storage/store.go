package storage

import "github.com/olehkaliuzhnyi/wave-portal/pkg/models"

// OrderPolicy decides how a replaced wave log is ordered for display.
// It is a presentation policy; the ledger only guarantees append order.
type OrderPolicy int

const (
	// OrderNewestFirst reverses the ledger append order.
	OrderNewestFirst OrderPolicy = iota
	// OrderLedger keeps the ledger append order.
	OrderLedger
)

func (p OrderPolicy) String() string {
	switch p {
	case OrderNewestFirst:
		return "newest_first"
	case OrderLedger:
		return "ledger"
	default:
		return "unknown"
	}
}

// WaveStore caches the full wave history. It supports whole replacement only.
type WaveStore interface {
	// ReplaceAll swaps the cached sequence for records, given in ledger append order.
	ReplaceAll(records []models.WaveRecord)
	// Snapshot returns a copy of the cached sequence in display order.
	Snapshot() []models.WaveRecord
	// Len returns the number of cached records.
	Len() int
}

// NonceStore manages per-address nonce state for locally signed transactions.
type NonceStore interface {
	// Reserve returns max(floor, next local nonce) and advances the local nonce past it.
	Reserve(address string, floor uint64) (uint64, error)
	// Release hands back a reserved nonce whose transaction never reached the network.
	Release(address string, nonce uint64) error
}
