package domain

import (
	"math/bits"
	"time"

	"github.com/google/uuid"
)

// Policy overrides a fund's fixed reserve floor with a percentage-of-shares
// minimum: the fund must retain at least MinReservePct * shares / 100 of the
// base asset after any prospective spend.
type Policy struct {
	MinReservePct uint64 `json:"min_reserve_pct"`
}

// Fund is a read-only snapshot of a pooled-asset vault. The authoritative,
// mutable state lives inside the vault keeper; snapshots are what cross the
// API boundary and what the fund store persists.
type Fund struct {
	ID           uuid.UUID          `json:"id"`
	BaseAsset    AssetID            `json:"base_asset"`
	Shares       uint64             `json:"shares"`
	ReserveFloor uint64             `json:"reserve_floor"`
	Policy       *Policy            `json:"policy,omitempty"`
	Balances     map[AssetID]uint64 `json:"balances"`

	// PendingSellBase is the base-asset amount promised by sell legs of open
	// exchanges but not yet received. While it is non-zero the fund may sit
	// below its reserve; completed sells restore it.
	PendingSellBase uint64 `json:"pending_sell_base"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reserve returns the minimum base-asset balance the fund must retain: the
// policy-derived percentage of shares when a policy is set, otherwise the
// fixed reserve floor.
func (f Fund) Reserve() uint64 {
	return ReserveFor(f.Policy, f.Shares, f.ReserveFloor)
}

// ReserveFor computes pct * shares / 100 through a 128-bit intermediate so
// the product cannot silently overflow. pct is validated to be at most 100 at
// policy-update time, which both bounds the result by shares and keeps the
// division high word below the divisor. A nil policy falls back to the fixed
// floor.
func ReserveFor(p *Policy, shares, floor uint64) uint64 {
	if p == nil {
		return floor
	}
	hi, lo := bits.Mul64(p.MinReservePct, shares)
	q, _ := bits.Div64(hi, lo, 100)
	return q
}
