package domain

import (
	"time"

	"github.com/google/uuid"
)

// Pair is one leg of an order: Base is the base-asset amount and Target the
// amount of the leg's asset. A buy leg spends Base to acquire Target; a sell
// leg gives up Target to receive Base.
type Pair struct {
	Base   uint64 `json:"base"`
	Target uint64 `json:"target"`
}

// Order is a proposed multi-asset trade awaiting validation. It is created by
// consuming a TradeCap and is itself consumed when validation turns it into
// an Exchange. Buy and sell asset sets must be disjoint.
type Order struct {
	ID       uuid.UUID        `json:"id"`
	FundID   uuid.UUID        `json:"fund_id"`
	TraderID uuid.UUID        `json:"trader_id"`
	Buy      map[AssetID]Pair `json:"buy"`
	Sell     map[AssetID]Pair `json:"sell"`

	CreatedAt time.Time `json:"created_at"`
}

// Exchange is a read-only snapshot of an escrow episode: the pending legs and
// the base-asset value held on their behalf. The escrowed balance is owned
// exclusively by the exchange until it is finished.
type Exchange struct {
	ID       uuid.UUID        `json:"id"`
	FundID   uuid.UUID        `json:"fund_id"`
	Buy      map[AssetID]Pair `json:"buy"`
	Sell     map[AssetID]Pair `json:"sell"`
	HeldBase uint64           `json:"held_base"`

	CreatedAt time.Time `json:"created_at"`
}

// Settled reports whether every leg has executed, i.e. the exchange may be
// finished.
func (e Exchange) Settled() bool {
	return len(e.Buy) == 0 && len(e.Sell) == 0
}
