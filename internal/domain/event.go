package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a fact emitted by the vault keeper after a successful state
// change. Delivery is fire-and-forget: the keeper never fails an operation
// because an event could not be delivered.
type Event interface {
	// Kind returns the event type tag used for routing and filtering.
	Kind() string
}

// EventSink receives keeper events. Implementations fan them out to the
// redis bus, the websocket hub, and notification channels.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// DepositEvent records a successful deposit and the withdraw capability it
// minted.
type DepositEvent struct {
	FundID uuid.UUID `json:"fund_id"`
	CapID  uuid.UUID `json:"cap_id"`
	Amount uint64    `json:"amount"`
	At     time.Time `json:"at"`
}

func (DepositEvent) Kind() string { return "deposit" }

// WithdrawEvent records a successful capability redemption: the share amount
// burned, the base-asset value paid, and where it went.
type WithdrawEvent struct {
	FundID    uuid.UUID `json:"fund_id"`
	CapID     uuid.UUID `json:"cap_id"`
	Shares    uint64    `json:"shares"`
	Amount    uint64    `json:"amount"`
	Recipient string    `json:"recipient"`
	At        time.Time `json:"at"`
}

func (WithdrawEvent) Kind() string { return "withdraw" }

// ExchangeOpenedEvent records a validated order turning into an escrow
// episode.
type ExchangeOpenedEvent struct {
	FundID     uuid.UUID `json:"fund_id"`
	ExchangeID uuid.UUID `json:"exchange_id"`
	OrderID    uuid.UUID `json:"order_id"`
	HeldBase   uint64    `json:"held_base"`
	At         time.Time `json:"at"`
}

func (ExchangeOpenedEvent) Kind() string { return "exchange_opened" }

// LegExecutedEvent records one settled leg of an open exchange.
type LegExecutedEvent struct {
	FundID     uuid.UUID `json:"fund_id"`
	ExchangeID uuid.UUID `json:"exchange_id"`
	Asset      AssetID   `json:"asset"`
	Side       LegSide   `json:"side"`
	Base       uint64    `json:"base"`
	Target     uint64    `json:"target"`
	Recipient  string    `json:"recipient"`
	At         time.Time `json:"at"`
}

func (LegExecutedEvent) Kind() string { return "leg_executed" }

// ExchangeClosedEvent records a fully settled exchange and the residual
// escrow returned to the fund.
type ExchangeClosedEvent struct {
	FundID     uuid.UUID `json:"fund_id"`
	ExchangeID uuid.UUID `json:"exchange_id"`
	Residual   uint64    `json:"residual"`
	At         time.Time `json:"at"`
}

func (ExchangeClosedEvent) Kind() string { return "exchange_closed" }

// LegSide distinguishes buy and sell legs in events and settlement records.
type LegSide string

const (
	LegSideBuy  LegSide = "buy"
	LegSideSell LegSide = "sell"
)
