package domain

import "github.com/google/uuid"

// WithdrawCap entitles its holder to redeem a fixed share amount from one
// specific fund. It is minted by deposit with amount equal to the deposited
// value and is one-shot: redemption deletes the keeper's record, so a second
// presentation of the same capability fails deterministically.
//
// The capability itself is inert data. Every authorization decision happens
// at the redemption site by comparing FundID against the fund being operated
// on and by consulting the minting fund's capability table.
type WithdrawCap struct {
	ID     uuid.UUID `json:"id"`
	FundID uuid.UUID `json:"fund_id"`
	Amount uint64    `json:"amount"`
}

// TradeCap authorizes one trader to submit one order against one fund. It is
// consumed when the order is created, which both prevents reuse and binds the
// order's provenance to the trader the capability was granted to.
type TradeCap struct {
	ID       uuid.UUID `json:"id"`
	FundID   uuid.UUID `json:"fund_id"`
	TraderID uuid.UUID `json:"trader_id"`
}
