package domain

import "math"

// AssetID identifies an asset type held by a fund. Registration is explicit:
// a fund only carries a balance for an asset that was registered with it.
type AssetID string

// Balance is a conserved store of value for one asset type. Value never
// appears or disappears except through Split and Join, so the total across
// all Balance instances is constant for any split/join sequence.
//
// A Balance is not safe for concurrent use; the owning fund serializes
// access to it.
type Balance struct {
	amount uint64
}

// NewBalance mints a balance holding the given amount. Minting is reserved
// for system ingress points (deposits and settlement payments), where value
// genuinely enters the vault from outside.
func NewBalance(amount uint64) *Balance {
	return &Balance{amount: amount}
}

// Value returns the amount currently held.
func (b *Balance) Value() uint64 {
	return b.amount
}

// Split removes amount from b and returns it as a new Balance. It fails with
// ErrInsufficientBalance when amount exceeds the held value, leaving b
// untouched.
func (b *Balance) Split(amount uint64) (*Balance, error) {
	if amount > b.amount {
		return nil, ErrInsufficientBalance
	}
	b.amount -= amount
	return &Balance{amount: amount}, nil
}

// Join moves the entire value of other into b and empties other. It fails
// with ErrBalanceOverflow when the combined value would not fit in 64 bits,
// in which case neither balance is modified.
func (b *Balance) Join(other *Balance) error {
	if !b.CanJoin(other.amount) {
		return ErrBalanceOverflow
	}
	b.amount += other.amount
	other.amount = 0
	return nil
}

// CanJoin reports whether amount can be added to b without overflowing.
func (b *Balance) CanJoin(amount uint64) bool {
	return b.amount <= math.MaxUint64-amount
}
