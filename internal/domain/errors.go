package domain

import "errors"

var (
	// ErrFundNotFound is returned when a referenced fund does not exist.
	ErrFundNotFound = errors.New("fund not found")

	// ErrFundMismatch is returned when a capability, order, or exchange
	// references a different fund than the one being operated on.
	ErrFundMismatch = errors.New("fund mismatch")

	// ErrCapabilityNotFound is returned when a presented capability has
	// already been consumed or was never minted by the fund.
	ErrCapabilityNotFound = errors.New("capability not found")

	// ErrInsufficientDeposit is returned when a deposit does not exceed the
	// fund's minimum deposit threshold.
	ErrInsufficientDeposit = errors.New("insufficient deposit")

	// ErrInsufficientReserve is returned when an operation would breach the
	// fund's solvency or reserve invariant.
	ErrInsufficientReserve = errors.New("insufficient reserve")

	// ErrInvalidOrder is returned on a structural order violation, such as
	// overlapping buy and sell asset sets.
	ErrInvalidOrder = errors.New("invalid order")

	// ErrAssetNotFound is returned when a referenced asset type is not
	// registered with the fund.
	ErrAssetNotFound = errors.New("asset not registered")

	// ErrInvalidExecution is returned when a settlement payment is smaller
	// than the amount the leg requires.
	ErrInvalidExecution = errors.New("invalid execution payment")

	// ErrPairNotFound is returned when a leg execution has no matching
	// pending leg on the exchange.
	ErrPairNotFound = errors.New("exchange pair not found")

	// ErrOrderRemains is returned when closing an exchange that still has
	// pending legs.
	ErrOrderRemains = errors.New("exchange has pending legs")

	// ErrZeroValue is returned when a zero value is supplied where a
	// positive value is required.
	ErrZeroValue = errors.New("zero value")

	// ErrOrderNotFound is returned when a referenced order does not exist or
	// was already turned into an exchange.
	ErrOrderNotFound = errors.New("order not found")

	// ErrExchangeNotFound is returned when a referenced exchange does not
	// exist or was already closed.
	ErrExchangeNotFound = errors.New("exchange not found")

	// ErrInsufficientBalance is returned by Balance.Split when the requested
	// amount exceeds the balance value.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrBalanceOverflow is returned when joining balances or minting shares
	// would overflow the 64-bit value range.
	ErrBalanceOverflow = errors.New("balance overflow")

	// ErrNotFound is the generic store-level miss, mapped from the backing
	// database by the store implementations.
	ErrNotFound = errors.New("not found")

	// ErrLockHeld is returned when a distributed lock is already held.
	ErrLockHeld = errors.New("lock already held")
)
