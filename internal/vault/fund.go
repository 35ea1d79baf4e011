package vault

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

// fundState is the authoritative, mutable state of one fund. All fields
// below mu are guarded by it, including the capability tables: a capability
// lives in the table of the fund that minted it, so consuming one serializes
// on the same lock as the value it entitles.
type fundState struct {
	mu sync.Mutex

	id           uuid.UUID
	baseAsset    domain.AssetID
	shares       uint64
	reserveFloor uint64
	policy       *domain.Policy
	balances     map[domain.AssetID]*domain.Balance

	// pendingSellBase tracks base-asset promised by open exchanges' sell
	// legs but not yet received. Informational only; solvency checks
	// recompute from the legs themselves.
	pendingSellBase uint64

	withdrawCaps map[uuid.UUID]domain.WithdrawCap
	tradeCaps    map[uuid.UUID]domain.TradeCap

	createdAt time.Time
	updatedAt time.Time
}

// reserve returns the minimum base-asset balance the fund must retain.
func (f *fundState) reserve() uint64 {
	return domain.ReserveFor(f.policy, f.shares, f.reserveFloor)
}

// snapshot copies the fund state into an immutable view. Caller must hold
// f.mu.
func (f *fundState) snapshot() domain.Fund {
	balances := make(map[domain.AssetID]uint64, len(f.balances))
	for asset, b := range f.balances {
		balances[asset] = b.Value()
	}
	var policy *domain.Policy
	if f.policy != nil {
		p := *f.policy
		policy = &p
	}
	return domain.Fund{
		ID:              f.id,
		BaseAsset:       f.baseAsset,
		Shares:          f.shares,
		ReserveFloor:    f.reserveFloor,
		Policy:          policy,
		Balances:        balances,
		PendingSellBase: f.pendingSellBase,
		CreatedAt:       f.createdAt,
		UpdatedAt:       f.updatedAt,
	}
}

// Deposit joins payment into the fund's base-asset balance and mints a
// withdraw capability for the deposited value, growing total shares 1:1.
// The deposit must strictly exceed the fund's fixed reserve floor.
func (k *Keeper) Deposit(ctx context.Context, fundID uuid.UUID, payment *domain.Balance) (domain.WithdrawCap, error) {
	f, err := k.fund(fundID)
	if err != nil {
		return domain.WithdrawCap{}, fmt.Errorf("vault: deposit: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	v := payment.Value()
	if v == 0 {
		return domain.WithdrawCap{}, fmt.Errorf("vault: deposit: %w", domain.ErrZeroValue)
	}
	if v <= f.reserveFloor {
		return domain.WithdrawCap{}, fmt.Errorf("vault: deposit of %d does not exceed reserve floor %d: %w",
			v, f.reserveFloor, domain.ErrInsufficientDeposit)
	}
	if f.shares > math.MaxUint64-v {
		return domain.WithdrawCap{}, fmt.Errorf("vault: deposit: share mint: %w", domain.ErrBalanceOverflow)
	}
	base := f.balances[f.baseAsset]
	if !base.CanJoin(v) {
		return domain.WithdrawCap{}, fmt.Errorf("vault: deposit: %w", domain.ErrBalanceOverflow)
	}

	// All preconditions hold; move the value and mint.
	_ = base.Join(payment)
	wc := domain.WithdrawCap{ID: uuid.New(), FundID: f.id, Amount: v}
	f.withdrawCaps[wc.ID] = wc
	f.shares += v
	f.updatedAt = time.Now().UTC()

	k.emit(ctx, domain.DepositEvent{
		FundID: f.id,
		CapID:  wc.ID,
		Amount: v,
		At:     f.updatedAt,
	})
	return wc, nil
}

// Withdraw redeems a withdraw capability against the fund, paying out the
// capability's proportional claim on the base-asset balance:
//
//	redeemable = floor(baseBalance * capAmount / totalShares)
//
// Truncation means the last units of value can remain as dust that accrues
// to later withdrawers. A partial redemption must leave the reserve behind;
// redeeming all outstanding shares liquidates the fund and is exempt from
// the reserve check. The capability is destroyed on success and remains
// valid when the operation fails.
func (k *Keeper) Withdraw(ctx context.Context, fundID uuid.UUID, wc domain.WithdrawCap, recipient string) (*domain.Balance, error) {
	f, err := k.fund(fundID)
	if err != nil {
		return nil, fmt.Errorf("vault: withdraw: %w", err)
	}
	if wc.FundID != fundID {
		return nil, fmt.Errorf("vault: withdraw: capability minted by fund %s: %w",
			wc.FundID, domain.ErrFundMismatch)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.withdrawCaps[wc.ID]
	if !ok {
		return nil, fmt.Errorf("vault: withdraw: %w", domain.ErrCapabilityNotFound)
	}

	base := f.balances[f.baseAsset]
	redeemable := proportional(base.Value(), stored.Amount, f.shares)

	if stored.Amount < f.shares {
		res := f.reserve()
		if base.Value() < res || redeemable > base.Value()-res {
			return nil, fmt.Errorf("vault: withdraw of %d would breach reserve %d: %w",
				redeemable, res, domain.ErrInsufficientReserve)
		}
	}

	paid, err := base.Split(redeemable)
	if err != nil {
		return nil, fmt.Errorf("vault: withdraw: %w", err)
	}
	f.shares -= stored.Amount
	delete(f.withdrawCaps, wc.ID)
	f.updatedAt = time.Now().UTC()

	k.emit(ctx, domain.WithdrawEvent{
		FundID:    f.id,
		CapID:     stored.ID,
		Shares:    stored.Amount,
		Amount:    redeemable,
		Recipient: recipient,
		At:        f.updatedAt,
	})
	return paid, nil
}

// proportional computes floor(balance * amount / shares) through a 128-bit
// intermediate. amount <= shares always holds at the call site, which keeps
// the quotient within 64 bits.
func proportional(balance, amount, shares uint64) uint64 {
	hi, lo := bits.Mul64(balance, amount)
	q, _ := bits.Div64(hi, lo, shares)
	return q
}
