package vault

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"time"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

// orderState wraps a pending order. The consumed flag is guarded by the
// owning fund's mutex; once set, the order can never become an exchange
// again even if a stale registry lookup races the deletion.
type orderState struct {
	order    domain.Order
	consumed bool
}

// CreateOrder consumes a trade capability and records the proposed legs as a
// pending order. Leg amounts are not validated against fund state here; all
// solvency and structural checks happen in PrepareExchange, mirroring the
// split between proposal and validation.
func (k *Keeper) CreateOrder(ctx context.Context, fundID uuid.UUID, tc domain.TradeCap, buy, sell map[domain.AssetID]domain.Pair) (domain.Order, error) {
	f, err := k.fund(fundID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("vault: create order: %w", err)
	}
	if tc.FundID != fundID {
		return domain.Order{}, fmt.Errorf("vault: create order: capability minted by fund %s: %w",
			tc.FundID, domain.ErrFundMismatch)
	}
	if len(buy)+len(sell) == 0 {
		return domain.Order{}, fmt.Errorf("vault: create order: no legs: %w", domain.ErrInvalidOrder)
	}
	for asset, pair := range buy {
		if pair.Base == 0 && pair.Target == 0 {
			return domain.Order{}, fmt.Errorf("vault: create order: empty buy leg %s: %w", asset, domain.ErrZeroValue)
		}
	}
	for asset, pair := range sell {
		if pair.Base == 0 && pair.Target == 0 {
			return domain.Order{}, fmt.Errorf("vault: create order: empty sell leg %s: %w", asset, domain.ErrZeroValue)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	stored, ok := f.tradeCaps[tc.ID]
	if !ok {
		return domain.Order{}, fmt.Errorf("vault: create order: %w", domain.ErrCapabilityNotFound)
	}
	delete(f.tradeCaps, tc.ID)

	ost := &orderState{order: domain.Order{
		ID:        uuid.New(),
		FundID:    f.id,
		TraderID:  stored.TraderID,
		Buy:       copyLegs(buy),
		Sell:      copyLegs(sell),
		CreatedAt: time.Now().UTC(),
	}}

	k.mu.Lock()
	k.orders[ost.order.ID] = ost
	k.mu.Unlock()

	return orderView(ost.order), nil
}

// PrepareExchange validates a pending order against the fund and, when every
// check passes, atomically escrows the buy-side base-asset spend into a new
// exchange and destroys the order.
//
// The solvency check is forward-looking: expected sell proceeds are credited
// before they are received, so the fund may sit below its reserve while the
// exchange is open, as long as completed sells would restore it. The actual
// escrow split is still bounded by the present balance. Nothing moves until
// every check has passed.
func (k *Keeper) PrepareExchange(ctx context.Context, fundID, orderID uuid.UUID) (domain.Exchange, error) {
	f, err := k.fund(fundID)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: %w", err)
	}
	k.mu.RLock()
	ost, ok := k.orders[orderID]
	k.mu.RUnlock()
	if !ok {
		return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: %w", domain.ErrOrderNotFound)
	}
	if ost.order.FundID != fundID {
		return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: order placed against fund %s: %w",
			ost.order.FundID, domain.ErrFundMismatch)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if ost.consumed {
		return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: %w", domain.ErrOrderNotFound)
	}

	// Structural checks: disjoint buy/sell sets, every asset registered.
	var spend uint64
	for asset, pair := range ost.order.Buy {
		if _, dup := ost.order.Sell[asset]; dup {
			return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: asset %s on both sides: %w",
				asset, domain.ErrInvalidOrder)
		}
		if _, registered := f.balances[asset]; !registered {
			return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: buy %s: %w",
				asset, domain.ErrAssetNotFound)
		}
		s, carry := bits.Add64(spend, pair.Base, 0)
		if carry != 0 {
			// The total spend cannot fit in the balance width, so the
			// escrow split could never succeed.
			return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: %w", domain.ErrInsufficientReserve)
		}
		spend = s
	}
	var recvHi, recvLo uint64
	for asset := range ost.order.Sell {
		if _, registered := f.balances[asset]; !registered {
			return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: sell %s: %w",
				asset, domain.ErrAssetNotFound)
		}
		lo, carry := bits.Add64(recvLo, ost.order.Sell[asset].Base, 0)
		recvLo = lo
		recvHi += carry
	}

	// Forward-looking solvency: balance + expected proceeds must cover the
	// spend plus the reserve. Exact 128-bit comparison, no silent overflow.
	base := f.balances[f.baseAsset]
	reserve := f.reserve()
	lhsLo, carry := bits.Add64(base.Value(), recvLo, 0)
	lhsHi := recvHi + carry
	rhsLo, rhsHi := bits.Add64(spend, reserve, 0)
	if lhsHi < rhsHi || (lhsHi == rhsHi && lhsLo < rhsLo) {
		return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: spend %d + reserve %d exceeds balance %d + expected proceeds: %w",
			spend, reserve, base.Value(), domain.ErrInsufficientReserve)
	}
	if spend > base.Value() {
		return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: spend %d exceeds balance %d: %w",
			spend, base.Value(), domain.ErrInsufficientReserve)
	}

	held, err := base.Split(spend)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("vault: prepare exchange: %w", err)
	}

	ex := &exchangeState{
		id:        uuid.New(),
		fundID:    f.id,
		buy:       ost.order.Buy,
		sell:      ost.order.Sell,
		held:      held,
		createdAt: time.Now().UTC(),
	}
	ost.consumed = true
	if f.pendingSellBase <= math.MaxUint64-recvLo && recvHi == 0 {
		f.pendingSellBase += recvLo
	} else {
		f.pendingSellBase = math.MaxUint64
	}
	f.updatedAt = ex.createdAt

	k.mu.Lock()
	delete(k.orders, orderID)
	k.exchanges[ex.id] = ex
	k.mu.Unlock()

	k.emit(ctx, domain.ExchangeOpenedEvent{
		FundID:     f.id,
		ExchangeID: ex.id,
		OrderID:    orderID,
		HeldBase:   spend,
		At:         ex.createdAt,
	})
	return ex.snapshot(), nil
}

func copyLegs(legs map[domain.AssetID]domain.Pair) map[domain.AssetID]domain.Pair {
	out := make(map[domain.AssetID]domain.Pair, len(legs))
	for asset, pair := range legs {
		out[asset] = pair
	}
	return out
}

// orderView returns a copy safe to hand to callers without aliasing the
// keeper's leg maps.
func orderView(o domain.Order) domain.Order {
	o.Buy = copyLegs(o.Buy)
	o.Sell = copyLegs(o.Sell)
	return o
}
