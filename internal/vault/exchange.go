package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

// exchangeState is one open escrow episode. The held balance is owned
// exclusively by the exchange between preparation and finish; the fund never
// touches escrowed value. All fields are guarded by the owning fund's mutex.
type exchangeState struct {
	id     uuid.UUID
	fundID uuid.UUID
	buy    map[domain.AssetID]domain.Pair
	sell   map[domain.AssetID]domain.Pair
	held   *domain.Balance
	closed bool

	createdAt time.Time
}

func (ex *exchangeState) snapshot() domain.Exchange {
	return domain.Exchange{
		ID:        ex.id,
		FundID:    ex.fundID,
		Buy:       copyLegs(ex.buy),
		Sell:      copyLegs(ex.sell),
		HeldBase:  ex.held.Value(),
		CreatedAt: ex.createdAt,
	}
}

// Exchange returns a snapshot of an open exchange.
func (k *Keeper) Exchange(exchangeID uuid.UUID) (domain.Exchange, error) {
	ex, f, err := k.exchange(exchangeID)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("vault: get exchange: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ex.closed {
		return domain.Exchange{}, fmt.Errorf("vault: get exchange: %w", domain.ErrExchangeNotFound)
	}
	return ex.snapshot(), nil
}

// ExecuteBuy settles the pending buy leg for asset: the counter-party's
// payment of the target asset is absorbed into the fund and the leg's
// base-asset price is released from escrow to the recipient. The leg is
// removed from the pending set before any value moves, so a leg can never
// settle twice; every precondition is checked before the removal, so a
// failed call leaves the leg pending.
func (k *Keeper) ExecuteBuy(ctx context.Context, exchangeID, fundID uuid.UUID, asset domain.AssetID, payment *domain.Balance, recipient string) (*domain.Balance, error) {
	ex, f, err := k.boundExchange(exchangeID, fundID)
	if err != nil {
		return nil, fmt.Errorf("vault: execute buy: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if ex.closed {
		return nil, fmt.Errorf("vault: execute buy: %w", domain.ErrExchangeNotFound)
	}
	pair, ok := ex.buy[asset]
	if !ok {
		return nil, fmt.Errorf("vault: execute buy: no pending buy leg for %s: %w", asset, domain.ErrPairNotFound)
	}
	if ex.held.Value() < pair.Base {
		return nil, fmt.Errorf("vault: execute buy: escrow %d below leg price %d: %w",
			ex.held.Value(), pair.Base, domain.ErrInsufficientReserve)
	}
	// Over-payment is accepted (the surplus accrues to the fund);
	// under-payment is rejected.
	if payment.Value() < pair.Target {
		return nil, fmt.Errorf("vault: execute buy: payment %d below %d %s: %w",
			payment.Value(), pair.Target, asset, domain.ErrInvalidExecution)
	}
	bal, ok := f.balances[asset]
	if !ok {
		return nil, fmt.Errorf("vault: execute buy: %s: %w", asset, domain.ErrAssetNotFound)
	}
	if !bal.CanJoin(payment.Value()) {
		return nil, fmt.Errorf("vault: execute buy: %w", domain.ErrBalanceOverflow)
	}

	delete(ex.buy, asset)
	released, err := ex.held.Split(pair.Base)
	if err != nil {
		return nil, fmt.Errorf("vault: execute buy: %w", err)
	}
	_ = bal.Join(payment)
	f.updatedAt = time.Now().UTC()

	k.emit(ctx, domain.LegExecutedEvent{
		FundID:     f.id,
		ExchangeID: ex.id,
		Asset:      asset,
		Side:       domain.LegSideBuy,
		Base:       pair.Base,
		Target:     pair.Target,
		Recipient:  recipient,
		At:         f.updatedAt,
	})
	return released, nil
}

// ExecuteSell settles the pending sell leg for asset: the counter-party's
// base-asset payment is absorbed into the fund directly (not through escrow)
// and the leg's target amount of the asset is split out of the fund for the
// recipient.
func (k *Keeper) ExecuteSell(ctx context.Context, exchangeID, fundID uuid.UUID, asset domain.AssetID, payment *domain.Balance, recipient string) (*domain.Balance, error) {
	ex, f, err := k.boundExchange(exchangeID, fundID)
	if err != nil {
		return nil, fmt.Errorf("vault: execute sell: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if ex.closed {
		return nil, fmt.Errorf("vault: execute sell: %w", domain.ErrExchangeNotFound)
	}
	pair, ok := ex.sell[asset]
	if !ok {
		return nil, fmt.Errorf("vault: execute sell: no pending sell leg for %s: %w", asset, domain.ErrPairNotFound)
	}
	if payment.Value() < pair.Base {
		return nil, fmt.Errorf("vault: execute sell: payment %d below %d: %w",
			payment.Value(), pair.Base, domain.ErrInvalidExecution)
	}
	bal, ok := f.balances[asset]
	if !ok {
		return nil, fmt.Errorf("vault: execute sell: %s: %w", asset, domain.ErrAssetNotFound)
	}
	if bal.Value() < pair.Target {
		return nil, fmt.Errorf("vault: execute sell: fund holds %d of %d %s: %w",
			bal.Value(), pair.Target, asset, domain.ErrInsufficientBalance)
	}
	base := f.balances[f.baseAsset]
	if !base.CanJoin(payment.Value()) {
		return nil, fmt.Errorf("vault: execute sell: %w", domain.ErrBalanceOverflow)
	}

	delete(ex.sell, asset)
	_ = base.Join(payment)
	paid, err := bal.Split(pair.Target)
	if err != nil {
		return nil, fmt.Errorf("vault: execute sell: %w", err)
	}
	if f.pendingSellBase >= pair.Base {
		f.pendingSellBase -= pair.Base
	} else {
		f.pendingSellBase = 0
	}
	f.updatedAt = time.Now().UTC()

	k.emit(ctx, domain.LegExecutedEvent{
		FundID:     f.id,
		ExchangeID: ex.id,
		Asset:      asset,
		Side:       domain.LegSideSell,
		Base:       pair.Base,
		Target:     pair.Target,
		Recipient:  recipient,
		At:         f.updatedAt,
	})
	return paid, nil
}

// FinishExchange closes a fully settled exchange, returning any residual
// escrowed base-asset to the fund. Residual arises because executed sells
// route their proceeds into the fund directly, leaving escrow holding only
// base-asset that buy legs never claimed.
func (k *Keeper) FinishExchange(ctx context.Context, exchangeID, fundID uuid.UUID) (uint64, error) {
	ex, f, err := k.boundExchange(exchangeID, fundID)
	if err != nil {
		return 0, fmt.Errorf("vault: finish exchange: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if ex.closed {
		return 0, fmt.Errorf("vault: finish exchange: %w", domain.ErrExchangeNotFound)
	}
	if len(ex.buy) > 0 || len(ex.sell) > 0 {
		return 0, fmt.Errorf("vault: finish exchange: %d buy and %d sell legs pending: %w",
			len(ex.buy), len(ex.sell), domain.ErrOrderRemains)
	}

	residual := ex.held.Value()
	base := f.balances[f.baseAsset]
	if !base.CanJoin(residual) {
		return 0, fmt.Errorf("vault: finish exchange: %w", domain.ErrBalanceOverflow)
	}
	_ = base.Join(ex.held)
	ex.closed = true
	f.updatedAt = time.Now().UTC()

	k.mu.Lock()
	delete(k.exchanges, exchangeID)
	k.mu.Unlock()

	k.emit(ctx, domain.ExchangeClosedEvent{
		FundID:     f.id,
		ExchangeID: ex.id,
		Residual:   residual,
		At:         f.updatedAt,
	})
	return residual, nil
}

// exchange resolves an exchange and its owning fund.
func (k *Keeper) exchange(exchangeID uuid.UUID) (*exchangeState, *fundState, error) {
	k.mu.RLock()
	ex, ok := k.exchanges[exchangeID]
	k.mu.RUnlock()
	if !ok {
		return nil, nil, domain.ErrExchangeNotFound
	}
	f, err := k.fund(ex.fundID)
	if err != nil {
		return nil, nil, err
	}
	return ex, f, nil
}

// boundExchange resolves an exchange and verifies it belongs to fundID.
func (k *Keeper) boundExchange(exchangeID, fundID uuid.UUID) (*exchangeState, *fundState, error) {
	ex, _, err := k.exchange(exchangeID)
	if err != nil {
		return nil, nil, err
	}
	if ex.fundID != fundID {
		return nil, nil, fmt.Errorf("exchange belongs to fund %s: %w", ex.fundID, domain.ErrFundMismatch)
	}
	f, err := k.fund(fundID)
	if err != nil {
		return nil, nil, err
	}
	return ex, f, nil
}
