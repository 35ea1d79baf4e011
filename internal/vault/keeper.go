// Package vault implements the custody core: share accounting, capability
// redemption, order validation, and escrowed exchange settlement.
//
// The Keeper is the single serializing owner of all fund state. Every fund
// has its own mutex and every operation on a fund, its capabilities, its
// orders, or its exchanges runs under that mutex, so mutations are atomic
// from the caller's perspective: all preconditions are checked before any
// value moves, and a failed operation leaves no partial state behind.
// Cross-fund confusion is impossible by construction -- capabilities, orders,
// and exchanges all carry the identifier of the fund they were minted
// against, and every consumption site checks it.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

// Keeper owns every fund, pending order, and open exchange in the process.
type Keeper struct {
	mu        sync.RWMutex // guards the three registry maps only
	funds     map[uuid.UUID]*fundState
	orders    map[uuid.UUID]*orderState
	exchanges map[uuid.UUID]*exchangeState

	sink   domain.EventSink
	logger *slog.Logger
}

// New creates an empty Keeper. sink may be nil, in which case events are
// dropped (useful in tests).
func New(sink domain.EventSink, logger *slog.Logger) *Keeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		funds:     make(map[uuid.UUID]*fundState),
		orders:    make(map[uuid.UUID]*orderState),
		exchanges: make(map[uuid.UUID]*exchangeState),
		sink:      sink,
		logger:    logger.With(slog.String("component", "keeper")),
	}
}

// CreateFund registers a new fund holding baseAsset with the given fixed
// reserve floor. The base asset is registered implicitly.
func (k *Keeper) CreateFund(baseAsset domain.AssetID, reserveFloor uint64) (domain.Fund, error) {
	if baseAsset == "" {
		return domain.Fund{}, fmt.Errorf("vault: create fund: %w", domain.ErrAssetNotFound)
	}

	now := time.Now().UTC()
	f := &fundState{
		id:           uuid.New(),
		baseAsset:    baseAsset,
		reserveFloor: reserveFloor,
		balances: map[domain.AssetID]*domain.Balance{
			baseAsset: domain.NewBalance(0),
		},
		withdrawCaps: make(map[uuid.UUID]domain.WithdrawCap),
		tradeCaps:    make(map[uuid.UUID]domain.TradeCap),
		createdAt:    now,
		updatedAt:    now,
	}

	k.mu.Lock()
	k.funds[f.id] = f
	k.mu.Unlock()

	k.logger.Info("fund created",
		slog.String("fund_id", f.id.String()),
		slog.String("base_asset", string(baseAsset)),
		slog.Uint64("reserve_floor", reserveFloor),
	)
	return f.snapshot(), nil
}

// RegisterAsset adds an asset type to the fund's registry with a zero
// balance. Registering an already-registered asset is a no-op.
func (k *Keeper) RegisterAsset(fundID uuid.UUID, asset domain.AssetID) error {
	if asset == "" {
		return fmt.Errorf("vault: register asset: %w", domain.ErrAssetNotFound)
	}
	f, err := k.fund(fundID)
	if err != nil {
		return fmt.Errorf("vault: register asset: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.balances[asset]; !ok {
		f.balances[asset] = domain.NewBalance(0)
		f.updatedAt = time.Now().UTC()
	}
	return nil
}

// UpdatePolicy replaces the fund's reserve policy. The percentage must be at
// most 100; the policy-derived reserve then never exceeds total shares.
func (k *Keeper) UpdatePolicy(fundID uuid.UUID, minReservePct uint64) error {
	if minReservePct > 100 {
		return fmt.Errorf("vault: update policy: percentage must be 0-100, got %d", minReservePct)
	}
	f, err := k.fund(fundID)
	if err != nil {
		return fmt.Errorf("vault: update policy: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.policy = &domain.Policy{MinReservePct: minReservePct}
	f.updatedAt = time.Now().UTC()
	return nil
}

// GrantTrade mints a one-shot trade capability binding traderID to the fund.
// The capability is inert until an order is created from it.
func (k *Keeper) GrantTrade(fundID, traderID uuid.UUID) (domain.TradeCap, error) {
	f, err := k.fund(fundID)
	if err != nil {
		return domain.TradeCap{}, fmt.Errorf("vault: grant trade: %w", err)
	}

	tc := domain.TradeCap{ID: uuid.New(), FundID: fundID, TraderID: traderID}

	f.mu.Lock()
	f.tradeCaps[tc.ID] = tc
	f.mu.Unlock()
	return tc, nil
}

// Fund returns a snapshot of the fund's current state.
func (k *Keeper) Fund(fundID uuid.UUID) (domain.Fund, error) {
	f, err := k.fund(fundID)
	if err != nil {
		return domain.Fund{}, fmt.Errorf("vault: get fund: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot(), nil
}

// Funds returns snapshots of every fund the keeper owns.
func (k *Keeper) Funds() []domain.Fund {
	k.mu.RLock()
	states := make([]*fundState, 0, len(k.funds))
	for _, f := range k.funds {
		states = append(states, f)
	}
	k.mu.RUnlock()

	out := make([]domain.Fund, 0, len(states))
	for _, f := range states {
		f.mu.Lock()
		out = append(out, f.snapshot())
		f.mu.Unlock()
	}
	return out
}

func (k *Keeper) fund(id uuid.UUID) (*fundState, error) {
	k.mu.RLock()
	f, ok := k.funds[id]
	k.mu.RUnlock()
	if !ok {
		return nil, domain.ErrFundNotFound
	}
	return f, nil
}

// emit delivers an event to the sink, if one is attached. Delivery is
// fire-and-forget per the audit-sink contract.
func (k *Keeper) emit(ctx context.Context, e domain.Event) {
	if k.sink != nil {
		k.sink.Emit(ctx, e)
	}
}
