package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

func mustTradeCap(t *testing.T, k *Keeper, fundID uuid.UUID) domain.TradeCap {
	t.Helper()
	tc, err := k.GrantTrade(fundID, uuid.New())
	if err != nil {
		t.Fatalf("grant trade: %v", err)
	}
	return tc
}

func mustOrder(t *testing.T, k *Keeper, fundID uuid.UUID, buy, sell map[domain.AssetID]domain.Pair) domain.Order {
	t.Helper()
	tc := mustTradeCap(t, k, fundID)
	o, err := k.CreateOrder(context.Background(), fundID, tc, buy, sell)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func mustPrepare(t *testing.T, k *Keeper, fundID uuid.UUID, buy, sell map[domain.AssetID]domain.Pair) domain.Exchange {
	t.Helper()
	o := mustOrder(t, k, fundID, buy, sell)
	ex, err := k.PrepareExchange(context.Background(), fundID, o.ID)
	if err != nil {
		t.Fatalf("prepare exchange: %v", err)
	}
	return ex
}

// acquire runs a single-leg buy so the fund ends up holding amount of asset.
func acquire(t *testing.T, k *Keeper, fundID uuid.UUID, asset domain.AssetID, amount, price uint64) {
	t.Helper()
	ctx := context.Background()
	ex := mustPrepare(t, k, fundID, map[domain.AssetID]domain.Pair{
		asset: {Base: price, Target: amount},
	}, nil)
	if _, err := k.ExecuteBuy(ctx, ex.ID, fundID, asset, domain.NewBalance(amount), "dealer"); err != nil {
		t.Fatalf("execute buy: %v", err)
	}
	if _, err := k.FinishExchange(ctx, ex.ID, fundID); err != nil {
		t.Fatalf("finish exchange: %v", err)
	}
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes the trade capability", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 1_000)
		k.RegisterAsset(f.ID, "A")

		tc := mustTradeCap(t, k, f.ID)
		legs := map[domain.AssetID]domain.Pair{"A": {Base: 10, Target: 1}}
		if _, err := k.CreateOrder(ctx, f.ID, tc, legs, nil); err != nil {
			t.Fatalf("create order: %v", err)
		}
		if _, err := k.CreateOrder(ctx, f.ID, tc, legs, nil); !errors.Is(err, domain.ErrCapabilityNotFound) {
			t.Fatalf("reuse err = %v, want ErrCapabilityNotFound", err)
		}
	})

	t.Run("capability from another fund is rejected", func(t *testing.T) {
		k := newTestKeeper(t)
		a := mustFund(t, k, 10)
		b := mustFund(t, k, 10)
		tc := mustTradeCap(t, k, a.ID)

		legs := map[domain.AssetID]domain.Pair{"A": {Base: 10, Target: 1}}
		if _, err := k.CreateOrder(ctx, b.ID, tc, legs, nil); !errors.Is(err, domain.ErrFundMismatch) {
			t.Fatalf("err = %v, want ErrFundMismatch", err)
		}
	})

	t.Run("needs at least one leg", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		tc := mustTradeCap(t, k, f.ID)
		if _, err := k.CreateOrder(ctx, f.ID, tc, nil, nil); !errors.Is(err, domain.ErrInvalidOrder) {
			t.Fatalf("err = %v, want ErrInvalidOrder", err)
		}
	})

	t.Run("rejects an empty pair", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		tc := mustTradeCap(t, k, f.ID)
		legs := map[domain.AssetID]domain.Pair{"A": {}}
		if _, err := k.CreateOrder(ctx, f.ID, tc, legs, nil); !errors.Is(err, domain.ErrZeroValue) {
			t.Fatalf("err = %v, want ErrZeroValue", err)
		}
	})
}

func TestPrepareExchange(t *testing.T) {
	ctx := context.Background()

	t.Run("escrows the buy-side spend", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 1_000_000)
		k.RegisterAsset(f.ID, "B")

		ex := mustPrepare(t, k, f.ID, map[domain.AssetID]domain.Pair{
			"B": {Base: 5_000, Target: 100},
		}, nil)
		if ex.HeldBase != 5_000 {
			t.Fatalf("held = %d, want 5000", ex.HeldBase)
		}
		snap, _ := k.Fund(f.ID)
		if snap.Balances[baseAsset] != 995_000 {
			t.Fatalf("balance = %d, want 995000", snap.Balances[baseAsset])
		}
	})

	t.Run("asset on both sides is rejected", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 1_000)
		k.RegisterAsset(f.ID, "A")

		o := mustOrder(t, k, f.ID,
			map[domain.AssetID]domain.Pair{"A": {Base: 10, Target: 1}},
			map[domain.AssetID]domain.Pair{"A": {Base: 10, Target: 1}},
		)
		if _, err := k.PrepareExchange(ctx, f.ID, o.ID); !errors.Is(err, domain.ErrInvalidOrder) {
			t.Fatalf("err = %v, want ErrInvalidOrder", err)
		}
	})

	t.Run("unregistered asset is rejected", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 1_000)

		o := mustOrder(t, k, f.ID, map[domain.AssetID]domain.Pair{"A": {Base: 10, Target: 1}}, nil)
		if _, err := k.PrepareExchange(ctx, f.ID, o.ID); !errors.Is(err, domain.ErrAssetNotFound) {
			t.Fatalf("err = %v, want ErrAssetNotFound", err)
		}
	})

	t.Run("spend plus reserve must be covered", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 100)
		k.RegisterAsset(f.ID, "A")

		o := mustOrder(t, k, f.ID, map[domain.AssetID]domain.Pair{"A": {Base: 95, Target: 1}}, nil)
		if _, err := k.PrepareExchange(ctx, f.ID, o.ID); !errors.Is(err, domain.ErrInsufficientReserve) {
			t.Fatalf("err = %v, want ErrInsufficientReserve", err)
		}
	})

	t.Run("expected sell proceeds count toward solvency", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 100)
		k.RegisterAsset(f.ID, "A")
		k.RegisterAsset(f.ID, "B")

		// Spend 95 + reserve 10 = 105 > balance 100, but the sell leg promises
		// 5 more, so the forward-looking check passes.
		ex := mustPrepare(t, k, f.ID,
			map[domain.AssetID]domain.Pair{"A": {Base: 95, Target: 1}},
			map[domain.AssetID]domain.Pair{"B": {Base: 5, Target: 1}},
		)
		if ex.HeldBase != 95 {
			t.Fatalf("held = %d, want 95", ex.HeldBase)
		}
		snap, _ := k.Fund(f.ID)
		if snap.PendingSellBase != 5 {
			t.Fatalf("pending sell base = %d, want 5", snap.PendingSellBase)
		}
	})

	t.Run("order is consumed", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 1_000)
		k.RegisterAsset(f.ID, "A")

		o := mustOrder(t, k, f.ID, map[domain.AssetID]domain.Pair{"A": {Base: 10, Target: 1}}, nil)
		if _, err := k.PrepareExchange(ctx, f.ID, o.ID); err != nil {
			t.Fatalf("prepare: %v", err)
		}
		if _, err := k.PrepareExchange(ctx, f.ID, o.ID); !errors.Is(err, domain.ErrOrderNotFound) {
			t.Fatalf("second prepare err = %v, want ErrOrderNotFound", err)
		}
	})

	t.Run("order placed against another fund", func(t *testing.T) {
		k := newTestKeeper(t)
		a := mustFund(t, k, 10)
		b := mustFund(t, k, 10)
		mustDeposit(t, k, a.ID, 1_000)
		mustDeposit(t, k, b.ID, 1_000)
		k.RegisterAsset(a.ID, "A")

		o := mustOrder(t, k, a.ID, map[domain.AssetID]domain.Pair{"A": {Base: 10, Target: 1}}, nil)
		if _, err := k.PrepareExchange(ctx, b.ID, o.ID); !errors.Is(err, domain.ErrFundMismatch) {
			t.Fatalf("err = %v, want ErrFundMismatch", err)
		}
	})
}

func TestExchangeLifecycle(t *testing.T) {
	ctx := context.Background()

	k := newTestKeeper(t)
	f := mustFund(t, k, 10)
	mustDeposit(t, k, f.ID, 1_001_000)
	k.RegisterAsset(f.ID, "A")
	k.RegisterAsset(f.ID, "B")

	// Acquire 50 A for 1000 base so the sell leg below has inventory.
	acquire(t, k, f.ID, "A", 50, 1_000)
	snap, _ := k.Fund(f.ID)
	if snap.Balances[baseAsset] != 1_000_000 || snap.Balances["A"] != 50 {
		t.Fatalf("after acquire: base=%d A=%d", snap.Balances[baseAsset], snap.Balances["A"])
	}

	// Buy 100 B for 5000 base, sell 50 A for 2500 base.
	ex := mustPrepare(t, k, f.ID,
		map[domain.AssetID]domain.Pair{"B": {Base: 5_000, Target: 100}},
		map[domain.AssetID]domain.Pair{"A": {Base: 2_500, Target: 50}},
	)
	snap, _ = k.Fund(f.ID)
	if snap.Balances[baseAsset] != 995_000 {
		t.Fatalf("escrow not taken: base=%d", snap.Balances[baseAsset])
	}

	// Finishing with pending legs must fail.
	if _, err := k.FinishExchange(ctx, ex.ID, f.ID); !errors.Is(err, domain.ErrOrderRemains) {
		t.Fatalf("early finish err = %v, want ErrOrderRemains", err)
	}

	// Settle the buy leg: 100 B comes in, 5000 base released from escrow.
	released, err := k.ExecuteBuy(ctx, ex.ID, f.ID, "B", domain.NewBalance(100), "dealer")
	if err != nil {
		t.Fatalf("execute buy: %v", err)
	}
	if released.Value() != 5_000 {
		t.Fatalf("released %d, want 5000", released.Value())
	}

	// Settle the sell leg: 2500 base comes in, 50 A paid out.
	paid, err := k.ExecuteSell(ctx, ex.ID, f.ID, "A", domain.NewBalance(2_500), "dealer")
	if err != nil {
		t.Fatalf("execute sell: %v", err)
	}
	if paid.Value() != 50 {
		t.Fatalf("paid %d A, want 50", paid.Value())
	}

	residual, err := k.FinishExchange(ctx, ex.ID, f.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if residual != 0 {
		t.Fatalf("residual = %d, want 0", residual)
	}

	snap, _ = k.Fund(f.ID)
	if snap.Balances[baseAsset] != 997_500 {
		t.Fatalf("base = %d, want 997500", snap.Balances[baseAsset])
	}
	if snap.Balances["A"] != 0 || snap.Balances["B"] != 100 {
		t.Fatalf("A=%d B=%d, want 0/100", snap.Balances["A"], snap.Balances["B"])
	}
	if snap.PendingSellBase != 0 {
		t.Fatalf("pending sell base = %d, want 0", snap.PendingSellBase)
	}

	// The exchange is gone once finished.
	if _, err := k.Exchange(ex.ID); !errors.Is(err, domain.ErrExchangeNotFound) {
		t.Fatalf("lookup after finish err = %v, want ErrExchangeNotFound", err)
	}
}

func TestExecuteBuy(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Keeper, uuid.UUID, domain.Exchange) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 1_000_000)
		k.RegisterAsset(f.ID, "B")
		ex := mustPrepare(t, k, f.ID, map[domain.AssetID]domain.Pair{
			"B": {Base: 5_000, Target: 100},
		}, nil)
		return k, f.ID, ex
	}

	t.Run("underpayment is rejected", func(t *testing.T) {
		k, fundID, ex := setup(t)
		if _, err := k.ExecuteBuy(ctx, ex.ID, fundID, "B", domain.NewBalance(99), "dealer"); !errors.Is(err, domain.ErrInvalidExecution) {
			t.Fatalf("err = %v, want ErrInvalidExecution", err)
		}
		// The leg stays pending after the rejected payment.
		if _, err := k.ExecuteBuy(ctx, ex.ID, fundID, "B", domain.NewBalance(100), "dealer"); err != nil {
			t.Fatalf("retry: %v", err)
		}
	})

	t.Run("overpayment accrues to the fund", func(t *testing.T) {
		k, fundID, ex := setup(t)
		if _, err := k.ExecuteBuy(ctx, ex.ID, fundID, "B", domain.NewBalance(120), "dealer"); err != nil {
			t.Fatalf("execute buy: %v", err)
		}
		snap, _ := k.Fund(fundID)
		if snap.Balances["B"] != 120 {
			t.Fatalf("B = %d, want 120", snap.Balances["B"])
		}
	})

	t.Run("no matching leg", func(t *testing.T) {
		k, fundID, ex := setup(t)
		if _, err := k.ExecuteBuy(ctx, ex.ID, fundID, "C", domain.NewBalance(100), "dealer"); !errors.Is(err, domain.ErrPairNotFound) {
			t.Fatalf("err = %v, want ErrPairNotFound", err)
		}
	})

	t.Run("leg settles exactly once", func(t *testing.T) {
		k, fundID, ex := setup(t)
		if _, err := k.ExecuteBuy(ctx, ex.ID, fundID, "B", domain.NewBalance(100), "dealer"); err != nil {
			t.Fatalf("execute buy: %v", err)
		}
		if _, err := k.ExecuteBuy(ctx, ex.ID, fundID, "B", domain.NewBalance(100), "dealer"); !errors.Is(err, domain.ErrPairNotFound) {
			t.Fatalf("replay err = %v, want ErrPairNotFound", err)
		}
	})

	t.Run("exchange is bound to its fund", func(t *testing.T) {
		k, _, ex := setup(t)
		other := mustFund(t, k, 10)
		if _, err := k.ExecuteBuy(ctx, ex.ID, other.ID, "B", domain.NewBalance(100), "dealer"); !errors.Is(err, domain.ErrFundMismatch) {
			t.Fatalf("err = %v, want ErrFundMismatch", err)
		}
	})
}

func TestExecuteSell(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, inventory uint64) (*Keeper, uuid.UUID, domain.Exchange) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 1_000_000)
		k.RegisterAsset(f.ID, "A")
		if inventory > 0 {
			acquire(t, k, f.ID, "A", inventory, 1_000)
		}
		ex := mustPrepare(t, k, f.ID, nil, map[domain.AssetID]domain.Pair{
			"A": {Base: 2_500, Target: 50},
		})
		return k, f.ID, ex
	}

	t.Run("pays out the sold asset", func(t *testing.T) {
		k, fundID, ex := setup(t, 50)
		paid, err := k.ExecuteSell(ctx, ex.ID, fundID, "A", domain.NewBalance(2_500), "dealer")
		if err != nil {
			t.Fatalf("execute sell: %v", err)
		}
		if paid.Value() != 50 {
			t.Fatalf("paid %d, want 50", paid.Value())
		}
	})

	t.Run("underpayment is rejected", func(t *testing.T) {
		k, fundID, ex := setup(t, 50)
		if _, err := k.ExecuteSell(ctx, ex.ID, fundID, "A", domain.NewBalance(2_499), "dealer"); !errors.Is(err, domain.ErrInvalidExecution) {
			t.Fatalf("err = %v, want ErrInvalidExecution", err)
		}
	})

	t.Run("fund must hold the sold amount", func(t *testing.T) {
		k, fundID, ex := setup(t, 49)
		if _, err := k.ExecuteSell(ctx, ex.ID, fundID, "A", domain.NewBalance(2_500), "dealer"); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("err = %v, want ErrInsufficientBalance", err)
		}
	})
}

func TestFinishExchange(t *testing.T) {
	ctx := context.Background()

	t.Run("sell-only exchange finishes with no residual", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 10_000)
		k.RegisterAsset(f.ID, "A")
		acquire(t, k, f.ID, "A", 50, 1_000)

		ex := mustPrepare(t, k, f.ID, nil, map[domain.AssetID]domain.Pair{
			"A": {Base: 2_500, Target: 50},
		})
		if _, err := k.ExecuteSell(ctx, ex.ID, f.ID, "A", domain.NewBalance(2_500), "dealer"); err != nil {
			t.Fatalf("execute sell: %v", err)
		}
		residual, err := k.FinishExchange(ctx, ex.ID, f.ID)
		if err != nil {
			t.Fatalf("finish: %v", err)
		}
		if residual != 0 {
			t.Fatalf("residual = %d, want 0", residual)
		}
	})

	t.Run("double finish", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		mustDeposit(t, k, f.ID, 10_000)
		k.RegisterAsset(f.ID, "B")

		ex := mustPrepare(t, k, f.ID, map[domain.AssetID]domain.Pair{
			"B": {Base: 1_000, Target: 10},
		}, nil)
		if _, err := k.ExecuteBuy(ctx, ex.ID, f.ID, "B", domain.NewBalance(10), "dealer"); err != nil {
			t.Fatalf("execute buy: %v", err)
		}
		if _, err := k.FinishExchange(ctx, ex.ID, f.ID); err != nil {
			t.Fatalf("finish: %v", err)
		}
		if _, err := k.FinishExchange(ctx, ex.ID, f.ID); !errors.Is(err, domain.ErrExchangeNotFound) {
			t.Fatalf("second finish err = %v, want ErrExchangeNotFound", err)
		}
	})
}
