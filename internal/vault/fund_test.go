package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

const baseAsset = domain.AssetID("USD")

func newTestKeeper(t *testing.T) *Keeper {
	t.Helper()
	return New(nil, nil)
}

func mustFund(t *testing.T, k *Keeper, floor uint64) domain.Fund {
	t.Helper()
	f, err := k.CreateFund(baseAsset, floor)
	if err != nil {
		t.Fatalf("create fund: %v", err)
	}
	return f
}

func mustDeposit(t *testing.T, k *Keeper, fundID uuid.UUID, amount uint64) domain.WithdrawCap {
	t.Helper()
	wc, err := k.Deposit(context.Background(), fundID, domain.NewBalance(amount))
	if err != nil {
		t.Fatalf("deposit %d: %v", amount, err)
	}
	return wc
}

func TestDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("mints a capability and shares one to one", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)

		wc := mustDeposit(t, k, f.ID, 1_000_000)
		if wc.FundID != f.ID || wc.Amount != 1_000_000 {
			t.Fatalf("cap = %+v, want fund %s amount 1000000", wc, f.ID)
		}

		snap, err := k.Fund(f.ID)
		if err != nil {
			t.Fatalf("get fund: %v", err)
		}
		if snap.Shares != 1_000_000 || snap.Balances[baseAsset] != 1_000_000 {
			t.Fatalf("shares=%d balance=%d, want 1000000/1000000", snap.Shares, snap.Balances[baseAsset])
		}
	})

	t.Run("must strictly exceed the reserve floor", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)

		for _, amount := range []uint64{9, 10} {
			if _, err := k.Deposit(ctx, f.ID, domain.NewBalance(amount)); !errors.Is(err, domain.ErrInsufficientDeposit) {
				t.Fatalf("deposit %d: err = %v, want ErrInsufficientDeposit", amount, err)
			}
		}
		if _, err := k.Deposit(ctx, f.ID, domain.NewBalance(11)); err != nil {
			t.Fatalf("deposit 11: %v", err)
		}
	})

	t.Run("rejects zero value", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 0)
		if _, err := k.Deposit(ctx, f.ID, domain.NewBalance(0)); !errors.Is(err, domain.ErrZeroValue) {
			t.Fatalf("err = %v, want ErrZeroValue", err)
		}
	})

	t.Run("unknown fund", func(t *testing.T) {
		k := newTestKeeper(t)
		if _, err := k.Deposit(ctx, uuid.New(), domain.NewBalance(100)); !errors.Is(err, domain.ErrFundNotFound) {
			t.Fatalf("err = %v, want ErrFundNotFound", err)
		}
	})
}

func TestWithdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("sole depositor redeems everything", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		wc := mustDeposit(t, k, f.ID, 1_000_000)

		paid, err := k.Withdraw(ctx, f.ID, wc, "alice")
		if err != nil {
			t.Fatalf("withdraw: %v", err)
		}
		if paid.Value() != 1_000_000 {
			t.Fatalf("paid %d, want 1000000", paid.Value())
		}

		snap, _ := k.Fund(f.ID)
		if snap.Shares != 0 || snap.Balances[baseAsset] != 0 {
			t.Fatalf("fund not emptied: shares=%d balance=%d", snap.Shares, snap.Balances[baseAsset])
		}
	})

	t.Run("payout is proportional to shares", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		alice := mustDeposit(t, k, f.ID, 1_000_000)
		bob := mustDeposit(t, k, f.ID, 2_000_000)

		paidA, err := k.Withdraw(ctx, f.ID, alice, "alice")
		if err != nil {
			t.Fatalf("alice withdraw: %v", err)
		}
		if paidA.Value() != 1_000_000 {
			t.Fatalf("alice paid %d, want 1000000", paidA.Value())
		}

		paidB, err := k.Withdraw(ctx, f.ID, bob, "bob")
		if err != nil {
			t.Fatalf("bob withdraw: %v", err)
		}
		if paidB.Value() != 2_000_000 {
			t.Fatalf("bob paid %d, want 2000000", paidB.Value())
		}

		snap, _ := k.Fund(f.ID)
		if snap.Balances[baseAsset] != 0 {
			t.Fatalf("residue after full drain: %d", snap.Balances[baseAsset])
		}
	})

	t.Run("capability is single use", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		alice := mustDeposit(t, k, f.ID, 1_000)
		mustDeposit(t, k, f.ID, 1_000)

		if _, err := k.Withdraw(ctx, f.ID, alice, "alice"); err != nil {
			t.Fatalf("first withdraw: %v", err)
		}
		if _, err := k.Withdraw(ctx, f.ID, alice, "alice"); !errors.Is(err, domain.ErrCapabilityNotFound) {
			t.Fatalf("reuse err = %v, want ErrCapabilityNotFound", err)
		}
	})

	t.Run("capability is bound to its fund", func(t *testing.T) {
		k := newTestKeeper(t)
		a := mustFund(t, k, 10)
		b := mustFund(t, k, 10)
		wc := mustDeposit(t, k, a.ID, 1_000)
		mustDeposit(t, k, b.ID, 1_000)

		if _, err := k.Withdraw(ctx, b.ID, wc, "mallory"); !errors.Is(err, domain.ErrFundMismatch) {
			t.Fatalf("err = %v, want ErrFundMismatch", err)
		}
		// The capability survives the rejected presentation.
		if _, err := k.Withdraw(ctx, a.ID, wc, "alice"); err != nil {
			t.Fatalf("withdraw after mismatch: %v", err)
		}
	})

	t.Run("partial redemption must leave the reserve", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		alice := mustDeposit(t, k, f.ID, 100)
		mustDeposit(t, k, f.ID, 100)
		if err := k.UpdatePolicy(f.ID, 60); err != nil {
			t.Fatalf("update policy: %v", err)
		}

		// Reserve is 60% of 200 shares = 120; Alice's 100 would leave 100.
		if _, err := k.Withdraw(ctx, f.ID, alice, "alice"); !errors.Is(err, domain.ErrInsufficientReserve) {
			t.Fatalf("err = %v, want ErrInsufficientReserve", err)
		}
		// The capability survives the failed redemption.
		if err := k.UpdatePolicy(f.ID, 0); err != nil {
			t.Fatalf("relax policy: %v", err)
		}
		if _, err := k.Withdraw(ctx, f.ID, alice, "alice"); err != nil {
			t.Fatalf("withdraw after relaxing policy: %v", err)
		}
	})

	t.Run("full redemption is exempt from the reserve", func(t *testing.T) {
		k := newTestKeeper(t)
		f := mustFund(t, k, 10)
		wc := mustDeposit(t, k, f.ID, 1_000)
		if err := k.UpdatePolicy(f.ID, 100); err != nil {
			t.Fatalf("update policy: %v", err)
		}

		paid, err := k.Withdraw(ctx, f.ID, wc, "alice")
		if err != nil {
			t.Fatalf("withdraw: %v", err)
		}
		if paid.Value() != 1_000 {
			t.Fatalf("paid %d, want 1000", paid.Value())
		}
	})
}

func TestUpdatePolicy(t *testing.T) {
	k := newTestKeeper(t)
	f := mustFund(t, k, 10)

	if err := k.UpdatePolicy(f.ID, 101); err == nil {
		t.Fatal("percentage above 100 accepted")
	}
	if err := k.UpdatePolicy(f.ID, 100); err != nil {
		t.Fatalf("update policy: %v", err)
	}
	snap, _ := k.Fund(f.ID)
	if snap.Policy == nil || snap.Policy.MinReservePct != 100 {
		t.Fatalf("policy = %+v, want 100", snap.Policy)
	}
}

func TestRegisterAsset(t *testing.T) {
	k := newTestKeeper(t)
	f := mustFund(t, k, 10)

	if err := k.RegisterAsset(f.ID, "GOLD"); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Re-registering is a no-op, not an error.
	if err := k.RegisterAsset(f.ID, "GOLD"); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	snap, _ := k.Fund(f.ID)
	if v, ok := snap.Balances["GOLD"]; !ok || v != 0 {
		t.Fatalf("registered asset balance = %d/%v, want 0/true", v, ok)
	}
}

func TestProportional(t *testing.T) {
	cases := []struct {
		balance, amount, shares, want uint64
	}{
		{3_000_000, 1_000_000, 3_000_000, 1_000_000},
		{100, 1, 3, 33},   // truncation
		{10, 3, 10, 3},    // exact
		{1, 1, 2, 0},      // dust stays behind
		{1 << 63, 1 << 62, 1 << 63, 1 << 62}, // large values through 128-bit intermediate
	}
	for _, c := range cases {
		if got := proportional(c.balance, c.amount, c.shares); got != c.want {
			t.Errorf("proportional(%d, %d, %d) = %d, want %d", c.balance, c.amount, c.shares, got, c.want)
		}
	}
}
