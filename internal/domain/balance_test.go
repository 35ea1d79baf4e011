package domain

import (
	"errors"
	"math"
	"testing"
)

func TestBalanceSplitJoin(t *testing.T) {
	t.Run("split moves value out", func(t *testing.T) {
		b := NewBalance(100)
		part, err := b.Split(30)
		if err != nil {
			t.Fatalf("split: %v", err)
		}
		if part.Value() != 30 || b.Value() != 70 {
			t.Fatalf("got part=%d rest=%d, want 30/70", part.Value(), b.Value())
		}
	})

	t.Run("split beyond value fails and leaves balance intact", func(t *testing.T) {
		b := NewBalance(10)
		if _, err := b.Split(11); !errors.Is(err, ErrInsufficientBalance) {
			t.Fatalf("err = %v, want ErrInsufficientBalance", err)
		}
		if b.Value() != 10 {
			t.Fatalf("balance mutated on failed split: %d", b.Value())
		}
	})

	t.Run("join drains the source", func(t *testing.T) {
		a, b := NewBalance(40), NewBalance(2)
		if err := a.Join(b); err != nil {
			t.Fatalf("join: %v", err)
		}
		if a.Value() != 42 || b.Value() != 0 {
			t.Fatalf("got a=%d b=%d, want 42/0", a.Value(), b.Value())
		}
	})

	t.Run("join overflow leaves both untouched", func(t *testing.T) {
		a, b := NewBalance(math.MaxUint64), NewBalance(1)
		if err := a.Join(b); !errors.Is(err, ErrBalanceOverflow) {
			t.Fatalf("err = %v, want ErrBalanceOverflow", err)
		}
		if a.Value() != math.MaxUint64 || b.Value() != 1 {
			t.Fatalf("balances mutated on failed join: %d/%d", a.Value(), b.Value())
		}
	})

	t.Run("value is conserved across split and join", func(t *testing.T) {
		b := NewBalance(1000)
		p1, _ := b.Split(333)
		p2, _ := b.Split(1)
		_ = b.Join(p2)
		_ = b.Join(p1)
		if b.Value() != 1000 {
			t.Fatalf("conservation broken: %d", b.Value())
		}
	})
}

func TestReserveFor(t *testing.T) {
	t.Run("nil policy uses the fixed floor", func(t *testing.T) {
		if got := ReserveFor(nil, 1_000_000, 250); got != 250 {
			t.Fatalf("reserve = %d, want 250", got)
		}
	})

	t.Run("policy percentage of shares", func(t *testing.T) {
		p := &Policy{MinReservePct: 60}
		if got := ReserveFor(p, 200, 10); got != 120 {
			t.Fatalf("reserve = %d, want 120", got)
		}
	})

	t.Run("truncates toward zero", func(t *testing.T) {
		p := &Policy{MinReservePct: 33}
		if got := ReserveFor(p, 10, 0); got != 3 {
			t.Fatalf("reserve = %d, want 3", got)
		}
	})

	t.Run("no overflow at extreme shares", func(t *testing.T) {
		p := &Policy{MinReservePct: 100}
		if got := ReserveFor(p, math.MaxUint64, 0); got != math.MaxUint64 {
			t.Fatalf("reserve = %d, want MaxUint64", got)
		}
	})
}

func TestExchangeSettled(t *testing.T) {
	e := Exchange{
		Buy:  map[AssetID]Pair{"A": {Base: 1, Target: 1}},
		Sell: map[AssetID]Pair{},
	}
	if e.Settled() {
		t.Fatal("exchange with pending buy leg reported settled")
	}
	delete(e.Buy, "A")
	if !e.Settled() {
		t.Fatal("exchange with no legs not reported settled")
	}
}
