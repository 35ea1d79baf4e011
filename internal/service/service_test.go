package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
	"github.com/harborfund/vaultd/internal/token"
	"github.com/harborfund/vaultd/internal/vault"
)

const baseAsset = domain.AssetID("USD")

func newTestServices(t *testing.T) (*VaultService, *TradeService) {
	t.Helper()
	codec, err := token.NewCodec("test-secret", "test-salt")
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	keeper := vault.New(nil, nil)
	vs := NewVaultService(keeper, codec, nil, nil, nil, nil, 0, nil)
	ts := NewTradeService(keeper, codec, nil, nil, nil, nil, nil, 0, nil)
	return vs, ts
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	ctx := context.Background()
	vs, _ := newTestServices(t)

	fund, err := vs.CreateFund(ctx, baseAsset, 0)
	if err != nil {
		t.Fatalf("CreateFund: %v", err)
	}

	tok, wc, err := vs.Deposit(ctx, fund.ID, 1_000)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if tok == "" {
		t.Fatal("Deposit returned empty token")
	}
	if wc.Amount != 1_000 {
		t.Fatalf("minted shares = %d, want 1000", wc.Amount)
	}

	paid, err := vs.Withdraw(ctx, fund.ID, tok, "alice")
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if paid != 1_000 {
		t.Fatalf("Withdraw paid %d, want 1000", paid)
	}

	// The token is single-use.
	if _, err := vs.Withdraw(ctx, fund.ID, tok, "alice"); !errors.Is(err, domain.ErrCapabilityNotFound) {
		t.Fatalf("second Withdraw err = %v, want ErrCapabilityNotFound", err)
	}
}

func TestWithdrawRejectsTamperedToken(t *testing.T) {
	ctx := context.Background()
	vs, _ := newTestServices(t)

	fund, err := vs.CreateFund(ctx, baseAsset, 0)
	if err != nil {
		t.Fatalf("CreateFund: %v", err)
	}
	tok, _, err := vs.Deposit(ctx, fund.ID, 500)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	tampered := tok[:len(tok)-2] + "xx"
	if _, err := vs.Withdraw(ctx, fund.ID, tampered, "mallory"); err == nil {
		t.Fatal("Withdraw accepted a tampered token")
	}
}

func TestWithdrawRejectsWrongFund(t *testing.T) {
	ctx := context.Background()
	vs, _ := newTestServices(t)

	fundA, err := vs.CreateFund(ctx, baseAsset, 0)
	if err != nil {
		t.Fatalf("CreateFund A: %v", err)
	}
	fundB, err := vs.CreateFund(ctx, baseAsset, 0)
	if err != nil {
		t.Fatalf("CreateFund B: %v", err)
	}

	tok, _, err := vs.Deposit(ctx, fundA.ID, 500)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if _, err := vs.Withdraw(ctx, fundB.ID, tok, "alice"); !errors.Is(err, domain.ErrFundMismatch) {
		t.Fatalf("Withdraw err = %v, want ErrFundMismatch", err)
	}

	// The capability survives the failed attempt.
	if _, err := vs.Withdraw(ctx, fundA.ID, tok, "alice"); err != nil {
		t.Fatalf("Withdraw against the right fund: %v", err)
	}
}

func TestTradeLifecycleThroughServices(t *testing.T) {
	ctx := context.Background()
	vs, ts := newTestServices(t)

	fund, err := vs.CreateFund(ctx, baseAsset, 0)
	if err != nil {
		t.Fatalf("CreateFund: %v", err)
	}
	if _, _, err := vs.Deposit(ctx, fund.ID, 100_000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := vs.RegisterAsset(ctx, fund.ID, "BTC"); err != nil {
		t.Fatalf("RegisterAsset: %v", err)
	}

	trader := uuid.New()
	capTok, _, err := ts.GrantTrade(ctx, fund.ID, trader)
	if err != nil {
		t.Fatalf("GrantTrade: %v", err)
	}

	buy := map[domain.AssetID]domain.Pair{
		"BTC": {Base: 5_000, Target: 2},
	}
	order, err := ts.SubmitOrder(ctx, fund.ID, capTok, buy, nil)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	if order.TraderID != trader {
		t.Fatalf("order trader = %s, want %s", order.TraderID, trader)
	}

	// The capability token is single-use.
	if _, err := ts.SubmitOrder(ctx, fund.ID, capTok, buy, nil); !errors.Is(err, domain.ErrCapabilityNotFound) {
		t.Fatalf("second SubmitOrder err = %v, want ErrCapabilityNotFound", err)
	}

	ex, err := ts.PrepareExchange(ctx, fund.ID, order.ID)
	if err != nil {
		t.Fatalf("PrepareExchange: %v", err)
	}
	if ex.HeldBase != 5_000 {
		t.Fatalf("escrow = %d, want 5000", ex.HeldBase)
	}

	released, err := ts.ExecuteBuy(ctx, ex.ID, fund.ID, "BTC", 2, "maker")
	if err != nil {
		t.Fatalf("ExecuteBuy: %v", err)
	}
	if released != 5_000 {
		t.Fatalf("released = %d, want 5000", released)
	}

	residual, err := ts.FinishExchange(ctx, ex.ID, fund.ID)
	if err != nil {
		t.Fatalf("FinishExchange: %v", err)
	}
	if residual != 0 {
		t.Fatalf("residual = %d, want 0", residual)
	}

	fundAfter, err := vs.GetFund(ctx, fund.ID)
	if err != nil {
		t.Fatalf("GetFund: %v", err)
	}
	if got := fundAfter.Balances[baseAsset]; got != 95_000 {
		t.Fatalf("base balance = %d, want 95000", got)
	}
	if got := fundAfter.Balances["BTC"]; got != 2 {
		t.Fatalf("BTC balance = %d, want 2", got)
	}

	if _, err := ts.GetExchange(ctx, ex.ID); !errors.Is(err, domain.ErrExchangeNotFound) {
		t.Fatalf("GetExchange after finish err = %v, want ErrExchangeNotFound", err)
	}
}

func TestSubmitOrderRejectsWithdrawToken(t *testing.T) {
	ctx := context.Background()
	vs, ts := newTestServices(t)

	fund, err := vs.CreateFund(ctx, baseAsset, 0)
	if err != nil {
		t.Fatalf("CreateFund: %v", err)
	}
	withdrawTok, _, err := vs.Deposit(ctx, fund.ID, 100)
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	buy := map[domain.AssetID]domain.Pair{baseAsset: {Base: 1, Target: 1}}
	if _, err := ts.SubmitOrder(ctx, fund.ID, withdrawTok, buy, nil); !errors.Is(err, token.ErrWrongKind) {
		t.Fatalf("SubmitOrder err = %v, want token.ErrWrongKind", err)
	}
}
