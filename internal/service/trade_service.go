package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
	"github.com/harborfund/vaultd/internal/token"
	"github.com/harborfund/vaultd/internal/vault"
)

// TradeService drives the trading side of the vault: trade-capability
// issuance, order submission, exchange preparation, and leg settlement.
//
// Preparation and settlement take a distributed lock per fund or exchange so
// that multiple service instances never race on the same exchange. Within a
// single process the keeper's fund locks already serialize everything; the
// distributed lock only matters for the multi-instance deployment shape.
type TradeService struct {
	keeper      *vault.Keeper
	codec       *token.Codec
	funds       domain.FundStore
	settlements domain.SettlementStore
	audit       domain.AuditStore
	locks       domain.LockManager
	notifier    Notifier
	lockTTL     time.Duration

	logger *slog.Logger
}

// NewTradeService creates a TradeService. funds, settlements, audit, locks,
// and notifier may be nil; the corresponding side effects are skipped.
func NewTradeService(
	keeper *vault.Keeper,
	codec *token.Codec,
	funds domain.FundStore,
	settlements domain.SettlementStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	notifier Notifier,
	lockTTL time.Duration,
	logger *slog.Logger,
) *TradeService {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &TradeService{
		keeper:      keeper,
		codec:       codec,
		funds:       funds,
		settlements: settlements,
		audit:       audit,
		locks:       locks,
		notifier:    notifier,
		lockTTL:     lockTTL,
		logger:      logger,
	}
}

// GrantTrade mints a trade capability for traderID against the fund and
// returns it as a signed bearer token.
func (s *TradeService) GrantTrade(ctx context.Context, fundID, traderID uuid.UUID) (string, domain.TradeCap, error) {
	tc, err := s.keeper.GrantTrade(fundID, traderID)
	if err != nil {
		return "", domain.TradeCap{}, fmt.Errorf("trade_service: grant trade: %w", err)
	}

	tok, err := s.codec.EncodeTrade(tc)
	if err != nil {
		return "", domain.TradeCap{}, fmt.Errorf("trade_service: grant trade token: %w", err)
	}

	s.auditLog(ctx, "trade_granted", map[string]any{
		"fund_id":   fundID.String(),
		"trader_id": traderID.String(),
		"cap_id":    tc.ID.String(),
	})
	return tok, tc, nil
}

// SubmitOrder redeems a trade-capability token and records the proposed legs
// as a pending order.
func (s *TradeService) SubmitOrder(ctx context.Context, fundID uuid.UUID, capToken string, buy, sell map[domain.AssetID]domain.Pair) (domain.Order, error) {
	tc, err := s.codec.DecodeTrade(capToken)
	if err != nil {
		return domain.Order{}, fmt.Errorf("trade_service: submit order: %w", err)
	}

	order, err := s.keeper.CreateOrder(ctx, fundID, tc, buy, sell)
	if err != nil {
		return domain.Order{}, fmt.Errorf("trade_service: submit order: %w", err)
	}

	s.logger.InfoContext(ctx, "order submitted",
		slog.String("fund_id", fundID.String()),
		slog.String("order_id", order.ID.String()),
		slog.String("trader_id", order.TraderID.String()),
		slog.Int("buy_legs", len(order.Buy)),
		slog.Int("sell_legs", len(order.Sell)),
	)
	return order, nil
}

// PrepareExchange validates the pending order and escrows its buy-side spend
// into a new exchange.
func (s *TradeService) PrepareExchange(ctx context.Context, fundID, orderID uuid.UUID) (domain.Exchange, error) {
	unlock, err := s.lock(ctx, "fund:"+fundID.String())
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("trade_service: prepare exchange: %w", err)
	}
	defer unlock()

	ex, err := s.keeper.PrepareExchange(ctx, fundID, orderID)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("trade_service: prepare exchange: %w", err)
	}

	s.refreshFund(ctx, fundID)
	s.auditLog(ctx, "exchange_opened", map[string]any{
		"fund_id":     fundID.String(),
		"order_id":    orderID.String(),
		"exchange_id": ex.ID.String(),
		"held_base":   ex.HeldBase,
	})

	s.logger.InfoContext(ctx, "exchange prepared",
		slog.String("fund_id", fundID.String()),
		slog.String("exchange_id", ex.ID.String()),
		slog.Uint64("held_base", ex.HeldBase),
	)
	return ex, nil
}

// ExecuteBuy settles a pending buy leg and returns the base-asset amount
// released from escrow to the recipient.
func (s *TradeService) ExecuteBuy(ctx context.Context, exchangeID, fundID uuid.UUID, asset domain.AssetID, payment uint64, recipient string) (uint64, error) {
	unlock, err := s.lock(ctx, "exchange:"+exchangeID.String())
	if err != nil {
		return 0, fmt.Errorf("trade_service: execute buy: %w", err)
	}
	defer unlock()

	released, err := s.keeper.ExecuteBuy(ctx, exchangeID, fundID, asset, domain.NewBalance(payment), recipient)
	if err != nil {
		return 0, fmt.Errorf("trade_service: execute buy: %w", err)
	}

	s.recordSettlement(ctx, exchangeID, fundID, asset, domain.LegSideBuy, released.Value(), payment, recipient)
	s.refreshFund(ctx, fundID)
	return released.Value(), nil
}

// ExecuteSell settles a pending sell leg and returns the asset amount paid
// out of the fund to the recipient.
func (s *TradeService) ExecuteSell(ctx context.Context, exchangeID, fundID uuid.UUID, asset domain.AssetID, payment uint64, recipient string) (uint64, error) {
	unlock, err := s.lock(ctx, "exchange:"+exchangeID.String())
	if err != nil {
		return 0, fmt.Errorf("trade_service: execute sell: %w", err)
	}
	defer unlock()

	paid, err := s.keeper.ExecuteSell(ctx, exchangeID, fundID, asset, domain.NewBalance(payment), recipient)
	if err != nil {
		return 0, fmt.Errorf("trade_service: execute sell: %w", err)
	}

	s.recordSettlement(ctx, exchangeID, fundID, asset, domain.LegSideSell, payment, paid.Value(), recipient)
	s.refreshFund(ctx, fundID)
	return paid.Value(), nil
}

// FinishExchange closes a fully settled exchange, returning the residual
// escrow that flowed back to the fund.
func (s *TradeService) FinishExchange(ctx context.Context, exchangeID, fundID uuid.UUID) (uint64, error) {
	unlock, err := s.lock(ctx, "exchange:"+exchangeID.String())
	if err != nil {
		return 0, fmt.Errorf("trade_service: finish exchange: %w", err)
	}
	defer unlock()

	residual, err := s.keeper.FinishExchange(ctx, exchangeID, fundID)
	if err != nil {
		return 0, fmt.Errorf("trade_service: finish exchange: %w", err)
	}

	s.refreshFund(ctx, fundID)
	s.auditLog(ctx, "exchange_closed", map[string]any{
		"fund_id":     fundID.String(),
		"exchange_id": exchangeID.String(),
		"residual":    residual,
	})

	if s.notifier != nil {
		if nErr := s.notifier.Notify(ctx, "exchange_closed", "Exchange settled",
			fmt.Sprintf("exchange %s on fund %s closed, residual %d", exchangeID, fundID, residual)); nErr != nil {
			s.logger.WarnContext(ctx, "exchange notification failed",
				slog.String("error", nErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "exchange finished",
		slog.String("fund_id", fundID.String()),
		slog.String("exchange_id", exchangeID.String()),
		slog.Uint64("residual", residual),
	)
	return residual, nil
}

// GetExchange returns the snapshot of an open exchange.
func (s *TradeService) GetExchange(ctx context.Context, exchangeID uuid.UUID) (domain.Exchange, error) {
	ex, err := s.keeper.Exchange(exchangeID)
	if err != nil {
		return domain.Exchange{}, fmt.Errorf("trade_service: get exchange: %w", err)
	}
	return ex, nil
}

// ListSettlements returns the persisted settlement history for a fund.
func (s *TradeService) ListSettlements(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	if s.settlements == nil {
		return nil, nil
	}
	recs, err := s.settlements.ListByFund(ctx, fundID, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list settlements: %w", err)
	}
	return recs, nil
}

// lock acquires the distributed lock for key, or a no-op unlock when no lock
// manager is configured.
func (s *TradeService) lock(ctx context.Context, key string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}
	return s.locks.Acquire(ctx, key, s.lockTTL)
}

// recordSettlement persists one executed leg, best-effort.
func (s *TradeService) recordSettlement(ctx context.Context, exchangeID, fundID uuid.UUID, asset domain.AssetID, side domain.LegSide, base, target uint64, recipient string) {
	if s.settlements == nil {
		return
	}
	rec := domain.SettlementRecord{
		ExchangeID: exchangeID,
		FundID:     fundID,
		Asset:      asset,
		Side:       side,
		Base:       base,
		Target:     target,
		Recipient:  recipient,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.settlements.Insert(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "settlement record insert failed",
			slog.String("exchange_id", exchangeID.String()),
			slog.String("asset", string(asset)),
			slog.String("error", err.Error()),
		)
	}
}

// refreshFund re-reads the live snapshot and persists it, best-effort.
func (s *TradeService) refreshFund(ctx context.Context, fundID uuid.UUID) {
	if s.funds == nil {
		return
	}
	fund, err := s.keeper.Fund(fundID)
	if err != nil {
		return
	}
	if err := s.funds.Upsert(ctx, fund); err != nil {
		s.logger.WarnContext(ctx, "fund snapshot upsert failed",
			slog.String("fund_id", fundID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog writes an audit entry, best-effort.
func (s *TradeService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
