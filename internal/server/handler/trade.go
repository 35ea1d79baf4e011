package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

// TradeAPI defines the methods that the trade handler requires from the
// service layer.
type TradeAPI interface {
	GrantTrade(ctx context.Context, fundID, traderID uuid.UUID) (string, domain.TradeCap, error)
	SubmitOrder(ctx context.Context, fundID uuid.UUID, capToken string, buy, sell map[domain.AssetID]domain.Pair) (domain.Order, error)
	PrepareExchange(ctx context.Context, fundID, orderID uuid.UUID) (domain.Exchange, error)
	ExecuteBuy(ctx context.Context, exchangeID, fundID uuid.UUID, asset domain.AssetID, payment uint64, recipient string) (uint64, error)
	ExecuteSell(ctx context.Context, exchangeID, fundID uuid.UUID, asset domain.AssetID, payment uint64, recipient string) (uint64, error)
	FinishExchange(ctx context.Context, exchangeID, fundID uuid.UUID) (uint64, error)
	GetExchange(ctx context.Context, exchangeID uuid.UUID) (domain.Exchange, error)
	ListSettlements(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.SettlementRecord, error)
}

// TradeHandler serves trading and settlement HTTP endpoints.
type TradeHandler struct {
	trades TradeAPI
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler with the given service and logger.
func NewTradeHandler(trades TradeAPI, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		trades: trades,
		logger: logHandler(logger, "trade"),
	}
}

type grantTradeRequest struct {
	TraderID string `json:"trader_id"`
}

// GrantTrade mints a trade-capability token for a trader.
// POST /api/funds/{id}/trade-grants
func (h *TradeHandler) GrantTrade(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	var req grantTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	traderID, err := uuid.Parse(req.TraderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trader_id")
		return
	}

	tok, tc, err := h.trades.GrantTrade(r.Context(), fundID, traderID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"token":  tok,
		"cap_id": tc.ID.String(),
	})
}

type submitOrderRequest struct {
	Token string                         `json:"token"`
	Buy   map[domain.AssetID]domain.Pair `json:"buy"`
	Sell  map[domain.AssetID]domain.Pair `json:"sell"`
}

// SubmitOrder redeems a trade-capability token and records a pending order.
// POST /api/funds/{id}/orders
func (h *TradeHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	var req submitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	order, err := h.trades.SubmitOrder(r.Context(), fundID, req.Token, req.Buy, req.Sell)
	if err != nil {
		h.logger.WarnContext(r.Context(), "order rejected",
			slog.String("fund_id", fundID.String()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

type prepareExchangeRequest struct {
	FundID  string `json:"fund_id"`
	OrderID string `json:"order_id"`
}

// PrepareExchange validates a pending order and escrows its buy-side spend.
// POST /api/exchanges
func (h *TradeHandler) PrepareExchange(w http.ResponseWriter, r *http.Request) {
	var req prepareExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	fundID, err := uuid.Parse(req.FundID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund_id")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order_id")
		return
	}

	ex, err := h.trades.PrepareExchange(r.Context(), fundID, orderID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "prepare exchange rejected",
			slog.String("fund_id", fundID.String()),
			slog.String("order_id", orderID.String()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

// GetExchange returns the snapshot of an open exchange.
// GET /api/exchanges/{id}
func (h *TradeHandler) GetExchange(w http.ResponseWriter, r *http.Request) {
	exchangeID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exchange id")
		return
	}

	ex, err := h.trades.GetExchange(r.Context(), exchangeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ex)
}

type executeLegRequest struct {
	FundID    string `json:"fund_id"`
	Asset     string `json:"asset"`
	Payment   uint64 `json:"payment"`
	Recipient string `json:"recipient"`
}

// ExecuteBuy settles a pending buy leg.
// POST /api/exchanges/{id}/buy
func (h *TradeHandler) ExecuteBuy(w http.ResponseWriter, r *http.Request) {
	h.executeLeg(w, r, h.trades.ExecuteBuy, "released")
}

// ExecuteSell settles a pending sell leg.
// POST /api/exchanges/{id}/sell
func (h *TradeHandler) ExecuteSell(w http.ResponseWriter, r *http.Request) {
	h.executeLeg(w, r, h.trades.ExecuteSell, "paid")
}

func (h *TradeHandler) executeLeg(
	w http.ResponseWriter,
	r *http.Request,
	exec func(ctx context.Context, exchangeID, fundID uuid.UUID, asset domain.AssetID, payment uint64, recipient string) (uint64, error),
	amountKey string,
) {
	exchangeID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exchange id")
		return
	}

	var req executeLegRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	fundID, err := uuid.Parse(req.FundID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund_id")
		return
	}
	if req.Asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}

	amount, err := exec(r.Context(), exchangeID, fundID, domain.AssetID(req.Asset), req.Payment, req.Recipient)
	if err != nil {
		h.logger.WarnContext(r.Context(), "leg execution rejected",
			slog.String("exchange_id", exchangeID.String()),
			slog.String("asset", req.Asset),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "settled",
		amountKey: amount,
	})
}

type finishExchangeRequest struct {
	FundID string `json:"fund_id"`
}

// FinishExchange closes a fully settled exchange.
// POST /api/exchanges/{id}/finish
func (h *TradeHandler) FinishExchange(w http.ResponseWriter, r *http.Request) {
	exchangeID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid exchange id")
		return
	}

	var req finishExchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	fundID, err := uuid.Parse(req.FundID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund_id")
		return
	}

	residual, err := h.trades.FinishExchange(r.Context(), exchangeID, fundID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "closed",
		"residual": residual,
	})
}

// ListSettlements returns the persisted settlement history for a fund.
// GET /api/funds/{id}/settlements?limit=50&offset=0
func (h *TradeHandler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	recs, err := h.trades.ListSettlements(r.Context(), fundID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list settlements failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list settlements")
		return
	}
	if recs == nil {
		recs = []domain.SettlementRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": recs})
}
