package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/harborfund/vaultd/internal/domain"
)

// FundService defines the methods that the fund handler requires from the
// service layer.
type FundService interface {
	CreateFund(ctx context.Context, baseAsset domain.AssetID, reserveFloor uint64) (domain.Fund, error)
	RegisterAsset(ctx context.Context, fundID uuid.UUID, asset domain.AssetID) error
	UpdatePolicy(ctx context.Context, fundID uuid.UUID, minReservePct uint64) error
	Deposit(ctx context.Context, fundID uuid.UUID, amount uint64) (string, domain.WithdrawCap, error)
	Withdraw(ctx context.Context, fundID uuid.UUID, capToken, recipient string) (uint64, error)
	GetFund(ctx context.Context, fundID uuid.UUID) (domain.Fund, error)
	ListFunds(ctx context.Context) []domain.Fund
	ListWithdrawals(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.WithdrawalRecord, error)
	AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// FundHandler serves fund administration and custody HTTP endpoints.
type FundHandler struct {
	vault  FundService
	logger *slog.Logger
}

// NewFundHandler creates a FundHandler with the given service and logger.
func NewFundHandler(vault FundService, logger *slog.Logger) *FundHandler {
	return &FundHandler{
		vault:  vault,
		logger: logHandler(logger, "fund"),
	}
}

type createFundRequest struct {
	BaseAsset    string `json:"base_asset"`
	ReserveFloor uint64 `json:"reserve_floor"`
}

// CreateFund registers a new fund.
// POST /api/funds
func (h *FundHandler) CreateFund(w http.ResponseWriter, r *http.Request) {
	var req createFundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.BaseAsset == "" {
		writeError(w, http.StatusBadRequest, "base_asset is required")
		return
	}

	fund, err := h.vault.CreateFund(r.Context(), domain.AssetID(req.BaseAsset), req.ReserveFloor)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "create fund failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, fund)
}

// ListFunds returns snapshots of every fund.
// GET /api/funds
func (h *FundHandler) ListFunds(w http.ResponseWriter, r *http.Request) {
	funds := h.vault.ListFunds(r.Context())
	if funds == nil {
		funds = []domain.Fund{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"funds": funds})
}

// GetFund returns a single fund snapshot.
// GET /api/funds/{id}
func (h *FundHandler) GetFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	fund, err := h.vault.GetFund(r.Context(), fundID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fund)
}

type registerAssetRequest struct {
	Asset string `json:"asset"`
}

// RegisterAsset adds an asset type to the fund.
// POST /api/funds/{id}/assets
func (h *FundHandler) RegisterAsset(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	var req registerAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Asset == "" {
		writeError(w, http.StatusBadRequest, "asset is required")
		return
	}

	if err := h.vault.RegisterAsset(r.Context(), fundID, domain.AssetID(req.Asset)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "registered",
		"asset":  req.Asset,
	})
}

type updatePolicyRequest struct {
	MinReservePct uint64 `json:"min_reserve_pct"`
}

// UpdatePolicy replaces the fund's reserve policy.
// PUT /api/funds/{id}/policy
func (h *FundHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	var req updatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.vault.UpdatePolicy(r.Context(), fundID, req.MinReservePct); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "updated",
		"min_reserve_pct": req.MinReservePct,
	})
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

type depositResponse struct {
	Token  string `json:"token"`
	CapID  string `json:"cap_id"`
	Shares uint64 `json:"shares"`
}

// Deposit pays into the fund and returns a signed withdraw-capability token.
// POST /api/funds/{id}/deposits
func (h *FundHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	tok, wc, err := h.vault.Deposit(r.Context(), fundID, req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, depositResponse{
		Token:  tok,
		CapID:  wc.ID.String(),
		Shares: wc.Amount,
	})
}

type withdrawRequest struct {
	Token     string `json:"token"`
	Recipient string `json:"recipient"`
}

// Withdraw redeems a withdraw-capability token.
// POST /api/funds/{id}/withdrawals
func (h *FundHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}

	amount, err := h.vault.Withdraw(r.Context(), fundID, req.Token, req.Recipient)
	if err != nil {
		h.logger.WarnContext(r.Context(), "withdraw rejected",
			slog.String("fund_id", fundID.String()),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "paid",
		"amount": amount,
	})
}

// ListWithdrawals returns the persisted withdrawal history for a fund.
// GET /api/funds/{id}/withdrawals?limit=50&offset=0
func (h *FundHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	fundID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}

	recs, err := h.vault.ListWithdrawals(r.Context(), fundID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list withdrawals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list withdrawals")
		return
	}
	if recs == nil {
		recs = []domain.WithdrawalRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"withdrawals": recs})
}

// AuditTrail returns recent audit entries.
// GET /api/audit?limit=50&offset=0
func (h *FundHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	entries, err := h.vault.AuditTrail(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "audit trail failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read audit trail")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
