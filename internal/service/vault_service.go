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

// VaultService exposes the custody lifecycle: fund administration, deposits,
// and capability redemption. Capabilities cross the service boundary as
// signed bearer tokens; the keeper enforces single use and fund binding.
type VaultService struct {
	keeper      *vault.Keeper
	codec       *token.Codec
	funds       domain.FundStore
	withdrawals domain.WithdrawalStore
	audit       domain.AuditStore
	notifier    Notifier

	// alertThreshold triggers a notification for any single withdrawal
	// paying out at least this much. Zero disables.
	alertThreshold uint64

	logger *slog.Logger
}

// Notifier is the narrow notification surface the services need.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NewVaultService creates a VaultService with all required dependencies.
// funds, withdrawals, audit, and notifier may be nil for store-less setups;
// the corresponding side effects are skipped.
func NewVaultService(
	keeper *vault.Keeper,
	codec *token.Codec,
	funds domain.FundStore,
	withdrawals domain.WithdrawalStore,
	audit domain.AuditStore,
	notifier Notifier,
	alertThreshold uint64,
	logger *slog.Logger,
) *VaultService {
	if logger == nil {
		logger = slog.Default()
	}
	return &VaultService{
		keeper:         keeper,
		codec:          codec,
		funds:          funds,
		withdrawals:    withdrawals,
		audit:          audit,
		notifier:       notifier,
		alertThreshold: alertThreshold,
		logger:         logger,
	}
}

// CreateFund registers a new fund and persists its initial snapshot.
func (s *VaultService) CreateFund(ctx context.Context, baseAsset domain.AssetID, reserveFloor uint64) (domain.Fund, error) {
	fund, err := s.keeper.CreateFund(baseAsset, reserveFloor)
	if err != nil {
		return domain.Fund{}, fmt.Errorf("vault_service: create fund: %w", err)
	}

	s.persistFund(ctx, fund)
	s.auditLog(ctx, "fund_created", map[string]any{
		"fund_id":       fund.ID.String(),
		"base_asset":    string(fund.BaseAsset),
		"reserve_floor": fund.ReserveFloor,
	})
	return fund, nil
}

// RegisterAsset adds an asset type to the fund's registry.
func (s *VaultService) RegisterAsset(ctx context.Context, fundID uuid.UUID, asset domain.AssetID) error {
	if err := s.keeper.RegisterAsset(fundID, asset); err != nil {
		return fmt.Errorf("vault_service: register asset: %w", err)
	}
	s.refreshFund(ctx, fundID)
	s.auditLog(ctx, "asset_registered", map[string]any{
		"fund_id": fundID.String(),
		"asset":   string(asset),
	})
	return nil
}

// UpdatePolicy replaces the fund's reserve policy.
func (s *VaultService) UpdatePolicy(ctx context.Context, fundID uuid.UUID, minReservePct uint64) error {
	if err := s.keeper.UpdatePolicy(fundID, minReservePct); err != nil {
		return fmt.Errorf("vault_service: update policy: %w", err)
	}
	s.refreshFund(ctx, fundID)
	s.auditLog(ctx, "policy_updated", map[string]any{
		"fund_id":         fundID.String(),
		"min_reserve_pct": minReservePct,
	})
	return nil
}

// Deposit pays amount into the fund and returns the withdraw capability as a
// signed bearer token, along with the minted capability itself.
func (s *VaultService) Deposit(ctx context.Context, fundID uuid.UUID, amount uint64) (string, domain.WithdrawCap, error) {
	wc, err := s.keeper.Deposit(ctx, fundID, domain.NewBalance(amount))
	if err != nil {
		return "", domain.WithdrawCap{}, fmt.Errorf("vault_service: deposit: %w", err)
	}

	tok, err := s.codec.EncodeWithdraw(wc)
	if err != nil {
		// The deposit succeeded; the capability is live in the keeper even
		// though we could not hand out a token for it.
		return "", domain.WithdrawCap{}, fmt.Errorf("vault_service: deposit token: %w", err)
	}

	s.refreshFund(ctx, fundID)

	s.logger.InfoContext(ctx, "deposit accepted",
		slog.String("fund_id", fundID.String()),
		slog.String("cap_id", wc.ID.String()),
		slog.Uint64("amount", amount),
	)
	return tok, wc, nil
}

// Withdraw redeems a withdraw-capability token against the fund, returning
// the base-asset amount paid out.
func (s *VaultService) Withdraw(ctx context.Context, fundID uuid.UUID, capToken, recipient string) (uint64, error) {
	wc, err := s.codec.DecodeWithdraw(capToken)
	if err != nil {
		return 0, fmt.Errorf("vault_service: withdraw: %w", err)
	}

	paid, err := s.keeper.Withdraw(ctx, fundID, wc, recipient)
	if err != nil {
		return 0, fmt.Errorf("vault_service: withdraw: %w", err)
	}
	amount := paid.Value()

	if s.withdrawals != nil {
		rec := domain.WithdrawalRecord{
			FundID:    fundID,
			CapID:     wc.ID,
			Shares:    wc.Amount,
			Amount:    amount,
			Recipient: recipient,
			CreatedAt: time.Now().UTC(),
		}
		if insErr := s.withdrawals.Insert(ctx, rec); insErr != nil {
			s.logger.WarnContext(ctx, "withdrawal record insert failed",
				slog.String("cap_id", wc.ID.String()),
				slog.String("error", insErr.Error()),
			)
		}
	}

	s.refreshFund(ctx, fundID)
	s.auditLog(ctx, "withdraw", map[string]any{
		"fund_id":   fundID.String(),
		"cap_id":    wc.ID.String(),
		"shares":    wc.Amount,
		"amount":    amount,
		"recipient": recipient,
	})

	if s.notifier != nil && s.alertThreshold > 0 && amount >= s.alertThreshold {
		if nErr := s.notifier.Notify(ctx, "withdraw", "Large withdrawal",
			fmt.Sprintf("fund %s paid %d to %s", fundID, amount, recipient)); nErr != nil {
			s.logger.WarnContext(ctx, "withdraw notification failed",
				slog.String("error", nErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "withdrawal paid",
		slog.String("fund_id", fundID.String()),
		slog.String("cap_id", wc.ID.String()),
		slog.Uint64("amount", amount),
	)
	return amount, nil
}

// GetFund returns the live snapshot of one fund.
func (s *VaultService) GetFund(ctx context.Context, fundID uuid.UUID) (domain.Fund, error) {
	fund, err := s.keeper.Fund(fundID)
	if err != nil {
		return domain.Fund{}, fmt.Errorf("vault_service: get fund: %w", err)
	}
	return fund, nil
}

// ListFunds returns live snapshots of every fund.
func (s *VaultService) ListFunds(ctx context.Context) []domain.Fund {
	return s.keeper.Funds()
}

// ListWithdrawals returns the persisted withdrawal history for a fund.
func (s *VaultService) ListWithdrawals(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.WithdrawalRecord, error) {
	if s.withdrawals == nil {
		return nil, nil
	}
	recs, err := s.withdrawals.ListByFund(ctx, fundID, opts)
	if err != nil {
		return nil, fmt.Errorf("vault_service: list withdrawals: %w", err)
	}
	return recs, nil
}

// AuditTrail returns recent audit entries.
func (s *VaultService) AuditTrail(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("vault_service: audit trail: %w", err)
	}
	return entries, nil
}

// persistFund writes the fund snapshot to the store, best-effort.
func (s *VaultService) persistFund(ctx context.Context, fund domain.Fund) {
	if s.funds == nil {
		return
	}
	if err := s.funds.Upsert(ctx, fund); err != nil {
		s.logger.WarnContext(ctx, "fund snapshot upsert failed",
			slog.String("fund_id", fund.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

// refreshFund re-reads the live snapshot and persists it, best-effort.
func (s *VaultService) refreshFund(ctx context.Context, fundID uuid.UUID) {
	fund, err := s.keeper.Fund(fundID)
	if err != nil {
		return
	}
	s.persistFund(ctx, fund)
}

// auditLog writes an audit entry, best-effort.
func (s *VaultService) auditLog(ctx context.Context, event string, detail map[string]any) {
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
