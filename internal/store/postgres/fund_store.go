package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborfund/vaultd/internal/domain"
)

// FundStore implements domain.FundStore using PostgreSQL. It persists
// read-only snapshots; the keeper remains the source of truth for live state.
type FundStore struct {
	pool *pgxpool.Pool
}

// NewFundStore creates a new FundStore backed by the given connection pool.
func NewFundStore(pool *pgxpool.Pool) *FundStore {
	return &FundStore{pool: pool}
}

const fundSelectCols = `id, base_asset, shares, reserve_floor, policy, balances,
	pending_sell_base, created_at, updated_at`

// Upsert writes the fund snapshot, replacing any previous snapshot for the
// same fund.
func (s *FundStore) Upsert(ctx context.Context, fund domain.Fund) error {
	balancesJSON, err := json.Marshal(fund.Balances)
	if err != nil {
		return fmt.Errorf("postgres: marshal fund balances: %w", err)
	}
	var policyJSON []byte
	if fund.Policy != nil {
		policyJSON, err = json.Marshal(fund.Policy)
		if err != nil {
			return fmt.Errorf("postgres: marshal fund policy: %w", err)
		}
	}

	const query = `
		INSERT INTO funds (
			id, base_asset, shares, reserve_floor, policy, balances,
			pending_sell_base, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			shares = EXCLUDED.shares,
			reserve_floor = EXCLUDED.reserve_floor,
			policy = EXCLUDED.policy,
			balances = EXCLUDED.balances,
			pending_sell_base = EXCLUDED.pending_sell_base,
			updated_at = EXCLUDED.updated_at`

	_, err = s.pool.Exec(ctx, query,
		fund.ID, string(fund.BaseAsset), int64(fund.Shares), int64(fund.ReserveFloor),
		policyJSON, balancesJSON, int64(fund.PendingSellBase),
		fund.CreatedAt, fund.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert fund %s: %w", fund.ID, err)
	}
	return nil
}

// GetByID returns the persisted snapshot for one fund.
func (s *FundStore) GetByID(ctx context.Context, id uuid.UUID) (domain.Fund, error) {
	const query = `SELECT ` + fundSelectCols + ` FROM funds WHERE id = $1`

	fund, err := scanFund(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Fund{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Fund{}, fmt.Errorf("postgres: get fund %s: %w", id, err)
	}
	return fund, nil
}

// List returns all persisted fund snapshots.
func (s *FundStore) List(ctx context.Context) ([]domain.Fund, error) {
	const query = `SELECT ` + fundSelectCols + ` FROM funds ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funds: %w", err)
	}
	defer rows.Close()

	var funds []domain.Fund
	for rows.Next() {
		fund, err := scanFund(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan fund: %w", err)
		}
		funds = append(funds, fund)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list funds rows: %w", err)
	}
	return funds, nil
}

func scanFund(row pgx.Row) (domain.Fund, error) {
	var (
		f               domain.Fund
		baseAsset       string
		shares          int64
		reserveFloor    int64
		pendingSellBase int64
		policyJSON      []byte
		balancesJSON    []byte
	)
	if err := row.Scan(
		&f.ID, &baseAsset, &shares, &reserveFloor, &policyJSON, &balancesJSON,
		&pendingSellBase, &f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return domain.Fund{}, err
	}
	f.BaseAsset = domain.AssetID(baseAsset)
	f.Shares = uint64(shares)
	f.ReserveFloor = uint64(reserveFloor)
	f.PendingSellBase = uint64(pendingSellBase)
	if policyJSON != nil {
		f.Policy = &domain.Policy{}
		if err := json.Unmarshal(policyJSON, f.Policy); err != nil {
			return domain.Fund{}, fmt.Errorf("unmarshal policy: %w", err)
		}
	}
	if balancesJSON != nil {
		if err := json.Unmarshal(balancesJSON, &f.Balances); err != nil {
			return domain.Fund{}, fmt.Errorf("unmarshal balances: %w", err)
		}
	}
	return f, nil
}
