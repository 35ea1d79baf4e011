package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborfund/vaultd/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL.
type SettlementStore struct {
	pool *pgxpool.Pool
}

// NewSettlementStore creates a new SettlementStore backed by the given
// connection pool.
func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

const settlementSelectCols = `id, exchange_id, fund_id, asset, side, base, target, recipient, created_at`

func scanSettlementRows(rows pgx.Rows) ([]domain.SettlementRecord, error) {
	var recs []domain.SettlementRecord
	for rows.Next() {
		var (
			r            domain.SettlementRecord
			asset, side  string
			base, target int64
		)
		if err := rows.Scan(&r.ID, &r.ExchangeID, &r.FundID, &asset, &side,
			&base, &target, &r.Recipient, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Asset = domain.AssetID(asset)
		r.Side = domain.LegSide(side)
		r.Base = uint64(base)
		r.Target = uint64(target)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Insert appends one settlement record.
func (s *SettlementStore) Insert(ctx context.Context, rec domain.SettlementRecord) error {
	const query = `
		INSERT INTO settlements (exchange_id, fund_id, asset, side, base, target, recipient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		rec.ExchangeID, rec.FundID, string(rec.Asset), string(rec.Side),
		int64(rec.Base), int64(rec.Target), rec.Recipient, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert settlement: %w", err)
	}
	return nil
}

// ListByFund returns settlements for a fund with pagination and optional time
// filtering.
func (s *SettlementStore) ListByFund(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE fund_id = $1`
	args := []any{fundID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements by fund: %w", err)
	}
	defer rows.Close()

	recs, err := scanSettlementRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan settlements by fund: %w", err)
	}
	return recs, nil
}

// ListBefore returns all settlements created strictly before the given time
// (for archiving).
func (s *SettlementStore) ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementRecord, error) {
	query := `SELECT ` + settlementSelectCols + ` FROM settlements WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements before: %w", err)
	}
	defer rows.Close()
	return scanSettlementRows(rows)
}

// DeleteBefore deletes all settlements created before the given time. Returns
// the number deleted.
func (s *SettlementStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM settlements WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settlements before: %w", err)
	}
	return tag.RowsAffected(), nil
}
