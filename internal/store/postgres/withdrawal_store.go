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

// WithdrawalStore implements domain.WithdrawalStore using PostgreSQL.
type WithdrawalStore struct {
	pool *pgxpool.Pool
}

// NewWithdrawalStore creates a new WithdrawalStore backed by the given
// connection pool.
func NewWithdrawalStore(pool *pgxpool.Pool) *WithdrawalStore {
	return &WithdrawalStore{pool: pool}
}

const withdrawalSelectCols = `id, fund_id, cap_id, shares, amount, recipient, created_at`

func scanWithdrawalRows(rows pgx.Rows) ([]domain.WithdrawalRecord, error) {
	var recs []domain.WithdrawalRecord
	for rows.Next() {
		var (
			r              domain.WithdrawalRecord
			shares, amount int64
		)
		if err := rows.Scan(&r.ID, &r.FundID, &r.CapID, &shares, &amount, &r.Recipient, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Shares = uint64(shares)
		r.Amount = uint64(amount)
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Insert appends one withdrawal record.
func (s *WithdrawalStore) Insert(ctx context.Context, rec domain.WithdrawalRecord) error {
	const query = `
		INSERT INTO withdrawals (fund_id, cap_id, shares, amount, recipient, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		rec.FundID, rec.CapID, int64(rec.Shares), int64(rec.Amount),
		rec.Recipient, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert withdrawal: %w", err)
	}
	return nil
}

// ListByFund returns withdrawals for a fund with pagination and optional time
// filtering.
func (s *WithdrawalStore) ListByFund(ctx context.Context, fundID uuid.UUID, opts domain.ListOpts) ([]domain.WithdrawalRecord, error) {
	query := `SELECT ` + withdrawalSelectCols + ` FROM withdrawals WHERE fund_id = $1`
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
		return nil, fmt.Errorf("postgres: list withdrawals by fund: %w", err)
	}
	defer rows.Close()

	recs, err := scanWithdrawalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan withdrawals by fund: %w", err)
	}
	return recs, nil
}

// ListBefore returns all withdrawals created strictly before the given time
// (for archiving).
func (s *WithdrawalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.WithdrawalRecord, error) {
	query := `SELECT ` + withdrawalSelectCols + ` FROM withdrawals WHERE created_at < $1 ORDER BY created_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list withdrawals before: %w", err)
	}
	defer rows.Close()
	return scanWithdrawalRows(rows)
}

// DeleteBefore deletes all withdrawals created before the given time. Returns
// the number deleted.
func (s *WithdrawalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM withdrawals WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete withdrawals before: %w", err)
	}
	return tag.RowsAffected(), nil
}
