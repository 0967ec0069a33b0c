package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openvault/vaultd/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

const accountSelectCols = `handle, requester, owner, fee_recipient, fee_rate_bps, created_at`

func scanAccountRow(row pgx.Row) (domain.AccountRecord, error) {
	var rec domain.AccountRecord
	var handle, requester, owner, feeRecipient string
	err := row.Scan(&handle, &requester, &owner, &feeRecipient, &rec.FeeRateBps, &rec.CreatedAt)
	if err != nil {
		return domain.AccountRecord{}, err
	}
	rec.Handle = common.HexToAddress(handle)
	rec.Requester = common.HexToAddress(requester)
	rec.Owner = common.HexToAddress(owner)
	rec.FeeRecipient = common.HexToAddress(feeRecipient)
	return rec, nil
}

// Create inserts the record. A requester that already has an account yields
// domain.ErrAlreadyExists; the existing row is never touched.
func (s *AccountStore) Create(ctx context.Context, rec domain.AccountRecord) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (handle, requester, owner, fee_recipient, fee_rate_bps, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (requester) DO NOTHING`,
		rec.Handle.Hex(), rec.Requester.Hex(), rec.Owner.Hex(),
		rec.FeeRecipient.Hex(), rec.FeeRateBps, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create account for %s: %w", rec.Requester.Hex(), domain.ErrAlreadyExists)
	}
	return nil
}

// GetByRequester returns the requester's record or domain.ErrNotFound.
func (s *AccountStore) GetByRequester(ctx context.Context, requester common.Address) (domain.AccountRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE requester = $1`, requester.Hex())
	rec, err := scanAccountRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccountRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AccountRecord{}, fmt.Errorf("postgres: get account by requester: %w", err)
	}
	return rec, nil
}

// GetByHandle returns the record for a handle or domain.ErrNotFound.
func (s *AccountStore) GetByHandle(ctx context.Context, handle common.Address) (domain.AccountRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountSelectCols+` FROM accounts WHERE handle = $1`, handle.Hex())
	rec, err := scanAccountRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.AccountRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AccountRecord{}, fmt.Errorf("postgres: get account by handle: %w", err)
	}
	return rec, nil
}

// List returns records ordered by creation time, newest first.
func (s *AccountStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AccountRecord, error) {
	query := `SELECT ` + accountSelectCols + ` FROM accounts`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" WHERE created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
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
		return nil, fmt.Errorf("postgres: list accounts: %w", err)
	}
	defer rows.Close()

	var recs []domain.AccountRecord
	for rows.Next() {
		rec, err := scanAccountRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Count returns the total number of provisioned accounts.
func (s *AccountStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count accounts: %w", err)
	}
	return n, nil
}

var _ domain.AccountStore = (*AccountStore)(nil)
