package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openvault/vaultd/internal/domain"
)

// InvestmentStore implements domain.InvestmentStore using PostgreSQL.
// Amounts are stored as NUMERIC(78,0), wide enough for any uint256 value,
// and travel as decimal strings.
type InvestmentStore struct {
	pool *pgxpool.Pool
}

// NewInvestmentStore creates a new InvestmentStore backed by the given pool.
func NewInvestmentStore(pool *pgxpool.Pool) *InvestmentStore {
	return &InvestmentStore{pool: pool}
}

func scanInvestmentRow(row pgx.Row) (domain.InvestmentEntry, error) {
	var entry domain.InvestmentEntry
	var account, requester, delta, cumulative string
	if err := row.Scan(&account, &requester, &delta, &cumulative, &entry.CreatedAt); err != nil {
		return domain.InvestmentEntry{}, err
	}
	entry.Account = common.HexToAddress(account)
	entry.Requester = common.HexToAddress(requester)
	var ok bool
	if entry.Delta, ok = new(big.Int).SetString(delta, 10); !ok {
		return domain.InvestmentEntry{}, fmt.Errorf("parse delta %q", delta)
	}
	if entry.Cumulative, ok = new(big.Int).SetString(cumulative, 10); !ok {
		return domain.InvestmentEntry{}, fmt.Errorf("parse cumulative %q", cumulative)
	}
	return entry, nil
}

// Record appends one invested-total movement.
func (s *InvestmentStore) Record(ctx context.Context, entry domain.InvestmentEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO investments (account, requester, delta, cumulative, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		entry.Account.Hex(), entry.Requester.Hex(),
		entry.Delta.String(), entry.Cumulative.String(), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: record investment: %w", err)
	}
	return nil
}

// Total returns the latest movement for the account/requester pair, whose
// cumulative field is the current invested total. domain.ErrNotFound when
// the pair never invested.
func (s *InvestmentStore) Total(ctx context.Context, account, requester common.Address) (*domain.InvestmentEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT account, requester, delta::text, cumulative::text, created_at
		FROM investments
		WHERE account = $1 AND requester = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, account.Hex(), requester.Hex())
	entry, err := scanInvestmentRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: investment total: %w", err)
	}
	return &entry, nil
}

// ListByAccount returns an account's movements, newest first.
func (s *InvestmentStore) ListByAccount(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.InvestmentEntry, error) {
	query := `
		SELECT account, requester, delta::text, cumulative::text, created_at
		FROM investments WHERE account = $1`
	args := []any{account.Hex()}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	query += " ORDER BY created_at DESC, id DESC"
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
		return nil, fmt.Errorf("postgres: list investments: %w", err)
	}
	defer rows.Close()

	var entries []domain.InvestmentEntry
	for rows.Next() {
		entry, err := scanInvestmentRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan investment: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

var _ domain.InvestmentStore = (*InvestmentStore)(nil)
