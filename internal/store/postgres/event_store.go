package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openvault/vaultd/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The events
// table is append-only; rows only leave through DeleteBefore after the
// archiver has drained them.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `id, type, account, attributes, created_at`

func scanEventRow(row pgx.Row) (domain.Event, error) {
	var ev domain.Event
	var typ, account string
	var attrs []byte
	if err := row.Scan(&ev.ID, &typ, &account, &attrs, &ev.CreatedAt); err != nil {
		return domain.Event{}, err
	}
	ev.Type = domain.EventType(typ)
	ev.Account = common.HexToAddress(account)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &ev.Attributes); err != nil {
			return domain.Event{}, fmt.Errorf("decode attributes: %w", err)
		}
	}
	return ev, nil
}

// Append inserts one event. Re-appending an already stored id is a no-op so
// at-least-once delivery upstream stays safe.
func (s *EventStore) Append(ctx context.Context, ev domain.Event) error {
	attrs, err := json.Marshal(ev.Attributes)
	if err != nil {
		return fmt.Errorf("postgres: encode event attributes: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, type, account, attributes, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		ev.ID, string(ev.Type), ev.Account.Hex(), attrs, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event: %w", err)
	}
	return nil
}

func (s *EventStore) list(ctx context.Context, where string, whereArgs []any, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventSelectCols + ` FROM events WHERE ` + where
	args := whereArgs
	argIdx := len(args) + 1

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
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var evs []domain.Event
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// ListByAccount returns an account's events, newest first.
func (s *EventStore) ListByAccount(ctx context.Context, account common.Address, opts domain.ListOpts) ([]domain.Event, error) {
	return s.list(ctx, "account = $1", []any{account.Hex()}, opts)
}

// ListByType returns events of one type, newest first.
func (s *EventStore) ListByType(ctx context.Context, typ domain.EventType, opts domain.ListOpts) ([]domain.Event, error) {
	return s.list(ctx, "type = $1", []any{string(typ)}, opts)
}

// ListBefore returns up to limit events older than the cutoff, oldest
// first, for the archiver to drain in stable batches.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventSelectCols+` FROM events
		WHERE created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before: %w", err)
	}
	defer rows.Close()

	var evs []domain.Event
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}

// DeleteBefore prunes events older than the cutoff, returning the number of
// rows removed.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.EventStore = (*EventStore)(nil)
