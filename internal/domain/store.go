package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// AccountStore persists registry records.
type AccountStore interface {
	Create(ctx context.Context, rec AccountRecord) error
	GetByRequester(ctx context.Context, requester common.Address) (AccountRecord, error)
	GetByHandle(ctx context.Context, handle common.Address) (AccountRecord, error)
	List(ctx context.Context, opts ListOpts) ([]AccountRecord, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists the append-only record log.
type EventStore interface {
	Append(ctx context.Context, ev Event) error
	ListByAccount(ctx context.Context, account common.Address, opts ListOpts) ([]Event, error)
	ListByType(ctx context.Context, typ EventType, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// InvestmentStore persists invested-total movements for reporting.
type InvestmentStore interface {
	Record(ctx context.Context, entry InvestmentEntry) error
	Total(ctx context.Context, account, requester common.Address) (*InvestmentEntry, error)
	ListByAccount(ctx context.Context, account common.Address, opts ListOpts) ([]InvestmentEntry, error)
}
