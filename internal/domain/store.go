package domain

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// FundStore persists fund snapshots so operators can inspect vault state
// without hitting the keeper.
type FundStore interface {
	Upsert(ctx context.Context, fund Fund) error
	GetByID(ctx context.Context, id uuid.UUID) (Fund, error)
	List(ctx context.Context) ([]Fund, error)
}

// WithdrawalRecord is the persisted audit row for one successful withdrawal.
type WithdrawalRecord struct {
	ID        int64     `json:"id"`
	FundID    uuid.UUID `json:"fund_id"`
	CapID     uuid.UUID `json:"cap_id"`
	Shares    uint64    `json:"shares"`
	Amount    uint64    `json:"amount"`
	Recipient string    `json:"recipient"`
	CreatedAt time.Time `json:"created_at"`
}

// WithdrawalStore persists the withdrawal audit trail.
type WithdrawalStore interface {
	Insert(ctx context.Context, rec WithdrawalRecord) error
	ListByFund(ctx context.Context, fundID uuid.UUID, opts ListOpts) ([]WithdrawalRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]WithdrawalRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SettlementRecord is the persisted row for one executed exchange leg.
type SettlementRecord struct {
	ID         int64     `json:"id"`
	ExchangeID uuid.UUID `json:"exchange_id"`
	FundID     uuid.UUID `json:"fund_id"`
	Asset      AssetID   `json:"asset"`
	Side       LegSide   `json:"side"`
	Base       uint64    `json:"base"`
	Target     uint64    `json:"target"`
	Recipient  string    `json:"recipient"`
	CreatedAt  time.Time `json:"created_at"`
}

// SettlementStore persists executed exchange legs.
type SettlementStore interface {
	Insert(ctx context.Context, rec SettlementRecord) error
	ListByFund(ctx context.Context, fundID uuid.UUID, opts ListOpts) ([]SettlementRecord, error)
	ListBefore(ctx context.Context, before time.Time) ([]SettlementRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of administrative actions.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// StreamMessage is one entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus delivers vault events to out-of-process consumers: pub/sub for
// live subscribers and a capped stream for replay.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locks for operations that must not run
// concurrently across service instances.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL and returns an
	// unlock function, or ErrLockHeld when another party holds it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter enforces per-key request limits.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter uploads archive objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobInfo describes one stored archive object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobReader retrieves and enumerates archive objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
