package syncclient

import (
	"context"
	"errors"
	"time"

	"warungpos/backend/internal/domain"
)

var ErrNotQueued = errors.New("mutation not queued")

// PendingMutation is one offline write waiting for the server. Payload holds
// the JSON push item; LocalID is the idempotency key the server echoes back.
type PendingMutation struct {
	LocalID     string
	Entity      string
	Payload     []byte
	CreatedAt   time.Time
	Attempts    int
	LastAttempt time.Time
	LastError   string
}

// Storage is the client-side persistence behind the offline queue: the queue
// itself, per-entity sync cursors, the local product snapshot the POS sells
// from while offline, and the local-to-server sale ID map.
type Storage interface {
	Enqueue(ctx context.Context, m PendingMutation) error
	ListPending(ctx context.Context, entity string, limit int) ([]PendingMutation, error)
	MarkAttempt(ctx context.Context, localID string, at time.Time, lastError string) error
	Remove(ctx context.Context, localID string) error
	PendingCount(ctx context.Context) (int, error)

	Cursor(ctx context.Context, entity string) (int64, error)
	SetCursor(ctx context.Context, entity string, ms int64) error

	CachedProducts(ctx context.Context) ([]domain.Product, error)
	UpsertProducts(ctx context.Context, products []domain.Product) error
	AdjustCachedStock(ctx context.Context, productID string, delta int) error

	UpsertSales(ctx context.Context, sales []domain.SaleSyncRow) error
	MapSale(ctx context.Context, localID string, serverID string) error
	SaleServerID(ctx context.Context, localID string) (string, bool, error)

	Close() error
}
