package cache

import (
	"context"

	"warungpos/backend/internal/domain"
)

// ProductCache holds the per-business product list that backs catalog reads
// and pulls with an empty cursor. Writes that move stock must invalidate.
type ProductCache interface {
	Get(ctx context.Context, businessID string) ([]domain.Product, bool)
	Set(ctx context.Context, businessID string, products []domain.Product)
	Invalidate(ctx context.Context, businessID string)
	Close() error
}

// Noop satisfies ProductCache when no Redis is configured.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]domain.Product, bool) { return nil, false }
func (Noop) Set(context.Context, string, []domain.Product)        {}
func (Noop) Invalidate(context.Context, string)                   {}
func (Noop) Close() error                                         { return nil }
