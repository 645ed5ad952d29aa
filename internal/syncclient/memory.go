package syncclient

import (
	"context"
	"sort"
	"sync"
	"time"

	"warungpos/backend/internal/domain"
)

// MemoryStorage is a Storage for tests and throwaway sessions.
type MemoryStorage struct {
	mu       sync.Mutex
	pending  map[string]PendingMutation
	cursors  map[string]int64
	products map[string]domain.Product
	sales    map[string]domain.SaleSyncRow
	saleMap  map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		pending:  make(map[string]PendingMutation),
		cursors:  make(map[string]int64),
		products: make(map[string]domain.Product),
		sales:    make(map[string]domain.SaleSyncRow),
		saleMap:  make(map[string]string),
	}
}

func (s *MemoryStorage) Close() error { return nil }

func (s *MemoryStorage) Enqueue(_ context.Context, m PendingMutation) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[m.LocalID] = m
	return nil
}

func (s *MemoryStorage) ListPending(_ context.Context, entity string, limit int) ([]PendingMutation, error) {
	if limit < 1 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]PendingMutation, 0, len(s.pending))
	for _, m := range s.pending {
		if m.Entity == entity {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.Before(pending[j].CreatedAt) })
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *MemoryStorage) MarkAttempt(_ context.Context, localID string, at time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.pending[localID]
	if !ok {
		return ErrNotQueued
	}
	m.Attempts++
	m.LastAttempt = at
	m.LastError = lastError
	s.pending[localID] = m
	return nil
}

func (s *MemoryStorage) Remove(_ context.Context, localID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, localID)
	return nil
}

func (s *MemoryStorage) PendingCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending), nil
}

func (s *MemoryStorage) Cursor(_ context.Context, entity string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[entity], nil
}

func (s *MemoryStorage) SetCursor(_ context.Context, entity string, ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[entity] = ms
	return nil
}

func (s *MemoryStorage) CachedProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		products = append(products, product)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *MemoryStorage) UpsertProducts(_ context.Context, products []domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, product := range products {
		s.products[product.ID] = product
	}
	return nil
}

func (s *MemoryStorage) AdjustCachedStock(_ context.Context, productID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil
	}
	product.CurrentStock += delta
	s.products[productID] = product
	return nil
}

func (s *MemoryStorage) UpsertSales(_ context.Context, sales []domain.SaleSyncRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sale := range sales {
		s.sales[sale.ID] = sale
	}
	return nil
}

func (s *MemoryStorage) MapSale(_ context.Context, localID string, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saleMap[localID] = serverID
	return nil
}

func (s *MemoryStorage) SaleServerID(_ context.Context, localID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	serverID, ok := s.saleMap[localID]
	return serverID, ok, nil
}
