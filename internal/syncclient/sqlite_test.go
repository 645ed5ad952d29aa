package syncclient

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"warungpos/backend/internal/domain"
)

func newSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	storage, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "pos.db"))
	if err != nil {
		t.Fatalf("open sqlite storage: %v", err)
	}
	t.Cleanup(func() { storage.Close() })
	return storage
}

func TestSQLiteQueueLifecycle(t *testing.T) {
	storage := newSQLiteStorage(t)
	ctx := context.Background()

	if err := storage.Enqueue(ctx, PendingMutation{
		LocalID: "local-1",
		Entity:  domain.SyncEntitySales,
		Payload: []byte(`{"local_id":"local-1"}`),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pending, err := storage.ListPending(ctx, domain.SyncEntitySales, 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].LocalID != "local-1" || pending[0].Attempts != 0 {
		t.Fatalf("pending = %+v", pending)
	}

	at := time.Now().UTC()
	if err := storage.MarkAttempt(ctx, "local-1", at, "timeout"); err != nil {
		t.Fatalf("mark attempt: %v", err)
	}
	pending, _ = storage.ListPending(ctx, domain.SyncEntitySales, 10)
	if pending[0].Attempts != 1 || pending[0].LastError != "timeout" {
		t.Fatalf("after attempt = %+v", pending[0])
	}
	if pending[0].LastAttempt.UnixMilli() != at.UnixMilli() {
		t.Fatalf("last attempt = %v, want %v", pending[0].LastAttempt, at)
	}

	if err := storage.MarkAttempt(ctx, "local-missing", at, "x"); err != ErrNotQueued {
		t.Fatalf("mark missing = %v, want ErrNotQueued", err)
	}

	if err := storage.Remove(ctx, "local-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if count, _ := storage.PendingCount(ctx); count != 0 {
		t.Fatalf("count = %d, want 0", count)
	}
}

func TestSQLiteCursorAndSnapshot(t *testing.T) {
	storage := newSQLiteStorage(t)
	ctx := context.Background()

	if cursor, _ := storage.Cursor(ctx, domain.SyncEntityProducts); cursor != 0 {
		t.Fatalf("fresh cursor = %d, want 0", cursor)
	}
	if err := storage.SetCursor(ctx, domain.SyncEntityProducts, 1700000000000); err != nil {
		t.Fatalf("set cursor: %v", err)
	}
	if err := storage.SetCursor(ctx, domain.SyncEntityProducts, 1700000001000); err != nil {
		t.Fatalf("advance cursor: %v", err)
	}
	if cursor, _ := storage.Cursor(ctx, domain.SyncEntityProducts); cursor != 1700000001000 {
		t.Fatalf("cursor = %d", cursor)
	}

	if err := storage.UpsertProducts(ctx, []domain.Product{
		{ID: "prod-1", Name: "Kopi", SellingPriceCents: 2600, CurrentStock: 10},
	}); err != nil {
		t.Fatalf("upsert products: %v", err)
	}
	if err := storage.AdjustCachedStock(ctx, "prod-1", -4); err != nil {
		t.Fatalf("adjust cached stock: %v", err)
	}
	products, err := storage.CachedProducts(ctx)
	if err != nil {
		t.Fatalf("cached products: %v", err)
	}
	if len(products) != 1 || products[0].CurrentStock != 6 {
		t.Fatalf("snapshot = %+v, want stock 6", products)
	}

	// A pull overwrites the local stock: server wins.
	if err := storage.UpsertProducts(ctx, []domain.Product{
		{ID: "prod-1", Name: "Kopi", SellingPriceCents: 2600, CurrentStock: 8},
	}); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	products, _ = storage.CachedProducts(ctx)
	if products[0].CurrentStock != 8 {
		t.Fatalf("snapshot stock = %d after pull, want 8", products[0].CurrentStock)
	}
}

func TestSQLiteSaleMapping(t *testing.T) {
	storage := newSQLiteStorage(t)
	ctx := context.Background()

	if _, ok, err := storage.SaleServerID(ctx, "local-1"); err != nil || ok {
		t.Fatalf("unmapped sale = (%v, %v)", ok, err)
	}
	if err := storage.MapSale(ctx, "local-1", "sale-abc"); err != nil {
		t.Fatalf("map sale: %v", err)
	}
	serverID, ok, err := storage.SaleServerID(ctx, "local-1")
	if err != nil || !ok || serverID != "sale-abc" {
		t.Fatalf("mapping = (%q, %v, %v)", serverID, ok, err)
	}
}
