package syncclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"warungpos/backend/internal/domain"
)

// SQLiteStorage keeps the offline queue and local snapshot in a single
// SQLite file so queued sales survive app restarts and power loss.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection avoids busy errors entirely.
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.setup(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStorage) setup() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS pending_mutations (
			local_id TEXT PRIMARY KEY,
			entity TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_attempt INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			entity TEXT PRIMARY KEY,
			cursor_ms INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cached_products (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			current_stock INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cached_sales (
			id TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sale_id_map (
			local_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("setup sqlite schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) Enqueue(ctx context.Context, m PendingMutation) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_mutations (local_id, entity, payload, created_at, attempts, last_attempt, last_error)
		VALUES (?, ?, ?, ?, 0, 0, '')`,
		m.LocalID, m.Entity, m.Payload, m.CreatedAt.UnixMilli())
	return err
}

func (s *SQLiteStorage) ListPending(ctx context.Context, entity string, limit int) ([]PendingMutation, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, entity, payload, created_at, attempts, last_attempt, last_error
		FROM pending_mutations WHERE entity = ? ORDER BY created_at ASC LIMIT ?`,
		entity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := make([]PendingMutation, 0, limit)
	for rows.Next() {
		var (
			m            PendingMutation
			createdMs    int64
			lastAttempts int64
		)
		if err := rows.Scan(&m.LocalID, &m.Entity, &m.Payload, &createdMs,
			&m.Attempts, &lastAttempts, &m.LastError); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(createdMs).UTC()
		if lastAttempts > 0 {
			m.LastAttempt = time.UnixMilli(lastAttempts).UTC()
		}
		pending = append(pending, m)
	}
	return pending, rows.Err()
}

func (s *SQLiteStorage) MarkAttempt(ctx context.Context, localID string, at time.Time, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_mutations
		SET attempts = attempts + 1, last_attempt = ?, last_error = ?
		WHERE local_id = ?`,
		at.UnixMilli(), lastError, localID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotQueued
	}
	return nil
}

func (s *SQLiteStorage) Remove(ctx context.Context, localID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_mutations WHERE local_id = ?`, localID)
	return err
}

func (s *SQLiteStorage) PendingCount(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_mutations`).Scan(&count)
	return count, err
}

func (s *SQLiteStorage) Cursor(ctx context.Context, entity string) (int64, error) {
	var cursor int64
	err := s.db.QueryRowContext(ctx,
		`SELECT cursor_ms FROM sync_cursors WHERE entity = ?`, entity).Scan(&cursor)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return cursor, err
}

func (s *SQLiteStorage) SetCursor(ctx context.Context, entity string, ms int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (entity, cursor_ms) VALUES (?, ?)
		ON CONFLICT(entity) DO UPDATE SET cursor_ms = excluded.cursor_ms`,
		entity, ms)
	return err
}

func (s *SQLiteStorage) CachedProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload, current_stock FROM cached_products`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var (
			payload []byte
			stock   int
		)
		if err := rows.Scan(&payload, &stock); err != nil {
			return nil, err
		}
		var product domain.Product
		if err := json.Unmarshal(payload, &product); err != nil {
			return nil, fmt.Errorf("corrupt cached product: %w", err)
		}
		product.CurrentStock = stock
		products = append(products, product)
	}
	return products, rows.Err()
}

func (s *SQLiteStorage) UpsertProducts(ctx context.Context, products []domain.Product) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, product := range products {
		payload, err := json.Marshal(product)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cached_products (id, payload, current_stock) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, current_stock = excluded.current_stock`,
			product.ID, payload, product.CurrentStock)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) AdjustCachedStock(ctx context.Context, productID string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cached_products SET current_stock = current_stock + ? WHERE id = ?`,
		delta, productID)
	return err
}

func (s *SQLiteStorage) UpsertSales(ctx context.Context, sales []domain.SaleSyncRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sale := range sales {
		payload, err := json.Marshal(sale)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO cached_sales (id, payload, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
			sale.ID, payload, sale.UpdatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStorage) MapSale(ctx context.Context, localID string, serverID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sale_id_map (local_id, server_id) VALUES (?, ?)
		ON CONFLICT(local_id) DO UPDATE SET server_id = excluded.server_id`,
		localID, serverID)
	return err
}

func (s *SQLiteStorage) SaleServerID(ctx context.Context, localID string) (string, bool, error) {
	var serverID string
	err := s.db.QueryRowContext(ctx,
		`SELECT server_id FROM sale_id_map WHERE local_id = ?`, localID).Scan(&serverID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return serverID, true, nil
}
