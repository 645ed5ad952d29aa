package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

// Store is the PostgreSQL Repository. Stock decrements are conditional
// updates (current_stock >= qty in the WHERE clause) so two concurrent sales
// of the last unit can never both succeed; the loser sees zero rows updated
// and the transaction rolls back.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Setup creates the schema when it does not exist yet. Idempotent, runs at
// startup.
func (s *Store) Setup(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			client_ref TEXT NOT NULL DEFAULT '',
			sku TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL,
			cost_price_cents BIGINT NOT NULL DEFAULT 0,
			selling_price_cents BIGINT NOT NULL,
			current_stock INTEGER NOT NULL DEFAULT 0,
			min_stock_level INTEGER NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT products_stock_nonnegative CHECK (current_stock >= 0)
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS products_client_ref_uq
			ON products (business_id, client_ref) WHERE client_ref <> ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS products_sku_uq
			ON products (business_id, sku) WHERE sku <> ''`,
		`CREATE INDEX IF NOT EXISTS products_updated_at_idx
			ON products (business_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS customers (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			total_purchases_cents BIGINT NOT NULL DEFAULT 0,
			total_orders BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			employee_id TEXT NOT NULL DEFAULT '',
			customer_id TEXT,
			client_ref TEXT NOT NULL DEFAULT '',
			sale_number TEXT NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			tax_rate_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			tax_cents BIGINT NOT NULL DEFAULT 0,
			discount_cents BIGINT NOT NULL DEFAULT 0,
			total_cents BIGINT NOT NULL,
			payment_method TEXT NOT NULL DEFAULT 'cash',
			status TEXT NOT NULL DEFAULT 'completed',
			status_reason TEXT NOT NULL DEFAULT '',
			reversed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS sales_client_ref_uq
			ON sales (business_id, client_ref) WHERE client_ref <> ''`,
		`CREATE INDEX IF NOT EXISTS sales_updated_at_idx
			ON sales (business_id, updated_at)`,
		`CREATE TABLE IF NOT EXISTS sale_items (
			id TEXT PRIMARY KEY,
			sale_id TEXT NOT NULL REFERENCES sales(id),
			product_id TEXT NOT NULL,
			qty INTEGER NOT NULL,
			unit_price_cents BIGINT NOT NULL,
			total_price_cents BIGINT NOT NULL,
			cost_price_cents BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS sale_items_sale_idx ON sale_items (sale_id)`,
		`CREATE TABLE IF NOT EXISTS inventory_movements (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			product_id TEXT NOT NULL,
			movement_type TEXT NOT NULL,
			quantity_change INTEGER NOT NULL,
			stock_before INTEGER NOT NULL,
			stock_after INTEGER NOT NULL,
			reference_type TEXT NOT NULL DEFAULT '',
			reference_id TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS inventory_movements_product_idx
			ON inventory_movements (business_id, product_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS employees (
			id TEXT PRIMARY KEY,
			business_id TEXT NOT NULL,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT 'cashier',
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("setup schema: %w", err)
		}
	}
	return nil
}

const productColumns = `id, business_id, client_ref, sku, name, cost_price_cents, selling_price_cents, current_stock, min_stock_level, active, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.BusinessID, &p.ClientRef, &p.SKU, &p.Name,
		&p.CostPriceCents, &p.SellingPriceCents, &p.CurrentStock, &p.MinStockLevel,
		&p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product, initialStock int, createdBy string) (*domain.Product, error) {
	if strings.TrimSpace(product.BusinessID) == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrValidation
	}
	if product.SellingPriceCents < 1 || product.CostPriceCents < 0 || initialStock < 0 || product.MinStockLevel < 0 {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	product.Active = true
	product.CurrentStock = initialStock

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO products (id, business_id, client_ref, sku, name, cost_price_cents, selling_price_cents, current_stock, min_stock_level, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		product.ID, product.BusinessID, product.ClientRef, product.SKU, product.Name,
		product.CostPriceCents, product.SellingPriceCents, product.CurrentStock,
		product.MinStockLevel, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	if initialStock > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_movements (id, business_id, product_id, movement_type, quantity_change, stock_before, stock_after, reference_type, reference_id, note, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6, 'product', $3, 'initial stock', $7, $8)`,
			xid.New("mov"), product.BusinessID, product.ID, domain.MovementAdjustment,
			initialStock, initialStock, createdBy, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SellingPriceCents < 1 || product.CostPriceCents < 0 || product.MinStockLevel < 0 {
		return nil, store.ErrValidation
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE products
		SET sku = $3, name = $4, cost_price_cents = $5, selling_price_cents = $6,
			min_stock_level = $7, active = $8, updated_at = $9
		WHERE id = $1 AND business_id = $2
		RETURNING `+productColumns,
		product.ID, product.BusinessID, product.SKU, product.Name,
		product.CostPriceCents, product.SellingPriceCents, product.MinStockLevel,
		product.Active, time.Now().UTC())
	updated, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) GetProduct(ctx context.Context, businessID string, productID string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND business_id = $2`,
		productID, businessID)
	return scanProduct(row)
}

func (s *Store) GetProductByClientRef(ctx context.Context, businessID string, clientRef string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE business_id = $1 AND client_ref = $2`,
		businessID, clientRef)
	return scanProduct(row)
}

func (s *Store) GetProductsByIDs(ctx context.Context, businessID string, productIDs []string) (map[string]domain.Product, error) {
	if len(productIDs) == 0 {
		return map[string]domain.Product{}, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE business_id = $1 AND id = ANY($2)`,
		businessID, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]domain.Product, len(productIDs))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[product.ID] = *product
	}
	return result, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context, businessID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE business_id = $1 AND active ORDER BY name`,
		businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

func (s *Store) ListProductsSince(ctx context.Context, businessID string, since time.Time) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE business_id = $1 AND updated_at > $2 ORDER BY updated_at ASC`,
		businessID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectProducts(rows)
}

func collectProducts(rows *sql.Rows) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *product)
	}
	return products, rows.Err()
}

func (s *Store) AdjustStock(ctx context.Context, businessID string, productID string, delta int, movementType string, note string, createdBy string) (*domain.InventoryMovement, error) {
	if delta == 0 {
		return nil, store.ErrValidation
	}
	switch movementType {
	case domain.MovementAdjustment, domain.MovementPurchase, domain.MovementDamage, domain.MovementTransfer, domain.MovementReturn:
	default:
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var after int
	err = tx.QueryRowContext(ctx, `
		UPDATE products
		SET current_stock = current_stock + $3, updated_at = $4
		WHERE id = $1 AND business_id = $2 AND active AND current_stock + $3 >= 0
		RETURNING current_stock`,
		productID, businessID, delta, now).Scan(&after)
	if errors.Is(err, sql.ErrNoRows) {
		product, lookupErr := s.GetProduct(ctx, businessID, productID)
		if lookupErr != nil {
			return nil, store.ErrNotFound
		}
		return nil, &store.StockShortageError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   product.CurrentStock,
			Requested:   -delta,
		}
	}
	if err != nil {
		return nil, err
	}

	movement := domain.InventoryMovement{
		ID:             xid.New("mov"),
		BusinessID:     businessID,
		ProductID:      productID,
		MovementType:   movementType,
		QuantityChange: delta,
		StockBefore:    after - delta,
		StockAfter:     after,
		ReferenceType:  "adjustment",
		Note:           note,
		CreatedBy:      createdBy,
		CreatedAt:      now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (id, business_id, product_id, movement_type, quantity_change, stock_before, stock_after, reference_type, reference_id, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $10, $11)`,
		movement.ID, movement.BusinessID, movement.ProductID, movement.MovementType,
		movement.QuantityChange, movement.StockBefore, movement.StockAfter,
		movement.ReferenceType, movement.Note, movement.CreatedBy, movement.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &movement, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if strings.TrimSpace(customer.BusinessID) == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, business_id, name, phone, total_purchases_cents, total_orders, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		customer.ID, customer.BusinessID, customer.Name, customer.Phone,
		customer.TotalPurchasesCents, customer.TotalOrders, customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, businessID string, customerID string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, business_id, name, phone, total_purchases_cents, total_orders, created_at, updated_at
		FROM customers WHERE id = $1 AND business_id = $2`,
		customerID, businessID).Scan(&c.ID, &c.BusinessID, &c.Name, &c.Phone,
		&c.TotalPurchasesCents, &c.TotalOrders, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, businessID string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, name, phone, total_purchases_cents, total_orders, created_at, updated_at
		FROM customers WHERE business_id = $1 ORDER BY name`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.BusinessID, &c.Name, &c.Phone,
			&c.TotalPurchasesCents, &c.TotalOrders, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

// CreateSale runs the sale as one transaction. Per line: a conditional
// decrement that fails cleanly on shortage, then a ledger entry recording the
// observed before/after stock. The client_ref unique index turns a concurrent
// duplicate into a unique violation, which resolves to the already-stored
// sale instead of an error.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 || strings.TrimSpace(sale.BusinessID) == "" {
		return nil, store.ErrValidation
	}
	if sale.TaxRatePercent < 0 || sale.TaxRatePercent > 100 || sale.DiscountCents < 0 {
		return nil, store.ErrValidation
	}

	if sale.ClientRef != "" {
		existing, err := s.FindSaleByClientRef(ctx, sale.BusinessID, sale.ClientRef)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	now := time.Now().UTC()
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.SaleNumber == "" {
		sale.SaleNumber = xid.SaleNumber(sale.BusinessID, now)
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now
	sale.Status = domain.SaleStatusCompleted

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	subtotal := int64(0)
	items := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Qty < 1 {
			return nil, store.ErrValidation
		}
		var (
			name      string
			sellPrice int64
			costPrice int64
			active    bool
		)
		err := tx.QueryRowContext(ctx, `
			SELECT name, selling_price_cents, cost_price_cents, active
			FROM products WHERE id = $1 AND business_id = $2`,
			item.ProductID, sale.BusinessID).Scan(&name, &sellPrice, &costPrice, &active)
		if errors.Is(err, sql.ErrNoRows) || (err == nil && !active) {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		if err != nil {
			return nil, err
		}

		var after int
		err = tx.QueryRowContext(ctx, `
			UPDATE products
			SET current_stock = current_stock - $3, updated_at = $4
			WHERE id = $1 AND business_id = $2 AND current_stock >= $3
			RETURNING current_stock`,
			item.ProductID, sale.BusinessID, item.Qty, now).Scan(&after)
		if errors.Is(err, sql.ErrNoRows) {
			var available int
			if lookupErr := tx.QueryRowContext(ctx,
				`SELECT current_stock FROM products WHERE id = $1 AND business_id = $2`,
				item.ProductID, sale.BusinessID).Scan(&available); lookupErr != nil {
				available = 0
			}
			return nil, &store.StockShortageError{
				ProductID:   item.ProductID,
				ProductName: name,
				Available:   available,
				Requested:   item.Qty,
			}
		}
		if err != nil {
			return nil, err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_movements (id, business_id, product_id, movement_type, quantity_change, stock_before, stock_after, reference_type, reference_id, note, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'sale', $8, '', $9, $10)`,
			xid.New("mov"), sale.BusinessID, item.ProductID, domain.MovementSale,
			-item.Qty, after+item.Qty, after, sale.ID, sale.EmployeeID, now)
		if err != nil {
			return nil, err
		}

		unitPrice := item.UnitPriceCents
		if unitPrice == 0 {
			unitPrice = sellPrice
		}
		if unitPrice < 1 {
			return nil, store.ErrValidation
		}
		item.ID = xid.New("si")
		item.SaleID = sale.ID
		item.UnitPriceCents = unitPrice
		item.TotalPriceCents = int64(item.Qty) * unitPrice
		item.CostPriceCents = costPrice
		subtotal += item.TotalPriceCents
		items = append(items, item)
	}

	tax := int64(math.Round(float64(subtotal) * sale.TaxRatePercent / 100))
	discount := sale.DiscountCents
	if discount > subtotal+tax {
		discount = subtotal + tax
	}
	sale.SubtotalCents = subtotal
	sale.TaxCents = tax
	sale.DiscountCents = discount
	sale.TotalCents = subtotal + tax - discount
	sale.Items = items

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, business_id, employee_id, customer_id, client_ref, sale_number, subtotal_cents, tax_rate_percent, tax_cents, discount_cents, total_cents, payment_method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sale.ID, sale.BusinessID, sale.EmployeeID, nullIfEmpty(sale.CustomerID),
		sale.ClientRef, sale.SaleNumber, sale.SubtotalCents, sale.TaxRatePercent,
		sale.TaxCents, sale.DiscountCents, sale.TotalCents, sale.PaymentMethod,
		sale.Status, sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			// A retransmission won the race; return what it stored.
			tx.Rollback()
			return s.FindSaleByClientRef(ctx, sale.BusinessID, sale.ClientRef)
		}
		return nil, err
	}

	for _, item := range items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, product_id, qty, unit_price_cents, total_price_cents, cost_price_cents)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			item.ID, item.SaleID, item.ProductID, item.Qty,
			item.UnitPriceCents, item.TotalPriceCents, item.CostPriceCents)
		if err != nil {
			return nil, err
		}
	}

	if sale.CustomerID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE customers
			SET total_purchases_cents = total_purchases_cents + $3, total_orders = total_orders + 1, updated_at = $4
			WHERE id = $1 AND business_id = $2`,
			sale.CustomerID, sale.BusinessID, sale.TotalCents, now)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, fmt.Errorf("customer %s: %w", sale.CustomerID, store.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	created := sale
	return &created, nil
}

const saleColumns = `id, business_id, employee_id, COALESCE(customer_id, ''), client_ref, sale_number, subtotal_cents, tax_rate_percent, tax_cents, discount_cents, total_cents, payment_method, status, status_reason, reversed_at, created_at, updated_at`

func scanSale(row interface{ Scan(...any) error }) (*domain.Sale, error) {
	var (
		sale       domain.Sale
		reversedAt sql.NullTime
	)
	err := row.Scan(&sale.ID, &sale.BusinessID, &sale.EmployeeID, &sale.CustomerID,
		&sale.ClientRef, &sale.SaleNumber, &sale.SubtotalCents, &sale.TaxRatePercent,
		&sale.TaxCents, &sale.DiscountCents, &sale.TotalCents, &sale.PaymentMethod,
		&sale.Status, &sale.StatusReason, &reversedAt, &sale.CreatedAt, &sale.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if reversedAt.Valid {
		at := reversedAt.Time
		sale.ReversedAt = &at
	}
	return &sale, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleIDs []string) (map[string][]domain.SaleItem, error) {
	if len(saleIDs) == 0 {
		return map[string][]domain.SaleItem{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, product_id, qty, unit_price_cents, total_price_cents, cost_price_cents
		FROM sale_items WHERE sale_id = ANY($1) ORDER BY id`, saleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string][]domain.SaleItem, len(saleIDs))
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Qty,
			&item.UnitPriceCents, &item.TotalPriceCents, &item.CostPriceCents); err != nil {
			return nil, err
		}
		items[item.SaleID] = append(items[item.SaleID], item)
	}
	return items, rows.Err()
}

func (s *Store) GetSale(ctx context.Context, businessID string, saleID string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1 AND business_id = $2`,
		saleID, businessID)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}
	items, err := s.loadSaleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return sale, nil
}

func (s *Store) FindSaleByClientRef(ctx context.Context, businessID string, clientRef string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE business_id = $1 AND client_ref = $2`,
		businessID, clientRef)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}
	items, err := s.loadSaleItems(ctx, []string{sale.ID})
	if err != nil {
		return nil, err
	}
	sale.Items = items[sale.ID]
	return sale, nil
}

func (s *Store) ListSalesSince(ctx context.Context, businessID string, since time.Time) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE business_id = $1 AND updated_at > $2 ORDER BY updated_at ASC`,
		businessID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	saleIDs := make([]string, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
		saleIDs = append(saleIDs, sale.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.loadSaleItems(ctx, saleIDs)
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].Items = items[sales[i].ID]
	}
	return sales, nil
}

func (s *Store) ReverseSale(ctx context.Context, businessID string, saleID string, status string, reason string, at time.Time) (*domain.Sale, error) {
	if status != domain.SaleStatusCancelled && status != domain.SaleStatusRefunded {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+saleColumns+` FROM sales WHERE id = $1 AND business_id = $2 FOR UPDATE`,
		saleID, businessID)
	sale, err := scanSale(row)
	if err != nil {
		return nil, err
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, fmt.Errorf("sale %s is %s: %w", saleID, sale.Status, store.ErrConflict)
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT id, sale_id, product_id, qty, unit_price_cents, total_price_cents, cost_price_cents
		FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	items := make([]domain.SaleItem, 0, 4)
	for itemRows.Next() {
		var item domain.SaleItem
		if err := itemRows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Qty,
			&item.UnitPriceCents, &item.TotalPriceCents, &item.CostPriceCents); err != nil {
			itemRows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	itemRows.Close()
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	for _, item := range items {
		var after int
		err := tx.QueryRowContext(ctx, `
			UPDATE products
			SET current_stock = current_stock + $3, updated_at = $4
			WHERE id = $1 AND business_id = $2
			RETURNING current_stock`,
			item.ProductID, businessID, item.Qty, at).Scan(&after)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO inventory_movements (id, business_id, product_id, movement_type, quantity_change, stock_before, stock_after, reference_type, reference_id, note, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'sale', $8, $9, '', $10)`,
			xid.New("mov"), businessID, item.ProductID, domain.MovementReturn,
			item.Qty, after-item.Qty, after, saleID, reason, at)
		if err != nil {
			return nil, err
		}
	}

	if sale.CustomerID != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE customers
			SET total_purchases_cents = total_purchases_cents - $3,
				total_orders = GREATEST(total_orders - 1, 0), updated_at = $4
			WHERE id = $1 AND business_id = $2`,
			sale.CustomerID, businessID, sale.TotalCents, at)
		if err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales SET status = $3, status_reason = $4, reversed_at = $5, updated_at = $5
		WHERE id = $1 AND business_id = $2`,
		saleID, businessID, status, reason, at)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	sale.Status = status
	sale.StatusReason = reason
	reversedAt := at
	sale.ReversedAt = &reversedAt
	sale.UpdatedAt = at
	sale.Items = items
	return sale, nil
}

func (s *Store) ListMovements(ctx context.Context, businessID string, productID string, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 100
	}
	query := `
		SELECT id, business_id, product_id, movement_type, quantity_change, stock_before, stock_after, reference_type, reference_id, note, created_by, created_at
		FROM inventory_movements WHERE business_id = $1`
	args := []any{businessID}
	if productID != "" {
		query += ` AND product_id = $2 ORDER BY created_at DESC LIMIT $3`
		args = append(args, productID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.InventoryMovement, 0, limit)
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.BusinessID, &m.ProductID, &m.MovementType,
			&m.QuantityChange, &m.StockBefore, &m.StockAfter, &m.ReferenceType,
			&m.ReferenceID, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *Store) SumMovements(ctx context.Context, businessID string, productID string) (int, int, error) {
	var sum, count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(quantity_change), 0), COUNT(*)
		FROM inventory_movements WHERE business_id = $1 AND product_id = $2`,
		businessID, productID).Scan(&sum, &count)
	if err != nil {
		return 0, 0, err
	}
	return sum, count, nil
}

func (s *Store) CreateEmployee(ctx context.Context, employee domain.EmployeeAccount) error {
	username := strings.ToLower(strings.TrimSpace(employee.Username))
	if username == "" || employee.Password == "" {
		return store.ErrValidation
	}
	if employee.ID == "" {
		employee.ID = xid.New("emp")
	}
	if employee.CreatedAt.IsZero() {
		employee.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, business_id, username, password, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		employee.ID, employee.BusinessID, username, employee.Password,
		employee.Role, employee.Active, employee.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) ListEmployees(ctx context.Context) ([]domain.EmployeeAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, business_id, username, password, role, active, created_at
		FROM employees ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	employees := make([]domain.EmployeeAccount, 0, 8)
	for rows.Next() {
		var e domain.EmployeeAccount
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.Username, &e.Password,
			&e.Role, &e.Active, &e.CreatedAt); err != nil {
			return nil, err
		}
		employees = append(employees, e)
	}
	return employees, rows.Err()
}

func (s *Store) UpdateEmployeePassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE employees SET password = $2 WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username)), password)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
