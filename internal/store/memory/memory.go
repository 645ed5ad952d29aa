package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/xid"
)

// Store is an in-memory Repository used for dev mode and tests. A single
// RWMutex makes every unit of work atomic, which gives the same
// exactly-one-winner guarantee the Postgres conditional update provides.
type Store struct {
	mu                  sync.RWMutex
	products            map[string]domain.Product
	productsByClientRef map[string]string
	customers           map[string]domain.Customer
	salesByID           map[string]*domain.Sale
	salesByClientRef    map[string]string
	movements           []domain.InventoryMovement
	employees           map[string]domain.EmployeeAccount
}

func New() *Store {
	return &Store{
		products:            make(map[string]domain.Product),
		productsByClientRef: make(map[string]string),
		customers:           make(map[string]domain.Customer),
		salesByID:           make(map[string]*domain.Sale),
		salesByClientRef:    make(map[string]string),
		employees:           make(map[string]domain.EmployeeAccount),
	}
}

// seedEmployees builds the initial accounts for dev/demo mode. Credentials
// come from SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD; hardcoded dev
// defaults are used with a warning when unset. Production deployments use
// PostgreSQL (DATABASE_URL) and never hit this path.
func seedEmployees(businessID string) map[string]domain.EmployeeAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	employees := map[string]domain.EmployeeAccount{}
	for _, e := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, "owner"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(e.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", e.username, err)
		}
		employees[e.username] = domain.EmployeeAccount{
			ID:         xid.New("emp"),
			BusinessID: businessID,
			Username:   e.username,
			Password:   string(hash),
			Role:       e.role,
			Active:     true,
			CreatedAt:  now,
		}
	}
	return employees
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	businessID := "demo-business"
	now := time.Now().UTC()

	seed := []struct {
		name     string
		sku      string
		cost     int64
		sell     int64
		stock    int
		minLevel int
	}{
		{"Mie Goreng Instan", "SKU-MIE-01", 2700, 3500, 120, 24},
		{"Telur 10 Butir", "SKU-TELUR-01", 23000, 26500, 40, 10},
		{"Susu UHT 1L", "SKU-SUSU-01", 13600, 18900, 30, 8},
		{"Roti Tawar", "SKU-ROTI-01", 12400, 17800, 20, 6},
		{"Kopi Sachet", "SKU-KOPI-01", 1700, 2600, 200, 48},
		{"Gula 1kg", "SKU-GULA-01", 15300, 17400, 35, 10},
		{"Air Mineral 600ml", "SKU-AIR-01", 3200, 3900, 150, 36},
		{"Keripik Singkong", "SKU-KERIPIK-01", 8000, 12800, 25, 8},
	}
	for _, p := range seed {
		product := domain.Product{
			ID:                xid.New("prod"),
			BusinessID:        businessID,
			SKU:               p.sku,
			Name:              p.name,
			CostPriceCents:    p.cost,
			SellingPriceCents: p.sell,
			MinStockLevel:     p.minLevel,
			Active:            true,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if _, err := s.CreateProduct(context.Background(), product, p.stock, "seed"); err != nil {
			log.Fatalf("[memory-store] seed product %s: %v", p.sku, err)
		}
	}

	customer := domain.Customer{
		ID:         xid.New("cust"),
		BusinessID: businessID,
		Name:       "Pelanggan Setia",
		Phone:      "0812-0000-0001",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.CreateCustomer(context.Background(), customer); err != nil {
		log.Fatalf("[memory-store] seed customer: %v", err)
	}

	s.mu.Lock()
	s.employees = seedEmployees(businessID)
	s.mu.Unlock()

	return s
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product, initialStock int, createdBy string) (*domain.Product, error) {
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
	product.CurrentStock = 0

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	if product.ClientRef != "" {
		if _, exists := s.productsByClientRef[product.BusinessID+"/"+product.ClientRef]; exists {
			return nil, store.ErrConflict
		}
	}
	for _, existing := range s.products {
		if existing.BusinessID == product.BusinessID && existing.SKU != "" && existing.SKU == product.SKU {
			return nil, store.ErrConflict
		}
	}

	if initialStock > 0 {
		product.CurrentStock = initialStock
		s.movements = append(s.movements, domain.InventoryMovement{
			ID:             xid.New("mov"),
			BusinessID:     product.BusinessID,
			ProductID:      product.ID,
			MovementType:   domain.MovementAdjustment,
			QuantityChange: initialStock,
			StockBefore:    0,
			StockAfter:     initialStock,
			ReferenceType:  "product",
			ReferenceID:    product.ID,
			Note:           "initial stock",
			CreatedBy:      createdBy,
			CreatedAt:      now,
		})
	}

	s.products[product.ID] = product
	if product.ClientRef != "" {
		s.productsByClientRef[product.BusinessID+"/"+product.ClientRef] = product.ID
	}
	created := product
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.SellingPriceCents < 1 || product.CostPriceCents < 0 || product.MinStockLevel < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.products[product.ID]
	if !ok || existing.BusinessID != product.BusinessID {
		return nil, store.ErrNotFound
	}

	// Stock never moves through a plain update.
	product.CurrentStock = existing.CurrentStock
	product.ClientRef = existing.ClientRef
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProduct(_ context.Context, businessID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok || product.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	found := product
	return &found, nil
}

func (s *Store) GetProductByClientRef(_ context.Context, businessID string, clientRef string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	productID, ok := s.productsByClientRef[businessID+"/"+clientRef]
	if !ok {
		return nil, store.ErrNotFound
	}
	product := s.products[productID]
	found := product
	return &found, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, businessID string, productIDs []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := s.products[id]; ok && product.BusinessID == businessID {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, businessID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		if product.BusinessID == businessID && product.Active {
			products = append(products, product)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

func (s *Store) ListProductsSince(_ context.Context, businessID string, since time.Time) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, 32)
	for _, product := range s.products {
		if product.BusinessID == businessID && product.UpdatedAt.After(since) {
			products = append(products, product)
		}
	}
	sort.Slice(products, func(i, j int) bool { return products[i].UpdatedAt.Before(products[j].UpdatedAt) })
	return products, nil
}

func (s *Store) AdjustStock(_ context.Context, businessID string, productID string, delta int, movementType string, note string, createdBy string) (*domain.InventoryMovement, error) {
	if delta == 0 || !isAdjustmentType(movementType) {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok || product.BusinessID != businessID || !product.Active {
		return nil, store.ErrNotFound
	}
	before := product.CurrentStock
	after := before + delta
	if after < 0 {
		return nil, &store.StockShortageError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Available:   before,
			Requested:   -delta,
		}
	}

	now := time.Now().UTC()
	product.CurrentStock = after
	product.UpdatedAt = now
	s.products[productID] = product

	movement := domain.InventoryMovement{
		ID:             xid.New("mov"),
		BusinessID:     businessID,
		ProductID:      productID,
		MovementType:   movementType,
		QuantityChange: delta,
		StockBefore:    before,
		StockAfter:     after,
		ReferenceType:  "adjustment",
		Note:           note,
		CreatedBy:      createdBy,
		CreatedAt:      now,
	}
	s.movements = append(s.movements, movement)
	return &movement, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, businessID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, ok := s.customers[customerID]
	if !ok || customer.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	found := customer
	return &found, nil
}

func (s *Store) ListCustomers(_ context.Context, businessID string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, customer := range s.customers {
		if customer.BusinessID == businessID {
			customers = append(customers, customer)
		}
	}
	sort.Slice(customers, func(i, j int) bool { return customers[i].Name < customers[j].Name })
	return customers, nil
}

// CreateSale runs the whole sale unit of work under the write lock: stock
// validation and decrement, totals, sale plus items, ledger entries and the
// customer aggregate all land together or not at all.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 || strings.TrimSpace(sale.BusinessID) == "" {
		return nil, store.ErrValidation
	}
	if sale.TaxRatePercent < 0 || sale.TaxRatePercent > 100 || sale.DiscountCents < 0 {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ClientRef != "" {
		if existingID, ok := s.salesByClientRef[sale.BusinessID+"/"+sale.ClientRef]; ok {
			existing := cloneSale(s.salesByID[existingID])
			return existing, nil
		}
	}

	// Validate every line before touching stock so a missing product never
	// leaves a partial decrement behind.
	resolved := make([]domain.SaleItem, 0, len(sale.Items))
	for _, item := range sale.Items {
		if item.Qty < 1 {
			return nil, store.ErrValidation
		}
		product, ok := s.products[item.ProductID]
		if !ok || product.BusinessID != sale.BusinessID || !product.Active {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, store.ErrNotFound)
		}
		unitPrice := item.UnitPriceCents
		if unitPrice == 0 {
			unitPrice = product.SellingPriceCents
		}
		if unitPrice < 1 {
			return nil, store.ErrValidation
		}
		resolved = append(resolved, domain.SaleItem{
			ProductID:      item.ProductID,
			Qty:            item.Qty,
			UnitPriceCents: unitPrice,
			CostPriceCents: product.CostPriceCents,
		})
	}

	var customer domain.Customer
	if sale.CustomerID != "" {
		var ok bool
		customer, ok = s.customers[sale.CustomerID]
		if !ok || customer.BusinessID != sale.BusinessID {
			return nil, fmt.Errorf("customer %s: %w", sale.CustomerID, store.ErrNotFound)
		}
	}

	for _, item := range resolved {
		product := s.products[item.ProductID]
		if product.CurrentStock < item.Qty {
			return nil, &store.StockShortageError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.CurrentStock,
				Requested:   item.Qty,
			}
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

	subtotal := int64(0)
	items := make([]domain.SaleItem, 0, len(resolved))
	for _, item := range resolved {
		product := s.products[item.ProductID]
		before := product.CurrentStock
		after := before - item.Qty
		product.CurrentStock = after
		product.UpdatedAt = now
		s.products[item.ProductID] = product

		s.movements = append(s.movements, domain.InventoryMovement{
			ID:             xid.New("mov"),
			BusinessID:     sale.BusinessID,
			ProductID:      item.ProductID,
			MovementType:   domain.MovementSale,
			QuantityChange: -item.Qty,
			StockBefore:    before,
			StockAfter:     after,
			ReferenceType:  "sale",
			ReferenceID:    sale.ID,
			CreatedBy:      sale.EmployeeID,
			CreatedAt:      now,
		})

		item.ID = xid.New("si")
		item.SaleID = sale.ID
		item.TotalPriceCents = int64(item.Qty) * item.UnitPriceCents
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

	if sale.CustomerID != "" {
		customer.TotalPurchasesCents += sale.TotalCents
		customer.TotalOrders++
		customer.UpdatedAt = now
		s.customers[sale.CustomerID] = customer
	}

	stored := sale
	s.salesByID[sale.ID] = &stored
	if sale.ClientRef != "" {
		s.salesByClientRef[sale.BusinessID+"/"+sale.ClientRef] = sale.ID
	}
	created := cloneSale(&stored)
	return created, nil
}

func (s *Store) GetSale(_ context.Context, businessID string, saleID string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByClientRef(_ context.Context, businessID string, clientRef string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	saleID, ok := s.salesByClientRef[businessID+"/"+clientRef]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[saleID]), nil
}

func (s *Store) ListSalesSince(_ context.Context, businessID string, since time.Time) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, 32)
	for _, sale := range s.salesByID {
		if sale.BusinessID == businessID && sale.UpdatedAt.After(since) {
			sales = append(sales, *cloneSale(sale))
		}
	}
	sort.Slice(sales, func(i, j int) bool { return sales[i].UpdatedAt.Before(sales[j].UpdatedAt) })
	return sales, nil
}

func (s *Store) ReverseSale(_ context.Context, businessID string, saleID string, status string, reason string, at time.Time) (*domain.Sale, error) {
	if status != domain.SaleStatusCancelled && status != domain.SaleStatusRefunded {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[saleID]
	if !ok || sale.BusinessID != businessID {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusCompleted {
		return nil, fmt.Errorf("sale %s is %s: %w", saleID, sale.Status, store.ErrConflict)
	}

	for _, item := range sale.Items {
		product, ok := s.products[item.ProductID]
		if !ok {
			continue
		}
		before := product.CurrentStock
		after := before + item.Qty
		product.CurrentStock = after
		product.UpdatedAt = at
		s.products[item.ProductID] = product

		s.movements = append(s.movements, domain.InventoryMovement{
			ID:             xid.New("mov"),
			BusinessID:     businessID,
			ProductID:      item.ProductID,
			MovementType:   domain.MovementReturn,
			QuantityChange: item.Qty,
			StockBefore:    before,
			StockAfter:     after,
			ReferenceType:  "sale",
			ReferenceID:    sale.ID,
			Note:           reason,
			CreatedAt:      at,
		})
	}

	if sale.CustomerID != "" {
		if customer, ok := s.customers[sale.CustomerID]; ok {
			customer.TotalPurchasesCents -= sale.TotalCents
			if customer.TotalOrders > 0 {
				customer.TotalOrders--
			}
			customer.UpdatedAt = at
			s.customers[sale.CustomerID] = customer
		}
	}

	sale.Status = status
	sale.StatusReason = reason
	reversedAt := at
	sale.ReversedAt = &reversedAt
	sale.UpdatedAt = at
	return cloneSale(sale), nil
}

func (s *Store) ListMovements(_ context.Context, businessID string, productID string, limit int) ([]domain.InventoryMovement, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := make([]domain.InventoryMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(movements) < limit; i-- {
		m := s.movements[i]
		if m.BusinessID != businessID {
			continue
		}
		if productID != "" && m.ProductID != productID {
			continue
		}
		movements = append(movements, m)
	}
	return movements, nil
}

func (s *Store) SumMovements(_ context.Context, businessID string, productID string) (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := 0
	count := 0
	for _, m := range s.movements {
		if m.BusinessID == businessID && m.ProductID == productID {
			sum += m.QuantityChange
			count++
		}
	}
	return sum, count, nil
}

func (s *Store) CreateEmployee(_ context.Context, employee domain.EmployeeAccount) error {
	username := strings.ToLower(strings.TrimSpace(employee.Username))
	if username == "" || employee.Password == "" {
		return store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.employees[username]; exists {
		return store.ErrConflict
	}
	if employee.ID == "" {
		employee.ID = xid.New("emp")
	}
	employee.Username = username
	s.employees[username] = employee
	return nil
}

func (s *Store) ListEmployees(_ context.Context) ([]domain.EmployeeAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	employees := make([]domain.EmployeeAccount, 0, len(s.employees))
	for _, employee := range s.employees {
		employees = append(employees, employee)
	}
	sort.Slice(employees, func(i, j int) bool { return employees[i].Username < employees[j].Username })
	return employees, nil
}

func (s *Store) UpdateEmployeePassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	employee, ok := s.employees[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return store.ErrNotFound
	}
	employee.Password = password
	s.employees[employee.Username] = employee
	return nil
}

func cloneSale(sale *domain.Sale) *domain.Sale {
	copied := *sale
	copied.Items = append([]domain.SaleItem(nil), sale.Items...)
	if sale.ReversedAt != nil {
		at := *sale.ReversedAt
		copied.ReversedAt = &at
	}
	return &copied
}

func isAdjustmentType(movementType string) bool {
	switch movementType {
	case domain.MovementAdjustment, domain.MovementPurchase, domain.MovementDamage, domain.MovementTransfer, domain.MovementReturn:
		return true
	default:
		return false
	}
}
