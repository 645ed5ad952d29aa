package domain

import "time"

type Product struct {
	ID                string    `json:"id"`
	BusinessID        string    `json:"business_id"`
	ClientRef         string    `json:"client_ref,omitempty"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	CostPriceCents    int64     `json:"cost_price_cents"`
	SellingPriceCents int64     `json:"selling_price_cents"`
	CurrentStock      int       `json:"current_stock"`
	MinStockLevel     int       `json:"min_stock_level"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	CostPriceCents    int64  `json:"cost_price_cents"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	InitialStock      int    `json:"initial_stock"`
	MinStockLevel     int    `json:"min_stock_level"`
}

type ProductUpdateRequest struct {
	Name              *string `json:"name,omitempty"`
	SKU               *string `json:"sku,omitempty"`
	CostPriceCents    *int64  `json:"cost_price_cents,omitempty"`
	SellingPriceCents *int64  `json:"selling_price_cents,omitempty"`
	MinStockLevel     *int    `json:"min_stock_level,omitempty"`
	Active            *bool   `json:"active,omitempty"`
}

type Customer struct {
	ID                  string    `json:"id"`
	BusinessID          string    `json:"business_id"`
	Name                string    `json:"name"`
	Phone               string    `json:"phone,omitempty"`
	TotalPurchasesCents int64     `json:"total_purchases_cents"`
	TotalOrders         int64     `json:"total_orders"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type Sale struct {
	ID             string     `json:"id"`
	BusinessID     string     `json:"business_id"`
	EmployeeID     string     `json:"employee_id"`
	CustomerID     string     `json:"customer_id,omitempty"`
	ClientRef      string     `json:"client_ref,omitempty"`
	SaleNumber     string     `json:"sale_number"`
	SubtotalCents  int64      `json:"subtotal_cents"`
	TaxRatePercent float64    `json:"tax_rate_percent"`
	TaxCents       int64      `json:"tax_cents"`
	DiscountCents  int64      `json:"discount_cents"`
	TotalCents     int64      `json:"total_cents"`
	PaymentMethod  string     `json:"payment_method"`
	Status         string     `json:"status"`
	StatusReason   string     `json:"status_reason,omitempty"`
	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Items          []SaleItem `json:"items"`
}

type SaleItem struct {
	ID              string `json:"id"`
	SaleID          string `json:"sale_id"`
	ProductID       string `json:"product_id"`
	Qty             int    `json:"qty"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
	CostPriceCents  int64  `json:"cost_price_cents"`
}

type SaleLineRequest struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	// UnitPriceCents overrides the product's selling price when positive;
	// zero means "use the catalog price".
	UnitPriceCents int64 `json:"unit_price_cents,omitempty"`
}

type SaleRequest struct {
	CustomerID     string            `json:"customer_id,omitempty"`
	ClientRef      string            `json:"client_ref,omitempty"`
	PaymentMethod  string            `json:"payment_method"`
	DiscountCents  int64             `json:"discount_cents"`
	TaxRatePercent float64           `json:"tax_rate_percent"`
	Items          []SaleLineRequest `json:"items"`
}

type SaleResponse struct {
	Sale        Sale  `json:"sale"`
	ProfitCents int64 `json:"profit_cents"`
	Duplicate   bool  `json:"duplicate"`
}

type SaleReverseRequest struct {
	Reason string `json:"reason"`
}

type InventoryMovement struct {
	ID             string    `json:"id"`
	BusinessID     string    `json:"business_id"`
	ProductID      string    `json:"product_id"`
	MovementType   string    `json:"movement_type"`
	QuantityChange int       `json:"quantity_change"`
	StockBefore    int       `json:"stock_before"`
	StockAfter     int       `json:"stock_after"`
	ReferenceType  string    `json:"reference_type,omitempty"`
	ReferenceID    string    `json:"reference_id,omitempty"`
	Note           string    `json:"note,omitempty"`
	CreatedBy      string    `json:"created_by,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type StockAdjustRequest struct {
	Delta        int    `json:"delta"`
	MovementType string `json:"movement_type"`
	Note         string `json:"note"`
}

// StockDriftReport compares a product's stored stock against its movement
// history. Drift should always be zero; a non-zero value means the product
// row and the ledger have diverged and need manual reconciliation.
type StockDriftReport struct {
	ProductID    string `json:"product_id"`
	CurrentStock int    `json:"current_stock"`
	LedgerStock  int    `json:"ledger_stock"`
	Drift        int    `json:"drift"`
	Movements    int    `json:"movements"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	BusinessID  string `json:"business_id"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated caller every core operation receives. The auth
// layer guarantees EmployeeID and BusinessID are populated; the core never
// inspects permissions beyond the role string.
type Actor struct {
	EmployeeID string
	BusinessID string
	Role       string
}

// EmployeeAccount is an internal persistence model for auth credentials.
type EmployeeAccount struct {
	ID         string
	BusinessID string
	Username   string
	Password   string
	Role       string
	Active     bool
	CreatedAt  time.Time
}

const (
	SaleStatusPending   = "pending"
	SaleStatusCompleted = "completed"
	SaleStatusCancelled = "cancelled"
	SaleStatusRefunded  = "refunded"
)

const (
	MovementSale       = "sale"
	MovementReturn     = "return"
	MovementAdjustment = "adjustment"
	MovementPurchase   = "purchase"
	MovementDamage     = "damage"
	MovementTransfer   = "transfer"
)

const (
	SyncEntityProducts = "products"
	SyncEntitySales    = "sales"
)
