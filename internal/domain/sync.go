package domain

import "time"

// Sync wire types. Timestamps cross the wire as epoch milliseconds so the
// client cursor arithmetic never depends on timezone parsing; the server's
// own clock (ServerTime) is what clients must store as their next cursor.

type ProductSyncRow struct {
	ID                string `json:"id"`
	ClientRef         string `json:"client_ref,omitempty"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	CostPriceCents    int64  `json:"cost_price_cents"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	CurrentStock      int    `json:"current_stock"`
	MinStockLevel     int    `json:"min_stock_level"`
	Active            bool   `json:"active"`
	CreatedAt         int64  `json:"created_at"`
	UpdatedAt         int64  `json:"updated_at"`
}

type SaleSyncRow struct {
	ID             string         `json:"id"`
	ClientRef      string         `json:"client_ref,omitempty"`
	CustomerID     string         `json:"customer_id,omitempty"`
	EmployeeID     string         `json:"employee_id"`
	SaleNumber     string         `json:"sale_number"`
	SubtotalCents  int64          `json:"subtotal_cents"`
	TaxCents       int64          `json:"tax_cents"`
	DiscountCents  int64          `json:"discount_cents"`
	TotalCents     int64          `json:"total_cents"`
	PaymentMethod  string         `json:"payment_method"`
	Status         string         `json:"status"`
	Items          []SaleItemSync `json:"items"`
	CreatedAt      int64          `json:"created_at"`
	UpdatedAt      int64          `json:"updated_at"`
}

type SaleItemSync struct {
	ProductID       string `json:"product_id"`
	Qty             int    `json:"qty"`
	UnitPriceCents  int64  `json:"unit_price_cents"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

type PullResponse struct {
	Success    bool             `json:"success"`
	Products   []ProductSyncRow `json:"products,omitempty"`
	Sales      []SaleSyncRow    `json:"sales,omitempty"`
	ServerTime int64            `json:"serverTime"`
}

// ProductPush is one item of a product push batch. A populated ServerID
// means update; empty means create. CurrentStock is deliberately absent:
// stock only moves through the sale processor and explicit adjustments.
type ProductPush struct {
	LocalID           string `json:"local_id"`
	ServerID          string `json:"server_id,omitempty"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	CostPriceCents    int64  `json:"cost_price_cents"`
	SellingPriceCents int64  `json:"selling_price_cents"`
	InitialStock      int    `json:"initial_stock,omitempty"`
	MinStockLevel     int    `json:"min_stock_level"`
	Active            *bool  `json:"active,omitempty"`
}

// SalePush is one item of a sale push batch. It re-enters the sale
// transaction processor server-side; LocalID doubles as the idempotency key.
type SalePush struct {
	LocalID        string            `json:"local_id"`
	ServerID       string            `json:"server_id,omitempty"`
	CustomerID     string            `json:"customer_id,omitempty"`
	PaymentMethod  string            `json:"payment_method"`
	DiscountCents  int64             `json:"discount_cents"`
	TaxRatePercent float64           `json:"tax_rate_percent"`
	Items          []SaleLineRequest `json:"items"`
}

type ProductPushRequest struct {
	Items []ProductPush `json:"items"`
}

type SalePushRequest struct {
	Items []SalePush `json:"items"`
}

type PushResult struct {
	LocalID  string `json:"localId"`
	ServerID string `json:"serverId,omitempty"`
	Action   string `json:"action"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

type PushResponse struct {
	Success    bool         `json:"success"`
	Results    []PushResult `json:"results"`
	ServerTime int64        `json:"serverTime"`
}

const (
	PushActionCreated = "created"
	PushActionUpdated = "updated"
)

func EpochMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func FromEpochMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (p Product) SyncRow() ProductSyncRow {
	return ProductSyncRow{
		ID:                p.ID,
		ClientRef:         p.ClientRef,
		SKU:               p.SKU,
		Name:              p.Name,
		CostPriceCents:    p.CostPriceCents,
		SellingPriceCents: p.SellingPriceCents,
		CurrentStock:      p.CurrentStock,
		MinStockLevel:     p.MinStockLevel,
		Active:            p.Active,
		CreatedAt:         EpochMs(p.CreatedAt),
		UpdatedAt:         EpochMs(p.UpdatedAt),
	}
}

func (r ProductSyncRow) Product(businessID string) Product {
	return Product{
		ID:                r.ID,
		BusinessID:        businessID,
		ClientRef:         r.ClientRef,
		SKU:               r.SKU,
		Name:              r.Name,
		CostPriceCents:    r.CostPriceCents,
		SellingPriceCents: r.SellingPriceCents,
		CurrentStock:      r.CurrentStock,
		MinStockLevel:     r.MinStockLevel,
		Active:            r.Active,
		CreatedAt:         FromEpochMs(r.CreatedAt),
		UpdatedAt:         FromEpochMs(r.UpdatedAt),
	}
}

func (s Sale) SyncRow() SaleSyncRow {
	items := make([]SaleItemSync, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, SaleItemSync{
			ProductID:       item.ProductID,
			Qty:             item.Qty,
			UnitPriceCents:  item.UnitPriceCents,
			TotalPriceCents: item.TotalPriceCents,
		})
	}
	return SaleSyncRow{
		ID:            s.ID,
		ClientRef:     s.ClientRef,
		CustomerID:    s.CustomerID,
		EmployeeID:    s.EmployeeID,
		SaleNumber:    s.SaleNumber,
		SubtotalCents: s.SubtotalCents,
		TaxCents:      s.TaxCents,
		DiscountCents: s.DiscountCents,
		TotalCents:    s.TotalCents,
		PaymentMethod: s.PaymentMethod,
		Status:        s.Status,
		Items:         items,
		CreatedAt:     EpochMs(s.CreatedAt),
		UpdatedAt:     EpochMs(s.UpdatedAt),
	}
}
