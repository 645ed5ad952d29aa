package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"warungpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
)

// StockShortageError carries the exact shortage for one sale line so the POS
// client can show the cashier what is missing. It unwraps to
// ErrInsufficientStock for errors.Is checks.
type StockShortageError struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, requested %d", e.ProductID, e.Available, e.Requested)
}

func (e *StockShortageError) Unwrap() error { return ErrInsufficientStock }

func (e *StockShortageError) Shortage() int { return e.Requested - e.Available }

// Repository is the authoritative persistence surface. CreateSale and
// ReverseSale are transactional units of work: either every write inside
// them lands or none does.
type Repository interface {
	CreateProduct(ctx context.Context, product domain.Product, initialStock int, createdBy string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, businessID string, productID string) (*domain.Product, error)
	GetProductByClientRef(ctx context.Context, businessID string, clientRef string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, businessID string, productIDs []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, businessID string) ([]domain.Product, error)
	ListProductsSince(ctx context.Context, businessID string, since time.Time) ([]domain.Product, error)
	AdjustStock(ctx context.Context, businessID string, productID string, delta int, movementType string, note string, createdBy string) (*domain.InventoryMovement, error)

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, businessID string, customerID string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, businessID string) ([]domain.Customer, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, businessID string, saleID string) (*domain.Sale, error)
	FindSaleByClientRef(ctx context.Context, businessID string, clientRef string) (*domain.Sale, error)
	ListSalesSince(ctx context.Context, businessID string, since time.Time) ([]domain.Sale, error)
	ReverseSale(ctx context.Context, businessID string, saleID string, status string, reason string, at time.Time) (*domain.Sale, error)

	ListMovements(ctx context.Context, businessID string, productID string, limit int) ([]domain.InventoryMovement, error)
	SumMovements(ctx context.Context, businessID string, productID string) (int, int, error)

	CreateEmployee(ctx context.Context, employee domain.EmployeeAccount) error
	ListEmployees(ctx context.Context) ([]domain.EmployeeAccount, error)
	UpdateEmployeePassword(ctx context.Context, username string, password string) error
}
