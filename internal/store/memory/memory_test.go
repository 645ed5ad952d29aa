package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
)

func TestNewSeededHasWorkingCatalogAndAccounts(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	products, err := s.ListProducts(ctx, "demo-business")
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Fatal("seeded store has no products")
	}
	for _, product := range products {
		if product.CurrentStock < 1 || product.SellingPriceCents < 1 {
			t.Fatalf("seed product %s has no stock or price: %+v", product.Name, product)
		}
	}

	employees, err := s.ListEmployees(ctx)
	if err != nil {
		t.Fatalf("list employees: %v", err)
	}
	if len(employees) != 2 {
		t.Fatalf("employees = %d, want owner and cashier", len(employees))
	}
}

func TestCreateProductRejectsDuplicateClientRef(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := domain.Product{
		BusinessID:        "biz-1",
		ClientRef:         "device-ref-1",
		Name:              "Kopi",
		SellingPriceCents: 2600,
	}
	if _, err := s.CreateProduct(ctx, base, 0, "emp-1"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	base.ID = ""
	base.SKU = "other-sku"
	if _, err := s.CreateProduct(ctx, base, 0, "emp-1"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate client_ref err = %v, want conflict", err)
	}

	found, err := s.GetProductByClientRef(ctx, "biz-1", "device-ref-1")
	if err != nil || found.Name != "Kopi" {
		t.Fatalf("lookup by client_ref = (%+v, %v)", found, err)
	}
	if _, err := s.GetProductByClientRef(ctx, "biz-other", "device-ref-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-business lookup err = %v, want not found", err)
	}
}

func TestCreateSaleInvalidTaxLeavesNoTrace(t *testing.T) {
	s := New()
	ctx := context.Background()
	product, err := s.CreateProduct(ctx, domain.Product{
		BusinessID:        "biz-1",
		Name:              "Kopi",
		SellingPriceCents: 2600,
	}, 10, "emp-1")
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	_, err = s.CreateSale(ctx, domain.Sale{
		BusinessID:     "biz-1",
		TaxRatePercent: 150,
		Items:          []domain.SaleItem{{ProductID: product.ID, Qty: 3}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}

	// The rejected sale must not touch stock or the ledger.
	after, err := s.GetProduct(ctx, "biz-1", product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.CurrentStock != 10 {
		t.Fatalf("stock = %d after rejected sale, want 10", after.CurrentStock)
	}
	sum, count, err := s.SumMovements(ctx, "biz-1", product.ID)
	if err != nil {
		t.Fatalf("sum movements: %v", err)
	}
	if sum != 10 || count != 1 {
		t.Fatalf("ledger = sum %d over %d movements, want 10 over 1", sum, count)
	}

	_, err = s.CreateSale(ctx, domain.Sale{
		BusinessID:    "biz-1",
		DiscountCents: -1,
		Items:         []domain.SaleItem{{ProductID: product.ID, Qty: 1}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("negative discount err = %v, want validation", err)
	}
	after, _ = s.GetProduct(ctx, "biz-1", product.ID)
	if after.CurrentStock != 10 {
		t.Fatalf("stock = %d after second rejected sale, want 10", after.CurrentStock)
	}
}

func TestReverseSaleRejectsUnknownStatus(t *testing.T) {
	s := New()
	_, err := s.ReverseSale(context.Background(), "biz-1", "sale-1", "voided", "", time.Now())
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
}

func TestUpdateProductPreservesStock(t *testing.T) {
	s := New()
	ctx := context.Background()
	created, err := s.CreateProduct(ctx, domain.Product{
		BusinessID:        "biz-1",
		Name:              "Gula",
		SellingPriceCents: 17400,
	}, 12, "emp-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created.Name = "Gula Pasir"
	created.CurrentStock = 999
	updated, err := s.UpdateProduct(ctx, *created)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Gula Pasir" {
		t.Fatalf("name = %s", updated.Name)
	}
	if updated.CurrentStock != 12 {
		t.Fatalf("stock = %d, want 12 (updates never move stock)", updated.CurrentStock)
	}
}
