package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
	"warungpos/backend/internal/store/memory"
)

var testActor = domain.Actor{EmployeeID: "emp-1", BusinessID: "biz-1", Role: "owner"}

func newTestService(t *testing.T) *Service {
	t.Helper()
	return New(memory.New(), nil)
}

func mustCreateProduct(t *testing.T, svc *Service, name string, sellPrice int64, costPrice int64, stock int) *domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(context.Background(), testActor, domain.ProductCreateRequest{
		Name:              name,
		SellingPriceCents: sellPrice,
		CostPriceCents:    costPrice,
		InitialStock:      stock,
	})
	if err != nil {
		t.Fatalf("create product %s: %v", name, err)
	}
	return product
}

func TestSubmitSaleDecrementsStockAndWritesLedger(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Kopi Sachet", 2600, 1700, 10)

	resp, err := svc.SubmitSale(ctx, testActor, domain.SaleRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleLineRequest{{ProductID: product.ID, Qty: 3}},
	})
	if err != nil {
		t.Fatalf("submit sale: %v", err)
	}
	if resp.Sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("status = %s, want completed", resp.Sale.Status)
	}
	if resp.Sale.SubtotalCents != 7800 || resp.Sale.TotalCents != 7800 {
		t.Fatalf("subtotal/total = %d/%d, want 7800/7800", resp.Sale.SubtotalCents, resp.Sale.TotalCents)
	}
	if resp.ProfitCents != (2600-1700)*3 {
		t.Fatalf("profit = %d, want %d", resp.ProfitCents, (2600-1700)*3)
	}
	if resp.Sale.SaleNumber == "" {
		t.Fatal("sale number not assigned")
	}

	after, err := svc.GetProduct(ctx, testActor, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if after.CurrentStock != 7 {
		t.Fatalf("stock = %d, want 7", after.CurrentStock)
	}

	movements, err := svc.ListMovements(ctx, testActor, product.ID, 10)
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	// Newest first: the sale movement, then the initial stock adjustment.
	if len(movements) != 2 {
		t.Fatalf("movements = %d, want 2", len(movements))
	}
	saleMove := movements[0]
	if saleMove.MovementType != domain.MovementSale {
		t.Fatalf("movement type = %s, want sale", saleMove.MovementType)
	}
	if saleMove.QuantityChange != -3 || saleMove.StockBefore != 10 || saleMove.StockAfter != 7 {
		t.Fatalf("movement = %+v, want change -3 before 10 after 7", saleMove)
	}
	if saleMove.ReferenceID != resp.Sale.ID {
		t.Fatalf("movement references %s, want %s", saleMove.ReferenceID, resp.Sale.ID)
	}
}

func TestSubmitSaleTotalsWithTaxAndDiscount(t *testing.T) {
	svc := newTestService(t)
	product := mustCreateProduct(t, svc, "Susu UHT", 10000, 7000, 20)

	resp, err := svc.SubmitSale(context.Background(), testActor, domain.SaleRequest{
		PaymentMethod:  "qris",
		TaxRatePercent: 11,
		DiscountCents:  500,
		Items:          []domain.SaleLineRequest{{ProductID: product.ID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("submit sale: %v", err)
	}
	sale := resp.Sale
	if sale.SubtotalCents != 20000 {
		t.Fatalf("subtotal = %d, want 20000", sale.SubtotalCents)
	}
	if sale.TaxCents != 2200 {
		t.Fatalf("tax = %d, want 2200", sale.TaxCents)
	}
	if sale.TotalCents != sale.SubtotalCents+sale.TaxCents-sale.DiscountCents {
		t.Fatalf("total %d breaks subtotal+tax-discount identity", sale.TotalCents)
	}
	if sale.TotalCents != 21700 {
		t.Fatalf("total = %d, want 21700", sale.TotalCents)
	}
}

func TestSubmitSaleInsufficientStock(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Roti Tawar", 17800, 12400, 2)

	_, err := svc.SubmitSale(ctx, testActor, domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 5}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}
	var shortage *store.StockShortageError
	if !errors.As(err, &shortage) {
		t.Fatalf("err %T does not carry shortage detail", err)
	}
	if shortage.Available != 2 || shortage.Requested != 5 || shortage.Shortage() != 3 {
		t.Fatalf("shortage = %+v, want available 2 requested 5", shortage)
	}

	// The rejected sale must leave no trace.
	after, _ := svc.GetProduct(ctx, testActor, product.ID)
	if after.CurrentStock != 2 {
		t.Fatalf("stock = %d after rejected sale, want 2", after.CurrentStock)
	}
	movements, _ := svc.ListMovements(ctx, testActor, product.ID, 10)
	if len(movements) != 1 {
		t.Fatalf("movements = %d after rejected sale, want 1 (initial stock only)", len(movements))
	}
}

func TestSubmitSaleUnknownProduct(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SubmitSale(context.Background(), testActor, domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: "prod-missing", Qty: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestConcurrentSalesOfLastUnit(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Gula 1kg", 17400, 15300, 1)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.SubmitSale(ctx, testActor, domain.SaleRequest{
				Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 1}},
			})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, store.ErrInsufficientStock) {
			t.Fatalf("loser got %v, want insufficient stock", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want exactly 1", wins)
	}
	after, _ := svc.GetProduct(ctx, testActor, product.ID)
	if after.CurrentStock != 0 {
		t.Fatalf("stock = %d, want 0", after.CurrentStock)
	}
}

func TestSubmitSaleUpdatesCustomerAggregates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Air Mineral", 3900, 3200, 50)
	customer, err := svc.CreateCustomer(ctx, testActor, domain.CustomerCreateRequest{Name: "Ibu Sari"})
	if err != nil {
		t.Fatalf("create customer: %v", err)
	}

	resp, err := svc.SubmitSale(ctx, testActor, domain.SaleRequest{
		CustomerID: customer.ID,
		Items:      []domain.SaleLineRequest{{ProductID: product.ID, Qty: 4}},
	})
	if err != nil {
		t.Fatalf("submit sale: %v", err)
	}

	after, err := svc.GetCustomer(ctx, testActor, customer.ID)
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if after.TotalOrders != 1 || after.TotalPurchasesCents != resp.Sale.TotalCents {
		t.Fatalf("aggregates = %d orders / %d cents, want 1 / %d",
			after.TotalOrders, after.TotalPurchasesCents, resp.Sale.TotalCents)
	}
}

func TestCancelSaleRestoresStockAndAggregates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Keripik", 12800, 8000, 10)
	customer, _ := svc.CreateCustomer(ctx, testActor, domain.CustomerCreateRequest{Name: "Pak Budi"})

	resp, err := svc.SubmitSale(ctx, testActor, domain.SaleRequest{
		CustomerID: customer.ID,
		Items:      []domain.SaleLineRequest{{ProductID: product.ID, Qty: 4}},
	})
	if err != nil {
		t.Fatalf("submit sale: %v", err)
	}

	cancelled, err := svc.CancelSale(ctx, testActor, resp.Sale.ID, "customer walked away")
	if err != nil {
		t.Fatalf("cancel sale: %v", err)
	}
	if cancelled.Status != domain.SaleStatusCancelled || cancelled.ReversedAt == nil {
		t.Fatalf("sale = %+v, want cancelled with reversed_at", cancelled)
	}

	after, _ := svc.GetProduct(ctx, testActor, product.ID)
	if after.CurrentStock != 10 {
		t.Fatalf("stock = %d after cancel, want 10", after.CurrentStock)
	}

	movements, _ := svc.ListMovements(ctx, testActor, product.ID, 10)
	if movements[0].MovementType != domain.MovementReturn || movements[0].QuantityChange != 4 {
		t.Fatalf("newest movement = %+v, want return +4", movements[0])
	}

	cust, _ := svc.GetCustomer(ctx, testActor, customer.ID)
	if cust.TotalOrders != 0 || cust.TotalPurchasesCents != 0 {
		t.Fatalf("aggregates = %d orders / %d cents after cancel, want 0 / 0",
			cust.TotalOrders, cust.TotalPurchasesCents)
	}

	// Terminal states reject further transitions.
	if _, err := svc.CancelSale(ctx, testActor, resp.Sale.ID, "again"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second cancel err = %v, want conflict", err)
	}
	if _, err := svc.RefundSale(ctx, testActor, resp.Sale.ID, "refund after cancel"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("refund after cancel err = %v, want conflict", err)
	}
}

func TestRefundSale(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Telur", 26500, 23000, 6)

	resp, err := svc.SubmitSale(ctx, testActor, domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 2}},
	})
	if err != nil {
		t.Fatalf("submit sale: %v", err)
	}

	refunded, err := svc.RefundSale(ctx, testActor, resp.Sale.ID, "broken eggs")
	if err != nil {
		t.Fatalf("refund sale: %v", err)
	}
	if refunded.Status != domain.SaleStatusRefunded || refunded.StatusReason != "broken eggs" {
		t.Fatalf("sale = %+v, want refunded with reason", refunded)
	}
	after, _ := svc.GetProduct(ctx, testActor, product.ID)
	if after.CurrentStock != 6 {
		t.Fatalf("stock = %d after refund, want 6", after.CurrentStock)
	}
}

func TestSubmitSaleClientRefIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Mie Instan", 3500, 2700, 10)

	req := domain.SaleRequest{
		ClientRef: "device-a-0001",
		Items:     []domain.SaleLineRequest{{ProductID: product.ID, Qty: 2}},
	}
	first, err := svc.SubmitSale(ctx, testActor, req)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := svc.SubmitSale(ctx, testActor, req)
	if err != nil {
		t.Fatalf("replay submit: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("replay not flagged as duplicate")
	}
	if second.Sale.ID != first.Sale.ID {
		t.Fatalf("replay created a second sale: %s vs %s", second.Sale.ID, first.Sale.ID)
	}
	after, _ := svc.GetProduct(ctx, testActor, product.ID)
	if after.CurrentStock != 8 {
		t.Fatalf("stock = %d, want 8 (decremented once)", after.CurrentStock)
	}
}

func TestPushSalesBatchIndependence(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Kopi", 2600, 1700, 3)

	resp, err := svc.PushSales(ctx, testActor, domain.SalePushRequest{Items: []domain.SalePush{
		{LocalID: "local-1", Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 2}}},
		{LocalID: "local-2", Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 5}}},
		{LocalID: "local-3", Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 1}}},
	}})
	if err != nil {
		t.Fatalf("push sales: %v", err)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("results = %d, want 3", len(resp.Results))
	}
	if !resp.Results[0].Success || resp.Results[0].Action != domain.PushActionCreated {
		t.Fatalf("result[0] = %+v, want created", resp.Results[0])
	}
	if resp.Results[1].Success || resp.Results[1].Error == "" {
		t.Fatalf("result[1] = %+v, want failure with error", resp.Results[1])
	}
	// The shortage in the middle must not block the item after it.
	if !resp.Results[2].Success {
		t.Fatalf("result[2] = %+v, want success", resp.Results[2])
	}
	if resp.ServerTime == 0 {
		t.Fatal("server time missing")
	}
}

func TestPushSalesRetransmission(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Sabun", 5000, 3500, 10)

	batch := domain.SalePushRequest{Items: []domain.SalePush{
		{LocalID: "local-9", Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 3}}},
	}}
	first, err := svc.PushSales(ctx, testActor, batch)
	if err != nil {
		t.Fatalf("first push: %v", err)
	}
	second, err := svc.PushSales(ctx, testActor, batch)
	if err != nil {
		t.Fatalf("retransmitted push: %v", err)
	}
	if second.Results[0].ServerID != first.Results[0].ServerID {
		t.Fatalf("retransmission created a new sale: %s vs %s",
			second.Results[0].ServerID, first.Results[0].ServerID)
	}
	if second.Results[0].Action != domain.PushActionUpdated {
		t.Fatalf("retransmission action = %s, want updated", second.Results[0].Action)
	}
	after, _ := svc.GetProduct(ctx, testActor, product.ID)
	if after.CurrentStock != 7 {
		t.Fatalf("stock = %d, want 7", after.CurrentStock)
	}
}

func TestPushProductsCreateAndUpdate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.PushProducts(ctx, testActor, domain.ProductPushRequest{Items: []domain.ProductPush{
		{LocalID: "dev-prod-1", Name: "Teh Botol", SellingPriceCents: 4500, CostPriceCents: 3000, InitialStock: 12},
	}})
	if err != nil {
		t.Fatalf("push products: %v", err)
	}
	result := created.Results[0]
	if !result.Success || result.Action != domain.PushActionCreated || result.ServerID == "" {
		t.Fatalf("result = %+v, want created with server id", result)
	}

	product, err := svc.GetProduct(ctx, testActor, result.ServerID)
	if err != nil {
		t.Fatalf("get pushed product: %v", err)
	}
	if product.CurrentStock != 12 {
		t.Fatalf("stock = %d, want 12 seeded via adjustment", product.CurrentStock)
	}
	movements, _ := svc.ListMovements(ctx, testActor, product.ID, 5)
	if len(movements) != 1 || movements[0].MovementType != domain.MovementAdjustment {
		t.Fatalf("movements = %+v, want one adjustment", movements)
	}

	// Retransmission of the same local_id updates instead of duplicating.
	again, err := svc.PushProducts(ctx, testActor, domain.ProductPushRequest{Items: []domain.ProductPush{
		{LocalID: "dev-prod-1", Name: "Teh Botol Dingin", SellingPriceCents: 5000, CostPriceCents: 3000},
	}})
	if err != nil {
		t.Fatalf("retransmit push: %v", err)
	}
	if again.Results[0].Action != domain.PushActionUpdated || again.Results[0].ServerID != result.ServerID {
		t.Fatalf("retransmit result = %+v, want update of %s", again.Results[0], result.ServerID)
	}
	updated, _ := svc.GetProduct(ctx, testActor, result.ServerID)
	if updated.Name != "Teh Botol Dingin" || updated.CurrentStock != 12 {
		t.Fatalf("product = %+v, want renamed with stock untouched", updated)
	}
}

func TestPullProductsSinceCursor(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	mustCreateProduct(t, svc, "Beras 5kg", 70000, 62000, 8)

	// The cursor has millisecond resolution; make sure the row is strictly
	// older than the server time the first pull reports.
	time.Sleep(2 * time.Millisecond)

	resp, err := svc.Pull(ctx, testActor, domain.SyncEntityProducts, 0)
	if err != nil {
		t.Fatalf("pull products: %v", err)
	}
	if len(resp.Products) != 1 {
		t.Fatalf("products = %d, want 1", len(resp.Products))
	}
	if resp.ServerTime < resp.Products[0].UpdatedAt {
		t.Fatal("server time precedes the newest row")
	}

	// A cursor at the server clock sees nothing new.
	again, err := svc.Pull(ctx, testActor, domain.SyncEntityProducts, resp.ServerTime)
	if err != nil {
		t.Fatalf("second pull: %v", err)
	}
	if len(again.Products) != 0 {
		t.Fatalf("products after cursor = %d, want 0", len(again.Products))
	}
}

func TestPullSalesAfterPush(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Minyak 1L", 19000, 16500, 5)

	pushed, err := svc.PushSales(ctx, testActor, domain.SalePushRequest{Items: []domain.SalePush{
		{LocalID: "local-pull-1", Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 1}}},
	}})
	if err != nil {
		t.Fatalf("push sales: %v", err)
	}

	resp, err := svc.Pull(ctx, testActor, domain.SyncEntitySales, 0)
	if err != nil {
		t.Fatalf("pull sales: %v", err)
	}
	if len(resp.Sales) != 1 {
		t.Fatalf("sales = %d, want 1", len(resp.Sales))
	}
	if resp.Sales[0].ID != pushed.Results[0].ServerID {
		t.Fatalf("pulled %s, want %s", resp.Sales[0].ID, pushed.Results[0].ServerID)
	}
	if resp.Sales[0].ClientRef != "local-pull-1" {
		t.Fatalf("client_ref = %s, want local-pull-1", resp.Sales[0].ClientRef)
	}
}

func TestCheckStockDrift(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	product := mustCreateProduct(t, svc, "Sarden", 14000, 11000, 9)

	if _, err := svc.SubmitSale(ctx, testActor, domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 4}},
	}); err != nil {
		t.Fatalf("submit sale: %v", err)
	}
	if _, err := svc.AdjustStock(ctx, testActor, product.ID, domain.StockAdjustRequest{Delta: 2, MovementType: domain.MovementPurchase}); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}

	report, err := svc.CheckStockDrift(ctx, testActor, product.ID)
	if err != nil {
		t.Fatalf("check drift: %v", err)
	}
	if report.Drift != 0 {
		t.Fatalf("drift = %d, want 0 (stock %d ledger %d)", report.Drift, report.CurrentStock, report.LedgerStock)
	}
	if report.CurrentStock != 7 || report.Movements != 3 {
		t.Fatalf("report = %+v, want stock 7 over 3 movements", report)
	}
}

func TestAdjustStockCannotGoNegative(t *testing.T) {
	svc := newTestService(t)
	product := mustCreateProduct(t, svc, "Lilin", 2000, 1200, 3)

	_, err := svc.AdjustStock(context.Background(), testActor, product.ID, domain.StockAdjustRequest{
		Delta:        -5,
		MovementType: domain.MovementDamage,
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("err = %v, want insufficient stock", err)
	}
}
