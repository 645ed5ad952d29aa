package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/service"
	"warungpos/backend/internal/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := memory.New()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := repo.CreateEmployee(context.Background(), domain.EmployeeAccount{
		BusinessID: "biz-test",
		Username:   "kasir",
		Password:   string(hash),
		Role:       "cashier",
		Active:     true,
	}); err != nil {
		t.Fatalf("create employee: %v", err)
	}

	svc := service.New(repo, nil)
	auth := NewAuthManager(repo, "test-secret", time.Hour)
	api := New(svc, auth, "*")
	server := httptest.NewServer(api.Handler())
	t.Cleanup(server.Close)
	return server
}

func login(t *testing.T, server *httptest.Server) string {
	t.Helper()
	var resp domain.LoginResponse
	status := doJSON(t, server, http.MethodPost, "/api/v1/auth/login", "",
		domain.LoginRequest{Username: "kasir", Password: "secret123"}, &resp)
	if status != http.StatusOK {
		t.Fatalf("login status = %d", status)
	}
	if resp.AccessToken == "" || resp.BusinessID != "biz-test" {
		t.Fatalf("login response = %+v", resp)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, server *httptest.Server, method string, path string, token string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func createProduct(t *testing.T, server *httptest.Server, token string, name string, price int64, stock int) domain.Product {
	t.Helper()
	var product domain.Product
	status := doJSON(t, server, http.MethodPost, "/api/v1/products", token,
		domain.ProductCreateRequest{Name: name, SellingPriceCents: price, InitialStock: stock}, &product)
	if status != http.StatusCreated {
		t.Fatalf("create product status = %d", status)
	}
	return product
}

func TestRoutesRequireAuth(t *testing.T) {
	server := newTestServer(t)
	for _, path := range []string{"/api/v1/products", "/api/v1/sales", "/api/v1/sync/products"} {
		if status := doJSON(t, server, http.MethodGet, path, "", nil, nil); status != http.StatusUnauthorized {
			t.Fatalf("GET %s without token = %d, want 401", path, status)
		}
	}
	if status := doJSON(t, server, http.MethodGet, "/api/v1/products", "not-a-token", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("garbage token = %d, want 401", status)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	server := newTestServer(t)
	status := doJSON(t, server, http.MethodPost, "/api/v1/auth/login", "",
		domain.LoginRequest{Username: "kasir", Password: "wrong"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
}

func TestLoginRateLimited(t *testing.T) {
	server := newTestServer(t)
	for i := 0; i < 5; i++ {
		doJSON(t, server, http.MethodPost, "/api/v1/auth/login", "",
			domain.LoginRequest{Username: "kasir", Password: "wrong"}, nil)
	}
	status := doJSON(t, server, http.MethodPost, "/api/v1/auth/login", "",
		domain.LoginRequest{Username: "kasir", Password: "secret123"}, nil)
	if status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 after repeated failures", status)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server)
	product := createProduct(t, server, token, "Kopi Sachet", 2600, 10)

	var saleResp domain.SaleResponse
	status := doJSON(t, server, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleLineRequest{{ProductID: product.ID, Qty: 3}},
	}, &saleResp)
	if status != http.StatusCreated {
		t.Fatalf("submit sale status = %d", status)
	}
	if saleResp.Sale.TotalCents != 7800 {
		t.Fatalf("total = %d, want 7800", saleResp.Sale.TotalCents)
	}

	var fetched domain.Sale
	if status := doJSON(t, server, http.MethodGet, "/api/v1/sales/"+saleResp.Sale.ID, token, nil, &fetched); status != http.StatusOK {
		t.Fatalf("get sale status = %d", status)
	}
	if len(fetched.Items) != 1 || fetched.Items[0].Qty != 3 {
		t.Fatalf("fetched sale items = %+v", fetched.Items)
	}

	var cancelled domain.Sale
	status = doJSON(t, server, http.MethodPut, "/api/v1/sales/"+saleResp.Sale.ID+"/cancel", token,
		domain.SaleReverseRequest{Reason: "mistake"}, &cancelled)
	if status != http.StatusOK || cancelled.Status != domain.SaleStatusCancelled {
		t.Fatalf("cancel status = %d sale = %+v", status, cancelled)
	}

	// Second cancel hits the terminal state.
	status = doJSON(t, server, http.MethodPut, "/api/v1/sales/"+saleResp.Sale.ID+"/cancel", token,
		domain.SaleReverseRequest{Reason: "again"}, nil)
	if status != http.StatusConflict {
		t.Fatalf("double cancel status = %d, want 409", status)
	}
}

func TestSaleShortagePayload(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server)
	product := createProduct(t, server, token, "Roti", 17800, 2)

	var payload struct {
		Success  bool   `json:"success"`
		Error    string `json:"error"`
		Shortage struct {
			ProductID string `json:"product_id"`
			Available int    `json:"available"`
			Requested int    `json:"requested"`
		} `json:"shortage"`
	}
	status := doJSON(t, server, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: product.ID, Qty: 5}},
	}, &payload)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if payload.Shortage.ProductID != product.ID || payload.Shortage.Available != 2 || payload.Shortage.Requested != 5 {
		t.Fatalf("shortage payload = %+v", payload.Shortage)
	}
}

func TestSaleUnknownProductIsBadRequest(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server)
	status := doJSON(t, server, http.MethodPost, "/api/v1/sales", token, domain.SaleRequest{
		Items: []domain.SaleLineRequest{{ProductID: "prod-missing", Qty: 1}},
	}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("submit status = %d, want 400", status)
	}

	// Lookups of missing sales still 404.
	if status := doJSON(t, server, http.MethodGet, "/api/v1/sales/sale-missing", token, nil, nil); status != http.StatusNotFound {
		t.Fatalf("lookup status = %d, want 404", status)
	}
}

func TestSyncPullAndPush(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server)
	product := createProduct(t, server, token, "Gula", 17400, 12)

	var push domain.PushResponse
	status := doJSON(t, server, http.MethodPost, "/api/v1/sync/sales", token, domain.SalePushRequest{
		Items: []domain.SalePush{{
			LocalID: "device-1-sale-1",
			Items:   []domain.SaleLineRequest{{ProductID: product.ID, Qty: 2}},
		}},
	}, &push)
	if status != http.StatusOK {
		t.Fatalf("push status = %d", status)
	}
	if !push.Results[0].Success || push.Results[0].LocalID != "device-1-sale-1" {
		t.Fatalf("push result = %+v", push.Results[0])
	}

	var pull domain.PullResponse
	status = doJSON(t, server, http.MethodGet, "/api/v1/sync/products?last_sync=0", token, nil, &pull)
	if status != http.StatusOK {
		t.Fatalf("pull status = %d", status)
	}
	if len(pull.Products) != 1 || pull.Products[0].CurrentStock != 10 {
		t.Fatalf("pulled products = %+v, want stock 10 after the pushed sale", pull.Products)
	}
	if pull.ServerTime == 0 {
		t.Fatal("pull missing server time")
	}

	status = doJSON(t, server, http.MethodGet, "/api/v1/sync/receipts?last_sync=0", token, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown entity status = %d, want 404", status)
	}

	status = doJSON(t, server, http.MethodGet, "/api/v1/sync/products?last_sync=yesterday", token, nil, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("bad cursor status = %d, want 400", status)
	}
}

func TestAdjustStockAndDriftOverHTTP(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server)
	product := createProduct(t, server, token, "Telur", 26500, 8)

	var movement domain.InventoryMovement
	status := doJSON(t, server, http.MethodPost,
		fmt.Sprintf("/api/v1/products/%s/adjust-stock", product.ID), token,
		domain.StockAdjustRequest{Delta: -3, MovementType: domain.MovementDamage, Note: "dropped tray"}, &movement)
	if status != http.StatusOK {
		t.Fatalf("adjust status = %d", status)
	}
	if movement.StockBefore != 8 || movement.StockAfter != 5 {
		t.Fatalf("movement = %+v, want 8 -> 5", movement)
	}

	var report domain.StockDriftReport
	status = doJSON(t, server, http.MethodGet,
		fmt.Sprintf("/api/v1/products/%s/stock-drift", product.ID), token, nil, &report)
	if status != http.StatusOK || report.Drift != 0 {
		t.Fatalf("drift status = %d report = %+v", status, report)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t)
	token := login(t, server)
	if status := doJSON(t, server, http.MethodDelete, "/api/v1/products", token, nil, nil); status != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", status)
	}
}
