package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/service"
	"warungpos/backend/internal/store"
)

const maxBodyBytes = 1 << 20

// API wires the service to HTTP. All /api/v1 routes except login require a
// bearer token; the parsed Actor rides the request context from there on.
type API struct {
	svc           *service.Service
	auth          *AuthManager
	allowedOrigin string
	mux           *http.ServeMux
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	api := &API{
		svc:           svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		mux:           http.NewServeMux(),
	}
	api.routes()
	return api
}

func (a *API) routes() {
	a.mux.HandleFunc("/healthz", a.handleHealth)
	a.mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts))
	a.mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductSubtree))
	a.mux.HandleFunc("/api/v1/customers", a.requireAuth(a.handleCustomers))
	a.mux.HandleFunc("/api/v1/customers/", a.requireAuth(a.handleCustomerByID))
	a.mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales))
	a.mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleSubtree))
	a.mux.HandleFunc("/api/v1/sync/", a.requireAuth(a.handleSync))
}

func (a *API) Handler() http.Handler {
	return a.withCommon(a.mux)
}

func (a *API) withCommon(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		if a.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
		log.Printf("[http] %s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func (a *API) requireAuth(next func(http.ResponseWriter, *http.Request, domain.Actor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		next(w, r.WithContext(service.WithActor(r.Context(), actor)), actor)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, errTooManyAttempts):
			writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
		case errors.Is(err, errInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid username or password")
		default:
			log.Printf("[http] WARN: login failed: %v", err)
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		products, err := a.svc.ListProducts(r.Context(), actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, products)
	case http.MethodPost:
		var req domain.ProductCreateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		product, err := a.svc.CreateProduct(r.Context(), actor, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, product)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleProductSubtree(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, action := splitResourcePath(r.URL.Path, "/api/v1/products/")
	if id == "" {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		product, err := a.svc.GetProduct(r.Context(), actor, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case action == "" && r.Method == http.MethodPatch:
		var req domain.ProductUpdateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		product, err := a.svc.UpdateProduct(r.Context(), actor, id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case action == "adjust-stock" && r.Method == http.MethodPost:
		var req domain.StockAdjustRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		movement, err := a.svc.AdjustStock(r.Context(), actor, id, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, movement)
	case action == "movements" && r.Method == http.MethodGet:
		limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100)
		movements, err := a.svc.ListMovements(r.Context(), actor, id, limit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, movements)
	case action == "stock-drift" && r.Method == http.MethodGet:
		report, err := a.svc.CheckStockDrift(r.Context(), actor, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomers(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	switch r.Method {
	case http.MethodGet:
		customers, err := a.svc.ListCustomers(r.Context(), actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, customers)
	case http.MethodPost:
		var req domain.CustomerCreateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		customer, err := a.svc.CreateCustomer(r.Context(), actor, req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, customer)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleCustomerByID(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	id, action := splitResourcePath(r.URL.Path, "/api/v1/customers/")
	if id == "" || action != "" {
		writeError(w, http.StatusNotFound, "customer not found")
		return
	}
	customer, err := a.svc.GetCustomer(r.Context(), actor, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, customer)
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	var req domain.SaleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	resp, err := a.svc.SubmitSale(r.Context(), actor, req)
	if err != nil {
		// A line referencing an unknown product makes the submission itself
		// invalid; 404 stays reserved for lookups of missing resources.
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleSaleSubtree(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	id, action := splitResourcePath(r.URL.Path, "/api/v1/sales/")
	if id == "" {
		writeError(w, http.StatusNotFound, "sale not found")
		return
	}
	switch {
	case action == "" && r.Method == http.MethodGet:
		sale, err := a.svc.GetSale(r.Context(), actor, id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	case (action == "cancel" || action == "refund") && r.Method == http.MethodPut:
		var req domain.SaleReverseRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		var (
			sale *domain.Sale
			err  error
		)
		if action == "cancel" {
			sale, err = a.svc.CancelSale(r.Context(), actor, id, req.Reason)
		} else {
			sale, err = a.svc.RefundSale(r.Context(), actor, id, req.Reason)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request, actor domain.Actor) {
	entity := strings.TrimPrefix(r.URL.Path, "/api/v1/sync/")
	if entity != domain.SyncEntityProducts && entity != domain.SyncEntitySales {
		writeError(w, http.StatusNotFound, "unknown sync entity")
		return
	}
	switch r.Method {
	case http.MethodGet:
		sinceMs := int64(0)
		if raw := r.URL.Query().Get("last_sync"); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				writeError(w, http.StatusBadRequest, "last_sync must be epoch milliseconds")
				return
			}
			sinceMs = parsed
		}
		resp, err := a.svc.Pull(r.Context(), actor, entity, sinceMs)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		var (
			resp *domain.PushResponse
			err  error
		)
		if entity == domain.SyncEntityProducts {
			var req domain.ProductPushRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			resp, err = a.svc.PushProducts(r.Context(), actor, req)
		} else {
			var req domain.SalePushRequest
			if !decodeJSON(w, r, &req) {
				return
			}
			resp, err = a.svc.PushSales(r.Context(), actor, req)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeMethodNotAllowed(w)
	}
}

// splitResourcePath peels "<id>" or "<id>/<action>" off a subtree path.
func splitResourcePath(path string, prefix string) (id string, action string) {
	rest := strings.TrimPrefix(path, prefix)
	if rest == path {
		return "", ""
	}
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 2)
	id = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	}
	return id, action
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[http] WARN: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// writeServiceError maps store error sentinels to HTTP statuses. A stock
// shortage gets its own payload so the POS can show the cashier exactly what
// is missing.
func writeServiceError(w http.ResponseWriter, err error) {
	var shortage *store.StockShortageError
	if errors.As(err, &shortage) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":  false,
			"error":    shortage.Error(),
			"shortage": shortage,
		})
		return
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[http] WARN: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func parsePositiveLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	if n > 500 {
		return 500
	}
	return n
}
