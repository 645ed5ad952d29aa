package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warungpos/backend/internal/cache"
	"warungpos/backend/internal/domain"
	"warungpos/backend/internal/store"
)

type actorKey struct{}

// WithActor attaches the authenticated caller; every operation below reads
// it back with ActorFromContext.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo  store.Repository
	cache cache.ProductCache
}

func New(repo store.Repository, productCache cache.ProductCache) *Service {
	if productCache == nil {
		productCache = cache.Noop{}
	}
	return &Service{repo: repo, cache: productCache}
}

func (s *Service) CreateProduct(ctx context.Context, actor domain.Actor, req domain.ProductCreateRequest) (*domain.Product, error) {
	if strings.TrimSpace(req.Name) == "" || req.SellingPriceCents < 1 {
		return nil, store.ErrValidation
	}
	product := domain.Product{
		BusinessID:        actor.BusinessID,
		SKU:               strings.TrimSpace(req.SKU),
		Name:              strings.TrimSpace(req.Name),
		CostPriceCents:    req.CostPriceCents,
		SellingPriceCents: req.SellingPriceCents,
		MinStockLevel:     req.MinStockLevel,
	}
	created, err := s.repo.CreateProduct(ctx, product, req.InitialStock, actor.EmployeeID)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, actor.BusinessID)
	return created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, actor domain.Actor, productID string, req domain.ProductUpdateRequest) (*domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, actor.BusinessID, productID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		product.Name = strings.TrimSpace(*req.Name)
	}
	if req.SKU != nil {
		product.SKU = strings.TrimSpace(*req.SKU)
	}
	if req.CostPriceCents != nil {
		product.CostPriceCents = *req.CostPriceCents
	}
	if req.SellingPriceCents != nil {
		product.SellingPriceCents = *req.SellingPriceCents
	}
	if req.MinStockLevel != nil {
		product.MinStockLevel = *req.MinStockLevel
	}
	if req.Active != nil {
		product.Active = *req.Active
	}
	updated, err := s.repo.UpdateProduct(ctx, *product)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, actor.BusinessID)
	return updated, nil
}

func (s *Service) GetProduct(ctx context.Context, actor domain.Actor, productID string) (*domain.Product, error) {
	return s.repo.GetProduct(ctx, actor.BusinessID, productID)
}

func (s *Service) ListProducts(ctx context.Context, actor domain.Actor) ([]domain.Product, error) {
	if products, ok := s.cache.Get(ctx, actor.BusinessID); ok {
		return products, nil
	}
	products, err := s.repo.ListProducts(ctx, actor.BusinessID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, actor.BusinessID, products)
	return products, nil
}

func (s *Service) AdjustStock(ctx context.Context, actor domain.Actor, productID string, req domain.StockAdjustRequest) (*domain.InventoryMovement, error) {
	movementType := req.MovementType
	if movementType == "" {
		movementType = domain.MovementAdjustment
	}
	movement, err := s.repo.AdjustStock(ctx, actor.BusinessID, productID, req.Delta, movementType, req.Note, actor.EmployeeID)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, actor.BusinessID)
	return movement, nil
}

func (s *Service) ListMovements(ctx context.Context, actor domain.Actor, productID string, limit int) ([]domain.InventoryMovement, error) {
	return s.repo.ListMovements(ctx, actor.BusinessID, productID, limit)
}

// CheckStockDrift recomputes a product's stock from its movement history and
// reports the difference. The ledger and the product row are written in the
// same transaction, so drift is always zero unless someone edited rows by
// hand.
func (s *Service) CheckStockDrift(ctx context.Context, actor domain.Actor, productID string) (*domain.StockDriftReport, error) {
	product, err := s.repo.GetProduct(ctx, actor.BusinessID, productID)
	if err != nil {
		return nil, err
	}
	ledger, count, err := s.repo.SumMovements(ctx, actor.BusinessID, productID)
	if err != nil {
		return nil, err
	}
	return &domain.StockDriftReport{
		ProductID:    productID,
		CurrentStock: product.CurrentStock,
		LedgerStock:  ledger,
		Drift:        product.CurrentStock - ledger,
		Movements:    count,
	}, nil
}

func (s *Service) CreateCustomer(ctx context.Context, actor domain.Actor, req domain.CustomerCreateRequest) (*domain.Customer, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, store.ErrValidation
	}
	return s.repo.CreateCustomer(ctx, domain.Customer{
		BusinessID: actor.BusinessID,
		Name:       strings.TrimSpace(req.Name),
		Phone:      strings.TrimSpace(req.Phone),
	})
}

func (s *Service) GetCustomer(ctx context.Context, actor domain.Actor, customerID string) (*domain.Customer, error) {
	return s.repo.GetCustomer(ctx, actor.BusinessID, customerID)
}

func (s *Service) ListCustomers(ctx context.Context, actor domain.Actor) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, actor.BusinessID)
}

// SubmitSale is the sale transaction processor. A request carrying a
// client_ref it has seen before returns the stored sale with Duplicate set
// instead of selling the stock twice; that is what makes offline replays
// safe.
func (s *Service) SubmitSale(ctx context.Context, actor domain.Actor, req domain.SaleRequest) (*domain.SaleResponse, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("sale needs at least one item: %w", store.ErrValidation)
	}
	if req.TaxRatePercent < 0 || req.TaxRatePercent > 100 || req.DiscountCents < 0 {
		return nil, store.ErrValidation
	}

	if req.ClientRef != "" {
		existing, err := s.repo.FindSaleByClientRef(ctx, actor.BusinessID, req.ClientRef)
		if err == nil {
			return &domain.SaleResponse{Sale: *existing, ProfitCents: profit(existing.Items), Duplicate: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}

	paymentMethod := req.PaymentMethod
	if paymentMethod == "" {
		paymentMethod = "cash"
	}
	switch paymentMethod {
	case "cash", "card", "qris", "transfer":
	default:
		return nil, fmt.Errorf("unsupported payment method %q: %w", paymentMethod, store.ErrValidation)
	}
	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Qty < 1 || strings.TrimSpace(line.ProductID) == "" {
			return nil, store.ErrValidation
		}
		items = append(items, domain.SaleItem{
			ProductID:      line.ProductID,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	sale := domain.Sale{
		BusinessID:     actor.BusinessID,
		EmployeeID:     actor.EmployeeID,
		CustomerID:     req.CustomerID,
		ClientRef:      req.ClientRef,
		PaymentMethod:  paymentMethod,
		TaxRatePercent: req.TaxRatePercent,
		DiscountCents:  req.DiscountCents,
		Items:          items,
	}
	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, actor.BusinessID)
	return &domain.SaleResponse{Sale: *created, ProfitCents: profit(created.Items)}, nil
}

func profit(items []domain.SaleItem) int64 {
	total := int64(0)
	for _, item := range items {
		total += (item.UnitPriceCents - item.CostPriceCents) * int64(item.Qty)
	}
	return total
}

func (s *Service) GetSale(ctx context.Context, actor domain.Actor, saleID string) (*domain.Sale, error) {
	return s.repo.GetSale(ctx, actor.BusinessID, saleID)
}

func (s *Service) CancelSale(ctx context.Context, actor domain.Actor, saleID string, reason string) (*domain.Sale, error) {
	return s.reverseSale(ctx, actor, saleID, domain.SaleStatusCancelled, reason)
}

func (s *Service) RefundSale(ctx context.Context, actor domain.Actor, saleID string, reason string) (*domain.Sale, error) {
	return s.reverseSale(ctx, actor, saleID, domain.SaleStatusRefunded, reason)
}

func (s *Service) reverseSale(ctx context.Context, actor domain.Actor, saleID string, status string, reason string) (*domain.Sale, error) {
	sale, err := s.repo.ReverseSale(ctx, actor.BusinessID, saleID, status, reason, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, actor.BusinessID)
	return sale, nil
}

// Pull returns every row of one entity changed strictly after the client's
// cursor, oldest first, with the server clock for the next cursor. Clients
// must store ServerTime, never their own clock.
func (s *Service) Pull(ctx context.Context, actor domain.Actor, entity string, sinceMs int64) (*domain.PullResponse, error) {
	since := domain.FromEpochMs(sinceMs)
	resp := &domain.PullResponse{Success: true, ServerTime: time.Now().UTC().UnixMilli()}

	switch entity {
	case domain.SyncEntityProducts:
		products, err := s.repo.ListProductsSince(ctx, actor.BusinessID, since)
		if err != nil {
			return nil, err
		}
		resp.Products = make([]domain.ProductSyncRow, 0, len(products))
		for _, product := range products {
			resp.Products = append(resp.Products, product.SyncRow())
		}
	case domain.SyncEntitySales:
		sales, err := s.repo.ListSalesSince(ctx, actor.BusinessID, since)
		if err != nil {
			return nil, err
		}
		resp.Sales = make([]domain.SaleSyncRow, 0, len(sales))
		for _, sale := range sales {
			resp.Sales = append(resp.Sales, sale.SyncRow())
		}
	default:
		return nil, fmt.Errorf("unknown sync entity %q: %w", entity, store.ErrValidation)
	}
	return resp, nil
}

// PushProducts applies a batch of offline product mutations. Items are
// independent: one failure never blocks the rest, and each result carries the
// caller's local_id so the client can settle its queue entry.
func (s *Service) PushProducts(ctx context.Context, actor domain.Actor, req domain.ProductPushRequest) (*domain.PushResponse, error) {
	results := make([]domain.PushResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, s.pushProduct(ctx, actor, item))
	}
	return &domain.PushResponse{
		Success:    true,
		Results:    results,
		ServerTime: time.Now().UTC().UnixMilli(),
	}, nil
}

func (s *Service) pushProduct(ctx context.Context, actor domain.Actor, item domain.ProductPush) domain.PushResult {
	result := domain.PushResult{LocalID: item.LocalID}
	if strings.TrimSpace(item.LocalID) == "" && item.ServerID == "" {
		result.Error = "missing local_id"
		return result
	}

	serverID := item.ServerID
	action := domain.PushActionUpdated
	if serverID == "" {
		existing, err := s.repo.GetProductByClientRef(ctx, actor.BusinessID, item.LocalID)
		switch {
		case err == nil:
			serverID = existing.ID
		case errors.Is(err, store.ErrNotFound):
			created, err := s.repo.CreateProduct(ctx, domain.Product{
				BusinessID:        actor.BusinessID,
				ClientRef:         item.LocalID,
				SKU:               strings.TrimSpace(item.SKU),
				Name:              strings.TrimSpace(item.Name),
				CostPriceCents:    item.CostPriceCents,
				SellingPriceCents: item.SellingPriceCents,
				MinStockLevel:     item.MinStockLevel,
			}, item.InitialStock, actor.EmployeeID)
			if errors.Is(err, store.ErrConflict) {
				// Lost a race with our own retransmission.
				if winner, findErr := s.repo.GetProductByClientRef(ctx, actor.BusinessID, item.LocalID); findErr == nil {
					result.ServerID = winner.ID
					result.Action = domain.PushActionUpdated
					result.Success = true
					return result
				}
			}
			if err != nil {
				result.Error = err.Error()
				return result
			}
			s.cache.Invalidate(ctx, actor.BusinessID)
			result.ServerID = created.ID
			result.Action = domain.PushActionCreated
			result.Success = true
			return result
		default:
			result.Error = err.Error()
			return result
		}
	}

	update := domain.ProductUpdateRequest{
		Name:              &item.Name,
		SKU:               &item.SKU,
		CostPriceCents:    &item.CostPriceCents,
		SellingPriceCents: &item.SellingPriceCents,
		MinStockLevel:     &item.MinStockLevel,
		Active:            item.Active,
	}
	updated, err := s.UpdateProduct(ctx, actor, serverID, update)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.ServerID = updated.ID
	result.Action = action
	result.Success = true
	return result
}

// PushSales replays queued offline sales through SubmitSale. The local_id
// becomes the client_ref, so a batch the client retransmits after a dropped
// response settles as duplicates instead of double-selling stock.
func (s *Service) PushSales(ctx context.Context, actor domain.Actor, req domain.SalePushRequest) (*domain.PushResponse, error) {
	results := make([]domain.PushResult, 0, len(req.Items))
	for _, item := range req.Items {
		results = append(results, s.pushSale(ctx, actor, item))
	}
	return &domain.PushResponse{
		Success:    true,
		Results:    results,
		ServerTime: time.Now().UTC().UnixMilli(),
	}, nil
}

func (s *Service) pushSale(ctx context.Context, actor domain.Actor, item domain.SalePush) domain.PushResult {
	result := domain.PushResult{LocalID: item.LocalID}
	if item.ServerID != "" {
		sale, err := s.repo.GetSale(ctx, actor.BusinessID, item.ServerID)
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.ServerID = sale.ID
		result.Action = domain.PushActionUpdated
		result.Success = true
		return result
	}
	if strings.TrimSpace(item.LocalID) == "" {
		result.Error = "missing local_id"
		return result
	}

	resp, err := s.SubmitSale(ctx, actor, domain.SaleRequest{
		CustomerID:     item.CustomerID,
		ClientRef:      item.LocalID,
		PaymentMethod:  item.PaymentMethod,
		DiscountCents:  item.DiscountCents,
		TaxRatePercent: item.TaxRatePercent,
		Items:          item.Items,
	})
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.ServerID = resp.Sale.ID
	result.Action = domain.PushActionCreated
	if resp.Duplicate {
		result.Action = domain.PushActionUpdated
	}
	result.Success = true
	return result
}
