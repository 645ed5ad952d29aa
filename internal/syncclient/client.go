package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"warungpos/backend/internal/domain"
)

const defaultBatchSize = 25

// Client is the POS-side reconciliation engine. Sales recorded offline are
// queued with a generated local_id, drained to the server in batches, and
// settled per item from the server's results. Pulls apply the server's rows
// over the local snapshot unconditionally: the server is the source of truth
// and local edits never win a conflict.
type Client struct {
	baseURL     string
	token       string
	storage     Storage
	httpClient  *http.Client
	backoffBase time.Duration
	batchSize   int

	// drainMu keeps concurrent SyncCycle calls from double-sending a batch.
	drainMu sync.Mutex
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.httpClient = c }
}

func WithBackoffBase(d time.Duration) Option {
	return func(client *Client) { client.backoffBase = d }
}

func WithBatchSize(n int) Option {
	return func(client *Client) {
		if n > 0 {
			client.batchSize = n
		}
	}
}

func New(baseURL string, token string, storage Storage, opts ...Option) *Client {
	client := &Client{
		baseURL:     baseURL,
		token:       token,
		storage:     storage,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		backoffBase: 2 * time.Second,
		batchSize:   defaultBatchSize,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) SetToken(token string) { c.token = token }

// RecordSale stores a sale locally and queues it for the next drain. The
// cached stock is decremented optimistically so the catalog the cashier sees
// tracks what has been sold offline; the next pull replaces it with the
// server's numbers.
func (c *Client) RecordSale(ctx context.Context, sale domain.SalePush) (string, error) {
	if len(sale.Items) == 0 {
		return "", fmt.Errorf("sale needs at least one item")
	}
	if sale.LocalID == "" {
		sale.LocalID = uuid.NewString()
	}
	payload, err := json.Marshal(sale)
	if err != nil {
		return "", err
	}
	if err := c.storage.Enqueue(ctx, PendingMutation{
		LocalID: sale.LocalID,
		Entity:  domain.SyncEntitySales,
		Payload: payload,
	}); err != nil {
		return "", err
	}
	for _, item := range sale.Items {
		if err := c.storage.AdjustCachedStock(ctx, item.ProductID, -item.Qty); err != nil {
			log.Printf("[syncclient] WARN: adjust cached stock for %s: %v", item.ProductID, err)
		}
	}
	return sale.LocalID, nil
}

// QueueProduct stores a product mutation for the next drain.
func (c *Client) QueueProduct(ctx context.Context, product domain.ProductPush) (string, error) {
	if product.LocalID == "" {
		product.LocalID = uuid.NewString()
	}
	payload, err := json.Marshal(product)
	if err != nil {
		return "", err
	}
	if err := c.storage.Enqueue(ctx, PendingMutation{
		LocalID: product.LocalID,
		Entity:  domain.SyncEntityProducts,
		Payload: payload,
	}); err != nil {
		return "", err
	}
	return product.LocalID, nil
}

func (c *Client) PendingCount(ctx context.Context) (int, error) {
	return c.storage.PendingCount(ctx)
}

// LastErrors returns queued mutations that have failed at least once, for
// surfacing in the POS sync status screen.
func (c *Client) LastErrors(ctx context.Context) ([]PendingMutation, error) {
	failed := make([]PendingMutation, 0, 8)
	for _, entity := range []string{domain.SyncEntitySales, domain.SyncEntityProducts} {
		pending, err := c.storage.ListPending(ctx, entity, c.batchSize)
		if err != nil {
			return nil, err
		}
		for _, m := range pending {
			if m.Attempts > 0 {
				failed = append(failed, m)
			}
		}
	}
	return failed, nil
}

func (c *Client) CachedProducts(ctx context.Context) ([]domain.Product, error) {
	return c.storage.CachedProducts(ctx)
}

func (c *Client) SaleServerID(ctx context.Context, localID string) (string, bool, error) {
	return c.storage.SaleServerID(ctx, localID)
}

// Drain pushes every due pending mutation, sales then products, and settles
// the queue from the per-item results. A failed item stays queued with its
// attempt count bumped; the next drain retries it once its backoff expires.
func (c *Client) Drain(ctx context.Context) error {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	if err := c.drainEntity(ctx, domain.SyncEntitySales); err != nil {
		return err
	}
	return c.drainEntity(ctx, domain.SyncEntityProducts)
}

func (c *Client) drainEntity(ctx context.Context, entity string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending, err := c.storage.ListPending(ctx, entity, c.batchSize)
		if err != nil {
			return err
		}
		due := make([]PendingMutation, 0, len(pending))
		now := time.Now().UTC()
		for _, m := range pending {
			if m.Attempts == 0 || now.After(c.nextAttempt(m)) {
				due = append(due, m)
			}
		}
		if len(due) == 0 {
			return nil
		}

		resp, err := c.push(ctx, entity, due)
		if err != nil {
			// Transport failure: the whole batch stays queued.
			at := time.Now().UTC()
			for _, m := range due {
				if markErr := c.storage.MarkAttempt(ctx, m.LocalID, at, err.Error()); markErr != nil {
					log.Printf("[syncclient] WARN: mark attempt %s: %v", m.LocalID, markErr)
				}
			}
			return err
		}

		for _, result := range resp.Results {
			if result.Success {
				if entity == domain.SyncEntitySales {
					if err := c.storage.MapSale(ctx, result.LocalID, result.ServerID); err != nil {
						log.Printf("[syncclient] WARN: map sale %s: %v", result.LocalID, err)
					}
				}
				if err := c.storage.Remove(ctx, result.LocalID); err != nil {
					return err
				}
				continue
			}
			if err := c.storage.MarkAttempt(ctx, result.LocalID, time.Now().UTC(), result.Error); err != nil {
				log.Printf("[syncclient] WARN: mark attempt %s: %v", result.LocalID, err)
			}
		}
		if len(pending) < c.batchSize {
			return nil
		}
	}
}

// nextAttempt doubles the delay per attempt, capped at base<<6.
func (c *Client) nextAttempt(m PendingMutation) time.Time {
	shift := m.Attempts
	if shift > 6 {
		shift = 6
	}
	return m.LastAttempt.Add(c.backoffBase << shift)
}

func (c *Client) push(ctx context.Context, entity string, batch []PendingMutation) (*domain.PushResponse, error) {
	var body any
	switch entity {
	case domain.SyncEntitySales:
		items := make([]domain.SalePush, 0, len(batch))
		for _, m := range batch {
			var item domain.SalePush
			if err := json.Unmarshal(m.Payload, &item); err != nil {
				return nil, fmt.Errorf("corrupt queued sale %s: %w", m.LocalID, err)
			}
			items = append(items, item)
		}
		body = domain.SalePushRequest{Items: items}
	case domain.SyncEntityProducts:
		items := make([]domain.ProductPush, 0, len(batch))
		for _, m := range batch {
			var item domain.ProductPush
			if err := json.Unmarshal(m.Payload, &item); err != nil {
				return nil, fmt.Errorf("corrupt queued product %s: %w", m.LocalID, err)
			}
			items = append(items, item)
		}
		body = domain.ProductPushRequest{Items: items}
	default:
		return nil, fmt.Errorf("unknown entity %q", entity)
	}

	var resp domain.PushResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/sync/"+entity, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PullProducts fetches product rows changed since the stored cursor and
// applies them over the local snapshot. The cursor advances to the server's
// clock, never the client's.
func (c *Client) PullProducts(ctx context.Context) (int, error) {
	cursor, err := c.storage.Cursor(ctx, domain.SyncEntityProducts)
	if err != nil {
		return 0, err
	}
	var resp domain.PullResponse
	path := "/api/v1/sync/" + domain.SyncEntityProducts + "?last_sync=" + strconv.FormatInt(cursor, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}

	products := make([]domain.Product, 0, len(resp.Products))
	for _, row := range resp.Products {
		products = append(products, row.Product(""))
	}
	if err := c.storage.UpsertProducts(ctx, products); err != nil {
		return 0, err
	}
	if err := c.storage.SetCursor(ctx, domain.SyncEntityProducts, resp.ServerTime); err != nil {
		return 0, err
	}
	return len(products), nil
}

func (c *Client) PullSales(ctx context.Context) (int, error) {
	cursor, err := c.storage.Cursor(ctx, domain.SyncEntitySales)
	if err != nil {
		return 0, err
	}
	var resp domain.PullResponse
	path := "/api/v1/sync/" + domain.SyncEntitySales + "?last_sync=" + strconv.FormatInt(cursor, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return 0, err
	}
	if err := c.storage.UpsertSales(ctx, resp.Sales); err != nil {
		return 0, err
	}
	if err := c.storage.SetCursor(ctx, domain.SyncEntitySales, resp.ServerTime); err != nil {
		return 0, err
	}
	return len(resp.Sales), nil
}

// SyncCycle is one full reconciliation pass: drain the queue first so the
// pull that follows already reflects this device's sales.
func (c *Client) SyncCycle(ctx context.Context) error {
	if err := c.Drain(ctx); err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	if _, err := c.PullProducts(ctx); err != nil {
		return fmt.Errorf("pull products: %w", err)
	}
	if _, err := c.PullSales(ctx); err != nil {
		return fmt.Errorf("pull sales: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	rawQuery := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, rawQuery = path[:i], path[i+1:]
	}
	target, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return err
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(slurp))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
