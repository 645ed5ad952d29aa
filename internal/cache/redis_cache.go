package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"warungpos/backend/internal/domain"
)

// Redis caches product lists under products:<businessID>. Failures degrade
// to a miss; the store stays authoritative.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(ctx context.Context, addr string, password string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) key(businessID string) string { return "products:" + businessID }

func (r *Redis) Get(ctx context.Context, businessID string) ([]domain.Product, bool) {
	payload, err := r.client.Get(ctx, r.key(businessID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[cache] WARN: redis get failed: %v", err)
		}
		return nil, false
	}
	var products []domain.Product
	if err := json.Unmarshal(payload, &products); err != nil {
		log.Printf("[cache] WARN: corrupt cache entry for %s: %v", businessID, err)
		r.client.Del(ctx, r.key(businessID))
		return nil, false
	}
	return products, true
}

func (r *Redis) Set(ctx context.Context, businessID string, products []domain.Product) {
	payload, err := json.Marshal(products)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, r.key(businessID), payload, r.ttl).Err(); err != nil {
		log.Printf("[cache] WARN: redis set failed: %v", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, businessID string) {
	if err := r.client.Del(ctx, r.key(businessID)).Err(); err != nil {
		log.Printf("[cache] WARN: redis del failed: %v", err)
	}
}

func (r *Redis) Close() error { return r.client.Close() }
