package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/models"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "mqe:search:"

// Cache stores merged result sets per tenant. Each tenant has a generation
// counter that is part of every key; bumping it orphans all cached results
// for that tenant at once.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func generationKey(tenantID string) string {
	return cachePrefix + "gen:" + tenantID
}

func resultKey(tenantID string, generation int64, entity models.Entity) string {
	sum := sha256.Sum256([]byte(string(entity.Type) + "\x00" + entity.CanonicalLabel + "\x00" + strings.ToLower(entity.RawSpan)))
	return cachePrefix + tenantID + ":" + strconv.FormatInt(generation, 10) + ":" + hex.EncodeToString(sum[:12])
}

func (c *Cache) generation(ctx context.Context, tenantID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(tenantID)).Int64()
	if stderrors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// lookup returns the cached result set, and the generation it was read
// under so a later store lands under the same one.
func (c *Cache) lookup(ctx context.Context, tenantID string, entity models.Entity) (*models.ResultSet, int64, bool, error) {
	gen, err := c.generation(ctx, tenantID)
	if err != nil {
		return nil, 0, false, err
	}

	data, err := c.client.Get(ctx, resultKey(tenantID, gen, entity)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		metrics.SearchCacheLookups.WithLabelValues("miss").Inc()
		return nil, gen, false, nil
	}
	if err != nil {
		return nil, gen, false, err
	}

	var rs models.ResultSet
	if err := json.Unmarshal(data, &rs); err != nil {
		metrics.SearchCacheLookups.WithLabelValues("miss").Inc()
		return nil, gen, false, nil
	}
	metrics.SearchCacheLookups.WithLabelValues("hit").Inc()
	return &rs, gen, true, nil
}

func (c *Cache) store(ctx context.Context, tenantID string, generation int64, entity models.Entity, rs *models.ResultSet) error {
	data, err := json.Marshal(rs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, resultKey(tenantID, generation, entity), data, c.ttl).Err()
}

// Invalidate drops every cached result for the tenant. Called after each
// committed mutation.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) error {
	return c.client.Incr(ctx, generationKey(tenantID)).Err()
}
