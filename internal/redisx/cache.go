package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-instrument-store/internal/obs"
	"github.com/ariefcatur/go-instrument-store/internal/payments"
)

// StatusCache is the payments.StatusCache shared by every API replica. Redis expiry enforces
// the TTL; the stored timestamp drives the hot-window check. Redis failures count as misses.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
	log *zap.Logger
}

func NewStatusCache(rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) *StatusCache {
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	return &StatusCache{rdb: rdb, ttl: ttl, now: time.Now, log: obs.OrNop(log)}
}

var _ payments.StatusCache = (*StatusCache)(nil)

func (c *StatusCache) Status(ctx context.Context, intentRef string) (payments.CachedStatus, bool) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyPaymentStatus, intentRef)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("status cache read", zap.String("intent_ref", intentRef), zap.Error(err))
		}
		return payments.CachedStatus{}, false
	}
	var v payments.CachedStatus
	if err := json.Unmarshal(raw, &v); err != nil {
		return payments.CachedStatus{}, false
	}
	if c.now().Sub(v.At) >= c.ttl {
		return payments.CachedStatus{}, false
	}
	return v, true
}

func (c *StatusCache) SetStatus(ctx context.Context, intentRef string, s payments.Status) {
	if intentRef == "" {
		return
	}
	b, _ := json.Marshal(payments.CachedStatus{Status: s, At: c.now().UTC()})
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyPaymentStatus, intentRef), b, c.ttl).Err(); err != nil {
		c.log.Warn("status cache write", zap.String("intent_ref", intentRef), zap.Error(err))
	}
}

func (c *StatusCache) TransactionID(ctx context.Context, intentRef string) (string, bool) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyPaymentTxn, intentRef)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("txn cache read", zap.String("intent_ref", intentRef), zap.Error(err))
		}
		return "", false
	}
	return id, id != ""
}

func (c *StatusCache) SetTransactionID(ctx context.Context, intentRef, txID string) {
	if intentRef == "" || txID == "" {
		return
	}
	if err := c.rdb.Set(ctx, fmt.Sprintf(KeyPaymentTxn, intentRef), txID, c.ttl).Err(); err != nil {
		c.log.Warn("txn cache write", zap.String("intent_ref", intentRef), zap.Error(err))
	}
}
