package payments

import (
	"context"
	"sync"
	"time"
)

// CachedStatus is the last status seen for an intent and when it was seen.
type CachedStatus struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
}

// StatusCache bounds gateway traffic from polling clients. Entries expire on read after the
// cache TTL; implementations must be safe for concurrent use and never fail the caller.
type StatusCache interface {
	Status(ctx context.Context, intentRef string) (CachedStatus, bool)
	SetStatus(ctx context.Context, intentRef string, s Status)
	TransactionID(ctx context.Context, intentRef string) (string, bool)
	SetTransactionID(ctx context.Context, intentRef, txID string)
}

type cachedTx struct {
	id string
	at time.Time
}

// MemoryCache is the in-process StatusCache.
type MemoryCache struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	statuses map[string]CachedStatus
	txIDs    map[string]cachedTx
}

func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{
		ttl:      ttl,
		now:      now,
		statuses: map[string]CachedStatus{},
		txIDs:    map[string]cachedTx{},
	}
}

func (c *MemoryCache) Status(_ context.Context, intentRef string) (CachedStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.statuses[intentRef]
	if !ok || c.now().Sub(v.At) >= c.ttl {
		return CachedStatus{}, false
	}
	return v, true
}

func (c *MemoryCache) SetStatus(_ context.Context, intentRef string, s Status) {
	if intentRef == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[intentRef] = CachedStatus{Status: s, At: c.now()}
}

func (c *MemoryCache) TransactionID(_ context.Context, intentRef string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.txIDs[intentRef]
	if !ok || c.now().Sub(v.at) >= c.ttl {
		return "", false
	}
	return v.id, true
}

func (c *MemoryCache) SetTransactionID(_ context.Context, intentRef, txID string) {
	if intentRef == "" || txID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txIDs[intentRef] = cachedTx{id: txID, at: c.now()}
}
