package goBankID

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/goBankID/internal/stores"
	"github.com/redis/go-redis/v9"
)

// QRCacheEntry is the QR seed of one order. StartTime is when the order was
// issued, not when polling began.
type QRCacheEntry struct {
	StartTime     time.Time
	QRStartToken  string
	QRStartSecret string
}

// QRCache stores QR seeds keyed by orderRef. Implementations must be safe for
// concurrent use; an entry must disappear no later than its ttl.
type QRCache interface {
	// Get returns ErrQRCacheMiss when the entry is absent or expired.
	Get(ctx context.Context, orderRef string) (*QRCacheEntry, error)
	Set(ctx context.Context, orderRef string, entry QRCacheEntry, ttl time.Duration) error
	// Delete is a no-op for unknown keys.
	Delete(ctx context.Context, orderRef string) error
}

/*
====================================
MEMORY CACHE
====================================
*/

const memorySweepInterval = time.Minute

type memoryEntry struct {
	entry     QRCacheEntry
	expiresAt time.Time
}

// MemoryQRCache is an in-process QRCache. Expired entries are dropped on
// read and swept on write at most once per minute.
type MemoryQRCache struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryQRCache returns an empty cache owned by the caller. Each Client
// built without an explicit cache gets its own instance.
func NewMemoryQRCache() *MemoryQRCache {
	return newMemoryQRCache(time.Now)
}

func newMemoryQRCache(now func() time.Time) *MemoryQRCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryQRCache{
		entries:   make(map[string]memoryEntry),
		now:       now,
		lastSweep: now(),
	}
}

func (c *MemoryQRCache) Get(_ context.Context, orderRef string) (*QRCacheEntry, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[orderRef]
	if !ok {
		return nil, ErrQRCacheMiss
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, orderRef)
		return nil, ErrQRCacheMiss
	}
	out := e.entry
	return &out, nil
}

func (c *MemoryQRCache) Set(_ context.Context, orderRef string, entry QRCacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("qr cache ttl must be > 0")
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if now.Sub(c.lastSweep) >= memorySweepInterval {
		c.sweepLocked(now)
	}
	c.entries[orderRef] = memoryEntry{entry: entry, expiresAt: now.Add(ttl)}
	return nil
}

func (c *MemoryQRCache) Delete(_ context.Context, orderRef string) error {
	c.mu.Lock()
	delete(c.entries, orderRef)
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryQRCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryQRCache) sweepLocked(now time.Time) {
	for ref, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, ref)
		}
	}
	c.lastSweep = now
}

/*
====================================
REDIS CACHE
====================================
*/

type redisQRCache struct {
	store *stores.QRSeedStore
}

// NewRedisQRCache returns a QRCache backed by Redis. Keys are "<prefix>:<orderRef>"
// and expire through Redis TTLs, so any number of clients may share it.
func NewRedisQRCache(client redis.UniversalClient, prefix string) QRCache {
	return &redisQRCache{store: stores.NewQRSeedStore(client, prefix)}
}

func (c *redisQRCache) Get(ctx context.Context, orderRef string) (*QRCacheEntry, error) {
	seed, err := c.store.Get(ctx, orderRef)
	if err != nil {
		if errors.Is(err, stores.ErrQRSeedNotFound) || errors.Is(err, stores.ErrQRSeedCorrupt) {
			return nil, ErrQRCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrQRCacheUnavailable, err)
	}
	return &QRCacheEntry{
		StartTime:     time.UnixMilli(seed.StartUnixMilli),
		QRStartToken:  seed.QRStartToken,
		QRStartSecret: seed.QRStartSecret,
	}, nil
}

func (c *redisQRCache) Set(ctx context.Context, orderRef string, entry QRCacheEntry, ttl time.Duration) error {
	err := c.store.Save(ctx, orderRef, &stores.QRSeed{
		StartUnixMilli: entry.StartTime.UnixMilli(),
		QRStartToken:   entry.QRStartToken,
		QRStartSecret:  entry.QRStartSecret,
	}, ttl)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQRCacheUnavailable, err)
	}
	return nil
}

func (c *redisQRCache) Delete(ctx context.Context, orderRef string) error {
	if _, err := c.store.Delete(ctx, orderRef); err != nil {
		return fmt.Errorf("%w: %v", ErrQRCacheUnavailable, err)
	}
	return nil
}
