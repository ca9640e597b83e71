package nominatim

import (
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
)

// cacheKey returns SHA-256 hex of the lower-cased, whitespace-trimmed
// free-form query.
func cacheKey(freeform string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(freeform), " "))
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// BatchWriter flushes many geocode entries in one statement.
type BatchWriter interface {
	PutGeocodeBatch(ctx context.Context, entries map[string]*Result) error
}

// BatchCache reads through an optional backing cache and buffers
// writes in memory until Flush, so a large geocoding pass hits the
// database once instead of per address.
type BatchCache struct {
	backing Cache

	mu      sync.Mutex
	pending map[string]*Result
}

// NewBatchCache wraps backing (which may be nil) with a write buffer.
func NewBatchCache(backing Cache) *BatchCache {
	return &BatchCache{backing: backing, pending: make(map[string]*Result)}
}

func (b *BatchCache) GetGeocode(ctx context.Context, key string) (*Result, bool, error) {
	b.mu.Lock()
	if r, ok := b.pending[key]; ok {
		b.mu.Unlock()
		return r, true, nil
	}
	b.mu.Unlock()

	if b.backing == nil {
		return nil, false, nil
	}
	return b.backing.GetGeocode(ctx, key)
}

func (b *BatchCache) PutGeocode(_ context.Context, key string, r *Result) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[key] = r
	return nil
}

// Flush writes the buffered entries through dst and clears the buffer.
func (b *BatchCache) Flush(ctx context.Context, dst BatchWriter) error {
	b.mu.Lock()
	entries := b.pending
	b.pending = make(map[string]*Result)
	b.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	return dst.PutGeocodeBatch(ctx, entries)
}

var _ Cache = (*BatchCache)(nil)
