package videos

import (
	"context"
	"maps"
	"sync"
	"time"
)

// URLSigner mints time-limited read URLs for private blobs.
type URLSigner interface {
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// signKey identifies one signing request; URLs minted for different
// validity windows are cached apart.
type signKey struct {
	path string
	ttl  time.Duration
}

type cacheEntry struct {
	url     string
	expires time.Time
}

// sweepThreshold bounds how many entries accumulate before expired ones are dropped.
const sweepThreshold = 1024

// CachingSigner wraps another URLSigner with a TTL-based in-memory cache so
// repeated feed loads reuse URLs that are still comfortably valid.
type CachingSigner struct {
	base URLSigner
	ttl  time.Duration
	now  func() time.Time

	mu    sync.RWMutex
	items map[signKey]cacheEntry
}

// NewCachingSigner returns a URLSigner that caches signed URLs for the provided TTL.
func NewCachingSigner(base URLSigner, ttl time.Duration) *CachingSigner {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingSigner{
		base:  base,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[signKey]cacheEntry),
	}
}

// SignedURL returns a cached URL when one is available, otherwise it delegates
// to the underlying signer and stores the result. A cached URL is never kept
// past five sixths of its own validity window.
func (c *CachingSigner) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	if c == nil || c.base == nil {
		return "", ErrSignerUnavailable
	}

	now := c.now()
	key := signKey{path: path, ttl: ttl}

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.url, nil
	}

	url, err := c.base.SignedURL(ctx, path, ttl)
	if err != nil {
		return "", err
	}

	keep := c.ttl
	if limit := ttl - ttl/6; limit < keep {
		keep = limit
	}

	c.mu.Lock()
	if len(c.items) >= sweepThreshold {
		for k, e := range c.items {
			if !now.Before(e.expires) {
				delete(c.items, k)
			}
		}
	}
	c.items[key] = cacheEntry{url: url, expires: now.Add(keep)}
	c.mu.Unlock()

	return url, nil
}

// Forget drops every cached URL for path, e.g. after the blob is deleted.
func (c *CachingSigner) Forget(path string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	maps.DeleteFunc(c.items, func(k signKey, _ cacheEntry) bool { return k.path == path })
	c.mu.Unlock()
}
