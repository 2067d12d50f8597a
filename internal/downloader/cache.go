package downloader

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/iconidentify/clipgrab/internal/domain"
)

// Default metadata cache settings.
const (
	DefaultCacheSize = 256
	DefaultCacheTTL  = time.Hour
)

// CachedFetcher memoizes FetchMetadata per URL. Downloads pass through.
type CachedFetcher struct {
	Fetcher
	cache *expirable.LRU[string, domain.MediaInfo]
}

// NewCachedFetcher wraps next with an expiring LRU of the given size.
func NewCachedFetcher(next Fetcher, size int, ttl time.Duration) *CachedFetcher {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedFetcher{
		Fetcher: next,
		cache:   expirable.NewLRU[string, domain.MediaInfo](size, nil, ttl),
	}
}

// FetchMetadata returns a cached copy when present. Failures are not cached.
func (c *CachedFetcher) FetchMetadata(ctx context.Context, url string) (*domain.MediaInfo, error) {
	if info, ok := c.cache.Get(url); ok {
		return cloneInfo(info), nil
	}

	info, err := c.Fetcher.FetchMetadata(ctx, url)
	if err != nil {
		return nil, err
	}
	c.cache.Add(url, *cloneInfo(*info))
	return info, nil
}

// Len returns the number of cached entries.
func (c *CachedFetcher) Len() int {
	return c.cache.Len()
}

func cloneInfo(info domain.MediaInfo) *domain.MediaInfo {
	info.Qualities = slices.Clone(info.Qualities)
	info.ImageURLs = slices.Clone(info.ImageURLs)
	return &info
}
