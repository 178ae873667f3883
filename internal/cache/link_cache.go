package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"shortsight/internal/metrics"
	"shortsight/internal/models"
)

const (
	SlugPrefix       = "slug:"
	MetadataPrefix   = "link_metadata:"
	ClickCountPrefix = "click_count:"
	SafetyPrefix     = "url_safety:"
	ValidationPrefix = "url_validation:"
	AnalyticsPrefix  = "analytics:"
)

const (
	SlugTTL       = time.Hour
	MetadataTTL   = 2 * time.Hour
	ClickCountTTL = 30 * time.Minute
	SafetyTTL     = 24 * time.Hour
	AnalyticsTTL  = 30 * time.Minute
)

// LinkCache is the cache-aside layer in front of the link store. It never returns cache
// failures to callers: reads degrade to a miss and writes are skipped, both logged.
type LinkCache struct {
	store  Store
	logger *slog.Logger
}

func NewLinkCache(store Store, logger *slog.Logger) *LinkCache {
	return &LinkCache{store: store, logger: logger}
}

func (c *LinkCache) getJSON(ctx context.Context, namespace, key string, dst any) bool {
	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("Cache read failed", "key", key, "error", err)
			metrics.CacheErrors.WithLabelValues("get").Inc()
		}
		metrics.CacheLookups.WithLabelValues(namespace, "miss").Inc()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.logger.Warn("Discarding undecodable cache entry", "key", key, "error", err)
		_ = c.store.Del(ctx, key)
		metrics.CacheLookups.WithLabelValues(namespace, "miss").Inc()
		return false
	}
	metrics.CacheLookups.WithLabelValues(namespace, "hit").Inc()
	return true
}

func (c *LinkCache) putJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode cache entry", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, raw, ttl); err != nil {
		c.logger.Warn("Cache write failed", "key", key, "error", err)
		metrics.CacheErrors.WithLabelValues("set").Inc()
	}
}

func (c *LinkCache) del(ctx context.Context, keys ...string) {
	if err := c.store.Del(ctx, keys...); err != nil {
		c.logger.Error("Cache invalidation failed", "keys", keys, "error", err)
		metrics.CacheErrors.WithLabelValues("del").Inc()
	}
}

func (c *LinkCache) GetLink(ctx context.Context, slug string) (*models.Link, bool) {
	var link models.Link
	if !c.getJSON(ctx, "slug", SlugPrefix+slug, &link) {
		return nil, false
	}
	return &link, true
}

func (c *LinkCache) PutLink(ctx context.Context, link *models.Link) {
	c.putJSON(ctx, SlugPrefix+link.Slug, link, SlugTTL)
}

func (c *LinkCache) GetMetadata(ctx context.Context, slug string) (*models.LinkMetadata, bool) {
	var meta models.LinkMetadata
	if !c.getJSON(ctx, "link_metadata", MetadataPrefix+slug, &meta) {
		return nil, false
	}
	return &meta, true
}

func (c *LinkCache) PutMetadata(ctx context.Context, meta models.LinkMetadata) {
	c.putJSON(ctx, MetadataPrefix+meta.Slug, meta, MetadataTTL)
}

// Populate writes both the full snapshot and the metadata projection for a link.
func (c *LinkCache) Populate(ctx context.Context, link *models.Link) {
	c.PutLink(ctx, link)
	c.PutMetadata(ctx, link.Metadata())
}

// Invalidate drops every per-slug entry derived from the link row.
func (c *LinkCache) Invalidate(ctx context.Context, slug string) {
	c.del(ctx, SlugPrefix+slug, MetadataPrefix+slug, AnalyticsPrefix+slug)
}

func (c *LinkCache) GetClickCount(ctx context.Context, slug string) (int64, bool) {
	raw, err := c.store.Get(ctx, ClickCountPrefix+slug)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("Cache read failed", "key", ClickCountPrefix+slug, "error", err)
		}
		metrics.CacheLookups.WithLabelValues("click_count", "miss").Inc()
		return 0, false
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		c.logger.Warn("Click counter holds a non-integer", "slug", slug, "error", err)
		return 0, false
	}
	metrics.CacheLookups.WithLabelValues("click_count", "hit").Inc()
	return n, true
}

func (c *LinkCache) IncrementClickCount(ctx context.Context, slug string) (int64, error) {
	n, err := c.store.Incr(ctx, ClickCountPrefix+slug, ClickCountTTL)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("incr").Inc()
		return 0, err
	}
	return n, nil
}

// GetSafety returns the cached boolean verdict for a URL.
func (c *LinkCache) GetSafety(ctx context.Context, url string) (safe bool, found bool) {
	found = c.getJSON(ctx, "url_safety", SafetyPrefix+url, &safe)
	return safe, found
}

func (c *LinkCache) GetValidation(ctx context.Context, url string) (*models.ValidationResult, bool) {
	var res models.ValidationResult
	if !c.getJSON(ctx, "url_validation", ValidationPrefix+url, &res) {
		return nil, false
	}
	return &res, true
}

// PutValidation stores the full result and the boolean verdict for a URL.
func (c *LinkCache) PutValidation(ctx context.Context, url string, res *models.ValidationResult) {
	c.putJSON(ctx, ValidationPrefix+url, res, SafetyTTL)
	c.putJSON(ctx, SafetyPrefix+url, res.IsSafe, SafetyTTL)
}

func (c *LinkCache) InvalidateURL(ctx context.Context, url string) {
	c.del(ctx, SafetyPrefix+url, ValidationPrefix+url)
}

func (c *LinkCache) GetStats(ctx context.Context, slug string) (*models.LinkStats, bool) {
	var stats models.LinkStats
	if !c.getJSON(ctx, "analytics", AnalyticsPrefix+slug, &stats) {
		return nil, false
	}
	return &stats, true
}

func (c *LinkCache) PutStats(ctx context.Context, stats *models.LinkStats) {
	c.putJSON(ctx, AnalyticsPrefix+stats.Slug, stats, AnalyticsTTL)
}

func (c *LinkCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}
