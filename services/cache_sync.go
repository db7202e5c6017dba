package services

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rpupo63/postzen-backend/cache"
	"github.com/rpupo63/postzen-backend/models"
)

const (
	// FeedPage0Key holds the first page of the published feed
	FeedPage0Key = "feed:page0"

	DefaultCacheTTL = 10 * time.Minute
)

// PostKey is the cache key of a published post
func PostKey(slug string) string {
	return "post:" + slug
}

// PostSnapshot is the part of a post's state, captured before a mutation, that drives invalidation
type PostSnapshot struct {
	Slug   string
	Status models.Status
}

func SnapshotOf(p *models.Post) PostSnapshot {
	return PostSnapshot{Slug: p.Slug, Status: p.Status}
}

// CacheSync translates post lifecycle events into cache writes and purges.
// Callers invoke the event methods only after the store write has committed.
// Values at hand are written, anything else is purged. Every cache failure is
// logged and swallowed.
type CacheSync struct {
	cache  cache.Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCacheSync(c cache.Cache, ttl time.Duration) *CacheSync {
	if c == nil {
		c = cache.Nop{}
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CacheSync{
		cache:  c,
		ttl:    ttl,
		logger: log.With().Str("component", "cacheSync").Logger(),
	}
}

func (s *CacheSync) PostCreated(ctx context.Context, post *models.Post) {
	if !post.IsPublished() {
		return
	}
	s.putPost(ctx, post)
	s.purge(ctx, FeedPage0Key)
}

func (s *CacheSync) PostUpdated(ctx context.Context, before PostSnapshot, after *models.Post) {
	slugChanged := before.Slug != after.Slug
	if slugChanged {
		s.purge(ctx, PostKey(before.Slug))
	}

	if after.IsPublished() {
		s.putPost(ctx, after)
	} else {
		s.purge(ctx, PostKey(after.Slug))
	}

	wasPublished := before.Status == models.StatusPublished
	switch {
	case wasPublished != after.IsPublished():
		s.purge(ctx, FeedPage0Key)
	case after.IsPublished() && slugChanged:
		// the cached feed links to the old slug, which now 404s
		s.purge(ctx, FeedPage0Key)
	}
}

func (s *CacheSync) PostDeleted(ctx context.Context, post *models.Post) {
	s.purge(ctx, PostKey(post.Slug))
	if post.IsPublished() {
		s.purge(ctx, FeedPage0Key)
	}
}

// ScheduledPublished purges the feed once for a whole publisher batch.
// Newly published posts are cached lazily on their first read.
func (s *CacheSync) ScheduledPublished(ctx context.Context, promoted int) {
	if promoted > 0 {
		s.purge(ctx, FeedPage0Key)
	}
}

// CachedPost returns the cached public copy of a published post
func (s *CacheSync) CachedPost(ctx context.Context, slug string) (*models.PostResponse, bool) {
	var resp models.PostResponse
	if !s.get(ctx, PostKey(slug), &resp) {
		return nil, false
	}
	return &resp, true
}

// PostLoaded populates the cache after a read miss. Unpublished posts are never cached.
func (s *CacheSync) PostLoaded(ctx context.Context, post *models.Post) {
	if post.IsPublished() {
		s.putPost(ctx, post)
	}
}

func (s *CacheSync) CachedFeed(ctx context.Context) (*models.FeedPage, bool) {
	var page models.FeedPage
	if !s.get(ctx, FeedPage0Key, &page) {
		return nil, false
	}
	return &page, true
}

func (s *CacheSync) FeedLoaded(ctx context.Context, page *models.FeedPage) {
	s.put(ctx, FeedPage0Key, page)
}

func (s *CacheSync) putPost(ctx context.Context, post *models.Post) {
	resp := models.NewPostResponse(post)
	s.put(ctx, PostKey(post.Slug), &resp)
}

func (s *CacheSync) put(ctx context.Context, key string, value any) {
	data, err := sonic.Marshal(value)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("failed to encode cache value")
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to write cache")
	}
}

func (s *CacheSync) get(ctx context.Context, key string, dst any) bool {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.Warn().Err(err).Str("key", key).Msg("failed to read cache")
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache value")
		s.purge(ctx, key)
		return false
	}
	return true
}

func (s *CacheSync) purge(ctx context.Context, key string) {
	if err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to invalidate cache")
	}
}
