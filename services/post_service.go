package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/rpupo63/postzen-backend/errs"
	"github.com/rpupo63/postzen-backend/models"
)

const (
	DefaultFeedPageSize = 10
	MaxPageSize         = 100

	// slugRaceRetries bounds retries when a concurrent writer takes the slug between check and insert
	slugRaceRetries = 3
)

// PostStore is the durable record of posts. database.PostRepo implements it.
type PostStore interface {
	Insert(ctx context.Context, post *models.Post) error
	Update(ctx context.Context, post *models.Post) error
	Delete(ctx context.Context, id uuid.UUID) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Post, error)
	FindBySlug(ctx context.Context, slug string) (*models.Post, error)
	ExistsBySlug(ctx context.Context, slug string) (bool, error)
	FindPublished(ctx context.Context, page, size int) ([]models.Post, int64, error)
	FindByAuthor(ctx context.Context, authorID uuid.UUID, status *models.Status, page, size int) ([]models.Post, int64, error)
	FindDueScheduled(ctx context.Context, now time.Time) ([]models.Post, error)
	PromoteScheduled(ctx context.Context, id uuid.UUID, publishedAt time.Time) (bool, error)
}

// Clock returns the current time. Tests inject a fixed clock.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now().UTC()
}

type CreatePostInput struct {
	Title       string
	Content     string
	Status      models.Status
	ScheduledAt *time.Time
}

// UpdatePostInput carries a partial update; nil fields are left untouched
type UpdatePostInput struct {
	Title       *string
	Content     *string
	Status      *models.Status
	ScheduledAt *time.Time
}

// PostService orchestrates the post lifecycle and keeps the cache coherent with the store
type PostService struct {
	store        PostStore
	sync         *CacheSync
	slugs        SlugGenerator
	canModify    ModifyPolicy
	now          Clock
	feedPageSize int
	feedGroup    singleflight.Group
	logger       zerolog.Logger
}

type PostServiceOption func(*PostService)

func WithClock(clock Clock) PostServiceOption {
	return func(s *PostService) {
		s.now = clock
	}
}

func WithModifyPolicy(policy ModifyPolicy) PostServiceOption {
	return func(s *PostService) {
		s.canModify = policy
	}
}

// WithFeedPageSize sets the default page size; only page 0 at this size is cached
func WithFeedPageSize(size int) PostServiceOption {
	return func(s *PostService) {
		if size > 0 && size <= MaxPageSize {
			s.feedPageSize = size
		}
	}
}

func WithSlugGenerator(g SlugGenerator) PostServiceOption {
	return func(s *PostService) {
		s.slugs = g
	}
}

func NewPostService(store PostStore, sync *CacheSync, opts ...PostServiceOption) *PostService {
	if sync == nil {
		sync = NewCacheSync(nil, DefaultCacheTTL)
	}
	s := &PostService{
		store:        store,
		sync:         sync,
		slugs:        NewSlugGenerator(DefaultMaxSlugAttempts),
		canModify:    CanModify,
		now:          systemClock,
		feedPageSize: DefaultFeedPageSize,
		logger:       log.With().Str("component", "postService").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *PostService) FeedPageSize() int {
	return s.feedPageSize
}

// Create persists a new post owned by requester
func (s *PostService) Create(ctx context.Context, requester *models.Principal, in CreatePostInput) (*models.PostResponse, error) {
	if requester == nil {
		return nil, errs.Unauthorized
	}

	status := in.Status
	if status == "" {
		status = models.StatusDraft
	}
	if !status.Valid() {
		return nil, errs.NewInvalidFieldError("status", "must be one of DRAFT, SCHEDULED, PUBLISHED")
	}

	now := s.now()
	scheduledAt := utcPtr(in.ScheduledAt)
	if status == models.StatusScheduled {
		if err := requireSchedule(scheduledAt); err != nil {
			return nil, err
		}
	}

	post := &models.Post{
		ID:          uuid.New(),
		AuthorID:    requester.ID,
		Title:       in.Title,
		Content:     in.Content,
		Status:      status,
		ScheduledAt: scheduledAt,
	}
	if status == models.StatusPublished {
		post.PublishedAt = &now
	}

	err := s.persistWithSlug(ctx, post, in.Title, "", func() error {
		return s.store.Insert(ctx, post)
	})
	if err != nil {
		return nil, storeErr("create post", err)
	}

	s.sync.PostCreated(ctx, post)
	s.logger.Info().
		Str("postID", post.ID.String()).
		Str("slug", post.Slug).
		Str("status", string(post.Status)).
		Str("authorID", requester.ID.String()).
		Msg("post created")

	resp := models.NewPostResponse(post)
	return &resp, nil
}

// Update applies the supplied fields to a post owned by requester, or any post for an admin
func (s *PostService) Update(ctx context.Context, requester *models.Principal, id uuid.UUID, in UpdatePostInput) (*models.PostResponse, error) {
	post, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storeErr("load post", err)
	}
	if !s.canModify(requester, post.AuthorID) {
		return nil, errs.NewForbiddenError("you don't have permission to update this post")
	}

	before := SnapshotOf(post)
	now := s.now()

	if in.Title != nil {
		post.Title = *in.Title
	}
	if in.Content != nil {
		post.Content = *in.Content
	}
	if in.ScheduledAt != nil {
		post.ScheduledAt = utcPtr(in.ScheduledAt)
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, errs.NewInvalidFieldError("status", "must be one of DRAFT, SCHEDULED, PUBLISHED")
		}
		post.Status = *in.Status
	}
	if post.Status == models.StatusScheduled && (in.Status != nil || in.ScheduledAt != nil) {
		if err := requireSchedule(post.ScheduledAt); err != nil {
			return nil, err
		}
	}

	switch {
	case post.IsPublished() && before.Status != models.StatusPublished:
		post.PublishedAt = &now
	case !post.IsPublished():
		post.PublishedAt = nil
	}

	persist := func() error {
		return s.store.Update(ctx, post)
	}
	if in.Title != nil {
		err = s.persistWithSlug(ctx, post, *in.Title, before.Slug, persist)
	} else {
		err = persist()
	}
	if err != nil {
		return nil, storeErr("update post", err)
	}

	s.sync.PostUpdated(ctx, before, post)
	s.logger.Info().
		Str("postID", post.ID.String()).
		Str("slug", post.Slug).
		Str("previousSlug", before.Slug).
		Str("status", string(post.Status)).
		Str("previousStatus", string(before.Status)).
		Msg("post updated")

	resp := models.NewPostResponse(post)
	return &resp, nil
}

// Delete removes a post owned by requester, or any post for an admin
func (s *PostService) Delete(ctx context.Context, requester *models.Principal, id uuid.UUID) error {
	post, err := s.store.FindByID(ctx, id)
	if err != nil {
		return storeErr("load post", err)
	}
	if !s.canModify(requester, post.AuthorID) {
		return errs.NewForbiddenError("you don't have permission to delete this post")
	}

	s.sync.PostDeleted(ctx, post)
	if err := s.store.Delete(ctx, id); err != nil {
		return storeErr("delete post", err)
	}
	// purge again: a reader may have repopulated the entry between the first purge and the commit
	s.sync.PostDeleted(ctx, post)

	s.logger.Info().Str("postID", post.ID.String()).Str("slug", post.Slug).Msg("post deleted")
	return nil
}

// GetBySlug serves published posts from the cache when possible.
// Unpublished posts are visible to their owner and admins only; everyone else gets NotFound.
func (s *PostService) GetBySlug(ctx context.Context, requester *models.Principal, slug string) (*models.PostResponse, error) {
	if cached, ok := s.sync.CachedPost(ctx, slug); ok {
		return cached, nil
	}

	post, err := s.store.FindBySlug(ctx, slug)
	if err != nil {
		return nil, storeErr("load post", err)
	}

	if !post.IsPublished() {
		if !s.canModify(requester, post.AuthorID) {
			return nil, errs.NewNotFound("post")
		}
		resp := models.NewPostResponse(post)
		return &resp, nil
	}

	s.sync.PostLoaded(ctx, post)
	resp := models.NewPostResponse(post)
	return &resp, nil
}

// GetPublishedFeed returns one page of published posts, newest publication first.
// Only page 0 at the default page size goes through the cache.
func (s *PostService) GetPublishedFeed(ctx context.Context, page, size int) (*models.FeedPage, error) {
	page, size = s.normalizePage(page, size)

	if page != 0 || size != s.feedPageSize {
		return s.loadFeed(ctx, page, size)
	}

	if cached, ok := s.sync.CachedFeed(ctx); ok {
		return cached, nil
	}

	v, err, _ := s.feedGroup.Do(FeedPage0Key, func() (any, error) {
		feed, err := s.loadFeed(ctx, 0, size)
		if err != nil {
			return nil, err
		}
		s.sync.FeedLoaded(ctx, feed)
		return feed, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not share the page
	shared := *v.(*models.FeedPage)
	shared.Content = append([]models.PostSummary(nil), shared.Content...)
	return &shared, nil
}

// GetByAuthor lists an author's posts. Owners and admins see every status, others only published posts.
func (s *PostService) GetByAuthor(ctx context.Context, requester *models.Principal, authorID uuid.UUID, page, size int) (*models.FeedPage, error) {
	page, size = s.normalizePage(page, size)

	var status *models.Status
	if !s.canModify(requester, authorID) {
		published := models.StatusPublished
		status = &published
	}

	posts, total, err := s.store.FindByAuthor(ctx, authorID, status, page, size)
	if err != nil {
		return nil, storeErr("list author posts", err)
	}

	feed := models.NewFeedPage(posts, page, size, total)
	return &feed, nil
}

func (s *PostService) loadFeed(ctx context.Context, page, size int) (*models.FeedPage, error) {
	posts, total, err := s.store.FindPublished(ctx, page, size)
	if err != nil {
		return nil, storeErr("list published posts", err)
	}
	feed := models.NewFeedPage(posts, page, size, total)
	return &feed, nil
}

func (s *PostService) normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = s.feedPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// persistWithSlug assigns a fresh slug derived from title and runs persist, regenerating the
// slug if a concurrent writer claimed it first. ownSlug, the post's current slug, counts as free.
func (s *PostService) persistWithSlug(ctx context.Context, post *models.Post, title, ownSlug string, persist func() error) error {
	exists := func(ctx context.Context, slug string) (bool, error) {
		if ownSlug != "" && slug == ownSlug {
			return false, nil
		}
		return s.store.ExistsBySlug(ctx, slug)
	}

	var err error
	for attempt := 0; attempt < slugRaceRetries; attempt++ {
		var slug string
		slug, err = s.slugs.Generate(ctx, title, fallbackSlug(post.ID), exists)
		if err != nil {
			return err
		}
		post.Slug = slug

		err = persist()
		if err == nil || !errs.IsUniqueConstraintViolationError(err) {
			return err
		}
		s.logger.Warn().Str("slug", slug).Int("attempt", attempt+1).Msg("slug taken concurrently, regenerating")
	}
	return err
}

// fallbackSlug is used for titles that slugify to nothing, e.g. titles in non-Latin scripts
func fallbackSlug(id uuid.UUID) string {
	return "post-" + id.String()[:8]
}

// requireSchedule checks a post entering Scheduled has a time. A time already in the past
// is accepted; the next publisher tick promotes it.
func requireSchedule(scheduledAt *time.Time) error {
	if scheduledAt == nil {
		return errs.NewMissingRequiredFieldError("scheduledAt")
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// storeErr keeps already classified errors (not found, conflict, ...) and reports anything else as unavailable
func storeErr(operation string, err error) error {
	var apiErr *errs.ApiErr
	if errors.As(err, &apiErr) {
		return err
	}
	return errs.NewUnavailableError(operation, err)
}
