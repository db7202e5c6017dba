package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpupo63/postzen-backend/cache"
	"github.com/rpupo63/postzen-backend/errs"
	"github.com/rpupo63/postzen-backend/models"
)

var errStoreDown = errors.New("connection refused")

// memStore is an in-memory PostStore with call counters and failure injection
type memStore struct {
	mu    sync.Mutex
	posts map[uuid.UUID]models.Post

	calls map[string]int

	// failing makes every call return errStoreDown
	failing bool
	// insertConflicts makes the next n Insert calls report a unique violation
	insertConflicts int
	promoteErr      map[uuid.UUID]error
	// beforePromote runs without the lock held, right before a promotion is applied
	beforePromote func(id uuid.UUID)
}

func newMemStore() *memStore {
	return &memStore{
		posts:      make(map[uuid.UUID]models.Post),
		calls:      make(map[string]int),
		promoteErr: make(map[uuid.UUID]error),
	}
}

func (s *memStore) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *memStore) enter(name string) error {
	s.mu.Lock()
	s.calls[name]++
	if s.failing {
		s.mu.Unlock()
		return errStoreDown
	}
	return nil
}

func (s *memStore) Insert(_ context.Context, post *models.Post) error {
	if err := s.enter("Insert"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.insertConflicts > 0 {
		s.insertConflicts--
		return errs.NewUniqueConstraintViolationError("post", "slug", errors.New("duplicate key"))
	}
	for _, p := range s.posts {
		if p.Slug == post.Slug {
			return errs.NewUniqueConstraintViolationError("post", "slug", errors.New("duplicate key"))
		}
	}
	now := time.Now().UTC()
	post.CreatedAt, post.UpdatedAt = now, now
	s.posts[post.ID] = *post
	return nil
}

func (s *memStore) Update(_ context.Context, post *models.Post) error {
	if err := s.enter("Update"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, ok := s.posts[post.ID]; !ok {
		return errs.NewNotFound("post")
	}
	for id, p := range s.posts {
		if id != post.ID && p.Slug == post.Slug {
			return errs.NewUniqueConstraintViolationError("post", "slug", errors.New("duplicate key"))
		}
	}
	post.UpdatedAt = time.Now().UTC()
	s.posts[post.ID] = *post
	return nil
}

func (s *memStore) Delete(_ context.Context, id uuid.UUID) error {
	if err := s.enter("Delete"); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return errs.NewNotFound("post")
	}
	delete(s.posts, id)
	return nil
}

func (s *memStore) FindByID(_ context.Context, id uuid.UUID) (*models.Post, error) {
	if err := s.enter("FindByID"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, errs.NewNotFound("post")
	}
	return &p, nil
}

func (s *memStore) FindBySlug(_ context.Context, slug string) (*models.Post, error) {
	if err := s.enter("FindBySlug"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	for _, p := range s.posts {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, errs.NewNotFound("post")
}

func (s *memStore) ExistsBySlug(_ context.Context, slug string) (bool, error) {
	if err := s.enter("ExistsBySlug"); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	for _, p := range s.posts {
		if p.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) FindPublished(_ context.Context, page, size int) ([]models.Post, int64, error) {
	if err := s.enter("FindPublished"); err != nil {
		return nil, 0, err
	}
	defer s.mu.Unlock()

	var published []models.Post
	for _, p := range s.posts {
		if p.IsPublished() {
			published = append(published, p)
		}
	}
	sort.Slice(published, func(i, j int) bool {
		return published[i].PublishedAt.After(*published[j].PublishedAt)
	})
	return pageOf(published, page, size), int64(len(published)), nil
}

func (s *memStore) FindByAuthor(_ context.Context, authorID uuid.UUID, status *models.Status, page, size int) ([]models.Post, int64, error) {
	if err := s.enter("FindByAuthor"); err != nil {
		return nil, 0, err
	}
	defer s.mu.Unlock()

	var posts []models.Post
	for _, p := range s.posts {
		if p.AuthorID != authorID || (status != nil && p.Status != *status) {
			continue
		}
		posts = append(posts, p)
	}
	sort.Slice(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
	return pageOf(posts, page, size), int64(len(posts)), nil
}

func (s *memStore) FindDueScheduled(_ context.Context, now time.Time) ([]models.Post, error) {
	if err := s.enter("FindDueScheduled"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var due []models.Post
	for _, p := range s.posts {
		if p.Status == models.StatusScheduled && p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

func (s *memStore) PromoteScheduled(_ context.Context, id uuid.UUID, publishedAt time.Time) (bool, error) {
	if err := s.enter("PromoteScheduled"); err != nil {
		return false, err
	}
	hook := s.beforePromote
	s.mu.Unlock()
	if hook != nil {
		hook(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.promoteErr[id]; err != nil {
		return false, err
	}
	p, ok := s.posts[id]
	if !ok || p.Status != models.StatusScheduled {
		return false, nil
	}
	p.Status = models.StatusPublished
	p.PublishedAt = &publishedAt
	s.posts[id] = p
	return true, nil
}

// put stores a post directly, bypassing counters
func (s *memStore) put(p models.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = p
}

func (s *memStore) get(id uuid.UUID) (models.Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	return p, ok
}

func pageOf(posts []models.Post, page, size int) []models.Post {
	start := page * size
	if start >= len(posts) {
		return []models.Post{}
	}
	end := min(start+size, len(posts))
	return posts[start:end]
}

// recordingCache wraps a memory cache, recording every operation as "op key"
type recordingCache struct {
	mu      sync.Mutex
	inner   *cache.Memory
	ops     []string
	failing bool
}

func newRecordingCache() *recordingCache {
	return &recordingCache{inner: cache.NewMemory()}
}

func (c *recordingCache) record(op, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op+" "+key)
	if c.failing {
		return errors.New("cache unreachable")
	}
	return nil
}

func (c *recordingCache) Get(ctx context.Context, key string) ([]byte, error) {
	if err := c.record("get", key); err != nil {
		return nil, err
	}
	return c.inner.Get(ctx, key)
}

func (c *recordingCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.record("set", key); err != nil {
		return err
	}
	return c.inner.Set(ctx, key, value, ttl)
}

func (c *recordingCache) Delete(ctx context.Context, key string) error {
	if err := c.record("del", key); err != nil {
		return err
	}
	return c.inner.Delete(ctx, key)
}

func (c *recordingCache) has(key string) bool {
	_, err := c.inner.Get(context.Background(), key)
	return err == nil
}

func (c *recordingCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = nil
}

func (c *recordingCache) count(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, o := range c.ops {
		if o == op {
			n++
		}
	}
	return n
}

// fixedClock is a settable clock for tests
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
