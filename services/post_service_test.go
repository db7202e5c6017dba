package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"

	"github.com/rpupo63/postzen-backend/errs"
	"github.com/rpupo63/postzen-backend/models"
)

type serviceFixture struct {
	store   *memStore
	cache   *recordingCache
	clock   *fixedClock
	service *PostService
	author  *models.Principal
	other   *models.Principal
	admin   *models.Principal
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		store:  newMemStore(),
		cache:  newRecordingCache(),
		clock:  newFixedClock(),
		author: &models.Principal{ID: uuid.New(), Role: models.RoleUser},
		other:  &models.Principal{ID: uuid.New(), Role: models.RoleUser},
		admin:  &models.Principal{ID: uuid.New(), Role: models.RoleAdmin},
	}
	f.service = NewPostService(f.store, NewCacheSync(f.cache, time.Minute),
		WithClock(f.clock.Now),
		WithFeedPageSize(10),
	)
	return f
}

func (f *serviceFixture) create(t *testing.T, title string, status models.Status) *models.PostResponse {
	t.Helper()
	in := CreatePostInput{Title: title, Content: "content of " + title, Status: status}
	if status == models.StatusScheduled {
		at := f.clock.Now().Add(time.Hour)
		in.ScheduledAt = &at
	}
	post, err := f.service.Create(context.Background(), f.author, in)
	assert.NilError(t, err)
	return post
}

func ptr[T any](v T) *T {
	return &v
}

func TestCreatePublishedPost(t *testing.T) {
	f := newServiceFixture(t)

	post := f.create(t, "Hello World", models.StatusPublished)

	assert.Equal(t, post.Slug, "hello-world")
	assert.Equal(t, post.Status, models.StatusPublished)
	assert.Equal(t, post.Author.ID, f.author.ID)
	assert.Assert(t, post.PublishedAt != nil)
	assert.Assert(t, post.PublishedAt.Equal(f.clock.Now()))
	assert.Assert(t, f.cache.has(PostKey("hello-world")))
	assert.Equal(t, f.cache.count("del "+FeedPage0Key), 1)
}

func TestCreateDefaultsToDraftAndSkipsCache(t *testing.T) {
	f := newServiceFixture(t)

	post, err := f.service.Create(context.Background(), f.author, CreatePostInput{Title: "Quiet", Content: "c"})
	assert.NilError(t, err)

	assert.Equal(t, post.Status, models.StatusDraft)
	assert.Assert(t, post.PublishedAt == nil)
	assert.Equal(t, len(f.cache.ops), 0)
}

func TestCreateRequiresPrincipal(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Create(context.Background(), nil, CreatePostInput{Title: "x", Content: "y"})
	assert.Assert(t, errs.IsUnauthorized(err))
	assert.Equal(t, f.store.count("Insert"), 0)
}

func TestCreateDuplicateTitlesGetSuffixes(t *testing.T) {
	f := newServiceFixture(t)

	first := f.create(t, "Same Title", models.StatusDraft)
	second := f.create(t, "Same Title", models.StatusDraft)
	third := f.create(t, "same   title!", models.StatusDraft)

	assert.Equal(t, first.Slug, "same-title")
	assert.Equal(t, second.Slug, "same-title-1")
	assert.Equal(t, third.Slug, "same-title-2")
}

func TestCreateUnsluggableTitleUsesIDFallback(t *testing.T) {
	f := newServiceFixture(t)

	post := f.create(t, "¿¿¿", models.StatusDraft)
	assert.Equal(t, post.Slug, "post-"+post.ID.String()[:8])
}

func TestCreateScheduledRequiresTime(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.Create(ctx, f.author, CreatePostInput{Title: "t", Content: "c", Status: models.StatusScheduled})
	assert.Assert(t, errs.IsMissingRequiredFieldError(err))
	assert.Equal(t, f.store.count("Insert"), 0)

	post := f.create(t, "Later", models.StatusScheduled)
	assert.Equal(t, post.Status, models.StatusScheduled)
	assert.Assert(t, post.PublishedAt == nil)
	assert.Assert(t, post.ScheduledAt != nil)
	assert.Equal(t, len(f.cache.ops), 0)

	_, err = f.service.GetBySlug(ctx, nil, "later")
	assert.Assert(t, errs.IsNotFound(err))
}

func TestCreateRejectsUnknownStatus(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Create(context.Background(), f.author, CreatePostInput{Title: "t", Content: "c", Status: "ARCHIVED"})
	assert.Assert(t, errs.IsValidationFailed(err))
}

func TestCreateRetriesSlugRace(t *testing.T) {
	f := newServiceFixture(t)
	f.store.insertConflicts = 1

	post := f.create(t, "Contended", models.StatusDraft)

	assert.Equal(t, post.Slug, "contended")
	assert.Equal(t, f.store.count("Insert"), 2)
}

func TestCreateGivesUpOnPersistentSlugRace(t *testing.T) {
	f := newServiceFixture(t)
	f.store.insertConflicts = slugRaceRetries

	_, err := f.service.Create(context.Background(), f.author, CreatePostInput{Title: "Contended", Content: "c"})
	assert.Assert(t, errs.IsConflict(err))
	assert.Equal(t, f.store.count("Insert"), slugRaceRetries)
}

func TestCreateReportsStoreOutageAsUnavailable(t *testing.T) {
	f := newServiceFixture(t)
	f.store.failing = true

	_, err := f.service.Create(context.Background(), f.author, CreatePostInput{Title: "t", Content: "c"})
	assert.Assert(t, errs.IsUnavailable(err))
	assert.Equal(t, len(f.cache.ops), 0)
}

func TestCreateSucceedsWhenCacheIsDown(t *testing.T) {
	f := newServiceFixture(t)
	f.cache.failing = true

	post := f.create(t, "Still Works", models.StatusPublished)
	assert.Equal(t, post.Slug, "still-works")

	got, err := f.service.GetBySlug(context.Background(), nil, "still-works")
	assert.NilError(t, err)
	assert.Equal(t, got.ID, post.ID)
}

func TestUpdateTitleChangesSlugAndPurgesOldKey(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	post := f.create(t, "First Title", models.StatusPublished)
	_, err := f.service.GetPublishedFeed(ctx, 0, 10)
	assert.NilError(t, err)
	assert.Assert(t, f.cache.has(FeedPage0Key))

	updated, err := f.service.Update(ctx, f.author, post.ID, UpdatePostInput{Title: ptr("Second Title")})
	assert.NilError(t, err)

	assert.Equal(t, updated.Slug, "second-title")
	assert.Assert(t, !f.cache.has(PostKey("first-title")))
	assert.Assert(t, f.cache.has(PostKey("second-title")))
	assert.Assert(t, !f.cache.has(FeedPage0Key))

	_, err = f.service.GetBySlug(ctx, nil, "first-title")
	assert.Assert(t, errs.IsNotFound(err))
}

func TestUpdateSameTitleKeepsSlug(t *testing.T) {
	f := newServiceFixture(t)
	post := f.create(t, "Stable", models.StatusDraft)

	updated, err := f.service.Update(context.Background(), f.author, post.ID, UpdatePostInput{Title: ptr("Stable!")})
	assert.NilError(t, err)
	assert.Equal(t, updated.Slug, "stable")
}

func TestUpdateContentRefreshesCachedCopy(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	post := f.create(t, "Edit Me", models.StatusPublished)

	_, err := f.service.Update(ctx, f.author, post.ID, UpdatePostInput{Content: ptr("new body")})
	assert.NilError(t, err)

	got, err := f.service.GetBySlug(ctx, nil, "edit-me")
	assert.NilError(t, err)
	assert.Equal(t, got.Content, "new body")
	assert.Equal(t, f.store.count("FindBySlug"), 0)
}

func TestUpdatePublishAndUnpublish(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	post := f.create(t, "Toggle", models.StatusDraft)

	f.clock.Advance(time.Hour)
	published, err := f.service.Update(ctx, f.author, post.ID, UpdatePostInput{Status: ptr(models.StatusPublished)})
	assert.NilError(t, err)
	assert.Assert(t, published.PublishedAt != nil)
	assert.Assert(t, published.PublishedAt.Equal(f.clock.Now()))
	assert.Assert(t, f.cache.has(PostKey("toggle")))

	drafted, err := f.service.Update(ctx, f.author, post.ID, UpdatePostInput{Status: ptr(models.StatusDraft)})
	assert.NilError(t, err)
	assert.Assert(t, drafted.PublishedAt == nil)
	assert.Assert(t, !f.cache.has(PostKey("toggle")))

	_, err = f.service.GetBySlug(ctx, nil, "toggle")
	assert.Assert(t, errs.IsNotFound(err))
}

func TestUpdatePublishedKeepsOriginalPublishedAt(t *testing.T) {
	f := newServiceFixture(t)
	post := f.create(t, "Old News", models.StatusPublished)

	f.clock.Advance(24 * time.Hour)
	updated, err := f.service.Update(context.Background(), f.author, post.ID, UpdatePostInput{Content: ptr("correction")})
	assert.NilError(t, err)
	assert.Assert(t, updated.PublishedAt.Equal(*post.PublishedAt))
}

func TestUpdateToScheduledRequiresTime(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	post := f.create(t, "Plan", models.StatusDraft)

	_, err := f.service.Update(ctx, f.author, post.ID, UpdatePostInput{Status: ptr(models.StatusScheduled)})
	assert.Assert(t, errs.IsMissingRequiredFieldError(err))

	stored, _ := f.store.get(post.ID)
	assert.Equal(t, stored.Status, models.StatusDraft)

	at := f.clock.Now().Add(time.Hour)
	updated, err := f.service.Update(ctx, f.author, post.ID, UpdatePostInput{Status: ptr(models.StatusScheduled), ScheduledAt: &at})
	assert.NilError(t, err)
	assert.Equal(t, updated.Status, models.StatusScheduled)
	assert.Assert(t, updated.ScheduledAt.Equal(at))
}

func TestUpdateAuthorization(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	post := f.create(t, "Mine", models.StatusDraft)

	_, err := f.service.Update(ctx, nil, post.ID, UpdatePostInput{Content: ptr("x")})
	assert.Assert(t, errs.IsForbidden(err))

	_, err = f.service.Update(ctx, f.other, post.ID, UpdatePostInput{Content: ptr("x")})
	assert.Assert(t, errs.IsForbidden(err))
	assert.Equal(t, f.store.count("Update"), 0)

	updated, err := f.service.Update(ctx, f.admin, post.ID, UpdatePostInput{Content: ptr("moderated")})
	assert.NilError(t, err)
	assert.Equal(t, updated.Content, "moderated")
}

func TestUpdateMissingPost(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.Update(context.Background(), f.author, uuid.New(), UpdatePostInput{Content: ptr("x")})
	assert.Assert(t, errs.IsNotFound(err))
}

func TestDeletePurgesCacheAndStore(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	post := f.create(t, "Short Lived", models.StatusPublished)
	_, err := f.service.GetPublishedFeed(ctx, 0, 10)
	assert.NilError(t, err)

	assert.NilError(t, f.service.Delete(ctx, f.author, post.ID))

	_, ok := f.store.get(post.ID)
	assert.Assert(t, !ok)
	assert.Assert(t, !f.cache.has(PostKey("short-lived")))
	assert.Assert(t, !f.cache.has(FeedPage0Key))

	_, err = f.service.GetBySlug(ctx, nil, "short-lived")
	assert.Assert(t, errs.IsNotFound(err))
}

func TestDeleteAuthorization(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	post := f.create(t, "Protected", models.StatusPublished)

	err := f.service.Delete(ctx, f.other, post.ID)
	assert.Assert(t, errs.IsForbidden(err))
	assert.Equal(t, f.store.count("Delete"), 0)
	assert.Assert(t, f.cache.has(PostKey("protected")))

	assert.NilError(t, f.service.Delete(ctx, f.admin, post.ID))
}

func TestGetBySlugServesFromCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "Popular", models.StatusPublished)
	assert.NilError(t, f.cache.inner.Delete(ctx, PostKey("popular")))

	for i := 0; i < 3; i++ {
		got, err := f.service.GetBySlug(ctx, nil, "popular")
		assert.NilError(t, err)
		assert.Equal(t, got.Slug, "popular")
	}
	assert.Equal(t, f.store.count("FindBySlug"), 1)
}

func TestGetBySlugHidesUnpublishedFromOthers(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "Secret Draft", models.StatusDraft)

	_, err := f.service.GetBySlug(ctx, nil, "secret-draft")
	assert.Assert(t, errs.IsNotFound(err))
	_, err = f.service.GetBySlug(ctx, f.other, "secret-draft")
	assert.Assert(t, errs.IsNotFound(err))

	got, err := f.service.GetBySlug(ctx, f.author, "secret-draft")
	assert.NilError(t, err)
	assert.Equal(t, got.Status, models.StatusDraft)

	_, err = f.service.GetBySlug(ctx, f.admin, "secret-draft")
	assert.NilError(t, err)

	assert.Assert(t, !f.cache.has(PostKey("secret-draft")))
}

func TestGetBySlugUnknown(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.GetBySlug(context.Background(), nil, "nope")
	assert.Assert(t, errs.IsNotFound(err))
}

func TestPublishedFeedPageZeroIsCached(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	for _, title := range []string{"One", "Two", "Three"} {
		f.create(t, title, models.StatusPublished)
		f.clock.Advance(time.Minute)
	}
	f.create(t, "Hidden", models.StatusDraft)

	feed, err := f.service.GetPublishedFeed(ctx, 0, 0)
	assert.NilError(t, err)
	assert.Equal(t, feed.TotalElements, int64(3))
	assert.Equal(t, feed.Size, 10)
	assert.Equal(t, feed.Content[0].Slug, "three")

	_, err = f.service.GetPublishedFeed(ctx, 0, 10)
	assert.NilError(t, err)
	assert.Equal(t, f.store.count("FindPublished"), 1)

	f.create(t, "Four", models.StatusPublished)
	feed, err = f.service.GetPublishedFeed(ctx, 0, 10)
	assert.NilError(t, err)
	assert.Equal(t, feed.TotalElements, int64(4))
	assert.Equal(t, f.store.count("FindPublished"), 2)
}

func TestPublishedFeedOtherPagesBypassCache(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.create(t, "Entry", models.StatusPublished)
		f.clock.Advance(time.Minute)
	}

	page, err := f.service.GetPublishedFeed(ctx, 1, 2)
	assert.NilError(t, err)
	assert.Equal(t, len(page.Content), 1)
	assert.Equal(t, page.TotalPages, 2)

	_, err = f.service.GetPublishedFeed(ctx, 0, 2)
	assert.NilError(t, err)
	assert.Equal(t, f.store.count("FindPublished"), 2)
	assert.Assert(t, !f.cache.has(FeedPage0Key))
}

func TestPublishedFeedCoalescesConcurrentMisses(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "Shared", models.StatusPublished)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			feed, err := f.service.GetPublishedFeed(ctx, 0, 10)
			assert.Check(t, err)
			assert.Check(t, is.Len(feed.Content, 1))
		}()
	}
	wg.Wait()

	assert.Assert(t, f.store.count("FindPublished") >= 1)
	assert.Assert(t, f.store.count("FindPublished") <= 20)
}

func TestPublishedFeedClampsPageSize(t *testing.T) {
	f := newServiceFixture(t)

	feed, err := f.service.GetPublishedFeed(context.Background(), -1, 500)
	assert.NilError(t, err)
	assert.Equal(t, feed.Page, 0)
	assert.Equal(t, feed.Size, MaxPageSize)
}

func TestGetByAuthorVisibility(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.create(t, "Public", models.StatusPublished)
	f.create(t, "Private", models.StatusDraft)
	f.create(t, "Upcoming", models.StatusScheduled)

	own, err := f.service.GetByAuthor(ctx, f.author, f.author.ID, 0, 10)
	assert.NilError(t, err)
	assert.Equal(t, own.TotalElements, int64(3))

	public, err := f.service.GetByAuthor(ctx, nil, f.author.ID, 0, 10)
	assert.NilError(t, err)
	assert.Equal(t, public.TotalElements, int64(1))
	assert.Equal(t, public.Content[0].Slug, "public")

	admin, err := f.service.GetByAuthor(ctx, f.admin, f.author.ID, 0, 10)
	assert.NilError(t, err)
	assert.Equal(t, admin.TotalElements, int64(3))
}
