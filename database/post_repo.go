package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"

	"github.com/rpupo63/postzen-backend/errs"
	"github.com/rpupo63/postzen-backend/models"
)

// PostRepo is the durable record of posts.
// Lookups that feed a write (by id, by slug, slug existence) always hit the primary;
// paginated listings may be served by a read replica.
type PostRepo struct {
	db *gorm.DB
}

func NewPostRepo(db *gorm.DB) *PostRepo {
	return &PostRepo{db}
}

// GetDB returns the underlying database connection for debugging purposes
func (r *PostRepo) GetDB() *gorm.DB {
	return r.db
}

func (r *PostRepo) primary(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Clauses(dbresolver.Write)
}

// Insert adds a new post. A taken slug yields a unique constraint violation error.
func (r *PostRepo) Insert(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		if isUniqueViolation(err) {
			return errs.NewUniqueConstraintViolationError("post", "slug", err)
		}
		return err
	}
	return nil
}

// Update writes every mutable column of post
func (r *PostRepo) Update(ctx context.Context, post *models.Post) error {
	post.UpdatedAt = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(post).
		Select("*").
		Omit("id", "created_at").
		Updates(post)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return errs.NewUniqueConstraintViolationError("post", "slug", result.Error)
		}
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NewNotFound("post")
	}
	return nil
}

// Delete removes a post by id
func (r *PostRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.Post{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errs.NewNotFound("post")
	}
	return nil
}

// FindByID returns a post by its ID
func (r *PostRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Post, error) {
	var post models.Post
	if err := r.primary(ctx).First(&post, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &post, nil
}

// FindBySlug returns a post by its slug
func (r *PostRepo) FindBySlug(ctx context.Context, slug string) (*models.Post, error) {
	var post models.Post
	if err := r.primary(ctx).First(&post, "slug = ?", slug).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &post, nil
}

func (r *PostRepo) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	var count int64
	err := r.primary(ctx).Model(&models.Post{}).Where("slug = ?", slug).Limit(1).Count(&count).Error
	return count > 0, err
}

// FindByStatus returns one page of posts in the given status.
// Published posts are ordered by publication time, everything else by creation time, newest first.
func (r *PostRepo) FindByStatus(ctx context.Context, status models.Status, page, size int) ([]models.Post, int64, error) {
	order := "created_at DESC"
	if status == models.StatusPublished {
		order = "published_at DESC"
	}

	query := r.db.WithContext(ctx).Model(&models.Post{}).Where("status = ?", status)
	return paginate(query, order, page, size)
}

// FindPublished returns one page of the public feed
func (r *PostRepo) FindPublished(ctx context.Context, page, size int) ([]models.Post, int64, error) {
	return r.FindByStatus(ctx, models.StatusPublished, page, size)
}

// FindByAuthor returns one page of an author's posts, optionally restricted to a status
func (r *PostRepo) FindByAuthor(ctx context.Context, authorID uuid.UUID, status *models.Status, page, size int) ([]models.Post, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Post{}).Where("author_id = ?", authorID)
	if status != nil {
		query = query.Where("status = ?", *status)
	}
	return paginate(query, "created_at DESC", page, size)
}

// FindDueScheduled returns every scheduled post whose scheduled time is at or before now
func (r *PostRepo) FindDueScheduled(ctx context.Context, now time.Time) ([]models.Post, error) {
	var posts []models.Post
	err := r.primary(ctx).
		Where("status = ? AND scheduled_at <= ?", models.StatusScheduled, now).
		Order("scheduled_at ASC").
		Find(&posts).Error
	return posts, err
}

// PromoteScheduled publishes a post only if it is still scheduled.
// It reports false when the row was changed or removed since it was found due.
func (r *PostRepo) PromoteScheduled(ctx context.Context, id uuid.UUID, publishedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ? AND status = ?", id, models.StatusScheduled).
		Updates(map[string]any{
			"status":       models.StatusPublished,
			"published_at": publishedAt,
			"updated_at":   publishedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func paginate(query *gorm.DB, order string, page, size int) ([]models.Post, int64, error) {
	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	posts := make([]models.Post, 0, size)
	if total == 0 {
		return posts, 0, nil
	}

	err := query.Session(&gorm.Session{}).
		Order(order).
		Order("id DESC").
		Offset(page * size).
		Limit(size).
		Find(&posts).Error
	return posts, total, err
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NewNotFound("post")
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
