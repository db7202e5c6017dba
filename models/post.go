package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the publication state of a post
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusScheduled Status = "SCHEDULED"
	StatusPublished Status = "PUBLISHED"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusPublished:
		return true
	}
	return false
}

// Post represents an authored post and its publication lifecycle
type Post struct {
	ID          uuid.UUID  `json:"id" db:"id" gorm:"type:uuid;primaryKey;not null"`
	AuthorID    uuid.UUID  `json:"authorId" db:"author_id" gorm:"type:uuid;not null;index:idx_posts_author_id"`
	Title       string     `json:"title" db:"title" gorm:"type:varchar(200);not null"`
	Content     string     `json:"content" db:"content" gorm:"type:text;not null"`
	Slug        string     `json:"slug" db:"slug" gorm:"type:varchar(255);not null;uniqueIndex:idx_posts_slug"`
	Status      Status     `json:"status" db:"status" gorm:"type:varchar(16);not null;index:idx_posts_status_scheduled_at,priority:1"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty" db:"scheduled_at" gorm:"index:idx_posts_status_scheduled_at,priority:2"`
	PublishedAt *time.Time `json:"publishedAt,omitempty" db:"published_at" gorm:"index:idx_posts_published_at"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at" gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time  `json:"updatedAt" db:"updated_at" gorm:"not null;autoUpdateTime"`
}

// BeforeCreate assigns an id when the caller has not already chosen one
func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p *Post) IsPublished() bool {
	return p.Status == StatusPublished
}
