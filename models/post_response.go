package models

import (
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const excerptLength = 200

// AuthorRef identifies the author of a post in public responses
type AuthorRef struct {
	ID uuid.UUID `json:"id"`
}

// PostResponse is the public representation of a single post.
// It is also the value stored under post:<slug> in the cache.
type PostResponse struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Slug        string     `json:"slug"`
	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduledAt"`
	PublishedAt *time.Time `json:"publishedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	Author      AuthorRef  `json:"author"`
}

// PostSummary is the feed/listing representation of a post
type PostSummary struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Slug        string     `json:"slug"`
	Excerpt     string     `json:"excerpt"`
	Status      Status     `json:"status"`
	PublishedAt *time.Time `json:"publishedAt"`
	Author      AuthorRef  `json:"author"`
}

// FeedPage is one page of post summaries.
// Page 0 of the published feed is cached in this shape under feed:page0.
type FeedPage struct {
	Content       []PostSummary `json:"content"`
	Page          int           `json:"page"`
	Size          int           `json:"size"`
	TotalElements int64         `json:"totalElements"`
	TotalPages    int           `json:"totalPages"`
}

func NewPostResponse(p *Post) PostResponse {
	return PostResponse{
		ID:          p.ID,
		Title:       p.Title,
		Content:     p.Content,
		Slug:        p.Slug,
		Status:      p.Status,
		ScheduledAt: p.ScheduledAt,
		PublishedAt: p.PublishedAt,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Author:      AuthorRef{ID: p.AuthorID},
	}
}

func NewPostSummary(p *Post) PostSummary {
	return PostSummary{
		ID:          p.ID,
		Title:       p.Title,
		Slug:        p.Slug,
		Excerpt:     Excerpt(p.Content),
		Status:      p.Status,
		PublishedAt: p.PublishedAt,
		Author:      AuthorRef{ID: p.AuthorID},
	}
}

// NewFeedPage builds a page of summaries from a slice of posts and the total row count
func NewFeedPage(posts []Post, page, size int, total int64) FeedPage {
	content := make([]PostSummary, 0, len(posts))
	for i := range posts {
		content = append(content, NewPostSummary(&posts[i]))
	}

	totalPages := 0
	if size > 0 {
		totalPages = int((total + int64(size) - 1) / int64(size))
	}

	return FeedPage{
		Content:       content,
		Page:          page,
		Size:          size,
		TotalElements: total,
		TotalPages:    totalPages,
	}
}

// Excerpt truncates content to its first 200 characters, appending "..." when cut
func Excerpt(content string) string {
	if utf8.RuneCountInString(content) <= excerptLength {
		return content
	}
	runes := []rune(content)
	return string(runes[:excerptLength]) + "..."
}
