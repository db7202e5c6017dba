package api

import (
	"time"

	"github.com/rpupo63/postzen-backend/models"
)

// routeHandlers contains all the handlers for different route types
type routeHandlers struct {
	postHandler   postHandler
	healthHandler healthHandler
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Status  string `json:"status"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
	Cause   string `json:"cause,omitempty"`
}

// StatusResponse acknowledges operations that return no resource
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	Uptime    string    `json:"uptime"`
}

// CreatePostRequest is the body of POST /api/posts
type CreatePostRequest struct {
	Title       string     `json:"title" validate:"required,max=200"`
	Content     string     `json:"content" validate:"required"`
	Status      string     `json:"status" validate:"omitempty,oneof=DRAFT SCHEDULED PUBLISHED"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

// UpdatePostRequest is the body of PUT /api/posts/{postID}; absent fields are left unchanged
type UpdatePostRequest struct {
	Title       *string    `json:"title" validate:"omitnil,min=1,max=200"`
	Content     *string    `json:"content" validate:"omitnil,min=1"`
	Status      *string    `json:"status" validate:"omitnil,oneof=DRAFT SCHEDULED PUBLISHED"`
	ScheduledAt *time.Time `json:"scheduledAt"`
}

func statusPtr(s *string) *models.Status {
	if s == nil {
		return nil
	}
	status := models.Status(*s)
	return &status
}
