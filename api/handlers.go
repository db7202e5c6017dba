package api

import (
	"time"

	"github.com/rpupo63/postzen-backend/services"
)

// initializeHandlers creates and returns all handlers organized in a routeHandlers struct
func initializeHandlers(postService *services.PostService, startupTime time.Time) *routeHandlers {
	return &routeHandlers{
		postHandler:   newPostHandler(postService),
		healthHandler: newHealthHandler(startupTime),
	}
}
