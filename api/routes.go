package api

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes mounts the public API. Identity is optional on every post route;
// the service decides what an anonymous caller may see or do.
func setupRoutes(r chi.Router, handlers *routeHandlers, identity identityMiddleware) {
	r.Get("/health", handlers.healthHandler.getHealth())

	r.Route("/api/posts", func(r chi.Router) {
		r.Use(identity.identify)

		r.Get("/", handlers.postHandler.getFeed())
		r.Get("/author/{authorID}", handlers.postHandler.getAuthorPosts())
		r.Get("/{slug}", handlers.postHandler.getPost())
		r.Post("/", handlers.postHandler.createPost())
		r.Put("/{postID}", handlers.postHandler.updatePost())
		r.Delete("/{postID}", handlers.postHandler.deletePost())
	})
}
