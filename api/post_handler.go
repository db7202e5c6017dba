package api

import (
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rpupo63/postzen-backend/errs"
	"github.com/rpupo63/postzen-backend/models"
	"github.com/rpupo63/postzen-backend/services"
)

const maxBodyBytes = 1 << 20

type postHandler struct {
	responder Responder
	logger    zerolog.Logger
	service   *services.PostService
	validate  *validator.Validate
}

func newPostHandler(service *services.PostService) postHandler {
	logger := log.With().Str("handlerName", "postHandler").Logger()

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return postHandler{
		responder: NewResponder(logger),
		logger:    logger,
		service:   service,
		validate:  validate,
	}
}

// getFeed lists published posts, newest first
// GET /api/posts?page=0&size=10
func (h postHandler) getFeed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, size, err := pageParams(r, h.service.FeedPageSize())
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		feed, err := h.service.GetPublishedFeed(r.Context(), page, size)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, feed)
	}
}

// getAuthorPosts lists an author's posts. Drafts and scheduled posts are only listed for the author or an admin.
// GET /api/posts/author/{authorID}?page=0&size=10
func (h postHandler) getAuthorPosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorID, err := uuid.Parse(chi.URLParam(r, "authorID"))
		if err != nil {
			h.responder.WriteError(w, errs.NewInvalidFieldError("authorID", "must be a UUID"))
			return
		}

		page, size, err := pageParams(r, h.service.FeedPageSize())
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		feed, err := h.service.GetByAuthor(r.Context(), ctxGetPrincipal(r.Context()), authorID, page, size)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, feed)
	}
}

// GET /api/posts/{slug}
func (h postHandler) getPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slug := chi.URLParam(r, "slug")
		if slug == "" {
			h.responder.WriteError(w, errs.NewMissingRequiredFieldError("slug"))
			return
		}

		post, err := h.service.GetBySlug(r.Context(), ctxGetPrincipal(r.Context()), slug)
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, post)
	}
}

// POST /api/posts
func (h postHandler) createPost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := ctxGetPrincipal(r.Context())
		if principal == nil {
			h.responder.WriteError(w, errs.Unauthorized)
			return
		}

		var req CreatePostRequest
		if err := h.decode(w, r, "post", &req); err != nil {
			h.responder.WriteError(w, err)
			return
		}

		post, err := h.service.Create(r.Context(), principal, services.CreatePostInput{
			Title:       req.Title,
			Content:     req.Content,
			Status:      models.Status(req.Status),
			ScheduledAt: req.ScheduledAt,
		})
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSONStatus(w, http.StatusCreated, post)
	}
}

// PUT /api/posts/{postID}
func (h postHandler) updatePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID, err := uuid.Parse(chi.URLParam(r, "postID"))
		if err != nil {
			h.responder.WriteError(w, errs.NewInvalidFieldError("postID", "must be a UUID"))
			return
		}

		var req UpdatePostRequest
		if err := h.decode(w, r, "post", &req); err != nil {
			h.responder.WriteError(w, err)
			return
		}

		post, err := h.service.Update(r.Context(), ctxGetPrincipal(r.Context()), postID, services.UpdatePostInput{
			Title:       req.Title,
			Content:     req.Content,
			Status:      statusPtr(req.Status),
			ScheduledAt: req.ScheduledAt,
		})
		if err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, post)
	}
}

// DELETE /api/posts/{postID}
func (h postHandler) deletePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		postID, err := uuid.Parse(chi.URLParam(r, "postID"))
		if err != nil {
			h.responder.WriteError(w, errs.NewInvalidFieldError("postID", "must be a UUID"))
			return
		}

		if err := h.service.Delete(r.Context(), ctxGetPrincipal(r.Context()), postID); err != nil {
			h.responder.WriteError(w, err)
			return
		}

		h.responder.WriteJSON(w, StatusResponse{
			Status:  "success",
			Message: "Post deleted successfully",
		})
	}
}

// decode reads a JSON body into dst and validates it
func (h postHandler) decode(w http.ResponseWriter, r *http.Request, payloadName string, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := sonic.ConfigStd.NewDecoder(body).Decode(dst); err != nil {
		return errs.NewMalformedPayloadError(payloadName, err)
	}

	if err := h.validate.Struct(dst); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
			return fieldError(validationErrs[0])
		}
		return errs.Malformed(payloadName)
	}
	return nil
}

func fieldError(fe validator.FieldError) error {
	switch fe.Tag() {
	case "required":
		return errs.NewMissingRequiredFieldError(fe.Field())
	case "max":
		return errs.NewInvalidFieldError(fe.Field(), "must be at most "+fe.Param()+" characters")
	case "min":
		return errs.NewInvalidFieldError(fe.Field(), "must not be empty")
	case "oneof":
		return errs.NewInvalidFieldError(fe.Field(), "must be one of "+strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return errs.NewInvalidFieldError(fe.Field(), "failed "+fe.Tag()+" check")
	}
}

// pageParams reads the zero-based page and the page size from the query string
func pageParams(r *http.Request, defaultSize int) (int, int, error) {
	page, err := queryInt(r, "page", 0)
	if err != nil || page < 0 {
		return 0, 0, errs.NewInvalidFieldError("page", "must be a non-negative integer")
	}

	size, err := queryInt(r, "size", defaultSize)
	if err != nil || size < 1 || size > services.MaxPageSize {
		return 0, 0, errs.NewInvalidFieldError("size", "must be between 1 and "+strconv.Itoa(services.MaxPageSize))
	}
	return page, size, nil
}

func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return defaultValue, nil
	}
	return strconv.Atoi(raw)
}
