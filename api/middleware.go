package api

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rpupo63/postzen-backend/errs"
	"github.com/rpupo63/postzen-backend/models"
)

// principalClaims is the access token payload: the subject is the user id
type principalClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type identityMiddleware struct {
	responder Responder
	secret    []byte
}

func newIdentityMiddleware(secret []byte) identityMiddleware {
	logger := log.With().Str("handlerName", "identityMiddleware").Logger()
	return identityMiddleware{
		responder: NewResponder(logger),
		secret:    secret,
	}
}

// identify attaches the caller's Principal when a bearer token is present.
// Requests without an Authorization header continue anonymously; a bad token is rejected.
func (m identityMiddleware) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			m.responder.WriteError(w, errs.NewInvalidTokenError())
			return
		}

		principal, err := m.parse(tokenString)
		if err != nil {
			m.responder.WriteError(w, err)
			return
		}

		updatedReq := r.WithContext(ctxWithPrincipal(r.Context(), principal))
		next.ServeHTTP(w, updatedReq)
	})
}

func (m identityMiddleware) parse(tokenString string) (*models.Principal, error) {
	if len(m.secret) == 0 {
		return nil, errs.NewInvalidTokenError()
	}

	var claims principalClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errs.NewExpiredTokenError()
		}
		return nil, errs.NewInvalidTokenError()
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, errs.NewInvalidTokenError()
	}

	role := models.Role(claims.Role)
	switch role {
	case "":
		role = models.RoleUser
	case models.RoleUser, models.RoleAdmin:
	default:
		return nil, errs.NewInvalidTokenError()
	}

	return &models.Principal{ID: userID, Role: role}, nil
}

type statusResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusResponseWriter) WriteHeader(statusCode int) {
	if !w.wroteHeader {
		w.status = statusCode
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(statusCode)
	}
}

func (w *statusResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func LogInternalServerErrors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if err := recover(); err != nil {
				log.Error().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Interface("panic", err).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic")

				if !srw.wroteHeader {
					NewResponder(log.Logger).WriteError(srw, errs.NewInternalErrorWithCause("request panicked", nil))
				}
			}
		}()

		next.ServeHTTP(srw, r)

		if srw.status == http.StatusInternalServerError {
			log.Error().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Msg("500 error response")
		}
	})
}

// RequestLoggingMiddleware logs one line per request, leveled by status code
func RequestLoggingMiddleware(next http.Handler) http.Handler {
	logger := log.With().Str("component", "http").Logger()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(srw, r)

		var logEvent *zerolog.Event
		switch {
		case srw.status >= 500:
			logEvent = logger.Error()
		case srw.status >= 400:
			logEvent = logger.Warn()
		default:
			logEvent = logger.Info()
		}

		logEvent.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", srw.status).
			Dur("duration", time.Since(start)).
			Str("remote_addr", r.RemoteAddr).
			Msg("HTTP Request")
	})
}
