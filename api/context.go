package api

import (
	"context"

	"github.com/rpupo63/postzen-backend/models"
)

type keyType string

const principalKey keyType = "principal"

// ctxWithPrincipal adds the authenticated caller to the context
func ctxWithPrincipal(ctx context.Context, principal *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// ctxGetPrincipal returns the authenticated caller, or nil for anonymous requests
func ctxGetPrincipal(ctx context.Context) *models.Principal {
	principal, _ := ctx.Value(principalKey).(*models.Principal)
	return principal
}
