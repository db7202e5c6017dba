package services

import (
	"github.com/google/uuid"

	"github.com/rpupo63/postzen-backend/models"
)

// ModifyPolicy decides whether requester may modify, or see unpublished, content owned by ownerID
type ModifyPolicy func(requester *models.Principal, ownerID uuid.UUID) bool

// CanModify allows administrators and the owner. Anonymous requesters are always refused.
func CanModify(requester *models.Principal, ownerID uuid.UUID) bool {
	if requester == nil {
		return false
	}
	return requester.IsAdmin() || requester.ID == ownerID
}
