package services

import (
	"github.com/google/uuid"

	"friends-go/internal/models"
)

// DeriveStatus maps a stored record to what viewerID sees.
// A nil record means the pair has no relationship.
func DeriveStatus(viewerID uuid.UUID, rel *models.Relationship) models.DerivedStatus {
	if rel == nil {
		return models.DerivedStatusNone
	}
	switch rel.Status {
	case models.RelationshipStatusAccepted:
		return models.DerivedStatusFriend
	case models.RelationshipStatusPending:
		if rel.TargetID == viewerID {
			return models.DerivedStatusPendingIncoming
		}
		return models.DerivedStatusPendingOutgoing
	case models.RelationshipStatusBlocked:
		// Both sides see BLOCKED; the direction is not exposed here.
		return models.DerivedStatusBlocked
	case models.RelationshipStatusDeclined:
		return models.DerivedStatusNone
	case models.RelationshipStatusSubscribed:
		return models.DerivedStatusSubscribed
	default:
		return models.DerivedStatusNone
	}
}

// creationConflict reports why an existing record prevents a new friend request.
// Declined and Subscribed records do not block one.
func creationConflict(rel *models.Relationship) error {
	if rel == nil {
		return nil
	}
	switch rel.Status {
	case models.RelationshipStatusPending:
		return alreadyExists(ReasonPending)
	case models.RelationshipStatusAccepted:
		return alreadyExists(ReasonAlreadyFriends)
	case models.RelationshipStatusBlocked:
		return alreadyExists(ReasonBlocked)
	}
	return nil
}
