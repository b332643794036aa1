package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"friends-go/internal/models"
)

func TestDeriveStatus(t *testing.T) {
	initiator, target := uuid.New(), uuid.New()
	rel := func(status models.RelationshipStatus) *models.Relationship {
		return models.NewRelationship(initiator, target, status, time.Now())
	}

	tests := []struct {
		name   string
		viewer uuid.UUID
		rel    *models.Relationship
		want   models.DerivedStatus
	}{
		{"no record", initiator, nil, models.DerivedStatusNone},
		{"accepted as initiator", initiator, rel(models.RelationshipStatusAccepted), models.DerivedStatusFriend},
		{"accepted as target", target, rel(models.RelationshipStatusAccepted), models.DerivedStatusFriend},
		{"pending as initiator", initiator, rel(models.RelationshipStatusPending), models.DerivedStatusPendingOutgoing},
		{"pending as target", target, rel(models.RelationshipStatusPending), models.DerivedStatusPendingIncoming},
		{"blocked as blocker", initiator, rel(models.RelationshipStatusBlocked), models.DerivedStatusBlocked},
		{"blocked as blocked", target, rel(models.RelationshipStatusBlocked), models.DerivedStatusBlocked},
		{"declined as initiator", initiator, rel(models.RelationshipStatusDeclined), models.DerivedStatusNone},
		{"declined as target", target, rel(models.RelationshipStatusDeclined), models.DerivedStatusNone},
		{"subscribed as subscriber", initiator, rel(models.RelationshipStatusSubscribed), models.DerivedStatusSubscribed},
		{"subscribed as target", target, rel(models.RelationshipStatusSubscribed), models.DerivedStatusSubscribed},
		{"unknown status", initiator, rel(models.RelationshipStatus("ARCHIVED")), models.DerivedStatusNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStatus(tt.viewer, tt.rel))
		})
	}
}

func TestCreationConflict(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	assert.NoError(t, creationConflict(nil))
	assert.NoError(t, creationConflict(models.NewRelationship(a, b, models.RelationshipStatusDeclined, time.Now())))
	assert.NoError(t, creationConflict(models.NewRelationship(a, b, models.RelationshipStatusSubscribed, time.Now())))

	err := creationConflict(models.NewRelationship(a, b, models.RelationshipStatusBlocked, time.Now()))
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.EqualError(t, err, "relationship already exists: blocked")
}
