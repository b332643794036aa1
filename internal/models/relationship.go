package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RelationshipStatus is the stored state of a relationship record.
type RelationshipStatus string

const (
	RelationshipStatusPending    RelationshipStatus = "PENDING"
	RelationshipStatusAccepted   RelationshipStatus = "ACCEPTED"
	RelationshipStatusDeclined   RelationshipStatus = "DECLINED"
	RelationshipStatusBlocked    RelationshipStatus = "BLOCKED"
	RelationshipStatusSubscribed RelationshipStatus = "SUBSCRIBED"
)

// Valid reports whether s is one of the known stored statuses.
func (s RelationshipStatus) Valid() bool {
	switch s {
	case RelationshipStatusPending, RelationshipStatusAccepted, RelationshipStatusDeclined,
		RelationshipStatusBlocked, RelationshipStatusSubscribed:
		return true
	}
	return false
}

// ParseRelationshipStatus accepts any casing of a stored status name.
func ParseRelationshipStatus(s string) (RelationshipStatus, error) {
	status := RelationshipStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown relationship status %q", s)
	}
	return status, nil
}

// Relationship is the single record shared by the two participants of a pair.
// The meaning of Pending depends on which side currently holds the initiator role.
type Relationship struct {
	ID          uuid.UUID          `gorm:"type:uuid;primaryKey" json:"id"`
	InitiatorID uuid.UUID          `gorm:"column:user_id_initiator;type:uuid;not null;index:idx_friendship_initiator_status,priority:1" json:"userIdInitiator"`
	TargetID    uuid.UUID          `gorm:"column:user_id_target;type:uuid;not null;index:idx_friendship_target_status,priority:1" json:"userIdTarget"`
	PairKey     string             `gorm:"type:varchar(73);not null;uniqueIndex:idx_friendship_pair" json:"-"`
	Status      RelationshipStatus `gorm:"type:varchar(20);not null;index:idx_friendship_initiator_status,priority:2;index:idx_friendship_target_status,priority:2" json:"status"`
	CreatedAt   time.Time          `gorm:"not null;autoCreateTime:false" json:"createdAt"`
	UpdatedAt   *time.Time         `gorm:"autoUpdateTime:false" json:"updatedAt,omitempty"`
}

// TableName keeps the table name used by the rest of the platform.
func (Relationship) TableName() string {
	return "friendships"
}

// NewRelationship builds an unsaved record with a fresh id.
func NewRelationship(initiatorID, targetID uuid.UUID, status RelationshipStatus, now time.Time) *Relationship {
	r := &Relationship{
		ID:        uuid.New(),
		Status:    status,
		CreatedAt: now,
	}
	r.AssignRoles(initiatorID, targetID)
	return r
}

// BeforeCreate makes sure rows inserted outside NewRelationship still get an id and pair key.
func (r *Relationship) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.EnsurePairKey()
	return nil
}

// AssignRoles sets the directional roles and keeps the pair key in sync.
func (r *Relationship) AssignRoles(initiatorID, targetID uuid.UUID) {
	r.InitiatorID = initiatorID
	r.TargetID = targetID
	r.EnsurePairKey()
}

// EnsurePairKey recomputes the canonical unordered key from the two participants.
func (r *Relationship) EnsurePairKey() {
	r.PairKey = PairKeyFor(r.InitiatorID, r.TargetID)
}

// Involves reports whether userID is one of the two participants.
func (r *Relationship) Involves(userID uuid.UUID) bool {
	return r.InitiatorID == userID || r.TargetID == userID
}

// OtherParticipant returns the participant that is not viewerID.
// A viewer outside the pair gets the target back.
func (r *Relationship) OtherParticipant(viewerID uuid.UUID) uuid.UUID {
	if r.TargetID == viewerID {
		return r.InitiatorID
	}
	return r.TargetID
}

// PairKeyFor returns the same key for (a, b) and (b, a).
func PairKeyFor(a, b uuid.UUID) string {
	as, bs := a.String(), b.String()
	if as > bs {
		as, bs = bs, as
	}
	return as + ":" + bs
}
