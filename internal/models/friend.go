package models

import (
	"github.com/google/uuid"
)

// DerivedStatus is the viewer-relative view of a relationship. It is never persisted.
type DerivedStatus string

const (
	DerivedStatusNone            DerivedStatus = "NONE"
	DerivedStatusFriend          DerivedStatus = "FRIEND"
	DerivedStatusPendingIncoming DerivedStatus = "PENDING_INCOMING"
	DerivedStatusPendingOutgoing DerivedStatus = "PENDING_OUTGOING"
	DerivedStatusBlocked         DerivedStatus = "BLOCKED"
	DerivedStatusSubscribed      DerivedStatus = "SUBSCRIBED"
)

// Account is the presentable profile returned by the account service.
type Account struct {
	ID                uuid.UUID `json:"id"`
	Username          string    `json:"username"`
	FirstName         string    `json:"firstName,omitempty"`
	LastName          string    `json:"lastName,omitempty"`
	ProfilePictureURL string    `json:"profilePictureUrl,omitempty"`
}

// FriendDTO pairs the other participant's account with the stored status.
type FriendDTO struct {
	Account Account            `json:"account"`
	Status  RelationshipStatus `json:"status"`
}

// RelationshipStatusDTO is the answer to "what is my relationship with userId".
type RelationshipStatusDTO struct {
	UserID       uuid.UUID     `json:"userId"`
	StatusCode   DerivedStatus `json:"statusCode"`
	Relationship *Relationship `json:"friendship"`
}

// FriendCount wraps the number of accepted relationships of a user.
type FriendCount struct {
	Count int64 `json:"count"`
}
