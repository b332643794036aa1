package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType 是通知事件的类型，值与下游消费者约定一致。
type NotificationType string

const (
	NotificationFriendRequest         NotificationType = "FRIEND_REQUEST"
	NotificationFriendRequestAccepted NotificationType = "FRIEND_REQUEST_ACCEPTED"
	NotificationFriendRequestDeclined NotificationType = "FRIEND_REQUEST_DECLINED"
	NotificationFriendBlocked         NotificationType = "FRIEND_BLOCKED"
	NotificationFriendUnblocked       NotificationType = "FRIEND_UNBLOCKED"
	NotificationFriendSubscribed      NotificationType = "FRIEND_SUBSCRIBED"
)

// NotificationEvent is the single outbound message published for relationship transitions.
// It is keyed by RecipientID on the bus.
type NotificationEvent struct {
	Type        NotificationType `json:"type"`
	RecipientID uuid.UUID        `json:"recipientId"`
	SenderID    uuid.UUID        `json:"senderId"`
	Message     string           `json:"message,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}
