package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type NotificationType string

const (
	NotificationFollowRequest NotificationType = "follow_request"
	NotificationFollow        NotificationType = "follow"
	NotificationLike          NotificationType = "like"
	NotificationMention       NotificationType = "mention"
	NotificationReply         NotificationType = "reply"
	NotificationReblog        NotificationType = "reblog"
)

func ParseNotificationType(s string) (NotificationType, error) {
	switch t := NotificationType(s); t {
	case NotificationFollowRequest, NotificationFollow, NotificationLike,
		NotificationMention, NotificationReply, NotificationReblog:
		return t, nil
	}
	return "", fmt.Errorf("unknown notification type %q", s)
}

type Notification struct {
	Id            uuid.UUID
	ActorId       uuid.UUID // recipient
	Type          NotificationType
	SourceActorId uuid.UUID
	StatusId      *uuid.UUID
	FollowId      *uuid.UUID
	GroupKey      string // empty means no dedup
	IsRead        bool
	ReadAt        *time.Time
	CreatedAt     time.Time
}

// NotificationEvent is what a qualifying event hands to the notification engine.
type NotificationEvent struct {
	ActorId       uuid.UUID
	Type          NotificationType
	SourceActorId uuid.UUID
	StatusId      *uuid.UUID
	FollowId      *uuid.UUID
	GroupKey      string
}

// NotificationQuery pages a recipient's notifications.
type NotificationQuery struct {
	Page
	Types        []NotificationType
	ExcludeTypes []NotificationType
}

// GroupKey builds the idempotency key for a status-scoped event, e.g. reblog:<id>.
func GroupKey(t NotificationType, statusId uuid.UUID) string {
	return fmt.Sprintf("%s:%s", t, statusId)
}
