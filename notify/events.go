package notify

import (
	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
)

// FollowEvent tells target about a follow; requested marks a follow awaiting approval.
func FollowEvent(target, follower uuid.UUID, followId uuid.UUID, requested bool) domain.NotificationEvent {
	t := domain.NotificationFollow
	if requested {
		t = domain.NotificationFollowRequest
	}
	return domain.NotificationEvent{
		ActorId:       target,
		Type:          t,
		SourceActorId: follower,
		FollowId:      &followId,
		GroupKey:      domain.GroupKey(t, follower),
	}
}

// StatusEvent tells a status author (or a mentioned actor) about something
// another actor did with that status.
func StatusEvent(t domain.NotificationType, recipient, source, statusId uuid.UUID) domain.NotificationEvent {
	return domain.NotificationEvent{
		ActorId:       recipient,
		Type:          t,
		SourceActorId: source,
		StatusId:      &statusId,
		GroupKey:      domain.GroupKey(t, statusId),
	}
}
