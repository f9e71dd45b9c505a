// Package notify records and pages per-actor notifications.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) error
	UpsertNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error)
	ReadNotifications(ctx context.Context, actorId uuid.UUID, q domain.NotificationQuery) ([]domain.Notification, error)
	MarkNotificationsRead(ctx context.Context, actorId uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error)
	DeleteNotification(ctx context.Context, actorId, id uuid.UUID) error
	DeleteNotificationsByStatus(ctx context.Context, statusId uuid.UUID) error
	DeleteNotificationsByFollow(ctx context.Context, followId uuid.UUID) error
}

// Publisher is told about every notification created or resurfaced.
type Publisher interface {
	PublishNotification(n *domain.Notification)
}

type Engine struct {
	store     Store
	publisher Publisher
	log       *zap.Logger
	now       func() time.Time
}

// NewEngine returns a notification engine. publisher may be nil.
func NewEngine(store Store, publisher Publisher, log *zap.Logger) *Engine {
	return &Engine{store: store, publisher: publisher, log: log, now: time.Now}
}

// Notify records ev for its recipient. An event carrying a GroupKey that
// already notified the recipient moves that notification back to the top
// and marks it unread instead of adding another one. Events an actor causes
// for themself are dropped and return nil, nil.
func (e *Engine) Notify(ctx context.Context, ev domain.NotificationEvent) (*domain.Notification, error) {
	if ev.ActorId == ev.SourceActorId {
		return nil, nil
	}
	if _, err := domain.ParseNotificationType(string(ev.Type)); err != nil {
		return nil, err
	}

	n := &domain.Notification{
		ActorId:       ev.ActorId,
		Type:          ev.Type,
		SourceActorId: ev.SourceActorId,
		StatusId:      ev.StatusId,
		FollowId:      ev.FollowId,
		GroupKey:      ev.GroupKey,
		CreatedAt:     e.now().UTC(),
	}

	if ev.GroupKey == "" {
		if err := e.store.CreateNotification(ctx, n); err != nil {
			return nil, fmt.Errorf("creating %s notification: %w", ev.Type, err)
		}
	} else {
		stored, err := e.store.UpsertNotification(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("upserting %s notification: %w", ev.Type, err)
		}
		n = stored
	}

	e.log.Debug("Notify: recorded",
		zap.String("type", string(n.Type)),
		zap.String("recipient", n.ActorId.String()),
		zap.String("groupKey", n.GroupKey))
	if e.publisher != nil {
		e.publisher.PublishNotification(n)
	}
	return n, nil
}

// List pages actorId's notifications, newest first.
func (e *Engine) List(ctx context.Context, actorId uuid.UUID, q domain.NotificationQuery) ([]domain.Notification, error) {
	q.Page = q.Page.Normalize()
	return e.store.ReadNotifications(ctx, actorId, q)
}

// MarkRead marks the given notifications read and returns how many changed.
func (e *Engine) MarkRead(ctx context.Context, actorId uuid.UUID, ids ...uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return e.store.MarkNotificationsRead(ctx, actorId, ids, e.now().UTC())
}

func (e *Engine) MarkAllRead(ctx context.Context, actorId uuid.UUID) (int64, error) {
	return e.store.MarkNotificationsRead(ctx, actorId, nil, e.now().UTC())
}

// Dismiss deletes one of actorId's notifications.
func (e *Engine) Dismiss(ctx context.Context, actorId, id uuid.UUID) error {
	return e.store.DeleteNotification(ctx, actorId, id)
}

// RemoveForStatus deletes every notification about a deleted status.
func (e *Engine) RemoveForStatus(ctx context.Context, statusId uuid.UUID) error {
	return e.store.DeleteNotificationsByStatus(ctx, statusId)
}

// RemoveForFollow deletes the notifications of an undone follow.
func (e *Engine) RemoveForFollow(ctx context.Context, followId uuid.UUID) error {
	return e.store.DeleteNotificationsByFollow(ctx, followId)
}
