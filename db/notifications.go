package db

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
)

const notificationColumns = `id, actor_id, type, source_actor_id, status_id, follow_id, group_key, is_read, read_at, created_at`

const (
	sqlInsertNotification = `INSERT INTO notifications(` + notificationColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?)`
	// A grouped event that already notified the recipient bumps the existing
	// row to the top and marks it unread again.
	sqlUpsertNotification = sqlInsertNotification + `
		ON CONFLICT(actor_id, group_key) DO UPDATE SET
			created_at = excluded.created_at,
			source_actor_id = excluded.source_actor_id,
			is_read = 0,
			read_at = NULL
		RETURNING ` + notificationColumns
	sqlSelectNotificationCursor  = `SELECT created_at, id FROM notifications WHERE actor_id = ? AND id = ?`
	sqlMarkAllNotificationsRead  = `UPDATE notifications SET is_read = 1, read_at = ? WHERE actor_id = ? AND is_read = 0`
	sqlMarkNotificationsRead     = sqlMarkAllNotificationsRead + ` AND id IN (SELECT value FROM json_each(?))`
	sqlDeleteNotification        = `DELETE FROM notifications WHERE actor_id = ? AND id = ?`
	sqlDeleteNotificationsStatus = `DELETE FROM notifications WHERE status_id = ?`
	sqlDeleteNotificationsFollow = `DELETE FROM notifications WHERE follow_id = ?`
)

func scanNotification(row rowScanner) (*domain.Notification, error) {
	var n domain.Notification
	var statusId, followId uuid.NullUUID
	var groupKey sql.NullString
	var readAt sql.NullInt64
	var created int64
	err := row.Scan(
		&n.Id,
		&n.ActorId,
		&n.Type,
		&n.SourceActorId,
		&statusId,
		&followId,
		&groupKey,
		&n.IsRead,
		&readAt,
		&created,
	)
	if err != nil {
		return nil, notFound(err)
	}
	n.StatusId = fromNullUUID(statusId)
	n.FollowId = fromNullUUID(followId)
	n.GroupKey = groupKey.String
	n.ReadAt = fromNullNanos(readAt)
	n.CreatedAt = fromNanos(created)
	return &n, nil
}

func prepareNotification(n *domain.Notification) {
	if n.Id == uuid.Nil {
		n.Id = uuid.Must(uuid.NewV7())
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
}

func notificationArgs(n *domain.Notification) []any {
	return []any{
		n.Id,
		n.ActorId,
		n.Type,
		n.SourceActorId,
		nullUUID(n.StatusId),
		nullUUID(n.FollowId),
		nullString(n.GroupKey),
		toNanos(n.CreatedAt),
	}
}

// CreateNotification inserts an ungrouped notification.
func (db *DB) CreateNotification(ctx context.Context, n *domain.Notification) error {
	prepareNotification(n)
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, sqlInsertNotification, notificationArgs(n)...); err != nil {
			return fmt.Errorf("inserting notification for %s: %w", n.ActorId, err)
		}
		return nil
	})
}

// UpsertNotification inserts n, or resurfaces the row already holding
// (n.ActorId, n.GroupKey). It returns the stored row.
func (db *DB) UpsertNotification(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	prepareNotification(n)
	var stored *domain.Notification
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		stored, err = scanNotification(tx.QueryRowContext(ctx, sqlUpsertNotification, notificationArgs(n)...))
		if err != nil {
			return fmt.Errorf("upserting notification %s for %s: %w", n.GroupKey, n.ActorId, err)
		}
		return nil
	})
	return stored, err
}

// ReadNotifications pages a recipient's notifications newest first. Cursors
// are notification ids owned by actorId; any other cursor is ignored.
func (db *DB) ReadNotifications(ctx context.Context, actorId uuid.UUID, q domain.NotificationQuery) ([]domain.Notification, error) {
	page := q.Page.Normalize()

	var anchor *cursor
	if id := pageCursorId(page); id != nil {
		var c cursor
		err := db.db.QueryRowContext(ctx, sqlSelectNotificationCursor, actorId, *id).Scan(&c.createdAt, &c.id)
		switch {
		case err == nil:
			anchor = &c
		case err != sql.ErrNoRows:
			return nil, err
		}
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE actor_id = ?`
	args := []any{actorId}
	if len(q.Types) > 0 {
		query += ` AND type IN (SELECT value FROM json_each(?))`
		args = append(args, encodeTypes(q.Types))
	}
	if len(q.ExcludeTypes) > 0 {
		query += ` AND type NOT IN (SELECT value FROM json_each(?))`
		args = append(args, encodeTypes(q.ExcludeTypes))
	}

	where, windowArgs, order, reverse := pageWindow(page, anchor, "created_at", "id")
	query += where + order + ` LIMIT ?`
	args = append(args, windowArgs...)
	args = append(args, page.Limit)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return notifications, err
		}
		notifications = append(notifications, *n)
	}
	if err := rows.Err(); err != nil {
		return notifications, err
	}
	if reverse {
		slices.Reverse(notifications)
	}
	return notifications, nil
}

// MarkNotificationsRead marks the given notifications of actorId read, or all
// of them when ids is empty. It returns the number of rows changed.
func (db *DB) MarkNotificationsRead(ctx context.Context, actorId uuid.UUID, ids []uuid.UUID, at time.Time) (int64, error) {
	var changed int64
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var res sql.Result
		var err error
		if len(ids) == 0 {
			res, err = tx.ExecContext(ctx, sqlMarkAllNotificationsRead, toNanos(at), actorId)
		} else {
			res, err = tx.ExecContext(ctx, sqlMarkNotificationsRead, toNanos(at), actorId, encodeIds(ids))
		}
		if err != nil {
			return err
		}
		changed, err = res.RowsAffected()
		return err
	})
	return changed, err
}

func (db *DB) DeleteNotification(ctx context.Context, actorId, id uuid.UUID) error {
	return db.execAffecting(ctx, sqlDeleteNotification, actorId, id)
}

func (db *DB) DeleteNotificationsByStatus(ctx context.Context, statusId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteNotificationsStatus, statusId)
		return err
	})
}

func (db *DB) DeleteNotificationsByFollow(ctx context.Context, followId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteNotificationsFollow, followId)
		return err
	})
}

func encodeTypes(types []domain.NotificationType) string {
	list := make([]string, len(types))
	for i, t := range types {
		list[i] = string(t)
	}
	return encodeList(list)
}

func encodeIds(ids []uuid.UUID) string {
	list := make([]string, len(ids))
	for i, id := range ids {
		list[i] = id.String()
	}
	return encodeList(list)
}
