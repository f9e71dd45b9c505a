package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
)

// Activity log, likes and the outbound delivery queue.
const (
	sqlInsertActivity = `INSERT INTO activities(id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(activity_uri) DO NOTHING`
	sqlSelectActivityByURI = `SELECT id, activity_uri, activity_type, actor_uri, object_uri, raw_json, processed, local, created_at FROM activities WHERE activity_uri = ?`
	sqlMarkActivityDone    = `UPDATE activities SET processed = 1 WHERE id = ?`

	sqlInsertLike = `INSERT INTO likes(id, account_id, status_id, uri, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(account_id, status_id) DO NOTHING`
	sqlSelectLikeByURI = `SELECT id, account_id, status_id, uri, created_at FROM likes WHERE uri = ?`
	sqlDeleteLike      = `DELETE FROM likes WHERE id = ?`
	sqlCountLikes      = `SELECT COUNT(*) FROM likes WHERE status_id = ?`

	sqlInsertDelivery      = `INSERT INTO delivery_queue(id, inbox_uri, actor_id, activity_json, attempts, next_retry_at, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectDueDeliveries = `SELECT id, inbox_uri, actor_id, activity_json, attempts, next_retry_at, created_at FROM delivery_queue WHERE next_retry_at <= ? ORDER BY next_retry_at ASC LIMIT ?`
	sqlUpdateDeliveryRetry = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery      = `DELETE FROM delivery_queue WHERE id = ?`
)

// CreateActivity logs an activity and reports false when its URI was already seen.
func (db *DB) CreateActivity(ctx context.Context, a *domain.Activity) (bool, error) {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	var inserted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertActivity,
			a.Id,
			a.ActivityURI,
			a.ActivityType,
			a.ActorURI,
			a.ObjectURI,
			a.RawJSON,
			a.Processed,
			a.Local,
			toNanos(a.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting activity %s: %w", a.ActivityURI, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}

func (db *DB) ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error) {
	var a domain.Activity
	var created int64
	err := db.db.QueryRowContext(ctx, sqlSelectActivityByURI, uri).Scan(
		&a.Id,
		&a.ActivityURI,
		&a.ActivityType,
		&a.ActorURI,
		&a.ObjectURI,
		&a.RawJSON,
		&a.Processed,
		&a.Local,
		&created,
	)
	if err != nil {
		return nil, notFound(err)
	}
	a.CreatedAt = fromNanos(created)
	return &a, nil
}

func (db *DB) MarkActivityProcessed(ctx context.Context, id uuid.UUID) error {
	return db.execAffecting(ctx, sqlMarkActivityDone, id)
}

// CreateLike stores a like and reports false when the actor already liked the status.
func (db *DB) CreateLike(ctx context.Context, l *domain.Like) (bool, error) {
	if l.Id == uuid.Nil {
		l.Id = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	var inserted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertLike, l.Id, l.AccountId, l.StatusId, l.URI, toNanos(l.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting like %s: %w", l.URI, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	return inserted, err
}

func (db *DB) ReadLikeByURI(ctx context.Context, uri string) (*domain.Like, error) {
	var l domain.Like
	var created int64
	err := db.db.QueryRowContext(ctx, sqlSelectLikeByURI, uri).Scan(&l.Id, &l.AccountId, &l.StatusId, &l.URI, &created)
	if err != nil {
		return nil, notFound(err)
	}
	l.CreatedAt = fromNanos(created)
	return &l, nil
}

func (db *DB) DeleteLike(ctx context.Context, id uuid.UUID) error {
	return db.execAffecting(ctx, sqlDeleteLike, id)
}

func (db *DB) CountLikes(ctx context.Context, statusId uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountLikes, statusId).Scan(&n)
	return n, err
}

func (db *DB) EnqueueDelivery(ctx context.Context, item *domain.DeliveryQueueItem) error {
	if item.Id == uuid.Nil {
		item.Id = uuid.New()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = now
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertDelivery,
			item.Id,
			item.InboxURI,
			item.ActorId,
			item.ActivityJSON,
			item.Attempts,
			toNanos(item.NextRetryAt),
			toNanos(item.CreatedAt),
		)
		return err
	})
}

// ReadDueDeliveries returns queued deliveries whose retry time has passed.
func (db *DB) ReadDueDeliveries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryQueueItem, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectDueDeliveries, toNanos(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		var next, created int64
		if err := rows.Scan(&item.Id, &item.InboxURI, &item.ActorId, &item.ActivityJSON, &item.Attempts, &next, &created); err != nil {
			return items, err
		}
		item.NextRetryAt = fromNanos(next)
		item.CreatedAt = fromNanos(created)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (db *DB) UpdateDeliveryAttempt(ctx context.Context, id uuid.UUID, attempts int, nextRetry time.Time) error {
	return db.execAffecting(ctx, sqlUpdateDeliveryRetry, attempts, toNanos(nextRetry), id)
}

func (db *DB) DeleteDelivery(ctx context.Context, id uuid.UUID) error {
	return db.execAffecting(ctx, sqlDeleteDelivery, id)
}
