package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
)

const followColumns = `id, account_id, target_account_id, uri, status, inbox, shared_inbox, created_at`

const (
	sqlUpsertFollow = `INSERT INTO follows(` + followColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, target_account_id) DO UPDATE SET
			uri = excluded.uri,
			status = CASE WHEN follows.status = 'accepted' THEN follows.status ELSE excluded.status END,
			inbox = excluded.inbox,
			shared_inbox = excluded.shared_inbox
		RETURNING id, status, created_at`
	sqlSelectFollow          = `SELECT ` + followColumns + ` FROM follows WHERE account_id = ? AND target_account_id = ?`
	sqlSelectFollowByURI     = `SELECT ` + followColumns + ` FROM follows WHERE uri = ?`
	sqlUpdateFollowStatus    = `UPDATE follows SET status = ? WHERE id = ?`
	sqlDeleteFollow          = `DELETE FROM follows WHERE id = ?`
	sqlSelectFollowerInboxes = `SELECT DISTINCT CASE WHEN a.shared_inbox_uri != '' THEN a.shared_inbox_uri ELSE a.inbox_uri END FROM follows f
		INNER JOIN actors a ON a.id = f.account_id
		WHERE f.target_account_id = ? AND f.status = 'accepted' AND a.local = 0`
)

var sqlSelectLocalFollowers = `SELECT ` + prefixed("a", actorColumns) + ` FROM follows f
	INNER JOIN actors a ON a.id = f.account_id
	WHERE f.target_account_id = ? AND f.status = 'accepted' AND a.local = 1`

func scanFollow(row rowScanner) (*domain.Follow, error) {
	var f domain.Follow
	var created int64
	err := row.Scan(
		&f.Id,
		&f.AccountId,
		&f.TargetAccountId,
		&f.URI,
		&f.Status,
		&f.Inbox,
		&f.SharedInbox,
		&created,
	)
	if err != nil {
		return nil, notFound(err)
	}
	f.CreatedAt = fromNanos(created)
	return &f, nil
}

// CreateFollow stores a follow relationship. Re-following an actor refreshes
// the existing row; an accepted follow is never downgraded to requested.
func (db *DB) CreateFollow(ctx context.Context, f *domain.Follow) error {
	if f.Id == uuid.Nil {
		f.Id = uuid.New()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = domain.FollowRequested
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var created int64
		err := tx.QueryRowContext(ctx, sqlUpsertFollow,
			f.Id,
			f.AccountId,
			f.TargetAccountId,
			f.URI,
			f.Status,
			f.Inbox,
			f.SharedInbox,
			toNanos(f.CreatedAt),
		).Scan(&f.Id, &f.Status, &created)
		if err != nil {
			return fmt.Errorf("upserting follow %s: %w", f.URI, err)
		}
		f.CreatedAt = fromNanos(created)
		return nil
	})
}

// ReadFollow returns the follow from followerId to targetId.
func (db *DB) ReadFollow(ctx context.Context, followerId, targetId uuid.UUID) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollow, followerId, targetId))
}

func (db *DB) ReadFollowByURI(ctx context.Context, uri string) (*domain.Follow, error) {
	return scanFollow(db.db.QueryRowContext(ctx, sqlSelectFollowByURI, uri))
}

func (db *DB) AcceptFollow(ctx context.Context, id uuid.UUID) error {
	return db.execAffecting(ctx, sqlUpdateFollowStatus, domain.FollowAccepted, id)
}

func (db *DB) DeleteFollow(ctx context.Context, id uuid.UUID) error {
	return db.execAffecting(ctx, sqlDeleteFollow, id)
}

// ReadLocalFollowers returns the local actors holding an accepted follow to targetId.
func (db *DB) ReadLocalFollowers(ctx context.Context, targetId uuid.UUID) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectLocalFollowers, targetId)
}

// ReadFollowerInboxes returns the distinct delivery inboxes of targetId's
// accepted remote followers, shared inboxes preferred.
func (db *DB) ReadFollowerInboxes(ctx context.Context, targetId uuid.UUID) ([]string, error) {
	rows, err := db.db.QueryContext(ctx, sqlSelectFollowerInboxes, targetId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return inboxes, err
		}
		if inbox != "" {
			inboxes = append(inboxes, inbox)
		}
	}
	return inboxes, rows.Err()
}

// execAffecting runs a single-row write and reports domain.ErrNotFound when nothing matched.
func (db *DB) execAffecting(ctx context.Context, query string, args ...any) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}
