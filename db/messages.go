package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
)

const messageColumns = `id, uri, actor_id, type, content, to_json, cc_json, mentions_json, in_reply_to_id, in_reply_to_uri, reblog_of_id, reblog_of_uri, visibility, local, created_at, edited_at`

const (
	sqlInsertMessage = `INSERT INTO messages(` + messageColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO NOTHING`
	sqlSelectMessageById     = `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	sqlSelectMessageByURI    = `SELECT ` + messageColumns + ` FROM messages WHERE uri = ?`
	sqlSelectMessagesByActor = `SELECT ` + messageColumns + ` FROM messages WHERE actor_id = ? AND type != 'Announce' AND visibility IN ('public', 'unlisted') ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	sqlCountMessagesByActor  = `SELECT COUNT(*) FROM messages WHERE actor_id = ? AND type != 'Announce' AND visibility IN ('public', 'unlisted')`
	sqlUpdateMessageContent  = `UPDATE messages SET content = ?, edited_at = ? WHERE id = ?`
	sqlDeleteMessage         = `DELETE FROM messages WHERE id = ?`
	sqlDeleteLikesByStatus   = `DELETE FROM likes WHERE status_id = ?`
)

func scanMessage(row rowScanner) (*domain.Message, error) {
	var m domain.Message
	var to, cc, mentions string
	var inReplyTo, reblogOf uuid.NullUUID
	var created int64
	var edited sql.NullInt64
	err := row.Scan(
		&m.Id,
		&m.URI,
		&m.ActorId,
		&m.Type,
		&m.Content,
		&to,
		&cc,
		&mentions,
		&inReplyTo,
		&m.InReplyToURI,
		&reblogOf,
		&m.ReblogOfURI,
		&m.Visibility,
		&m.Local,
		&created,
		&edited,
	)
	if err != nil {
		return nil, notFound(err)
	}
	m.To = decodeList(to)
	m.Cc = decodeList(cc)
	m.Mentions = decodeList(mentions)
	m.InReplyToId = fromNullUUID(inReplyTo)
	m.ReblogOfId = fromNullUUID(reblogOf)
	m.CreatedAt = fromNanos(created)
	m.EditedAt = fromNullNanos(edited)
	return &m, nil
}

// CreateMessage stores a status. It reports false, leaving m untouched, when
// a status with the same URI already exists.
func (db *DB) CreateMessage(ctx context.Context, m *domain.Message) (bool, error) {
	if m.Id == uuid.Nil {
		m.Id = uuid.Must(uuid.NewV7())
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	var inserted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertMessage,
			m.Id,
			m.URI,
			m.ActorId,
			m.Type,
			m.Content,
			encodeList(m.To),
			encodeList(m.Cc),
			encodeList(m.Mentions),
			nullUUID(m.InReplyToId),
			m.InReplyToURI,
			nullUUID(m.ReblogOfId),
			m.ReblogOfURI,
			m.Visibility,
			m.Local,
			toNanos(m.CreatedAt),
			nullNanos(m.EditedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting message %s: %w", m.URI, err)
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

func (db *DB) ReadMessageById(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return scanMessage(db.db.QueryRowContext(ctx, sqlSelectMessageById, id))
}

func (db *DB) ReadMessageByURI(ctx context.Context, uri string) (*domain.Message, error) {
	return scanMessage(db.db.QueryRowContext(ctx, sqlSelectMessageByURI, uri))
}

// ReadMessagesByActor pages an actor's public and unlisted notes, newest first.
func (db *DB) ReadMessagesByActor(ctx context.Context, actorId uuid.UUID, limit, offset int) ([]domain.Message, error) {
	return db.queryMessages(ctx, sqlSelectMessagesByActor, actorId, limit, offset)
}

func (db *DB) CountMessagesByActor(ctx context.Context, actorId uuid.UUID) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx, sqlCountMessagesByActor, actorId).Scan(&n)
	return n, err
}

func (db *DB) UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	return db.execAffecting(ctx, sqlUpdateMessageContent, content, toNanos(editedAt), id)
}

// DeleteMessage removes a status together with its timeline entries and likes.
func (db *DB) DeleteMessage(ctx context.Context, id uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlDeleteMessage, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		if _, err := tx.ExecContext(ctx, sqlDeleteTimelineByStatus, id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, sqlDeleteLikesByStatus, id)
		return err
	})
}

func (db *DB) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return messages, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}
