package db

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertTimelineEntry = `INSERT INTO timelines(timeline, owner_id, status_id, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(timeline, owner_id, status_id) DO NOTHING`
	sqlSelectTimelineCursor   = `SELECT created_at, status_id FROM timelines WHERE timeline = ? AND owner_id = ? AND status_id = ?`
	sqlDeleteTimelineByStatus = `DELETE FROM timelines WHERE status_id = ?`
)

// CreateTimelineEntry inserts the entry unless the (timeline, owner, status)
// triple already exists, and reports whether it inserted.
func (db *DB) CreateTimelineEntry(ctx context.Context, e domain.TimelineEntry) (bool, error) {
	var inserted bool
	err := db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, sqlInsertTimelineEntry, e.Timeline, e.OwnerId, e.StatusId, toNanos(e.CreatedAt))
		if err != nil {
			return fmt.Errorf("inserting %s entry for %s: %w", e.Timeline, e.OwnerId, err)
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

// ReadTimeline pages the statuses of one timeline, newest first. The page
// cursors are status ids; an unknown cursor is ignored.
func (db *DB) ReadTimeline(ctx context.Context, timeline domain.Timeline, ownerId uuid.UUID, page domain.Page) ([]domain.Message, error) {
	page = page.Normalize()

	var anchor *cursor
	if id := pageCursorId(page); id != nil {
		var c cursor
		err := db.db.QueryRowContext(ctx, sqlSelectTimelineCursor, timeline, ownerId, *id).Scan(&c.createdAt, &c.id)
		switch {
		case err == nil:
			anchor = &c
		case err != sql.ErrNoRows:
			return nil, err
		}
	}

	where, args, order, reverse := pageWindow(page, anchor, "t.created_at", "t.status_id")
	query := `SELECT ` + prefixed("m", messageColumns) + ` FROM timelines t
		INNER JOIN messages m ON m.id = t.status_id
		WHERE t.timeline = ? AND t.owner_id = ?` + where + order + ` LIMIT ?`

	allArgs := append([]any{timeline, ownerId}, args...)
	allArgs = append(allArgs, page.Limit)

	messages, err := db.queryMessages(ctx, query, allArgs...)
	if err != nil {
		return nil, err
	}
	if reverse {
		slices.Reverse(messages)
	}
	return messages, nil
}

// DeleteTimelineEntriesByStatus removes a status from every timeline.
func (db *DB) DeleteTimelineEntriesByStatus(ctx context.Context, statusId uuid.UUID) error {
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlDeleteTimelineByStatus, statusId)
		return err
	})
}
