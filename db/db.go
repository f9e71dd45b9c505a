package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// DB is the database struct.
type DB struct {
	db  *sql.DB
	log *zap.Logger
}

const (
	maxBusyRetries = 5
	busyBackoff    = 50 * time.Millisecond
	memoryPath     = ":memory:"
)

// Open opens (or creates) the SQLite database at path. Use ":memory:" for a
// throwaway database; it is pinned to a single connection so every query sees
// the same schema.
func Open(path string, log *zap.Logger) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}

	if path == memoryPath {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("connecting to database %s: %w", path, err)
	}

	log.Info("Database: opened", zap.String("path", path))
	return &DB{db: sqlDB, log: log}, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// wrapTransaction runs f in a transaction, retrying the whole transaction a
// bounded number of times when SQLite reports the database as busy.
// f must only use tx: the in-memory pool has a single connection.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = db.runTransaction(ctx, f)
		if err == nil || !isBusy(err) || attempt >= maxBusyRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff * time.Duration(attempt+1)):
		}
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		db.log.Debug("Database: transaction failed", zap.Error(err))
	}
	return err
}

func (db *DB) runTransaction(ctx context.Context, f func(tx *sql.Tx) error) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := f(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code() & 0xff
		return code == sqlitelib.SQLITE_BUSY || code == sqlitelib.SQLITE_LOCKED
	}
	return false
}

// notFound maps sql.ErrNoRows onto domain.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

// Timestamps are stored as unix nanoseconds so (created_at, id) cursors compare exactly.
func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func fromNullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func encodeList(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(list)
	return string(b)
}

func decodeList(raw string) []string {
	var list []string
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil
	}
	return list
}

// cursor is the (created_at, id) position of a page anchor.
type cursor struct {
	createdAt int64
	id        string
}

// pageWindow turns a normalized page and its resolved anchor into a WHERE
// fragment, its arguments, an ORDER BY clause and whether the fetched rows
// must be reversed to come out newest first.
func pageWindow(p domain.Page, anchor *cursor, tsCol, idCol string) (string, []any, string, bool) {
	desc := fmt.Sprintf(" ORDER BY %s DESC, %s DESC", tsCol, idCol)
	if anchor == nil {
		return "", nil, desc, false
	}

	older := fmt.Sprintf(" AND (%[1]s < ? OR (%[1]s = ? AND %[2]s < ?))", tsCol, idCol)
	newer := fmt.Sprintf(" AND (%[1]s > ? OR (%[1]s = ? AND %[2]s > ?))", tsCol, idCol)
	args := []any{anchor.createdAt, anchor.createdAt, anchor.id}

	switch {
	case p.MaxId != nil:
		return older, args, desc, false
	case p.MinId != nil:
		return newer, args, fmt.Sprintf(" ORDER BY %s ASC, %s ASC", tsCol, idCol), true
	default:
		return newer, args, desc, false
	}
}

// pageCursorId picks the one cursor a page honours: MaxId, then MinId, then SinceId.
func pageCursorId(p domain.Page) *uuid.UUID {
	switch {
	case p.MaxId != nil:
		return p.MaxId
	case p.MinId != nil:
		return p.MinId
	default:
		return p.SinceId
	}
}
