package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
)

const actorColumns = `id, uri, username, domain, display_name, summary, email, inbox_uri, shared_inbox_uri, outbox_uri, followers_uri, public_key_pem, private_key_pem, locked, local, last_fetched_at, created_at`

const (
	sqlInsertActor       = `INSERT INTO actors(` + actorColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpsertRemoteActor = `INSERT INTO actors(` + actorColumns + `) VALUES (?, ?, ?, ?, ?, ?, '', ?, ?, ?, ?, ?, '', ?, 0, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			username = excluded.username,
			domain = excluded.domain,
			display_name = excluded.display_name,
			summary = excluded.summary,
			inbox_uri = excluded.inbox_uri,
			shared_inbox_uri = excluded.shared_inbox_uri,
			outbox_uri = excluded.outbox_uri,
			followers_uri = excluded.followers_uri,
			public_key_pem = excluded.public_key_pem,
			locked = excluded.locked,
			last_fetched_at = excluded.last_fetched_at
		WHERE actors.local = 0
		RETURNING id, created_at`
	sqlSelectActorById       = `SELECT ` + actorColumns + ` FROM actors WHERE id = ?`
	sqlSelectActorByURI      = `SELECT ` + actorColumns + ` FROM actors WHERE uri = ?`
	sqlSelectActorByUsername = `SELECT ` + actorColumns + ` FROM actors WHERE username = ? AND local = 1`
	sqlSelectLocalActors     = `SELECT ` + actorColumns + ` FROM actors WHERE local = 1 ORDER BY username`
	sqlSelectActorsByURIs    = `SELECT ` + actorColumns + ` FROM actors WHERE local = 1 AND uri IN (SELECT value FROM json_each(?))`
)

// prefixed qualifies a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, c := range parts {
		parts[i] = alias + "." + c
	}
	return strings.Join(parts, ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanActor(row rowScanner) (*domain.Actor, error) {
	var a domain.Actor
	var lastFetched, created int64
	err := row.Scan(
		&a.Id,
		&a.URI,
		&a.Username,
		&a.Domain,
		&a.DisplayName,
		&a.Summary,
		&a.Email,
		&a.InboxURI,
		&a.SharedInboxURI,
		&a.OutboxURI,
		&a.FollowersURI,
		&a.PublicKeyPem,
		&a.PrivateKeyPem,
		&a.Locked,
		&a.Local,
		&lastFetched,
		&created,
	)
	if err != nil {
		return nil, notFound(err)
	}
	a.LastFetchedAt = fromNanos(lastFetched)
	a.CreatedAt = fromNanos(created)
	return &a, nil
}

// CreateLocalActor stores a new local account. Id and CreatedAt are filled in when empty.
func (db *DB) CreateLocalActor(ctx context.Context, a *domain.Actor) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.Local = true
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, sqlInsertActor,
			a.Id,
			a.URI,
			a.Username,
			a.Domain,
			a.DisplayName,
			a.Summary,
			a.Email,
			a.InboxURI,
			a.SharedInboxURI,
			a.OutboxURI,
			a.FollowersURI,
			a.PublicKeyPem,
			a.PrivateKeyPem,
			a.Locked,
			true,
			toNanos(a.LastFetchedAt),
			toNanos(a.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("inserting actor %s: %w", a.Username, err)
		}
		return nil
	})
}

// UpsertRemoteActor inserts or refreshes a federated actor keyed by URI and
// sets a.Id to the stored id. A local actor with the same URI is never overwritten.
func (db *DB) UpsertRemoteActor(ctx context.Context, a *domain.Actor) error {
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	if a.LastFetchedAt.IsZero() {
		a.LastFetchedAt = time.Now().UTC()
	}
	return db.wrapTransaction(ctx, func(tx *sql.Tx) error {
		var created int64
		err := tx.QueryRowContext(ctx, sqlUpsertRemoteActor,
			a.Id,
			a.URI,
			a.Username,
			a.Domain,
			a.DisplayName,
			a.Summary,
			a.InboxURI,
			a.SharedInboxURI,
			a.OutboxURI,
			a.FollowersURI,
			a.PublicKeyPem,
			a.Locked,
			toNanos(a.LastFetchedAt),
			toNanos(a.CreatedAt),
		).Scan(&a.Id, &created)
		if err == sql.ErrNoRows {
			return fmt.Errorf("actor %s is local: %w", a.URI, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("upserting actor %s: %w", a.URI, err)
		}
		a.CreatedAt = fromNanos(created)
		a.Local = false
		return nil
	})
}

func (db *DB) ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorById, id))
}

func (db *DB) ReadActorByURI(ctx context.Context, uri string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorByURI, uri))
}

// ReadActorByUsername looks up a local account.
func (db *DB) ReadActorByUsername(ctx context.Context, username string) (*domain.Actor, error) {
	return scanActor(db.db.QueryRowContext(ctx, sqlSelectActorByUsername, username))
}

func (db *DB) ReadLocalActors(ctx context.Context) ([]domain.Actor, error) {
	return db.queryActors(ctx, sqlSelectLocalActors)
}

// ReadLocalActorsByURIs returns the local actors among uris; unknown and remote URIs are skipped.
func (db *DB) ReadLocalActorsByURIs(ctx context.Context, uris []string) ([]domain.Actor, error) {
	if len(uris) == 0 {
		return nil, nil
	}
	return db.queryActors(ctx, sqlSelectActorsByURIs, encodeList(uris))
}

func (db *DB) queryActors(ctx context.Context, query string, args ...any) ([]domain.Actor, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return actors, err
		}
		actors = append(actors, *a)
	}
	return actors, rows.Err()
}
