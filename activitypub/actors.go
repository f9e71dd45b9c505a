package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/util"
	"go.uber.org/zap"
)

// ActorResponse represents the JSON structure of an ActivityPub actor, or of
// a bare Key document carrying publicKeyPem at the top level.
type ActorResponse struct {
	Context                   interface{} `json:"@context"`
	ID                        string      `json:"id"`
	Type                      string      `json:"type"`
	PreferredUsername         string      `json:"preferredUsername"`
	Name                      string      `json:"name"`
	Summary                   string      `json:"summary"`
	Inbox                     string      `json:"inbox"`
	Outbox                    string      `json:"outbox"`
	Followers                 string      `json:"followers"`
	ManuallyApprovesFollowers bool        `json:"manuallyApprovesFollowers"`
	Endpoints                 struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem"`
	} `json:"publicKey"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// StatusError is a non-2xx answer from a remote server.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}

// ActorStore is the actor storage the federation layer needs.
type ActorStore interface {
	ReadActorByURI(ctx context.Context, uri string) (*domain.Actor, error)
	ReadActorByUsername(ctx context.Context, username string) (*domain.Actor, error)
	UpsertRemoteActor(ctx context.Context, a *domain.Actor) error
}

// ProfileFetcher fetches an actor's public profile from its origin server.
type ProfileFetcher interface {
	FetchActorProfile(ctx context.Context, actorURI string) (*domain.Actor, error)
}

// HTTPFetcher is the ProfileFetcher used in production.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPFetcher{client: client}
}

// FetchActorProfile GETs actorURI as activity+json. Non-2xx answers are
// returned as *StatusError.
func (f *HTTPFetcher) FetchActorProfile(ctx context.Context, actorURI string) (*domain.Actor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, actorURI, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", activityJSON)
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: actorURI, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var actor ActorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	return actorFromResponse(&actor)
}

func actorFromResponse(r *ActorResponse) (*domain.Actor, error) {
	// a bare Key document
	if r.PublicKeyPem != "" && r.PublicKey.PublicKeyPem == "" {
		owner := r.Owner
		if owner == "" {
			owner, _, _ = strings.Cut(r.ID, "#")
		}
		host, err := extractDomain(owner)
		if err != nil {
			return nil, err
		}
		return &domain.Actor{URI: owner, Domain: host, PublicKeyPem: r.PublicKeyPem}, nil
	}

	if r.ID == "" || r.PublicKey.PublicKeyPem == "" {
		return nil, fmt.Errorf("actor missing required fields")
	}
	host, err := extractDomain(r.ID)
	if err != nil {
		return nil, err
	}
	username := r.PreferredUsername
	if username == "" {
		username = extractUsername(r.ID)
	}

	return &domain.Actor{
		URI:            r.ID,
		Username:       username,
		Domain:         host,
		DisplayName:    r.Name,
		Summary:        r.Summary,
		InboxURI:       r.Inbox,
		SharedInboxURI: r.Endpoints.SharedInbox,
		OutboxURI:      r.Outbox,
		FollowersURI:   r.Followers,
		PublicKeyPem:   r.PublicKey.PublicKeyPem,
		Locked:         r.ManuallyApprovesFollowers,
		LastFetchedAt:  time.Now().UTC(),
	}, nil
}

// Actors returns stored actors and fetches unknown or stale remote ones.
type Actors struct {
	store   ActorStore
	fetcher ProfileFetcher
	timeout time.Duration
	maxAge  time.Duration
	log     *zap.Logger
}

func NewActors(store ActorStore, fetcher ProfileFetcher, timeout time.Duration, log *zap.Logger) *Actors {
	return &Actors{store: store, fetcher: fetcher, timeout: timeout, maxAge: 24 * time.Hour, log: log}
}

// GetOrFetch returns actorURI from storage, refreshing remote actors older than a day.
func (a *Actors) GetOrFetch(ctx context.Context, actorURI string) (*domain.Actor, error) {
	cached, err := a.store.ReadActorByURI(ctx, actorURI)
	if err == nil && (cached.Local || time.Since(cached.LastFetchedAt) < a.maxAge) {
		return cached, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	fresh, fetchErr := a.Refresh(ctx, actorURI)
	if fetchErr != nil && cached != nil {
		a.log.Warn("Actors: refresh failed, using cached copy", zap.String("actor", actorURI), zap.Error(fetchErr))
		return cached, nil
	}
	return fresh, fetchErr
}

// Refresh fetches actorURI and stores the result.
func (a *Actors) Refresh(ctx context.Context, actorURI string) (*domain.Actor, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	actor, err := a.fetcher.FetchActorProfile(fetchCtx, actorURI)
	if err != nil {
		return nil, fmt.Errorf("fetching actor %s: %w", actorURI, err)
	}
	if actor.InboxURI == "" {
		return nil, fmt.Errorf("actor %s has no inbox", actorURI)
	}
	if err := a.store.UpsertRemoteActor(ctx, actor); err != nil {
		return nil, fmt.Errorf("failed to store remote actor: %w", err)
	}
	return actor, nil
}

// extractDomain extracts the domain from an actor URI
// Example: "https://mastodon.social/users/alice" -> "mastodon.social"
func extractDomain(actorURI string) (string, error) {
	parsed, err := url.Parse(actorURI)
	if err != nil {
		return "", fmt.Errorf("invalid actor URI: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("invalid actor URI: %q has no host", actorURI)
	}
	return parsed.Host, nil
}

// extractUsername extracts username from various URI formats
// Examples:
// - "https://example.com/users/alice" -> "alice"
// - "https://example.com/@alice" -> "alice"
func extractUsername(uri string) string {
	uri = strings.TrimSuffix(uri, "/")
	parts := strings.Split(uri, "/")
	if len(parts) > 0 {
		return strings.TrimPrefix(parts[len(parts)-1], "@")
	}
	return ""
}
