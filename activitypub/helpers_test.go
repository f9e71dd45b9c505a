package activitypub

import (
	"context"
	"crypto/rsa"
	"sync"
	"testing"

	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/util"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testKeys struct {
	private    *rsa.PrivateKey
	privatePem string
	publicPem  string
}

// newTestKeys generates a small key; signatures do not need real strength here.
func newTestKeys(t *testing.T) testKeys {
	t.Helper()
	pair, err := util.GeneratePemKeypair(1024)
	require.NoError(t, err)
	key, err := ParsePrivateKey(pair.Private)
	require.NoError(t, err)
	return testKeys{private: key, privatePem: pair.Private, publicPem: pair.Public}
}

// memActorStore is an in-memory ActorStore.
type memActorStore struct {
	mu     sync.Mutex
	actors map[string]*domain.Actor
	upsert int
}

func newMemActorStore(actors ...*domain.Actor) *memActorStore {
	s := &memActorStore{actors: make(map[string]*domain.Actor)}
	for _, a := range actors {
		s.actors[a.URI] = a
	}
	return s
}

func (s *memActorStore) ReadActorByURI(_ context.Context, uri string) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actors[uri]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *memActorStore) ReadActorByUsername(_ context.Context, username string) (*domain.Actor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		if a.Local && a.Username == username {
			copied := *a
			return &copied, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *memActorStore) UpsertRemoteActor(_ context.Context, a *domain.Actor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert++
	if existing, ok := s.actors[a.URI]; ok {
		if existing.Local {
			return domain.ErrNotFound
		}
		a.Id = existing.Id
	}
	if a.Id == uuid.Nil {
		a.Id = uuid.New()
	}
	copied := *a
	s.actors[a.URI] = &copied
	return nil
}

// fakeFetcher answers profile fetches from a map and records every call.
type fakeFetcher struct {
	mu       sync.Mutex
	profiles map[string]*domain.Actor
	errs     map[string]error
	calls    []string
	block    bool // wait for the context instead of answering
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{profiles: make(map[string]*domain.Actor), errs: make(map[string]error)}
}

func (f *fakeFetcher) FetchActorProfile(ctx context.Context, actorURI string) (*domain.Actor, error) {
	f.mu.Lock()
	f.calls = append(f.calls, actorURI)
	block := f.block
	profile, ok := f.profiles[actorURI]
	err := f.errs[actorURI]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &StatusError{URL: actorURI, StatusCode: 404}
	}
	copied := *profile
	return &copied, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// staticKeys is a KeySource serving fixed keys by keyId.
type staticKeys map[string]string

func (s staticKeys) Resolve(_ context.Context, keyId string) (string, error) {
	pem, ok := s[keyId]
	if !ok {
		return "", &KeyResolutionError{ActorURI: keyId, Err: domain.ErrNotFound}
	}
	return pem, nil
}

// countingKeys counts resolutions.
type countingKeys struct {
	KeySource
	calls int
}

func (c *countingKeys) Resolve(ctx context.Context, keyId string) (string, error) {
	c.calls++
	return c.KeySource.Resolve(ctx, keyId)
}
