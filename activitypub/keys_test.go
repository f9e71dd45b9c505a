package activitypub

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newResolver(store *memActorStore, fetcher *fakeFetcher, cacheTTL time.Duration) *KeyResolver {
	return NewKeyResolver(store, fetcher, "local.example", 200*time.Millisecond, cacheTTL, zap.NewNop())
}

func remoteBob(pem string) *domain.Actor {
	return &domain.Actor{
		URI:            bobURI,
		Username:       "bob",
		Domain:         "remote.example",
		InboxURI:       bobURI + "/inbox",
		SharedInboxURI: "https://remote.example/inbox",
		PublicKeyPem:   pem,
	}
}

func TestResolveLocalActorWithoutNetwork(t *testing.T) {
	alice := &domain.Actor{Id: uuid.New(), URI: "https://local.example/users/alice", Username: "alice", PublicKeyPem: "alice-pem", Local: true}
	fetcher := newFakeFetcher()
	resolver := newResolver(newMemActorStore(alice), fetcher, 0)

	pem, err := resolver.Resolve(context.Background(), "https://local.example/users/alice#main-key")
	require.NoError(t, err)
	assert.Equal(t, "alice-pem", pem)
	assert.Zero(t, fetcher.callCount())

	_, err = resolver.Resolve(context.Background(), "https://local.example/users/nobody#main-key")
	assert.ErrorIs(t, err, ErrKeyResolutionFailed)
	assert.Zero(t, fetcher.callCount())
}

func TestResolveRemoteFetchesAndStores(t *testing.T) {
	store := newMemActorStore()
	fetcher := newFakeFetcher()
	fetcher.profiles[bobURI] = remoteBob("bob-pem")
	resolver := newResolver(store, fetcher, 0)

	for i := 0; i < 2; i++ {
		pem, err := resolver.Resolve(context.Background(), bobKeyId)
		require.NoError(t, err)
		assert.Equal(t, "bob-pem", pem)
	}
	// no TTL: every verification goes to the origin
	assert.Equal(t, 2, fetcher.callCount())

	stored, err := store.ReadActorByURI(context.Background(), bobURI)
	require.NoError(t, err)
	assert.Equal(t, "bob-pem", stored.PublicKeyPem)
}

func TestResolveUsesCacheWithinTTL(t *testing.T) {
	bob := remoteBob("cached-pem")
	bob.LastFetchedAt = time.Now()
	fetcher := newFakeFetcher()
	resolver := newResolver(newMemActorStore(bob), fetcher, time.Hour)

	pem, err := resolver.Resolve(context.Background(), bobKeyId)
	require.NoError(t, err)
	assert.Equal(t, "cached-pem", pem)
	assert.Zero(t, fetcher.callCount())
}

func TestResolveGoneFallsBackOnce(t *testing.T) {
	store := newMemActorStore()
	fetcher := newFakeFetcher()
	fetcher.errs[bobURI] = &StatusError{URL: bobURI, StatusCode: http.StatusGone}
	fetcher.profiles["https://remote.example/actor"] = &domain.Actor{URI: "https://remote.example/actor", PublicKeyPem: "instance-pem"}
	resolver := newResolver(store, fetcher, 0)

	pem, err := resolver.Resolve(context.Background(), bobKeyId)
	require.NoError(t, err)
	assert.Equal(t, "instance-pem", pem)
	assert.Equal(t, []string{bobURI, "https://remote.example/actor"}, fetcher.calls)
	// no inbox, nothing to store
	assert.Zero(t, store.upsert)
}

func TestResolveGoneFallbackFails(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs[bobURI] = &StatusError{URL: bobURI, StatusCode: http.StatusGone}
	fetcher.errs["https://remote.example/actor"] = &StatusError{URL: "https://remote.example/actor", StatusCode: http.StatusGone}
	resolver := newResolver(newMemActorStore(), fetcher, 0)

	_, err := resolver.Resolve(context.Background(), bobKeyId)
	assert.ErrorIs(t, err, ErrKeyResolutionFailed)
	assert.Equal(t, 2, fetcher.callCount())

	var resolutionErr *KeyResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	assert.Equal(t, http.StatusGone, resolutionErr.StatusCode)
	assert.Equal(t, bobURI, resolutionErr.ActorURI)
}

func TestResolveFailures(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fakeFetcher)
		keyId   string
		wantErr error
	}{
		{
			name:  "not found",
			setup: func(f *fakeFetcher) {},
			keyId: bobKeyId,
		},
		{
			name:  "network",
			setup: func(f *fakeFetcher) { f.errs[bobURI] = errors.New("connection refused") },
			keyId: bobKeyId,
		},
		{
			name:  "no key in profile",
			setup: func(f *fakeFetcher) { f.profiles[bobURI] = remoteBob("") },
			keyId: bobKeyId,
		},
		{
			name:    "timeout",
			setup:   func(f *fakeFetcher) { f.block = true },
			keyId:   bobKeyId,
			wantErr: context.DeadlineExceeded,
		},
		{
			name:  "relative keyId",
			setup: func(f *fakeFetcher) {},
			keyId: "/users/bob#main-key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			tt.setup(fetcher)
			resolver := newResolver(newMemActorStore(), fetcher, 0)

			_, err := resolver.Resolve(context.Background(), tt.keyId)
			assert.ErrorIs(t, err, ErrKeyResolutionFailed)
			assert.True(t, Retryable(err))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
