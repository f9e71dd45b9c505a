package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/deemkeen/ivory/domain"
	"go.uber.org/zap"
)

// KeyResolver turns a keyId into the signer's current public key.
type KeyResolver struct {
	store       ActorStore
	fetcher     ProfileFetcher
	localDomain string
	timeout     time.Duration
	cacheTTL    time.Duration
	log         *zap.Logger
}

// NewKeyResolver builds a resolver. Actors on localDomain are answered from
// store only. Remote keys are fetched on every call unless cacheTTL > 0.
func NewKeyResolver(store ActorStore, fetcher ProfileFetcher, localDomain string, timeout, cacheTTL time.Duration, log *zap.Logger) *KeyResolver {
	return &KeyResolver{
		store:       store,
		fetcher:     fetcher,
		localDomain: localDomain,
		timeout:     timeout,
		cacheTTL:    cacheTTL,
		log:         log,
	}
}

// Resolve returns the PEM public key for keyId. Every failure is a
// *KeyResolutionError.
func (k *KeyResolver) Resolve(ctx context.Context, keyId string) (string, error) {
	actorURI, _, _ := strings.Cut(keyId, "#")
	origin, err := url.Parse(actorURI)
	if err != nil || origin.Host == "" {
		return "", &KeyResolutionError{ActorURI: actorURI, Err: fmt.Errorf("invalid keyId %q", keyId)}
	}

	if strings.EqualFold(origin.Host, k.localDomain) {
		actor, err := k.store.ReadActorByURI(ctx, actorURI)
		if err != nil {
			return "", &KeyResolutionError{ActorURI: actorURI, Err: err}
		}
		if !actor.Local {
			return "", &KeyResolutionError{ActorURI: actorURI, Err: domain.ErrNotFound}
		}
		return actor.PublicKeyPem, nil
	}

	if k.cacheTTL > 0 {
		if cached, err := k.store.ReadActorByURI(ctx, actorURI); err == nil &&
			cached.PublicKeyPem != "" && time.Since(cached.LastFetchedAt) < k.cacheTTL {
			return cached.PublicKeyPem, nil
		}
	}

	actor, err := k.fetch(ctx, actorURI)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusGone {
		fallback := fmt.Sprintf("%s://%s/actor", origin.Scheme, origin.Host)
		k.log.Info("KeyResolver: actor gone, trying instance key",
			zap.String("actor", actorURI),
			zap.String("fallback", fallback+"#main-key"))
		actor, err = k.fetch(ctx, fallback)
	}
	if err != nil {
		resolutionErr := &KeyResolutionError{ActorURI: actorURI, Err: err}
		if errors.As(err, &statusErr) {
			resolutionErr.StatusCode = statusErr.StatusCode
		}
		return "", resolutionErr
	}
	if actor.PublicKeyPem == "" {
		return "", &KeyResolutionError{ActorURI: actorURI, Err: errors.New("profile has no publicKeyPem")}
	}

	if actor.InboxURI != "" {
		if err := k.store.UpsertRemoteActor(ctx, actor); err != nil {
			k.log.Warn("KeyResolver: failed to store fetched actor", zap.String("actor", actor.URI), zap.Error(err))
		}
	}
	return actor.PublicKeyPem, nil
}

func (k *KeyResolver) fetch(ctx context.Context, actorURI string) (*domain.Actor, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.fetcher.FetchActorProfile(fetchCtx, actorURI)
}
