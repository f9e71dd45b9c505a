package activitypub

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// remoteInbox is a remote server that verifies every delivery it receives.
type remoteInbox struct {
	mu       sync.Mutex
	status   int
	signers  []string
	bodies   []string
	verifier *Verifier
}

func newRemoteInbox(t *testing.T, keys KeySource, status int) (*remoteInbox, *httptest.Server) {
	t.Helper()
	inbox := &remoteInbox{status: status, verifier: NewVerifier(keys, time.Minute)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer, err := inbox.verifier.Verify(r.Context(), r.Method, r.URL.RequestURI(), RequestHeaders{R: r})
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		body, err := ReadVerifiedBody(r, MaxInboxBody)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		inbox.mu.Lock()
		inbox.signers = append(inbox.signers, signer)
		inbox.bodies = append(inbox.bodies, string(body))
		inbox.mu.Unlock()
		w.WriteHeader(inbox.status)
	}))
	t.Cleanup(srv.Close)
	return inbox, srv
}

func TestDeliveryWorkerDeliversSignedActivity(t *testing.T) {
	f := newFederation(t)
	ctx := context.Background()
	remote, srv := newRemoteInbox(t, staticKeys{f.alice.KeyId(): f.alice.PublicKeyPem}, http.StatusAccepted)

	activity := `{"type":"Create","actor":"` + f.alice.URI + `"}`
	require.NoError(t, f.db.EnqueueDelivery(ctx, &domain.DeliveryQueueItem{
		InboxURI:     srv.URL + "/inbox",
		ActorId:      f.alice.Id,
		ActivityJSON: activity,
	}))

	worker := NewDeliveryWorker(f.db, srv.Client(), time.Second, zap.NewNop())
	worker.ProcessQueue(ctx)

	remote.mu.Lock()
	assert.Equal(t, []string{f.alice.URI}, remote.signers)
	assert.Equal(t, []string{activity}, remote.bodies)
	remote.mu.Unlock()
	assert.Empty(t, f.deliveries(t))
}

func TestDeliveryWorkerBacksOff(t *testing.T) {
	f := newFederation(t)
	ctx := context.Background()
	_, srv := newRemoteInbox(t, staticKeys{f.alice.KeyId(): f.alice.PublicKeyPem}, http.StatusInternalServerError)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	worker := NewDeliveryWorker(f.db, srv.Client(), time.Second, zap.NewNop())
	worker.now = func() time.Time { return now }

	require.NoError(t, f.db.EnqueueDelivery(ctx, &domain.DeliveryQueueItem{
		InboxURI:     srv.URL + "/inbox",
		ActorId:      f.alice.Id,
		ActivityJSON: `{}`,
		NextRetryAt:  now,
	}))

	worker.ProcessQueue(ctx)

	items, err := f.db.ReadDueDeliveries(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.True(t, items[0].NextRetryAt.Equal(now.Add(time.Minute)), "next retry %s", items[0].NextRetryAt)

	// not due yet
	worker.ProcessQueue(ctx)
	items, err = f.db.ReadDueDeliveries(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, items[0].Attempts)

	now = now.Add(time.Minute)
	worker.ProcessQueue(ctx)
	items, err = f.db.ReadDueDeliveries(ctx, now.Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, items[0].Attempts)
	assert.True(t, items[0].NextRetryAt.Equal(now.Add(5*time.Minute)))
}

func TestDeliveryWorkerGivesUp(t *testing.T) {
	f := newFederation(t)
	ctx := context.Background()
	_, srv := newRemoteInbox(t, staticKeys{}, http.StatusAccepted)

	require.NoError(t, f.db.EnqueueDelivery(ctx, &domain.DeliveryQueueItem{
		InboxURI:     srv.URL + "/inbox",
		ActorId:      f.alice.Id,
		ActivityJSON: `{}`,
		Attempts:     maxDeliveryAttempts - 1,
	}))

	// the remote cannot resolve alice's key and answers 401
	NewDeliveryWorker(f.db, srv.Client(), time.Second, zap.NewNop()).ProcessQueue(ctx)

	assert.Empty(t, f.deliveries(t))
}

func TestDeliveryWorkerStatusError(t *testing.T) {
	f := newFederation(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	worker := NewDeliveryWorker(f.db, srv.Client(), time.Second, zap.NewNop())
	err := worker.deliver(context.Background(), &domain.DeliveryQueueItem{
		InboxURI:     srv.URL + "/inbox",
		ActorId:      f.alice.Id,
		ActivityJSON: `{}`,
	})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)
}
