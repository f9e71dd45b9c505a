package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/deemkeen/ivory/activitypub"
	"github.com/deemkeen/ivory/db"
	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/notify"
	"github.com/deemkeen/ivory/stream"
	"github.com/deemkeen/ivory/timeline"
	"github.com/deemkeen/ivory/util"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testDomain = "local.example"
	testSecret = "test-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// noFetcher fails every remote lookup.
type noFetcher struct{}

func (noFetcher) FetchActorProfile(ctx context.Context, actorURI string) (*domain.Actor, error) {
	return nil, &activitypub.StatusError{URL: actorURI, StatusCode: http.StatusNotFound}
}

// recordingInbox remembers which inbox each delivery was posted to.
type recordingInbox struct {
	mu        sync.Mutex
	usernames []string
}

func (r *recordingInbox) HandleInbox(w http.ResponseWriter, req *http.Request, username string) {
	r.mu.Lock()
	r.usernames = append(r.usernames, username)
	r.mu.Unlock()
	w.WriteHeader(http.StatusAccepted)
}

type testServer struct {
	srv    *Server
	db     *db.DB
	router http.Handler
	inbox  *recordingInbox
	hub    *stream.Hub
	alice  *domain.Actor
	bob    *domain.Actor
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := db.Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations())
	t.Cleanup(func() { database.Close() })

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.Conf.WithAp = true
	conf.Conf.JwtSecret = testSecret

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zap.NewNop()
	hub := stream.NewHub(log)
	go hub.Run(ctx)

	timelines := timeline.NewEngine(database, nil, hub, 4, log)
	notifier := notify.NewEngine(database, hub, log)
	actors := activitypub.NewActors(database, noFetcher{}, time.Second, log)
	outbox := activitypub.NewOutbox(database, actors, timelines, notifier, testDomain, log)
	inbox := &recordingInbox{}

	ts := &testServer{
		srv:   NewServer(conf, database, timelines, notifier, outbox, inbox, hub, log),
		db:    database,
		inbox: inbox,
		hub:   hub,
	}
	ts.router = ts.srv.Handler(ctx)
	ts.alice = ts.createLocal(t, "alice", false)
	ts.bob = ts.createLocal(t, "bob", false)
	return ts
}

func (ts *testServer) createLocal(t *testing.T, username string, locked bool) *domain.Actor {
	t.Helper()
	uri := "https://" + testDomain + "/users/" + username
	actor := &domain.Actor{
		URI:            uri,
		Username:       username,
		Domain:         testDomain,
		InboxURI:       uri + "/inbox",
		SharedInboxURI: "https://" + testDomain + "/inbox",
		OutboxURI:      uri + "/outbox",
		FollowersURI:   uri + "/followers",
		PublicKeyPem:   username + "-public-pem",
		PrivateKeyPem:  username + "-private-pem",
		Locked:         locked,
	}
	require.NoError(t, ts.db.CreateLocalActor(context.Background(), actor))
	return actor
}

func (ts *testServer) token(t *testing.T, actor *domain.Actor) string {
	t.Helper()
	token, err := NewTokenAuth(testSecret).Issue(actor.Id, time.Hour)
	require.NoError(t, err)
	return token
}

// do serves one request; body is JSON encoded when not nil.
func (ts *testServer) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) publish(t *testing.T, author *domain.Actor, content string, visibility domain.Visibility) *domain.Message {
	t.Helper()
	msg, err := ts.srv.publisher.PublishNote(context.Background(), author, activitypub.NoteRequest{
		Content:    content,
		Visibility: visibility,
	})
	require.NoError(t, err)
	return msg
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
