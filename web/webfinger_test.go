package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAcct(t *testing.T) {
	tests := []struct {
		input    string
		username string
		host     string
		wantErr  bool
	}{
		{"alice@local.example", "alice", "local.example", false},
		{"acct:alice@local.example", "alice", "local.example", false},
		{"@alice@local.example", "alice", "local.example", false},
		{"alice", "", "", true},
		{"@local.example", "", "", true},
		{"alice@", "", "", true},
		{"alice@a@b", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			username, host, err := ParseAcct(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, username)
			assert.Equal(t, tt.host, host)
		})
	}
}

func TestWebFingerResponseActorURI(t *testing.T) {
	jrd := WebFingerResponse{Links: []WebFingerLink{
		{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: "https://other.example/@eve"},
		{Rel: "self", Type: "application/activity+json", Href: "https://other.example/users/eve"},
	}}
	uri, err := jrd.ActorURI()
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/users/eve", uri)

	_, err = (&WebFingerResponse{}).ActorURI()
	assert.ErrorIs(t, err, errNoActorLink)
}

func TestHandleWebfinger(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/.well-known/webfinger?resource=acct:alice@"+testDomain, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), jrdContentType)

	jrd := decode[WebFingerResponse](t, w)
	assert.Equal(t, "acct:alice@"+testDomain, jrd.Subject)
	uri, err := jrd.ActorURI()
	require.NoError(t, err)
	assert.Equal(t, ts.alice.URI, uri)

	for name, resource := range map[string]string{
		"unknown user": "acct:nobody@" + testDomain,
		"foreign host": "acct:alice@other.example",
		"malformed":    "alice",
	} {
		t.Run(name, func(t *testing.T) {
			w := ts.do(t, http.MethodGet, "/.well-known/webfinger?resource="+resource, "", nil)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.JSONEq(t, `{"detail":"Not Found"}`, w.Body.String())
		})
	}
}

func TestWebFingerClientResolve(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/.well-known/webfinger", r.URL.Path)
		if !strings.HasPrefix(r.URL.Query().Get("resource"), "acct:eve@") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", jrdContentType)
		json.NewEncoder(w).Encode(WebFingerResponse{
			Subject: r.URL.Query().Get("resource"),
			Links: []WebFingerLink{
				{Rel: "self", Type: "application/activity+json", Href: "https://other.example/users/eve"},
			},
		})
	}))
	defer remote.Close()

	client := NewWebFingerClient(remote.Client())
	client.scheme = "http"
	host := strings.TrimPrefix(remote.URL, "http://")

	uri, err := client.Resolve(context.Background(), "eve@"+host)
	require.NoError(t, err)
	assert.Equal(t, "https://other.example/users/eve", uri)

	_, err = client.Resolve(context.Background(), "mallory@"+host)
	assert.Error(t, err)

	_, err = client.Resolve(context.Background(), "not-an-account")
	assert.Error(t, err)
}
