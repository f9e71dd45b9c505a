package web

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

	"github.com/deemkeen/ivory/util"
	"github.com/gin-gonic/gin"
)

const jrdContentType = "application/jrd+json"

var errNoActorLink = errors.New("webfinger response has no ActivityPub link")

type WebFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// WebFingerResponse represents a WebFinger JRD document
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebFingerLink `json:"links"`
}

// ActorURI returns the href of the self link typed as activity+json.
func (r *WebFingerResponse) ActorURI() (string, error) {
	for _, link := range r.Links {
		if link.Rel == "self" && strings.HasPrefix(link.Type, "application/activity+json") {
			return link.Href, nil
		}
	}
	return "", errNoActorLink
}

// ParseAcct splits "user@domain", with or without a leading "acct:" or "@".
func ParseAcct(acct string) (username, host string, err error) {
	acct = strings.TrimPrefix(strings.TrimPrefix(acct, "acct:"), "@")
	username, host, ok := strings.Cut(acct, "@")
	if !ok || username == "" || host == "" || strings.Contains(host, "@") {
		return "", "", fmt.Errorf("invalid account %q", acct)
	}
	return username, host, nil
}

func (s *Server) handleWebfinger(c *gin.Context) {
	username, host, err := ParseAcct(c.Query("resource"))
	if err != nil || !strings.EqualFold(host, s.conf.Conf.SslDomain) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	actor, err := s.store.ReadActorByUsername(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	c.Header("Content-Type", jrdContentType+"; charset=utf-8")
	c.JSON(http.StatusOK, WebFingerResponse{
		Subject: fmt.Sprintf("acct:%s@%s", actor.Username, s.conf.Conf.SslDomain),
		Aliases: []string{actor.URI},
		Links: []WebFingerLink{
			{Rel: "self", Type: "application/activity+json", Href: actor.URI},
		},
	})
}

// WebFingerClient looks up remote accounts by handle.
type WebFingerClient struct {
	client *http.Client
	scheme string
}

func NewWebFingerClient(client *http.Client) *WebFingerClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebFingerClient{client: client, scheme: "https"}
}

// Resolve returns the actor URI behind acct ("user@domain").
func (w *WebFingerClient) Resolve(ctx context.Context, acct string) (string, error) {
	username, host, err := ParseAcct(acct)
	if err != nil {
		return "", err
	}
	target := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=%s",
		w.scheme, host, url.QueryEscape("acct:"+username+"@"+host))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", jrdContentType)
	req.Header.Set("User-Agent", util.UserAgent())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("webfinger %s: %w", acct, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("webfinger %s: status %d", acct, resp.StatusCode)
	}

	var jrd WebFingerResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&jrd); err != nil {
		return "", fmt.Errorf("webfinger %s: %w", acct, err)
	}
	return jrd.ActorURI()
}
