package web

import (
	"errors"
	"net/http"

	"github.com/deemkeen/ivory/activitypub"
	"github.com/deemkeen/ivory/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const activityContentType = "application/activity+json; charset=utf-8"

type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// ActorDocument is the Person served for a local actor.
type ActorDocument struct {
	Context                   []string  `json:"@context"`
	ID                        string    `json:"id"`
	Type                      string    `json:"type"`
	PreferredUsername         string    `json:"preferredUsername"`
	Name                      string    `json:"name"`
	Summary                   string    `json:"summary"`
	Inbox                     string    `json:"inbox"`
	Outbox                    string    `json:"outbox"`
	Followers                 string    `json:"followers"`
	URL                       string    `json:"url"`
	ManuallyApprovesFollowers bool      `json:"manuallyApprovesFollowers"`
	Discoverable              bool      `json:"discoverable"`
	Endpoints                 Endpoints `json:"endpoints"`
	PublicKey                 PublicKey `json:"publicKey"`
}

func NewActorDocument(a *domain.Actor) ActorDocument {
	name := a.DisplayName
	if name == "" {
		name = a.Username
	}
	return ActorDocument{
		Context:                   []string{"https://www.w3.org/ns/activitystreams", "https://w3id.org/security/v1"},
		ID:                        a.URI,
		Type:                      "Person",
		PreferredUsername:         a.Username,
		Name:                      name,
		Summary:                   a.Summary,
		Inbox:                     a.InboxURI,
		Outbox:                    a.OutboxURI,
		Followers:                 a.FollowersURI,
		URL:                       a.URI,
		ManuallyApprovesFollowers: a.Locked,
		Discoverable:              true,
		Endpoints:                 Endpoints{SharedInbox: a.SharedInboxURI},
		PublicKey: PublicKey{
			ID:           a.KeyId(),
			Owner:        a.URI,
			PublicKeyPem: a.PublicKeyPem,
		},
	}
}

func (s *Server) handleActor(c *gin.Context) {
	actor, err := s.store.ReadActorByUsername(c.Request.Context(), c.Param("actor"))
	if err != nil {
		s.notFound(c, err, "actor")
		return
	}
	c.Header("Content-Type", activityContentType)
	c.JSON(http.StatusOK, NewActorDocument(actor))
}

// handleNote serves a local public or unlisted status as a Note.
func (s *Server) handleNote(c *gin.Context) {
	ctx := c.Request.Context()
	noteId, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Invalid note ID"})
		return
	}
	msg, err := s.store.ReadMessageById(ctx, noteId)
	if err != nil {
		s.notFound(c, err, "note")
		return
	}
	if !msg.Local || msg.IsAnnounce() ||
		(msg.Visibility != domain.VisibilityPublic && msg.Visibility != domain.VisibilityUnlisted) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Note not found"})
		return
	}
	author, err := s.store.ReadActorById(ctx, msg.ActorId)
	if err != nil {
		s.notFound(c, err, "note author")
		return
	}

	note := struct {
		Context string `json:"@context"`
		activitypub.NoteObject
	}{"https://www.w3.org/ns/activitystreams", activitypub.NewNoteObject(msg, author)}
	c.Header("Content-Type", activityContentType)
	c.JSON(http.StatusOK, note)
}

// notFound answers 404 for a missing row and 500 for anything else.
func (s *Server) notFound(c *gin.Context, err error, what string) {
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	s.log.Error("HTTP: lookup failed", zap.String("what", what), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
