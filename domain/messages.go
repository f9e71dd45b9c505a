package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	TypeNote     MessageType = "Note"
	TypeQuestion MessageType = "Question"
	TypeAnnounce MessageType = "Announce"
)

type Visibility string

const (
	VisibilityPublic   Visibility = "public"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPrivate  Visibility = "private"
	VisibilityDirect   Visibility = "direct"
)

func ParseVisibility(s string) (Visibility, error) {
	switch v := Visibility(s); v {
	case VisibilityPublic, VisibilityUnlisted, VisibilityPrivate, VisibilityDirect:
		return v, nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

// Message is a status: a Note, a Poll (Question) or an Announce (boost).
type Message struct {
	Id           uuid.UUID
	URI          string
	ActorId      uuid.UUID
	Type         MessageType
	Content      string
	To           []string
	Cc           []string
	Mentions     []string   // actor URIs named in Mention tags
	InReplyToId  *uuid.UUID // set when the reply target is known locally
	InReplyToURI string
	ReblogOfId   *uuid.UUID
	ReblogOfURI  string
	Visibility   Visibility
	Local        bool
	CreatedAt    time.Time
	EditedAt     *time.Time
}

func (m *Message) IsAnnounce() bool {
	return m.Type == TypeAnnounce
}

func (m *Message) IsReply() bool {
	return m.InReplyToId != nil || m.InReplyToURI != ""
}

func (m *Message) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tURI: %s \n\tType: %s \n\tContent: %s \n\tCreatedAt: %s)", m.Id, m.URI, m.Type, m.Content, m.CreatedAt)
}
