package domain

import (
	"time"

	"github.com/google/uuid"
)

// StatusView is the JSON shape of a status on the client API and the stream.
type StatusView struct {
	Id         uuid.UUID  `json:"id"`
	URI        string     `json:"uri"`
	AccountId  uuid.UUID  `json:"account_id"`
	Type       string     `json:"type"`
	Content    string     `json:"content"`
	Visibility Visibility `json:"visibility"`
	InReplyTo  string     `json:"in_reply_to,omitempty"`
	ReblogOf   string     `json:"reblog_of,omitempty"`
	Mentions   []string   `json:"mentions"`
	CreatedAt  time.Time  `json:"created_at"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
}

func NewStatusView(m *Message) StatusView {
	mentions := m.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	return StatusView{
		Id:         m.Id,
		URI:        m.URI,
		AccountId:  m.ActorId,
		Type:       string(m.Type),
		Content:    m.Content,
		Visibility: m.Visibility,
		InReplyTo:  m.InReplyToURI,
		ReblogOf:   m.ReblogOfURI,
		Mentions:   mentions,
		CreatedAt:  m.CreatedAt,
		EditedAt:   m.EditedAt,
	}
}

type NotificationView struct {
	Id        uuid.UUID        `json:"id"`
	Type      NotificationType `json:"type"`
	AccountId uuid.UUID        `json:"account_id"`
	StatusId  *uuid.UUID       `json:"status_id,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}

func NewNotificationView(n *Notification) NotificationView {
	return NotificationView{
		Id:        n.Id,
		Type:      n.Type,
		AccountId: n.SourceActorId,
		StatusId:  n.StatusId,
		Read:      n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}
