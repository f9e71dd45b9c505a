package activitypub

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/deemkeen/ivory/domain"
)

const activityStreamsContext = "https://www.w3.org/ns/activitystreams"

// Activity is an inbound ActivityPub activity. Object stays raw because it
// is either a URI or an embedded object depending on the activity type.
type Activity struct {
	Context   interface{}     `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object,omitempty"`
	To        AddressList     `json:"to,omitempty"`
	Cc        AddressList     `json:"cc,omitempty"`
	Published string          `json:"published,omitempty"`
}

// ObjectURI returns the id of the activity's object, whether it was sent by
// reference or embedded.
func (a *Activity) ObjectURI() string {
	return refURI(a.Object)
}

// ObjectType returns the type of an embedded object, or "" for a bare reference.
func (a *Activity) ObjectType() string {
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(a.Object, &obj); err != nil {
		return ""
	}
	return obj.Type
}

// Object is the embedded object of a Create, Update, Undo, Accept or Delete.
type Object struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Actor        string          `json:"actor,omitempty"`
	AttributedTo string          `json:"attributedTo,omitempty"`
	Content      string          `json:"content,omitempty"`
	InReplyTo    json.RawMessage `json:"inReplyTo,omitempty"`
	Published    string          `json:"published,omitempty"`
	To           AddressList     `json:"to,omitempty"`
	Cc           AddressList     `json:"cc,omitempty"`
	Tag          []Tag           `json:"tag,omitempty"`
	Object       json.RawMessage `json:"object,omitempty"`
}

func (o *Object) InReplyToURI() string {
	return refURI(o.InReplyTo)
}

// Mentions returns the hrefs of the object's Mention tags.
func (o *Object) Mentions() []string {
	var mentions []string
	for _, tag := range o.Tag {
		if tag.Type == "Mention" && tag.Href != "" {
			mentions = append(mentions, tag.Href)
		}
	}
	return mentions
}

type Tag struct {
	Type string `json:"type"`
	Href string `json:"href,omitempty"`
	Name string `json:"name,omitempty"`
}

// AddressList accepts both a single address and an array of them.
type AddressList []string

func (l *AddressList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*l = AddressList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// refURI reads a JSON-LD reference that is a string, an object with an id, or null.
func refURI(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var uri string
	if err := json.Unmarshal(raw, &uri); err == nil {
		return uri
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

func published(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}

// OutboundActivity is an activity this server sends.
type OutboundActivity struct {
	Context   string   `json:"@context,omitempty"`
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Actor     string   `json:"actor"`
	Object    any      `json:"object"`
	To        []string `json:"to,omitempty"`
	Cc        []string `json:"cc,omitempty"`
	Published string   `json:"published,omitempty"`
}

// NoteObject is the Note of a local status.
type NoteObject struct {
	ID           string   `json:"id"`
	Type         string   `json:"type"`
	AttributedTo string   `json:"attributedTo"`
	Content      string   `json:"content"`
	InReplyTo    *string  `json:"inReplyTo"`
	Published    string   `json:"published"`
	Updated      string   `json:"updated,omitempty"`
	To           []string `json:"to"`
	Cc           []string `json:"cc"`
	Tag          []Tag    `json:"tag,omitempty"`
}

// NewNoteObject renders a local status authored by author.
func NewNoteObject(msg *domain.Message, author *domain.Actor) NoteObject {
	note := NoteObject{
		ID:           msg.URI,
		Type:         string(domain.TypeNote),
		AttributedTo: author.URI,
		Content:      msg.Content,
		Published:    msg.CreatedAt.UTC().Format(time.RFC3339),
		To:           nonNil(msg.To),
		Cc:           nonNil(msg.Cc),
	}
	if msg.InReplyToURI != "" {
		replyTo := msg.InReplyToURI
		note.InReplyTo = &replyTo
	}
	if msg.EditedAt != nil {
		note.Updated = msg.EditedAt.UTC().Format(time.RFC3339)
	}
	for _, href := range msg.Mentions {
		note.Tag = append(note.Tag, Tag{Type: "Mention", Href: href})
	}
	return note
}

// NewCreateActivity wraps a local status in the Create that announced it.
func NewCreateActivity(msg *domain.Message, author *domain.Actor) OutboundActivity {
	return OutboundActivity{
		Context:   activityStreamsContext,
		ID:        msg.URI + "/activity",
		Type:      "Create",
		Actor:     author.URI,
		Object:    NewNoteObject(msg, author),
		To:        nonNil(msg.To),
		Cc:        nonNil(msg.Cc),
		Published: msg.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
