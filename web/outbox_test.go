package web

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/deemkeen/ivory/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePageParam(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{"empty string", "", 0},
		{"valid page 1", "1", 1},
		{"valid page 5", "5", 5},
		{"invalid string", "abc", 0},
		{"negative number", "-1", 0},
		{"zero", "0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParsePageParam(tt.input))
		})
	}
}

func TestOutboxCollection(t *testing.T) {
	ts := newTestServer(t)
	ts.publish(t, ts.alice, "public", domain.VisibilityPublic)
	ts.publish(t, ts.alice, "unlisted", domain.VisibilityUnlisted)
	ts.publish(t, ts.alice, "followers only", domain.VisibilityPrivate)
	ts.publish(t, ts.alice, "direct", domain.VisibilityDirect)

	w := ts.do(t, http.MethodGet, "/users/alice/outbox", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/activity+json")

	collection := decode[OrderedCollection](t, w)
	assert.Equal(t, "OrderedCollection", collection.Type)
	assert.Equal(t, ts.alice.OutboxURI, collection.ID)
	assert.Equal(t, 2, collection.TotalItems)
	assert.Equal(t, ts.alice.OutboxURI+"?page=1", collection.First)

	w = ts.do(t, http.MethodGet, "/users/nobody/outbox", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type outboxPage struct {
	Type         string `json:"type"`
	PartOf       string `json:"partOf"`
	Next         string `json:"next"`
	Prev         string `json:"prev"`
	OrderedItems []struct {
		Type   string `json:"type"`
		Actor  string `json:"actor"`
		Object struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		} `json:"object"`
	} `json:"orderedItems"`
}

func TestOutboxPages(t *testing.T) {
	ts := newTestServer(t)
	for i := range outboxPageSize + 1 {
		ts.publish(t, ts.alice, fmt.Sprintf("note %d", i), domain.VisibilityPublic)
	}

	w := ts.do(t, http.MethodGet, "/users/alice/outbox?page=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[outboxPage](t, w)
	assert.Equal(t, "OrderedCollectionPage", first.Type)
	assert.Equal(t, ts.alice.OutboxURI, first.PartOf)
	assert.Equal(t, ts.alice.OutboxURI+"?page=2", first.Next)
	assert.Empty(t, first.Prev)
	require.Len(t, first.OrderedItems, outboxPageSize)
	assert.Equal(t, "Create", first.OrderedItems[0].Type)
	assert.Equal(t, ts.alice.URI, first.OrderedItems[0].Actor)
	assert.Equal(t, "Note", first.OrderedItems[0].Object.Type)
	assert.Equal(t, fmt.Sprintf("note %d", outboxPageSize), first.OrderedItems[0].Object.Content)

	w = ts.do(t, http.MethodGet, "/users/alice/outbox?page=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[outboxPage](t, w)
	assert.Empty(t, second.Next)
	assert.Equal(t, ts.alice.OutboxURI+"?page=1", second.Prev)
	require.Len(t, second.OrderedItems, 1)
	assert.Equal(t, "note 0", second.OrderedItems[0].Object.Content)
}

func TestMakeNoteActivitiesTruncates(t *testing.T) {
	author := &domain.Actor{URI: "https://local.example/users/alice"}
	notes := []domain.Message{
		{URI: "https://local.example/notes/1", Type: domain.TypeNote},
		{URI: "https://local.example/notes/2", Type: domain.TypeNote},
	}
	activities := makeNoteActivities(notes, author, 1)
	require.Len(t, activities, 1)
	assert.Equal(t, "https://local.example/notes/1/activity", activities[0].ID)
	assert.Empty(t, activities[0].Context)

	assert.Empty(t, makeNoteActivities(nil, author, 20))
}
