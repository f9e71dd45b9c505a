package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActorDeliveryInbox(t *testing.T) {
	a := &Actor{InboxURI: "https://remote.example/users/bob/inbox"}
	assert.Equal(t, "https://remote.example/users/bob/inbox", a.DeliveryInbox())

	a.SharedInboxURI = "https://remote.example/inbox"
	assert.Equal(t, "https://remote.example/inbox", a.DeliveryInbox())
}

func TestActorHandleAndKeyId(t *testing.T) {
	local := &Actor{URI: "https://local.example/users/alice", Username: "alice", Domain: "local.example", Local: true}
	remote := &Actor{URI: "https://remote.example/users/bob", Username: "bob", Domain: "remote.example"}

	assert.Equal(t, "@alice", local.Handle())
	assert.Equal(t, "@bob@remote.example", remote.Handle())
	assert.Equal(t, "https://local.example/users/alice#main-key", local.KeyId())
}

func TestParseVisibility(t *testing.T) {
	for _, s := range []string{"public", "unlisted", "private", "direct"} {
		v, err := ParseVisibility(s)
		require.NoError(t, err)
		assert.Equal(t, Visibility(s), v)
	}
	_, err := ParseVisibility("followers")
	assert.Error(t, err)
}

func TestParseNotificationType(t *testing.T) {
	typ, err := ParseNotificationType("follow_request")
	require.NoError(t, err)
	assert.Equal(t, NotificationFollowRequest, typ)

	_, err = ParseNotificationType("poll")
	assert.Error(t, err)
}

func TestGroupKey(t *testing.T) {
	id := uuid.MustParse("0190c0de-0000-7000-8000-000000000001")
	assert.Equal(t, "reblog:0190c0de-0000-7000-8000-000000000001", GroupKey(NotificationReblog, id))
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, DefaultPageLimit, Page{}.Normalize().Limit)
	assert.Equal(t, DefaultPageLimit, Page{Limit: -3}.Normalize().Limit)
	assert.Equal(t, 7, Page{Limit: 7}.Normalize().Limit)
	assert.Equal(t, MaxPageLimit, Page{Limit: 500}.Normalize().Limit)
}

func TestMessagePredicates(t *testing.T) {
	m := &Message{Type: TypeAnnounce}
	assert.True(t, m.IsAnnounce())
	assert.False(t, m.IsReply())

	m = &Message{Type: TypeNote, InReplyToURI: "https://remote.example/notes/1"}
	assert.False(t, m.IsAnnounce())
	assert.True(t, m.IsReply())
}
