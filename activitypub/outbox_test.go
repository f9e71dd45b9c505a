package activitypub

import (
	"context"
	"testing"

	"github.com/deemkeen/ivory/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishNoteQueuesOneDeliveryPerInbox(t *testing.T) {
	f := newFederation(t)
	ctx := context.Background()
	bob := f.storedBob(t)
	require.NoError(t, f.db.CreateFollow(ctx, &domain.Follow{
		AccountId:       bob.Id,
		TargetAccountId: f.alice.Id,
		URI:             bobURI + "/follows/9",
		Status:          domain.FollowAccepted,
	}))

	msg, err := f.outbox.PublishNote(ctx, f.alice, NoteRequest{
		Content:  "<p>hello @bob</p>",
		Mentions: []string{bobURI},
	})
	require.NoError(t, err)
	assert.True(t, msg.Local)
	assert.Equal(t, domain.VisibilityPublic, msg.Visibility)
	assert.Contains(t, msg.URI, "https://local.example/notes/")
	assert.Contains(t, msg.To, "https://www.w3.org/ns/activitystreams#Public")

	// follower and mention share one inbox
	items := f.deliveries(t)
	require.Len(t, items, 1)
	assert.Equal(t, "https://remote.example/inbox", items[0].InboxURI)
	assert.Contains(t, items[0].ActivityJSON, `"type":"Create"`)
	assert.Contains(t, items[0].ActivityJSON, msg.URI)

	public := f.timeline(t, domain.TimelineLocalPublic, f.alice)
	require.Len(t, public, 1)
	assert.Equal(t, msg.Id, public[0].Id)
	assert.Len(t, f.timeline(t, domain.TimelineMain, f.alice), 1)
}

func TestPublishDirectNoteSkipsFollowers(t *testing.T) {
	f := newFederation(t)
	ctx := context.Background()
	bob := f.storedBob(t)
	require.NoError(t, f.db.CreateFollow(ctx, &domain.Follow{
		AccountId:       bob.Id,
		TargetAccountId: f.alice.Id,
		URI:             bobURI + "/follows/10",
		Status:          domain.FollowAccepted,
	}))
	carol := f.createLocal(t, "carol", false)

	msg, err := f.outbox.PublishNote(ctx, f.alice, NoteRequest{
		Content:    "<p>psst</p>",
		Visibility: domain.VisibilityDirect,
		Mentions:   []string{carol.URI},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.VisibilityDirect, msg.Visibility)

	assert.Empty(t, f.deliveries(t))
	assert.Empty(t, f.timeline(t, domain.TimelineLocalPublic, f.alice))
	assert.Empty(t, f.timeline(t, domain.TimelineMain, carol))
	assert.Len(t, f.timeline(t, domain.TimelineMention, carol), 1)

	notes := f.notifications(t, carol)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationMention, notes[0].Type)
}

func TestPublishReplyNotifiesParentAuthor(t *testing.T) {
	f := newFederation(t)
	ctx := context.Background()
	carol := f.createLocal(t, "carol", false)

	parent, err := f.outbox.PublishNote(ctx, f.alice, NoteRequest{Content: "question?"})
	require.NoError(t, err)
	reply, err := f.outbox.PublishNote(ctx, carol, NoteRequest{Content: "answer", InReplyTo: parent.URI})
	require.NoError(t, err)
	require.NotNil(t, reply.InReplyToId)
	assert.Equal(t, parent.Id, *reply.InReplyToId)

	notes := f.notifications(t, f.alice)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationReply, notes[0].Type)
	assert.Equal(t, carol.Id, notes[0].SourceActorId)

	t.Run("mention wins over reply", func(t *testing.T) {
		_, err := f.outbox.PublishNote(ctx, carol, NoteRequest{
			Content:   "@alice again",
			InReplyTo: parent.URI,
			Mentions:  []string{f.alice.URI},
		})
		require.NoError(t, err)
		notes := f.notifications(t, f.alice)
		require.Len(t, notes, 2)
		assert.Equal(t, domain.NotificationMention, notes[0].Type)
	})
}

func TestPublishNoteRequiresLocalAuthor(t *testing.T) {
	f := newFederation(t)
	_, err := f.outbox.PublishNote(context.Background(), f.storedBob(t), NoteRequest{Content: "x"})
	assert.Error(t, err)
}

func TestSendFollow(t *testing.T) {
	f := newFederation(t)
	ctx := context.Background()

	t.Run("unlocked local actor", func(t *testing.T) {
		carol := f.createLocal(t, "carol", false)
		follow, err := f.outbox.SendFollow(ctx, f.alice, carol.URI)
		require.NoError(t, err)
		assert.True(t, follow.Accepted())
		assert.Empty(t, f.deliveries(t))

		notes := f.notifications(t, carol)
		require.Len(t, notes, 1)
		assert.Equal(t, domain.NotificationFollow, notes[0].Type)
	})

	t.Run("locked local actor", func(t *testing.T) {
		dave := f.createLocal(t, "dave", true)
		follow, err := f.outbox.SendFollow(ctx, f.alice, dave.URI)
		require.NoError(t, err)
		assert.Equal(t, domain.FollowRequested, follow.Status)

		notes := f.notifications(t, dave)
		require.Len(t, notes, 1)
		assert.Equal(t, domain.NotificationFollowRequest, notes[0].Type)
	})

	t.Run("remote actor", func(t *testing.T) {
		follow, err := f.outbox.SendFollow(ctx, f.alice, bobURI)
		require.NoError(t, err)
		assert.Equal(t, domain.FollowRequested, follow.Status)

		items := f.deliveries(t)
		require.Len(t, items, 1)
		assert.Equal(t, bobURI+"/inbox", items[0].InboxURI)
		assert.Contains(t, items[0].ActivityJSON, `"type":"Follow"`)
		assert.Contains(t, items[0].ActivityJSON, follow.URI)
	})

	t.Run("self", func(t *testing.T) {
		_, err := f.outbox.SendFollow(ctx, f.alice, f.alice.URI)
		assert.Error(t, err)
	})
}
