package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/notify"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Timelines materializes statuses; implemented by timeline.Engine.
type Timelines interface {
	Fanout(ctx context.Context, msg *domain.Message, visibility domain.Visibility) ([]domain.TimelineEntry, error)
	Remove(ctx context.Context, statusId uuid.UUID) error
}

// Notifier records notifications; implemented by notify.Engine.
type Notifier interface {
	Notify(ctx context.Context, ev domain.NotificationEvent) (*domain.Notification, error)
	RemoveForStatus(ctx context.Context, statusId uuid.UUID) error
	RemoveForFollow(ctx context.Context, followId uuid.UUID) error
}

type localActorReader interface {
	ReadLocalActorsByURIs(ctx context.Context, uris []string) ([]domain.Actor, error)
}

// OutboxStore is the storage the outbox writes statuses, follows and deliveries to.
type OutboxStore interface {
	ActorStore
	localActorReader
	CreateMessage(ctx context.Context, m *domain.Message) (bool, error)
	ReadMessageByURI(ctx context.Context, uri string) (*domain.Message, error)
	ReadFollowerInboxes(ctx context.Context, targetId uuid.UUID) ([]string, error)
	CreateFollow(ctx context.Context, f *domain.Follow) error
	EnqueueDelivery(ctx context.Context, item *domain.DeliveryQueueItem) error
}

// NoteRequest is a status a local actor wants to publish.
type NoteRequest struct {
	Content    string
	Visibility domain.Visibility
	InReplyTo  string   // URI of the status replied to
	Mentions   []string // actor URIs
}

// Outbox publishes local activity: statuses, follows and follow answers.
// Remote recipients are reached through the delivery queue.
type Outbox struct {
	store     OutboxStore
	actors    *Actors
	timelines Timelines
	notifier  Notifier
	baseURL   string
	log       *zap.Logger
	now       func() time.Time
}

func NewOutbox(store OutboxStore, actors *Actors, timelines Timelines, notifier Notifier, localDomain string, log *zap.Logger) *Outbox {
	return &Outbox{
		store:     store,
		actors:    actors,
		timelines: timelines,
		notifier:  notifier,
		baseURL:   "https://" + localDomain,
		log:       log,
		now:       time.Now,
	}
}

func (o *Outbox) activityURI() string {
	return fmt.Sprintf("%s/activities/%s", o.baseURL, uuid.New())
}

// PublishNote stores a new status by author, fans it out locally, notifies
// mentioned and replied-to local actors and queues delivery to remote ones.
func (o *Outbox) PublishNote(ctx context.Context, author *domain.Actor, req NoteRequest) (*domain.Message, error) {
	if !author.Local {
		return nil, fmt.Errorf("actor %s is not local", author.URI)
	}
	if req.Visibility == "" {
		req.Visibility = domain.VisibilityPublic
	}

	id := uuid.Must(uuid.NewV7())
	to, cc := Addressing(req.Visibility, author.FollowersURI, req.Mentions)
	msg := &domain.Message{
		Id:           id,
		URI:          fmt.Sprintf("%s/notes/%s", o.baseURL, id),
		ActorId:      author.Id,
		Type:         domain.TypeNote,
		Content:      req.Content,
		To:           to,
		Cc:           cc,
		Mentions:     req.Mentions,
		InReplyToURI: req.InReplyTo,
		Visibility:   req.Visibility,
		Local:        true,
		CreatedAt:    o.now().UTC(),
	}

	var parent *domain.Message
	if req.InReplyTo != "" {
		p, err := o.store.ReadMessageByURI(ctx, req.InReplyTo)
		if err == nil {
			parent = p
			msg.InReplyToId = &p.Id
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	if _, err := o.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("storing status: %w", err)
	}

	if _, err := o.timelines.Fanout(ctx, msg, msg.Visibility); err != nil {
		o.log.Warn("Outbox: fan-out incomplete", zap.String("status", msg.URI), zap.Error(err))
	}
	notifyStatus(ctx, o.store, o.notifier, o.log, msg, parent)

	inboxes, err := o.recipientInboxes(ctx, author, msg)
	if err != nil {
		o.log.Warn("Outbox: failed to collect inboxes", zap.String("status", msg.URI), zap.Error(err))
	}
	o.enqueue(ctx, author, NewCreateActivity(msg, author), inboxes...)
	return msg, nil
}

// recipientInboxes returns the deduplicated remote inboxes a status goes to.
func (o *Outbox) recipientInboxes(ctx context.Context, author *domain.Actor, msg *domain.Message) ([]string, error) {
	seen := make(map[string]struct{})
	var inboxes []string
	add := func(inbox string) {
		if inbox == "" {
			return
		}
		if _, ok := seen[inbox]; ok {
			return
		}
		seen[inbox] = struct{}{}
		inboxes = append(inboxes, inbox)
	}

	if msg.Visibility != domain.VisibilityDirect {
		followers, err := o.store.ReadFollowerInboxes(ctx, author.Id)
		if err != nil {
			return nil, fmt.Errorf("reading follower inboxes: %w", err)
		}
		for _, inbox := range followers {
			add(inbox)
		}
	}

	for _, uri := range msg.Mentions {
		actor, err := o.actors.GetOrFetch(ctx, uri)
		if err != nil {
			o.log.Warn("Outbox: skipping unresolvable mention", zap.String("actor", uri), zap.Error(err))
			continue
		}
		if actor.Local {
			continue
		}
		add(actor.DeliveryInbox())
	}
	return inboxes, nil
}

// SendAccept answers follower's Follow with an Accept signed by local.
func (o *Outbox) SendAccept(ctx context.Context, local, follower *domain.Actor, followURI string) error {
	if follower.Local {
		return nil
	}
	accept := OutboundActivity{
		Context: activityStreamsContext,
		ID:      o.activityURI(),
		Type:    "Accept",
		Actor:   local.URI,
		Object: OutboundActivity{
			ID:     followURI,
			Type:   "Follow",
			Actor:  follower.URI,
			Object: local.URI,
		},
	}
	return o.enqueue(ctx, local, accept, follower.InboxURI)
}

// SendFollow makes local follow targetURI. Following another local actor is
// settled immediately; a remote follow stays requested until its Accept arrives.
func (o *Outbox) SendFollow(ctx context.Context, local *domain.Actor, targetURI string) (*domain.Follow, error) {
	target, err := o.actors.GetOrFetch(ctx, targetURI)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", targetURI, err)
	}
	if target.Id == local.Id {
		return nil, fmt.Errorf("actor cannot follow itself")
	}

	follow := &domain.Follow{
		AccountId:       local.Id,
		TargetAccountId: target.Id,
		URI:             o.activityURI(),
		Status:          domain.FollowRequested,
		Inbox:           local.InboxURI,
	}
	if target.Local && !target.Locked {
		follow.Status = domain.FollowAccepted
	}
	if err := o.store.CreateFollow(ctx, follow); err != nil {
		return nil, err
	}

	if target.Local {
		ev := notify.FollowEvent(target.Id, local.Id, follow.Id, !follow.Accepted())
		if _, err := o.notifier.Notify(ctx, ev); err != nil {
			o.log.Warn("Outbox: follow notification failed", zap.Error(err))
		}
		return follow, nil
	}

	activity := OutboundActivity{
		Context: activityStreamsContext,
		ID:      follow.URI,
		Type:    "Follow",
		Actor:   local.URI,
		Object:  target.URI,
	}
	if err := o.enqueue(ctx, local, activity, target.InboxURI); err != nil {
		return nil, err
	}
	return follow, nil
}

// enqueue queues one signed delivery of activity per inbox.
func (o *Outbox) enqueue(ctx context.Context, signer *domain.Actor, activity OutboundActivity, inboxes ...string) error {
	if len(inboxes) == 0 {
		return nil
	}
	body, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	var errs error
	for _, inbox := range inboxes {
		item := &domain.DeliveryQueueItem{
			InboxURI:     inbox,
			ActorId:      signer.Id,
			ActivityJSON: string(body),
			NextRetryAt:  o.now().UTC(),
		}
		if err := o.store.EnqueueDelivery(ctx, item); err != nil {
			o.log.Error("Outbox: failed to queue delivery", zap.String("inbox", inbox), zap.Error(err))
			errs = multierr.Append(errs, err)
		}
	}
	o.log.Info("Outbox: queued activity",
		zap.String("type", activity.Type),
		zap.String("id", activity.ID),
		zap.Int("inboxes", len(inboxes)))
	return errs
}

// notifyStatus tells mentioned local actors and a local reply target about msg.
// A local actor who is both mentioned and replied to gets the mention only.
func notifyStatus(ctx context.Context, store localActorReader, notifier Notifier, log *zap.Logger, msg, parent *domain.Message) {
	notified := make(map[uuid.UUID]bool)
	if len(msg.Mentions) > 0 {
		mentioned, err := store.ReadLocalActorsByURIs(ctx, msg.Mentions)
		if err != nil {
			log.Warn("Notify: failed to read mentioned actors", zap.String("status", msg.URI), zap.Error(err))
		}
		for _, actor := range mentioned {
			notified[actor.Id] = true
			if _, err := notifier.Notify(ctx, notify.StatusEvent(domain.NotificationMention, actor.Id, msg.ActorId, msg.Id)); err != nil {
				log.Warn("Notify: mention notification failed", zap.Error(err))
			}
		}
	}
	if parent != nil && !notified[parent.ActorId] && parent.Local {
		if _, err := notifier.Notify(ctx, notify.StatusEvent(domain.NotificationReply, parent.ActorId, msg.ActorId, msg.Id)); err != nil {
			log.Warn("Notify: reply notification failed", zap.Error(err))
		}
	}
}
