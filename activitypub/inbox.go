package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/notify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxInboxBody caps inbound activity bodies.
const MaxInboxBody = 1 << 20

var (
	errNotAuthor     = errors.New("actor is not the author")
	errActorMismatch = errors.New("signer is not the activity actor")
)

// InboxStore is the storage the inbox reads and writes.
type InboxStore interface {
	ActorStore
	localActorReader
	CreateActivity(ctx context.Context, a *domain.Activity) (bool, error)
	ReadActivityByURI(ctx context.Context, uri string) (*domain.Activity, error)
	MarkActivityProcessed(ctx context.Context, id uuid.UUID) error
	CreateFollow(ctx context.Context, f *domain.Follow) error
	ReadFollowByURI(ctx context.Context, uri string) (*domain.Follow, error)
	ReadFollow(ctx context.Context, followerId, targetId uuid.UUID) (*domain.Follow, error)
	AcceptFollow(ctx context.Context, id uuid.UUID) error
	DeleteFollow(ctx context.Context, id uuid.UUID) error
	CreateMessage(ctx context.Context, m *domain.Message) (bool, error)
	ReadMessageByURI(ctx context.Context, uri string) (*domain.Message, error)
	UpdateMessageContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error
	DeleteMessage(ctx context.Context, id uuid.UUID) error
	CreateLike(ctx context.Context, l *domain.Like) (bool, error)
	ReadLikeByURI(ctx context.Context, uri string) (*domain.Like, error)
	DeleteLike(ctx context.Context, id uuid.UUID) error
}

// Inbox authenticates and applies activities delivered by remote servers.
type Inbox struct {
	store     InboxStore
	verifier  *Verifier
	actors    *Actors
	outbox    *Outbox
	timelines Timelines
	notifier  Notifier
	log       *zap.Logger
}

func NewInbox(store InboxStore, verifier *Verifier, actors *Actors, outbox *Outbox, timelines Timelines, notifier Notifier, log *zap.Logger) *Inbox {
	return &Inbox{
		store:     store,
		verifier:  verifier,
		actors:    actors,
		outbox:    outbox,
		timelines: timelines,
		notifier:  notifier,
		log:       log,
	}
}

// HandleInbox processes a POST to a personal inbox, or to the shared inbox
// when username is empty.
func (in *Inbox) HandleInbox(w http.ResponseWriter, r *http.Request, username string) {
	ctx := r.Context()

	if username != "" {
		if _, err := in.store.ReadActorByUsername(ctx, username); err != nil {
			http.Error(w, "Unknown actor", http.StatusNotFound)
			return
		}
	}

	signer, err := in.verifier.Verify(ctx, r.Method, r.URL.RequestURI(), RequestHeaders{R: r})
	if err != nil {
		in.reject(w, err)
		return
	}
	if !DigestSigned(RequestHeaders{R: r}) {
		in.reject(w, fmt.Errorf("%w: digest is not signed", ErrMalformedSignature))
		return
	}
	body, err := ReadVerifiedBody(r, MaxInboxBody)
	if err != nil {
		in.reject(w, err)
		return
	}

	var activity Activity
	if err := json.Unmarshal(body, &activity); err != nil {
		in.log.Info("Inbox: failed to parse activity", zap.Error(err))
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}
	if activity.ID == "" || activity.Type == "" {
		http.Error(w, "Invalid activity", http.StatusBadRequest)
		return
	}
	if activity.Actor != signer {
		in.reject(w, fmt.Errorf("%w: %s signed for %s", errActorMismatch, signer, activity.Actor))
		return
	}

	in.log.Info("Inbox: received activity",
		zap.String("type", activity.Type),
		zap.String("actor", activity.Actor),
		zap.String("id", activity.ID))

	record, fresh, err := in.record(ctx, &activity, body)
	if err != nil {
		in.log.Error("Inbox: failed to store activity", zap.Error(err))
		http.Error(w, "Failed to store activity", http.StatusInternalServerError)
		return
	}
	if !fresh {
		in.log.Debug("Inbox: duplicate activity", zap.String("id", activity.ID))
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := in.Process(ctx, &activity); err != nil {
		in.log.Warn("Inbox: failed to process activity",
			zap.String("type", activity.Type),
			zap.String("id", activity.ID),
			zap.Error(err))
		switch {
		case errors.Is(err, errNotAuthor):
			http.Error(w, "Not allowed", http.StatusForbidden)
		case Retryable(err):
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Try again later", http.StatusServiceUnavailable)
		default:
			http.Error(w, "Failed to process "+activity.Type, http.StatusInternalServerError)
		}
		return
	}

	if err := in.store.MarkActivityProcessed(ctx, record.Id); err != nil {
		in.log.Warn("Inbox: failed to mark activity processed", zap.Error(err))
	}
	w.WriteHeader(http.StatusAccepted)
}

// reject answers a request that failed authentication. Key resolution
// failures are the sender's or the network's problem and may be retried.
func (in *Inbox) reject(w http.ResponseWriter, err error) {
	if Retryable(err) {
		in.log.Info("Inbox: signer key unavailable", zap.Error(err))
		w.Header().Set("Retry-After", "60")
		http.Error(w, "Signer key unavailable", http.StatusServiceUnavailable)
		return
	}
	in.log.Info("Inbox: signature verification failed", zap.Error(err))
	http.Error(w, "Invalid signature", http.StatusUnauthorized)
}

// record logs activity once. It reports false when the activity was
// already processed; an unprocessed earlier copy is processed again.
func (in *Inbox) record(ctx context.Context, activity *Activity, body []byte) (*domain.Activity, bool, error) {
	existing, err := in.store.ReadActivityByURI(ctx, activity.ID)
	if err == nil {
		return existing, !existing.Processed, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	record := &domain.Activity{
		ActivityURI:  activity.ID,
		ActivityType: activity.Type,
		ActorURI:     activity.Actor,
		ObjectURI:    activity.ObjectURI(),
		RawJSON:      string(body),
	}
	inserted, err := in.store.CreateActivity(ctx, record)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// a concurrent delivery of the same activity won
		return record, false, nil
	}
	return record, true, nil
}

// Process applies an authenticated activity.
func (in *Inbox) Process(ctx context.Context, activity *Activity) error {
	sender, err := in.actors.GetOrFetch(ctx, activity.Actor)
	if err != nil {
		return &KeyResolutionError{ActorURI: activity.Actor, Err: err}
	}

	switch activity.Type {
	case "Follow":
		return in.handleFollow(ctx, activity, sender)
	case "Undo":
		return in.handleUndo(ctx, activity, sender)
	case "Accept":
		return in.handleAccept(ctx, activity, sender)
	case "Reject":
		return in.handleReject(ctx, activity, sender)
	case "Create":
		return in.handleCreate(ctx, activity, sender)
	case "Announce":
		return in.handleAnnounce(ctx, activity, sender)
	case "Like":
		return in.handleLike(ctx, activity, sender)
	case "Update":
		return in.handleUpdate(ctx, activity, sender)
	case "Delete":
		return in.handleDelete(ctx, activity, sender)
	default:
		in.log.Info("Inbox: unsupported activity type", zap.String("type", activity.Type))
		return nil
	}
}

func (in *Inbox) handleFollow(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	target, err := in.store.ReadActorByURI(ctx, activity.ObjectURI())
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !target.Local) {
		in.log.Info("Inbox: follow for unknown local actor", zap.String("object", activity.ObjectURI()))
		return nil
	}
	if err != nil {
		return err
	}

	follow := &domain.Follow{
		AccountId:       sender.Id,
		TargetAccountId: target.Id,
		URI:             activity.ID,
		Status:          domain.FollowAccepted,
		Inbox:           sender.InboxURI,
		SharedInbox:     sender.SharedInboxURI,
	}
	if target.Locked {
		follow.Status = domain.FollowRequested
	}
	if err := in.store.CreateFollow(ctx, follow); err != nil {
		return fmt.Errorf("failed to create follow: %w", err)
	}

	if follow.Accepted() {
		if err := in.outbox.SendAccept(ctx, target, sender, activity.ID); err != nil {
			return fmt.Errorf("failed to send Accept: %w", err)
		}
	}
	if _, err := in.notifier.Notify(ctx, notify.FollowEvent(target.Id, sender.Id, follow.Id, !follow.Accepted())); err != nil {
		in.log.Warn("Inbox: follow notification failed", zap.Error(err))
	}

	in.log.Info("Inbox: follow recorded",
		zap.String("follower", sender.Handle()),
		zap.String("target", target.Username),
		zap.String("status", string(follow.Status)))
	return nil
}

func (in *Inbox) handleUndo(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	var obj Object
	if err := json.Unmarshal(activity.Object, &obj); err != nil {
		// a bare reference
		obj = Object{ID: activity.ObjectURI()}
	}

	switch obj.Type {
	case "Follow":
		return in.undoFollow(ctx, obj.ID, refURI(obj.Object), sender)
	case "Like":
		return in.undoLike(ctx, obj.ID, sender)
	case "Announce":
		return in.deleteStatus(ctx, obj.ID, sender)
	case "":
		// a bare reference: whichever of our records carries the id
		if _, err := in.store.ReadFollowByURI(ctx, obj.ID); err == nil {
			return in.undoFollow(ctx, obj.ID, "", sender)
		}
		if _, err := in.store.ReadLikeByURI(ctx, obj.ID); err == nil {
			return in.undoLike(ctx, obj.ID, sender)
		}
		if status, err := in.store.ReadMessageByURI(ctx, obj.ID); err == nil && status.IsAnnounce() {
			return in.deleteStatus(ctx, obj.ID, sender)
		}
	default:
		in.log.Info("Inbox: unsupported Undo object", zap.String("type", obj.Type))
	}
	return nil
}

func (in *Inbox) undoFollow(ctx context.Context, followURI, targetURI string, sender *domain.Actor) error {
	follow, err := in.store.ReadFollowByURI(ctx, followURI)
	if errors.Is(err, domain.ErrNotFound) {
		follow, err = in.followByObject(ctx, sender, targetURI)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if follow.AccountId != sender.Id {
		return errNotAuthor
	}
	if err := in.store.DeleteFollow(ctx, follow.Id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to delete follow: %w", err)
	}
	if err := in.notifier.RemoveForFollow(ctx, follow.Id); err != nil {
		in.log.Warn("Inbox: failed to remove follow notifications", zap.Error(err))
	}
	in.log.Info("Inbox: removed follow", zap.String("follower", sender.Handle()))
	return nil
}

func (in *Inbox) undoLike(ctx context.Context, likeURI string, sender *domain.Actor) error {
	like, err := in.store.ReadLikeByURI(ctx, likeURI)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if like.AccountId != sender.Id {
		return errNotAuthor
	}
	return in.store.DeleteLike(ctx, like.Id)
}

// followByObject finds sender's follow of the actor at targetURI, for Undo
// activities whose embedded Follow id we never saw.
func (in *Inbox) followByObject(ctx context.Context, sender *domain.Actor, targetURI string) (*domain.Follow, error) {
	if targetURI == "" {
		return nil, domain.ErrNotFound
	}
	target, err := in.store.ReadActorByURI(ctx, targetURI)
	if err != nil {
		return nil, err
	}
	return in.store.ReadFollow(ctx, sender.Id, target.Id)
}

// answeredFollow returns the local follow an Accept or Reject refers to.
func (in *Inbox) answeredFollow(ctx context.Context, activity *Activity, sender *domain.Actor) (*domain.Follow, error) {
	follow, err := in.store.ReadFollowByURI(ctx, activity.ObjectURI())
	if errors.Is(err, domain.ErrNotFound) {
		var obj Object
		if json.Unmarshal(activity.Object, &obj) == nil && obj.Actor != "" {
			if local, lerr := in.store.ReadActorByURI(ctx, obj.Actor); lerr == nil {
				follow, err = in.store.ReadFollow(ctx, local.Id, sender.Id)
			}
		}
	}
	if err != nil {
		return nil, err
	}
	if follow.TargetAccountId != sender.Id {
		return nil, errNotAuthor
	}
	return follow, nil
}

func (in *Inbox) handleAccept(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	follow, err := in.answeredFollow(ctx, activity, sender)
	if errors.Is(err, domain.ErrNotFound) {
		in.log.Info("Inbox: Accept for unknown follow", zap.String("object", activity.ObjectURI()))
		return nil
	}
	if err != nil {
		return err
	}
	if err := in.store.AcceptFollow(ctx, follow.Id); err != nil {
		return fmt.Errorf("failed to accept follow: %w", err)
	}
	in.log.Info("Inbox: follow accepted", zap.String("follow", follow.URI), zap.String("by", sender.Handle()))
	return nil
}

func (in *Inbox) handleReject(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	follow, err := in.answeredFollow(ctx, activity, sender)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := in.store.DeleteFollow(ctx, follow.Id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	in.log.Info("Inbox: follow rejected", zap.String("follow", follow.URI), zap.String("by", sender.Handle()))
	return nil
}

func (in *Inbox) handleCreate(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	var obj Object
	if err := json.Unmarshal(activity.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse Create object: %w", err)
	}
	switch obj.Type {
	case string(domain.TypeNote), string(domain.TypeQuestion), "Article":
	default:
		in.log.Info("Inbox: unsupported Create object", zap.String("type", obj.Type))
		return nil
	}
	if obj.AttributedTo != "" && obj.AttributedTo != sender.URI {
		return errNotAuthor
	}

	to, cc := obj.To, obj.Cc
	if len(to) == 0 && len(cc) == 0 {
		to, cc = activity.To, activity.Cc
	}
	msgType := domain.TypeNote
	if obj.Type == string(domain.TypeQuestion) {
		msgType = domain.TypeQuestion
	}
	msg := &domain.Message{
		URI:          obj.ID,
		ActorId:      sender.Id,
		Type:         msgType,
		Content:      obj.Content,
		To:           to,
		Cc:           cc,
		Mentions:     obj.Mentions(),
		InReplyToURI: obj.InReplyToURI(),
		Visibility:   Classify(to, cc),
		CreatedAt:    published(obj.Published),
	}

	var parent *domain.Message
	if msg.InReplyToURI != "" {
		if p, err := in.store.ReadMessageByURI(ctx, msg.InReplyToURI); err == nil {
			parent = p
			msg.InReplyToId = &p.Id
		}
	}
	return in.accept(ctx, msg, func() {
		notifyStatus(ctx, in.store, in.notifier, in.log, msg, parent)
	})
}

func (in *Inbox) handleAnnounce(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	objectURI := activity.ObjectURI()
	if objectURI == "" {
		return errors.New("announce without object")
	}
	msg := &domain.Message{
		URI:         activity.ID,
		ActorId:     sender.Id,
		Type:        domain.TypeAnnounce,
		To:          activity.To,
		Cc:          activity.Cc,
		ReblogOfURI: objectURI,
		Visibility:  Classify(activity.To, activity.Cc),
		CreatedAt:   published(activity.Published),
	}

	original, err := in.store.ReadMessageByURI(ctx, objectURI)
	if err == nil {
		msg.ReblogOfId = &original.Id
	}
	return in.accept(ctx, msg, func() {
		if original == nil || !original.Local {
			return
		}
		ev := notify.StatusEvent(domain.NotificationReblog, original.ActorId, sender.Id, original.Id)
		if _, err := in.notifier.Notify(ctx, ev); err != nil {
			in.log.Warn("Inbox: reblog notification failed", zap.Error(err))
		}
	})
}

// accept stores a status, fans it out and then runs notifications for a
// new one. A status we already have is fanned out again so a redelivery
// repairs timelines an earlier attempt left incomplete.
func (in *Inbox) accept(ctx context.Context, msg *domain.Message, notifications func()) error {
	created, err := in.store.CreateMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to store status: %w", err)
	}
	if !created {
		stored, err := in.store.ReadMessageByURI(ctx, msg.URI)
		if err != nil {
			return fmt.Errorf("failed to read stored status: %w", err)
		}
		if stored.ActorId != msg.ActorId {
			return errNotAuthor
		}
		in.log.Debug("Inbox: status already known", zap.String("status", msg.URI))
		msg = stored
	}

	entries, fanoutErr := in.timelines.Fanout(ctx, msg, msg.Visibility)
	if created {
		notifications()
	}
	if fanoutErr != nil {
		return fmt.Errorf("fan-out of %s incomplete: %w", msg.URI, fanoutErr)
	}

	in.log.Info("Inbox: accepted status",
		zap.String("status", msg.URI),
		zap.String("visibility", string(msg.Visibility)),
		zap.Bool("new", created),
		zap.Int("entries", len(entries)))
	return nil
}

func (in *Inbox) handleLike(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	status, err := in.store.ReadMessageByURI(ctx, activity.ObjectURI())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !status.Local {
		return nil
	}

	created, err := in.store.CreateLike(ctx, &domain.Like{AccountId: sender.Id, StatusId: status.Id, URI: activity.ID})
	if err != nil {
		return fmt.Errorf("failed to store like: %w", err)
	}
	if created {
		ev := notify.StatusEvent(domain.NotificationLike, status.ActorId, sender.Id, status.Id)
		if _, err := in.notifier.Notify(ctx, ev); err != nil {
			in.log.Warn("Inbox: like notification failed", zap.Error(err))
		}
	}
	return nil
}

func (in *Inbox) handleUpdate(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	var obj Object
	if err := json.Unmarshal(activity.Object, &obj); err != nil {
		return fmt.Errorf("failed to parse Update object: %w", err)
	}

	switch obj.Type {
	case "Person", "Service", "Application", "Group":
		if obj.ID != sender.URI {
			return errNotAuthor
		}
		// explicit key rotation point: the fresh profile replaces the stored key
		if _, err := in.actors.Refresh(ctx, sender.URI); err != nil {
			return fmt.Errorf("failed to refresh actor: %w", err)
		}
		in.log.Info("Inbox: updated profile", zap.String("actor", sender.Handle()))

	case string(domain.TypeNote), string(domain.TypeQuestion), "Article":
		status, err := in.store.ReadMessageByURI(ctx, obj.ID)
		if errors.Is(err, domain.ErrNotFound) {
			in.log.Info("Inbox: Update for unknown status", zap.String("status", obj.ID))
			return nil
		}
		if err != nil {
			return err
		}
		if status.ActorId != sender.Id {
			return errNotAuthor
		}
		if err := in.store.UpdateMessageContent(ctx, status.Id, obj.Content, time.Now().UTC()); err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}
		in.log.Info("Inbox: updated status", zap.String("status", obj.ID))

	default:
		in.log.Info("Inbox: unsupported Update object", zap.String("type", obj.Type))
	}
	return nil
}

func (in *Inbox) handleDelete(ctx context.Context, activity *Activity, sender *domain.Actor) error {
	objectURI := activity.ObjectURI()
	if objectURI == "" {
		return fmt.Errorf("could not determine object URI from Delete activity")
	}
	if objectURI == sender.URI {
		in.log.Info("Inbox: actor deleted their account", zap.String("actor", sender.URI))
		return nil
	}
	return in.deleteStatus(ctx, objectURI, sender)
}

// deleteStatus removes a status of sender with its timeline entries and notifications.
func (in *Inbox) deleteStatus(ctx context.Context, uri string, sender *domain.Actor) error {
	status, err := in.store.ReadMessageByURI(ctx, uri)
	if errors.Is(err, domain.ErrNotFound) {
		in.log.Debug("Inbox: Delete for unknown status", zap.String("status", uri))
		return nil
	}
	if err != nil {
		return err
	}
	if status.ActorId != sender.Id {
		return errNotAuthor
	}

	if err := in.timelines.Remove(ctx, status.Id); err != nil {
		return fmt.Errorf("failed to remove timeline entries: %w", err)
	}
	if err := in.notifier.RemoveForStatus(ctx, status.Id); err != nil {
		return fmt.Errorf("failed to remove notifications: %w", err)
	}
	if err := in.store.DeleteMessage(ctx, status.Id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to delete status: %w", err)
	}
	in.log.Info("Inbox: deleted status", zap.String("status", uri))
	return nil
}
