// Package timeline materializes accepted statuses into per-actor timelines.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/deemkeen/ivory/domain"
	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store is the storage the fan-out engine reads the follow graph from and writes entries to.
type Store interface {
	ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
	ReadLocalActorsByURIs(ctx context.Context, uris []string) ([]domain.Actor, error)
	ReadFollow(ctx context.Context, followerId, targetId uuid.UUID) (*domain.Follow, error)
	ReadLocalFollowers(ctx context.Context, targetId uuid.UUID) ([]domain.Actor, error)
	ReadMessageById(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ReadMessageByURI(ctx context.Context, uri string) (*domain.Message, error)
	CreateTimelineEntry(ctx context.Context, e domain.TimelineEntry) (bool, error)
	ReadTimeline(ctx context.Context, timeline domain.Timeline, ownerId uuid.UUID, page domain.Page) ([]domain.Message, error)
	DeleteTimelineEntriesByStatus(ctx context.Context, statusId uuid.UUID) error
}

// Mailer sends the out-of-band mention mail.
type Mailer interface {
	SendMention(ctx context.Context, recipient, author *domain.Actor, msg *domain.Message) error
}

// Publisher is told about every entry the engine creates.
type Publisher interface {
	PublishStatus(timeline domain.Timeline, ownerId uuid.UUID, msg *domain.Message)
}

const DefaultWorkers = 8

type Engine struct {
	store     Store
	mailer    Mailer
	publisher Publisher
	workers   int
	log       *zap.Logger
}

// NewEngine returns a fan-out engine. mailer and publisher may be nil.
func NewEngine(store Store, mailer Mailer, publisher Publisher, workers int, log *zap.Logger) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{store: store, mailer: mailer, publisher: publisher, workers: workers, log: log}
}

// planned is one entry to insert, with the recipient to mail if it turns out new.
type planned struct {
	entry  domain.TimelineEntry
	mailTo *domain.Actor
}

// Fanout writes msg into every timeline it belongs to and returns the entries
// this call created. Delivering the same message again creates nothing.
// Per-entry storage failures do not stop the other insertions; they are
// returned combined alongside whatever was created.
func (e *Engine) Fanout(ctx context.Context, msg *domain.Message, visibility domain.Visibility) ([]domain.TimelineEntry, error) {
	author, err := e.store.ReadActorById(ctx, msg.ActorId)
	if err != nil {
		return nil, fmt.Errorf("reading author of %s: %w", msg.URI, err)
	}

	plan, err := e.plan(ctx, msg, author, visibility)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		created []domain.TimelineEntry
		errs    error
		g       errgroup.Group
	)
	g.SetLimit(e.workers)
	for _, p := range plan {
		g.Go(func() error {
			inserted, err := e.store.CreateTimelineEntry(ctx, p.entry)
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("%s entry for %s: %w", p.entry.Timeline, p.entry.OwnerId, err))
				mu.Unlock()
				return nil
			}
			if !inserted {
				return nil
			}

			mu.Lock()
			created = append(created, p.entry)
			mu.Unlock()

			if e.publisher != nil {
				e.publisher.PublishStatus(p.entry.Timeline, p.entry.OwnerId, msg)
			}
			if p.mailTo != nil {
				e.sendMention(ctx, p.mailTo, author, msg)
			}
			return nil
		})
	}
	g.Wait()

	slices.SortFunc(created, func(a, b domain.TimelineEntry) int {
		if c := strings.Compare(string(a.Timeline), string(b.Timeline)); c != 0 {
			return c
		}
		return strings.Compare(a.OwnerId.String(), b.OwnerId.String())
	})

	if errs != nil {
		e.log.Warn("Fanout: some entries failed",
			zap.String("status", msg.URI),
			zap.Int("failed", len(multierr.Errors(errs))),
			zap.Error(errs))
	}
	e.log.Debug("Fanout: done", zap.String("status", msg.URI), zap.Int("created", len(created)))
	return created, errs
}

func (e *Engine) plan(ctx context.Context, msg *domain.Message, author *domain.Actor, visibility domain.Visibility) ([]planned, error) {
	entry := func(tl domain.Timeline, owner uuid.UUID) domain.TimelineEntry {
		return domain.TimelineEntry{Timeline: tl, OwnerId: owner, StatusId: msg.Id, CreatedAt: msg.CreatedAt}
	}
	var plan []planned

	if author.Local && visibility == domain.VisibilityPublic {
		plan = append(plan, planned{entry: entry(domain.TimelineLocalPublic, uuid.Nil)})
	}

	var mentioned []domain.Actor
	if len(msg.Mentions) > 0 {
		var err error
		mentioned, err = e.store.ReadLocalActorsByURIs(ctx, msg.Mentions)
		if err != nil {
			return nil, fmt.Errorf("reading mentioned actors: %w", err)
		}
	}

	recipients, err := e.homeRecipients(ctx, msg, author, visibility, mentioned)
	if err != nil {
		return nil, err
	}
	for _, r := range recipients {
		plan = append(plan, planned{entry: entry(domain.TimelineMain, r.Id)})
		if !msg.IsAnnounce() {
			plan = append(plan, planned{entry: entry(domain.TimelineNoAnnounce, r.Id)})
		}
	}

	if !msg.IsAnnounce() {
		seen := make(map[uuid.UUID]bool)
		if author.Local {
			seen[author.Id] = true
			plan = append(plan, planned{entry: entry(domain.TimelineMention, author.Id)})
		}
		for i := range mentioned {
			m := &mentioned[i]
			if seen[m.Id] {
				continue
			}
			seen[m.Id] = true
			p := planned{entry: entry(domain.TimelineMention, m.Id)}
			if m.Email != "" && strings.Contains(msg.Content, m.URI) {
				p.mailTo = m
			}
			plan = append(plan, p)
		}
	}
	return plan, nil
}

// homeRecipients returns the local actors whose MAIN and NOANNOUNCE
// timelines receive msg.
func (e *Engine) homeRecipients(ctx context.Context, msg *domain.Message, author *domain.Actor, visibility domain.Visibility, mentioned []domain.Actor) ([]domain.Actor, error) {
	var candidates []domain.Actor
	if author.Local {
		candidates = append(candidates, *author)
	}
	if visibility == domain.VisibilityDirect {
		// mentioned actors still need an accepted follow for MAIN
		for _, x := range mentioned {
			keep, err := e.follows(ctx, x.Id, author.Id)
			if err != nil {
				return nil, err
			}
			if keep || x.Id == author.Id {
				candidates = append(candidates, x)
			}
		}
	} else {
		followers, err := e.store.ReadLocalFollowers(ctx, author.Id)
		if err != nil {
			return nil, fmt.Errorf("reading followers of %s: %w", author.URI, err)
		}
		candidates = append(candidates, followers...)
	}
	candidates = uniqueActors(candidates)

	if msg.IsAnnounce() || !msg.IsReply() {
		return candidates, nil
	}

	target, err := e.replyTarget(ctx, msg)
	if err != nil {
		return nil, err
	}
	if target == nil {
		// nothing to judge the reply against: only its author sees it
		if author.Local {
			return []domain.Actor{*author}, nil
		}
		return nil, nil
	}

	var recipients []domain.Actor
	for _, x := range candidates {
		keep, err := e.canSeeReply(ctx, x.Id, msg.ActorId, target.ActorId)
		if err != nil {
			return nil, err
		}
		if keep {
			recipients = append(recipients, x)
		}
	}
	return recipients, nil
}

// canSeeReply reports whether a reply belongs in x's home timeline: x wrote
// the reply, wrote the replied-to status, or follows its author.
func (e *Engine) canSeeReply(ctx context.Context, x, replyAuthor, targetAuthor uuid.UUID) (bool, error) {
	if x == replyAuthor || x == targetAuthor {
		return true, nil
	}
	return e.follows(ctx, x, targetAuthor)
}

// follows reports whether follower holds an accepted follow to target.
func (e *Engine) follows(ctx context.Context, follower, target uuid.UUID) (bool, error) {
	follow, err := e.store.ReadFollow(ctx, follower, target)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading follow %s -> %s: %w", follower, target, err)
	}
	return follow.Accepted(), nil
}

func (e *Engine) replyTarget(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	var target *domain.Message
	var err error
	if msg.InReplyToId != nil {
		target, err = e.store.ReadMessageById(ctx, *msg.InReplyToId)
	} else {
		target, err = e.store.ReadMessageByURI(ctx, msg.InReplyToURI)
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading reply target of %s: %w", msg.URI, err)
	}
	return target, nil
}

func (e *Engine) sendMention(ctx context.Context, recipient, author *domain.Actor, msg *domain.Message) {
	if e.mailer == nil {
		return
	}
	if err := e.mailer.SendMention(ctx, recipient, author, msg); err != nil {
		e.log.Warn("Fanout: mention mail failed",
			zap.String("recipient", recipient.Username),
			zap.String("status", msg.URI),
			zap.Error(err))
	}
}

// Remove deletes a status from every timeline.
func (e *Engine) Remove(ctx context.Context, statusId uuid.UUID) error {
	return e.store.DeleteTimelineEntriesByStatus(ctx, statusId)
}

// Timeline pages one timeline, newest first. LOCAL_PUBLIC is owned by uuid.Nil.
func (e *Engine) Timeline(ctx context.Context, timeline domain.Timeline, ownerId uuid.UUID, page domain.Page) ([]domain.Message, error) {
	if timeline == domain.TimelineLocalPublic {
		ownerId = uuid.Nil
	}
	return e.store.ReadTimeline(ctx, timeline, ownerId, page.Normalize())
}

func uniqueActors(actors []domain.Actor) []domain.Actor {
	seen := make(map[uuid.UUID]bool, len(actors))
	out := actors[:0]
	for _, a := range actors {
		if seen[a.Id] {
			continue
		}
		seen[a.Id] = true
		out = append(out, a)
	}
	return out
}
