package web

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deemkeen/ivory/activitypub"
	"github.com/deemkeen/ivory/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type statusRequest struct {
	Content    string   `json:"content"`
	Visibility string   `json:"visibility"`
	InReplyTo  string   `json:"in_reply_to"`
	Mentions   []string `json:"mentions"`
}

type followRequest struct {
	URI  string `json:"uri"`
	Acct string `json:"acct"`
}

type markReadRequest struct {
	Ids []uuid.UUID `json:"ids"`
}

type followView struct {
	Id        uuid.UUID `json:"id"`
	URI       string    `json:"uri"`
	TargetId  uuid.UUID `json:"target_account_id"`
	Status    string    `json:"status"`
	CreatedAt string    `json:"created_at"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (s *Server) internalError(c *gin.Context, what string, err error) {
	s.log.Error("API: "+what, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// parsePage reads max_id, min_id, since_id and limit.
func parsePage(c *gin.Context) (domain.Page, error) {
	var page domain.Page
	for name, dst := range map[string]**uuid.UUID{
		"max_id":   &page.MaxId,
		"min_id":   &page.MinId,
		"since_id": &page.SinceId,
	} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return page, fmt.Errorf("invalid %s", name)
		}
		*dst = &id
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return page, errors.New("invalid limit")
		}
		page.Limit = limit
	}
	return page.Normalize(), nil
}

func parseTypes(values []string) ([]domain.NotificationType, error) {
	var types []domain.NotificationType
	for _, v := range values {
		t, err := domain.ParseNotificationType(v)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func (s *Server) serveTimeline(c *gin.Context, tl domain.Timeline, owner uuid.UUID) {
	page, err := parsePage(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	statuses, err := s.timelines.Timeline(c.Request.Context(), tl, owner, page)
	if err != nil {
		s.internalError(c, "timeline read failed", err)
		return
	}
	views := make([]domain.StatusView, 0, len(statuses))
	for i := range statuses {
		views = append(views, domain.NewStatusView(&statuses[i]))
	}
	c.JSON(http.StatusOK, views)
}

// handleHomeTimeline serves MAIN, or NOANNOUNCE with exclude_reblogs=true.
func (s *Server) handleHomeTimeline(c *gin.Context) {
	tl := domain.TimelineMain
	if c.Query("exclude_reblogs") == "true" {
		tl = domain.TimelineNoAnnounce
	}
	s.serveTimeline(c, tl, currentActorId(c))
}

func (s *Server) handleMentionsTimeline(c *gin.Context) {
	s.serveTimeline(c, domain.TimelineMention, currentActorId(c))
}

func (s *Server) handlePublicTimeline(c *gin.Context) {
	s.serveTimeline(c, domain.TimelineLocalPublic, uuid.Nil)
}

func (s *Server) handleNotifications(c *gin.Context) {
	page, err := parsePage(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	q := domain.NotificationQuery{Page: page}
	if q.Types, err = parseTypes(c.QueryArray("types[]")); err != nil {
		badRequest(c, err)
		return
	}
	if q.ExcludeTypes, err = parseTypes(c.QueryArray("exclude_types[]")); err != nil {
		badRequest(c, err)
		return
	}

	list, err := s.notifications.List(c.Request.Context(), currentActorId(c), q)
	if err != nil {
		s.internalError(c, "notification read failed", err)
		return
	}
	views := make([]domain.NotificationView, 0, len(list))
	for i := range list {
		views = append(views, domain.NewNotificationView(&list[i]))
	}
	c.JSON(http.StatusOK, views)
}

// handleMarkRead marks the listed ids read, or everything when no ids are given.
func (s *Server) handleMarkRead(c *gin.Context) {
	var req markReadRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	var (
		changed int64
		err     error
	)
	actorId := currentActorId(c)
	if len(req.Ids) == 0 {
		changed, err = s.notifications.MarkAllRead(c.Request.Context(), actorId)
	} else {
		changed, err = s.notifications.MarkRead(c.Request.Context(), actorId, req.Ids...)
	}
	if err != nil {
		s.internalError(c, "mark read failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": changed})
}

func (s *Server) handleDismiss(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, errors.New("invalid notification id"))
		return
	}
	if err := s.notifications.Dismiss(c.Request.Context(), currentActorId(c), id); err != nil {
		s.notFound(c, err, "notification")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handlePostStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		badRequest(c, errors.New("content is required"))
		return
	}
	note := activitypub.NoteRequest{
		Content:   req.Content,
		InReplyTo: req.InReplyTo,
		Mentions:  req.Mentions,
	}
	if req.Visibility != "" {
		v, err := domain.ParseVisibility(req.Visibility)
		if err != nil {
			badRequest(c, err)
			return
		}
		note.Visibility = v
	}

	ctx := c.Request.Context()
	author, err := s.store.ReadActorById(ctx, currentActorId(c))
	if err != nil {
		s.notFound(c, err, "account")
		return
	}
	msg, err := s.publisher.PublishNote(ctx, author, note)
	if err != nil {
		s.internalError(c, "publish failed", err)
		return
	}
	c.JSON(http.StatusCreated, domain.NewStatusView(msg))
}

// handleFollow follows an actor given by URI or by user@domain handle.
func (s *Server) handleFollow(c *gin.Context) {
	var req followRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	target := req.URI
	if target == "" {
		if req.Acct == "" {
			badRequest(c, errors.New("uri or acct is required"))
			return
		}
		resolved, err := s.webfinger.Resolve(ctx, req.Acct)
		if err != nil {
			s.log.Warn("API: webfinger lookup failed", zap.String("acct", req.Acct), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "could not resolve account"})
			return
		}
		target = resolved
	}

	local, err := s.store.ReadActorById(ctx, currentActorId(c))
	if err != nil {
		s.notFound(c, err, "account")
		return
	}
	follow, err := s.publisher.SendFollow(ctx, local, target)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "target not found"})
			return
		}
		s.log.Warn("API: follow failed", zap.String("target", target), zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, followView{
		Id:        follow.Id,
		URI:       follow.URI,
		TargetId:  follow.TargetAccountId,
		Status:    string(follow.Status),
		CreatedAt: follow.CreatedAt.UTC().Format(time.RFC3339),
	})
}
