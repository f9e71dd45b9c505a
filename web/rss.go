package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/feeds"
	"go.uber.org/zap"
)

// GetRSS renders the local public timeline as RSS.
func (s *Server) GetRSS(ctx context.Context, limit int) (string, error) {
	statuses, err := s.timelines.Timeline(ctx, domain.TimelineLocalPublic, uuid.Nil, domain.Page{Limit: limit})
	if err != nil {
		return "", fmt.Errorf("reading local timeline: %w", err)
	}

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("%s - %s", util.Name, s.conf.Conf.SslDomain),
		Link:        &feeds.Link{Href: s.baseURL() + "/feed"},
		Description: "Public posts on " + s.conf.Conf.SslDomain,
		Created:     time.Now(),
	}

	authors := make(map[uuid.UUID]*domain.Actor)
	for i := range statuses {
		msg := &statuses[i]
		author, ok := authors[msg.ActorId]
		if !ok {
			author, err = s.store.ReadActorById(ctx, msg.ActorId)
			if err != nil {
				s.log.Warn("RSS: skipping status without author", zap.String("status", msg.URI), zap.Error(err))
				continue
			}
			authors[msg.ActorId] = author
		}

		item := &feeds.Item{
			Id:          msg.URI,
			Title:       fmt.Sprintf("%s at %s", author.Handle(), msg.CreatedAt.Format(time.RFC1123)),
			Link:        &feeds.Link{Href: msg.URI},
			Description: util.StripHTML(msg.Content),
			Content:     msg.Content,
			Author:      &feeds.Author{Name: author.Handle()},
			Created:     msg.CreatedAt,
		}
		if msg.EditedAt != nil {
			item.Updated = *msg.EditedAt
		}
		feed.Items = append(feed.Items, item)
	}
	return feed.ToRss()
}

func (s *Server) handleFeed(c *gin.Context) {
	rss, err := s.GetRSS(c.Request.Context(), domain.MaxPageLimit)
	if err != nil {
		s.log.Error("RSS: failed to render feed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/xml; charset=utf-8", []byte(rss))
}
