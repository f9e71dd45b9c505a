package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/deemkeen/ivory/activitypub"
	"github.com/deemkeen/ivory/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const outboxPageSize = 20

type OrderedCollection struct {
	Context    string `json:"@context"`
	ID         string `json:"id"`
	Type       string `json:"type"`
	TotalItems int    `json:"totalItems"`
	First      string `json:"first"`
}

type OrderedCollectionPage struct {
	Context      string                         `json:"@context"`
	ID           string                         `json:"id"`
	Type         string                         `json:"type"`
	PartOf       string                         `json:"partOf"`
	Next         string                         `json:"next,omitempty"`
	Prev         string                         `json:"prev,omitempty"`
	OrderedItems []activitypub.OutboundActivity `json:"orderedItems"`
}

// handleOutbox serves an actor's public and unlisted notes. Without a page
// parameter it returns the collection summary.
func (s *Server) handleOutbox(c *gin.Context) {
	ctx := c.Request.Context()
	actor, err := s.store.ReadActorByUsername(ctx, c.Param("actor"))
	if err != nil {
		s.notFound(c, err, "actor")
		return
	}
	outboxURL := actor.OutboxURI
	if outboxURL == "" {
		outboxURL = actor.URI + "/outbox"
	}
	c.Header("Content-Type", activityContentType)

	page := ParsePageParam(c.Query("page"))
	if page == 0 {
		total, err := s.store.CountMessagesByActor(ctx, actor.Id)
		if err != nil {
			s.log.Error("GetOutbox: failed to count notes", zap.String("actor", actor.Username), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, OrderedCollection{
			Context:    "https://www.w3.org/ns/activitystreams",
			ID:         outboxURL,
			Type:       "OrderedCollection",
			TotalItems: total,
			First:      fmt.Sprintf("%s?page=1", outboxURL),
		})
		return
	}

	// one extra row tells whether a next page exists
	notes, err := s.store.ReadMessagesByActor(ctx, actor.Id, outboxPageSize+1, (page-1)*outboxPageSize)
	if err != nil {
		s.log.Error("GetOutbox: failed to fetch notes", zap.String("actor", actor.Username), zap.Int("page", page), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	result := OrderedCollectionPage{
		Context:      "https://www.w3.org/ns/activitystreams",
		ID:           fmt.Sprintf("%s?page=%d", outboxURL, page),
		Type:         "OrderedCollectionPage",
		PartOf:       outboxURL,
		OrderedItems: makeNoteActivities(notes, actor, outboxPageSize),
	}
	if len(notes) > outboxPageSize {
		result.Next = fmt.Sprintf("%s?page=%d", outboxURL, page+1)
	}
	if page > 1 {
		result.Prev = fmt.Sprintf("%s?page=%d", outboxURL, page-1)
	}
	c.JSON(http.StatusOK, result)
}

// makeNoteActivities wraps up to limit notes in their Create activities.
func makeNoteActivities(notes []domain.Message, author *domain.Actor, limit int) []activitypub.OutboundActivity {
	if len(notes) > limit {
		notes = notes[:limit]
	}
	activities := make([]activitypub.OutboundActivity, 0, len(notes))
	for i := range notes {
		activity := activitypub.NewCreateActivity(&notes[i], author)
		activity.Context = ""
		activities = append(activities, activity)
	}
	return activities
}

// ParsePageParam extracts the page parameter from a query string
func ParsePageParam(pageStr string) int {
	if pageStr == "" {
		return 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 0 {
		return 0
	}
	return page
}
