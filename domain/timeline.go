package domain

import (
	"time"

	"github.com/google/uuid"
)

type Timeline string

const (
	TimelineMain        Timeline = "MAIN"
	TimelineNoAnnounce  Timeline = "NOANNOUNCE"
	TimelineMention     Timeline = "MENTION"
	TimelineLocalPublic Timeline = "LOCAL_PUBLIC"
)

// TimelineEntry is one materialized row of a timeline.
// LOCAL_PUBLIC entries are owned by uuid.Nil.
type TimelineEntry struct {
	Timeline  Timeline
	OwnerId   uuid.UUID
	StatusId  uuid.UUID
	CreatedAt time.Time
}

// Page selects a window of a (CreatedAt, Id) ordered collection.
// At most one of MaxId, MinId and SinceId is honoured, in that order.
type Page struct {
	MaxId   *uuid.UUID // strictly older than the cursor
	MinId   *uuid.UUID // the page immediately newer than the cursor
	SinceId *uuid.UUID // the newest items strictly newer than the cursor
	Limit   int
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 40
)

// Normalize clamps the limit into [1, MaxPageLimit].
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}
