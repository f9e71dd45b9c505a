package domain

import (
	"time"

	"github.com/google/uuid"
)

type FollowStatus string

const (
	FollowRequested FollowStatus = "requested"
	FollowAccepted  FollowStatus = "accepted"
)

// Follow represents a follow relationship
type Follow struct {
	Id              uuid.UUID
	AccountId       uuid.UUID // the follower, local or remote
	TargetAccountId uuid.UUID // the followed actor, local or remote
	URI             string    // ActivityPub Follow activity URI
	Status          FollowStatus
	Inbox           string // follower inbox, used for delivery to remote followers
	SharedInbox     string
	CreatedAt       time.Time
}

func (f *Follow) Accepted() bool {
	return f.Status == FollowAccepted
}

// Like represents a like/favorite on a message
type Like struct {
	Id        uuid.UUID
	AccountId uuid.UUID
	StatusId  uuid.UUID
	URI       string
	CreatedAt time.Time
}

// Activity represents an inbound ActivityPub activity (for logging/deduplication)
type Activity struct {
	Id           uuid.UUID
	ActivityURI  string
	ActivityType string // Follow, Create, Like, Announce, Undo, etc.
	ActorURI     string
	ObjectURI    string
	RawJSON      string
	Processed    bool
	CreatedAt    time.Time
	Local        bool
}

// DeliveryQueueItem represents an item in the delivery queue
type DeliveryQueueItem struct {
	Id           uuid.UUID
	InboxURI     string
	ActorId      uuid.UUID // local actor the delivery is signed as
	ActivityJSON string
	Attempts     int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}
