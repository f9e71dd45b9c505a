package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by storage lookups that match no row.
var ErrNotFound = errors.New("not found")

// Actor is a local account or a cached federated one.
// Local actors carry a private key; remote actors never do.
type Actor struct {
	Id             uuid.UUID
	URI            string
	Username       string
	Domain         string
	DisplayName    string
	Summary        string
	Email          string // only set for local actors, used for mention mails
	InboxURI       string
	SharedInboxURI string
	OutboxURI      string
	FollowersURI   string
	PublicKeyPem   string
	PrivateKeyPem  string
	Locked         bool // manually approves followers
	Local          bool
	LastFetchedAt  time.Time
	CreatedAt      time.Time
}

// DeliveryInbox returns the shared inbox when the actor advertises one.
func (a *Actor) DeliveryInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}

// KeyId is the keyId used in HTTP signatures made on behalf of this actor.
func (a *Actor) KeyId() string {
	return a.URI + "#main-key"
}

// Handle returns @user for local actors and @user@domain for remote ones.
func (a *Actor) Handle() string {
	if a.Local {
		return "@" + a.Username
	}
	return fmt.Sprintf("@%s@%s", a.Username, a.Domain)
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tURI: %s \n\tUsername: %s \n\tLocal: %t \n\tCREATED_AT: %s)", a.Id, a.URI, a.Username, a.Local, a.CreatedAt)
}
