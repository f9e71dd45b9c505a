package activitypub

import (
	"strings"

	"github.com/deemkeen/ivory/domain"
)

// PublicCollection is the ActivityStreams public addressing URI.
const PublicCollection = "https://www.w3.org/ns/activitystreams#Public"

func isPublic(uri string) bool {
	return uri == PublicCollection || uri == "as:Public" || uri == "Public"
}

func hasPublic(list []string) bool {
	for _, uri := range list {
		if isPublic(uri) {
			return true
		}
	}
	return false
}

func hasFollowers(list []string) bool {
	for _, uri := range list {
		if strings.HasSuffix(uri, "/followers") {
			return true
		}
	}
	return false
}

// Classify derives a message's visibility from its addressing. The checks
// run in a fixed order and the first match wins.
func Classify(to, cc []string) domain.Visibility {
	switch {
	case hasPublic(to):
		return domain.VisibilityPublic
	case hasPublic(cc):
		return domain.VisibilityUnlisted
	case hasFollowers(to) || hasFollowers(cc):
		return domain.VisibilityPrivate
	default:
		return domain.VisibilityDirect
	}
}

// Addressing returns the to and cc lists a local actor uses for a visibility.
func Addressing(v domain.Visibility, followersURI string, mentions []string) (to, cc []string) {
	switch v {
	case domain.VisibilityPublic:
		return []string{PublicCollection}, append([]string{followersURI}, mentions...)
	case domain.VisibilityUnlisted:
		return []string{followersURI}, append([]string{PublicCollection}, mentions...)
	case domain.VisibilityPrivate:
		return []string{followersURI}, mentions
	default:
		return mentions, nil
	}
}
