package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const actorIdKey = "actorId"

var errMissingToken = errors.New("missing bearer token")

// TokenAuth validates the HS256 bearer tokens of the client API. The subject
// claim carries the local actor id.
type TokenAuth struct {
	secret []byte
	now    func() time.Time
}

func NewTokenAuth(secret string) *TokenAuth {
	return &TokenAuth{secret: []byte(secret), now: time.Now}
}

// Issue signs a token for actorId valid for ttl.
func (a *TokenAuth) Issue(actorId uuid.UUID, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   actorId.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates raw and returns the actor id in its subject.
func (a *TokenAuth) Parse(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, errMissingToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now))
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(claims.Subject)
}

// Authenticate reads the token from the Authorization header, or from the
// access_token query parameter that browsers use for websockets.
func (a *TokenAuth) Authenticate(r *http.Request) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		raw = r.URL.Query().Get("access_token")
	}
	return a.Parse(strings.TrimSpace(raw))
}

// RequireToken rejects requests without a valid token and stores the actor id
// in the gin context.
func (a *TokenAuth) RequireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorId, err := a.Authenticate(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(actorIdKey, actorId)
		c.Next()
	}
}

func currentActorId(c *gin.Context) uuid.UUID {
	return c.MustGet(actorIdKey).(uuid.UUID)
}
