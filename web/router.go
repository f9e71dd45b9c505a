package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/deemkeen/ivory/activitypub"
	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/stream"
	"github.com/deemkeen/ivory/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const shutdownGrace = 30 * time.Second

// Store is what the HTTP handlers read directly.
type Store interface {
	ReadActorById(ctx context.Context, id uuid.UUID) (*domain.Actor, error)
	ReadActorByURI(ctx context.Context, uri string) (*domain.Actor, error)
	ReadActorByUsername(ctx context.Context, username string) (*domain.Actor, error)
	ReadMessageById(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	ReadMessagesByActor(ctx context.Context, actorId uuid.UUID, limit, offset int) ([]domain.Message, error)
	CountMessagesByActor(ctx context.Context, actorId uuid.UUID) (int, error)
}

// Timelines pages materialized timelines.
type Timelines interface {
	Timeline(ctx context.Context, timeline domain.Timeline, ownerId uuid.UUID, page domain.Page) ([]domain.Message, error)
}

// Notifications is the notification engine as seen by the client API.
type Notifications interface {
	List(ctx context.Context, actorId uuid.UUID, q domain.NotificationQuery) ([]domain.Notification, error)
	MarkRead(ctx context.Context, actorId uuid.UUID, ids ...uuid.UUID) (int64, error)
	MarkAllRead(ctx context.Context, actorId uuid.UUID) (int64, error)
	Dismiss(ctx context.Context, actorId, id uuid.UUID) error
}

// Publisher performs local actions that federate.
type Publisher interface {
	PublishNote(ctx context.Context, author *domain.Actor, req activitypub.NoteRequest) (*domain.Message, error)
	SendFollow(ctx context.Context, local *domain.Actor, targetURI string) (*domain.Follow, error)
}

// InboxHandler accepts signed deliveries; username is empty for the shared inbox.
type InboxHandler interface {
	HandleInbox(w http.ResponseWriter, r *http.Request, username string)
}

type Server struct {
	conf          *util.AppConfig
	store         Store
	timelines     Timelines
	notifications Notifications
	publisher     Publisher
	inbox         InboxHandler
	hub           *stream.Hub
	auth          *TokenAuth
	webfinger     *WebFingerClient
	log           *zap.Logger
}

func NewServer(conf *util.AppConfig, store Store, timelines Timelines, notifications Notifications, publisher Publisher, inbox InboxHandler, hub *stream.Hub, log *zap.Logger) *Server {
	return &Server{
		conf:          conf,
		store:         store,
		timelines:     timelines,
		notifications: notifications,
		publisher:     publisher,
		inbox:         inbox,
		hub:           hub,
		auth:          NewTokenAuth(conf.Conf.JwtSecret),
		webfinger:     NewWebFingerClient(nil),
		log:           log,
	}
}

func (s *Server) baseURL() string {
	return "https://" + s.conf.Conf.SslDomain
}

const streamingPath = "/api/v1/streaming"

// Handler serves the websocket stream next to the gin engine. The upgrade
// needs the raw ResponseWriter, which gin's writer wrapper does not hand over.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET "+streamingPath, stream.ServeWS(ctx, s.hub, s.auth.Authenticate))
	mux.Handle("/", s.Router(ctx))
	return mux
}

// Router builds the gin engine. ctx bounds the limiter cleanup goroutines.
func (s *Server) Router(ctx context.Context) *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), RequestLogger(s.log), gzip.Gzip(gzip.DefaultCompression))

	// Global rate limiter: 10 requests per second per IP, burst of 20
	globalLimiter := NewRateLimiter(rate.Limit(10), 20)
	go globalLimiter.Cleanup(ctx, 5*time.Minute)
	g.Use(RateLimitMiddleware(globalLimiter))

	g.GET("/feed", s.handleFeed)

	if s.conf.Conf.WithAp {
		// Stricter rate limit for ActivityPub deliveries: 5 req/sec per IP
		apLimiter := NewRateLimiter(rate.Limit(5), 10)
		go apLimiter.Cleanup(ctx, 5*time.Minute)
		maxBodySize := MaxBytesMiddleware(activitypub.MaxInboxBody)

		g.GET("/.well-known/webfinger", s.handleWebfinger)
		g.GET("/users/:actor", s.handleActor)
		g.GET("/users/:actor/outbox", s.handleOutbox)
		g.GET("/notes/:id", s.handleNote)

		g.POST("/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			s.inbox.HandleInbox(c.Writer, c.Request, "")
		})
		g.POST("/users/:actor/inbox", RateLimitMiddleware(apLimiter), maxBodySize, func(c *gin.Context) {
			s.inbox.HandleInbox(c.Writer, c.Request, c.Param("actor"))
		})
	}

	api := g.Group("/api/v1", s.auth.RequireToken())
	{
		api.GET("/timelines/home", s.handleHomeTimeline)
		api.GET("/timelines/mentions", s.handleMentionsTimeline)
		api.GET("/timelines/public", s.handlePublicTimeline)
		api.GET("/notifications", s.handleNotifications)
		api.POST("/notifications/read", s.handleMarkRead)
		api.POST("/notifications/:id/dismiss", s.handleDismiss)
		api.POST("/statuses", s.handlePostStatus)
		api.POST("/follows", s.handleFollow)
	}
	return g
}

// Run serves HTTP until ctx is done, then drains connections for up to 30s.
func (s *Server) Run(ctx context.Context) error {
	if !s.conf.Conf.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort),
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", zap.String("addr", srv.Addr), zap.Bool("activitypub", s.conf.Conf.WithAp))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
