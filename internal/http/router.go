// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It is the composition root of the service:
// the fanout policy, celebrity cache, top-K aggregator, notification
// dispatcher, delivery channel, and background consumers are all constructed
// and started here.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-feed-backend/internal/cache"
	"github.com/tbourn/go-feed-backend/internal/config"
	"github.com/tbourn/go-feed-backend/internal/domain"
	"github.com/tbourn/go-feed-backend/internal/http/handlers"
	"github.com/tbourn/go-feed-backend/internal/http/middleware"
	"github.com/tbourn/go-feed-backend/internal/notify"
	"github.com/tbourn/go-feed-backend/internal/observability"
	"github.com/tbourn/go-feed-backend/internal/ranking"
	"github.com/tbourn/go-feed-backend/internal/repo"
	"github.com/tbourn/go-feed-backend/internal/services"
	"github.com/tbourn/go-feed-backend/internal/stream"
	"github.com/tbourn/go-feed-backend/internal/sysutil"
)

// serviceVersion is reported as the tracing resource version.
const serviceVersion = "1.0.0"

// repoShim adapts the repository free functions to the service interfaces.
// This keeps services decoupled from the concrete repo package while reusing
// existing functions; one shim satisfies every service contract.
type repoShim struct{}

// GetIdempotency proxies repo.GetIdempotency.
func (repoShim) GetIdempotency(ctx context.Context, db *gorm.DB, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, key, now)
}

// CreateIdempotency proxies repo.CreateIdempotency.
func (repoShim) CreateIdempotency(ctx context.Context, db *gorm.DB, key, eventID string, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, key, eventID, ttl)
}

// DeleteIdempotency proxies repo.DeleteIdempotency.
func (repoShim) DeleteIdempotency(ctx context.Context, db *gorm.DB, key string) error {
	return repo.DeleteIdempotency(ctx, db, key)
}

// AppendEvent proxies repo.AppendEvent.
func (repoShim) AppendEvent(ctx context.Context, db *gorm.DB, ev *domain.Event) error {
	return repo.AppendEvent(ctx, db, ev)
}

// GetEvent proxies repo.GetEvent.
func (repoShim) GetEvent(ctx context.Context, db *gorm.DB, id string) (*domain.Event, error) {
	return repo.GetEvent(ctx, db, id)
}

// GetEvents proxies repo.GetEvents.
func (repoShim) GetEvents(ctx context.Context, db *gorm.DB, ids []string) ([]domain.Event, error) {
	return repo.GetEvents(ctx, db, ids)
}

// ListActorEvents proxies repo.ListActorEvents.
func (repoShim) ListActorEvents(ctx context.Context, db *gorm.DB, actorID string, limit int) ([]domain.Event, error) {
	return repo.ListActorEvents(ctx, db, actorID, limit)
}

// CountEvents proxies repo.CountEvents.
func (repoShim) CountEvents(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountEvents(ctx, db)
}

// CountFollowers proxies repo.CountFollowers.
func (repoShim) CountFollowers(ctx context.Context, db *gorm.DB, actorID string) (int64, error) {
	return repo.CountFollowers(ctx, db, actorID)
}

// ListFollowedActors proxies repo.ListFollowedActors.
func (repoShim) ListFollowedActors(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	return repo.ListFollowedActors(ctx, db, userID)
}

// CreateFollow proxies repo.CreateFollow.
func (repoShim) CreateFollow(ctx context.Context, db *gorm.DB, userID, actorID string) error {
	return repo.CreateFollow(ctx, db, userID, actorID)
}

// DeleteFollow proxies repo.DeleteFollow.
func (repoShim) DeleteFollow(ctx context.Context, db *gorm.DB, userID, actorID string) error {
	return repo.DeleteFollow(ctx, db, userID, actorID)
}

// InsertFeedEntry proxies repo.InsertFeedEntry.
func (repoShim) InsertFeedEntry(ctx context.Context, db *gorm.DB, userID, eventID string, createdAt time.Time) error {
	return repo.InsertFeedEntry(ctx, db, userID, eventID, createdAt)
}

// ListFeedPage proxies repo.ListFeedPage.
func (repoShim) ListFeedPage(ctx context.Context, db *gorm.DB, userID string, after bool, afterCreatedAt time.Time, afterEventID string, limit int) ([]domain.FeedEntry, error) {
	return repo.ListFeedPage(ctx, db, userID, after, afterCreatedAt, afterEventID, limit)
}

// CountFeedEntries proxies repo.CountFeedEntries.
func (repoShim) CountFeedEntries(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountFeedEntries(ctx, db, userID)
}

// CountFeedEntriesSince proxies repo.CountFeedEntriesSince.
func (repoShim) CountFeedEntriesSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	return repo.CountFeedEntriesSince(ctx, db, userID, since)
}

// EnqueueFanoutRetry proxies repo.EnqueueFanoutRetry.
func (repoShim) EnqueueFanoutRetry(ctx context.Context, db *gorm.DB, eventID, userID string, nextAttempt time.Time) error {
	return repo.EnqueueFanoutRetry(ctx, db, eventID, userID, nextAttempt)
}

// ListDueFanoutRetries proxies repo.ListDueFanoutRetries.
func (repoShim) ListDueFanoutRetries(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.FanoutRetry, error) {
	return repo.ListDueFanoutRetries(ctx, db, now, limit)
}

// ResolveFanoutRetry proxies repo.ResolveFanoutRetry.
func (repoShim) ResolveFanoutRetry(ctx context.Context, db *gorm.DB, id uint) error {
	return repo.ResolveFanoutRetry(ctx, db, id)
}

// RescheduleFanoutRetry proxies repo.RescheduleFanoutRetry.
func (repoShim) RescheduleFanoutRetry(ctx context.Context, db *gorm.DB, id uint, delay time.Duration) error {
	return repo.RescheduleFanoutRetry(ctx, db, id, delay)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine, constructs the engine-room components (bus, policy, cache,
// aggregator, dispatcher), and starts the background consumers bound to ctx.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per user/IP, bypass on replay)
//  9. CORS, gzip, and security headers
func RegisterRoutes(ctx context.Context, r *gin.Engine, db *gorm.DB, cfg config.Config) error {
	r.HandleMethodNotAllowed = true

	// Process-wide observability: logging level and the tracer provider are
	// configured here, torn down when ctx ends.
	sysutil.SetLogLevel(cfg.LogLevel)
	shutdownTracer, err := observability.SetupOTel(ctx, cfg.OTEL, serviceVersion)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured access logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting)
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	// 8) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, okO := allowed[origin]; okO {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-ID", middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Compression for JSON payloads; SSE must stay uncompressed so events
	// flush per write.
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{cfg.APIBasePath + "/notifications/stream"})))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Engine room: policy, caches, aggregator, dispatcher, delivery channel.
	policy := services.NewFanoutPolicy(cfg.Fanout.Threshold)
	celeb := cache.NewCelebrity(cfg.Fanout.CacheCapacity)
	agg := ranking.New()
	dispatcher := notify.NewDispatcher(cfg.ListenerBuffer)
	bus := stream.NewBus(cfg.BusBuffer, stream.NewLoggerAdapter(log.Logger))

	// Dependency injection: services ← repo/db/engine room
	ingestSvc := services.NewIngestService(db, repoShim{}, bus)
	ingestSvc.TTL = cfg.IdempotencyTTL
	ingestSvc.OnPublishError = func(eventID string, err error) {
		log.Error().Err(err).Str("event_id", eventID).Msg("publish after commit failed")
	}

	fanoutSvc := services.NewFanoutService(db, repoShim{}, policy, celeb,
		log.With().Str("component", "fanout").Logger())
	fanoutSvc.RetryDelay = cfg.Fanout.RetryDelay
	fanoutSvc.MaxAttempts = cfg.Fanout.MaxAttempts

	feedSvc := services.NewFeedService(db, repoShim{}, celeb, policy)
	notifSvc := services.NewNotificationService(db, repoShim{})
	analyticsSvc := services.NewAnalyticsService(db, repoShim{}, agg)
	followSvc := services.NewFollowService(db, repoShim{})

	workers := &services.Workers{
		Bus:           bus,
		Fanout:        fanoutSvc,
		Dispatcher:    dispatcher,
		Ranking:       agg,
		Logger:        log.With().Str("component", "workers").Logger(),
		SweepInterval: cfg.Fanout.SweepInterval,
	}
	if err := workers.Start(ctx); err != nil {
		return err
	}

	h := handlers.New(ingestSvc, feedSvc, notifSvc, analyticsSvc, followSvc, dispatcher)

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	{
		// Ingestion
		api.POST("/events", h.PostEvent)

		// Feed
		api.GET("/feed", h.GetFeed)

		// Notifications
		api.GET("/notifications", h.GetNotifications)
		api.GET("/notifications/stream", h.StreamNotifications)

		// Analytics
		api.GET("/analytics/top", h.GetTopObjects)

		// Follow graph
		api.POST("/follows", h.Follow)
		api.DELETE("/follows", h.Unfollow)
	}

	return nil
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the
// cap will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
