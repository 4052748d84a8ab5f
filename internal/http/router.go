// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"path"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/cache"
	"github.com/tbourn/go-support-backend/internal/config"
	"github.com/tbourn/go-support-backend/internal/http/handlers"
	"github.com/tbourn/go-support-backend/internal/http/middleware"
	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/search"
	"github.com/tbourn/go-support-backend/internal/services"
)

const (
	// defaultBodyLimit caps JSON request bodies.
	defaultBodyLimit = 1 << 20
	// multipartOverhead is allowed on top of UploadMaxBytes for part headers
	// and the category field.
	multipartOverhead = 64 << 10
)

// Services bundles the application services behind the routes.
type Services struct {
	Chat          *services.ChatService
	Conversations *services.ConversationService
	FAQs          *services.FAQService
}

// NewServices builds the services with the assistant constants taken from
// cfg. candidates may be nil to disable the FAQ candidate cache.
func NewServices(db *gorm.DB, completer llm.Completer, candidates *cache.FAQCandidates, cfg config.Config) Services {
	a := cfg.Assistant

	chat := services.NewChatService(db, repo.Ledger{}, repo.FAQs{}, completer)
	chat.Matcher = search.NewMatcher(a.FAQCandidates)
	chat.Assembler = llm.NewAssembler(a.SystemPrompt, a.ContextWindow)
	chat.Candidates = candidates
	chat.Options = llm.Options{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: float32(cfg.LLM.Temperature),
	}
	chat.Timeout = cfg.LLM.Timeout
	chat.TitleMaxRunes = a.TitleMaxRunes
	chat.MaxMessageRunes = a.MaxMessageRunes
	chat.IdempotencyTTL = cfg.IdempotencyTTL

	faqs := services.NewFAQService(db, repo.FAQs{}, candidates)
	faqs.Extractor = search.NewExtractor(search.WithMaxKeywords(a.KeywordCap))

	return Services{
		Chat:          chat,
		Conversations: services.NewConversationService(db, repo.Ledger{}),
		FAQs:          faqs,
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Identity: caller id from X-User-ID
//  4. Logger: structured logs with PII scrubbing, logger in request context
//  5. Recovery: capture panics after logger
//  6. Body size limiter (per route)
//  7. Metrics
//  8. Idempotency key validation
//  9. Rate limiter (per user/IP)
//  10. CORS, security headers and compression
func RegisterRoutes(r *gin.Engine, db *gorm.DB, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Identity())
	r.Use(middleware.Logger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())

	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	uploadPath := path.Join("/", apiBase, "faqs/upload")
	r.Use(limitBody(defaultBodyLimit, map[string]int64{
		uploadPath: cfg.Assistant.UploadMaxBytes + multipartOverhead,
	}))

	r.Use(middleware.Metrics("/metrics"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}))

	unlimited := []string{"/health", "/ready", "/metrics"}
	if cfg.RateIPRPS > 0 {
		ipl := middleware.NewRateLimiter(cfg.RateIPRPS, cfg.RateIPBurst, middleware.KeyByIP(), unlimited...)
		r.Use(ipl.Handler())
	}
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP(), unlimited...)
	r.Use(rl.Handler())

	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization",
		middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag",
		middleware.HeaderIdempotencyReplayed, "Retry-After"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
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
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Uploads and the Prometheus endpoint are left uncompressed.
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics", uploadPath})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness and readiness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/ready", ready(db))

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc.Chat, svc.Conversations, svc.FAQs, handlers.Options{
		DB:             db,
		Development:    cfg.IsDevelopment(),
		UploadMaxBytes: cfg.Assistant.UploadMaxBytes,
	})

	api := groupWithPrefix(r, apiBase)
	{
		api.POST("/chat", h.PostChat)

		convs := api.Group("/conversations", middleware.NoStore())
		convs.GET("", h.ListConversations)
		convs.GET("/:session_id/messages", h.ListMessages)

		api.POST("/faqs", h.CreateFAQ)
		api.GET("/faqs", h.ListFAQs)
		api.POST("/faqs/upload", h.UploadFAQs)
		api.GET("/faqs/:id", h.GetFAQ)
		api.PUT("/faqs/:id", h.UpdateFAQ)
		api.DELETE("/faqs/:id", h.DeleteFAQ)
	}
}

// ready reports 503 until the database answers a ping.
func ready(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("readiness check failed")
			handlers.Fail(c, http.StatusServiceUnavailable, handlers.ErrCodeNotReady, "database unavailable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// limitBody caps request bodies at def bytes, or at the per-route limit
// keyed by the matched route path. Oversized bodies make downstream reads
// fail with *http.MaxBytesError.
func limitBody(def int64, perRoute map[string]int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := def
		if v, ok := perRoute[c.FullPath()]; ok && v > 0 {
			n = v
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
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
