package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"filevault-backend/internal/quota"
	"filevault-backend/internal/services/health"
	"filevault-backend/internal/shared/config"
	"filevault-backend/internal/shared/metrics"
	"filevault-backend/internal/shared/server/middleware"
	"filevault-backend/internal/shared/server/respond"
	"filevault-backend/internal/vault"
)

const (
	uploadGroup   = "UPLOAD"
	downloadGroup = "DOWNLOAD"
)

// RouterDeps carries the handlers and settings the router mounts.
type RouterDeps struct {
	Config      config.Config
	Files       *vault.Handler
	Quota       *quota.Handler
	Health      *health.Service
	AuthSecret  []byte
	RateLimiter *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		metrics.Middleware(),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService(nil)
	}
	healthHandler := func(c *gin.Context) {
		body, ok := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, body)
	}
	r.GET("/health", healthHandler)
	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler)

	authed := api.Group("")
	authed.Use(middleware.Auth(middleware.AuthOptions{
		Secret:          deps.AuthSecret,
		TrustUserHeader: deps.Config.AuthTrustUserHeader,
	}))
	if rl := rateLimitConfig(deps.Config, deps.RateLimiter); rl != nil {
		authed.Use(middleware.RateLimit(*rl))
	}

	if deps.Files != nil {
		deps.Files.RegisterRoutes(authed)
	}
	if deps.Quota != nil {
		deps.Quota.RegisterRoutes(authed)
		if deps.Config.Env == "dev" {
			deps.Quota.RegisterDevRoutes(authed.Group("/dev"))
		}
	}

	return r
}

// rateLimitConfig returns nil when limiting is disabled. Uploads get half the
// default rate, downloads twice.
func rateLimitConfig(cfg config.Config, limiter *middleware.RateLimiter) *middleware.RateLimitConfig {
	if cfg.RateLimitRPS <= 0 {
		return nil
	}
	burst := cfg.RateLimitBurst
	if burst < 1 {
		burst = 1
	}
	return &middleware.RateLimitConfig{
		Rules: map[string]middleware.RateLimitRule{
			"DEFAULT":     {Rate: cfg.RateLimitRPS, Burst: burst},
			uploadGroup:   {Rate: cfg.RateLimitRPS / 2, Burst: max(1, burst/2)},
			downloadGroup: {Rate: cfg.RateLimitRPS * 2, Burst: burst * 2},
		},
		GroupFor: groupFor,
		Limiter:  limiter,
	}
}

func groupFor(c *gin.Context) string {
	path := c.FullPath()
	switch {
	case c.Request.Method == http.MethodPost && path == "/api/v1/files":
		return uploadGroup
	case strings.HasSuffix(path, "/download"):
		return downloadGroup
	}
	return ""
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
