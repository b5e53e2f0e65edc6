package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"outpass/internal/auth"
	"outpass/internal/httpmiddleware"
	"outpass/internal/leave"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Config controls routing and token handling.
type Config struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	// DevTokens exposes POST /v1/dev/token for local testing.
	DevTokens       bool
	RateLimitPerMin int
	AllowOrigin     string
}

// Handler serves the leave API over gin.
type Handler struct {
	svc     *leave.Service
	cfg     Config
	log     leave.Logger
	health  map[string]HealthCheck
	metrics http.Handler
}

// New creates a handler. metrics may be nil to skip /metrics.
func New(svc *leave.Service, cfg Config, log leave.Logger, health map[string]HealthCheck, metrics http.Handler) *Handler {
	registerValidators()
	return &Handler{svc: svc, cfg: cfg, log: log, health: health, metrics: metrics}
}

// Router builds the gin engine with middleware and every route.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{SkipPaths: []string{"/healthz", "/metrics"}}))
	r.Use(httpmiddleware.CORS(h.cfg.AllowOrigin))
	r.Use(httpmiddleware.SecurityHeaders())

	limit := httpmiddleware.NewTokenBucket(h.cfg.RateLimitPerMin, h.cfg.RateLimitPerMin).GinMiddleware()

	r.GET("/healthz", h.healthz)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}
	if h.cfg.DevTokens {
		r.POST("/v1/dev/token", limit, h.devToken)
	}

	v1 := r.Group("/v1", auth.Authenticate(h.cfg.SigningKey, h.cfg.Issuer), limit)

	staff := auth.RequireRoles(leave.RoleCaretaker, leave.RoleWarden, leave.RoleDSW, leave.RoleWebmaster)
	v1.POST("/requests", auth.RequireRoles(leave.RoleStudent, leave.RoleWebmaster), h.submit)
	v1.GET("/requests", staff, h.queue)
	v1.GET("/requests/:id", h.getRequest)
	v1.POST("/requests/:id/actions", staff, h.act)
	v1.POST("/requests/:id/checkin", auth.RequireRoles(leave.RoleStudent, leave.RoleWebmaster), h.checkIn)

	v1.POST("/students", auth.RequireRoles(leave.RoleWebmaster), h.upsertStudent)
	v1.GET("/students/:id", h.getStudent)
	v1.GET("/students/:id/requests", h.history)
	return r
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) devToken(c *gin.Context) {
	var req struct {
		Subject string `json:"subject" binding:"required"`
		Role    string `json:"role" binding:"required,oneof=student caretaker warden dsw webmaster"`
		Name    string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tok, err := auth.Issue(req.Subject, leave.Role(req.Role), req.Name, h.cfg.Issuer, h.cfg.SigningKey, h.cfg.AccessTTL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, tok)
}

// caller returns the authenticated claims. Authenticate guarantees they exist.
func caller(c *gin.Context) auth.Claims {
	claims, _ := auth.ClaimsFrom(c)
	return claims
}
