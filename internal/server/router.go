package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/traflow/internal/apperrors"
	"github.com/MarcoPoloResearchLab/traflow/internal/auth"
	"github.com/MarcoPoloResearchLab/traflow/internal/records"
	"github.com/MarcoPoloResearchLab/traflow/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userContextKey  = "traflow_user"
	tokenContextKey = "traflow_token"
	bearerPrefix    = "Bearer "
	opHandler       = "http.handler"
)

var (
	errMissingAuthenticator = errors.New("authenticator dependency required")
	errMissingRecordService = errors.New("record service dependency required")
	errMissingAccounts      = errors.New("account service dependency required")

	errAuthenticationRequired = apperrors.Authentication("authentication_required", "sign in to continue")
	errInvalidBody            = apperrors.Validation("body", "must be a valid JSON object")
	errInvalidID              = apperrors.Validation("id", "must be a positive integer")
)

// Authenticator registers accounts, opens sessions and resolves bearer tokens.
type Authenticator interface {
	Register(ctx context.Context, input users.Registration) (auth.Grant, error)
	Login(ctx context.Context, credentials auth.Credentials) (auth.Grant, error)
	Authenticate(ctx context.Context, token string) (users.Profile, bool)
	Logout(ctx context.Context, token string) error
}

// RecordService lists and mutates trading records.
type RecordService interface {
	List(ctx context.Context, filter records.Filter, caller *users.Profile) (records.Page, error)
	Get(ctx context.Context, id uint, caller *users.Profile) (records.RecordView, error)
	Create(ctx context.Context, owner *users.Profile, draft records.Draft) (records.RecordView, error)
	Update(ctx context.Context, caller *users.Profile, id uint, patch records.Patch) (records.RecordView, error)
	Delete(ctx context.Context, caller *users.Profile, id uint) error
	ToggleFavorite(ctx context.Context, caller *users.Profile, id uint) (records.FavoriteState, error)
}

// AccountService manages the caller's own account.
type AccountService interface {
	UpdateProfile(ctx context.Context, userID uint, update users.ProfileUpdate) (users.Profile, error)
	Deactivate(ctx context.Context, userID uint) error
}

// Dependencies wires the HTTP surface to the domain services.
type Dependencies struct {
	Auth               Authenticator
	Records            RecordService
	Accounts           AccountService
	HealthCheck        func(context.Context) error
	Logger             *zap.Logger
	CORSAllowedOrigins []string
	AuthRateLimit      float64
	AuthRateBurst      int
	MetricsEnabled     bool
}

// NewHTTPHandler builds the gin engine serving the JSON API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Auth == nil {
		return nil, errMissingAuthenticator
	}
	if deps.Records == nil {
		return nil, errMissingRecordService
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := &httpHandler{
		auth:        deps.Auth,
		records:     deps.Records,
		accounts:    deps.Accounts,
		healthCheck: deps.HealthCheck,
		logger:      logger,
	}

	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(accessLogMiddleware(logger))
	if deps.MetricsEnabled {
		handler.metrics = newHTTPMetrics()
		router.Use(handler.metrics.middleware())
		router.GET("/metrics", gin.WrapH(handler.metrics.handler()))
	}
	router.Use(corsMiddleware(deps.CORSAllowedOrigins))
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "route not found"})
	})
	router.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method_not_allowed", "message": "method not allowed on this route"})
	})

	router.GET("/healthz", handler.handleHealth)

	authGroup := router.Group("/auth")
	limited := authGroup.Group("")
	limited.Use(newRateLimiter(deps.AuthRateLimit, deps.AuthRateBurst, time.Now).middleware())
	limited.POST("/register", handler.handleRegister)
	limited.POST("/login", handler.handleLogin)
	authGroup.GET("/validate", handler.resolveCaller, handler.requireUser, handler.handleValidate)
	authGroup.POST("/logout", handler.resolveCaller, handler.requireUser, handler.handleLogout)

	recordGroup := router.Group("/records")
	recordGroup.Use(handler.resolveCaller)
	recordGroup.GET("", handler.handleListRecords)
	recordGroup.GET("/:id", handler.handleGetRecord)
	recordGroup.POST("", handler.requireUser, handler.handleCreateRecord)
	recordGroup.PUT("/:id", handler.requireUser, handler.handleUpdateRecord)
	recordGroup.DELETE("/:id", handler.requireUser, handler.handleDeleteRecord)
	recordGroup.POST("/:id/favorite", handler.requireUser, handler.handleToggleFavorite)

	accountGroup := router.Group("/users")
	accountGroup.Use(handler.resolveCaller, handler.requireUser)
	accountGroup.PATCH("/me", handler.handleUpdateAccount)
	accountGroup.DELETE("/me", handler.handleDeactivateAccount)

	return router, nil
}

type httpHandler struct {
	auth        Authenticator
	records     RecordService
	accounts    AccountService
	healthCheck func(context.Context) error
	metrics     *httpMetrics
	logger      *zap.Logger
}

// resolveCaller attaches the authenticated user when a valid bearer token is present.
// It never rejects a request; requireUser does that for protected routes.
func (h *httpHandler) resolveCaller(c *gin.Context) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		c.Next()
		return
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		h.logger.Info("authorization header ignored", zap.String("path", c.FullPath()), zap.String("reason", "not_bearer"))
		c.Next()
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	user, ok := h.auth.Authenticate(c.Request.Context(), token)
	if !ok {
		h.logger.Info("bearer token rejected", zap.String("path", c.FullPath()))
		c.Next()
		return
	}
	c.Set(userContextKey, user)
	c.Set(tokenContextKey, token)
	c.Next()
}

func (h *httpHandler) requireUser(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		h.abortWithError(c, errAuthenticationRequired)
		return
	}
	c.Next()
}

func currentUser(c *gin.Context) (*users.Profile, bool) {
	value, exists := c.Get(userContextKey)
	if !exists {
		return nil, false
	}
	user, ok := value.(users.Profile)
	if !ok || user.ID == 0 {
		return nil, false
	}
	return &user, true
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseID(c *gin.Context) (uint, error) {
	parsed, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || parsed == 0 {
		return 0, errInvalidID
	}
	return uint(parsed), nil
}

func bindJSON(c *gin.Context, target any) error {
	if err := c.ShouldBindJSON(target); err != nil {
		return errInvalidBody
	}
	return nil
}

func statusFor(kind apperrors.Kind) int {
	switch kind {
	case apperrors.KindValidation, apperrors.KindConflict:
		return http.StatusBadRequest
	case apperrors.KindAuthentication:
		return http.StatusUnauthorized
	case apperrors.KindAuthorization:
		return http.StatusForbidden
	case apperrors.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a JSON body. Internal failures expose only their operation code.
func (h *httpHandler) writeError(c *gin.Context, err error) {
	status, body := h.errorResponse(c, err)
	c.JSON(status, body)
}

func (h *httpHandler) abortWithError(c *gin.Context, err error) {
	status, body := h.errorResponse(c, err)
	c.AbortWithStatusJSON(status, body)
}

func (h *httpHandler) errorResponse(c *gin.Context, err error) (int, gin.H) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(opHandler, "unexpected_error", err)
	}
	status := statusFor(appErr.Kind())
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", appErr.Code()),
			zap.Error(err))
		return status, gin.H{"error": string(apperrors.KindInternal), "code": appErr.Code()}
	}
	body := gin.H{"error": appErr.Code(), "message": appErr.Message()}
	if field := appErr.Field(); field != "" {
		body["field"] = field
	}
	return status, body
}

func accessLogMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}
