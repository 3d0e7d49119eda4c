package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/accessmap/internal/auth"
	"github.com/MarcoPoloResearchLab/accessmap/internal/reports"
	"github.com/MarcoPoloResearchLab/accessmap/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	userIDContextKey = "accessmap_user_id"
	roleContextKey   = "accessmap_user_role"
)

var (
	errMissingGoogleVerifier = errors.New("google verifier dependency required")
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingReportsService = errors.New("reports service dependency required")
)

type GoogleVerifier interface {
	Verify(ctx context.Context, token string) (auth.GoogleClaims, error)
}

type TokenManager interface {
	IssueToken(ctx context.Context, principal auth.Principal) (string, int64, error)
	ValidateToken(token string) (auth.Principal, error)
}

type UsersService interface {
	ResolveUser(ctx context.Context, claims auth.GoogleClaims) (users.User, error)
	Profile(ctx context.Context, userID string) (users.User, error)
}

type ReportsService interface {
	CreateReport(ctx context.Context, input reports.NewReport) (reports.ReportView, error)
	GetReport(ctx context.Context, reportID, viewerID string) (reports.ReportView, error)
	ListReports(ctx context.Context, options reports.ListOptions) ([]reports.ReportView, error)
	CastVote(ctx context.Context, reportID, userID string) (reports.VoteResult, error)
	RetractVote(ctx context.Context, reportID, userID string) (reports.VoteResult, error)
	ToggleVote(ctx context.Context, reportID, userID string) (reports.VoteResult, error)
}

type Dependencies struct {
	GoogleVerifier GoogleVerifier
	TokenManager   TokenManager
	UsersService   UsersService
	ReportsService ReportsService
	Logger         *zap.Logger
	AllowedOrigins []string
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.GoogleVerifier == nil {
		return nil, errMissingGoogleVerifier
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.UsersService == nil {
		return nil, errMissingUsersService
	}
	if deps.ReportsService == nil {
		return nil, errMissingReportsService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	handler := &httpHandler{
		verifier: deps.GoogleVerifier,
		tokens:   deps.TokenManager,
		users:    deps.UsersService,
		reports:  deps.ReportsService,
		logger:   logger,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(handler.logRequest)

	router.GET("/healthz", handler.handleHealth)
	router.POST("/auth/google", handler.handleGoogleAuth)

	public := router.Group("/")
	public.Use(handler.optionalIdentity)
	public.GET("/reports", handler.handleListReports)
	public.GET("/reports/:id", handler.handleGetReport)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/auth/me", handler.handleMe)
	protected.POST("/reports", handler.handleCreateReport)
	protected.POST("/reports/:id/vote", handler.handleCastVote)
	protected.DELETE("/reports/:id/vote", handler.handleRetractVote)
	protected.POST("/reports/:id/vote/toggle", handler.handleToggleVote)

	return router, nil
}

type httpHandler struct {
	verifier GoogleVerifier
	tokens   TokenManager
	users    UsersService
	reports  ReportsService
	logger   *zap.Logger
}

// Bearer tokens travel in the Authorization header, so credentials stay disabled.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

func (h *httpHandler) logRequest(c *gin.Context) {
	started := time.Now()
	c.Next()
	h.logger.Info("http request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(started)),
		zap.String("user_id", c.GetString(userIDContextKey)))
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		abortWithError(c, http.StatusUnauthorized, reports.KindUnauthenticated, "server.authorize.missing_token")
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		abortWithError(c, http.StatusUnauthorized, reports.KindUnauthenticated, "server.authorize.invalid_token")
		return
	}
	c.Set(userIDContextKey, principal.UserID)
	c.Set(roleContextKey, principal.Role)
	c.Next()
}

// optionalIdentity attaches the caller's identity when a valid token is present.
// Missing or invalid tokens leave the request anonymous.
func (h *httpHandler) optionalIdentity(c *gin.Context) {
	token, ok := bearerToken(c)
	if !ok {
		c.Next()
		return
	}
	principal, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Debug("ignoring invalid optional token", zap.Error(err))
		c.Next()
		return
	}
	c.Set(userIDContextKey, principal.UserID)
	c.Set(roleContextKey, principal.Role)
	c.Next()
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}
