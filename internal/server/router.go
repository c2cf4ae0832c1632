package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/readingroom/catalog/internal/catalog"
	"github.com/readingroom/catalog/internal/comments"
	"github.com/readingroom/catalog/internal/fault"
	"github.com/readingroom/catalog/internal/metrics"
	"github.com/readingroom/catalog/internal/ratings"
	"github.com/readingroom/catalog/internal/visitors"
)

const (
	accountIDContextKey = "catalog_account_id"
	visitorIDContextKey = "catalog_visitor_id"
)

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingCatalogService = errors.New("catalog service dependency required")
	errMissingVisitorService = errors.New("visitor service dependency required")
	errMissingCommentService = errors.New("comment service dependency required")
	errMissingRatingService  = errors.New("rating service dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenManager mints and validates the bearer tokens used to resolve a
// caller's account identity.
type TokenManager interface {
	IssueToken(ctx context.Context, accountID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the domain services.
type Dependencies struct {
	TokenManager   TokenManager
	CatalogService *catalog.Service
	VisitorService *visitors.Service
	CommentService *comments.Service
	RatingService  *ratings.Service
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
	RateLimitRPS   int
	RateLimitBurst int
}

// NewHTTPHandler assembles the gin router over the domain services.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.CatalogService == nil {
		return nil, errMissingCatalogService
	}
	if deps.VisitorService == nil {
		return nil, errMissingVisitorService
	}
	if deps.CommentService == nil {
		return nil, errMissingCommentService
	}
	if deps.RatingService == nil {
		return nil, errMissingRatingService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		catalog:  deps.CatalogService,
		visitors: deps.VisitorService,
		comments: deps.CommentService,
		ratings:  deps.RatingService,
		metrics:  deps.Metrics,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/register", handler.handleRegister)
	router.POST("/auth/login", handler.handleLogin)

	router.GET("/books", handler.handleListBooks)
	router.GET("/books/:id", handler.handleBookDetails)
	router.GET("/books/:id/comments", handler.handleCommentTree)
	router.GET("/search", handler.handleSearch)
	router.GET("/authors", handler.handleListAuthors)
	router.GET("/authors/:id", handler.handleAuthorDetails)
	router.GET("/visitors/:id", handler.handleVisitorDetails)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	if deps.RateLimitRPS > 0 {
		protected.Use(perClientRateLimit(deps.RateLimitRPS, deps.RateLimitBurst))
	}
	protected.POST("/books", handler.handleCreateBook)
	protected.PUT("/books/:id", handler.handleUpdateBook)
	protected.DELETE("/books/:id", handler.handleDeleteBook)
	protected.POST("/books/:id/images", handler.handleAttachImage)
	protected.POST("/books/:id/comments", handler.handleCreateComment)
	protected.POST("/books/:id/rating", handler.handleCastVote)
	protected.POST("/authors", handler.handleCreateAuthor)
	protected.PUT("/authors/:id", handler.handleUpdateAuthor)
	protected.DELETE("/authors/:id", handler.handleDeleteAuthor)
	protected.PUT("/visitors/:id", handler.handleUpdateVisitor)

	return router, nil
}

type httpHandler struct {
	tokens   TokenManager
	catalog  *catalog.Service
	visitors *visitors.Service
	comments *comments.Service
	ratings  *ratings.Service
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// authorizeRequest validates the bearer token and resolves the caller's
// visitor identity. Mutating handlers downstream rely on a resolved
// visitor id being present.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	accountID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	visitor, err := h.visitors.ByAccount(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Warn("visitor resolution failed", zap.String("account_id", accountID), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(accountIDContextKey, accountID)
	c.Set(visitorIDContextKey, visitor.ID)
	c.Next()
}

// perClientRateLimit applies a token-bucket limiter per client IP to the
// mutating endpoints. Stale entries are evicted so the map stays bounded.
func perClientRateLimit(rps, burst int) gin.HandlerFunc {
	if burst <= 0 {
		burst = rps
	}
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)
	go func() {
		for {
			time.Sleep(time.Minute)
			mu.Lock()
			for ip, entry := range clients {
				if time.Since(entry.lastSeen) > 3*time.Minute {
					delete(clients, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			ip = c.Request.RemoteAddr
		}
		mu.Lock()
		entry, found := clients[ip]
		if !found {
			entry = &client{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			clients[ip] = entry
		}
		entry.lastSeen = time.Now()
		allowed := entry.limiter.Allow()
		mu.Unlock()

		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
			return
		}
		c.Next()
	}
}

// respondError maps domain error kinds to HTTP statuses. Everything else
// is a 500 with the detail kept in the log, not the body.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, fault.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, fault.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, fault.ErrConstraintViolation):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func parseID(c *gin.Context) (uint, bool) {
	raw := c.Param("id")
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier must be a positive integer"})
		return 0, false
	}
	return uint(value), true
}

func (h *httpHandler) callerVisitorID(c *gin.Context) (uint, bool) {
	value, exists := c.Get(visitorIDContextKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	visitorID, ok := value.(uint)
	if !ok || visitorID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return 0, false
	}
	return visitorID, true
}
