package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eshygn/MyMusicMaestro/internal/auth"
	"github.com/eshygn/MyMusicMaestro/internal/authz"
	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/covers"
	"github.com/eshygn/MyMusicMaestro/internal/metrics"
	"github.com/eshygn/MyMusicMaestro/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const principalContextKey = "maestro_principal"

var (
	errMissingCatalogService = errors.New("catalog service dependency required")
	errMissingAccounts       = errors.New("accounts dependency required")
	errMissingSessionManager = errors.New("session manager dependency required")
	errMissingAuthorizer     = errors.New("authorizer dependency required")
	errMissingCoverStore     = errors.New("cover store dependency required")
)

// SessionManager issues and validates login sessions.
type SessionManager interface {
	Issue(identityID uint64, username string) (string, time.Time, error)
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
	SessionCookie(token string, expiresAt time.Time, secure bool) *http.Cookie
	ClearedCookie(secure bool) *http.Cookie
}

// Accounts authenticates logins and resolves them into principals.
type Accounts interface {
	Authenticate(ctx context.Context, username, password string) (users.Identity, error)
	ResolvePrincipal(ctx context.Context, identityID uint64) (users.Principal, error)
}

type Dependencies struct {
	Catalog                *catalog.Service
	Accounts               Accounts
	Sessions               SessionManager
	Authorizer             *authz.Authorizer
	Covers                 *covers.Store
	Metrics                *metrics.Recorder
	Logger                 *zap.Logger
	AllowedOrigins         []string
	LoginAttemptsPerMinute int
	SecureCookies          bool
	TrustedProxies         []string
	Clock                  func() time.Time
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Catalog == nil {
		return nil, errMissingCatalogService
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Authorizer == nil {
		return nil, errMissingAuthorizer
	}
	if deps.Covers == nil {
		return nil, errMissingCoverStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.NewRecorder()
	}

	templates, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, err
	}
	router.Use(gin.Recovery())
	router.Use(recorder.Middleware())
	router.SetHTMLTemplate(templates)

	handler := &httpHandler{
		catalog:    deps.Catalog,
		accounts:   deps.Accounts,
		sessions:   deps.Sessions,
		authorizer: deps.Authorizer,
		covers:     deps.Covers,
		metrics:    recorder,
		limiter:    newLoginLimiter(deps.LoginAttemptsPerMinute, clock),
		validate:   newFormValidator(),
		secure:     deps.SecureCookies,
		clock:      clock,
		logger:     logger,
	}

	router.GET("/metrics", gin.WrapH(recorder.Handler()))
	router.Static("/media", deps.Covers.Root())

	web := router.Group("/")
	web.Use(handler.loadPrincipal)
	web.GET("/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/albums")
	})
	web.GET("/login", handler.showLogin)
	web.POST("/login", handler.submitLogin)
	web.GET("/logout", handler.logout)
	web.POST("/logout", handler.logout)

	albums := web.Group("/albums")
	albums.Use(handler.requireWebLogin)
	albums.GET("", handler.listAlbumsPage)
	albums.GET("/new", handler.showCreateAlbum)
	albums.POST("/new", handler.submitCreateAlbum)
	albums.GET("/:id", handler.showAlbumPage)
	albums.GET("/:id/edit", handler.showEditAlbum)
	albums.POST("/:id/edit", handler.submitEditAlbum)
	albums.GET("/:id/delete", handler.showDeleteAlbum)
	albums.POST("/:id/delete", handler.submitDeleteAlbum)

	api := router.Group("/api")
	api.Use(corsMiddleware(deps.AllowedOrigins))
	api.Use(handler.loadPrincipal)
	api.OPTIONS("/*path", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	api.POST("/auth/token", handler.issueAPIToken)

	protected := api.Group("")
	protected.Use(handler.requireAPILogin)
	protected.GET("/albums", handler.apiListAlbums)
	protected.POST("/albums", handler.apiCreateAlbum)
	protected.GET("/albums/:id", handler.apiGetAlbum)
	protected.PUT("/albums/:id", handler.apiReplaceAlbum)
	protected.PATCH("/albums/:id", handler.apiPatchAlbum)
	protected.DELETE("/albums/:id", handler.apiDeleteAlbum)
	protected.GET("/songs", handler.apiListSongs)
	protected.POST("/songs", handler.apiCreateSong)
	protected.GET("/songs/:id", handler.apiGetSong)
	protected.PUT("/songs/:id", handler.apiReplaceSong)
	protected.PATCH("/songs/:id", handler.apiPatchSong)
	protected.DELETE("/songs/:id", handler.apiDeleteSong)
	protected.GET("/tracklist-items", handler.apiListTracklistItems)
	protected.POST("/tracklist-items", handler.apiCreateTracklistItem)
	protected.GET("/tracklist-items/:id", handler.apiGetTracklistItem)
	protected.PUT("/tracklist-items/:id", handler.apiReplaceTracklistItem)
	protected.PATCH("/tracklist-items/:id", handler.apiPatchTracklistItem)
	protected.DELETE("/tracklist-items/:id", handler.apiDeleteTracklistItem)

	router.NoRoute(handler.notFound)

	return router, nil
}

type httpHandler struct {
	catalog    *catalog.Service
	accounts   Accounts
	sessions   SessionManager
	authorizer *authz.Authorizer
	covers     *covers.Store
	metrics    *metrics.Recorder
	limiter    *loginLimiter
	validate   *validator.Validate
	secure     bool
	clock      func() time.Time
	logger     *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return true }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

// loadPrincipal resolves the session, if any, into the acting principal.
// Requests without a valid session continue anonymously.
func (h *httpHandler) loadPrincipal(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.Next()
		return
	}
	identityID, err := claims.IdentityID()
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.Next()
		return
	}
	principal, err := h.accounts.ResolvePrincipal(c.Request.Context(), identityID)
	if err != nil {
		if errors.Is(err, users.ErrIdentityNotFound) {
			h.logger.Info("session refers to a removed login", zap.Uint64("identity_id", identityID))
			c.Next()
			return
		}
		h.logger.Error("failed to resolve principal", zap.Uint64("identity_id", identityID), zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Set(principalContextKey, principal)
	c.Next()
}

func currentPrincipal(c *gin.Context) (users.Principal, bool) {
	value, ok := c.Get(principalContextKey)
	if !ok {
		return users.Principal{}, false
	}
	principal, ok := value.(users.Principal)
	return principal, ok
}

func (h *httpHandler) requireWebLogin(c *gin.Context) {
	if _, ok := currentPrincipal(c); ok {
		c.Next()
		return
	}
	c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(safeNextPath(c.Request.URL.RequestURI())))
	c.Abort()
}

func (h *httpHandler) requireAPILogin(c *gin.Context) {
	if _, ok := currentPrincipal(c); ok {
		c.Next()
		return
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
}

func (h *httpHandler) notFound(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
		return
	}
	h.renderNotFound(c)
}

// safeNextPath keeps post-login redirects on this host.
func safeNextPath(candidate string) string {
	if !strings.HasPrefix(candidate, "/") || strings.HasPrefix(candidate, "//") || strings.HasPrefix(candidate, "/\\") {
		return "/albums"
	}
	return candidate
}
