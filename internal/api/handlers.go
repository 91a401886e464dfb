package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"landingzone/internal/auth"
	"landingzone/internal/provision"
	"landingzone/internal/redis"
	"landingzone/internal/service/account"
	"landingzone/internal/worker"
)

// Provisioner runs the landing zone workflow.
type Provisioner interface {
	Provision(ctx context.Context, sess *provision.Session, req provision.Request) (*provision.Result, error)
}

// LoginFlow is the OAuth authorization code flow.
type LoginFlow interface {
	Begin(ctx context.Context) (string, error)
	Complete(ctx context.Context, state, code string) (*auth.Identity, *oauth2.Token, error)
	Scopes(tok *oauth2.Token) []string
}

type Options struct {
	// MaxUploadBytes caps the export file size.
	MaxUploadBytes int64
	// TemplateSpace is shown on the page.
	TemplateSpace string
	// MCPServerName keys the generated client configuration.
	MCPServerName string
	// DataRepoVariable is the space variable named in the result text.
	DataRepoVariable string
}

// Handler wires HTTP routes to the account store, the login flow and the
// provisioning workflow, one run per user at a time.
type Handler struct {
	accounts    *account.Service
	auth        *auth.Service
	login       LoginFlow
	provisioner Provisioner
	workers     *worker.Manager
	opts        Options
	logger      *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(accounts *account.Service, authService *auth.Service, login LoginFlow, provisioner Provisioner, opts Options, cacheClient *redis.Client, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 512 << 20
	}
	return &Handler{
		accounts:    accounts,
		auth:        authService,
		login:       login,
		provisioner: provisioner,
		workers:     worker.NewManager(cacheClient, logger),
		opts:        opts,
		logger:      logger,
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "login required"})
		return 0, false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(pageTemplates)
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/login/huggingface", h.beginLogin)
	router.GET("/login/callback", h.completeLogin)

	optional := h.auth.OptionalMiddleware()
	csrf := h.auth.CSRFMiddleware()

	page := router.Group("")
	page.Use(optional)
	page.GET("/", h.index)
	page.POST("/logout", csrf, h.logoutPage)
	page.POST("/provision", h.limitUpload(h.pageError), csrf, h.provisionPage)

	api := router.Group("/api")
	api.POST("/provision", optional, h.limitUpload(h.apiError), csrf, h.provisionAPI)
	userRoutes := api.Group("")
	userRoutes.Use(h.auth.Middleware(), csrf)
	userRoutes.GET("/me", h.me)
	userRoutes.GET("/runs", h.listRuns)
	userRoutes.POST("/logout", h.logoutAPI)
}

func (h *Handler) me(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	sess, _ := auth.SessionFromContext(c)
	user, err := h.accounts.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"scopes":     sess.Scopes,
		"expires_at": sess.ExpiresAt,
		"busy":       h.workers.Busy(userID),
	})
}

func (h *Handler) listRuns(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	runs, err := h.accounts.ListRuns(c.Request.Context(), userID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list runs failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}
