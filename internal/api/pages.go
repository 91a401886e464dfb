package api

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"landingzone/internal/auth"
	"landingzone/internal/models"
)

//go:embed templates/*.html
var templateFiles embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFiles, "templates/*.html"))

type pageData struct {
	User          *models.User
	CSRFToken     string
	TemplateSpace string
	MaxUploadMB   int64
	ProjectName   string
	Result        template.HTML
	Error         string
	Runs          []models.ProvisionRun
}

// newPageData fills the parts of the page that depend on the session.
func (h *Handler) newPageData(c *gin.Context) *pageData {
	data := &pageData{
		TemplateSpace: h.opts.TemplateSpace,
		MaxUploadMB:   h.opts.MaxUploadBytes >> 20,
	}
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		return data
	}
	ctx := c.Request.Context()
	user, err := h.accounts.GetUser(ctx, sess.UserID)
	if err != nil {
		h.logger.Warn("load user for page", zap.Int64("user_id", sess.UserID), zap.Error(err))
		return data
	}
	data.User = user
	data.CSRFToken = h.ensureCSRFCookie(c)
	runs, err := h.accounts.ListRuns(ctx, sess.UserID, 5)
	if err != nil {
		h.logger.Warn("list runs for page", zap.Int64("user_id", sess.UserID), zap.Error(err))
	}
	data.Runs = runs
	return data
}

func (h *Handler) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", h.newPageData(c))
}

// renderPage shows the page with an error message for a failed action.
func (h *Handler) renderPage(c *gin.Context, status int, msg string) {
	data := h.newPageData(c)
	data.Error = msg
	c.HTML(status, "index.html", data)
}
