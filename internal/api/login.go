package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"landingzone/internal/auth"
	"landingzone/internal/service/account"
)

func (h *Handler) beginLogin(c *gin.Context) {
	url, err := h.login.Begin(c.Request.Context())
	if err != nil {
		h.logger.Error("begin login", zap.Error(err))
		h.renderPage(c, http.StatusInternalServerError, "Could not start the login, please retry.")
		return
	}
	c.Redirect(http.StatusFound, url)
}

func (h *Handler) completeLogin(c *gin.Context) {
	if reason := c.Query("error"); reason != "" {
		h.logger.Info("login declined", zap.String("reason", reason))
		h.renderPage(c, http.StatusUnauthorized, "Login was cancelled or denied.")
		return
	}
	ctx := c.Request.Context()
	identity, tok, err := h.login.Complete(ctx, c.Query("state"), c.Query("code"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			h.renderPage(c, http.StatusBadRequest, "The login link expired, please sign in again.")
			return
		}
		h.logger.Warn("complete login", zap.Error(err))
		h.renderPage(c, http.StatusBadGateway, "Hugging Face login failed, please retry.")
		return
	}
	user, err := h.accounts.UpsertUser(ctx, account.Profile{
		Username:    identity.Username,
		DisplayName: identity.Name,
		AvatarURL:   identity.AvatarURL,
	})
	if err != nil {
		h.logger.Error("record user", zap.String("user", identity.Username), zap.Error(err))
		h.renderPage(c, http.StatusInternalServerError, "Could not record the login, please retry.")
		return
	}
	sess, err := h.auth.CreateSession(ctx, user.ID, tok, h.login.Scopes(tok))
	if err != nil {
		h.logger.Error("create session", zap.String("user", user.Username), zap.Error(err))
		h.renderPage(c, http.StatusInternalServerError, "Could not create a session, please retry.")
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		_ = h.auth.RevokeSession(ctx, sess.ID)
		h.renderPage(c, http.StatusInternalServerError, "Could not create a session, please retry.")
		return
	}
	h.setAuthCookies(c, sess.ID, csrfToken)
	h.logger.Info("user logged in", zap.String("user", user.Username))
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) logoutPage(c *gin.Context) {
	h.revokeCurrentSession(c)
	h.clearAuthCookies(c)
	c.Redirect(http.StatusSeeOther, "/")
}

func (h *Handler) logoutAPI(c *gin.Context) {
	h.revokeCurrentSession(c)
	h.clearAuthCookies(c)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (h *Handler) revokeCurrentSession(c *gin.Context) {
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		return
	}
	if err := h.auth.RevokeSession(c.Request.Context(), sess.ID); err != nil {
		h.logger.Warn("revoke session", zap.Error(err))
	}
}

// cookieSecurity returns the Secure flag and SameSite mode. Spaces serve the
// app inside a cross-site iframe, which only carries SameSite=None cookies.
func cookieSecurity() (bool, http.SameSite) {
	if gin.Mode() == gin.ReleaseMode {
		return true, http.SameSiteNoneMode
	}
	return false, http.SameSiteLaxMode
}

func (h *Handler) setAuthCookies(c *gin.Context, sessionID, csrfToken string) {
	ttl := int(h.auth.SessionTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure, sameSite := cookieSecurity()
	setCookie(c, &http.Cookie{
		Name:     h.auth.SessionCookieName(),
		Value:    sessionID,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: sameSite,
	})
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: false,
		SameSite: sameSite,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	secure, sameSite := cookieSecurity()
	for _, name := range []string{h.auth.SessionCookieName(), h.auth.CSRFCookieName()} {
		setCookie(c, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   secure,
			HttpOnly: name == h.auth.SessionCookieName(),
			SameSite: sameSite,
		})
	}
}

// ensureCSRFCookie returns the CSRF token the page must echo, issuing one
// when the cookie is missing.
func (h *Handler) ensureCSRFCookie(c *gin.Context) string {
	if token, err := c.Cookie(h.auth.CSRFCookieName()); err == nil && token != "" {
		return token
	}
	token, err := h.auth.NewCSRFToken()
	if err != nil {
		h.logger.Warn("issue csrf token", zap.Error(err))
		return ""
	}
	secure, sameSite := cookieSecurity()
	setCookie(c, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    token,
		MaxAge:   int(h.auth.SessionTTL().Seconds()),
		Path:     "/",
		Secure:   secure,
		SameSite: sameSite,
	})
	return token
}

func setCookie(c *gin.Context, ck *http.Cookie) {
	if ck == nil {
		return
	}
	http.SetCookie(c.Writer, ck)
}
