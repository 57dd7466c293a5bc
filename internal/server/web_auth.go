package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/eshygn/MyMusicMaestro/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgInvalidLogin   = "Please enter a correct username and password."
	msgLoginThrottled = "Too many login attempts. Please wait a minute and try again."
)

func (h *httpHandler) showLogin(c *gin.Context) {
	if _, ok := currentPrincipal(c); ok {
		c.Redirect(http.StatusFound, "/albums")
		return
	}
	h.render(c, http.StatusOK, "login.html", gin.H{
		"Title":    "Log in",
		"Next":     safeNextPath(c.Query("next")),
		"Username": "",
		"Error":    "",
	})
}

func (h *httpHandler) submitLogin(c *gin.Context) {
	var form loginForm
	_ = c.ShouldBind(&form)
	next := safeNextPath(form.Next)
	page := gin.H{"Title": "Log in", "Next": next, "Username": form.Username}

	if !h.limiter.Allow(c.ClientIP()) {
		h.metrics.RecordLogin("throttled")
		h.logger.Info("login throttled", zap.String("client_ip", c.ClientIP()))
		page["Error"] = msgLoginThrottled
		h.render(c, http.StatusTooManyRequests, "login.html", page)
		return
	}
	if err := h.validate.Struct(form); err != nil {
		h.metrics.RecordLogin("invalid")
		page["Error"] = msgInvalidLogin
		h.render(c, http.StatusOK, "login.html", page)
		return
	}

	identity, err := h.accounts.Authenticate(c.Request.Context(), form.Username, form.Password)
	if err != nil {
		if !errors.Is(err, users.ErrInvalidCredentials) {
			h.logger.Error("login failed", zap.Error(err))
			h.renderServerError(c)
			return
		}
		h.metrics.RecordLogin("invalid")
		h.logger.Info("login rejected", zap.String("username", strings.TrimSpace(form.Username)))
		page["Error"] = msgInvalidLogin
		h.render(c, http.StatusOK, "login.html", page)
		return
	}

	token, expiresAt, err := h.sessions.Issue(identity.ID, identity.Username)
	if err != nil {
		h.logger.Error("failed to issue session", zap.Error(err))
		h.renderServerError(c)
		return
	}
	h.metrics.RecordLogin("success")
	http.SetCookie(c.Writer, h.sessions.SessionCookie(token, expiresAt, h.secure))
	c.Redirect(http.StatusFound, next)
}

// logout drops the session cookie. Issued tokens stay valid until they expire.
func (h *httpHandler) logout(c *gin.Context) {
	http.SetCookie(c.Writer, h.sessions.ClearedCookie(h.secure))
	h.setFlash(c, flashInfo, "You have been logged out.")
	c.Redirect(http.StatusFound, "/login")
}
