package server

import (
	"errors"
	"net/http"

	"github.com/eshygn/MyMusicMaestro/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type tokenResponsePayload struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) issueAPIToken(c *gin.Context) {
	if !h.limiter.Allow(c.ClientIP()) {
		h.metrics.RecordLogin("throttled")
		h.logger.Info("login throttled", zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusTooManyRequests, gin.H{"detail": msgLoginThrottled})
		return
	}

	var request loginForm
	if err := c.ShouldBindJSON(&request); err != nil {
		respondMalformed(c)
		return
	}
	if err := h.validate.Struct(request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": fieldErrors(err).Fields})
		return
	}

	identity, err := h.accounts.Authenticate(c.Request.Context(), request.Username, request.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidCredentials) {
			h.metrics.RecordLogin("invalid")
			h.logger.Info("login rejected", zap.String("username", request.Username))
			c.JSON(http.StatusUnauthorized, gin.H{"detail": msgInvalidLogin})
			return
		}
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
		return
	}

	token, expiresAt, err := h.sessions.Issue(identity.ID, identity.Username)
	if err != nil {
		h.logger.Error("failed to issue session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "token_issue_failed"})
		return
	}
	h.metrics.RecordLogin("success")
	c.JSON(http.StatusOK, tokenResponsePayload{
		AccessToken: token,
		ExpiresIn:   int64(expiresAt.Sub(h.clock()).Seconds()),
		TokenType:   "Bearer",
	})
}
