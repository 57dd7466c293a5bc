package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	flashCookieName = "maestro_flash"
	flashSuccess    = "success"
	flashError      = "error"
	flashInfo       = "info"
)

type flashMessage struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// setFlash stores a one-shot notice for the next rendered page.
func (h *httpHandler) setFlash(c *gin.Context, level, text string) {
	encoded, err := json.Marshal(flashMessage{Level: level, Text: text})
	if err != nil {
		return
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(encoded),
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash returns the pending notice, if any, and clears it.
func (h *httpHandler) popFlash(c *gin.Context) *flashMessage {
	cookie, err := c.Request.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	decoded, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var message flashMessage
	if err := json.Unmarshal(decoded, &message); err != nil || message.Text == "" {
		return nil
	}
	return &message
}
