package server

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/eshygn/MyMusicMaestro/internal/covers"
	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFiles embed.FS

func parseTemplates() (*template.Template, error) {
	templates, err := template.New("pages").Funcs(template.FuncMap{
		"coverURL": covers.URL,
		"playtime": formatPlaytime,
	}).ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return templates, nil
}

// formatPlaytime renders seconds as m:ss, or h:mm:ss from one hour on.
func formatPlaytime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	rest := seconds % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, rest)
	}
	return fmt.Sprintf("%d:%02d", minutes, rest)
}

// render fills the layout fields every page needs and renders the named template.
func (h *httpHandler) render(c *gin.Context, status int, name string, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	if principal, ok := currentPrincipal(c); ok {
		data["Principal"] = &principal
	} else {
		data["Principal"] = nil
	}
	data["Flash"] = h.popFlash(c)
	if _, ok := data["Title"]; !ok {
		data["Title"] = "MyMusicMaestro"
	}
	c.HTML(status, name, data)
}

func (h *httpHandler) renderNotFound(c *gin.Context) {
	h.render(c, http.StatusNotFound, "not_found.html", gin.H{"Title": "Not found"})
}

func (h *httpHandler) renderServerError(c *gin.Context) {
	h.render(c, http.StatusInternalServerError, "error.html", gin.H{"Title": "Error"})
}
