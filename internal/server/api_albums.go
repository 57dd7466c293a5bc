package server

import (
	"errors"
	"net/http"

	"github.com/eshygn/MyMusicMaestro/internal/authz"
	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const msgMalformedJSON = "Malformed JSON body."

// respondAPIError maps catalog and authorization failures onto status codes.
func (h *httpHandler) respondAPIError(c *gin.Context, resource string, action authz.Action, err error) {
	var invalid *catalog.ValidationError
	switch {
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"errors": invalid.Fields})
	case errors.Is(err, catalog.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
	case errors.Is(err, authz.ErrMissingProfile), errors.Is(err, authz.ErrNotOwner), errors.Is(err, authz.ErrForbidden):
		h.metrics.RecordDenied(resource, string(action))
		c.JSON(http.StatusForbidden, gin.H{"detail": denialMessage(err)})
	default:
		h.logger.Error("api request failed",
			zap.String("resource", resource),
			zap.String("action", string(action)),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
	}
}

func respondMalformed(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"errors": map[string][]string{catalog.NonFieldErrorsKey: {msgMalformedJSON}}})
}

func respondInvalidID(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"detail": "not found"})
}

func (h *httpHandler) apiListAlbums(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	filter, visible := h.authorizer.AlbumListFilter(principal)
	response := []albumResponse{}
	if slug := c.Query("slug"); slug != "" {
		album, err := h.catalog.GetAlbumBySlug(c.Request.Context(), slug)
		switch {
		case errors.Is(err, catalog.ErrNotFound):
		case err != nil:
			h.respondAPIError(c, "album", authz.ActionList, err)
			return
		case h.authorizer.AlbumAllowed(principal, authz.ActionView, &album):
			response = append(response, newAlbumResponse(album))
		}
		c.JSON(http.StatusOK, response)
		return
	}
	if visible {
		albums, err := h.catalog.ListAlbums(c.Request.Context(), filter)
		if err != nil {
			h.respondAPIError(c, "album", authz.ActionList, err)
			return
		}
		for _, album := range albums {
			response = append(response, newAlbumResponse(album))
		}
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) apiCreateAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	if err := h.authorizer.AuthorizeAlbum(principal, authz.ActionCreate, nil); err != nil {
		h.respondAPIError(c, "album", authz.ActionCreate, err)
		return
	}
	var payload albumPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMalformed(c)
		return
	}
	verr := catalog.NewValidationError()
	input := payload.apply(catalog.AlbumInput{}, true, verr)
	input.Artist = h.authorizer.CreditedArtist(principal, input.Artist)
	if verr.HasErrors() {
		h.respondAPIError(c, "album", authz.ActionCreate, verr)
		return
	}
	album, err := h.catalog.CreateAlbum(c.Request.Context(), input)
	if err != nil {
		h.respondAPIError(c, "album", authz.ActionCreate, err)
		return
	}
	c.JSON(http.StatusCreated, newAlbumResponse(album))
}

// loadAPIAlbum resolves the :id album and authorizes the action on it.
func (h *httpHandler) loadAPIAlbum(c *gin.Context, principal users.Principal, action authz.Action) (catalog.Album, bool) {
	albumID, ok := parseID(c)
	if !ok {
		respondInvalidID(c)
		return catalog.Album{}, false
	}
	album, err := h.catalog.GetAlbum(c.Request.Context(), albumID)
	if err != nil {
		h.respondAPIError(c, "album", action, err)
		return catalog.Album{}, false
	}
	if err := h.authorizer.AuthorizeAlbum(principal, action, &album); err != nil {
		h.respondAPIError(c, "album", action, err)
		return catalog.Album{}, false
	}
	return album, true
}

func (h *httpHandler) apiGetAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	album, ok := h.loadAPIAlbum(c, principal, authz.ActionView)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newAlbumResponse(album))
}

func (h *httpHandler) apiReplaceAlbum(c *gin.Context) {
	h.apiUpdateAlbum(c, true)
}

func (h *httpHandler) apiPatchAlbum(c *gin.Context) {
	h.apiUpdateAlbum(c, false)
}

func (h *httpHandler) apiUpdateAlbum(c *gin.Context, full bool) {
	principal, _ := currentPrincipal(c)
	album, ok := h.loadAPIAlbum(c, principal, authz.ActionEdit)
	if !ok {
		return
	}
	var payload albumPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMalformed(c)
		return
	}
	base := albumInputFrom(album)
	if full {
		base = catalog.AlbumInput{}
	}
	verr := catalog.NewValidationError()
	input := payload.apply(base, full, verr)
	input.Artist = h.authorizer.CreditedArtist(principal, input.Artist)
	if verr.HasErrors() {
		h.respondAPIError(c, "album", authz.ActionEdit, verr)
		return
	}
	updated, err := h.catalog.UpdateAlbum(c.Request.Context(), album.ID, input)
	if err != nil {
		h.respondAPIError(c, "album", authz.ActionEdit, err)
		return
	}
	c.JSON(http.StatusOK, newAlbumResponse(updated))
}

func (h *httpHandler) apiDeleteAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	album, ok := h.loadAPIAlbum(c, principal, authz.ActionDelete)
	if !ok {
		return
	}
	if err := h.catalog.DeleteAlbum(c.Request.Context(), album.ID); err != nil {
		h.respondAPIError(c, "album", authz.ActionDelete, err)
		return
	}
	h.discardStoredCover(c.Request.Context(), album.CoverImage)
	c.Status(http.StatusNoContent)
}
