package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/eshygn/MyMusicMaestro/internal/authz"
	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/users"
	"github.com/gin-gonic/gin"
)

// authorizeTracklistAlbum checks the action against the album an item belongs
// to. A missing album is left to catalog validation.
func (h *httpHandler) authorizeTracklistAlbum(c *gin.Context, principal users.Principal, action authz.Action, albumID uint64) error {
	if albumID == 0 {
		return nil
	}
	album, err := h.catalog.GetAlbum(c.Request.Context(), albumID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return h.authorizer.AuthorizeTracklist(principal, action, album)
}

func (h *httpHandler) apiListTracklistItems(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	filter, visible := h.authorizer.AlbumListFilter(principal)
	response := []tracklistItemResponse{}
	if !visible {
		c.JSON(http.StatusOK, response)
		return
	}

	var albumID *uint64
	if raw := c.Query("album"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"errors": map[string][]string{"album": {"A valid integer is required."}}})
			return
		}
		albumID = &parsed
	}
	items, err := h.catalog.ListTracklistItems(c.Request.Context(), albumID)
	if err != nil {
		h.respondAPIError(c, "tracklist_item", authz.ActionList, err)
		return
	}
	for _, item := range items {
		if filter.Artist != nil && (item.Album == nil || item.Album.Artist != *filter.Artist) {
			continue
		}
		response = append(response, newTracklistItemResponse(item))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) apiCreateTracklistItem(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	var payload tracklistItemPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMalformed(c)
		return
	}
	verr := catalog.NewValidationError()
	input := payload.apply(catalog.TracklistItemInput{}, true, verr)
	if err := h.authorizeTracklistAlbum(c, principal, authz.ActionCreate, input.AlbumID); err != nil {
		h.respondAPIError(c, "tracklist_item", authz.ActionCreate, err)
		return
	}
	if verr.HasErrors() {
		h.respondAPIError(c, "tracklist_item", authz.ActionCreate, verr)
		return
	}
	item, err := h.catalog.CreateTracklistItem(c.Request.Context(), input)
	if err != nil {
		h.respondAPIError(c, "tracklist_item", authz.ActionCreate, err)
		return
	}
	c.JSON(http.StatusCreated, newTracklistItemResponse(item))
}

func (h *httpHandler) loadAPITracklistItem(c *gin.Context, principal users.Principal, action authz.Action) (catalog.AlbumTracklistItem, bool) {
	itemID, ok := parseID(c)
	if !ok {
		respondInvalidID(c)
		return catalog.AlbumTracklistItem{}, false
	}
	item, err := h.catalog.GetTracklistItem(c.Request.Context(), itemID)
	if err != nil {
		h.respondAPIError(c, "tracklist_item", action, err)
		return catalog.AlbumTracklistItem{}, false
	}
	if item.Album == nil {
		h.respondAPIError(c, "tracklist_item", action, catalog.ErrNotFound)
		return catalog.AlbumTracklistItem{}, false
	}
	if err := h.authorizer.AuthorizeTracklist(principal, action, *item.Album); err != nil {
		h.respondAPIError(c, "tracklist_item", action, err)
		return catalog.AlbumTracklistItem{}, false
	}
	return item, true
}

func (h *httpHandler) apiGetTracklistItem(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	item, ok := h.loadAPITracklistItem(c, principal, authz.ActionView)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newTracklistItemResponse(item))
}

func (h *httpHandler) apiReplaceTracklistItem(c *gin.Context) {
	h.apiUpdateTracklistItem(c, true)
}

func (h *httpHandler) apiPatchTracklistItem(c *gin.Context) {
	h.apiUpdateTracklistItem(c, false)
}

func (h *httpHandler) apiUpdateTracklistItem(c *gin.Context, full bool) {
	principal, _ := currentPrincipal(c)
	item, ok := h.loadAPITracklistItem(c, principal, authz.ActionEdit)
	if !ok {
		return
	}
	var payload tracklistItemPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMalformed(c)
		return
	}
	base := catalog.TracklistItemInput{AlbumID: item.AlbumID, SongID: item.SongID, Position: item.Position}
	if full {
		base = catalog.TracklistItemInput{}
	}
	verr := catalog.NewValidationError()
	input := payload.apply(base, full, verr)
	if input.AlbumID != item.AlbumID {
		if err := h.authorizeTracklistAlbum(c, principal, authz.ActionEdit, input.AlbumID); err != nil {
			h.respondAPIError(c, "tracklist_item", authz.ActionEdit, err)
			return
		}
	}
	if verr.HasErrors() {
		h.respondAPIError(c, "tracklist_item", authz.ActionEdit, verr)
		return
	}
	updated, err := h.catalog.UpdateTracklistItem(c.Request.Context(), item.ID, input)
	if err != nil {
		h.respondAPIError(c, "tracklist_item", authz.ActionEdit, err)
		return
	}
	c.JSON(http.StatusOK, newTracklistItemResponse(updated))
}

func (h *httpHandler) apiDeleteTracklistItem(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	item, ok := h.loadAPITracklistItem(c, principal, authz.ActionDelete)
	if !ok {
		return
	}
	if err := h.catalog.DeleteTracklistItem(c.Request.Context(), item.ID); err != nil {
		h.respondAPIError(c, "tracklist_item", authz.ActionDelete, err)
		return
	}
	c.Status(http.StatusNoContent)
}
