package server

import (
	"net/http"

	"github.com/eshygn/MyMusicMaestro/internal/authz"
	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) authorizeSongAPI(c *gin.Context, action authz.Action) bool {
	principal, _ := currentPrincipal(c)
	if err := h.authorizer.AuthorizeSong(principal, action); err != nil {
		h.respondAPIError(c, "song", action, err)
		return false
	}
	return true
}

func (h *httpHandler) apiListSongs(c *gin.Context) {
	if !h.authorizeSongAPI(c, authz.ActionList) {
		return
	}
	songs, err := h.catalog.ListSongs(c.Request.Context())
	if err != nil {
		h.respondAPIError(c, "song", authz.ActionList, err)
		return
	}
	response := make([]songSummaryResponse, 0, len(songs))
	for _, song := range songs {
		response = append(response, newSongResponse(song))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) apiCreateSong(c *gin.Context) {
	if !h.authorizeSongAPI(c, authz.ActionCreate) {
		return
	}
	var payload songPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMalformed(c)
		return
	}
	verr := catalog.NewValidationError()
	input := payload.apply(catalog.SongInput{}, true, verr)
	if verr.HasErrors() {
		h.respondAPIError(c, "song", authz.ActionCreate, verr)
		return
	}
	song, err := h.catalog.CreateSong(c.Request.Context(), input)
	if err != nil {
		h.respondAPIError(c, "song", authz.ActionCreate, err)
		return
	}
	c.JSON(http.StatusCreated, newSongResponse(song))
}

func (h *httpHandler) loadAPISong(c *gin.Context, action authz.Action) (catalog.Song, bool) {
	if !h.authorizeSongAPI(c, action) {
		return catalog.Song{}, false
	}
	songID, ok := parseID(c)
	if !ok {
		respondInvalidID(c)
		return catalog.Song{}, false
	}
	song, err := h.catalog.GetSong(c.Request.Context(), songID)
	if err != nil {
		h.respondAPIError(c, "song", action, err)
		return catalog.Song{}, false
	}
	return song, true
}

func (h *httpHandler) apiGetSong(c *gin.Context) {
	song, ok := h.loadAPISong(c, authz.ActionView)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newSongResponse(song))
}

func (h *httpHandler) apiReplaceSong(c *gin.Context) {
	h.apiUpdateSong(c, true)
}

func (h *httpHandler) apiPatchSong(c *gin.Context) {
	h.apiUpdateSong(c, false)
}

func (h *httpHandler) apiUpdateSong(c *gin.Context, full bool) {
	song, ok := h.loadAPISong(c, authz.ActionEdit)
	if !ok {
		return
	}
	var payload songPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		respondMalformed(c)
		return
	}
	base := catalog.SongInput{Title: song.Title, Length: song.Length}
	if full {
		base = catalog.SongInput{}
	}
	verr := catalog.NewValidationError()
	input := payload.apply(base, full, verr)
	if verr.HasErrors() {
		h.respondAPIError(c, "song", authz.ActionEdit, verr)
		return
	}
	updated, err := h.catalog.UpdateSong(c.Request.Context(), song.ID, input)
	if err != nil {
		h.respondAPIError(c, "song", authz.ActionEdit, err)
		return
	}
	c.JSON(http.StatusOK, newSongResponse(updated))
}

func (h *httpHandler) apiDeleteSong(c *gin.Context) {
	song, ok := h.loadAPISong(c, authz.ActionDelete)
	if !ok {
		return
	}
	if err := h.catalog.DeleteSong(c.Request.Context(), song.ID); err != nil {
		h.respondAPIError(c, "song", authz.ActionDelete, err)
		return
	}
	c.Status(http.StatusNoContent)
}
