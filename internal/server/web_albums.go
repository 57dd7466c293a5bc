package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/eshygn/MyMusicMaestro/internal/authz"
	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/covers"
	"github.com/eshygn/MyMusicMaestro/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	msgMissingProfile = "Your account is not linked to an artist, editor or viewer profile."
	msgNotOwner       = "You can only manage albums credited to you."
	msgForbidden      = "You do not have permission to do that."
)

func denialMessage(err error) string {
	switch {
	case errors.Is(err, authz.ErrMissingProfile):
		return msgMissingProfile
	case errors.Is(err, authz.ErrNotOwner):
		return msgNotOwner
	default:
		return msgForbidden
	}
}

// denyWeb redirects to the album list with an error notice.
func (h *httpHandler) denyWeb(c *gin.Context, action authz.Action, err error) {
	h.metrics.RecordDenied("album", string(action))
	h.setFlash(c, flashError, denialMessage(err))
	c.Redirect(http.StatusFound, "/albums")
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// loadAlbumPage resolves the :id album or renders the not-found page.
func (h *httpHandler) loadAlbumPage(c *gin.Context) (catalog.Album, bool) {
	albumID, ok := parseID(c)
	if !ok {
		h.renderNotFound(c)
		return catalog.Album{}, false
	}
	album, err := h.catalog.GetAlbum(c.Request.Context(), albumID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			h.renderNotFound(c)
		} else {
			h.renderServerError(c)
		}
		return catalog.Album{}, false
	}
	return album, true
}

func (h *httpHandler) listAlbumsPage(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	var albums []catalog.Album
	filter, visible := h.authorizer.AlbumListFilter(principal)
	if visible {
		listed, err := h.catalog.ListAlbums(c.Request.Context(), filter)
		if err != nil {
			h.renderServerError(c)
			return
		}
		albums = listed
	} else {
		h.logger.Info("album list hidden for principal without profile", zap.Uint64("identity_id", principal.IdentityID))
	}
	h.render(c, http.StatusOK, "albums_list.html", gin.H{
		"Title":     "Albums",
		"Albums":    albums,
		"CanCreate": h.authorizer.CanCreateAlbums(principal),
	})
}

func (h *httpHandler) showAlbumPage(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	album, ok := h.loadAlbumPage(c)
	if !ok {
		return
	}
	if err := h.authorizer.AuthorizeAlbum(principal, authz.ActionView, &album); err != nil {
		h.denyWeb(c, authz.ActionView, err)
		return
	}
	h.render(c, http.StatusOK, "album_detail.html", gin.H{
		"Title":     album.Title,
		"Album":     album,
		"CanEdit":   h.authorizer.AlbumAllowed(principal, authz.ActionEdit, &album),
		"CanDelete": h.authorizer.AlbumAllowed(principal, authz.ActionDelete, &album),
	})
}

type albumFormPage struct {
	title        string
	action       string
	cancel       string
	form         albumForm
	errors       *catalog.ValidationError
	currentCover string
	artistLocked bool
}

func (h *httpHandler) renderAlbumForm(c *gin.Context, status int, page albumFormPage) {
	songs, err := h.catalog.ListSongs(c.Request.Context())
	if err != nil {
		h.renderServerError(c)
		return
	}
	fields := map[string][]string{}
	if page.errors != nil {
		fields = page.errors.Fields
	}
	h.render(c, status, "album_form.html", gin.H{
		"Title":        page.title,
		"Action":       page.action,
		"Cancel":       page.cancel,
		"Form":         page.form,
		"Errors":       fields,
		"Songs":        songs,
		"Selected":     selectedSongs(page.form.Tracklist),
		"Formats":      catalog.Formats(),
		"CurrentCover": page.currentCover,
		"ArtistLocked": page.artistLocked,
	})
}

// bindAlbumForm binds and validates the submitted form. Artists are always
// credited under their own display name.
func (h *httpHandler) bindAlbumForm(c *gin.Context, principal users.Principal) (albumForm, catalog.AlbumInput, *catalog.ValidationError) {
	verr := catalog.NewValidationError()
	var form albumForm
	if err := c.ShouldBind(&form); err != nil {
		var badNumber *strconv.NumError
		if errors.As(err, &badNumber) {
			verr.Add("tracklist", msgInvalidList)
		} else {
			h.logger.Info("album form could not be read", zap.Error(err))
			verr.Add(catalog.NonFieldErrorsKey, msgUnreadableForm)
		}
	}
	form.Artist = h.authorizer.CreditedArtist(principal, form.Artist)
	if err := h.validate.Struct(form); err != nil {
		mergeFieldErrors(verr, fieldErrors(err))
	}
	if verr.HasErrors() {
		return form, catalog.AlbumInput{}, verr
	}
	input := form.albumInput(verr)
	return form, input, verr
}

// receiveCover stores an uploaded cover, if one was sent, and returns its reference.
func (h *httpHandler) receiveCover(c *gin.Context, verr *catalog.ValidationError) string {
	header, err := c.FormFile("cover_image")
	if err != nil {
		return ""
	}
	file, err := header.Open()
	if err != nil {
		verr.Add("cover_image", msgInvalidImage)
		return ""
	}
	defer file.Close()
	ref, err := h.covers.Save(c.Request.Context(), header.Filename, file)
	switch {
	case err == nil:
		h.metrics.RecordCoverUpload("stored")
		return ref
	case errors.Is(err, covers.ErrTooLarge):
		verr.Add("cover_image", fmt.Sprintf("Ensure this file is at most %d bytes.", h.covers.MaxBytes()))
	case errors.Is(err, covers.ErrUnsupportedType):
		verr.Add("cover_image", msgInvalidImage)
	default:
		h.logger.Error("failed to store cover", zap.Error(err))
		verr.Add("cover_image", msgInvalidImage)
	}
	h.metrics.RecordCoverUpload("rejected")
	return ""
}

// discardCover removes an upload whose album write did not go through.
func (h *httpHandler) discardCover(ref string) {
	if ref == "" {
		return
	}
	if err := h.covers.Remove(ref); err != nil {
		h.logger.Warn("failed to remove orphaned cover", zap.String("cover", ref), zap.Error(err))
	}
}

func (h *httpHandler) showCreateAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	if err := h.authorizer.AuthorizeAlbum(principal, authz.ActionCreate, nil); err != nil {
		h.denyWeb(c, authz.ActionCreate, err)
		return
	}
	h.renderAlbumForm(c, http.StatusOK, albumFormPage{
		title:        "Add album",
		action:       "/albums/new",
		cancel:       "/albums",
		form:         albumForm{Format: string(catalog.FormatDigital), Artist: h.authorizer.CreditedArtist(principal, "")},
		artistLocked: principal.Role() == users.RoleArtist,
	})
}

func (h *httpHandler) submitCreateAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	if err := h.authorizer.AuthorizeAlbum(principal, authz.ActionCreate, nil); err != nil {
		h.denyWeb(c, authz.ActionCreate, err)
		return
	}
	page := albumFormPage{
		title:        "Add album",
		action:       "/albums/new",
		cancel:       "/albums",
		artistLocked: principal.Role() == users.RoleArtist,
	}

	form, input, verr := h.bindAlbumForm(c, principal)
	page.form = form
	if !verr.HasErrors() {
		input.CoverImage = h.receiveCover(c, verr)
	}
	if verr.HasErrors() {
		h.discardCover(input.CoverImage)
		page.errors = verr
		h.renderAlbumForm(c, http.StatusOK, page)
		return
	}

	album, err := h.catalog.CreateAlbum(c.Request.Context(), input)
	if err != nil {
		h.discardCover(input.CoverImage)
		var invalid *catalog.ValidationError
		if errors.As(err, &invalid) {
			page.errors = invalid
			h.renderAlbumForm(c, http.StatusOK, page)
			return
		}
		h.renderServerError(c)
		return
	}
	h.logger.Info("album created", zap.Uint64("album_id", album.ID), zap.Uint64("identity_id", principal.IdentityID))
	h.setFlash(c, flashSuccess, fmt.Sprintf("Album %q was created.", album.Title))
	c.Redirect(http.StatusFound, "/albums")
}

func (h *httpHandler) showEditAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	album, ok := h.loadAlbumPage(c)
	if !ok {
		return
	}
	if err := h.authorizer.AuthorizeAlbum(principal, authz.ActionEdit, &album); err != nil {
		h.denyWeb(c, authz.ActionEdit, err)
		return
	}
	h.renderAlbumForm(c, http.StatusOK, editFormPage(album, albumFormFrom(album), principal))
}

func editFormPage(album catalog.Album, form albumForm, principal users.Principal) albumFormPage {
	return albumFormPage{
		title:        "Edit " + album.Title,
		action:       fmt.Sprintf("/albums/%d/edit", album.ID),
		cancel:       fmt.Sprintf("/albums/%d", album.ID),
		form:         form,
		currentCover: album.CoverImage,
		artistLocked: principal.Role() == users.RoleArtist,
	}
}

func (h *httpHandler) submitEditAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	album, ok := h.loadAlbumPage(c)
	if !ok {
		return
	}
	if err := h.authorizer.AuthorizeAlbum(principal, authz.ActionEdit, &album); err != nil {
		h.denyWeb(c, authz.ActionEdit, err)
		return
	}

	form, input, verr := h.bindAlbumForm(c, principal)
	page := editFormPage(album, form, principal)
	if !verr.HasErrors() {
		input.CoverImage = h.receiveCover(c, verr)
	}
	if verr.HasErrors() {
		h.discardCover(input.CoverImage)
		page.errors = verr
		h.renderAlbumForm(c, http.StatusOK, page)
		return
	}
	if input.SongIDs == nil {
		input.SongIDs = []uint64{}
	}

	updated, err := h.catalog.UpdateAlbum(c.Request.Context(), album.ID, input)
	if err != nil {
		h.discardCover(input.CoverImage)
		var invalid *catalog.ValidationError
		switch {
		case errors.As(err, &invalid):
			page.errors = invalid
			h.renderAlbumForm(c, http.StatusOK, page)
		case errors.Is(err, catalog.ErrNotFound):
			h.renderNotFound(c)
		default:
			h.renderServerError(c)
		}
		return
	}
	if input.CoverImage != "" && album.CoverImage != input.CoverImage {
		h.discardStoredCover(c.Request.Context(), album.CoverImage)
	}
	h.setFlash(c, flashSuccess, fmt.Sprintf("Album %q was updated.", updated.Title))
	c.Redirect(http.StatusFound, fmt.Sprintf("/albums/%d", updated.ID))
}

// discardStoredCover removes a replaced cover when it lives in the covers
// store and no remaining album references it.
func (h *httpHandler) discardStoredCover(ctx context.Context, ref string) {
	if ref == "" || ref == catalog.DefaultCoverImage {
		return
	}
	remaining, err := h.catalog.CountAlbumsWithCover(ctx, ref)
	if err != nil {
		h.logger.Warn("failed to count cover references", zap.String("cover", ref), zap.Error(err))
		return
	}
	if remaining > 0 {
		return
	}
	if err := h.covers.Remove(ref); err != nil && !errors.Is(err, covers.ErrInvalidReference) {
		h.logger.Warn("failed to remove replaced cover", zap.String("cover", ref), zap.Error(err))
	}
}

func (h *httpHandler) showDeleteAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	album, ok := h.loadAlbumPage(c)
	if !ok {
		return
	}
	if err := h.authorizer.AuthorizeAlbum(principal, authz.ActionDelete, &album); err != nil {
		h.denyWeb(c, authz.ActionDelete, err)
		return
	}
	h.render(c, http.StatusOK, "album_confirm_delete.html", gin.H{
		"Title": "Delete " + album.Title,
		"Album": album,
	})
}

func (h *httpHandler) submitDeleteAlbum(c *gin.Context) {
	principal, _ := currentPrincipal(c)
	album, ok := h.loadAlbumPage(c)
	if !ok {
		return
	}
	if err := h.authorizer.AuthorizeAlbum(principal, authz.ActionDelete, &album); err != nil {
		h.denyWeb(c, authz.ActionDelete, err)
		return
	}
	if err := h.catalog.DeleteAlbum(c.Request.Context(), album.ID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			h.renderNotFound(c)
			return
		}
		h.renderServerError(c)
		return
	}
	h.discardStoredCover(c.Request.Context(), album.CoverImage)
	h.logger.Info("album deleted", zap.Uint64("album_id", album.ID), zap.Uint64("identity_id", principal.IdentityID))
	h.setFlash(c, flashSuccess, fmt.Sprintf("Album %q was deleted.", album.Title))
	c.Redirect(http.StatusFound, "/albums")
}
