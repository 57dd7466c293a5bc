package server

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/users"
)

var pngCover = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func albumFormValues(title, artist, releaseDate string, songIDs ...uint64) url.Values {
	values := url.Values{
		"title":        {title},
		"description":  {"Recorded live."},
		"artist":       {artist},
		"price":        {"9.99"},
		"format":       {"CD"},
		"release_date": {releaseDate},
	}
	for _, id := range songIDs {
		values.Add("tracklist", fmt.Sprint(id))
	}
	return values
}

func requireRedirect(t *testing.T, recorder *httptest.ResponseRecorder, location string) {
	t.Helper()
	if recorder.Code != http.StatusFound {
		t.Fatalf("expected redirect, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Header().Get("Location"); got != location {
		t.Fatalf("expected redirect to %q, got %q", location, got)
	}
}

func TestWebRootAndAnonymousRedirects(t *testing.T) {
	app := newTestApp(t)

	requireRedirect(t, app.web(t, http.MethodGet, "/", "", nil), "/albums")
	requireRedirect(t, app.web(t, http.MethodGet, "/albums", "", nil), "/login?next=%2Falbums")
	requireRedirect(t, app.web(t, http.MethodGet, "/albums/new", "", nil), "/login?next=%2Falbums%2Fnew")
}

func TestWebLoginFlow(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "editor", "Editor Name", users.RoleEditor)

	page := app.web(t, http.MethodGet, "/login?next=/albums/new", "", nil)
	if page.Code != http.StatusOK || !strings.Contains(page.Body.String(), `value="/albums/new"`) {
		t.Fatalf("expected login page carrying next, got %d: %s", page.Code, page.Body.String())
	}

	rejected := app.web(t, http.MethodPost, "/login", "", url.Values{"username": {"editor"}, "password": {"nope"}})
	if rejected.Code != http.StatusOK || !strings.Contains(rejected.Body.String(), msgInvalidLogin) {
		t.Fatalf("expected login error, got %d: %s", rejected.Code, rejected.Body.String())
	}

	accepted := app.web(t, http.MethodPost, "/login", "", url.Values{
		"username": {"editor"},
		"password": {testPassword},
		"next":     {"/albums/new"},
	})
	requireRedirect(t, accepted, "/albums/new")
	session := responseCookie(accepted, "maestro_session")
	if session == nil || session.Value == "" || !session.HttpOnly {
		t.Fatalf("expected http-only session cookie, got %#v", session)
	}

	form := app.web(t, http.MethodGet, "/albums/new", session.Value, nil)
	if form.Code != http.StatusOK {
		t.Fatalf("expected album form, got %d", form.Code)
	}
	requireRedirect(t, app.web(t, http.MethodGet, "/login", session.Value, nil), "/albums")

	loggedOut := app.web(t, http.MethodPost, "/logout", session.Value, nil)
	requireRedirect(t, loggedOut, "/login")
	if cleared := responseCookie(loggedOut, "maestro_session"); cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected session cookie to be cleared, got %#v", cleared)
	}
}

func TestWebLoginIgnoresOffsiteNext(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, "editor", "Editor Name", users.RoleEditor)

	accepted := app.web(t, http.MethodPost, "/login", "", url.Values{
		"username": {"editor"},
		"password": {testPassword},
		"next":     {"//evil.example.com/"},
	})
	requireRedirect(t, accepted, "/albums")
}

func TestWebCreateAlbumShowsFlash(t *testing.T) {
	app := newTestApp(t)
	editor := app.createUser(t, "editor", "Editor Name", users.RoleEditor)
	song := app.createSong(t, "Opener", 125)

	created := app.web(t, http.MethodPost, "/albums/new", editor, albumFormValues("Live At Home", "The Band", "2026-10-17", song.ID))
	requireRedirect(t, created, "/albums")
	flash := responseCookie(created, flashCookieName)
	if flash == nil {
		t.Fatalf("expected flash cookie")
	}

	list := app.web(t, http.MethodGet, "/albums", editor, nil, flash)
	body := list.Body.String()
	if list.Code != http.StatusOK {
		t.Fatalf("expected album list, got %d", list.Code)
	}
	for _, expected := range []string{"was created.", "Live At Home", "The Band", "£9.99", "CD"} {
		if !strings.Contains(body, expected) {
			t.Fatalf("expected %q in album list: %s", expected, body)
		}
	}
	if cleared := responseCookie(list, flashCookieName); cleared == nil || cleared.MaxAge >= 0 {
		t.Fatalf("expected flash cookie to be consumed")
	}

	albums, err := app.catalog.ListAlbums(context.Background(), catalog.AlbumFilter{})
	if err != nil || len(albums) != 1 {
		t.Fatalf("expected one stored album, got %d (%v)", len(albums), err)
	}
	album := albums[0]
	if album.Slug != "live-at-home-cd" || album.CoverImage != catalog.DefaultCoverImage {
		t.Fatalf("unexpected stored album %#v", album)
	}

	detail := app.web(t, http.MethodGet, fmt.Sprintf("/albums/%d", album.ID), editor, nil)
	if detail.Code != http.StatusOK {
		t.Fatalf("expected detail page, got %d", detail.Code)
	}
	for _, expected := range []string{"Opener", "2:05", "/media/covers/default.svg", fmt.Sprintf("/albums/%d/edit", album.ID)} {
		if !strings.Contains(detail.Body.String(), expected) {
			t.Fatalf("expected %q in detail page: %s", expected, detail.Body.String())
		}
	}
}

func TestWebInvalidFormIsRedisplayed(t *testing.T) {
	app := newTestApp(t)
	editor := app.createUser(t, "editor", "Editor Name", users.RoleEditor)

	tooLate := app.web(t, http.MethodPost, "/albums/new", editor, albumFormValues("Future Album", "The Band", "2029-10-18"))
	if tooLate.Code != http.StatusOK {
		t.Fatalf("expected form to be redisplayed, got %d", tooLate.Code)
	}
	if !strings.Contains(tooLate.Body.String(), "Release date cannot be more than 3 years in the future") {
		t.Fatalf("expected release window error: %s", tooLate.Body.String())
	}

	blank := app.web(t, http.MethodPost, "/albums/new", editor, url.Values{"format": {"CD"}})
	if !strings.Contains(blank.Body.String(), msgFieldRequired) {
		t.Fatalf("expected required field errors: %s", blank.Body.String())
	}

	albums, err := app.catalog.ListAlbums(context.Background(), catalog.AlbumFilter{})
	if err != nil || len(albums) != 0 {
		t.Fatalf("expected no stored albums, got %d (%v)", len(albums), err)
	}
}

func TestWebArtistPermissions(t *testing.T) {
	app := newTestApp(t)
	artist := app.createUser(t, "artist", "Artist Name", users.RoleArtist)
	own := app.createAlbum(t, "My Record", "Artist Name")
	other := app.createAlbum(t, "Their Record", "Someone Else")

	list := app.web(t, http.MethodGet, "/albums", artist, nil)
	if !strings.Contains(list.Body.String(), "My Record") || strings.Contains(list.Body.String(), "Their Record") {
		t.Fatalf("expected list limited to own albums: %s", list.Body.String())
	}

	for _, path := range []string{
		fmt.Sprintf("/albums/%d", other.ID),
		fmt.Sprintf("/albums/%d/edit", other.ID),
		fmt.Sprintf("/albums/%d/delete", other.ID),
	} {
		denied := app.web(t, http.MethodGet, path, artist, nil)
		requireRedirect(t, denied, "/albums")
		flash := responseCookie(denied, flashCookieName)
		if flash == nil {
			t.Fatalf("expected denial flash for %s", path)
		}
		followed := app.web(t, http.MethodGet, "/albums", artist, nil, flash)
		if !strings.Contains(followed.Body.String(), msgNotOwner) {
			t.Fatalf("expected ownership notice for %s: %s", path, followed.Body.String())
		}
	}

	created := app.web(t, http.MethodPost, "/albums/new", artist, albumFormValues("Solo", "Impersonated", "2026-01-01"))
	requireRedirect(t, created, "/albums")
	albums, err := app.catalog.ListAlbums(context.Background(), catalog.AlbumFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, album := range albums {
		if album.Title == "Solo" && album.Artist != "Artist Name" {
			t.Fatalf("expected artist credit, got %q", album.Artist)
		}
	}

	edited := app.web(t, http.MethodPost, fmt.Sprintf("/albums/%d/edit", own.ID), artist, albumFormValues("My Record Remastered", "Artist Name", "2026-01-01"))
	requireRedirect(t, edited, fmt.Sprintf("/albums/%d", own.ID))
}

func TestWebViewerCannotCreate(t *testing.T) {
	app := newTestApp(t)
	viewer := app.createUser(t, "viewer", "Viewer Name", users.RoleViewer)
	album := app.createAlbum(t, "Visible", "Someone")

	denied := app.web(t, http.MethodGet, "/albums/new", viewer, nil)
	requireRedirect(t, denied, "/albums")
	followed := app.web(t, http.MethodGet, "/albums", viewer, nil, responseCookie(denied, flashCookieName))
	if !strings.Contains(followed.Body.String(), msgForbidden) {
		t.Fatalf("expected forbidden notice: %s", followed.Body.String())
	}
	if strings.Contains(followed.Body.String(), "/albums/new") {
		t.Fatalf("viewer should not see the add link")
	}

	detail := app.web(t, http.MethodGet, fmt.Sprintf("/albums/%d", album.ID), viewer, nil)
	if detail.Code != http.StatusOK || strings.Contains(detail.Body.String(), "/edit") {
		t.Fatalf("expected read-only detail page, got %d: %s", detail.Code, detail.Body.String())
	}
}

func TestWebProfilelessUserIsTurnedAway(t *testing.T) {
	app := newTestApp(t)
	orphan := app.createProfilelessUser(t, "orphan")
	app.createAlbum(t, "Hidden", "Someone")

	list := app.web(t, http.MethodGet, "/albums", orphan, nil)
	if list.Code != http.StatusOK || strings.Contains(list.Body.String(), "Hidden") {
		t.Fatalf("expected empty album list, got %d: %s", list.Code, list.Body.String())
	}
	denied := app.web(t, http.MethodGet, "/albums/new", orphan, nil)
	requireRedirect(t, denied, "/albums")
	followed := app.web(t, http.MethodGet, "/albums", orphan, nil, responseCookie(denied, flashCookieName))
	if !strings.Contains(followed.Body.String(), msgMissingProfile) {
		t.Fatalf("expected missing profile notice: %s", followed.Body.String())
	}
}

func TestWebEditReplacesTracklist(t *testing.T) {
	app := newTestApp(t)
	editor := app.createUser(t, "editor", "Editor Name", users.RoleEditor)
	first := app.createSong(t, "First", 60)
	second := app.createSong(t, "Second", 60)
	album := app.createAlbum(t, "Draft", "The Band", first.ID)

	form := app.web(t, http.MethodGet, fmt.Sprintf("/albums/%d/edit", album.ID), editor, nil)
	if form.Code != http.StatusOK || !strings.Contains(form.Body.String(), `value="Draft"`) {
		t.Fatalf("expected prefilled edit form, got %d: %s", form.Code, form.Body.String())
	}

	edited := app.web(t, http.MethodPost, fmt.Sprintf("/albums/%d/edit", album.ID), editor, albumFormValues("Final", "The Band", "2026-10-17", second.ID))
	requireRedirect(t, edited, fmt.Sprintf("/albums/%d", album.ID))

	stored, err := app.catalog.GetAlbum(context.Background(), album.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Title != "Final" || stored.Slug != "final-cd" {
		t.Fatalf("unexpected stored album %q / %q", stored.Title, stored.Slug)
	}
	ids := stored.SongIDs()
	if len(ids) != 1 || ids[0] != second.ID {
		t.Fatalf("expected tracklist [%d], got %v", second.ID, ids)
	}

	emptied := app.web(t, http.MethodPost, fmt.Sprintf("/albums/%d/edit", album.ID), editor, albumFormValues("Final", "The Band", "2026-10-17"))
	requireRedirect(t, emptied, fmt.Sprintf("/albums/%d", album.ID))
	stored, err = app.catalog.GetAlbum(context.Background(), album.ID)
	if err != nil || len(stored.Tracklist) != 0 {
		t.Fatalf("expected empty tracklist, got %d (%v)", len(stored.Tracklist), err)
	}
}

func TestWebDeleteAlbum(t *testing.T) {
	app := newTestApp(t)
	editor := app.createUser(t, "editor", "Editor Name", users.RoleEditor)
	album := app.createAlbum(t, "Doomed", "The Band")

	confirm := app.web(t, http.MethodGet, fmt.Sprintf("/albums/%d/delete", album.ID), editor, nil)
	if confirm.Code != http.StatusOK || !strings.Contains(confirm.Body.String(), "Doomed") {
		t.Fatalf("expected confirmation page, got %d", confirm.Code)
	}

	deleted := app.web(t, http.MethodPost, fmt.Sprintf("/albums/%d/delete", album.ID), editor, url.Values{})
	requireRedirect(t, deleted, "/albums")
	if _, err := app.catalog.GetAlbum(context.Background(), album.ID); err == nil {
		t.Fatalf("expected album to be gone")
	}

	missing := app.web(t, http.MethodGet, fmt.Sprintf("/albums/%d", album.ID), editor, nil)
	if missing.Code != http.StatusNotFound || !strings.Contains(missing.Body.String(), "Not found") {
		t.Fatalf("expected not found page, got %d", missing.Code)
	}
}

func multipartAlbum(t *testing.T, values url.Values, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, entries := range values {
		for _, entry := range entries {
			if err := writer.WriteField(key, entry); err != nil {
				t.Fatalf("failed to write field: %v", err)
			}
		}
	}
	part, err := writer.CreateFormFile("cover_image", filename)
	if err != nil {
		t.Fatalf("failed to create file part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write file part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func (a *testApp) upload(t *testing.T, path, token string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(http.MethodPost, path, body)
	request.Header.Set("Content-Type", contentType)
	request.AddCookie(&http.Cookie{Name: "maestro_session", Value: token})
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

func TestWebCoverUpload(t *testing.T) {
	app := newTestApp(t)
	editor := app.createUser(t, "editor", "Editor Name", users.RoleEditor)

	body, contentType := multipartAlbum(t, albumFormValues("Pictured", "The Band", "2026-10-17"), "front.png", pngCover)
	created := app.upload(t, "/albums/new", editor, body, contentType)
	requireRedirect(t, created, "/albums")

	albums, err := app.catalog.ListAlbums(context.Background(), catalog.AlbumFilter{})
	if err != nil || len(albums) != 1 {
		t.Fatalf("expected one album, got %d (%v)", len(albums), err)
	}
	cover := albums[0].CoverImage
	if !strings.HasPrefix(cover, "covers/") || !strings.HasSuffix(cover, ".png") {
		t.Fatalf("expected stored png cover, got %q", cover)
	}

	served := app.web(t, http.MethodGet, "/media/"+cover, "", nil)
	if served.Code != http.StatusOK || !bytes.Equal(served.Body.Bytes(), pngCover) {
		t.Fatalf("expected cover to be served, got %d", served.Code)
	}

	body, contentType = multipartAlbum(t, albumFormValues("Not Pictured", "The Band", "2026-10-17"), "notes.txt", []byte("plain text, not an image"))
	rejected := app.upload(t, "/albums/new", editor, body, contentType)
	if rejected.Code != http.StatusOK || !strings.Contains(rejected.Body.String(), "Upload a valid image.") {
		t.Fatalf("expected image validation error, got %d: %s", rejected.Code, rejected.Body.String())
	}
}

func TestWebLoginIsThrottled(t *testing.T) {
	app := newTestApp(t, withLoginAttempts(1))
	app.createUser(t, "editor", "Editor Name", users.RoleEditor)
	credentials := url.Values{"username": {"editor"}, "password": {"wrong"}}

	if first := app.web(t, http.MethodPost, "/login", "", credentials); first.Code != http.StatusOK {
		t.Fatalf("expected first attempt to be evaluated, got %d", first.Code)
	}
	throttled := app.web(t, http.MethodPost, "/login", "", credentials)
	if throttled.Code != http.StatusTooManyRequests || !strings.Contains(throttled.Body.String(), msgLoginThrottled) {
		t.Fatalf("expected throttled login, got %d", throttled.Code)
	}
}

func TestWebNotFoundAndMetrics(t *testing.T) {
	app := newTestApp(t)
	editor := app.createUser(t, "editor", "Editor Name", users.RoleEditor)

	page := app.web(t, http.MethodGet, "/nowhere", editor, nil)
	if page.Code != http.StatusNotFound || !strings.Contains(page.Body.String(), "Not found") {
		t.Fatalf("expected html not found page, got %d", page.Code)
	}
	if invalid := app.web(t, http.MethodGet, "/albums/abc", editor, nil); invalid.Code != http.StatusNotFound {
		t.Fatalf("expected not found for malformed id, got %d", invalid.Code)
	}

	exposition := app.web(t, http.MethodGet, "/metrics", "", nil)
	if exposition.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", exposition.Code)
	}
	if !strings.Contains(exposition.Body.String(), "maestro_http_requests_total") {
		t.Fatalf("expected request counter in exposition")
	}
}

func TestWebUnreadableFormIsNotBlamedOnTracklist(t *testing.T) {
	app := newTestApp(t)
	editor := app.createUser(t, "editor", "Editor Name", users.RoleEditor)

	truncated := bytes.NewBufferString("--boundary\r\nContent-Disposition: form-data; name=\"title\"\r\n\r\nCut")
	broken := app.upload(t, "/albums/new", editor, truncated, "multipart/form-data; boundary=boundary")
	if broken.Code != http.StatusOK {
		t.Fatalf("expected form to be redisplayed, got %d", broken.Code)
	}
	if !strings.Contains(broken.Body.String(), "The submitted form could not be read.") {
		t.Fatalf("expected unreadable form notice: %s", broken.Body.String())
	}
	if strings.Contains(broken.Body.String(), msgInvalidList) {
		t.Fatalf("unreadable form should not be reported against the tracklist")
	}

	values := albumFormValues("Bad Tracks", "The Band", "2026-10-17")
	values.Add("tracklist", "not-a-number")
	badList := app.web(t, http.MethodPost, "/albums/new", editor, values)
	if !strings.Contains(badList.Body.String(), msgInvalidList) {
		t.Fatalf("expected tracklist error: %s", badList.Body.String())
	}
}
