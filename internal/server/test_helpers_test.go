package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eshygn/MyMusicMaestro/internal/auth"
	"github.com/eshygn/MyMusicMaestro/internal/authz"
	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/covers"
	"github.com/eshygn/MyMusicMaestro/internal/database"
	"github.com/eshygn/MyMusicMaestro/internal/metrics"
	"github.com/eshygn/MyMusicMaestro/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "correct-horse-battery"

var testToday = time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC)

type testApp struct {
	handler  http.Handler
	catalog  *catalog.Service
	users    *users.Service
	sessions *auth.SessionManager
	covers   *covers.Store
}

type testAppOption func(*Dependencies)

func withLoginAttempts(perMinute int) testAppOption {
	return func(deps *Dependencies) {
		deps.LoginAttemptsPerMinute = perMinute
	}
}

func newTestApp(t *testing.T, options ...testAppOption) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	root := t.TempDir()
	db, err := database.OpenSQLite(filepath.Join(root, "maestro.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	catalogService, err := catalog.NewService(catalog.ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return testToday
		},
	})
	if err != nil {
		t.Fatalf("failed to create catalog service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte("test-signing-secret"),
		CookieName:    "maestro_session",
		TTL:           time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create session manager: %v", err)
	}
	authorizer, err := authz.NewAuthorizer(authz.Config{})
	if err != nil {
		t.Fatalf("failed to create authorizer: %v", err)
	}
	store, err := covers.NewStore(covers.StoreConfig{Root: filepath.Join(root, "media"), MaxBytes: 1 << 20})
	if err != nil {
		t.Fatalf("failed to create cover store: %v", err)
	}
	if _, err := store.EnsurePlaceholder(); err != nil {
		t.Fatalf("failed to write placeholder: %v", err)
	}

	deps := Dependencies{
		Catalog:        catalogService,
		Accounts:       userService,
		Sessions:       sessions,
		Authorizer:     authorizer,
		Covers:         store,
		Metrics:        metrics.NewRecorder(),
		Logger:         zap.NewNop(),
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	for _, option := range options {
		option(&deps)
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return &testApp{
		handler:  handler,
		catalog:  catalogService,
		users:    userService,
		sessions: sessions,
		covers:   store,
	}
}

func (a *testApp) createUser(t *testing.T, username, displayName string, role users.Role) string {
	t.Helper()
	principal, err := a.users.CreateUser(context.Background(), users.NewUserRequest{
		Username:    username,
		Password:    testPassword,
		DisplayName: displayName,
		Role:        role,
	})
	if err != nil {
		t.Fatalf("failed to create user %q: %v", username, err)
	}
	return a.tokenFor(t, principal.IdentityID, principal.Username)
}

func (a *testApp) createProfilelessUser(t *testing.T, username string) string {
	t.Helper()
	identity, err := a.users.CreateIdentity(context.Background(), username, testPassword)
	if err != nil {
		t.Fatalf("failed to create identity %q: %v", username, err)
	}
	return a.tokenFor(t, identity.ID, identity.Username)
}

func (a *testApp) tokenFor(t *testing.T, identityID uint64, username string) string {
	t.Helper()
	token, _, err := a.sessions.Issue(identityID, username)
	if err != nil {
		t.Fatalf("failed to issue session: %v", err)
	}
	return token
}

func (a *testApp) createSong(t *testing.T, title string, length int64) catalog.Song {
	t.Helper()
	song, err := a.catalog.CreateSong(context.Background(), catalog.SongInput{Title: title, Length: length})
	if err != nil {
		t.Fatalf("failed to create song %q: %v", title, err)
	}
	return song
}

func (a *testApp) createAlbum(t *testing.T, title, artist string, songIDs ...uint64) catalog.Album {
	t.Helper()
	album, err := a.catalog.CreateAlbum(context.Background(), catalog.AlbumInput{
		Title:       title,
		Artist:      artist,
		Price:       999,
		Format:      catalog.FormatDigital,
		ReleaseDate: testToday,
		SongIDs:     songIDs,
	})
	if err != nil {
		t.Fatalf("failed to create album %q: %v", title, err)
	}
	return album
}

// api sends a JSON request authenticated with a bearer token.
func (a *testApp) api(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch value := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(value))
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

// web sends a browser request carrying the session cookie and any extra cookies.
func (a *testApp) web(t *testing.T, method, path, token string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var request *http.Request
	if form != nil {
		request = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		request = httptest.NewRequest(method, path, http.NoBody)
	}
	if token != "" {
		request.AddCookie(&http.Cookie{Name: "maestro_session", Value: token})
	}
	for _, cookie := range cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	a.handler.ServeHTTP(recorder, request)
	return recorder
}

func responseCookie(recorder *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}
