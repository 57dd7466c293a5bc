package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 10, 17, 15, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "catalog.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate catalog schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database: db,
		Clock: func() time.Time {
			return testNow
		},
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func testAlbumInput(title string) AlbumInput {
	return AlbumInput{
		Title:       title,
		Artist:      "Test Artist",
		Price:       999,
		Format:      FormatDigital,
		ReleaseDate: civilDate(testNow),
	}
}

func mustCreateSong(t *testing.T, service *Service, title string, length int64) Song {
	t.Helper()
	song, err := service.CreateSong(context.Background(), SongInput{Title: title, Length: length})
	if err != nil {
		t.Fatalf("failed to create song %q: %v", title, err)
	}
	return song
}

func mustCreateAlbum(t *testing.T, service *Service, input AlbumInput) Album {
	t.Helper()
	album, err := service.CreateAlbum(context.Background(), input)
	if err != nil {
		t.Fatalf("failed to create album %q: %v", input.Title, err)
	}
	return album
}

func positionOf(item AlbumTracklistItem) int {
	if item.Position == nil {
		return 0
	}
	return *item.Position
}
