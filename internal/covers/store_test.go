package covers

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type fixedIDs struct {
	id string
}

func (f fixedIDs) NewID() (string, error) {
	return f.id, nil
}

func newTestStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Root:       t.TempDir(),
		MaxBytes:   maxBytes,
		IDProvider: fixedIDs{id: "0192f1c4-0000-7000-8000-000000000001"},
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestSaveStoresSniffedImage(t *testing.T) {
	store := newTestStore(t, 1024)
	ref, err := store.Save(context.Background(), "cover.bin", bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if ref != "covers/0192f1c4-0000-7000-8000-000000000001.png" {
		t.Fatalf("unexpected reference %q", ref)
	}
	stored, err := os.ReadFile(filepath.Join(store.Root(), filepath.FromSlash(ref)))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if !bytes.Equal(stored, pngHeader) {
		t.Fatalf("stored content differs")
	}
	if store.URL(ref) != "/media/"+ref {
		t.Fatalf("unexpected url %q", store.URL(ref))
	}
}

func TestSaveRejectsNonImages(t *testing.T) {
	store := newTestStore(t, 1024)
	_, err := store.Save(context.Background(), "cover.png", strings.NewReader("definitely not an image"))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected unsupported type, got %v", err)
	}
}

func TestSaveRejectsOversizedUploads(t *testing.T) {
	store := newTestStore(t, int64(len(pngHeader)-1))
	_, err := store.Save(context.Background(), "cover.png", bytes.NewReader(pngHeader))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected too large, got %v", err)
	}
}

func TestEnsurePlaceholderIsIdempotent(t *testing.T) {
	store := newTestStore(t, 1024)
	ref, err := store.EnsurePlaceholder()
	if err != nil {
		t.Fatalf("placeholder failed: %v", err)
	}
	if ref != "covers/default.svg" {
		t.Fatalf("unexpected placeholder reference %q", ref)
	}
	target := filepath.Join(store.Root(), "covers", "default.svg")
	if err := os.WriteFile(target, []byte("<svg/>"), 0o644); err != nil {
		t.Fatalf("failed to overwrite placeholder: %v", err)
	}
	if _, err := store.EnsurePlaceholder(); err != nil {
		t.Fatalf("second placeholder call failed: %v", err)
	}
	content, _ := os.ReadFile(target)
	if string(content) != "<svg/>" {
		t.Fatalf("expected existing placeholder to be left alone")
	}
}

func TestRemoveGuardsReferences(t *testing.T) {
	store := newTestStore(t, 1024)
	if _, err := store.EnsurePlaceholder(); err != nil {
		t.Fatalf("placeholder failed: %v", err)
	}
	if err := store.Remove("covers/default.svg"); err != nil {
		t.Fatalf("placeholder removal should be a no-op, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "covers", "default.svg")); err != nil {
		t.Fatalf("placeholder must survive removal: %v", err)
	}
	if err := store.Remove("../etc/passwd"); !errors.Is(err, ErrInvalidReference) {
		t.Fatalf("expected invalid reference, got %v", err)
	}
}

func TestURLPassesAbsoluteValuesThrough(t *testing.T) {
	if URL("https://cdn.example.com/a.png") != "https://cdn.example.com/a.png" {
		t.Fatalf("absolute url should pass through")
	}
	if URL("") != "" {
		t.Fatalf("empty reference should map to empty url")
	}
}

func TestReferenceStripsMediaPrefix(t *testing.T) {
	if Reference("/media/covers/a.png") != "covers/a.png" {
		t.Fatalf("expected media prefix to be stripped")
	}
	if Reference("https://cdn.example.com/a.png") != "https://cdn.example.com/a.png" {
		t.Fatalf("expected absolute url to pass through")
	}
}
