// Package covers stores album cover images on the local filesystem under the
// media root and hands out references relative to it.
package covers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// Directory is the subdirectory of the media root holding covers.
	Directory = "covers"
	// URLPrefix is the public path the media root is served under.
	URLPrefix = "/media/"

	placeholderName = "default.svg"
	sniffLimit      = 3072
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="300" height="300" viewBox="0 0 300 300">
<rect width="300" height="300" fill="#2b2b2b"/>
<circle cx="150" cy="150" r="110" fill="#111"/>
<circle cx="150" cy="150" r="36" fill="#c0392b"/>
<circle cx="150" cy="150" r="5" fill="#2b2b2b"/>
</svg>
`

var (
	// ErrUnsupportedType indicates the upload is not a recognised image.
	ErrUnsupportedType = errors.New("covers: upload is not a supported image")
	// ErrTooLarge indicates the upload exceeds the configured size cap.
	ErrTooLarge = errors.New("covers: upload exceeds size limit")
	// ErrInvalidReference indicates a reference outside the covers directory.
	ErrInvalidReference = errors.New("covers: invalid reference")
)

var allowedTypes = map[string]string{
	"image/jpeg":    ".jpg",
	"image/png":     ".png",
	"image/gif":     ".gif",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

// IDProvider issues the base names of stored files.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// StoreConfig configures the cover store.
type StoreConfig struct {
	Root       string
	MaxBytes   int64
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Store writes cover images beneath Root/covers.
type Store struct {
	root     string
	maxBytes int64
	ids      IDProvider
	logger   *zap.Logger
}

// NewStore validates the configuration and creates the covers directory.
func NewStore(cfg StoreConfig) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, errors.New("covers: root is required")
	}
	if cfg.MaxBytes <= 0 {
		return nil, errors.New("covers: max bytes must be positive")
	}
	if err := os.MkdirAll(filepath.Join(cfg.Root, Directory), 0o755); err != nil {
		return nil, fmt.Errorf("covers: create directory: %w", err)
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{root: cfg.Root, maxBytes: cfg.MaxBytes, ids: ids, logger: logger}, nil
}

// Root returns the media root directory.
func (s *Store) Root() string {
	return s.root
}

// MaxBytes returns the upload size cap.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// EnsurePlaceholder writes the default cover if it does not exist yet and
// returns its reference.
func (s *Store) EnsurePlaceholder() (string, error) {
	ref := path.Join(Directory, placeholderName)
	target := filepath.Join(s.root, filepath.FromSlash(ref))
	if _, err := os.Stat(target); err == nil {
		return ref, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("covers: stat placeholder: %w", err)
	}
	if err := os.WriteFile(target, []byte(placeholderSVG), 0o644); err != nil {
		return "", fmt.Errorf("covers: write placeholder: %w", err)
	}
	s.logger.Info("cover placeholder written", zap.String("path", target))
	return ref, nil
}

// Save sniffs the upload, rejects non-images and oversized files, and stores
// it under a fresh name. The returned reference is relative to the media root.
func (s *Store) Save(ctx context.Context, filename string, reader io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := io.ReadAll(io.LimitReader(reader, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("covers: read upload: %w", err)
	}
	if int64(len(payload)) > s.maxBytes {
		return "", ErrTooLarge
	}

	head := payload
	if len(head) > sniffLimit {
		head = head[:sniffLimit]
	}
	detected := mimetype.Detect(head)
	extension, ok := allowedTypes[baseMediaType(detected.String())]
	if !ok {
		s.logger.Info("cover upload rejected",
			zap.String("filename", filename),
			zap.String("detected_type", detected.String()))
		return "", ErrUnsupportedType
	}

	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("covers: issue id: %w", err)
	}
	ref := path.Join(Directory, id+extension)
	target := filepath.Join(s.root, filepath.FromSlash(ref))
	if err := os.WriteFile(target, payload, 0o644); err != nil {
		return "", fmt.Errorf("covers: write upload: %w", err)
	}
	return ref, nil
}

// Remove deletes a stored cover. The placeholder and missing files are ignored.
func (s *Store) Remove(ref string) error {
	clean, err := cleanReference(ref)
	if err != nil {
		return err
	}
	if clean == path.Join(Directory, placeholderName) {
		return nil
	}
	err = os.Remove(filepath.Join(s.root, filepath.FromSlash(clean)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("covers: remove: %w", err)
	}
	return nil
}

// URL returns the public URL for a stored reference. Absolute URLs pass through.
func (s *Store) URL(ref string) string {
	return URL(ref)
}

// URL maps a reference relative to the media root onto its public path.
func URL(ref string) string {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") || strings.HasPrefix(trimmed, "/") {
		return trimmed
	}
	return URLPrefix + trimmed
}

// Reference maps a public media URL back onto the stored reference.
func Reference(value string) string {
	return strings.TrimPrefix(strings.TrimSpace(value), URLPrefix)
}

func cleanReference(ref string) (string, error) {
	clean := path.Clean(strings.TrimSpace(ref))
	if !strings.HasPrefix(clean, Directory+"/") {
		return "", ErrInvalidReference
	}
	return clean, nil
}

func baseMediaType(value string) string {
	if index := strings.IndexByte(value, ';'); index >= 0 {
		value = value[:index]
	}
	return strings.TrimSpace(value)
}
