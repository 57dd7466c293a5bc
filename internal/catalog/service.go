package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates that an album, song or tracklist item id does not resolve.
	ErrNotFound = errors.New("catalog: not found")
	// ErrDuplicate indicates that a write collided with a uniqueness constraint.
	ErrDuplicate = errors.New("catalog: duplicate")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew           = "catalog.service.new"
	opListAlbums           = "catalog.list_albums"
	opGetAlbum             = "catalog.get_album"
	opCreateAlbum          = "catalog.create_album"
	opUpdateAlbum          = "catalog.update_album"
	opDeleteAlbum          = "catalog.delete_album"
	opCountAlbumsWithCover = "catalog.count_albums_with_cover"
	opListSongs            = "catalog.list_songs"
	opGetSong              = "catalog.get_song"
	opCreateSong           = "catalog.create_song"
	opUpdateSong           = "catalog.update_song"
	opDeleteSong           = "catalog.delete_song"
	opListTracklistItems   = "catalog.list_tracklist_items"
	opGetTracklistItem     = "catalog.get_tracklist_item"
	opCreateTracklistItem  = "catalog.create_tracklist_item"
	opUpdateTracklistItem  = "catalog.update_tracklist_item"
	opDeleteTracklistItem  = "catalog.delete_tracklist_item"
	tracklistOrderByClause = "CASE WHEN position IS NULL THEN 1 ELSE 0 END, position, id"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists albums, songs and their tracklist links.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// Today returns the current calendar date used by the release window check.
func (s *Service) Today() time.Time {
	return civilDate(s.clock())
}

// AlbumFilter narrows an album listing. A nil Artist lists every album.
type AlbumFilter struct {
	Artist *string
}

// ListAlbums returns albums ordered by title with their tracklists loaded.
func (s *Service) ListAlbums(ctx context.Context, filter AlbumFilter) ([]Album, error) {
	query := withTracklist(s.db.WithContext(ctx)).Order("title ASC, id ASC")
	if filter.Artist != nil {
		query = query.Where("artist = ?", *filter.Artist)
	}
	var albums []Album
	if err := query.Find(&albums).Error; err != nil {
		s.logError(opListAlbums, "query_failed", err)
		return nil, newServiceError(opListAlbums, "query_failed", err)
	}
	return albums, nil
}

// GetAlbum loads one album with its tracklist in track order.
func (s *Service) GetAlbum(ctx context.Context, albumID uint64) (Album, error) {
	album, err := loadAlbum(s.db.WithContext(ctx), albumID)
	if err != nil {
		return Album{}, s.classify(opGetAlbum, err, zap.Uint64("album_id", albumID))
	}
	return album, nil
}

// GetAlbumBySlug loads one album by its derived slug.
func (s *Service) GetAlbumBySlug(ctx context.Context, slug string) (Album, error) {
	var album Album
	err := withTracklist(s.db.WithContext(ctx)).Where("slug = ?", slug).Take(&album).Error
	if err != nil {
		return Album{}, s.classify(opGetAlbum, err, zap.String("slug", slug))
	}
	return album, nil
}

// CountAlbumsWithCover reports how many albums reference the given cover.
func (s *Service) CountAlbumsWithCover(ctx context.Context, coverImage string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Album{}).Where("cover_image = ?", coverImage).Count(&count).Error
	if err != nil {
		s.logError(opCountAlbumsWithCover, "query_failed", err, zap.String("cover", coverImage))
		return 0, newServiceError(opCountAlbumsWithCover, "query_failed", err)
	}
	return count, nil
}

// CreateAlbum validates and stores a new album. The submitted songs become the
// tracklist with positions numbered from 1 in submission order.
func (s *Service) CreateAlbum(ctx context.Context, input AlbumInput) (Album, error) {
	if err := ValidateAlbum(input, s.Today()); err != nil {
		return Album{}, newServiceError(opCreateAlbum, "invalid_input", err)
	}

	var created Album
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkSongsExist(tx, input.SongIDs); err != nil {
			return err
		}
		if err := checkAlbumUnique(tx, input, 0); err != nil {
			return err
		}

		album := Album{
			Title:       input.Title,
			Description: input.Description,
			Artist:      input.Artist,
			Price:       input.Price,
			Format:      input.Format,
			ReleaseDate: civilDate(input.ReleaseDate),
			CoverImage:  input.CoverImage,
		}
		if strings.TrimSpace(album.CoverImage) == "" {
			album.CoverImage = DefaultCoverImage
		}
		if err := tx.Omit(clause.Associations).Create(&album).Error; err != nil {
			return err
		}

		for index, songID := range input.SongIDs {
			position := index + 1
			item := AlbumTracklistItem{AlbumID: album.ID, SongID: songID, Position: &position}
			if err := tx.Omit(clause.Associations).Create(&item).Error; err != nil {
				return err
			}
		}

		loaded, err := loadAlbum(tx, album.ID)
		if err != nil {
			return err
		}
		created = loaded
		return nil
	})
	if txErr != nil {
		return Album{}, s.classify(opCreateAlbum, txErr, zap.String("title", input.Title))
	}

	s.logger.Info("album created",
		zap.Uint64("album_id", created.ID),
		zap.String("slug", created.Slug),
		zap.Int("tracks", len(created.Tracklist)))
	return created, nil
}

// UpdateAlbum validates and stores new album fields. When SongIDs is non-nil the
// tracklist is replaced in the same transaction: links to dropped songs are
// removed, links for new songs are added without a position, and links that
// survive keep their position. An empty CoverImage keeps the stored cover.
func (s *Service) UpdateAlbum(ctx context.Context, albumID uint64, input AlbumInput) (Album, error) {
	if err := ValidateAlbum(input, s.Today()); err != nil {
		return Album{}, newServiceError(opUpdateAlbum, "invalid_input", err)
	}

	var updated Album
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var album Album
		if err := tx.Where("id = ?", albumID).Take(&album).Error; err != nil {
			return err
		}
		if err := checkSongsExist(tx, input.SongIDs); err != nil {
			return err
		}
		if err := checkAlbumUnique(tx, input, albumID); err != nil {
			return err
		}

		album.Title = input.Title
		album.Description = input.Description
		album.Artist = input.Artist
		album.Price = input.Price
		album.Format = input.Format
		album.ReleaseDate = civilDate(input.ReleaseDate)
		if strings.TrimSpace(input.CoverImage) != "" {
			album.CoverImage = input.CoverImage
		}
		if err := tx.Omit(clause.Associations).Save(&album).Error; err != nil {
			return err
		}

		if input.SongIDs != nil {
			if err := replaceTracklist(tx, albumID, input.SongIDs); err != nil {
				return err
			}
		}

		loaded, err := loadAlbum(tx, albumID)
		if err != nil {
			return err
		}
		updated = loaded
		return nil
	})
	if txErr != nil {
		return Album{}, s.classify(opUpdateAlbum, txErr, zap.Uint64("album_id", albumID))
	}

	s.logger.Info("album updated", zap.Uint64("album_id", updated.ID), zap.String("slug", updated.Slug))
	return updated, nil
}

// DeleteAlbum removes the album together with its tracklist items.
func (s *Service) DeleteAlbum(ctx context.Context, albumID uint64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("album_id = ?", albumID).Delete(&AlbumTracklistItem{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", albumID).Delete(&Album{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if txErr != nil {
		return s.classify(opDeleteAlbum, txErr, zap.Uint64("album_id", albumID))
	}
	s.logger.Info("album deleted", zap.Uint64("album_id", albumID))
	return nil
}

// ListSongs returns every song ordered by title.
func (s *Service) ListSongs(ctx context.Context) ([]Song, error) {
	var songs []Song
	if err := s.db.WithContext(ctx).Order("title ASC, id ASC").Find(&songs).Error; err != nil {
		s.logError(opListSongs, "query_failed", err)
		return nil, newServiceError(opListSongs, "query_failed", err)
	}
	return songs, nil
}

// GetSong loads one song.
func (s *Service) GetSong(ctx context.Context, songID uint64) (Song, error) {
	var song Song
	if err := s.db.WithContext(ctx).Where("id = ?", songID).Take(&song).Error; err != nil {
		return Song{}, s.classify(opGetSong, err, zap.Uint64("song_id", songID))
	}
	return song, nil
}

// CreateSong validates and stores a new song.
func (s *Service) CreateSong(ctx context.Context, input SongInput) (Song, error) {
	if err := ValidateSong(input); err != nil {
		return Song{}, newServiceError(opCreateSong, "invalid_input", err)
	}
	song := Song{Title: input.Title, Length: input.Length}
	if err := s.db.WithContext(ctx).Create(&song).Error; err != nil {
		return Song{}, s.classify(opCreateSong, err, zap.String("title", input.Title))
	}
	return song, nil
}

// UpdateSong validates and stores new song fields.
func (s *Service) UpdateSong(ctx context.Context, songID uint64, input SongInput) (Song, error) {
	if err := ValidateSong(input); err != nil {
		return Song{}, newServiceError(opUpdateSong, "invalid_input", err)
	}
	var song Song
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", songID).Take(&song).Error; err != nil {
			return err
		}
		song.Title = input.Title
		song.Length = input.Length
		return tx.Save(&song).Error
	})
	if txErr != nil {
		return Song{}, s.classify(opUpdateSong, txErr, zap.Uint64("song_id", songID))
	}
	return song, nil
}

// DeleteSong removes the song and every tracklist link to it.
func (s *Service) DeleteSong(ctx context.Context, songID uint64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("song_id = ?", songID).Delete(&AlbumTracklistItem{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", songID).Delete(&Song{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if txErr != nil {
		return s.classify(opDeleteSong, txErr, zap.Uint64("song_id", songID))
	}
	return nil
}

// ListTracklistItems returns tracklist items, optionally restricted to one album.
func (s *Service) ListTracklistItems(ctx context.Context, albumID *uint64) ([]AlbumTracklistItem, error) {
	query := s.db.WithContext(ctx).Preload("Album").Preload("Song")
	if albumID != nil {
		query = query.Where("album_id = ?", *albumID).Order(tracklistOrderByClause)
	} else {
		query = query.Order("album_id ASC, " + tracklistOrderByClause)
	}
	var items []AlbumTracklistItem
	if err := query.Find(&items).Error; err != nil {
		s.logError(opListTracklistItems, "query_failed", err)
		return nil, newServiceError(opListTracklistItems, "query_failed", err)
	}
	return items, nil
}

// GetTracklistItem loads one tracklist item with its album and song.
func (s *Service) GetTracklistItem(ctx context.Context, itemID uint64) (AlbumTracklistItem, error) {
	item, err := loadTracklistItem(s.db.WithContext(ctx), itemID)
	if err != nil {
		return AlbumTracklistItem{}, s.classify(opGetTracklistItem, err, zap.Uint64("item_id", itemID))
	}
	return item, nil
}

// CreateTracklistItem links a song to an album. A second link for the same pair fails.
func (s *Service) CreateTracklistItem(ctx context.Context, input TracklistItemInput) (AlbumTracklistItem, error) {
	if err := ValidateTracklistItem(input); err != nil {
		return AlbumTracklistItem{}, newServiceError(opCreateTracklistItem, "invalid_input", err)
	}
	var created AlbumTracklistItem
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := checkTracklistItem(tx, input, 0); err != nil {
			return err
		}
		item := AlbumTracklistItem{AlbumID: input.AlbumID, SongID: input.SongID, Position: input.Position}
		if err := tx.Omit(clause.Associations).Create(&item).Error; err != nil {
			return err
		}
		loaded, err := loadTracklistItem(tx, item.ID)
		if err != nil {
			return err
		}
		created = loaded
		return nil
	})
	if txErr != nil {
		return AlbumTracklistItem{}, s.classify(opCreateTracklistItem, txErr,
			zap.Uint64("album_id", input.AlbumID), zap.Uint64("song_id", input.SongID))
	}
	return created, nil
}

// UpdateTracklistItem repoints or renumbers an existing tracklist item.
func (s *Service) UpdateTracklistItem(ctx context.Context, itemID uint64, input TracklistItemInput) (AlbumTracklistItem, error) {
	if err := ValidateTracklistItem(input); err != nil {
		return AlbumTracklistItem{}, newServiceError(opUpdateTracklistItem, "invalid_input", err)
	}
	var updated AlbumTracklistItem
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var item AlbumTracklistItem
		if err := tx.Where("id = ?", itemID).Take(&item).Error; err != nil {
			return err
		}
		if err := checkTracklistItem(tx, input, itemID); err != nil {
			return err
		}
		item.AlbumID = input.AlbumID
		item.SongID = input.SongID
		item.Position = input.Position
		if err := tx.Omit(clause.Associations).Save(&item).Error; err != nil {
			return err
		}
		loaded, err := loadTracklistItem(tx, itemID)
		if err != nil {
			return err
		}
		updated = loaded
		return nil
	})
	if txErr != nil {
		return AlbumTracklistItem{}, s.classify(opUpdateTracklistItem, txErr, zap.Uint64("item_id", itemID))
	}
	return updated, nil
}

// DeleteTracklistItem removes one tracklist link.
func (s *Service) DeleteTracklistItem(ctx context.Context, itemID uint64) error {
	result := s.db.WithContext(ctx).Where("id = ?", itemID).Delete(&AlbumTracklistItem{})
	if result.Error != nil {
		return s.classify(opDeleteTracklistItem, result.Error, zap.Uint64("item_id", itemID))
	}
	if result.RowsAffected == 0 {
		return s.classify(opDeleteTracklistItem, gorm.ErrRecordNotFound, zap.Uint64("item_id", itemID))
	}
	return nil
}

func withTracklist(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Tracklist", func(tx *gorm.DB) *gorm.DB {
			return tx.Order(tracklistOrderByClause)
		}).
		Preload("Tracklist.Song")
}

func loadAlbum(db *gorm.DB, albumID uint64) (Album, error) {
	var album Album
	if err := withTracklist(db).Where("id = ?", albumID).Take(&album).Error; err != nil {
		return Album{}, err
	}
	return album, nil
}

func loadTracklistItem(db *gorm.DB, itemID uint64) (AlbumTracklistItem, error) {
	var item AlbumTracklistItem
	if err := db.Preload("Album").Preload("Song").Where("id = ?", itemID).Take(&item).Error; err != nil {
		return AlbumTracklistItem{}, err
	}
	return item, nil
}

// replaceTracklist applies the difference between the stored and requested song sets.
func replaceTracklist(tx *gorm.DB, albumID uint64, songIDs []uint64) error {
	var existing []AlbumTracklistItem
	if err := tx.Where("album_id = ?", albumID).Find(&existing).Error; err != nil {
		return err
	}
	wanted := make(map[uint64]struct{}, len(songIDs))
	for _, songID := range songIDs {
		wanted[songID] = struct{}{}
	}
	kept := make(map[uint64]struct{}, len(existing))
	var stale []uint64
	for _, item := range existing {
		if _, ok := wanted[item.SongID]; ok {
			kept[item.SongID] = struct{}{}
			continue
		}
		stale = append(stale, item.ID)
	}
	if len(stale) > 0 {
		if err := tx.Where("id IN ?", stale).Delete(&AlbumTracklistItem{}).Error; err != nil {
			return err
		}
	}
	for _, songID := range songIDs {
		if _, ok := kept[songID]; ok {
			continue
		}
		item := AlbumTracklistItem{AlbumID: albumID, SongID: songID}
		if err := tx.Omit(clause.Associations).Create(&item).Error; err != nil {
			return err
		}
		kept[songID] = struct{}{}
	}
	return nil
}

func checkSongsExist(tx *gorm.DB, songIDs []uint64) error {
	if len(songIDs) == 0 {
		return nil
	}
	var found []uint64
	if err := tx.Model(&Song{}).Where("id IN ?", songIDs).Pluck("id", &found).Error; err != nil {
		return err
	}
	present := make(map[uint64]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	verr := NewValidationError()
	for _, id := range songIDs {
		if _, ok := present[id]; !ok {
			verr.Add("tracklist", fmt.Sprintf(msgInvalidSongChoice, id))
		}
	}
	return verr.OrNil()
}

func checkAlbumUnique(tx *gorm.DB, input AlbumInput, excludeID uint64) error {
	verr := &ValidationError{conflict: true}
	var count int64
	if err := tx.Model(&Album{}).Where("title = ? AND id <> ?", input.Title, excludeID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		verr.Add("title", msgDuplicateTitle)
		return verr
	}
	if err := tx.Model(&Album{}).
		Where("slug = ? AND id <> ?", AlbumSlug(input.Title, input.Format), excludeID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		verr.Add("title", msgDuplicateSlug)
	}
	return verr.OrNil()
}

func checkTracklistItem(tx *gorm.DB, input TracklistItemInput, excludeID uint64) error {
	verr := NewValidationError()
	var count int64
	if err := tx.Model(&Album{}).Where("id = ?", input.AlbumID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		verr.Add("album", fmt.Sprintf("Invalid pk %q - object does not exist.", fmt.Sprint(input.AlbumID)))
	}
	if err := tx.Model(&Song{}).Where("id = ?", input.SongID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		verr.Add("song", fmt.Sprintf("Invalid pk %q - object does not exist.", fmt.Sprint(input.SongID)))
	}
	if verr.HasErrors() {
		return verr
	}
	if err := tx.Model(&AlbumTracklistItem{}).
		Where("album_id = ? AND song_id = ? AND id <> ?", input.AlbumID, input.SongID, excludeID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return &ValidationError{
			Fields:   map[string][]string{NonFieldErrorsKey: {msgDuplicateTrack}},
			conflict: true,
		}
	}
	return nil
}

// classify maps storage errors onto the catalog error taxonomy and wraps them.
func (s *Service) classify(operation string, err error, fields ...zap.Field) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return newServiceError(operation, "invalid_input", verr)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return newServiceError(operation, "not_found", ErrNotFound)
	case isUniqueViolation(err):
		conflict := &ValidationError{
			Fields:   map[string][]string{NonFieldErrorsKey: {msgDuplicateRecord}},
			conflict: true,
		}
		s.logger.Info("catalog uniqueness conflict",
			append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)...)
		return newServiceError(operation, "duplicate", conflict)
	default:
		s.logError(operation, "storage_failed", err, fields...)
		return newServiceError(operation, "storage_failed", err)
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("catalog service error", attrs...)
}
