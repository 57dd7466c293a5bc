package database

import (
	"errors"
	"time"

	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationBackfillAlbumSlugs         = "2024-03-02_backfill_album_slugs"
	migrationClearInvalidTrackPositions = "2024-03-09_clear_invalid_track_positions"
)

const slugBackfillBatchSize = 200

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillAlbumSlugs, apply: backfillAlbumSlugs},
		{name: migrationClearInvalidTrackPositions, apply: clearInvalidTrackPositions},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// backfillAlbumSlugs recomputes every stored slug from title and format.
func backfillAlbumSlugs(db *gorm.DB) error {
	var albums []catalog.Album
	result := db.Select("id", "title", "format", "slug").FindInBatches(&albums, slugBackfillBatchSize, func(_ *gorm.DB, _ int) error {
		for _, album := range albums {
			slug := catalog.AlbumSlug(album.Title, album.Format)
			if slug == album.Slug {
				continue
			}
			if err := db.Session(&gorm.Session{NewDB: true}).Model(&catalog.Album{}).Where("id = ?", album.ID).UpdateColumn("slug", slug).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return result.Error
}

// clearInvalidTrackPositions turns non-positive track positions into unset ones.
func clearInvalidTrackPositions(db *gorm.DB) error {
	return db.Model(&catalog.AlbumTracklistItem{}).
		Where("position IS NOT NULL AND position < 1").
		UpdateColumn("position", gorm.Expr("NULL")).Error
}
