package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Format enumerates the release formats an album can be sold in.
type Format string

const (
	// FormatDigital is a digital download.
	FormatDigital Format = "DD"
	// FormatCD is a compact disc.
	FormatCD Format = "CD"
	// FormatVinyl is a vinyl pressing.
	FormatVinyl Format = "VL"
)

const (
	// DefaultCoverImage is the placeholder reference stored when no cover is supplied.
	DefaultCoverImage = "covers/default.svg"

	maxTitleLength       = 512
	maxArtistLength      = 512
	minSongLengthSeconds = 10
	releaseWindowDays    = 3 * 365
	dateLayout           = "2006-01-02"
)

// ErrInvalidFormat indicates that a format code is not one of the supported codes.
var ErrInvalidFormat = errors.New("catalog: invalid format")

// Formats lists the supported formats in display order.
func Formats() []Format {
	return []Format{FormatDigital, FormatCD, FormatVinyl}
}

// ParseFormat validates a raw format code.
func ParseFormat(raw string) (Format, error) {
	format := Format(strings.ToUpper(strings.TrimSpace(raw)))
	switch format {
	case FormatDigital, FormatCD, FormatVinyl:
		return format, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, raw)
	}
}

// Label returns the human readable format name.
func (f Format) Label() string {
	switch f {
	case FormatDigital:
		return "Digital Download"
	case FormatCD:
		return "CD"
	case FormatVinyl:
		return "Vinyl"
	default:
		return string(f)
	}
}

// Album is a catalog release.
type Album struct {
	ID          uint64               `gorm:"column:id;primaryKey;autoIncrement"`
	Title       string               `gorm:"column:title;size:512;not null;uniqueIndex:idx_albums_title"`
	Description string               `gorm:"column:description;type:text;not null;default:''"`
	Artist      string               `gorm:"column:artist;size:512;not null;index:idx_albums_artist"`
	Price       Price                `gorm:"column:price_cents;not null"`
	Format      Format               `gorm:"column:format;size:2;not null"`
	ReleaseDate time.Time            `gorm:"column:release_date;not null"`
	CoverImage  string               `gorm:"column:cover_image;size:512;not null;default:'covers/default.svg'"`
	Slug        string               `gorm:"column:slug;size:600;not null;uniqueIndex:idx_albums_slug"`
	Tracklist   []AlbumTracklistItem `gorm:"foreignKey:AlbumID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Album) TableName() string {
	return "albums"
}

// BeforeSave recomputes the slug so it always tracks title and format.
func (a *Album) BeforeSave(_ *gorm.DB) error {
	a.Slug = AlbumSlug(a.Title, a.Format)
	return nil
}

func (a Album) String() string {
	return fmt.Sprintf("%s by %s", a.Title, a.Artist)
}

// Songs returns the songs of the loaded tracklist in track order.
func (a Album) Songs() []Song {
	songs := make([]Song, 0, len(a.Tracklist))
	for _, item := range a.Tracklist {
		if item.Song != nil {
			songs = append(songs, *item.Song)
		}
	}
	return songs
}

// TotalPlaytime sums the lengths in seconds of the loaded tracklist.
func (a Album) TotalPlaytime() int64 {
	var total int64
	for _, song := range a.Songs() {
		total += song.Length
	}
	return total
}

// ReleaseYear is the calendar year of the release date.
func (a Album) ReleaseYear() int {
	return a.ReleaseDate.Year()
}

// ReleaseDateString renders the release date as an ISO date.
func (a Album) ReleaseDateString() string {
	return a.ReleaseDate.Format(dateLayout)
}

// SongIDs returns the ids of the loaded tracklist in track order.
func (a Album) SongIDs() []uint64 {
	ids := make([]uint64, 0, len(a.Tracklist))
	for _, item := range a.Tracklist {
		ids = append(ids, item.SongID)
	}
	return ids
}

// IsOwnedBy reports whether the album is credited to the given display name.
func (a Album) IsOwnedBy(displayName string) bool {
	return a.Artist == displayName
}

// Song is a recording that can appear on several albums.
type Song struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Title     string    `gorm:"column:title;size:512;not null"`
	Length    int64     `gorm:"column:length_s;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Song) TableName() string {
	return "songs"
}

func (s Song) String() string {
	return s.Title
}

// AlbumTracklistItem links a song to an album at an optional track position.
type AlbumTracklistItem struct {
	ID       uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	AlbumID  uint64 `gorm:"column:album_id;not null;uniqueIndex:idx_tracklist_album_song,priority:1"`
	SongID   uint64 `gorm:"column:song_id;not null;uniqueIndex:idx_tracklist_album_song,priority:2;index:idx_tracklist_song"`
	Position *int   `gorm:"column:position"`
	Album    *Album `gorm:"foreignKey:AlbumID;constraint:OnDelete:CASCADE"`
	Song     *Song  `gorm:"foreignKey:SongID;constraint:OnDelete:CASCADE"`
}

// TableName provides the explicit table binding for GORM.
func (AlbumTracklistItem) TableName() string {
	return "album_tracklist_items"
}

func (i AlbumTracklistItem) String() string {
	songTitle := fmt.Sprintf("song %d", i.SongID)
	if i.Song != nil {
		songTitle = i.Song.Title
	}
	albumTitle := fmt.Sprintf("album %d", i.AlbumID)
	if i.Album != nil {
		albumTitle = i.Album.Title
	}
	position := "None"
	if i.Position != nil {
		position = fmt.Sprintf("%d", *i.Position)
	}
	return fmt.Sprintf("%s in %s (Track %s)", songTitle, albumTitle, position)
}

// Models lists every persisted catalog type for schema migration.
func Models() []interface{} {
	return []interface{}{&Album{}, &Song{}, &AlbumTracklistItem{}}
}

// ParseDate parses an ISO calendar date into a UTC midnight time.
func ParseDate(raw string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
}

// civilDate strips the time of day, keeping the calendar date of the clock reading.
func civilDate(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
