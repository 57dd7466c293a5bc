package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// NonFieldErrorsKey collects validation messages that do not belong to one field.
const NonFieldErrorsKey = "non_field_errors"

// ErrValidation matches every *ValidationError through errors.Is.
var ErrValidation = errors.New("catalog: validation failed")

const (
	msgRequired          = "This field is required."
	msgReleaseWindow     = "Release date cannot be more than 3 years in the future"
	msgDuplicateTitle    = "Album with this Title already exists."
	msgDuplicateSlug     = "Album with this Slug already exists."
	msgDuplicateTrack    = "Album tracklist item with this Album and Song already exists."
	msgDuplicateRecord   = "A record with these values already exists."
	msgInvalidPosition   = "Ensure this value is greater than or equal to 1."
	msgPriceTooLow       = "Ensure this value is greater than or equal to 0."
	msgPriceTooHigh      = "Ensure this value is less than or equal to 999.99."
	msgSongTooShort      = "Ensure this value is greater than or equal to 10."
	msgEmptySlug         = "Title must contain at least one letter or digit."
	msgInvalidSongChoice = "Select a valid choice. %d is not one of the available choices."
	msgRepeatedSong      = "Song %d is listed more than once."
)

// ValidationError carries per-field messages for a rejected write.
type ValidationError struct {
	Fields map[string][]string

	conflict bool
}

// NewValidationError returns an empty error ready to collect messages.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: map[string][]string{}}
}

// Add records a message against a field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = map[string][]string{}
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors reports whether any message was recorded.
func (e *ValidationError) HasErrors() bool {
	return e != nil && len(e.Fields) > 0
}

// OrNil returns the error when messages were recorded and nil otherwise.
func (e *ValidationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, strings.Join(e.Fields[field], " ")))
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrValidation) hold for validation failures, and
// errors.Is(err, ErrDuplicate) hold for uniqueness conflicts.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || (e.conflict && target == ErrDuplicate)
}

// AlbumInput is the caller-controlled part of an album. The slug is never part of it.
type AlbumInput struct {
	Title       string
	Description string
	Artist      string
	Price       Price
	Format      Format
	ReleaseDate time.Time
	CoverImage  string
	SongIDs     []uint64
}

// SongInput is the caller-controlled part of a song.
type SongInput struct {
	Title  string
	Length int64
}

// TracklistItemInput links an album and a song.
type TracklistItemInput struct {
	AlbumID  uint64
	SongID   uint64
	Position *int
}

// ReleaseDateAllowed reports whether the release date lies no more than
// 3*365 days after today. Leap days are not added. The boundary day itself
// is allowed.
func ReleaseDateAllowed(releaseDate, today time.Time) bool {
	limit := civilDate(today).AddDate(0, 0, releaseWindowDays)
	return !civilDate(releaseDate).After(limit)
}

// ValidateAlbum runs the full album validation against the given day.
func ValidateAlbum(input AlbumInput, today time.Time) error {
	verr := NewValidationError()
	checkText(verr, "title", input.Title, maxTitleLength, true)
	checkText(verr, "artist", input.Artist, maxArtistLength, true)
	if strings.TrimSpace(input.Title) != "" && AlbumSlug(input.Title, input.Format) == "" {
		verr.Add("title", msgEmptySlug)
	}
	if input.Price < minPriceCents {
		verr.Add("price", msgPriceTooLow)
	} else if input.Price > maxPriceCents {
		verr.Add("price", msgPriceTooHigh)
	}
	if _, err := ParseFormat(string(input.Format)); err != nil {
		verr.Add("format", fmt.Sprintf("Select a valid choice. %s is not one of the available choices.", input.Format))
	}
	if input.ReleaseDate.IsZero() {
		verr.Add("release_date", msgRequired)
	} else if !ReleaseDateAllowed(input.ReleaseDate, today) {
		verr.Add("release_date", msgReleaseWindow)
	}
	seen := make(map[uint64]struct{}, len(input.SongIDs))
	for _, songID := range input.SongIDs {
		if _, ok := seen[songID]; ok {
			verr.Add("tracklist", fmt.Sprintf(msgRepeatedSong, songID))
			continue
		}
		seen[songID] = struct{}{}
	}
	return verr.OrNil()
}

// ValidateSong enforces the song title and minimum length.
func ValidateSong(input SongInput) error {
	verr := NewValidationError()
	checkText(verr, "title", input.Title, maxTitleLength, true)
	if input.Length < minSongLengthSeconds {
		verr.Add("length", msgSongTooShort)
	}
	return verr.OrNil()
}

// ValidateTracklistItem enforces the optional positive position.
func ValidateTracklistItem(input TracklistItemInput) error {
	verr := NewValidationError()
	if input.AlbumID == 0 {
		verr.Add("album", msgRequired)
	}
	if input.SongID == 0 {
		verr.Add("song", msgRequired)
	}
	if input.Position != nil && *input.Position < 1 {
		verr.Add("position", msgInvalidPosition)
	}
	return verr.OrNil()
}

func checkText(verr *ValidationError, field, value string, maxLength int, required bool) {
	if required && strings.TrimSpace(value) == "" {
		verr.Add(field, msgRequired)
		return
	}
	if count := utf8.RuneCountInString(value); count > maxLength {
		verr.Add(field, fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", maxLength, count))
	}
}
