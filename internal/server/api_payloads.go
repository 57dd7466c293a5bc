package server

import (
	"encoding/json"
	"strings"

	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/eshygn/MyMusicMaestro/internal/covers"
)

const msgInvalidJSONDate = "Date has wrong format. Use one of these formats instead: YYYY-MM-DD."

type songSummaryResponse struct {
	ID     uint64 `json:"id"`
	Title  string `json:"title"`
	Length int64  `json:"length"`
}

type albumResponse struct {
	ID            uint64                `json:"id"`
	Title         string                `json:"title"`
	Description   string                `json:"description"`
	Artist        string                `json:"artist"`
	Price         catalog.Price         `json:"price"`
	Format        catalog.Format        `json:"format"`
	ReleaseDate   string                `json:"release_date"`
	CoverImage    string                `json:"cover_image"`
	Slug          string                `json:"slug"`
	Songs         []songSummaryResponse `json:"songs"`
	TotalPlaytime int64                 `json:"total_playtime"`
}

func newAlbumResponse(album catalog.Album) albumResponse {
	songs := album.Songs()
	summaries := make([]songSummaryResponse, 0, len(songs))
	for _, song := range songs {
		summaries = append(summaries, newSongResponse(song))
	}
	return albumResponse{
		ID:            album.ID,
		Title:         album.Title,
		Description:   album.Description,
		Artist:        album.Artist,
		Price:         album.Price,
		Format:        album.Format,
		ReleaseDate:   album.ReleaseDateString(),
		CoverImage:    covers.URL(album.CoverImage),
		Slug:          album.Slug,
		Songs:         summaries,
		TotalPlaytime: album.TotalPlaytime(),
	}
}

func newSongResponse(song catalog.Song) songSummaryResponse {
	return songSummaryResponse{ID: song.ID, Title: song.Title, Length: song.Length}
}

type tracklistItemResponse struct {
	ID       uint64 `json:"id"`
	Album    uint64 `json:"album"`
	Song     uint64 `json:"song"`
	Position *int   `json:"position"`
}

func newTracklistItemResponse(item catalog.AlbumTracklistItem) tracklistItemResponse {
	return tracklistItemResponse{ID: item.ID, Album: item.AlbumID, Song: item.SongID, Position: item.Position}
}

// albumPayload is a JSON album write. Absent fields are nil so PATCH can
// merge onto the stored album. The tracklist is write-only.
type albumPayload struct {
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Artist      *string         `json:"artist"`
	Price       json.RawMessage `json:"price"`
	Format      *string         `json:"format"`
	ReleaseDate *string         `json:"release_date"`
	CoverImage  *string         `json:"cover_image"`
	Tracklist   *[]uint64       `json:"tracklist"`
}

// apply merges the payload onto base. With full set, missing required fields
// are reported instead of being taken from base.
func (p albumPayload) apply(base catalog.AlbumInput, full bool, verr *catalog.ValidationError) catalog.AlbumInput {
	input := base
	input.SongIDs = nil
	input.CoverImage = ""

	if p.Title != nil {
		input.Title = strings.TrimSpace(*p.Title)
	} else if full {
		verr.Add("title", msgFieldRequired)
	}
	if p.Description != nil {
		input.Description = *p.Description
	}
	if p.Artist != nil {
		input.Artist = strings.TrimSpace(*p.Artist)
	}
	if len(p.Price) > 0 && string(p.Price) != "null" {
		var price catalog.Price
		if err := price.UnmarshalJSON(p.Price); err != nil {
			verr.Add("price", "A valid number is required.")
		}
		input.Price = price
	} else if full {
		verr.Add("price", msgFieldRequired)
	}
	if p.Format != nil {
		format, err := catalog.ParseFormat(*p.Format)
		if err != nil {
			format = catalog.Format(*p.Format)
		}
		input.Format = format
	} else if full {
		verr.Add("format", msgFieldRequired)
	}
	if p.ReleaseDate != nil {
		releaseDate, err := catalog.ParseDate(*p.ReleaseDate)
		if err != nil {
			verr.Add("release_date", msgInvalidJSONDate)
		}
		input.ReleaseDate = releaseDate
	} else if full {
		verr.Add("release_date", msgFieldRequired)
	}
	if p.CoverImage != nil {
		input.CoverImage = covers.Reference(*p.CoverImage)
	}
	if p.Tracklist != nil {
		input.SongIDs = append([]uint64{}, (*p.Tracklist)...)
	}
	return input
}

func albumInputFrom(album catalog.Album) catalog.AlbumInput {
	return catalog.AlbumInput{
		Title:       album.Title,
		Description: album.Description,
		Artist:      album.Artist,
		Price:       album.Price,
		Format:      album.Format,
		ReleaseDate: album.ReleaseDate,
	}
}

type songPayload struct {
	Title  *string `json:"title"`
	Length *int64  `json:"length"`
}

func (p songPayload) apply(base catalog.SongInput, full bool, verr *catalog.ValidationError) catalog.SongInput {
	input := base
	if p.Title != nil {
		input.Title = strings.TrimSpace(*p.Title)
	} else if full {
		verr.Add("title", msgFieldRequired)
	}
	if p.Length != nil {
		input.Length = *p.Length
	} else if full {
		verr.Add("length", msgFieldRequired)
	}
	return input
}

type tracklistItemPayload struct {
	Album    *uint64         `json:"album"`
	Song     *uint64         `json:"song"`
	Position json.RawMessage `json:"position"`
}

func (p tracklistItemPayload) apply(base catalog.TracklistItemInput, full bool, verr *catalog.ValidationError) catalog.TracklistItemInput {
	input := base
	if p.Album != nil {
		input.AlbumID = *p.Album
	} else if full {
		verr.Add("album", msgFieldRequired)
	}
	if p.Song != nil {
		input.SongID = *p.Song
	} else if full {
		verr.Add("song", msgFieldRequired)
	}
	switch {
	case len(p.Position) == 0:
		if full {
			input.Position = nil
		}
	case string(p.Position) == "null":
		input.Position = nil
	default:
		var position int
		if err := json.Unmarshal(p.Position, &position); err != nil {
			verr.Add("position", "A valid integer is required.")
		} else {
			input.Position = &position
		}
	}
	return input
}
