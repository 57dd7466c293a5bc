package server

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/eshygn/MyMusicMaestro/internal/catalog"
	"github.com/go-playground/validator/v10"
)

const (
	msgFieldRequired  = "This field is required."
	msgInvalidDate    = "Enter a valid date."
	msgInvalidNumber  = "Enter a number."
	msgInvalidList    = "Enter a list of values."
	msgInvalidImage   = "Upload a valid image. The file you uploaded was either not an image or a corrupted image."
	msgUnreadableForm = "The submitted form could not be read. Please try again."
)

// albumForm is the submitted web album form.
type albumForm struct {
	Title       string   `form:"title" validate:"required,max=512"`
	Description string   `form:"description"`
	Artist      string   `form:"artist" validate:"required,max=512"`
	Price       string   `form:"price" validate:"required"`
	Format      string   `form:"format" validate:"required,oneof=DD CD VL"`
	ReleaseDate string   `form:"release_date" validate:"required,datetime=2006-01-02"`
	Tracklist   []uint64 `form:"tracklist" validate:"dive,gt=0"`
}

type loginForm struct {
	Username string `form:"username" json:"username" validate:"required,max=150"`
	Password string `form:"password" json:"password" validate:"required"`
	Next     string `form:"next" json:"-"`
}

func newFormValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, tag := range []string{"form", "json"} {
			name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return field.Name
	})
	return validate
}

// fieldErrors turns validator failures into per-field messages keyed by form name.
func fieldErrors(err error) *catalog.ValidationError {
	verr := catalog.NewValidationError()
	var failures validator.ValidationErrors
	if !errors.As(err, &failures) {
		verr.Add(catalog.NonFieldErrorsKey, err.Error())
		return verr
	}
	for _, failure := range failures {
		field := failure.Field()
		switch failure.Tag() {
		case "required":
			verr.Add(field, msgFieldRequired)
		case "max":
			verr.Add(field, fmt.Sprintf("Ensure this value has at most %s characters (it has %d).", failure.Param(), len([]rune(fmt.Sprint(failure.Value())))))
		case "oneof":
			verr.Add(field, fmt.Sprintf("Select a valid choice. %v is not one of the available choices.", failure.Value()))
		case "datetime":
			verr.Add(field, msgInvalidDate)
		case "gt":
			verr.Add(baseFieldName(failure.Namespace(), field), msgInvalidList)
		default:
			verr.Add(field, "Enter a valid value.")
		}
	}
	return verr
}

// baseFieldName maps "albumForm.tracklist[2]" onto "tracklist".
func baseFieldName(namespace, field string) string {
	if index := strings.IndexByte(field, '['); index >= 0 {
		return field[:index]
	}
	if dot := strings.LastIndexByte(namespace, '.'); dot >= 0 {
		namespace = namespace[dot+1:]
	}
	if index := strings.IndexByte(namespace, '['); index >= 0 {
		return namespace[:index]
	}
	return field
}

// albumInput converts a form that passed tag validation into a catalog input.
func (f albumForm) albumInput(verr *catalog.ValidationError) catalog.AlbumInput {
	input := catalog.AlbumInput{
		Title:       strings.TrimSpace(f.Title),
		Description: f.Description,
		Artist:      strings.TrimSpace(f.Artist),
		Format:      catalog.Format(f.Format),
		SongIDs:     f.Tracklist,
	}
	price, err := catalog.ParsePrice(f.Price)
	if err != nil {
		verr.Add("price", msgInvalidNumber)
	}
	input.Price = price
	releaseDate, err := catalog.ParseDate(f.ReleaseDate)
	if err != nil {
		verr.Add("release_date", msgInvalidDate)
	}
	input.ReleaseDate = releaseDate
	return input
}

func albumFormFrom(album catalog.Album) albumForm {
	return albumForm{
		Title:       album.Title,
		Description: album.Description,
		Artist:      album.Artist,
		Price:       album.Price.String(),
		Format:      string(album.Format),
		ReleaseDate: album.ReleaseDateString(),
		Tracklist:   album.SongIDs(),
	}
}

func selectedSongs(ids []uint64) map[uint64]bool {
	selected := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		selected[id] = true
	}
	return selected
}

// mergeFieldErrors copies every message of src into dst.
func mergeFieldErrors(dst, src *catalog.ValidationError) {
	if src == nil {
		return
	}
	for field, messages := range src.Fields {
		for _, message := range messages {
			dst.Add(field, message)
		}
	}
}
