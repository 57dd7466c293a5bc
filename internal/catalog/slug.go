package catalog

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	slugDisallowed = regexp.MustCompile(`[^\w\s-]`)
	slugSeparators = regexp.MustCompile(`[-\s]+`)
)

// Slugify folds the value to ASCII, lowercases it and joins words with hyphens.
func Slugify(value string) string {
	decomposed := norm.NFKD.String(value)
	var ascii strings.Builder
	ascii.Grow(len(decomposed))
	for _, r := range decomposed {
		if r <= unicode.MaxASCII {
			ascii.WriteRune(r)
		}
	}
	cleaned := slugDisallowed.ReplaceAllString(strings.ToLower(ascii.String()), "")
	cleaned = strings.TrimSpace(cleaned)
	return strings.Trim(slugSeparators.ReplaceAllString(cleaned, "-"), "-_")
}

// AlbumSlug derives the stored slug of an album from its title and format.
func AlbumSlug(title string, format Format) string {
	return Slugify(fmt.Sprintf("%s-%s", title, format))
}
