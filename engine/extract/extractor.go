// Package extract pulls structured release identifiers out of free-form
// marketplace listing titles using regex patterns and small lookup tables.
// No external dependencies.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// Identifiers holds everything recognisable in a listing title. Zero values
// mean the field was not found.
type Identifiers struct {
	Artist        string
	Album         string
	Year          int    // 0 if not found
	Country       string // two-letter code, e.g. "UK", "DE"
	Label         string
	CatalogNumber string // normalised: spaces and hyphens stripped
	Barcode       string // 12-13 digits
	PressingNote  string // first_press, original, reissue, promo, test_pressing
}

// HasArtistAlbum reports whether both title halves were recovered.
func (id Identifiers) HasArtistAlbum() bool {
	return id.Artist != "" && id.Album != ""
}

// HasStrongKey reports whether an exact-lookup key (catalogue number or
// barcode) is present.
func (id Identifiers) HasStrongKey() bool {
	return id.CatalogNumber != "" || id.Barcode != ""
}

var yearRe = regexp.MustCompile(`\b(19[5-9]\d|20[0-2]\d)\b`)

// countryPatterns is ordered: the first pattern that hits wins, so "UK"
// outranks "EU" in a title that mentions both.
var countryPatterns = []struct {
	code string
	re   *regexp.Regexp
}{
	{"UK", regexp.MustCompile(`(?i)\b(UK|United Kingdom|British)\b`)},
	{"US", regexp.MustCompile(`(?i)\b(US|USA|American)\b`)},
	{"EU", regexp.MustCompile(`(?i)\b(EU|Europe|European)\b`)},
	{"DE", regexp.MustCompile(`(?i)\b(German|Germany|Deutsche)\b`)},
	{"FR", regexp.MustCompile(`(?i)\b(French|France)\b`)},
	{"JP", regexp.MustCompile(`(?i)\b(Japan|Japanese)\b`)},
	{"CA", regexp.MustCompile(`(?i)\b(Canada|Canadian)\b`)},
	{"AU", regexp.MustCompile(`(?i)\b(Australia|Australian)\b`)},
}

// Catalogue number shapes, tried in order:
// letter-prefixed (SHVL 804, PCS7169) then the digit-letter European style
// (1C 062-82 135, 2C 068-04914).
var catNoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b([A-Z]{2,4}[- ]?\d{3,6})\b`),
	regexp.MustCompile(`\b(\d[A-Z] ?\d{3}[- ]?\d{2,3} ?\d{3})\b`),
}

var barcodeRe = regexp.MustCompile(`\b(\d{12,13})\b`)

var knownLabels = []string{
	"EMI", "Columbia", "Parlophone", "Capitol", "Atlantic", "Warner",
	"Polydor", "Island", "Virgin", "Apple", "RCA", "Decca", "Mercury",
}

var labelRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(knownLabels))
	for i, l := range knownLabels {
		res[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(l) + `\b`)
	}
	return res
}()

// pressingPatterns is ordered so the most specific note wins.
var pressingPatterns = []struct {
	note string
	re   *regexp.Regexp
}{
	{"first_press", regexp.MustCompile(`(?i)\b(1st|first)\s+(press|pressing|edition)\b`)},
	{"original", regexp.MustCompile(`(?i)\b(original|orig)\s+(press|pressing)?\b`)},
	{"reissue", regexp.MustCompile(`(?i)\b(reissue|remaster|re-issue)\b`)},
	{"promo", regexp.MustCompile(`(?i)\b(promo|promotional|white label)\b`)},
	{"test_pressing", regexp.MustCompile(`(?i)\b(test pressing|TP)\b`)},
}

// noiseWords are format/condition tokens stripped before splitting the title
// into artist and album.
var noiseWords = []string{
	"Vinyl", "LP", `12"`, `7"`, "Record", "Album",
	"NEW", "SEALED", "MINT", "VG", "EX",
}

var noiseRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(noiseWords))
	for i, w := range noiseWords {
		res[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(w) + `\b`)
	}
	return res
}()

// separators tried in order when splitting artist from album.
var separators = []string{" - ", " – ", " — ", ":"}

var albumTrimRe = regexp.MustCompile(`\s*[\(\[]`)

// Parse extracts all identifiers from a listing title.
func Parse(title string) Identifiers {
	var id Identifiers

	id.Artist, id.Album = parseArtistAlbum(title)

	if m := yearRe.FindStringSubmatch(title); m != nil {
		id.Year, _ = strconv.Atoi(m[1])
	}

	for _, cp := range countryPatterns {
		if cp.re.MatchString(title) {
			id.Country = cp.code
			break
		}
	}

	for _, re := range catNoPatterns {
		if m := re.FindStringSubmatch(title); m != nil {
			id.CatalogNumber = NormalizeCatNo(m[1])
			break
		}
	}

	if m := barcodeRe.FindStringSubmatch(title); m != nil {
		id.Barcode = m[1]
	}

	for i, re := range labelRes {
		if re.MatchString(title) {
			id.Label = knownLabels[i]
			break
		}
	}

	for _, pp := range pressingPatterns {
		if pp.re.MatchString(title) {
			id.PressingNote = pp.note
			break
		}
	}

	return id
}

// NormalizeCatNo strips spaces and hyphens and uppercases, so that
// "1C 062-82 135" and "1c 062 82 135" compare equal.
func NormalizeCatNo(s string) string {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	return strings.ToUpper(s)
}

// parseArtistAlbum splits a cleaned title on the first recognised separator.
// The album half is truncated at the first parenthesis, bracket, or year
// token, since titles routinely append pressing details after the album name.
func parseArtistAlbum(title string) (artist, album string) {
	clean := title
	for _, re := range noiseRes {
		clean = re.ReplaceAllString(clean, "")
	}
	// Decorations regexes cannot word-bound on.
	clean = strings.ReplaceAll(clean, "***", "")
	clean = strings.ReplaceAll(clean, "\U0001F525", "")

	for _, sep := range separators {
		before, after, ok := strings.Cut(clean, sep)
		if !ok {
			continue
		}
		a := strings.TrimSpace(before)
		b := strings.TrimSpace(after)

		if loc := albumTrimRe.FindStringIndex(b); loc != nil {
			b = strings.TrimSpace(b[:loc[0]])
		}
		if loc := yearRe.FindStringIndex(b); loc != nil {
			b = strings.TrimSpace(b[:loc[0]])
		}

		if len(a) > 1 && len(b) > 1 {
			return a, b
		}
	}
	return "", ""
}
