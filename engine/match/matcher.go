// Package match resolves extracted listing identifiers to a catalog
// release: exact lookups by catalogue number or barcode first, then scored
// fuzzy search.
package match

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/cratedigger/dealwatch/engine/catalog"
	"github.com/cratedigger/dealwatch/engine/extract"
	"github.com/cratedigger/dealwatch/pkg/textsim"
)

// ErrNoMatch is returned when no candidate clears the acceptance threshold.
var ErrNoMatch = errors.New("match: no confident match")

// Method records how a match was made.
type Method int

const (
	MethodFuzzy Method = iota
	MethodExactCatNo
	MethodExactBarcode
)

func (m Method) String() string {
	switch m {
	case MethodExactCatNo:
		return "exact_catno"
	case MethodExactBarcode:
		return "exact_barcode"
	case MethodFuzzy:
		return "fuzzy"
	default:
		return "unknown"
	}
}

// Tunable thresholds. Package variables so operators can tighten or relax
// matching without a rebuild of the scoring logic.
var (
	// FuzzyAccept is the minimum fuzzy score a candidate needs.
	FuzzyAccept = 0.70
	// FuzzyCandidates caps how many search results get scored.
	FuzzyCandidates = 15
	// ExactArtistMin / ExactAlbumMin gate the exact-key fast path: a
	// catalogue number hit still needs the strings to roughly agree.
	ExactArtistMin = 0.80
	ExactAlbumMin  = 0.60
	// ComponentMin is the per-field similarity below which a candidate is
	// vetoed outright when both sides have the field.
	ComponentMin = 0.60
)

// Confidence assigned to exact-key matches.
const (
	catNoConfidence   = 0.95
	barcodeConfidence = 0.98
)

// Result is a resolved match.
type Result struct {
	Release    catalog.Entry
	Confidence float64
	Method     Method
}

// Matcher resolves identifiers against a catalog.
type Matcher struct {
	searcher catalog.Searcher
	reader   catalog.Reader
	logger   *slog.Logger
}

// New creates a Matcher.
func New(searcher catalog.Searcher, reader catalog.Reader, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{searcher: searcher, reader: reader, logger: logger}
}

// Match resolves the identifiers to a release. Exact keys are tried first;
// when they are absent or fail verification, fuzzy search takes over.
func (m *Matcher) Match(ctx context.Context, id extract.Identifiers, listingTitle string) (Result, error) {
	if id.HasStrongKey() {
		if r, ok := m.tryExact(ctx, id); ok {
			return r, nil
		}
	}
	return m.fuzzy(ctx, id, listingTitle)
}

// tryExact searches by catalogue number then barcode. A hit must survive
// key equality plus artist/album string gates before it is trusted.
func (m *Matcher) tryExact(ctx context.Context, id extract.Identifiers) (Result, bool) {
	if id.CatalogNumber != "" {
		entries, err := m.searcher.SearchByKey(ctx, catalog.KeyCatNo, id.CatalogNumber)
		if err != nil {
			m.logger.Warn("catno search failed", "catno", id.CatalogNumber, "error", err)
		}
		for _, e := range entries {
			if extract.NormalizeCatNo(e.CatNo) != id.CatalogNumber {
				continue
			}
			if !m.stringGates(id, e) {
				continue
			}
			if r, ok := m.resolve(ctx, e, catNoConfidence, MethodExactCatNo); ok {
				return r, true
			}
		}
	}

	if id.Barcode != "" {
		entries, err := m.searcher.SearchByKey(ctx, catalog.KeyBarcode, id.Barcode)
		if err != nil {
			m.logger.Warn("barcode search failed", "barcode", id.Barcode, "error", err)
		}
		for _, e := range entries {
			if !barcodeMatches(id.Barcode, e.Barcodes) {
				continue
			}
			if !m.stringGates(id, e) {
				continue
			}
			if r, ok := m.resolve(ctx, e, barcodeConfidence, MethodExactBarcode); ok {
				return r, true
			}
		}
	}
	return Result{}, false
}

func (m *Matcher) resolve(ctx context.Context, e catalog.Entry, conf float64, method Method) (Result, bool) {
	release, err := m.reader.Release(ctx, e.ID)
	if err != nil {
		m.logger.Warn("release fetch failed", "release_id", e.ID, "error", err)
		return Result{}, false
	}
	return Result{Release: release, Confidence: conf, Method: method}, true
}

// stringGates checks that the candidate's artist and album roughly agree
// with what the title said. A key collision on catalogue number alone is
// not enough.
func (m *Matcher) stringGates(id extract.Identifiers, e catalog.Entry) bool {
	artist, album := splitEntryTitle(e.Title)
	aSim := sim(id.Artist, artist)
	tSim := sim(id.Album, album)
	return aSim >= ExactArtistMin && tSim >= ExactAlbumMin
}

func barcodeMatches(want string, have []string) bool {
	for _, b := range have {
		if strings.ReplaceAll(b, " ", "") == want {
			return true
		}
	}
	return false
}

// fuzzy runs a structured search and scores the top candidates. Both title
// halves are required: with one missing, year/country/catno bonuses could
// carry an unrelated release past the threshold on their own.
func (m *Matcher) fuzzy(ctx context.Context, id extract.Identifiers, listingTitle string) (Result, error) {
	if id.Artist == "" || id.Album == "" {
		return Result{}, ErrNoMatch
	}
	entries, err := m.searcher.SearchByText(ctx, catalog.TextQuery{
		Artist:  id.Artist,
		Title:   id.Album,
		Year:    id.Year,
		Country: id.Country,
	})
	if err != nil {
		return Result{}, err
	}
	if len(entries) > FuzzyCandidates {
		entries = entries[:FuzzyCandidates]
	}

	type scored struct {
		entry catalog.Entry
		score float64
	}
	var accepted []scored
	for _, e := range entries {
		s := Score(id, listingTitle, e)
		if s >= FuzzyAccept {
			accepted = append(accepted, scored{e, s})
		}
	}
	if len(accepted) == 0 {
		return Result{}, ErrNoMatch
	}
	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].score > accepted[j].score
	})

	best := accepted[0]
	release, err := m.reader.Release(ctx, best.entry.ID)
	if err != nil {
		return Result{}, err
	}
	return Result{Release: release, Confidence: best.score, Method: MethodFuzzy}, nil
}

// Score rates one candidate against the extracted identifiers. Artist and
// album carry 0.30 each and act as vetoes: when both sides have the field
// and similarity is under ComponentMin the candidate scores exactly 0.
// Conflicting catalogue numbers also veto. Year, country, format, and
// catalogue number add smaller bonuses.
func Score(id extract.Identifiers, listingTitle string, e catalog.Entry) float64 {
	score := 0.0
	entryArtist, entryAlbum := splitEntryTitle(e.Title)

	// Artist (0.30, required when verifiable)
	switch {
	case id.Artist == "" || entryArtist == "":
		score += 0.05 // unverifiable, stay cautious
	default:
		s := sim(id.Artist, entryArtist)
		if s < ComponentMin {
			return 0.0
		}
		score += s * 0.30
	}

	// Album (0.30, required when verifiable)
	switch {
	case id.Album == "" || entryAlbum == "":
		score += 0.05
	default:
		s := sim(id.Album, entryAlbum)
		if s < ComponentMin {
			return 0.0
		}
		score += s * 0.30
	}

	// Year (up to 0.15)
	if id.Year > 0 && e.Year > 0 {
		diff := id.Year - e.Year
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff == 0:
			score += 0.15
		case diff == 1:
			score += 0.10
		case diff <= 2:
			score += 0.05
		}
	}

	// Country (up to 0.10). European pressings often land in the catalog
	// as "Europe", so UK/DE/FR listings get partial credit there.
	if id.Country != "" {
		switch {
		case id.Country == e.Country:
			score += 0.10
		case (e.Country == "Europe" || e.Country == "EU") &&
			(id.Country == "UK" || id.Country == "DE" || id.Country == "FR"):
			score += 0.05
		}
	}

	// Format (0.05)
	lowerTitle := strings.ToLower(listingTitle)
	if entryIsVinyl(e) && (strings.Contains(lowerTitle, "vinyl") || strings.Contains(lowerTitle, "lp")) {
		score += 0.05
	}

	// Catalogue number (0.10, veto on conflict)
	if id.CatalogNumber != "" && e.CatNo != "" {
		eNorm := id.CatalogNumber
		dNorm := extract.NormalizeCatNo(e.CatNo)
		if eNorm == dNorm || strings.Contains(dNorm, eNorm) || strings.Contains(eNorm, dNorm) {
			score += 0.10
		} else {
			return 0.0
		}
	}

	return score
}

func entryIsVinyl(e catalog.Entry) bool {
	for _, f := range e.Formats {
		lf := strings.ToLower(f)
		if strings.Contains(lf, "lp") || strings.Contains(lf, "vinyl") {
			return true
		}
	}
	return false
}

// splitEntryTitle splits a catalog "Artist - Album" title. Without a
// separator the whole title is treated as the album.
func splitEntryTitle(title string) (artist, album string) {
	for _, sep := range []string{" - ", " – ", " — "} {
		if before, after, ok := strings.Cut(title, sep); ok {
			return strings.TrimSpace(before), strings.TrimSpace(after)
		}
	}
	return "", strings.TrimSpace(title)
}

func sim(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	return textsim.Ratio(a, b)
}
