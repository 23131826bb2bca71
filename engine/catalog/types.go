// Package catalog talks to the external release database: keyed and fuzzy
// search, full release fetches, and marketplace price suggestions.
package catalog

import "context"

// Entry is a release record as returned by the catalog. Search results and
// full release fetches share the shape; search results may leave some fields
// empty.
type Entry struct {
	ID       int64
	Title    string // usually "Artist - Album"
	Year     int
	Country  string
	CatNo    string
	Barcodes []string
	Formats  []string
	Labels   []string
}

// KeyType selects which exact-lookup key a search uses.
type KeyType int

const (
	KeyCatNo KeyType = iota
	KeyBarcode
)

func (k KeyType) String() string {
	switch k {
	case KeyCatNo:
		return "catno"
	case KeyBarcode:
		return "barcode"
	default:
		return "unknown"
	}
}

// TextQuery is a structured fuzzy search. Zero fields are omitted from the
// request.
type TextQuery struct {
	Artist  string
	Title   string
	Year    int
	Country string
}

// Searcher finds candidate releases for a set of identifiers.
type Searcher interface {
	SearchByKey(ctx context.Context, kind KeyType, value string) ([]Entry, error)
	SearchByText(ctx context.Context, q TextQuery) ([]Entry, error)
}

// Reader fetches one release by ID.
type Reader interface {
	Release(ctx context.Context, id int64) (Entry, error)
}

// Media condition grades as the catalog names them.
const (
	GradeMint     = "Mint (M)"
	GradeNearMint = "Near Mint (NM or M-)"
	GradeVGPlus   = "Very Good Plus (VG+)"
	GradeVG       = "Very Good (VG)"
	GradeGoodPlus = "Good Plus (G+)"
	GradeGood     = "Good (G)"
	GradeFair     = "Fair (F)"
	GradePoor     = "Poor (P)"
)

// GradeMultipliers scale a VG+ reference price to other media conditions.
var GradeMultipliers = map[string]float64{
	GradeMint:     1.4,
	GradeNearMint: 1.3,
	GradeVGPlus:   1.0, // baseline
	GradeVG:       0.7,
	GradeGoodPlus: 0.5,
	GradeGood:     0.3,
	GradeFair:     0.15,
	GradePoor:     0.1,
}

// AdjustForCondition scales a VG+ price to the given media grade, with the
// sleeve grade contributing a 20% weighted nudge. Unknown grades fall back
// to the VG multiplier. The result never drops below 1.0.
func AdjustForCondition(base float64, media, sleeve string) float64 {
	mm, ok := GradeMultipliers[media]
	if !ok {
		mm = GradeMultipliers[GradeVG]
	}
	adjusted := base * mm
	if sleeve != "" && sleeve != media {
		sm, ok := GradeMultipliers[sleeve]
		if !ok {
			sm = GradeMultipliers[GradeVG]
		}
		adjusted *= 1 + (sm-mm)*0.2
	}
	if adjusted < 1.0 {
		return 1.0
	}
	return adjusted
}

// PriceSuggestions maps a condition grade to a suggested market price.
type PriceSuggestions map[string]float64

// Basis returns the reference price used for profit projection: the Near
// Mint suggestion, falling back to VG+, else 0.
func (p PriceSuggestions) Basis() float64 {
	if v, ok := p[GradeNearMint]; ok && v > 0 {
		return v
	}
	if v, ok := p[GradeVGPlus]; ok && v > 0 {
		return v
	}
	return 0
}

// PriceSource fetches marketplace price suggestions for a release.
type PriceSource interface {
	PriceSuggestions(ctx context.Context, id int64) (PriceSuggestions, error)
}
