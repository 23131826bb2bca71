// Package validate guards against false-positive matches: bundles, wrong
// formats, title drift, and implausible pricing. A match that looks right
// on identifiers can still be a job lot of twelve records.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cratedigger/dealwatch/engine/catalog"
	"github.com/cratedigger/dealwatch/engine/feed"
	"github.com/cratedigger/dealwatch/pkg/textsim"
)

// Outcome is the validation verdict for one listing/release pair.
type Outcome struct {
	Accepted bool
	// Confidence is a 0..1 multiplier applied to the match confidence.
	// Zero when rejected.
	Confidence float64
	// Reasons holds REJECT and WARNING messages accumulated along the way.
	Reasons []string
}

var bundleKeywords = []string{
	"lot", "bundle", "job lot", "collection",
	"box set", "boxset", "box-set",
}

// Only unambiguous multi-item markers; "and" appears in too many album titles.
var multiItemIndicators = []string{"&", " + "}

var damagedKeywords = []string{
	"spares", "repair", "case only", "inlay only",
	"cover only", "for parts", "not working", "damaged",
}

type formatFamily struct {
	family      string
	listingTerm []string
	catalogTerm string
}

// formatFamilies maps a family to the listing-title terms that imply it.
// Checked in order; the first family with a hit wins.
var formatFamilies = []formatFamily{
	{"cassette", []string{"cassette", "tape", "mc"}, "Cassette"},
	{"vinyl", []string{"vinyl", "lp", `12"`, "12 inch", `7"`, "7 inch", "record"}, "Vinyl"},
	{"cd", []string{"cd", "compact disc"}, "CD"},
}

// Validator runs the four-phase listing check.
type Validator struct {
	// TitleThreshold is the minimum cleaned-title similarity, default 0.70.
	TitleThreshold float64
}

// New creates a Validator with default thresholds.
func New() *Validator {
	return &Validator{TitleThreshold: 0.70}
}

// Validate checks a listing against the matched release. refPrice is the
// market reference price (0 disables the price sanity phase).
func (v *Validator) Validate(listing feed.Listing, release catalog.Entry, refPrice float64) Outcome {
	threshold := v.TitleThreshold
	if threshold <= 0 {
		threshold = 0.70
	}

	var reasons []string
	confidence := 1.0
	title := strings.ToLower(listing.Title)

	// Phase 1: prefilter obvious non-matches.
	if reason := prefilter(title); reason != "" {
		return Outcome{Reasons: append(reasons, reason)}
	}

	// Phase 2: format family.
	family := detectFamily(title)
	if family == nil {
		reasons = append(reasons, "WARNING: could not detect format from listing title")
		confidence *= 0.8
	} else if !releaseHasFormat(release, family.catalogTerm) {
		reasons = append(reasons, fmt.Sprintf(
			"REJECT: format mismatch: listing %q vs release %v", family.family, release.Formats))
		return Outcome{Reasons: reasons}
	}

	// Phase 3: cleaned-title similarity.
	listingClean := cleanTitle(title)
	releaseClean := cleanTitle(strings.ToLower(release.Title))
	sim := textsim.Ratio(listingClean, releaseClean)
	if sim < threshold {
		reasons = append(reasons,
			fmt.Sprintf("REJECT: title similarity too low: %.1f%% (threshold %.0f%%)", sim*100, threshold*100),
			fmt.Sprintf("  listing: %q", listingClean),
			fmt.Sprintf("  release: %q", releaseClean),
		)
		return Outcome{Reasons: reasons}
	}
	confidence *= sim

	// Phase 4: price sanity. Warns and dampens, never rejects.
	if warning := priceSanity(listing.Price, refPrice); warning != "" {
		reasons = append(reasons, "WARNING: "+warning)
		confidence *= 0.9
	}

	return Outcome{Accepted: true, Confidence: confidence, Reasons: reasons}
}

func prefilter(title string) string {
	for _, kw := range bundleKeywords {
		if strings.Contains(title, kw) {
			return fmt.Sprintf("REJECT: bundle indicator: %q", kw)
		}
	}
	for _, ind := range multiItemIndicators {
		if strings.Contains(title, ind) {
			return fmt.Sprintf("REJECT: multiple items indicated: %q", ind)
		}
	}
	for _, kw := range damagedKeywords {
		if strings.Contains(title, kw) {
			return fmt.Sprintf("REJECT: damaged/incomplete indicator: %q", kw)
		}
	}
	return ""
}

func detectFamily(title string) *formatFamily {
	for i := range formatFamilies {
		for _, term := range formatFamilies[i].listingTerm {
			if strings.Contains(title, term) {
				return &formatFamilies[i]
			}
		}
	}
	return nil
}

func releaseHasFormat(release catalog.Entry, term string) bool {
	for _, f := range release.Formats {
		if strings.Contains(strings.ToLower(f), strings.ToLower(term)) {
			return true
		}
	}
	return false
}

// priceSanity flags listings priced far off the reference. A hugely cheap
// listing is more often a single from the box set than a bargain.
func priceSanity(price, ref float64) string {
	if ref <= 0 {
		return ""
	}
	ratio := price / ref
	switch {
	case ratio < 0.10:
		return fmt.Sprintf("suspiciously cheap: %.2f vs %.2f (%.0f%%)", price, ref, ratio*100)
	case ratio > 1.50:
		return fmt.Sprintf("overpriced: %.2f vs %.2f (%.0f%%)", price, ref, ratio*100)
	case ratio < 0.50:
		return fmt.Sprintf("very cheap: %.2f vs %.2f (%.0f%%), verify item", price, ref, ratio*100)
	}
	return ""
}

var (
	digitTokenRe = regexp.MustCompile(`\b[a-z]*\d+[a-z]*\b`)
	yearTokenRe  = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	punctRe      = regexp.MustCompile(`[^\w\s]`)
	noiseWordRe  = regexp.MustCompile(`\b(vinyl|lp|cassette|tape|cd|album|inch|record|the|a|an)\b`)
)

// cleanTitle normalises a title for similarity comparison: drops format and
// stop words, numeric tokens, years, and punctuation. Both sides of the
// comparison go through the same wringer.
func cleanTitle(title string) string {
	t := strings.ToLower(title)
	t = strings.ReplaceAll(t, `12"`, " ")
	t = strings.ReplaceAll(t, `7"`, " ")
	t = noiseWordRe.ReplaceAllString(t, " ")
	t = digitTokenRe.ReplaceAllString(t, "")
	t = yearTokenRe.ReplaceAllString(t, "")
	t = punctRe.ReplaceAllString(t, " ")
	return strings.Join(strings.Fields(t), " ")
}
