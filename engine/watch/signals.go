package watch

import (
	"strings"
	"time"

	"github.com/cratedigger/dealwatch/engine/extract"
	"github.com/cratedigger/dealwatch/engine/feed"
	"github.com/cratedigger/dealwatch/engine/profit"
	"github.com/cratedigger/dealwatch/engine/rank"
)

// conditionScores maps listing condition phrases to a 0..10 score. Checked
// in order so "very good" wins over "good".
var conditionScores = []struct {
	term  string
	score float64
}{
	{"sealed", 10},
	{"new", 9},
	{"like new", 9},
	{"near mint", 8.5},
	{"very good", 8},
	{"excellent", 8},
	{"good", 6},
	{"acceptable", 4},
	{"poor", 2},
}

func conditionScore(condition string) float64 {
	lc := strings.ToLower(condition)
	for _, cs := range conditionScores {
		if strings.Contains(lc, cs.term) {
			return cs.score
		}
	}
	return 5 // unknown, assume middling
}

// rarityScores reward pressings that hold value on resale.
var rarityScores = map[string]float64{
	"first_press":   8,
	"test_pressing": 8,
	"original":      6,
	"promo":         5,
	"reissue":       1,
}

func rarityScore(pressingNote string) float64 {
	if s, ok := rarityScores[pressingNote]; ok {
		return s
	}
	return 3
}

// urgencyScore rates how quickly the deal needs acting on. Auctions beat
// fixed price, and anything listed within the last hour gets a bump since
// underpriced fixed-price listings vanish fast.
func urgencyScore(l feed.Listing, now time.Time) float64 {
	score := 3.0
	for _, opt := range l.BuyingOptions {
		if opt == "AUCTION" {
			score = 7
			break
		}
	}
	if !l.ListedAt.IsZero() && now.Sub(l.ListedAt) < time.Hour {
		score += 2
	}
	if score > 10 {
		score = 10
	}
	return score
}

// riskPenalties accumulates one point per validation warning plus two for
// sellers under 95% feedback.
func riskPenalties(warnings []string, sellerFbPct float64) float64 {
	p := float64(len(warnings))
	if sellerFbPct > 0 && sellerFbPct < 95 {
		p += 2
	}
	return p
}

// deriveSignals assembles the ranking inputs for one deal.
func deriveSignals(l feed.Listing, id extract.Identifiers, proj profit.Projection,
	confidence float64, warnings []string, now time.Time) rank.Signals {
	return rank.Signals{
		MarginPct:       proj.MarginPct,
		Profit:          proj.Profit,
		SellerScore:     l.SellerFeedbackPct / 10,
		ConditionScore:  conditionScore(l.Condition),
		TimeUrgency:     urgencyScore(l, now),
		MatchConfidence: confidence,
		RarityHint:      rarityScore(id.PressingNote),
		RiskPenalties:   riskPenalties(warnings, l.SellerFeedbackPct),
	}
}
