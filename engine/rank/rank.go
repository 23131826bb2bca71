// Package rank orders qualified deals by a weighted blend of economics,
// seller quality, urgency, and match confidence.
package rank

import "math"

// Signals are the normalised inputs to the ranking score.
type Signals struct {
	MarginPct       float64 // projected margin, percent
	Profit          float64 // projected profit, currency units
	SellerScore     float64 // 0..10, from feedback percentage
	ConditionScore  float64 // 0..10
	TimeUrgency     float64 // 0..10, auctions ending soon score high
	MatchConfidence float64 // 0..1 from the matcher and validator
	RarityHint      float64 // 0..10
	RiskPenalties   float64 // accumulated penalty points
}

// Weights for each signal. W2 applies to profit divided by 10 so that a
// ten-unit profit moves the score as much as one margin point.
type Weights struct {
	W1, W2, W3, W4, W5, W6, W7, W8 float64
}

// Presets maps a strategy name to its weights. Aggressive chases margin and
// urgency, Conservative leans on seller, condition, and confidence while
// punishing risk harder.
var Presets = map[string]Weights{
	"Aggressive":   {W1: 1.2, W2: 1.0, W3: 0.6, W4: 0.6, W5: 0.9, W6: 0.7, W7: 0.8, W8: 1.0},
	"Balanced":     {W1: 1.0, W2: 1.0, W3: 0.8, W4: 0.8, W5: 0.7, W6: 0.9, W7: 0.6, W8: 1.0},
	"Conservative": {W1: 0.8, W2: 0.9, W3: 1.0, W4: 1.0, W5: 0.4, W6: 1.1, W7: 0.4, W8: 1.2},
}

// DefaultPreset is used when the requested preset is unknown.
const DefaultPreset = "Balanced"

// Score computes the weighted deal score, rounded to 3 decimal places.
// Unknown presets fall back to Balanced.
func Score(s Signals, preset string) float64 {
	w, ok := Presets[preset]
	if !ok {
		w = Presets[DefaultPreset]
	}
	score := w.W1*s.MarginPct +
		w.W2*(s.Profit/10.0) +
		w.W3*s.SellerScore +
		w.W4*s.ConditionScore +
		w.W5*s.TimeUrgency +
		w.W6*s.MatchConfidence +
		w.W7*s.RarityHint -
		w.W8*s.RiskPenalties
	return math.Round(score*1000) / 1000
}
