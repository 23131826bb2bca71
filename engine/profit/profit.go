// Package profit projects resale profit for a matched listing: reference
// price minus selling fees and fulfilment costs minus acquisition. Money
// math runs on decimals so fee percentages never pick up float drift.
package profit

import "github.com/shopspring/decimal"

// FeeModel describes the selling costs for one format.
type FeeModel struct {
	FeePct          float64 // marketplace fee percentage, e.g. 12.8
	FeeFixed        float64 // per-order fixed fee
	OutboundPostage float64
	Packaging       float64 // mailer cost
	MinProfit       float64 // qualification threshold
	MinMargin       float64 // qualification threshold, percent
}

// Projection is the computed economics of one potential flip.
type Projection struct {
	Basis     float64 // reference sale price
	Net       float64 // expected receipts after fees and fulfilment
	Profit    float64 // Net minus acquisition cost
	MarginPct float64 // Profit over acquisition, percent; 0 when acquisition <= 0
}

// Project computes the projection for a reference price and an acquisition
// cost (item price plus shipping). Net never goes below zero.
func Project(basis, acquisition float64, fees FeeModel) Projection {
	b := decimal.NewFromFloat(basis)
	pct := decimal.NewFromFloat(fees.FeePct).Div(decimal.NewFromInt(100))

	net := b.
		Sub(b.Mul(pct)).
		Sub(decimal.NewFromFloat(fees.FeeFixed)).
		Sub(decimal.NewFromFloat(fees.OutboundPostage)).
		Sub(decimal.NewFromFloat(fees.Packaging))
	if net.IsNegative() {
		net = decimal.Zero
	}

	acq := decimal.NewFromFloat(acquisition)
	prof := net.Sub(acq)

	margin := decimal.Zero
	if acq.IsPositive() {
		margin = prof.Div(acq).Mul(decimal.NewFromInt(100))
	}

	return Projection{
		Basis:     basis,
		Net:       net.InexactFloat64(),
		Profit:    prof.InexactFloat64(),
		MarginPct: margin.InexactFloat64(),
	}
}

// Verdict classifies a projection against the fee model's thresholds.
type Verdict int

const (
	Rejected Verdict = iota
	NearMiss
	Qualified
)

func (v Verdict) String() string {
	switch v {
	case Qualified:
		return "qualified"
	case NearMiss:
		return "near_miss"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Tolerance is the slack under the thresholds that still counts as a near
// miss worth surfacing.
type Tolerance struct {
	Profit float64
	Margin float64 // percentage points
}

// DefaultTolerance flags deals within 5 currency units of profit and 5
// margin points of qualifying.
var DefaultTolerance = Tolerance{Profit: 5, Margin: 5}

// Assess classifies the projection: Qualified when both thresholds are met,
// NearMiss when both fall within tolerance, Rejected otherwise.
func Assess(p Projection, fees FeeModel, tol Tolerance) Verdict {
	if p.Profit >= fees.MinProfit && p.MarginPct >= fees.MinMargin {
		return Qualified
	}
	if p.Profit >= fees.MinProfit-tol.Profit && p.MarginPct >= fees.MinMargin-tol.Margin {
		return NearMiss
	}
	return Rejected
}
