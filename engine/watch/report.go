package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cratedigger/dealwatch/pkg/natsutil"
	"github.com/fatih/color"
	"github.com/nats-io/nats.go"
)

// DealRecord is a reportable deal: the listing, the matched release, the
// economics, and the ranking.
type DealRecord struct {
	ID         string    `json:"id"`
	ObservedAt time.Time `json:"observed_at"`
	Search     string    `json:"search"`
	Format     string    `json:"format"`
	Verdict    string    `json:"verdict"` // qualified or near_miss

	ListingID string  `json:"listing_id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	Price     float64 `json:"price"`
	Shipping  float64 `json:"shipping"`
	Total     float64 `json:"total"`
	Currency  string  `json:"currency"`
	Seller    string  `json:"seller"`
	Condition string  `json:"condition"`

	ReleaseID    int64   `json:"release_id"`
	ReleaseTitle string  `json:"release_title"`
	Method       string  `json:"method"` // pinned, exact_catno, exact_barcode, fuzzy
	Confidence   float64 `json:"confidence"`

	Basis     float64 `json:"basis"`
	Net       float64 `json:"net"`
	Profit    float64 `json:"profit"`
	MarginPct float64 `json:"margin_pct"`

	RankScore float64  `json:"rank_score"`
	Preset    string   `json:"preset"`
	Warnings  []string `json:"warnings,omitempty"`
}

// Sink receives reportable deals.
type Sink interface {
	Report(ctx context.Context, rec DealRecord) error
}

var (
	qualifiedColor = color.New(color.FgGreen, color.Bold)
	nearMissColor  = color.New(color.FgYellow)
)

// LogSink writes one human-readable line per deal, green for qualified and
// yellow for near misses.
type LogSink struct {
	Out io.Writer
}

// Report writes the deal line.
func (s *LogSink) Report(_ context.Context, rec DealRecord) error {
	line := fmt.Sprintf("%s | %s | [%s] £%.2f (%.1f%%) on £%.2f | basis £%.2f | score %.3f | %s | %s",
		rec.ObservedAt.UTC().Format(time.RFC3339),
		rec.Search, rec.Format,
		rec.Profit, rec.MarginPct, rec.Total, rec.Basis,
		rec.RankScore, rec.Title, rec.URL)

	c := qualifiedColor
	if rec.Verdict != "qualified" {
		c = nearMissColor
	}
	_, err := c.Fprintln(s.Out, line)
	return err
}

// NATSSink publishes deals as JSON messages, qualified and near-miss on
// separate subjects so downstream consumers can subscribe selectively.
type NATSSink struct {
	Conn          *nats.Conn
	SubjectPrefix string // e.g. "dealwatch.deals"
}

// Report publishes the deal.
func (s *NATSSink) Report(ctx context.Context, rec DealRecord) error {
	suffix := "qualified"
	if rec.Verdict != "qualified" {
		suffix = "nearmiss"
	}
	return natsutil.Publish(ctx, s.Conn, s.SubjectPrefix+"."+suffix, rec)
}

// MultiSink fans a deal out to several sinks. All sinks get the deal even
// when one fails; errors are joined.
type MultiSink []Sink

// Report fans out.
func (m MultiSink) Report(ctx context.Context, rec DealRecord) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
