package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/cratedigger/dealwatch/engine/catalog"
	"github.com/cratedigger/dealwatch/engine/config"
	"github.com/cratedigger/dealwatch/engine/extract"
	"github.com/cratedigger/dealwatch/engine/feed"
	"github.com/cratedigger/dealwatch/engine/match"
)

const loopYAML = `
defaults:
  exclude_terms: [bundle]
  price_model:
    vinyl:
      fee_pct: 12.8
      fee_fix_gbp: 0.30
      outbound_postage_gbp: 3.35
      mailer_cost_gbp: 1.20
searches:
  - name: kraftwerk
    query: kraftwerk autobahn
    max_price: 60
`

type fakeFeed struct {
	listings map[string][]feed.Listing
	errs     map[string]error
	calls    int
}

func (f *fakeFeed) Search(_ context.Context, opts feed.SearchOpts) ([]feed.Listing, error) {
	f.calls++
	if err := f.errs[opts.Query]; err != nil {
		return nil, err
	}
	return f.listings[opts.Query], nil
}

type fakeMatcher struct {
	result match.Result
	err    error
	calls  int
}

func (f *fakeMatcher) Match(context.Context, extract.Identifiers, string) (match.Result, error) {
	f.calls++
	return f.result, f.err
}

type fakeReader struct {
	entries map[int64]catalog.Entry
}

func (f *fakeReader) Release(_ context.Context, id int64) (catalog.Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return catalog.Entry{}, catalog.ErrNotFound
	}
	return e, nil
}

type fakePrices struct {
	prices map[int64]catalog.PriceSuggestions
}

func (f *fakePrices) PriceSuggestions(_ context.Context, id int64) (catalog.PriceSuggestions, error) {
	p, ok := f.prices[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

type memStore struct {
	st    State
	saves int
}

func (m *memStore) Load() (State, error) {
	if m.st.LastSeen == nil {
		m.st = freshState()
	}
	return m.st, nil
}

func (m *memStore) Save(st State) error {
	m.st = st
	m.saves++
	return nil
}

type captureSink struct {
	recs []DealRecord
}

func (c *captureSink) Report(_ context.Context, rec DealRecord) error {
	c.recs = append(c.recs, rec)
	return nil
}

var autobahn = catalog.Entry{
	ID:      1873013,
	Title:   "Kraftwerk - Autobahn",
	Year:    1974,
	Country: "Germany",
	Formats: []string{"Vinyl"},
}

func autobahnListing(id string, total float64) feed.Listing {
	return feed.Listing{
		ID:                id,
		Title:             "Kraftwerk - Autobahn Vinyl LP",
		Price:             total - 3,
		Shipping:          3,
		Total:             total,
		Currency:          "GBP",
		URL:               "https://example.com/" + id,
		Seller:            "wax_cellar",
		SellerFeedbackPct: 99.6,
		Condition:         "Used - Very Good",
		BuyingOptions:     []string{"FIXED_PRICE"},
	}
}

type loopHarness struct {
	loop    *Loop
	feed    *fakeFeed
	matcher *fakeMatcher
	store   *memStore
	sink    *captureSink
}

func newHarness(t *testing.T, yaml string, listings []feed.Listing) *loopHarness {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	h := &loopHarness{
		feed: &fakeFeed{listings: map[string][]feed.Listing{
			"kraftwerk autobahn": listings,
		}},
		matcher: &fakeMatcher{result: match.Result{
			Release:    autobahn,
			Confidence: 0.9,
			Method:     match.MethodFuzzy,
		}},
		store: &memStore{},
		sink:  &captureSink{},
	}
	h.loop = New(cfg, Deps{
		Feed:    h.feed,
		Catalog: &fakeReader{entries: map[int64]catalog.Entry{autobahn.ID: autobahn}},
		Prices: &fakePrices{prices: map[int64]catalog.PriceSuggestions{
			autobahn.ID: {catalog.GradeNearMint: 50},
		}},
		Matcher: h.matcher,
		Store:   h.store,
		Sink:    h.sink,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now: func() time.Time {
			return time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
		},
	})
	return h
}

func TestRunOnceReportsQualifiedDeal(t *testing.T) {
	h := newHarness(t, loopYAML, []feed.Listing{autobahnListing("item-1", 25)})

	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.sink.recs) != 1 {
		t.Fatalf("got %d reports, want 1", len(h.sink.recs))
	}
	rec := h.sink.recs[0]
	if rec.Verdict != "qualified" {
		t.Errorf("Verdict = %q", rec.Verdict)
	}
	if rec.Search != "kraftwerk" || rec.ListingID != "item-1" {
		t.Errorf("wrong listing attribution: %+v", rec)
	}
	if rec.ReleaseID != autobahn.ID || rec.Method != "fuzzy" {
		t.Errorf("ReleaseID/Method = %d/%q", rec.ReleaseID, rec.Method)
	}
	// Basis 50, acquisition 25: net 38.75, profit 13.75, margin 55%.
	if rec.Basis != 50 || rec.Profit != 13.75 || rec.MarginPct != 55 {
		t.Errorf("economics = basis %v profit %v margin %v", rec.Basis, rec.Profit, rec.MarginPct)
	}
	if rec.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", rec.Confidence)
	}
	if rec.RankScore <= 0 {
		t.Errorf("RankScore = %v", rec.RankScore)
	}
	if rec.ID == "" || rec.ObservedAt.IsZero() {
		t.Error("record missing ID or timestamp")
	}

	if h.store.saves != 1 {
		t.Errorf("saves = %d, want 1", h.store.saves)
	}
	if h.store.st.LastSeen["kraftwerk"] != "item-1" {
		t.Errorf("LastSeen = %v", h.store.st.LastSeen)
	}
	if h.store.st.LastRun.IsZero() {
		t.Error("LastRun not recorded")
	}
}

func TestSecondPassIsIdempotent(t *testing.T) {
	h := newHarness(t, loopYAML, []feed.Listing{autobahnListing("item-1", 25)})

	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if len(h.sink.recs) != 1 {
		t.Errorf("second pass re-reported: %d records", len(h.sink.recs))
	}
	if h.store.st.LastSeen["kraftwerk"] != "item-1" {
		t.Errorf("boundary moved: %v", h.store.st.LastSeen)
	}
}

func TestNewListingsStopAtBoundary(t *testing.T) {
	h := newHarness(t, loopYAML, []feed.Listing{autobahnListing("item-1", 25)})
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// A newer listing arrives ahead of the boundary.
	h.feed.listings["kraftwerk autobahn"] = []feed.Listing{
		autobahnListing("item-2", 24),
		autobahnListing("item-1", 25),
	}
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if len(h.sink.recs) != 2 {
		t.Fatalf("got %d reports, want 2", len(h.sink.recs))
	}
	if h.sink.recs[1].ListingID != "item-2" {
		t.Errorf("second report = %q, want item-2", h.sink.recs[1].ListingID)
	}
	if h.store.st.LastSeen["kraftwerk"] != "item-2" {
		t.Errorf("boundary = %v, want item-2", h.store.st.LastSeen)
	}
}

func TestExcludeTermsAndPriceCapFilter(t *testing.T) {
	bundle := autobahnListing("item-bundle", 25)
	bundle.Title = "Kraftwerk Vinyl Bundle Job Lot"
	dear := autobahnListing("item-dear", 75) // above max_price 60

	h := newHarness(t, loopYAML, []feed.Listing{bundle, dear, autobahnListing("item-ok", 25)})
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.sink.recs) != 1 || h.sink.recs[0].ListingID != "item-ok" {
		t.Fatalf("reports = %+v, want only item-ok", h.sink.recs)
	}
	// Filtered listings must not become the dedupe boundary.
	if h.store.st.LastSeen["kraftwerk"] != "item-ok" {
		t.Errorf("LastSeen = %v", h.store.st.LastSeen)
	}
}

func TestNearMissVerdict(t *testing.T) {
	// Basis 50, acquisition 30: profit 8.75 misses the 10 threshold but is
	// within the 5 tolerance band.
	h := newHarness(t, loopYAML, []feed.Listing{autobahnListing("item-1", 30)})
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.sink.recs) != 1 {
		t.Fatalf("got %d reports", len(h.sink.recs))
	}
	if h.sink.recs[0].Verdict != "near_miss" {
		t.Errorf("Verdict = %q, want near_miss", h.sink.recs[0].Verdict)
	}
}

func TestPerSearchFeeOverrideApplied(t *testing.T) {
	// Same economics as the qualified case (profit 13.75), but this search
	// raises its own profit floor above that, demoting the deal.
	yaml := loopYAML + `    price_model:
      vinyl:
        min_profit_gbp: 14
`
	h := newHarness(t, yaml, []feed.Listing{autobahnListing("item-1", 25)})
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.sink.recs) != 1 {
		t.Fatalf("got %d reports", len(h.sink.recs))
	}
	if h.sink.recs[0].Verdict != "near_miss" {
		t.Errorf("Verdict = %q, want near_miss under the override", h.sink.recs[0].Verdict)
	}
}

func TestUnprofitableListingNotReported(t *testing.T) {
	// Basis 50, acquisition 35: profit 3.75 falls outside tolerance.
	h := newHarness(t, loopYAML, []feed.Listing{autobahnListing("item-1", 35)})
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.sink.recs) != 0 {
		t.Errorf("reports = %+v, want none", h.sink.recs)
	}
}

func TestPinnedSearchSkipsMatcher(t *testing.T) {
	yaml := loopYAML + `    catalog_id: 1873013
`
	h := newHarness(t, yaml, []feed.Listing{autobahnListing("item-1", 25)})
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if h.matcher.calls != 0 {
		t.Errorf("matcher called %d times on pinned search", h.matcher.calls)
	}
	if len(h.sink.recs) != 1 {
		t.Fatalf("got %d reports", len(h.sink.recs))
	}
	rec := h.sink.recs[0]
	if rec.Method != "pinned" || rec.Confidence != 1.0 {
		t.Errorf("Method/Confidence = %q/%v", rec.Method, rec.Confidence)
	}
}

func TestLowConfidenceMatchDropped(t *testing.T) {
	h := newHarness(t, loopYAML, []feed.Listing{autobahnListing("item-1", 25)})
	h.matcher.result.Confidence = 0.5 // below default 0.75 gate

	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.sink.recs) != 0 {
		t.Errorf("reports = %+v, want none", h.sink.recs)
	}
}

func TestNoMatchDropped(t *testing.T) {
	h := newHarness(t, loopYAML, []feed.Listing{autobahnListing("item-1", 25)})
	h.matcher.err = match.ErrNoMatch

	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.sink.recs) != 0 {
		t.Errorf("reports = %+v, want none", h.sink.recs)
	}
	// The listing was still consumed: next pass must not retry it forever.
	if h.store.st.LastSeen["kraftwerk"] != "item-1" {
		t.Errorf("LastSeen = %v", h.store.st.LastSeen)
	}
}

func TestSearchErrorDoesNotStopPass(t *testing.T) {
	yaml := loopYAML + `  - name: bowie
    query: bowie low
    max_price: 60
`
	h := newHarness(t, yaml, []feed.Listing{autobahnListing("item-1", 25)})
	h.feed.errs = map[string]error{"kraftwerk autobahn": errors.New("feed down")}
	h.feed.listings["bowie low"] = []feed.Listing{autobahnListing("item-2", 25)}

	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.sink.recs) != 1 || h.sink.recs[0].Search != "bowie" {
		t.Fatalf("reports = %+v, want one from bowie", h.sink.recs)
	}
	if h.store.saves != 1 {
		t.Errorf("state not saved after partial pass")
	}
}

func TestMatchingDisabled(t *testing.T) {
	yaml := `
defaults:
  price_model:
    vinyl: {}
settings:
  enable_auto_matching: false
searches:
  - name: kraftwerk
    query: kraftwerk autobahn
    max_price: 60
`
	h := newHarness(t, yaml, []feed.Listing{autobahnListing("item-1", 25)})
	if err := h.loop.RunOnce(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if h.matcher.calls != 0 {
		t.Errorf("matcher called with matching disabled")
	}
	if len(h.sink.recs) != 0 {
		t.Errorf("reports = %+v, want none", h.sink.recs)
	}
}
