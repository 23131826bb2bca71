package watch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cratedigger/dealwatch/engine/catalog"
	"github.com/cratedigger/dealwatch/engine/config"
	"github.com/cratedigger/dealwatch/engine/extract"
	"github.com/cratedigger/dealwatch/engine/feed"
	"github.com/cratedigger/dealwatch/engine/match"
	"github.com/cratedigger/dealwatch/engine/profit"
	"github.com/cratedigger/dealwatch/engine/rank"
	"github.com/cratedigger/dealwatch/engine/validate"
	"github.com/cratedigger/dealwatch/pkg/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Matcher resolves listing identifiers to a release.
type Matcher interface {
	Match(ctx context.Context, id extract.Identifiers, title string) (match.Result, error)
}

// Deps are the loop's collaborators. Everything is an interface so tests
// can run the whole loop against fakes.
type Deps struct {
	Feed      feed.Client
	Catalog   catalog.Reader
	Prices    catalog.PriceSource
	Matcher   Matcher
	Validator *validate.Validator
	Store     StateStore
	Sink      Sink
	Logger    *slog.Logger
	Metrics   *metrics.Registry
	Now       func() time.Time
}

// Loop is the deal hunting scheduler.
type Loop struct {
	cfg       *config.Config
	deps      Deps
	tolerance profit.Tolerance
	tracer    trace.Tracer
}

// New creates a Loop. Nil Logger, Now, and Validator get defaults.
func New(cfg *config.Config, deps Deps) *Loop {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Validator == nil {
		deps.Validator = validate.New()
	}
	return &Loop{
		cfg:       cfg,
		deps:      deps,
		tolerance: profit.DefaultTolerance,
		tracer:    otel.Tracer("dealwatch/engine/watch"),
	}
}

// Run executes passes until ctx is cancelled, sleeping the configured
// interval between them. State is saved after every pass; cancellation is
// only honoured at pass boundaries and during the sleep, so a pass that is
// underway finishes cleanly.
func (l *Loop) Run(ctx context.Context) error {
	interval := time.Duration(l.cfg.Settings.LoopMinutes) * time.Minute
	for {
		if err := l.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.deps.Logger.Error("pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// RunOnce executes a single pass over all configured searches and persists
// state afterwards.
func (l *Loop) RunOnce(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "watch.pass")
	defer span.End()

	start := l.deps.Now()
	state, err := l.deps.Store.Load()
	if err != nil {
		l.deps.Logger.Warn("state load failed, starting fresh", "error", err)
	}

	l.deps.Logger.Info("scanning for new deals", "searches", len(l.cfg.Searches))

	for _, s := range l.cfg.Searches {
		if ctx.Err() != nil {
			break
		}
		// One broken search must not starve the rest of the pass.
		if err := l.runSearch(ctx, s, &state); err != nil {
			l.deps.Logger.Warn("search failed", "search", s.Name, "error", err)
			l.count("dealwatch_search_errors_total", "search", s.Name)
		}
	}

	state.LastRun = l.deps.Now().UTC()
	if err := l.deps.Store.Save(state); err != nil {
		return err
	}
	if l.deps.Metrics != nil {
		l.deps.Metrics.Histogram("dealwatch_pass_duration_seconds", "Duration of one watch pass.", nil).
			Observe(l.deps.Now().Sub(start).Seconds())
	}
	return ctx.Err()
}

// runSearch fetches the newest listings for one search, cuts off at the
// last listing seen in a previous pass, and pipelines the new ones.
func (l *Loop) runSearch(ctx context.Context, s config.Search, state *State) error {
	ctx, span := l.tracer.Start(ctx, "watch.search")
	defer span.End()

	listings, err := l.deps.Feed.Search(ctx, feed.SearchOpts{
		Query:        s.Query,
		Limit:        s.Limit,
		ListingTypes: s.ListingTypes,
		Sort:         "newlyListed",
		PriceCap:     s.MaxPrice,
		Country:      s.Country,
		Categories:   s.Categories,
	})
	if err != nil {
		return err
	}
	l.add("dealwatch_listings_seen_total", int64(len(listings)), "search", s.Name)

	excludes := l.cfg.Excludes(s)
	lastSeen := state.LastSeen[s.Name]

	var fresh []feed.Listing
	for _, it := range listings {
		title := strings.ToLower(it.Title)
		if containsAny(title, excludes) {
			continue
		}
		if it.Total > s.MaxPrice {
			continue
		}
		// Results are newest first; everything from the previous
		// boundary on has been handled already.
		if lastSeen != "" && it.ID == lastSeen {
			break
		}
		fresh = append(fresh, it)
	}

	l.deps.Logger.Info("search scanned", "search", s.Name,
		"total", len(listings), "new", len(fresh))

	if len(fresh) > 0 {
		state.LastSeen[s.Name] = fresh[0].ID
	}
	l.add("dealwatch_listings_new_total", int64(len(fresh)), "search", s.Name)

	for _, it := range fresh {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		for _, format := range s.Formats {
			l.processListing(ctx, s, format, it)
		}
	}
	return nil
}

// processListing runs one listing through match, validate, profit, and
// rank. Failures short-circuit quietly: most listings are not deals.
func (l *Loop) processListing(ctx context.Context, s config.Search, format string, it feed.Listing) {
	log := l.deps.Logger.With("search", s.Name, "listing", it.ID)
	ids := extract.Parse(it.Title)

	release, confidence, method, ok := l.resolveRelease(ctx, s, ids, it, log)
	if !ok {
		return
	}

	basis := l.referencePrice(ctx, release.ID, log)

	outcome := l.deps.Validator.Validate(it, release, basis)
	if !outcome.Accepted {
		log.Debug("listing rejected by validator", "reasons", outcome.Reasons)
		l.count("dealwatch_validation_rejects_total", "search", s.Name)
		return
	}
	confidence *= outcome.Confidence

	fees, ok := l.cfg.FeeModel(s, format)
	if !ok {
		log.Warn("no fee model for format", "format", format)
		return
	}
	proj := profit.Project(basis, it.Total, fees)
	verdict := profit.Assess(proj, fees, l.tolerance)
	if verdict == profit.Rejected {
		log.Debug("projection below thresholds",
			"profit", proj.Profit, "margin_pct", proj.MarginPct)
		return
	}

	now := l.deps.Now()
	signals := deriveSignals(it, ids, proj, confidence, outcome.Reasons, now)
	score := rank.Score(signals, l.cfg.Settings.Preset)

	rec := DealRecord{
		ID:           uuid.NewString(),
		ObservedAt:   now,
		Search:       s.Name,
		Format:       format,
		Verdict:      verdict.String(),
		ListingID:    it.ID,
		Title:        it.Title,
		URL:          it.URL,
		Price:        it.Price,
		Shipping:     it.Shipping,
		Total:        it.Total,
		Currency:     it.Currency,
		Seller:       it.Seller,
		Condition:    it.Condition,
		ReleaseID:    release.ID,
		ReleaseTitle: release.Title,
		Method:       method,
		Confidence:   confidence,
		Basis:        proj.Basis,
		Net:          proj.Net,
		Profit:       proj.Profit,
		MarginPct:    proj.MarginPct,
		RankScore:    score,
		Preset:       l.cfg.Settings.Preset,
		Warnings:     outcome.Reasons,
	}

	if verdict == profit.Qualified {
		l.count("dealwatch_deals_qualified_total", "search", s.Name)
	} else {
		l.count("dealwatch_deals_nearmiss_total", "search", s.Name)
	}
	log.Info("deal found", "verdict", rec.Verdict, "profit", rec.Profit,
		"margin_pct", rec.MarginPct, "score", rec.RankScore)

	if err := l.deps.Sink.Report(ctx, rec); err != nil {
		log.Warn("report failed", "error", err)
	}
}

// resolveRelease finds the catalog release for a listing: the pinned
// release for pinned searches, otherwise the matcher's best guess gated by
// the configured minimum confidence.
func (l *Loop) resolveRelease(ctx context.Context, s config.Search, ids extract.Identifiers,
	it feed.Listing, log *slog.Logger) (catalog.Entry, float64, string, bool) {

	if s.CatalogID != 0 {
		release, err := l.deps.Catalog.Release(ctx, s.CatalogID)
		if err != nil {
			log.Warn("pinned release fetch failed", "release_id", s.CatalogID, "error", err)
			return catalog.Entry{}, 0, "", false
		}
		return release, 1.0, "pinned", true
	}

	if l.cfg.Settings.EnableMatching != nil && !*l.cfg.Settings.EnableMatching {
		return catalog.Entry{}, 0, "", false
	}

	result, err := l.deps.Matcher.Match(ctx, ids, it.Title)
	if err != nil {
		if !errors.Is(err, match.ErrNoMatch) {
			log.Warn("match error", "error", err)
		}
		l.count("dealwatch_match_failures_total", "search", s.Name)
		return catalog.Entry{}, 0, "", false
	}
	if result.Confidence < l.cfg.Settings.MinConfidence {
		log.Debug("match confidence below threshold",
			"confidence", result.Confidence, "min", l.cfg.Settings.MinConfidence)
		l.count("dealwatch_match_failures_total", "search", s.Name)
		return catalog.Entry{}, 0, "", false
	}
	log.Info("matched listing", "release_id", result.Release.ID,
		"confidence", result.Confidence, "method", result.Method.String())
	return result.Release, result.Confidence, result.Method.String(), true
}

// referencePrice fetches price suggestions and derives the sale basis. No
// suggestions is not fatal: validation still runs, projection uses zero.
func (l *Loop) referencePrice(ctx context.Context, releaseID int64, log *slog.Logger) float64 {
	ps, err := l.deps.Prices.PriceSuggestions(ctx, releaseID)
	if err != nil {
		log.Debug("price suggestions unavailable", "release_id", releaseID, "error", err)
		return 0
	}
	return ps.Basis()
}

func (l *Loop) count(name string, labelKVs ...string) {
	l.add(name, 1, labelKVs...)
}

func (l *Loop) add(name string, n int64, labelKVs ...string) {
	if l.deps.Metrics == nil {
		return
	}
	l.deps.Metrics.Counter(metrics.WithLabels(name, labelKVs...), "").Add(n)
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if t != "" && strings.Contains(s, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
