package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
defaults:
  exclude_terms: [bundle, "job lot"]
  price_model:
    vinyl:
      fee_pct: 12.8
      fee_fix_gbp: 0.30
      outbound_postage_gbp: 3.35
      mailer_cost_gbp: 1.20
      min_profit_gbp: 10
      min_margin_pct: 20
    cassette:
      outbound_postage_gbp: 1.50
settings:
  min_confidence_score: 0.8
  preset: Conservative
searches:
  - name: kraftwerk
    query: "kraftwerk vinyl lp"
    max_price: 60
    exclude_terms: [reissue]
    country: GB
    categories: [records]
  - name: dsotm-pinned
    query: "dark side of the moon shvl 804"
    catalog_id: 1873013
    formats: [vinyl]
    price_model:
      vinyl:
        fee_pct: 10
        min_profit_gbp: 5
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if c.Settings.MinConfidence != 0.8 {
		t.Errorf("MinConfidence = %v", c.Settings.MinConfidence)
	}
	if c.Settings.Preset != "Conservative" {
		t.Errorf("Preset = %q", c.Settings.Preset)
	}
	// Unset settings pick up defaults.
	if c.Settings.LoopMinutes != 5 {
		t.Errorf("LoopMinutes = %d, want 5", c.Settings.LoopMinutes)
	}
	if c.Settings.FeedMinIntervalS != 2.0 || c.Settings.CatalogMinInterval != 1.2 {
		t.Errorf("intervals = %v/%v, want 2.0/1.2",
			c.Settings.FeedMinIntervalS, c.Settings.CatalogMinInterval)
	}
	if c.Settings.EnableMatching == nil || !*c.Settings.EnableMatching {
		t.Error("EnableMatching should default to true")
	}

	if len(c.Searches) != 2 {
		t.Fatalf("got %d searches", len(c.Searches))
	}
	kw := c.Searches[0]
	if kw.Formats[0] != "vinyl" {
		t.Errorf("formats should default to vinyl, got %v", kw.Formats)
	}
	if kw.Limit != 20 {
		t.Errorf("Limit = %d, want default 20", kw.Limit)
	}
	if c.Searches[1].CatalogID != 1873013 {
		t.Errorf("CatalogID = %d", c.Searches[1].CatalogID)
	}
}

func TestFeeModel(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	kw := c.Searches[0]
	fm, ok := c.FeeModel(kw, "vinyl")
	if !ok {
		t.Fatal("vinyl fee model missing")
	}
	if fm.FeePct != 12.8 || fm.OutboundPostage != 3.35 || fm.MinProfit != 10 {
		t.Errorf("fee model = %+v", fm)
	}

	// Partial model gets defaults for the gaps.
	cm, ok := c.FeeModel(kw, "cassette")
	if !ok {
		t.Fatal("cassette fee model missing")
	}
	if cm.FeePct != 12.8 || cm.FeeFixed != 0.30 || cm.OutboundPostage != 1.50 {
		t.Errorf("cassette model = %+v", cm)
	}
	if cm.MinProfit != 10 || cm.MinMargin != 20 {
		t.Errorf("cassette thresholds = %v/%v", cm.MinProfit, cm.MinMargin)
	}

	if _, ok := c.FeeModel(kw, "betamax"); ok {
		t.Error("unknown format must report missing")
	}
}

func TestFeeModelPerSearchOverride(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// The pinned search overrides fee_pct and min_profit for vinyl; the
	// untouched fields come from the defaults model.
	fm, ok := c.FeeModel(c.Searches[1], "vinyl")
	if !ok {
		t.Fatal("vinyl fee model missing")
	}
	if fm.FeePct != 10 || fm.MinProfit != 5 {
		t.Errorf("overridden fields = pct %v / min profit %v, want 10 / 5", fm.FeePct, fm.MinProfit)
	}
	if fm.FeeFixed != 0.30 || fm.OutboundPostage != 3.35 || fm.Packaging != 1.20 || fm.MinMargin != 20 {
		t.Errorf("inherited fields = %+v", fm)
	}

	// Other searches must not see the override.
	base, ok := c.FeeModel(c.Searches[0], "vinyl")
	if !ok {
		t.Fatal("vinyl fee model missing")
	}
	if base.FeePct != 12.8 || base.MinProfit != 10 {
		t.Errorf("defaults leaked an override: %+v", base)
	}
}

func TestExcludesMerged(t *testing.T) {
	c, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := c.Excludes(c.Searches[0])
	want := []string{"reissue", "bundle", "job lot"}
	if len(got) != len(want) {
		t.Fatalf("excludes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("excludes[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no searches", `defaults: {price_model: {vinyl: {}}}`, "no searches"},
		{
			"missing query",
			`
defaults: {price_model: {vinyl: {}}}
searches: [{name: x}]`,
			"no query",
		},
		{
			"unknown format",
			`
defaults: {price_model: {vinyl: {}}}
searches: [{name: x, query: q, formats: [cassette]}]`,
			"no price model",
		},
		{
			"duplicate names",
			`
defaults: {price_model: {vinyl: {}}}
searches: [{name: x, query: q}, {name: x, query: r}]`,
			"duplicate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "discovery.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Searches) != 2 {
		t.Errorf("searches = %d", len(c.Searches))
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("missing file must error")
	}
}
