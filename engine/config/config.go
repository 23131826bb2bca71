// Package config loads the discovery file: watched searches, per-format
// price models, and matcher settings.
package config

import (
	"fmt"
	"os"

	"github.com/cratedigger/dealwatch/engine/profit"
	"gopkg.in/yaml.v3"
)

// PriceModel is the per-format fee model as written in YAML. Fields are
// pointers so a per-search override can change one number without wiping
// the rest.
type PriceModel struct {
	FeePct          *float64 `yaml:"fee_pct"`
	FeeFixed        *float64 `yaml:"fee_fix_gbp"`
	OutboundPostage *float64 `yaml:"outbound_postage_gbp"`
	Packaging       *float64 `yaml:"mailer_cost_gbp"`
	MinProfit       *float64 `yaml:"min_profit_gbp"`
	MinMargin       *float64 `yaml:"min_margin_pct"`
}

// Defaults apply to every search unless overridden.
type Defaults struct {
	ExcludeTerms []string              `yaml:"exclude_terms"`
	PriceModel   map[string]PriceModel `yaml:"price_model"` // keyed by format
}

// Settings tune matching and loop behaviour.
type Settings struct {
	MinConfidence      float64 `yaml:"min_confidence_score"`
	EnableMatching     *bool   `yaml:"enable_auto_matching"`
	Preset             string  `yaml:"preset"`
	LoopMinutes        int     `yaml:"loop_minutes"`
	FeedMinIntervalS   float64 `yaml:"feed_min_interval_s"`
	CatalogMinInterval float64 `yaml:"catalog_min_interval_s"`
}

// Search is one watched query.
type Search struct {
	Name         string   `yaml:"name"`
	Query        string   `yaml:"query"`
	Formats      []string `yaml:"formats"`
	MaxPrice     float64  `yaml:"max_price"`
	ExcludeTerms []string `yaml:"exclude_terms"`
	// CatalogID pins the search to one known release, skipping matching.
	CatalogID    int64    `yaml:"catalog_id"`
	ListingTypes []string `yaml:"listing_types"`
	Categories   []string `yaml:"categories"`
	Country      string   `yaml:"country"`
	Limit        int      `yaml:"limit"`
	// PriceModel overrides individual fee fields per format for this
	// search only; unset fields fall through to the defaults.
	PriceModel map[string]PriceModel `yaml:"price_model"`
}

// Config is the full discovery file.
type Config struct {
	Defaults Defaults `yaml:"defaults"`
	Settings Settings `yaml:"settings"`
	Searches []Search `yaml:"searches"`
}

// Load reads, parses, defaults, and validates a discovery file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML, applies defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func f64(v float64) *float64 { return &v }

// ApplyDefaults fills unset fields with workable values.
func (c *Config) ApplyDefaults() {
	s := &c.Settings
	if s.MinConfidence <= 0 {
		s.MinConfidence = 0.75
	}
	if s.EnableMatching == nil {
		t := true
		s.EnableMatching = &t
	}
	if s.Preset == "" {
		s.Preset = "Balanced"
	}
	if s.LoopMinutes <= 0 {
		s.LoopMinutes = 5
	}
	if s.FeedMinIntervalS <= 0 {
		s.FeedMinIntervalS = 2.0
	}
	if s.CatalogMinInterval <= 0 {
		s.CatalogMinInterval = 1.2
	}

	for name, pm := range c.Defaults.PriceModel {
		if pm.FeePct == nil {
			pm.FeePct = f64(12.8)
		}
		if pm.FeeFixed == nil {
			pm.FeeFixed = f64(0.30)
		}
		if pm.OutboundPostage == nil {
			pm.OutboundPostage = f64(0)
		}
		if pm.Packaging == nil {
			pm.Packaging = f64(0)
		}
		if pm.MinProfit == nil {
			pm.MinProfit = f64(10)
		}
		if pm.MinMargin == nil {
			pm.MinMargin = f64(20)
		}
		c.Defaults.PriceModel[name] = pm
	}

	for i := range c.Searches {
		sr := &c.Searches[i]
		if len(sr.Formats) == 0 {
			sr.Formats = []string{"vinyl"}
		}
		if sr.MaxPrice <= 0 {
			sr.MaxPrice = 9999
		}
		if sr.Limit <= 0 {
			sr.Limit = 20
		}
	}
}

// Validate rejects configs the loop cannot run with.
func (c *Config) Validate() error {
	if len(c.Searches) == 0 {
		return fmt.Errorf("config: no searches defined")
	}
	seen := map[string]bool{}
	for _, s := range c.Searches {
		if s.Name == "" {
			return fmt.Errorf("config: search with empty name")
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate search name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Query == "" {
			return fmt.Errorf("config: search %q has no query", s.Name)
		}
		for _, fmtName := range s.Formats {
			if _, ok := c.Defaults.PriceModel[fmtName]; !ok {
				return fmt.Errorf("config: search %q uses format %q with no price model", s.Name, fmtName)
			}
		}
	}
	return nil
}

// merged returns p with ov's set fields layered on top.
func (p PriceModel) merged(ov PriceModel) PriceModel {
	if ov.FeePct != nil {
		p.FeePct = ov.FeePct
	}
	if ov.FeeFixed != nil {
		p.FeeFixed = ov.FeeFixed
	}
	if ov.OutboundPostage != nil {
		p.OutboundPostage = ov.OutboundPostage
	}
	if ov.Packaging != nil {
		p.Packaging = ov.Packaging
	}
	if ov.MinProfit != nil {
		p.MinProfit = ov.MinProfit
	}
	if ov.MinMargin != nil {
		p.MinMargin = ov.MinMargin
	}
	return p
}

// FeeModel resolves the price model for a search and format: the defaults
// model with the search's overrides layered on top. ApplyDefaults must have
// run; formats with no defaults model return the zero model and false.
func (c *Config) FeeModel(s Search, format string) (profit.FeeModel, bool) {
	pm, ok := c.Defaults.PriceModel[format]
	if !ok {
		return profit.FeeModel{}, false
	}
	if ov, ok := s.PriceModel[format]; ok {
		pm = pm.merged(ov)
	}
	return profit.FeeModel{
		FeePct:          *pm.FeePct,
		FeeFixed:        *pm.FeeFixed,
		OutboundPostage: *pm.OutboundPostage,
		Packaging:       *pm.Packaging,
		MinProfit:       *pm.MinProfit,
		MinMargin:       *pm.MinMargin,
	}, true
}

// Excludes returns the search's exclusion terms merged with the defaults.
func (c *Config) Excludes(s Search) []string {
	out := make([]string, 0, len(s.ExcludeTerms)+len(c.Defaults.ExcludeTerms))
	out = append(out, s.ExcludeTerms...)
	out = append(out, c.Defaults.ExcludeTerms...)
	return out
}
