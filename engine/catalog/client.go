package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cratedigger/dealwatch/pkg/fn"
	"github.com/cratedigger/dealwatch/pkg/resilience"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultBaseURL = "https://api.discogs.com"

// ErrNotFound is returned for releases the catalog does not know.
var ErrNotFound = errors.New("catalog: release not found")

// statusError carries a non-2xx response status so the retry predicate can
// distinguish transient failures from hard ones. retryAfter holds the
// server's Retry-After header when present.
type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("catalog: http %d: %s", e.status, e.body)
}

func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	// Network-level errors (timeouts, resets) are worth another attempt.
	var ue *url.Error
	return errors.As(err, &ue)
}

// waitHint surfaces the server's Retry-After so the retry loop honors it
// instead of its own backoff.
func waitHint(err error) (time.Duration, bool) {
	var se *statusError
	if errors.As(err, &se) && se.retryAfter > 0 {
		return se.retryAfter, true
	}
	return 0, false
}

// ClientOpts configures the catalog client.
type ClientOpts struct {
	BaseURL   string
	Token     string
	UserAgent string
	Currency  string // curr_abbr for release fetches, default GBP
	VinylOnly bool   // constrain searches to the vinyl format
	// MinInterval spaces successive requests, default 1.2s.
	MinInterval time.Duration
	HTTPClient  *http.Client
	Retry       fn.RetryOpts
}

// Client is a rate-limited catalog API client with retry, a circuit
// breaker, and an in-process release cache. Implements Searcher, Reader,
// and PriceSource.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	currency  string
	vinylOnly bool

	httpClient *http.Client
	throttle   *resilience.KeyedThrottle
	breaker    *resilience.Breaker
	retry      fn.RetryOpts

	releases sync.Map // int64 -> Entry
	prices   sync.Map // int64 -> PriceSuggestions
}

// NewClient creates a catalog client.
func NewClient(opts ClientOpts) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "dealwatch/1.0"
	}
	if opts.Currency == "" {
		opts.Currency = "GBP"
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 1200 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.RetryOpts{
			MaxAttempts: 5,
			InitialWait: 1200 * time.Millisecond,
			MaxWait:     30 * time.Second,
			Jitter:      true,
		}
	}
	opts.Retry.ShouldRetry = transient
	opts.Retry.WaitHint = waitHint

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		userAgent:  opts.UserAgent,
		currency:   opts.Currency,
		vinylOnly:  opts.VinylOnly,
		httpClient: opts.HTTPClient,
		throttle:   resilience.NewKeyedThrottle(opts.MinInterval),
		breaker:    resilience.NewBreaker(resilience.DefaultBreakerOpts),
		retry:      opts.Retry,
	}
}

// get runs one throttled, retried, breaker-guarded request. endpoint names
// the throttle bucket so search traffic does not starve release fetches.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, out any) error {
	result := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]byte] {
		if err := c.throttle.Wait(ctx, endpoint); err != nil {
			return fn.Err[[]byte](err)
		}
		var body []byte
		var reqErr error
		err := c.breaker.Call(ctx, func(ctx context.Context) error {
			body, reqErr = c.do(ctx, path, params)
			// Hard failures (404s, 4xx) say nothing about the service's
			// health and must not trip the breaker.
			if reqErr != nil && !transient(reqErr) {
				return nil
			}
			return reqErr
		})
		if err == nil {
			err = reqErr
		}
		return fn.FromPair(body, err)
	})
	body, err := result.Unwrap()
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *Client) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Discogs token="+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		se := &statusError{status: resp.StatusCode, body: truncate(string(body), 200)}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			se.retryAfter = time.Duration(secs) * time.Second
		}
		return nil, se
	}
	return body, nil
}

// searchResult is a single /database/search hit. Year comes back as a
// string in search results.
type searchResult struct {
	ID      int64    `json:"id"`
	Title   string   `json:"title"`
	Year    string   `json:"year"`
	Country string   `json:"country"`
	CatNo   string   `json:"catno"`
	Barcode []string `json:"barcode"`
	Format  []string `json:"format"`
	Label   []string `json:"label"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
}

func (r searchResult) entry() Entry {
	year, _ := strconv.Atoi(r.Year)
	return Entry{
		ID:       r.ID,
		Title:    r.Title,
		Year:     year,
		Country:  r.Country,
		CatNo:    r.CatNo,
		Barcodes: r.Barcode,
		Formats:  r.Format,
		Labels:   r.Label,
	}
}

func (c *Client) search(ctx context.Context, params url.Values) ([]Entry, error) {
	params.Set("type", "release")
	if c.vinylOnly {
		params.Set("format", "Vinyl")
	}
	var sr searchResponse
	if err := c.get(ctx, "search", "/database/search", params, &sr); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(sr.Results))
	for _, r := range sr.Results {
		entries = append(entries, r.entry())
	}
	return entries, nil
}

// SearchByKey looks up releases by catalogue number or barcode.
func (c *Client) SearchByKey(ctx context.Context, kind KeyType, value string) ([]Entry, error) {
	params := url.Values{}
	switch kind {
	case KeyCatNo:
		params.Set("catno", value)
	case KeyBarcode:
		params.Set("barcode", value)
	default:
		return nil, fmt.Errorf("catalog: unknown key type %d", kind)
	}
	return c.search(ctx, params)
}

// SearchByText runs a structured fuzzy search.
func (c *Client) SearchByText(ctx context.Context, q TextQuery) ([]Entry, error) {
	params := url.Values{}
	if q.Artist != "" {
		params.Set("artist", q.Artist)
	}
	if q.Title != "" {
		params.Set("release_title", q.Title)
	}
	if q.Year > 0 {
		params.Set("year", strconv.Itoa(q.Year))
	}
	if q.Country != "" {
		params.Set("country", q.Country)
	}
	return c.search(ctx, params)
}

// releaseResponse is a /releases/{id} response. Year is numeric here.
type releaseResponse struct {
	ID      int64  `json:"id"`
	Title   string `json:"title"`
	Year    int    `json:"year"`
	Country string `json:"country"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Formats []struct {
		Name string `json:"name"`
	} `json:"formats"`
	Labels []struct {
		Name  string `json:"name"`
		CatNo string `json:"catno"`
	} `json:"labels"`
	Identifiers []struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"identifiers"`
}

// Release fetches one release by ID. Results are cached for the process
// lifetime since releases are effectively immutable.
func (c *Client) Release(ctx context.Context, id int64) (Entry, error) {
	if v, ok := c.releases.Load(id); ok {
		return v.(Entry), nil
	}
	params := url.Values{"curr_abbr": {c.currency}}
	var rr releaseResponse
	if err := c.get(ctx, "release", "/releases/"+strconv.FormatInt(id, 10), params, &rr); err != nil {
		return Entry{}, err
	}

	e := Entry{
		ID:      rr.ID,
		Title:   rr.Title,
		Year:    rr.Year,
		Country: rr.Country,
	}
	if len(rr.Artists) > 0 {
		e.Title = rr.Artists[0].Name + " - " + rr.Title
	}
	for _, f := range rr.Formats {
		e.Formats = append(e.Formats, f.Name)
	}
	for _, l := range rr.Labels {
		e.Labels = append(e.Labels, l.Name)
		if e.CatNo == "" {
			e.CatNo = l.CatNo
		}
	}
	for _, ident := range rr.Identifiers {
		if strings.EqualFold(ident.Type, "barcode") {
			e.Barcodes = append(e.Barcodes, ident.Value)
		}
	}

	c.releases.Store(id, e)
	return e, nil
}

// priceResponse maps grade name to a priced suggestion.
type priceResponse map[string]struct {
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
}

// PriceSuggestions fetches marketplace price suggestions for a release.
// Cached for the process lifetime.
func (c *Client) PriceSuggestions(ctx context.Context, id int64) (PriceSuggestions, error) {
	if v, ok := c.prices.Load(id); ok {
		return v.(PriceSuggestions), nil
	}
	var pr priceResponse
	if err := c.get(ctx, "prices", "/marketplace/price_suggestions/"+strconv.FormatInt(id, 10), nil, &pr); err != nil {
		return nil, err
	}
	ps := make(PriceSuggestions, len(pr))
	for grade, p := range pr {
		ps[grade] = p.Value
	}
	c.prices.Store(id, ps)
	return ps, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
