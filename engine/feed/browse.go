package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cratedigger/dealwatch/pkg/fn"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const defaultBrowsePath = "/buy/browse/v1/item_summary/search"

// CategoryIDs maps friendly category names to marketplace category IDs.
var CategoryIDs = map[string]string{
	"records":   "176985",
	"cassettes": "176983",
}

// buyingOptionsMap expands shorthand listing types to Browse API options.
var buyingOptionsMap = map[string][]string{
	"BIN":         {"FIXED_PRICE", "BEST_OFFER"},
	"AUCTION":     {"AUCTION"},
	"AUCTION_BIN": {"AUCTION", "FIXED_PRICE", "BEST_OFFER"},
}

// TokenFunc supplies a fresh bearer token per request.
type TokenFunc func(ctx context.Context) (string, error)

// StaticToken adapts a fixed token string to a TokenFunc.
func StaticToken(token string) TokenFunc {
	return func(context.Context) (string, error) { return token, nil }
}

type statusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("feed: http %d: %s", e.status, e.body)
}

func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	var ue *url.Error
	return errors.As(err, &ue)
}

func waitHint(err error) (time.Duration, bool) {
	var se *statusError
	if errors.As(err, &se) && se.retryAfter > 0 {
		return se.retryAfter, true
	}
	return 0, false
}

// BrowseOpts configures the Browse API client.
type BrowseOpts struct {
	BaseURL     string // scheme://host, no path
	Marketplace string // X-EBAY-C-MARKETPLACE-ID, default EBAY_GB
	Token       TokenFunc
	// MinInterval spaces successive requests, default 2s.
	MinInterval time.Duration
	HTTPClient  *http.Client
	Retry       fn.RetryOpts
}

// BrowseClient queries the marketplace Browse API for live listings.
type BrowseClient struct {
	baseURL     string
	marketplace string
	token       TokenFunc
	httpClient  *http.Client
	limiter     *rate.Limiter
	retry       fn.RetryOpts
}

// NewBrowseClient creates a Browse API client.
func NewBrowseClient(opts BrowseOpts) *BrowseClient {
	if opts.Marketplace == "" {
		opts.Marketplace = "EBAY_GB"
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = 2 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = fn.RetryOpts{
			MaxAttempts: 4,
			InitialWait: 2 * time.Second,
			MaxWait:     time.Minute,
			Jitter:      true,
		}
	}
	opts.Retry.ShouldRetry = transient
	opts.Retry.WaitHint = waitHint

	return &BrowseClient{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		marketplace: opts.Marketplace,
		token:       opts.Token,
		httpClient:  opts.HTTPClient,
		limiter:     rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		retry:       opts.Retry,
	}
}

// buildFilter assembles the Browse API filter expression.
func buildFilter(opts SearchOpts) string {
	var parts []string

	if len(opts.Categories) > 0 {
		var ids []string
		for _, c := range opts.Categories {
			id, ok := CategoryIDs[strings.ToLower(c)]
			if !ok {
				id = c // assume a raw category ID
			}
			if id != "" {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			parts = append(parts, fmt.Sprintf("categoryIds:{%s}", strings.Join(ids, ",")))
		}
	}

	optSet := map[string]bool{}
	for _, lt := range opts.ListingTypes {
		for _, o := range buyingOptionsMap[strings.ToUpper(lt)] {
			optSet[o] = true
		}
	}
	if len(optSet) > 0 {
		var os []string
		for o := range optSet {
			os = append(os, o)
		}
		sort.Strings(os)
		parts = append(parts, fmt.Sprintf("buyingOptions:{%s}", strings.Join(os, ",")))
	}

	if opts.PriceCap > 0 {
		parts = append(parts, fmt.Sprintf("price:[..%g]", opts.PriceCap))
	}
	if opts.Country != "" {
		parts = append(parts, fmt.Sprintf("itemLocationCountry:{%s}", opts.Country))
	}
	return strings.Join(parts, " AND ")
}

// Browse API wire types. Money values come back as strings.
type browseMoney struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

func (m browseMoney) num() float64 {
	v, err := strconv.ParseFloat(m.Value, 64)
	if err != nil {
		return 0
	}
	return v
}

type browseItem struct {
	ItemID          string      `json:"itemId"`
	Title           string      `json:"title"`
	Price           browseMoney `json:"price"`
	ShippingOptions []struct {
		ShippingCost browseMoney `json:"shippingCost"`
	} `json:"shippingOptions"`
	ItemWebURL string `json:"itemWebUrl"`
	Seller     struct {
		Username           string `json:"username"`
		FeedbackPercentage string `json:"feedbackPercentage"`
	} `json:"seller"`
	Condition        string   `json:"condition"`
	ItemCreationDate string   `json:"itemCreationDate"`
	BuyingOptions    []string `json:"buyingOptions"`
}

type browseResponse struct {
	ItemSummaries []browseItem `json:"itemSummaries"`
}

func (it browseItem) listing() Listing {
	price := it.Price.num()
	var ship float64
	if len(it.ShippingOptions) > 0 {
		ship = it.ShippingOptions[0].ShippingCost.num()
	}
	fbPct, _ := strconv.ParseFloat(it.Seller.FeedbackPercentage, 64)
	listed, _ := time.Parse(time.RFC3339, it.ItemCreationDate)

	currency := it.Price.Currency
	if currency == "" {
		currency = "GBP"
	}
	return Listing{
		ID:                it.ItemID,
		Title:             it.Title,
		Price:             price,
		Shipping:          ship,
		Total:             price + ship,
		Currency:          currency,
		URL:               it.ItemWebURL,
		Seller:            it.Seller.Username,
		SellerFeedbackPct: fbPct,
		Condition:         it.Condition,
		ListedAt:          listed,
		BuyingOptions:     it.BuyingOptions,
	}
}

// Search fetches live listings for the query, newest first by default.
func (c *BrowseClient) Search(ctx context.Context, opts SearchOpts) ([]Listing, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	sortParam := "price"
	if opts.Sort == "" || strings.HasPrefix(strings.ToLower(opts.Sort), "new") {
		sortParam = "creationDate:desc"
	}

	params := url.Values{
		"q":     {opts.Query},
		"limit": {strconv.Itoa(limit)},
		"sort":  {sortParam},
	}
	if filter := buildFilter(opts); filter != "" {
		params.Set("filter", filter)
	}

	result := fn.Retry(ctx, c.retry, func(ctx context.Context) fn.Result[[]byte] {
		if err := c.limiter.Wait(ctx); err != nil {
			return fn.Err[[]byte](err)
		}
		return fn.FromPair(c.do(ctx, params))
	})
	body, err := result.Unwrap()
	if err != nil {
		return nil, err
	}

	var br browseResponse
	if err := json.Unmarshal(body, &br); err != nil {
		return nil, fmt.Errorf("feed: decode response: %w", err)
	}
	listings := make([]Listing, 0, len(br.ItemSummaries))
	for _, it := range br.ItemSummaries {
		listings = append(listings, it.listing())
	}
	return listings, nil
}

func (c *BrowseClient) do(ctx context.Context, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+defaultBrowsePath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if c.token != nil {
		token, err := c.token(ctx)
		if err != nil {
			return nil, fmt.Errorf("feed: token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.marketplace)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		se := &statusError{status: resp.StatusCode, body: truncate(string(body), 200)}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			se.retryAfter = time.Duration(secs) * time.Second
		}
		return nil, se
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
