// Package feed streams live marketplace listings: a Browse API client with
// filter building, politeness rate limiting, and retry on transient errors.
package feed

import (
	"context"
	"time"
)

// Listing is one live marketplace item.
type Listing struct {
	ID                string
	Title             string
	Price             float64 // item price
	Shipping          float64 // cheapest shipping option
	Total             float64 // price + shipping
	Currency          string
	URL               string
	Seller            string
	SellerFeedbackPct float64 // 0-100
	Condition         string
	ListedAt          time.Time
	BuyingOptions     []string
}

// SearchOpts shapes one feed query.
type SearchOpts struct {
	Query        string
	Limit        int      // clamped to 1..100, default 20
	ListingTypes []string // BIN, AUCTION, AUCTION_BIN
	Sort         string   // "newlyListed" (default) or "price"
	PriceCap     float64  // 0 means no cap
	Country      string   // item location country, e.g. "GB"
	Categories   []string // category names or raw IDs
}

// Client fetches live listings for a query.
type Client interface {
	Search(ctx context.Context, opts SearchOpts) ([]Listing, error)
}
