package models

import (
	"math"
	"strings"
	"time"
)

// RawListing is one product offer as an adapter scraped it from a store
type RawListing struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	StoreName     string    `json:"store_name"`
	Country       string    `json:"country"`
	Title         string    `json:"title"`
	Price         float64   `json:"price"`
	OriginalPrice float64   `json:"original_price,omitempty"`
	Currency      string    `json:"currency"`
	URL           string    `json:"url"`
	ImageURL      string    `json:"image_url,omitempty"`
	Rating        float64   `json:"rating,omitempty"` // 0 when the store shows none
	ReviewCount   int       `json:"review_count,omitempty"`
	CategoryHint  string    `json:"category_hint,omitempty"`
	ScrapedAt     time.Time `json:"scraped_at"`
}

// CanonicalProduct groups listings from different stores that sell the same item
type CanonicalProduct struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Category string       `json:"category,omitempty"`
	Members  []RawListing `json:"members"`
}

// Member returns the listing contributed by a store, if any
func (p *CanonicalProduct) Member(storeID string) (RawListing, bool) {
	for _, m := range p.Members {
		if m.StoreID == storeID {
			return m, true
		}
	}
	return RawListing{}, false
}

// StoreIDs lists contributing stores in member order
func (p *CanonicalProduct) StoreIDs() []string {
	ids := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		ids = append(ids, m.StoreID)
	}
	return ids
}

// PriceQuote is a member listing re-priced in the display currency with markup applied
type PriceQuote struct {
	ProductID     string  `json:"product_id"`
	ListingID     string  `json:"listing_id"`
	StoreID       string  `json:"store_id"`
	StoreName     string  `json:"store_name"`
	Country       string  `json:"country"`
	Title         string  `json:"title"`
	RawPrice      float64 `json:"raw_price"`
	Markup        float64 `json:"markup"`
	FinalPrice    float64 `json:"final_price"`
	Currency      string  `json:"currency"`
	OriginalPrice float64 `json:"original_price,omitempty"`
	Rating        float64 `json:"rating,omitempty"`
	ReviewCount   int     `json:"review_count,omitempty"`
	ImageURL      string  `json:"image_url,omitempty"`
	ProductURL    string  `json:"product_url"`
	Category      string  `json:"category,omitempty"`
	Rank          int     `json:"rank"`
}

// QuoteRecord is the shape the UI consumes for a single priced result
type QuoteRecord struct {
	ID            string   `json:"id"`
	ProductID     string   `json:"product_id"`
	Name          string   `json:"name"`
	Price         float64  `json:"price"`
	Currency      string   `json:"currency"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	StoreName     string   `json:"store_name"`
	Country       string   `json:"country"`
	Rating        *float64 `json:"rating,omitempty"`
	ReviewCount   *int     `json:"review_count,omitempty"`
	ImageURL      string   `json:"image_url,omitempty"`
	Category      string   `json:"category,omitempty"`
	ProductURL    string   `json:"product_url"`
	Rank          int      `json:"rank"`
}

// Record converts a quote into its API representation
func (q PriceQuote) Record() QuoteRecord {
	rec := QuoteRecord{
		ID:         q.ListingID,
		ProductID:  q.ProductID,
		Name:       q.Title,
		Price:      q.FinalPrice,
		Currency:   q.Currency,
		StoreName:  q.StoreName,
		Country:    q.Country,
		ImageURL:   q.ImageURL,
		Category:   q.Category,
		ProductURL: q.ProductURL,
		Rank:       q.Rank,
	}
	if q.OriginalPrice > 0 {
		op := q.OriginalPrice
		rec.OriginalPrice = &op
	}
	if q.Rating > 0 {
		r := q.Rating
		rec.Rating = &r
	}
	if q.ReviewCount > 0 {
		rc := q.ReviewCount
		rec.ReviewCount = &rc
	}
	return rec
}

// SearchEvent is one completed search. UserID is empty for anonymous callers.
type SearchEvent struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id,omitempty"`
	Query       string    `json:"query"`
	Region      string    `json:"region"`
	Country     string    `json:"country"`
	Category    string    `json:"category,omitempty"`
	ResultCount int       `json:"result_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// RunStatus is the recorded outcome of one adapter invocation
type RunStatus string

const (
	RunSuccess  RunStatus = "success"
	RunFailed   RunStatus = "failed"
	RunTimedOut RunStatus = "timed_out"
)

// ScrapeRun summarizes one adapter invocation for the analytics log
type ScrapeRun struct {
	ID           string        `json:"id"`
	SiteID       string        `json:"site_id"`
	SiteName     string        `json:"site_name"`
	Query        string        `json:"query"`
	Region       string        `json:"region"`
	Status       RunStatus     `json:"status"`
	ListingCount int           `json:"listing_count"`
	Attempts     int           `json:"attempts"`
	Duration     time.Duration `json:"duration"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
}

// AdapterStatus explains what happened to one adapter during a search
type AdapterStatus struct {
	SiteID   string   `json:"site_id"`
	SiteName string   `json:"site_name"`
	State    JobState `json:"state"`
	Attempts int      `json:"attempts"`
	Listings int      `json:"listings"`
	Duration float64  `json:"duration_seconds"`
	Error    string   `json:"error,omitempty"`
}

// Scope values for recommendation scores
const (
	ScopeTrending = "global-trending"
	KindQuery     = "query"
	KindProduct   = "product"
)

// RecommendationScore is a derived relevance score for a query or product
type RecommendationScore struct {
	Subject     string    `json:"subject"`
	Kind        string    `json:"kind"`
	Label       string    `json:"label"`
	Category    string    `json:"category,omitempty"`
	Scope       string    `json:"scope"`
	Score       float64   `json:"score"`
	Occurrences int       `json:"occurrences,omitempty"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Location is what the geolocation collaborator reports for a client
type Location struct {
	IP       string `json:"ip_address"`
	Country  string `json:"country"`
	City     string `json:"city"`
	Region   string `json:"region,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// SearchRequest is the body of POST /search
type SearchRequest struct {
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// NormalizeQuery folds case and collapses whitespace so equal searches share a key
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Round2 rounds to cents
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
