package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"pricewise/config"
	"pricewise/matcher"
	"pricewise/models"
	"pricewise/orchestrator"
	"pricewise/pricing"
	"pricewise/recommend"
	"pricewise/scraper"

	cache "github.com/go-pkgz/expirable-cache"
)

// Search outcomes reported alongside results
const (
	OutcomeOK        = "ok"
	OutcomePartial   = "partial"
	OutcomeNoResults = "no_results"
)

const (
	defaultResultLimit = 20
	maxResultLimit     = 100
	maxQueryLength     = 200
)

// Regions maps a requester's country onto the region and currency searches run in
type Regions interface {
	RegionFor(country string) string
	CurrencyFor(region string) string
}

// AdapterSource returns the adapters configured for a region
type AdapterSource interface {
	Adapters(region string) []scraper.Adapter
}

// CatalogAdapters builds adapters for the sites a catalog lists for a region
type CatalogAdapters struct {
	Catalog  *config.Catalog
	Registry *scraper.Registry
}

// Adapters implements AdapterSource
func (c CatalogAdapters) Adapters(region string) []scraper.Adapter {
	return c.Registry.Build(c.Catalog.SitesFor(region))
}

// SearchRecorder receives one event per completed search
type SearchRecorder interface {
	RecordSearch(event models.SearchEvent)
}

// Policies carry the per-request knobs. Markup.DisplayCurrency is filled from the region.
type Policies struct {
	Scrape orchestrator.Policy
	Markup pricing.MarkupPolicy
}

// SearchInput is one caller's search
type SearchInput struct {
	Request  models.SearchRequest
	UserID   string
	Location models.Location
}

// ProductResult is one canonical product with its ranked quotes
type ProductResult struct {
	Product   models.CanonicalProduct `json:"product"`
	Quotes    []models.PriceQuote     `json:"quotes"`
	BestDeals []models.PriceQuote     `json:"best_deals"`
}

// SearchResult is everything one search produced
type SearchResult struct {
	Query         string                 `json:"query"`
	Region        string                 `json:"region"`
	Country       string                 `json:"country"`
	Currency      string                 `json:"currency"`
	Category      string                 `json:"category,omitempty"`
	Outcome       string                 `json:"outcome"`
	Products      []ProductResult        `json:"products"`
	Statuses      []models.AdapterStatus `json:"sources"`
	FailedSources []string               `json:"failed_sources"`
	Excluded      int                    `json:"excluded_listings"`
	Cached        bool                   `json:"cached"`
	SearchedAt    time.Time              `json:"searched_at"`
}

// QuoteCount returns the number of priced offers across all products
func (r *SearchResult) QuoteCount() int {
	n := 0
	for _, p := range r.Products {
		n += len(p.Quotes)
	}
	return n
}

// Records flattens every quote into the UI record shape, cheapest first
func (r *SearchResult) Records(limit int) []models.QuoteRecord {
	var quotes []models.PriceQuote
	for _, p := range r.Products {
		quotes = append(quotes, p.Quotes...)
	}
	sort.SliceStable(quotes, func(i, j int) bool {
		a, b := quotes[i], quotes[j]
		if a.FinalPrice != b.FinalPrice {
			return a.FinalPrice < b.FinalPrice
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.StoreID < b.StoreID
	})
	if limit > 0 && len(quotes) > limit {
		quotes = quotes[:limit]
	}
	records := make([]models.QuoteRecord, len(quotes))
	for i, q := range quotes {
		records[i] = q.Record()
	}
	return records
}

// clusters is what the cross-request cache keeps: matched products before pricing
type clusters struct {
	products []models.CanonicalProduct
	statuses []models.AdapterStatus
}

// SearchService runs the aggregation pipeline for one query
type SearchService struct {
	regions      Regions
	adapters     AdapterSource
	orchestrator *orchestrator.Orchestrator
	matcher      *matcher.Matcher
	prices       *pricing.Engine
	products     *recommend.Catalog
	recorder     SearchRecorder
	cache        cache.Cache
	now          func() time.Time
}

// SearchDeps wires a SearchService
type SearchDeps struct {
	Regions      Regions
	Adapters     AdapterSource
	Orchestrator *orchestrator.Orchestrator
	Matcher      *matcher.Matcher
	Prices       *pricing.Engine
	Products     *recommend.Catalog
	Recorder     SearchRecorder
	CacheTTL     time.Duration
	CacheMaxKeys int
}

// NewSearchService creates the pipeline; a zero CacheTTL disables the cluster cache
func NewSearchService(deps SearchDeps) (*SearchService, error) {
	s := &SearchService{
		regions:      deps.Regions,
		adapters:     deps.Adapters,
		orchestrator: deps.Orchestrator,
		matcher:      deps.Matcher,
		prices:       deps.Prices,
		products:     deps.Products,
		recorder:     deps.Recorder,
		now:          time.Now,
	}
	if s.orchestrator == nil {
		s.orchestrator = orchestrator.New(nil)
	}
	if s.matcher == nil {
		s.matcher = matcher.New(matcher.Options{})
	}
	if s.prices == nil {
		s.prices = pricing.NewEngine(nil)
	}
	if deps.CacheTTL > 0 {
		c, err := cache.NewCache(cache.LRU(), cache.MaxKeys(max(deps.CacheMaxKeys, 1)), cache.TTL(deps.CacheTTL))
		if err != nil {
			return nil, fmt.Errorf("failed to create search cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}

// Search validates the request, gathers listings (or reuses cached clusters for the
// same query and region), prices every product and records the search. Source
// failures never fail the call; only a malformed request does.
func (s *SearchService) Search(ctx context.Context, in SearchInput, p Policies) (*SearchResult, error) {
	query := strings.Join(strings.Fields(in.Request.Query), " ")
	if query == "" {
		return nil, models.ErrEmptyQuery
	}
	if len(query) > maxQueryLength {
		return nil, fmt.Errorf("%w: query longer than %d characters", models.ErrInvalidQuery, maxQueryLength)
	}

	region := s.regions.RegionFor(in.Location.Country)
	currency := s.regions.CurrencyFor(region)
	p.Markup.DisplayCurrency = currency

	result := &SearchResult{
		Query:      query,
		Region:     region,
		Country:    in.Location.Country,
		Currency:   currency,
		Products:   []ProductResult{},
		SearchedAt: s.now(),
	}

	found, cached := s.cached(region, query)
	if !cached {
		fetched := s.orchestrator.Fetch(ctx, query, region, s.adapters.Adapters(region), p.Scrape)
		products, report := s.matcher.ClusterReport(fetched.Listings)
		if report.Duplicates > 0 {
			log.Printf("🧹 Dropped %d duplicate listings for %q", report.Duplicates, query)
		}
		found = clusters{products: products, statuses: fetched.Statuses}
		if fetched.Succeeded() > 0 {
			s.store(region, query, found)
		}
	}
	result.Cached = cached
	result.Statuses = found.statuses

	for _, product := range found.products {
		quotes, errs := s.prices.Rank(product, p.Markup)
		result.Excluded += len(errs)
		for _, err := range errs {
			log.Printf("⚠️  %v", err)
		}
		if len(quotes) == 0 {
			continue
		}
		result.Products = append(result.Products, ProductResult{Product: product, Quotes: quotes, BestDeals: pricing.BestDeals(quotes)})
	}
	sort.SliceStable(result.Products, func(i, j int) bool {
		return pricing.Cheapest(result.Products[i].Quotes) < pricing.Cheapest(result.Products[j].Quotes)
	})

	result.FailedSources = []string{}
	for _, st := range found.statuses {
		if st.State != models.JobSucceeded {
			result.FailedSources = append(result.FailedSources, st.SiteID)
		}
	}
	result.Outcome = outcome(result)
	if result.Outcome == OutcomeNoResults {
		log.Printf("📭 %v for %q in %s (%d sources failed)", models.ErrNoResultsFound, query, regionName(region), len(result.FailedSources))
	}

	result.Category = matcher.NormalizeCategory(in.Request.Category)
	if result.Category == "" && len(result.Products) > 0 {
		result.Category = result.Products[0].Product.Category
	}

	for i, pr := range result.Products {
		if s.products != nil {
			s.products.Put(recommend.Entry{Product: pr.Product, Quotes: pr.Quotes, Query: query, Region: region, Position: i, SeenAt: result.SearchedAt})
		}
	}
	if s.recorder != nil {
		s.recorder.RecordSearch(models.SearchEvent{
			UserID:      in.UserID,
			Query:       query,
			Region:      region,
			Country:     in.Location.Country,
			Category:    result.Category,
			ResultCount: result.QuoteCount(),
			CreatedAt:   result.SearchedAt,
		})
	}
	return result, nil
}

// Prefetch scrapes query for region and refreshes the cluster cache without pricing
// or recording anything. It returns the number of products found.
func (s *SearchService) Prefetch(ctx context.Context, query, region string, policy orchestrator.Policy) (int, error) {
	query = strings.Join(strings.Fields(query), " ")
	if query == "" {
		return 0, models.ErrEmptyQuery
	}
	if s.cache == nil {
		return 0, fmt.Errorf("search cache is disabled")
	}

	fetched := s.orchestrator.Fetch(ctx, query, region, s.adapters.Adapters(region), policy)
	if fetched.Succeeded() == 0 {
		return 0, fmt.Errorf("%w for %q in %s", models.ErrNoResultsFound, query, regionName(region))
	}
	products, _ := s.matcher.ClusterReport(fetched.Listings)
	s.store(region, query, clusters{products: products, statuses: fetched.Statuses})
	return len(products), nil
}

// Product returns a product recently surfaced in region with its full ranked quotes
func (s *SearchService) Product(region, id string) (recommend.Entry, bool) {
	if s.products == nil {
		return recommend.Entry{}, false
	}
	return s.products.Get(region, id)
}

// RegionFor maps a caller's country to the region its searches run in
func (s *SearchService) RegionFor(country string) string {
	return s.regions.RegionFor(country)
}

// SweepCache drops expired cache entries
func (s *SearchService) SweepCache() int {
	if s.cache == nil {
		return 0
	}
	before := s.cache.Len()
	s.cache.DeleteExpired()
	return before - s.cache.Len()
}

func (s *SearchService) cached(region, query string) (clusters, bool) {
	if s.cache == nil {
		return clusters{}, false
	}
	v, ok := s.cache.Get(cacheKey(region, query))
	if !ok {
		return clusters{}, false
	}
	c, ok := v.(clusters)
	return c, ok
}

func (s *SearchService) store(region, query string, c clusters) {
	if s.cache != nil {
		s.cache.Set(cacheKey(region, query), c, 0)
	}
}

// cacheKey never lets two regions share an entry
func cacheKey(region, query string) string {
	return regionName(region) + "|" + models.NormalizeQuery(query)
}

func outcome(r *SearchResult) string {
	switch {
	case len(r.Products) == 0:
		return OutcomeNoResults
	case len(r.FailedSources) > 0:
		return OutcomePartial
	default:
		return OutcomeOK
	}
}

func regionName(region string) string {
	if region == "" {
		return "international"
	}
	return region
}

// ResultLimit clamps a requested limit
func ResultLimit(requested int) int {
	switch {
	case requested <= 0:
		return defaultResultLimit
	case requested > maxResultLimit:
		return maxResultLimit
	default:
		return requested
	}
}
