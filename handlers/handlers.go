package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"pricewise/analytics"
	"pricewise/config"
	"pricewise/middleware"
	"pricewise/models"
	"pricewise/pricing"
	"pricewise/recommend"
	"pricewise/scheduler"
	"pricewise/services"

	"github.com/gorilla/mux"
)

const (
	defaultRecommendLimit = 10
	maxRecommendLimit     = 50
	defaultStatsDays      = 30
	maxStatsDays          = 365
	recentActivityLimit   = 10
)

// Deps wires the handlers to the services they expose
type Deps struct {
	Search       *services.SearchService
	Recommender  *recommend.Engine
	Analytics    *analytics.Log
	Autocomplete *services.AutocompleteService
	Locator      services.Locator
	Products     *recommend.Catalog
	Warmer       *scheduler.Warmer
	Config       *config.Config
	Version      string
}

type Handlers struct {
	search       *services.SearchService
	recommender  *recommend.Engine
	analytics    *analytics.Log
	autocomplete *services.AutocompleteService
	locator      services.Locator
	products     *recommend.Catalog
	warmer       *scheduler.Warmer
	cfg          *config.Config
	version      string
	started      time.Time
}

func NewHandlers(d Deps) *Handlers {
	return &Handlers{
		search:       d.Search,
		recommender:  d.Recommender,
		analytics:    d.Analytics,
		autocomplete: d.Autocomplete,
		locator:      d.Locator,
		products:     d.Products,
		warmer:       d.Warmer,
		cfg:          d.Config,
		version:      d.Version,
		started:      time.Now(),
	}
}

// Register mounts every route on r. Admin routes sit behind the admin secret.
func (h *Handlers) Register(r *mux.Router) {
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET")

	r.HandleFunc("/search", h.Search).Methods("POST")
	r.HandleFunc("/search/detailed", h.SearchDetailed).Methods("POST")
	r.HandleFunc("/search/autocomplete", h.Autocomplete).Methods("GET")

	r.HandleFunc("/recommendations/trending", h.Trending).Methods("GET")
	r.HandleFunc("/recommendations/personalized", h.Personalized).Methods("GET")

	r.HandleFunc("/user/location", h.UserLocation).Methods("GET")
	r.HandleFunc("/user/history", h.UserHistory).Methods("GET")

	r.HandleFunc("/products/{id}/compare", h.CompareProduct).Methods("GET")

	r.HandleFunc("/analytics/search-stats", h.SearchStats).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.AdminMiddleware(h.cfg.AdminSecret))
	admin.HandleFunc("/scrapers", h.AdminScrapers).Methods("GET")
	admin.HandleFunc("/dashboard", h.AdminDashboard).Methods("GET")
}

// HealthCheck returns a simple health check response
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now(),
		"service":        "pricewise",
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.started).Seconds()),
	}
	writeJSON(w, http.StatusOK, response)
}

// Metrics struct for basic monitoring
type Metrics struct {
	Timestamp      time.Time `json:"timestamp"`
	Uptime         string    `json:"uptime"`
	Goroutines     int       `json:"goroutines"`
	MemoryUsage    string    `json:"memory_usage"`
	CachedProducts int       `json:"cached_products"`
	RunningScrapes int       `json:"running_scrapes"`
}

// Metrics reports process and pipeline gauges
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	metrics := Metrics{
		Timestamp:      time.Now(),
		Uptime:         time.Since(h.started).Round(time.Second).String(),
		Goroutines:     runtime.NumGoroutine(),
		MemoryUsage:    fmt.Sprintf("%.2f MB", float64(m.Alloc)/1024/1024),
		RunningScrapes: len(h.analytics.Running()),
	}
	if h.products != nil {
		metrics.CachedProducts = h.products.Len()
	}
	writeJSON(w, http.StatusOK, metrics)
}

// Search runs the pipeline and returns the flat list of quote records
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	result, req, ok := h.runSearch(w, r)
	if !ok {
		return
	}
	writeSearchHeaders(w, result)
	writeJSON(w, http.StatusOK, result.Records(services.ResultLimit(req.Limit)))
}

type detailedResponse struct {
	*services.SearchResult
	Results      []models.QuoteRecord `json:"results"`
	TotalResults int                  `json:"total_results"`
}

// SearchDetailed returns canonical products, per-source status and the flat records
func (h *Handlers) SearchDetailed(w http.ResponseWriter, r *http.Request) {
	result, req, ok := h.runSearch(w, r)
	if !ok {
		return
	}
	writeSearchHeaders(w, result)
	writeJSON(w, http.StatusOK, detailedResponse{
		SearchResult: result,
		Results:      result.Records(services.ResultLimit(req.Limit)),
		TotalResults: result.QuoteCount(),
	})
}

func (h *Handlers) runSearch(w http.ResponseWriter, r *http.Request) (*services.SearchResult, models.SearchRequest, bool) {
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return nil, req, false
	}

	in := services.SearchInput{
		Request:  req,
		UserID:   middleware.UserID(r.Context()),
		Location: h.locate(r),
	}
	result, err := h.search.Search(r.Context(), in, h.policies())
	if err != nil {
		if errors.Is(err, models.ErrEmptyQuery) || errors.Is(err, models.ErrInvalidQuery) {
			writeError(w, http.StatusBadRequest, err.Error())
			return nil, req, false
		}
		log.Printf("❌ Search failed for %q: %v", req.Query, err)
		writeError(w, http.StatusInternalServerError, "Search failed")
		return nil, req, false
	}

	log.Printf("🔍 Search %q (%s): %d products, outcome %s", result.Query, result.Currency, len(result.Products), result.Outcome)
	return result, req, true
}

func writeSearchHeaders(w http.ResponseWriter, result *services.SearchResult) {
	w.Header().Set("X-Search-Outcome", result.Outcome)
	if len(result.FailedSources) > 0 {
		w.Header().Set("X-Search-Failed-Sources", strings.Join(result.FailedSources, ","))
	}
	w.Header().Set("X-Search-Cached", strconv.FormatBool(result.Cached))
}

// Autocomplete suggests queries for a partial input
func (h *Handlers) Autocomplete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := intParam(r, "limit", 10, maxRecommendLimit)
	suggestions := h.autocomplete.Suggest(r.Context(), q, middleware.UserID(r.Context()), limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":       q,
		"suggestions": suggestions,
	})
}

// Trending returns the best product for each trending query plus the queries themselves
func (h *Handlers) Trending(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", defaultRecommendLimit, maxRecommendLimit)
	region := h.region(r)

	quotes, scores, err := h.recommender.TrendingProducts(r.Context(), region, limit)
	if err != nil {
		log.Printf("❌ Failed to compute trending: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to get trending products")
		return
	}
	if scores == nil {
		scores = []models.RecommendationScore{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"products":     records(quotes),
		"queries":      scores,
		"total_count":  len(quotes),
		"region":       region,
		"last_updated": time.Now(),
	})
}

// Personalized returns products scored against the caller's own searches
func (h *Handlers) Personalized(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", defaultRecommendLimit, maxRecommendLimit)
	userID := middleware.UserID(r.Context())

	quotes, coldStart, err := h.recommender.Personalized(r.Context(), userID, h.region(r), limit)
	if err != nil {
		log.Printf("❌ Failed to personalize for %s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, "Failed to get recommendations")
		return
	}
	if coldStart {
		log.Printf("🔄 %v %s, serving trending", models.ErrColdStart, userID)
	}

	w.Header().Set("X-Cold-Start", strconv.FormatBool(coldStart))
	writeJSON(w, http.StatusOK, records(quotes))
}

// UserLocation reports where the caller appears to be
func (h *Handlers) UserLocation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.locate(r))
}

// UserHistory returns the caller's searches, newest first
func (h *Handlers) UserHistory(w http.ResponseWriter, r *http.Request) {
	limit := intParam(r, "limit", services.ResultLimit(0), 100)
	history, err := h.analytics.History(r.Context(), middleware.UserID(r.Context()), limit)
	if err != nil {
		log.Printf("❌ Failed to get search history: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to get search history")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// CompareProduct returns every ranked offer for a recently seen product
func (h *Handlers) CompareProduct(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	entry, ok := h.search.Product(h.region(r), id)
	if !ok {
		writeError(w, http.StatusNotFound, "Product not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"product":    entry.Product,
		"quotes":     records(entry.Quotes),
		"best_deals": records(pricing.BestDeals(entry.Quotes)),
		"query":      entry.Query,
		"region":     entry.Region,
		"seen_at":    entry.SeenAt,
	})
}

// SearchStats summarizes the search log for the last ?days= days
func (h *Handlers) SearchStats(w http.ResponseWriter, r *http.Request) {
	days := intParam(r, "days", defaultStatsDays, maxStatsDays)
	summary, err := h.analytics.Summarize(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		log.Printf("❌ Failed to summarize searches: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to get search statistics")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// AdminScrapers reports the latest recorded run of every site
func (h *Handlers) AdminScrapers(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.analytics.Scrapers(r.Context())
	if err != nil {
		log.Printf("❌ Failed to get scraper status: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to get scraper status")
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// AdminDashboard combines all-time totals, scraper status and recent searches
func (h *Handlers) AdminDashboard(w http.ResponseWriter, r *http.Request) {
	summary, err := h.analytics.Summarize(r.Context(), 0)
	if err != nil {
		log.Printf("❌ Failed to summarize searches: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load dashboard")
		return
	}
	recent, err := h.analytics.Recent(r.Context(), 24*time.Hour, recentActivityLimit)
	if err != nil {
		log.Printf("❌ Failed to get recent searches: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load dashboard")
		return
	}

	totalProducts := 0
	if h.products != nil {
		totalProducts = h.products.Len()
	}
	response := map[string]interface{}{
		"total_searches":    summary.TotalSearches,
		"unique_users":      summary.UniqueUsers,
		"total_comparisons": summary.TotalComparisons,
		"total_products":    totalProducts,
		"scraper_status":    summary.Scrapers,
		"recent_activity":   recent,
		"generated_at":      summary.GeneratedAt,
	}
	if h.warmer != nil {
		response["cache_warmer"] = h.warmer.Stats()
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handlers) policies() services.Policies {
	return services.Policies{
		Scrape: h.cfg.ScrapePolicy(),
		Markup: h.cfg.MarkupPolicy(""),
	}
}

func (h *Handlers) locate(r *http.Request) models.Location {
	ip := middleware.ClientIPFrom(r.Context())
	if ip == "" {
		ip = middleware.ClientIP(r)
	}
	if h.locator == nil {
		return models.Location{IP: ip, Country: h.cfg.DefaultCountry}
	}
	return services.ResolveLocation(r.Context(), h.locator, ip)
}

// region is ?region= when given, else the region the caller's searches run in
func (h *Handlers) region(r *http.Request) string {
	if r.URL.Query().Has("region") {
		return strings.ToLower(strings.TrimSpace(r.URL.Query().Get("region")))
	}
	return h.search.RegionFor(h.locate(r).Country)
}

func records(quotes []models.PriceQuote) []models.QuoteRecord {
	out := make([]models.QuoteRecord, len(quotes))
	for i, q := range quotes {
		out[i] = q.Record()
	}
	return out
}

// intParam reads a positive integer query parameter, clamped to ceiling
func intParam(r *http.Request, name string, def, ceiling int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	if v > ceiling {
		return ceiling
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
