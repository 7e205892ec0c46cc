package analytics

import (
	"math"
	"sort"
	"time"

	"pricewise/models"
)

const topQueryCount = 10

// Scraper status values reported to the admin view
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusRunning = "running"
)

// QueryCount is one row of the top queries table
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// ScraperStatus is the latest known state of one site
type ScraperStatus struct {
	SiteID          string     `json:"site_id"`
	SiteName        string     `json:"site_name"`
	Status          string     `json:"status"`
	LastRun         *time.Time `json:"last_run,omitempty"`
	ProductsScraped int        `json:"products_scraped"`
	ExecutionTime   *float64   `json:"execution_time,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
}

// Summary is the read model behind the search stats and admin views
type Summary struct {
	TotalSearches           int             `json:"total_searches"`
	UniqueUsers             int             `json:"unique_users"`
	TotalComparisons        int             `json:"total_comparisons"`
	AverageResultsPerSearch float64         `json:"average_results_per_search"`
	TopQueries              []QueryCount    `json:"top_queries"`
	SearchesByCountry       map[string]int  `json:"searches_by_country"`
	SearchesByCategory      map[string]int  `json:"searches_by_category"`
	Scrapers                []ScraperStatus `json:"scrapers"`
	WindowDays              float64         `json:"window_days,omitempty"`
	GeneratedAt             time.Time       `json:"generated_at"`
}

// RunningScrape is an adapter invocation that has started but not yet been recorded
type RunningScrape struct {
	RunID     string
	SiteID    string
	SiteName  string
	StartedAt time.Time
}

// Summarize builds the summary for events and runs inside window (0 means all of
// them). It reads its inputs only and an empty log yields a zeroed summary.
func Summarize(events []models.SearchEvent, runs []models.ScrapeRun, running []RunningScrape, window time.Duration, now time.Time) Summary {
	var since time.Time
	if window > 0 {
		since = now.Add(-window)
	}

	s := Summary{
		TopQueries:         []QueryCount{},
		SearchesByCountry:  map[string]int{},
		SearchesByCategory: map[string]int{},
		Scrapers:           []ScraperStatus{},
		WindowDays:         window.Hours() / 24,
		GeneratedAt:        now,
	}

	users := map[string]bool{}
	queries := map[string]int{}
	totalResults := 0
	for _, e := range events {
		if e.CreatedAt.Before(since) {
			continue
		}
		s.TotalSearches++
		totalResults += e.ResultCount
		if e.ResultCount > 0 {
			s.TotalComparisons++
		}
		if e.UserID != "" {
			users[e.UserID] = true
		}
		if q := models.NormalizeQuery(e.Query); q != "" {
			queries[q]++
		}
		country := e.Country
		if country == "" {
			country = "Unknown"
		}
		s.SearchesByCountry[country]++
		if e.Category != "" {
			s.SearchesByCategory[e.Category]++
		}
	}
	s.UniqueUsers = len(users)
	if s.TotalSearches > 0 {
		s.AverageResultsPerSearch = math.Round(float64(totalResults)/float64(s.TotalSearches)*100) / 100
	}

	for q, n := range queries {
		s.TopQueries = append(s.TopQueries, QueryCount{Query: q, Count: n})
	}
	sort.Slice(s.TopQueries, func(i, j int) bool {
		if s.TopQueries[i].Count != s.TopQueries[j].Count {
			return s.TopQueries[i].Count > s.TopQueries[j].Count
		}
		return s.TopQueries[i].Query < s.TopQueries[j].Query
	})
	if len(s.TopQueries) > topQueryCount {
		s.TopQueries = s.TopQueries[:topQueryCount]
	}

	s.Scrapers = ScraperStatuses(runs, running)
	return s
}

// ScraperStatuses reports the latest run per site, ordered by site name. A site
// with any invocation still in flight is running since its oldest one started.
// running must only hold invocations that have not been recorded yet.
func ScraperStatuses(runs []models.ScrapeRun, running []RunningScrape) []ScraperStatus {
	latest := map[string]models.ScrapeRun{}
	for _, r := range runs {
		if prev, ok := latest[r.SiteID]; !ok || !r.FinishedAt.Before(prev.FinishedAt) {
			latest[r.SiteID] = r
		}
	}

	bySite := map[string]ScraperStatus{}
	for id, r := range latest {
		finished := r.FinishedAt
		seconds := math.Round(r.Duration.Seconds()*1000) / 1000
		st := ScraperStatus{
			SiteID:          id,
			SiteName:        r.SiteName,
			Status:          StatusSuccess,
			LastRun:         &finished,
			ProductsScraped: r.ListingCount,
			ExecutionTime:   &seconds,
		}
		if r.Status != models.RunSuccess {
			st.Status = StatusFailed
			st.ErrorMessage = r.Error
			if st.ErrorMessage == "" {
				st.ErrorMessage = string(r.Status)
			}
		}
		bySite[id] = st
	}

	for _, r := range running {
		prev, ok := bySite[r.SiteID]
		if ok && prev.Status == StatusRunning && !prev.LastRun.After(r.StartedAt) {
			continue
		}
		started := r.StartedAt
		st := ScraperStatus{SiteID: r.SiteID, SiteName: r.SiteName, Status: StatusRunning, LastRun: &started}
		if ok {
			st.ProductsScraped = prev.ProductsScraped
		}
		bySite[r.SiteID] = st
	}

	out := make([]ScraperStatus, 0, len(bySite))
	for _, st := range bySite {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SiteName != out[j].SiteName {
			return out[i].SiteName < out[j].SiteName
		}
		return out[i].SiteID < out[j].SiteID
	})
	return out
}
