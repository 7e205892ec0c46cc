package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"pricewise/analytics"
	"pricewise/models"

	"github.com/robfig/cron/v3"
)

// CacheSweeper drops expired search cache entries
type CacheSweeper interface {
	SweepCache() int
}

// CatalogSweeper drops expired catalog entries
type CatalogSweeper interface {
	Sweep()
}

// RateRefresher reloads exchange rates
type RateRefresher interface {
	Refresh(ctx context.Context) error
}

// Summarizer produces the search log summary
type Summarizer interface {
	Summarize(ctx context.Context, window time.Duration) (analytics.Summary, error)
}

// TrendSource lists trending queries for a region ("" for all regions)
type TrendSource interface {
	TrendingIn(ctx context.Context, region string, limit int) ([]models.RecommendationScore, error)
}

// Schedule holds cron specs (seconds field first). An empty spec disables the job.
type Schedule struct {
	Sweep  string
	Rates  string
	Digest string
	Warm   string
}

// MaintainerDeps wires a Maintainer; nil collaborators disable their jobs
type MaintainerDeps struct {
	Search   CacheSweeper
	Catalog  CatalogSweeper
	Rates    RateRefresher
	Stats    Summarizer
	Trends   TrendSource
	Warmer   *Warmer
	Regions  []string
	WarmTop  int
	Schedule Schedule
}

// Maintainer runs the periodic housekeeping jobs
type Maintainer struct {
	cron *cron.Cron
	deps MaintainerDeps
}

func NewMaintainer(deps MaintainerDeps) *Maintainer {
	return &Maintainer{
		cron: cron.New(cron.WithSeconds()),
		deps: deps,
	}
}

// Start registers every enabled job and starts the scheduler. Rates are also
// refreshed once immediately.
func (m *Maintainer) Start() error {
	jobs := []struct {
		name    string
		spec    string
		enabled bool
		run     func()
	}{
		{"cache sweep", m.deps.Schedule.Sweep, m.deps.Search != nil || m.deps.Catalog != nil, m.SweepCaches},
		{"rate refresh", m.deps.Schedule.Rates, m.deps.Rates != nil, m.RefreshRates},
		{"daily digest", m.deps.Schedule.Digest, m.deps.Stats != nil, m.Digest},
		{"cache warming", m.deps.Schedule.Warm, m.deps.Warmer != nil && m.deps.Trends != nil && m.deps.WarmTop > 0, func() { m.WarmTrending() }},
	}

	for _, job := range jobs {
		if job.spec == "" || !job.enabled {
			continue
		}
		if _, err := m.cron.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("failed to schedule %s (%q): %w", job.name, job.spec, err)
		}
		log.Printf("🔄 Scheduled %s: %s", job.name, job.spec)
	}

	if m.deps.Rates != nil {
		go m.RefreshRates()
	}

	m.cron.Start()
	return nil
}

// Stop stops scheduling, waits for running jobs and stops the warmer
func (m *Maintainer) Stop() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
	if m.deps.Warmer != nil {
		m.deps.Warmer.Stop()
	}
}

// SweepCaches drops expired search and catalog entries
func (m *Maintainer) SweepCaches() {
	swept := 0
	if m.deps.Search != nil {
		swept = m.deps.Search.SweepCache()
	}
	if m.deps.Catalog != nil {
		m.deps.Catalog.Sweep()
	}
	if swept > 0 {
		log.Printf("🧹 Swept %d expired search cache entries", swept)
	}
}

// RefreshRates reloads exchange rates, keeping the previous table on failure
func (m *Maintainer) RefreshRates() {
	if m.deps.Rates == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := m.deps.Rates.Refresh(ctx); err != nil {
		log.Printf("⚠️  Exchange rate refresh failed, keeping previous rates: %v", err)
		return
	}
	log.Println("💱 Exchange rates refreshed")
}

// Digest logs the last day of search activity
func (m *Maintainer) Digest() {
	if m.deps.Stats == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := m.deps.Stats.Summarize(ctx, 24*time.Hour)
	if err != nil {
		log.Printf("❌ Failed to build daily digest: %v", err)
		return
	}
	log.Printf("📊 Last 24h: %d searches by %d users, %d with results, %.1f results per search",
		s.TotalSearches, s.UniqueUsers, s.TotalComparisons, s.AverageResultsPerSearch)
	for _, q := range s.TopQueries {
		log.Printf("   %q searched %d times", q.Query, q.Count)
	}
	failed := 0
	for _, st := range s.Scrapers {
		if st.Status == analytics.StatusFailed {
			failed++
		}
	}
	if failed > 0 {
		log.Printf("⚠️  %d of %d scrapers failed on their last run", failed, len(s.Scrapers))
	}
}

// WarmTrending queues the top trending queries of every region for prefetching.
// It returns how many were queued.
func (m *Maintainer) WarmTrending() int {
	if m.deps.Warmer == nil || m.deps.Trends == nil || m.deps.WarmTop <= 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	queued := 0
	regions := append([]string{""}, m.deps.Regions...)
	for _, region := range regions {
		scores, err := m.deps.Trends.TrendingIn(ctx, region, m.deps.WarmTop)
		if err != nil {
			log.Printf("⚠️  Failed to read trending queries for warming: %v", err)
			return queued
		}
		for _, s := range scores {
			if m.deps.Warmer.Submit(s.Subject, region) {
				queued++
			}
		}
	}
	if queued > 0 {
		log.Printf("🔥 Queued %d trending queries for warming", queued)
	}
	return queued
}
