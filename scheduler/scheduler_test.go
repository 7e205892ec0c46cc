package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pricewise/analytics"
	"pricewise/models"
	"pricewise/orchestrator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePrefetcher struct {
	mu      sync.Mutex
	calls   []string
	release chan struct{}
	err     error
}

func (f *fakePrefetcher) Prefetch(ctx context.Context, query, region string, _ orchestrator.Policy) (int, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls = append(f.calls, region+"|"+query)
	f.mu.Unlock()
	return 3, f.err
}

func (f *fakePrefetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func TestWarmerDeduplicatesPendingTasks(t *testing.T) {
	p := &fakePrefetcher{release: make(chan struct{})}
	w := NewWarmer(p, orchestrator.Policy{}, 1, 4)
	defer w.Stop()

	assert.True(t, w.Submit("phone", "uganda"))
	assert.False(t, w.Submit("phone", "uganda"))
	assert.True(t, w.Submit("phone", "kenya"))

	close(p.release)
	assert.Eventually(t, func() bool { return w.Stats().Completed == 2 }, time.Second, 5*time.Millisecond)

	stats := w.Stats()
	assert.Equal(t, 2, stats.Submitted)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 1, stats.Workers)
	assert.False(t, stats.LastWarmed.IsZero())
	assert.ElementsMatch(t, []string{"uganda|phone", "kenya|phone"}, p.Calls())

	// finished tasks can be queued again
	assert.True(t, w.Submit("phone", "uganda"))
}

func TestWarmerDropsWhenQueueFull(t *testing.T) {
	p := &fakePrefetcher{release: make(chan struct{})}
	w := NewWarmer(p, orchestrator.Policy{}, 1, 1)
	defer w.Stop()

	require.True(t, w.Submit("a", ""))
	assert.Eventually(t, func() bool { return w.Stats().QueueSize == 0 }, time.Second, 5*time.Millisecond)
	require.True(t, w.Submit("b", ""))
	assert.False(t, w.Submit("c", ""))
	assert.Equal(t, 1, w.Stats().Dropped)
	close(p.release)
}

func TestWarmerCountsFailures(t *testing.T) {
	p := &fakePrefetcher{err: errors.New("no results")}
	w := NewWarmer(p, orchestrator.Policy{}, 2, 4)
	defer w.Stop()

	w.Submit("tv", "")
	assert.Eventually(t, func() bool { return w.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Zero(t, w.Stats().Completed)
}

func TestWarmerRejectsAfterStop(t *testing.T) {
	w := NewWarmer(&fakePrefetcher{}, orchestrator.Policy{}, 1, 1)
	w.Stop()
	assert.False(t, w.Submit("phone", ""))
}

type fakeSweeper struct{ sweeps, swept int }

func (f *fakeSweeper) SweepCache() int { f.sweeps++; return f.swept }
func (f *fakeSweeper) Sweep()          { f.sweeps++ }

type fakeRates struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeRates) Refresh(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeRates) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTrends map[string][]string

func (f fakeTrends) TrendingIn(_ context.Context, region string, limit int) ([]models.RecommendationScore, error) {
	var out []models.RecommendationScore
	for _, q := range f[region] {
		if len(out) == limit {
			break
		}
		out = append(out, models.RecommendationScore{Subject: q})
	}
	return out, nil
}

type fakeStats struct{ windows []time.Duration }

func (f *fakeStats) Summarize(_ context.Context, window time.Duration) (analytics.Summary, error) {
	f.windows = append(f.windows, window)
	return analytics.Summary{
		TotalSearches: 3,
		TopQueries:    []analytics.QueryCount{{Query: "phone", Count: 2}},
		Scrapers:      []analytics.ScraperStatus{{SiteID: "jumia", Status: analytics.StatusFailed}},
	}, nil
}

func TestMaintainerJobs(t *testing.T) {
	search := &fakeSweeper{swept: 2}
	catalog := &fakeSweeper{}
	rates := &fakeRates{err: errors.New("offline")}
	stats := &fakeStats{}
	m := NewMaintainer(MaintainerDeps{Search: search, Catalog: catalog, Rates: rates, Stats: stats})

	m.SweepCaches()
	assert.Equal(t, 1, search.sweeps)
	assert.Equal(t, 1, catalog.sweeps)

	m.RefreshRates()
	assert.Equal(t, 1, rates.Calls())

	m.Digest()
	assert.Equal(t, []time.Duration{24 * time.Hour}, stats.windows)

	assert.Zero(t, m.WarmTrending())
}

func TestMaintainerWarmsTrendingPerRegion(t *testing.T) {
	p := &fakePrefetcher{}
	w := NewWarmer(p, orchestrator.Policy{}, 2, 10)
	defer w.Stop()

	trends := fakeTrends{
		"":       {"phone", "laptop", "tv"},
		"uganda": {"kettle"},
	}
	m := NewMaintainer(MaintainerDeps{Trends: trends, Warmer: w, Regions: []string{"kenya", "uganda"}, WarmTop: 2})

	assert.Equal(t, 3, m.WarmTrending())
	assert.Eventually(t, func() bool { return len(p.Calls()) == 3 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"|phone", "|laptop", "uganda|kettle"}, p.Calls())
}

func TestMaintainerStart(t *testing.T) {
	rates := &fakeRates{}
	m := NewMaintainer(MaintainerDeps{
		Search:   &fakeSweeper{},
		Rates:    rates,
		Schedule: Schedule{Sweep: "@every 1h", Rates: "@every 1h", Digest: "0 0 6 * * *"},
	})
	require.NoError(t, m.Start())
	assert.Eventually(t, func() bool { return rates.Calls() == 1 }, time.Second, 5*time.Millisecond)
	m.Stop()

	bad := NewMaintainer(MaintainerDeps{Search: &fakeSweeper{}, Schedule: Schedule{Sweep: "not a spec"}})
	assert.Error(t, bad.Start())
}
