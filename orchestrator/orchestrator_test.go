package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pricewise/models"
	"pricewise/scraper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	id     string
	search func(ctx context.Context, attempt int) ([]models.RawListing, error)
	calls  atomic.Int32
}

func (f *fakeAdapter) ID() string   { return f.id }
func (f *fakeAdapter) Name() string { return "Store " + f.id }
func (f *fakeAdapter) Search(ctx context.Context, query, region string) ([]models.RawListing, error) {
	n := int(f.calls.Add(1))
	return f.search(ctx, n)
}

func listingsOf(store string, n int) []models.RawListing {
	out := make([]models.RawListing, n)
	for i := range out {
		out[i] = models.RawListing{Title: fmt.Sprintf("%s item %d", store, i), Price: float64(100 + i)}
	}
	return out
}

func succeeding(id string, n int) *fakeAdapter {
	return &fakeAdapter{id: id, search: func(ctx context.Context, _ int) ([]models.RawListing, error) {
		return listingsOf(id, n), nil
	}}
}

func failing(id string) *fakeAdapter {
	return &fakeAdapter{id: id, search: func(ctx context.Context, _ int) ([]models.RawListing, error) {
		return nil, models.NewAdapterError(id, models.KindHTTP, 503, errors.New("service unavailable"))
	}}
}

type recordingRecorder struct {
	mu      sync.Mutex
	started []string
	runIDs  []string
	runs    []models.ScrapeRun
}

func (r *recordingRecorder) RunStarted(runID, siteID, _ string, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, siteID)
	r.runIDs = append(r.runIDs, runID)
}

func (r *recordingRecorder) RecordRun(run models.ScrapeRun) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, run)
}

func fastPolicy() Policy {
	return Policy{
		Budget:       time.Second,
		Grace:        50 * time.Millisecond,
		MaxInFlight:  4,
		RetryCeiling: 2,
		BackoffBase:  time.Millisecond,
		BackoffMax:   5 * time.Millisecond,
	}
}

func TestFetchTwoFailOneSucceeds(t *testing.T) {
	rec := &recordingRecorder{}
	o := New(rec)
	a, b, c := failing("a"), succeeding("b", 5), failing("c")

	res := o.Fetch(context.Background(), "phone", "uganda", []scraper.Adapter{a, b, c}, fastPolicy())

	require.Len(t, res.Listings, 5)
	for _, l := range res.Listings {
		assert.Equal(t, "b", l.StoreID)
		assert.NotEmpty(t, l.ID)
		assert.False(t, l.ScrapedAt.IsZero())
	}

	require.Len(t, res.Statuses, 3)
	assert.Equal(t, models.JobFailed, res.Statuses[0].State)
	assert.Equal(t, 3, res.Statuses[0].Attempts)
	assert.Contains(t, res.Statuses[0].Error, "503")
	assert.Equal(t, models.JobSucceeded, res.Statuses[1].State)
	assert.Equal(t, models.JobFailed, res.Statuses[2].State)
	assert.Equal(t, []string{"a", "c"}, res.FailedSources())
	assert.EqualValues(t, 3, a.calls.Load())

	require.Len(t, rec.runs, 3)
	statuses := map[string]models.RunStatus{}
	for _, run := range rec.runs {
		statuses[run.SiteID] = run.Status
		if run.Status == models.RunFailed {
			assert.NotEmpty(t, run.Error)
		}
	}
	assert.Equal(t, map[string]models.RunStatus{"a": models.RunFailed, "b": models.RunSuccess, "c": models.RunFailed}, statuses)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, rec.started)

	recorded := make([]string, len(rec.runs))
	for i, run := range rec.runs {
		recorded[i] = run.ID
	}
	assert.ElementsMatch(t, rec.runIDs, recorded)
}

func TestFetchReturnsWithinBudgetWhenOneAdapterHangs(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	// ignores cancellation entirely
	hanging := &fakeAdapter{id: "slow", search: func(ctx context.Context, _ int) ([]models.RawListing, error) {
		<-block
		return nil, nil
	}}
	adapters := []scraper.Adapter{succeeding("a", 2), hanging, succeeding("b", 3), succeeding("c", 1)}

	policy := fastPolicy()
	policy.Budget = 150 * time.Millisecond
	start := time.Now()
	res := New(nil).Fetch(context.Background(), "tv", "", adapters, policy)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, policy.Budget+policy.Grace+200*time.Millisecond)
	assert.Len(t, res.Listings, 6)
	assert.Equal(t, models.JobTimedOut, res.Statuses[1].State)
	assert.NotEmpty(t, res.Statuses[1].Error)
	assert.Equal(t, 3, res.Succeeded())
}

func TestFetchCancelsCooperativeAdapters(t *testing.T) {
	var cancelled atomic.Bool
	slow := &fakeAdapter{id: "slow", search: func(ctx context.Context, _ int) ([]models.RawListing, error) {
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}}

	policy := fastPolicy()
	policy.Budget = 50 * time.Millisecond
	rec := &recordingRecorder{}
	res := New(rec).Fetch(context.Background(), "tv", "", []scraper.Adapter{slow}, policy)

	assert.True(t, cancelled.Load())
	assert.Empty(t, res.Listings)
	assert.Equal(t, models.JobTimedOut, res.Statuses[0].State)
	assert.EqualValues(t, 1, slow.calls.Load())
	require.Len(t, rec.runs, 1)
	assert.Equal(t, models.RunTimedOut, rec.runs[0].Status)
}

func TestFetchDiscardsListingsReturnedAfterBudget(t *testing.T) {
	// ignores cancellation but returns inside the grace period
	late := &fakeAdapter{id: "late", search: func(ctx context.Context, _ int) ([]models.RawListing, error) {
		time.Sleep(150 * time.Millisecond)
		return listingsOf("late", 2), nil
	}}

	policy := fastPolicy()
	policy.Budget = 50 * time.Millisecond
	policy.Grace = 500 * time.Millisecond
	rec := &recordingRecorder{}
	res := New(rec).Fetch(context.Background(), "tv", "", []scraper.Adapter{late, succeeding("quick", 1)}, policy)

	require.Len(t, res.Listings, 1)
	assert.Equal(t, "quick", res.Listings[0].StoreID)
	assert.Equal(t, models.JobTimedOut, res.Statuses[0].State)
	assert.Zero(t, res.Statuses[0].Listings)
	assert.NotEmpty(t, res.Statuses[0].Error)
	assert.Equal(t, []string{"late"}, res.FailedSources())

	require.Len(t, rec.runs, 2)
	for _, run := range rec.runs {
		if run.SiteID == "late" {
			assert.Equal(t, models.RunTimedOut, run.Status)
			assert.Zero(t, run.ListingCount)
		}
	}
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	flaky := &fakeAdapter{id: "flaky", search: func(ctx context.Context, attempt int) ([]models.RawListing, error) {
		if attempt < 3 {
			return nil, errors.New("connection reset")
		}
		return listingsOf("flaky", 2), nil
	}}

	res := New(nil).Fetch(context.Background(), "tv", "", []scraper.Adapter{flaky}, fastPolicy())
	assert.Len(t, res.Listings, 2)
	assert.Equal(t, models.JobSucceeded, res.Statuses[0].State)
	assert.Equal(t, 3, res.Statuses[0].Attempts)
	assert.Empty(t, res.Statuses[0].Error)
}

func TestFetchBoundsInFlight(t *testing.T) {
	var current, peak atomic.Int32
	adapters := make([]scraper.Adapter, 6)
	for i := range adapters {
		adapters[i] = &fakeAdapter{id: fmt.Sprintf("s%d", i), search: func(ctx context.Context, _ int) ([]models.RawListing, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return listingsOf("x", 1), nil
		}}
	}

	policy := fastPolicy()
	policy.MaxInFlight = 2
	res := New(nil).Fetch(context.Background(), "tv", "", adapters, policy)

	assert.Len(t, res.Listings, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestFetchKeepsAdapterOrder(t *testing.T) {
	slowFirst := &fakeAdapter{id: "first", search: func(ctx context.Context, _ int) ([]models.RawListing, error) {
		time.Sleep(30 * time.Millisecond)
		return listingsOf("first", 1), nil
	}}
	res := New(nil).Fetch(context.Background(), "tv", "", []scraper.Adapter{slowFirst, succeeding("second", 1)}, fastPolicy())

	require.Len(t, res.Listings, 2)
	assert.Equal(t, "first", res.Listings[0].StoreID)
	assert.Equal(t, "second", res.Listings[1].StoreID)
}

func TestFetchAttemptTimeoutIsRetried(t *testing.T) {
	adapter := &fakeAdapter{id: "sluggish", search: func(ctx context.Context, attempt int) ([]models.RawListing, error) {
		if attempt == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return listingsOf("sluggish", 1), nil
	}}

	policy := fastPolicy()
	policy.AttemptTimeout = 20 * time.Millisecond
	res := New(nil).Fetch(context.Background(), "tv", "", []scraper.Adapter{adapter}, policy)

	assert.Equal(t, models.JobSucceeded, res.Statuses[0].State)
	assert.Equal(t, 2, res.Statuses[0].Attempts)
}

func TestFetchRecoversAdapterPanic(t *testing.T) {
	broken := &fakeAdapter{id: "broken", search: func(ctx context.Context, _ int) ([]models.RawListing, error) {
		panic("nil selector")
	}}
	policy := fastPolicy()
	policy.RetryCeiling = 0

	res := New(nil).Fetch(context.Background(), "tv", "", []scraper.Adapter{broken, succeeding("ok", 1)}, policy)
	assert.Len(t, res.Listings, 1)
	assert.Equal(t, models.JobFailed, res.Statuses[0].State)
	assert.Contains(t, res.Statuses[0].Error, "panic")
}

func TestFetchWithNoAdapters(t *testing.T) {
	res := New(nil).Fetch(context.Background(), "tv", "", nil, fastPolicy())
	assert.Empty(t, res.Listings)
	assert.Empty(t, res.Statuses)
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: func() float64 { return 0.999999 }}
	assert.InDelta(t, float64(100*time.Millisecond), float64(b.Delay(1)), float64(time.Millisecond))
	assert.InDelta(t, float64(400*time.Millisecond), float64(b.Delay(3)), float64(time.Millisecond))
	assert.InDelta(t, float64(time.Second), float64(b.Delay(10)), float64(time.Millisecond))

	b.Jitter = func() float64 { return 0 }
	assert.Equal(t, 50*time.Millisecond, b.Delay(1))

	assert.Zero(t, Backoff{}.Delay(3))
}
