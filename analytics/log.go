package analytics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"pricewise/models"

	"github.com/google/uuid"
)

const appendTimeout = 5 * time.Second

// Log records search events and scrape runs without blocking the caller.
// Append failures are logged and dropped.
type Log struct {
	store Store
	now   func() time.Time

	mu      sync.Mutex
	running map[string]RunningScrape // by run id
	pending sync.WaitGroup
}

// NewLog wraps a store
func NewLog(store Store) *Log {
	return &Log{store: store, now: time.Now, running: map[string]RunningScrape{}}
}

// Store returns the underlying store
func (l *Log) Store() Store {
	return l.store
}

// RecordSearch appends a search event in the background, filling its id and timestamp
func (l *Log) RecordSearch(event models.SearchEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = l.now()
	}
	l.background(func(ctx context.Context) error {
		if err := l.store.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("search event %q: %w", event.Query, err)
		}
		return nil
	})
}

// RunStarted marks a run as in flight until a ScrapeRun with the same id is recorded
func (l *Log) RunStarted(runID, siteID, siteName string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running[runID] = RunningScrape{RunID: runID, SiteID: siteID, SiteName: siteName, StartedAt: at}
}

// RecordRun appends a scrape run in the background
func (l *Log) RecordRun(run models.ScrapeRun) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	l.mu.Lock()
	delete(l.running, run.ID)
	l.mu.Unlock()

	l.background(func(ctx context.Context) error {
		if err := l.store.AppendRun(ctx, run); err != nil {
			return fmt.Errorf("scrape run for %s: %w", run.SiteID, err)
		}
		return nil
	})
}

func (l *Log) background(fn func(ctx context.Context) error) {
	l.pending.Add(1)
	go func() {
		defer l.pending.Done()
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			log.Printf("⚠️  Analytics append failed: %v", err)
		}
	}()
}

// Wait blocks until every background append has finished
func (l *Log) Wait() {
	l.pending.Wait()
}

// Running lists invocations in flight, oldest first
func (l *Log) Running() []RunningScrape {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RunningScrape, 0, len(l.running))
	for _, r := range l.running {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Summarize reads the log for the last window and builds the summary
func (l *Log) Summarize(ctx context.Context, window time.Duration) (Summary, error) {
	now := l.now()
	var since time.Time
	if window > 0 {
		since = now.Add(-window)
	}
	events, err := l.store.Events(ctx, since)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read search events: %w", err)
	}
	runs, err := l.store.Runs(ctx, since)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read scrape runs: %w", err)
	}
	return Summarize(events, runs, l.Running(), window, now), nil
}

// Scrapers reports the latest status of every site that has ever run
func (l *Log) Scrapers(ctx context.Context) ([]ScraperStatus, error) {
	runs, err := l.store.Runs(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to read scrape runs: %w", err)
	}
	return ScraperStatuses(runs, l.Running()), nil
}

// History returns a user's searches, newest first
func (l *Log) History(ctx context.Context, userID string, limit int) ([]models.SearchEvent, error) {
	if userID == "" {
		return []models.SearchEvent{}, nil
	}
	events, err := l.store.UserEvents(ctx, userID, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", userID, err)
	}
	out := make([]models.SearchEvent, 0, len(events))
	for i := len(events) - 1; i >= 0; i-- {
		out = append(out, events[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Recent returns the latest searches across all users, newest first
func (l *Log) Recent(ctx context.Context, window time.Duration, limit int) ([]models.SearchEvent, error) {
	events, err := l.store.Events(ctx, l.now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to read search events: %w", err)
	}
	out := make([]models.SearchEvent, 0, min(len(events), max(limit, 0)))
	for i := len(events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, events[i])
	}
	return out, nil
}
