package analytics

import (
	"context"
	"slices"
	"sync"
	"time"

	"pricewise/models"
)

// Store is the append-only analytics log. Reads return events and runs oldest first.
type Store interface {
	AppendEvent(ctx context.Context, event models.SearchEvent) error
	AppendRun(ctx context.Context, run models.ScrapeRun) error
	Events(ctx context.Context, since time.Time) ([]models.SearchEvent, error)
	UserEvents(ctx context.Context, userID string, since time.Time) ([]models.SearchEvent, error)
	Runs(ctx context.Context, since time.Time) ([]models.ScrapeRun, error)
}

// MemoryStore keeps the log in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	events []models.SearchEvent
	runs   []models.ScrapeRun
}

// NewMemoryStore creates an empty in-memory log
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// AppendEvent implements Store
func (m *MemoryStore) AppendEvent(_ context.Context, event models.SearchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = insertByTime(m.events, event, func(e models.SearchEvent) time.Time { return e.CreatedAt })
	return nil
}

// AppendRun implements Store
func (m *MemoryStore) AppendRun(_ context.Context, run models.ScrapeRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = insertByTime(m.runs, run, func(r models.ScrapeRun) time.Time { return r.FinishedAt })
	return nil
}

// Events implements Store
func (m *MemoryStore) Events(_ context.Context, since time.Time) ([]models.SearchEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SearchEvent
	for _, e := range m.events {
		if !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// UserEvents implements Store
func (m *MemoryStore) UserEvents(_ context.Context, userID string, since time.Time) ([]models.SearchEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SearchEvent
	for _, e := range m.events {
		if e.UserID == userID && userID != "" && !e.CreatedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Runs implements Store
func (m *MemoryStore) Runs(_ context.Context, since time.Time) ([]models.ScrapeRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ScrapeRun
	for _, r := range m.runs {
		if !r.FinishedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

// insertByTime appends v, keeping the slice ordered when appends arrive slightly out of order
func insertByTime[T any](s []T, v T, at func(T) time.Time) []T {
	i := len(s)
	for i > 0 && at(s[i-1]).After(at(v)) {
		i--
	}
	return slices.Insert(s, i, v)
}
