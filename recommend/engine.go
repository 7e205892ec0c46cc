package recommend

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"pricewise/matcher"
	"pricewise/models"
)

const (
	categoryShare = 0.7
	tokenShare    = 0.3
)

// Options tune recommendation scoring
type Options struct {
	HalfLife       time.Duration
	MinOccurrences int
	// Window bounds how far back events are read; 0 reads everything
	Window time.Duration
}

func (o Options) withDefaults() Options {
	if o.HalfLife <= 0 {
		o.HalfLife = 72 * time.Hour
	}
	if o.MinOccurrences <= 0 {
		o.MinOccurrences = 1
	}
	return o
}

// EventSource is the read side of the analytics log
type EventSource interface {
	Events(ctx context.Context, since time.Time) ([]models.SearchEvent, error)
	UserEvents(ctx context.Context, userID string, since time.Time) ([]models.SearchEvent, error)
}

// Engine derives trending and personalized recommendations from search history.
// Every call recomputes from the log; nothing is stored.
type Engine struct {
	events  EventSource
	catalog *Catalog
	opts    Options
	now     func() time.Time
}

// NewEngine creates a recommendation engine; catalog may be nil
func NewEngine(events EventSource, catalog *Catalog, opts Options) *Engine {
	return &Engine{events: events, catalog: catalog, opts: opts.withDefaults(), now: time.Now}
}

func (e *Engine) since(now time.Time) time.Time {
	if e.opts.Window <= 0 {
		return time.Time{}
	}
	return now.Add(-e.opts.Window)
}

// Trending returns the highest scoring queries across all users
func (e *Engine) Trending(ctx context.Context, limit int) ([]models.RecommendationScore, error) {
	return e.TrendingIn(ctx, "", limit)
}

// TrendingIn restricts Trending to one region; an empty region means all of them
func (e *Engine) TrendingIn(ctx context.Context, region string, limit int) ([]models.RecommendationScore, error) {
	now := e.now()
	events, err := e.events.Events(ctx, e.since(now))
	if err != nil {
		return nil, fmt.Errorf("failed to read search events: %w", err)
	}
	if region != "" {
		filtered := events[:0:0]
		for _, ev := range events {
			if strings.EqualFold(ev.Region, region) {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	return truncate(ScoreTrending(events, now, e.opts), limit), nil
}

// TrendingProducts resolves region's trending queries to the best product last shown
// for each in that region. An empty region is the international catalog, ranked by
// queries from every region.
func (e *Engine) TrendingProducts(ctx context.Context, region string, limit int) ([]models.PriceQuote, []models.RecommendationScore, error) {
	scores, err := e.TrendingIn(ctx, region, 0)
	if err != nil {
		return nil, nil, err
	}
	var quotes []models.PriceQuote
	seen := map[string]bool{}
	for _, s := range scores {
		if limit > 0 && len(quotes) >= limit {
			break
		}
		if e.catalog == nil {
			break
		}
		entry, ok := e.catalog.ForQuery(region, s.Subject)
		if !ok || seen[entry.Product.ID] {
			continue
		}
		if q, ok := entry.Best(); ok {
			seen[entry.Product.ID] = true
			quotes = append(quotes, q)
		}
	}
	return quotes, truncate(scores, limit), nil
}

// Personalized scores the region's catalog products against the user's own history.
// A user with no history gets TrendingProducts for the region and coldStart is true.
func (e *Engine) Personalized(ctx context.Context, userID, region string, limit int) (quotes []models.PriceQuote, coldStart bool, err error) {
	now := e.now()
	var history []models.SearchEvent
	if userID != "" {
		history, err = e.events.UserEvents(ctx, userID, e.since(now))
		if err != nil {
			return nil, false, fmt.Errorf("failed to read history for %s: %w", userID, err)
		}
	}

	var entries []Entry
	if e.catalog != nil {
		entries = e.catalog.Entries(region)
	}
	scores := ScorePersonalized(history, entries, userID, now, e.opts)
	if len(scores) == 0 {
		quotes, _, err = e.TrendingProducts(ctx, region, limit)
		return quotes, true, err
	}

	byID := make(map[string]Entry, len(entries))
	for _, entry := range entries {
		byID[entry.Product.ID] = entry
	}
	for _, s := range truncate(scores, limit) {
		if q, ok := byID[s.Subject].Best(); ok {
			quotes = append(quotes, q)
		}
	}
	return quotes, false, nil
}

// Profile is a user's decayed interest in categories and query tokens
type Profile struct {
	Categories map[string]float64
	Tokens     map[string]float64
}

// Empty reports whether the profile carries no signal
func (p Profile) Empty() bool {
	return len(p.Categories) == 0 && len(p.Tokens) == 0
}

// BuildProfile folds a user's events into a profile
func BuildProfile(events []models.SearchEvent, now time.Time, opts Options) Profile {
	opts = opts.withDefaults()
	p := Profile{Categories: map[string]float64{}, Tokens: map[string]float64{}}
	for _, ev := range events {
		query := models.NormalizeQuery(ev.Query)
		if query == "" {
			continue
		}
		w := decay(now.Sub(ev.CreatedAt), opts.HalfLife)
		category := matcher.NormalizeCategory(ev.Category)
		if category == "" {
			category = matcher.InferCategory(query)
		}
		if category != "" {
			p.Categories[category] += w
		}
		for _, t := range matcher.Tokens(query) {
			p.Tokens[t] += w
		}
	}
	return p
}

// ScorePersonalized ranks entries by overlap with the user's profile. Entries that
// share nothing with it are omitted; an empty result means fall back to trending.
func ScorePersonalized(history []models.SearchEvent, entries []Entry, userID string, now time.Time, opts Options) []models.RecommendationScore {
	profile := BuildProfile(history, now, opts)
	if profile.Empty() {
		return nil
	}

	var catTotal, tokTotal float64
	for _, w := range profile.Categories {
		catTotal += w
	}
	for _, w := range profile.Tokens {
		tokTotal += w
	}

	var scores []models.RecommendationScore
	for _, entry := range entries {
		var score float64
		if catTotal > 0 {
			score += categoryShare * profile.Categories[entry.Product.Category] / catTotal
		}
		if tokTotal > 0 {
			var overlap float64
			for _, t := range matcher.Tokens(entry.Product.Title) {
				overlap += profile.Tokens[t]
			}
			score += tokenShare * math.Min(overlap/tokTotal, 1)
		}
		if score <= 0 {
			continue
		}
		scores = append(scores, models.RecommendationScore{
			Subject:    entry.Product.ID,
			Kind:       models.KindProduct,
			Label:      entry.Product.Title,
			Category:   entry.Product.Category,
			Scope:      userID,
			Score:      round6(score),
			ComputedAt: now,
		})
	}
	sortScores(scores)
	return scores
}

// ScoreTrending aggregates events per normalized query with exponential decay by
// age and drops queries seen fewer than MinOccurrences times.
func ScoreTrending(events []models.SearchEvent, now time.Time, opts Options) []models.RecommendationScore {
	opts = opts.withDefaults()

	type agg struct {
		score      float64
		count      int
		categories map[string]int
	}
	byQuery := map[string]*agg{}
	for _, ev := range events {
		query := models.NormalizeQuery(ev.Query)
		if query == "" {
			continue
		}
		age := now.Sub(ev.CreatedAt)
		if opts.Window > 0 && age > opts.Window {
			continue
		}
		a := byQuery[query]
		if a == nil {
			a = &agg{categories: map[string]int{}}
			byQuery[query] = a
		}
		a.score += decay(age, opts.HalfLife)
		a.count++
		if c := matcher.NormalizeCategory(ev.Category); c != "" {
			a.categories[c]++
		}
	}

	scores := make([]models.RecommendationScore, 0, len(byQuery))
	for query, a := range byQuery {
		if a.count < opts.MinOccurrences {
			continue
		}
		category := topCategory(a.categories)
		if category == "" {
			category = matcher.InferCategory(query)
		}
		scores = append(scores, models.RecommendationScore{
			Subject:     query,
			Kind:        models.KindQuery,
			Label:       query,
			Category:    category,
			Scope:       models.ScopeTrending,
			Score:       round6(a.score),
			Occurrences: a.count,
			ComputedAt:  now,
		})
	}
	sortScores(scores)
	return scores
}

// decay weighs an event by 0.5^(age/halfLife); future timestamps count fully
func decay(age, halfLife time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

func topCategory(counts map[string]int) string {
	best, bestN := "", 0
	for c, n := range counts {
		if n > bestN || (n == bestN && c < best) {
			best, bestN = c, n
		}
	}
	return best
}

func sortScores(scores []models.RecommendationScore) {
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if scores[i].Occurrences != scores[j].Occurrences {
			return scores[i].Occurrences > scores[j].Occurrences
		}
		return scores[i].Subject < scores[j].Subject
	})
}

func truncate(scores []models.RecommendationScore, limit int) []models.RecommendationScore {
	if limit > 0 && len(scores) > limit {
		return scores[:limit]
	}
	return scores
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
