package services

import (
	"context"
	"log"
	"sort"
	"strings"

	"pricewise/models"
)

// vocabulary seeds suggestions before any search history exists
var vocabulary = []string{
	"smartphone", "laptop", "headphones", "shoes", "dress", "book", "watch", "camera",
	"gaming", "fitness", "kitchen", "home", "beauty", "electronics", "clothing",
}

// TrendSource supplies trending queries
type TrendSource interface {
	Trending(ctx context.Context, limit int) ([]models.RecommendationScore, error)
}

// HistorySource supplies a user's past searches, newest first
type HistorySource interface {
	History(ctx context.Context, userID string, limit int) ([]models.SearchEvent, error)
}

// AutocompleteService suggests queries from the caller's history, trending
// searches and a built-in vocabulary
type AutocompleteService struct {
	trends  TrendSource
	history HistorySource
}

// NewAutocompleteService creates the service; either source may be nil
func NewAutocompleteService(trends TrendSource, history HistorySource) *AutocompleteService {
	return &AutocompleteService{trends: trends, history: history}
}

// Suggest returns up to limit suggestions containing prefix. Matches that start with
// prefix come first; otherwise history beats trending beats vocabulary.
func (a *AutocompleteService) Suggest(ctx context.Context, prefix, userID string, limit int) []string {
	prefix = models.NormalizeQuery(prefix)
	if prefix == "" {
		return []string{}
	}
	if limit <= 0 {
		limit = 10
	}

	var candidates []string
	if a.history != nil && userID != "" {
		events, err := a.history.History(ctx, userID, 50)
		if err != nil {
			log.Printf("⚠️  Autocomplete history unavailable: %v", err)
		}
		for _, e := range events {
			candidates = append(candidates, e.Query)
		}
	}
	if a.trends != nil {
		scores, err := a.trends.Trending(ctx, 50)
		if err != nil {
			log.Printf("⚠️  Autocomplete trending unavailable: %v", err)
		}
		for _, s := range scores {
			candidates = append(candidates, s.Subject)
		}
	}
	candidates = append(candidates, vocabulary...)

	seen := map[string]bool{}
	var matches []string
	for _, c := range candidates {
		c = models.NormalizeQuery(c)
		if c == "" || seen[c] || !strings.Contains(c, prefix) {
			continue
		}
		seen[c] = true
		matches = append(matches, c)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return strings.HasPrefix(matches[i], prefix) && !strings.HasPrefix(matches[j], prefix)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	if matches == nil {
		matches = []string{}
	}
	return matches
}
