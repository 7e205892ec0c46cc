package scraper

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"pricewise/models"
)

// Site kinds
const (
	KindHTML     = "html"
	KindRendered = "rendered"
)

// Adapter searches one store. Implementations must honour ctx cancellation.
type Adapter interface {
	ID() string
	Name() string
	Search(ctx context.Context, query, region string) ([]models.RawListing, error)
}

// Selectors locate listing fields inside a search results page
type Selectors struct {
	Item          string `yaml:"item"`
	Title         string `yaml:"title"`
	Price         string `yaml:"price"`
	OriginalPrice string `yaml:"original_price"`
	Link          string `yaml:"link"`
	Image         string `yaml:"image"`
	Rating        string `yaml:"rating"`
	Reviews       string `yaml:"reviews"`
	Category      string `yaml:"category"`
}

// Site describes a store and how to read its search page
type Site struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	Country   string    `yaml:"country"`
	BaseURL   string    `yaml:"base_url"`
	SearchURL string    `yaml:"search_url"`
	Currency  string    `yaml:"currency"`
	Kind      string    `yaml:"kind"`
	Category  string    `yaml:"category"`
	Enabled   *bool     `yaml:"enabled"`
	Selectors Selectors `yaml:"selectors"`
}

// IsEnabled treats a missing flag as enabled
func (s Site) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// SearchURLFor substitutes the escaped query into the search URL template
func (s Site) SearchURLFor(query string) string {
	return strings.ReplaceAll(s.SearchURL, "{query}", url.QueryEscape(query))
}

// Resolve turns a relative link from the page into an absolute URL
func (s Site) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	target, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if target.IsAbs() {
		return target.String()
	}
	base := s.BaseURL
	if base == "" {
		base = s.SearchURL
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(target).String()
}

// HTTPStatusError reports a non-success response from a store
type HTTPStatusError struct {
	StatusCode int
	URL        string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d for %s", e.StatusCode, e.URL)
}

// Fetcher retrieves the HTML of a page
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}
