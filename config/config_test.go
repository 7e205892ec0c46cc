package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("SCRAPER_TIMEOUT", "")
	cfg := FromEnv()

	assert.Equal(t, 30*time.Second, cfg.ScraperTimeout)
	assert.Equal(t, 2.0, cfg.MarkupPercentage)
	assert.Equal(t, 1.0, cfg.MinMarkupAmount)
	assert.Equal(t, 5.0, cfg.MaxMarkupAmount)
	assert.Equal(t, "memory", cfg.DatabaseDriver)
	require.NoError(t, cfg.Validate())
}

func TestScraperTimeoutIsMilliseconds(t *testing.T) {
	t.Setenv("SCRAPER_TIMEOUT", "1500")
	assert.Equal(t, 1500*time.Millisecond, FromEnv().ScraperTimeout)

	t.Setenv("SCRAPER_TIMEOUT", "3s")
	assert.Equal(t, 3*time.Second, FromEnv().ScraperTimeout)
}

func TestValidateRejectsBadMarkupBounds(t *testing.T) {
	t.Setenv("MIN_MARKUP_AMOUNT", "10")
	t.Setenv("MAX_MARKUP_AMOUNT", "5")
	assert.Error(t, FromEnv().Validate())
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")
	assert.Error(t, FromEnv().Validate())

	t.Setenv("DATABASE_DRIVER", "mongo")
	assert.Error(t, FromEnv().Validate())
}

func TestPoliciesCarryConfiguredValues(t *testing.T) {
	t.Setenv("MARKUP_PERCENTAGE", "3.5")
	t.Setenv("SCRAPER_RETRIES", "4")
	cfg := FromEnv()

	markup := cfg.MarkupPolicy("KES")
	assert.Equal(t, 3.5, markup.Percentage)
	assert.Equal(t, "KES", markup.DisplayCurrency)
	assert.Equal(t, 4, cfg.ScrapePolicy().RetryCeiling)
	assert.Equal(t, cfg.ScraperTimeout, cfg.ScrapePolicy().Budget)
	assert.Equal(t, 0.55, cfg.MatchOptions().Threshold)
	assert.Equal(t, 2, cfg.RecommendOptions().MinOccurrences)
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, FromEnv().AllowedOrigins)
}

func TestDefaultCatalog(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	assert.Equal(t, "uganda", c.RegionFor("Uganda"))
	assert.Equal(t, "kenya", c.RegionFor("KE"))
	assert.Equal(t, "", c.RegionFor("Germany"))
	assert.Equal(t, "UGX", c.CurrencyFor("uganda"))
	assert.Equal(t, "USD", c.CurrencyFor(""))

	var ids []string
	for _, s := range c.SitesFor("kenya") {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"jumia-ke", "kilimall", "amazon", "walmart", "aliexpress"}, ids)

	// disabled stores are skipped
	for _, s := range c.SitesFor("uganda") {
		assert.NotEqual(t, "xente", s.ID)
	}
	// shared selector anchors resolve
	for _, s := range c.SitesFor("nigeria") {
		if s.ID == "jumia-ng" {
			assert.Equal(t, "article.prd", s.Selectors.Item)
		}
	}
}

func TestValidateCatalogRates(t *testing.T) {
	sites, err := LoadCatalog("")
	require.NoError(t, err)

	cfg := FromEnv()
	require.NoError(t, cfg.ValidateCatalog(sites))
	assert.True(t, sites.HasRate("kes"))

	cfg.MarkupCurrency = "JPY"
	assert.ErrorContains(t, cfg.ValidateCatalog(sites), "MARKUP_CURRENCY JPY")

	cfg.MarkupCurrency = "USD"
	delete(sites.Rates, "KES")
	assert.ErrorContains(t, cfg.ValidateCatalog(sites), "KES")
}

func TestCatalogValidation(t *testing.T) {
	bad := []byte(`
international:
  - id: shop
    name: Shop
    search_url: https://shop.test/search
    selectors: {item: li, title: h3, price: .p}
`)
	_, err := ParseCatalog(bad)
	assert.ErrorContains(t, err, "{query}")

	dup := []byte(`
international:
  - {id: a, search_url: "https://a.test/?q={query}", selectors: {item: li, title: h3, price: .p}}
  - {id: a, search_url: "https://a.test/?q={query}", selectors: {item: li, title: h3, price: .p}}
`)
	_, err = ParseCatalog(dup)
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
display_currency: EUR
international:
  - {id: shop, name: Shop, search_url: "https://shop.test/?q={query}", kind: html, selectors: {item: li, title: h3, price: .p}}
`), 0o644))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, "EUR", c.DisplayCurrency)
	assert.Len(t, c.SitesFor("anything"), 1)
}
