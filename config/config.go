package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"pricewise/matcher"
	"pricewise/orchestrator"
	"pricewise/pricing"
	"pricewise/recommend"

	"github.com/joho/godotenv"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config holds every setting the service reads from the environment
type Config struct {
	Port           string
	Host           string
	AllowedOrigins []string

	DatabaseDriver string
	DatabaseURL    string
	SitesFile      string

	// Scraping
	ScraperTimeout time.Duration
	AttemptTimeout time.Duration
	Grace          time.Duration
	MaxInFlight    int
	RetryCeiling   int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
	ResultsPerSite int
	BrowserEnabled bool
	ChromeBin      string

	// Revenue model
	MarkupPercentage float64
	MinMarkupAmount  float64
	MaxMarkupAmount  float64
	MarkupCurrency   string

	// Matching and recommendations
	MatchThreshold         float64
	AmbiguityMargin        float64
	TrendingHalfLife       time.Duration
	TrendingMinOccurrences int
	TrendingWindow         time.Duration

	// Caching
	CacheTTL     time.Duration
	CacheMaxKeys int
	CatalogTTL   time.Duration

	RateLimitPerSecond float64
	AdminSecret        string

	GeoIPURL       string
	DefaultCountry string
	RatesURL       string
	RatesRefresh   string

	// Housekeeping (cron specs with a seconds field; empty disables)
	SweepSchedule  string
	DigestSchedule string
	WarmSchedule   string
	WarmTopQueries int
	WarmWorkers    int
}

// Load reads .env (if present) and the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from environment variables and defaults
func FromEnv() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Host:           getEnv("HOST", "0.0.0.0"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://127.0.0.1:3000"}),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "memory"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SitesFile:      getEnv("SITES_FILE", ""),

		ScraperTimeout: getEnvMillis("SCRAPER_TIMEOUT", 30*time.Second),
		AttemptTimeout: getEnvMillis("SCRAPER_ATTEMPT_TIMEOUT", 0),
		Grace:          getEnvDuration("SCRAPER_GRACE", 2*time.Second),
		MaxInFlight:    getEnvInt("SCRAPER_MAX_IN_FLIGHT", 4),
		RetryCeiling:   getEnvInt("SCRAPER_RETRIES", 2),
		BackoffBase:    getEnvDuration("SCRAPER_BACKOFF_BASE", 500*time.Millisecond),
		BackoffMax:     getEnvDuration("SCRAPER_BACKOFF_MAX", 5*time.Second),
		UserAgent:      getEnv("SCRAPER_USER_AGENT", defaultUserAgent),
		ResultsPerSite: getEnvInt("SCRAPER_RESULTS_PER_SITE", 10),
		BrowserEnabled: getEnvBool("BROWSER_ENABLED", false),
		ChromeBin:      getEnv("CHROME_BIN", ""),

		MarkupPercentage: getEnvFloat("MARKUP_PERCENTAGE", 2.0),
		MinMarkupAmount:  getEnvFloat("MIN_MARKUP_AMOUNT", 1.0),
		MaxMarkupAmount:  getEnvFloat("MAX_MARKUP_AMOUNT", 5.0),
		MarkupCurrency:   strings.ToUpper(getEnv("MARKUP_CURRENCY", "USD")),

		MatchThreshold:         getEnvFloat("MATCH_THRESHOLD", 0.55),
		AmbiguityMargin:        getEnvFloat("MATCH_AMBIGUITY_MARGIN", 0.05),
		TrendingHalfLife:       getEnvDuration("TRENDING_HALF_LIFE", 72*time.Hour),
		TrendingMinOccurrences: getEnvInt("TRENDING_MIN_OCCURRENCES", 2),
		TrendingWindow:         getEnvDuration("TRENDING_WINDOW", 30*24*time.Hour),

		CacheTTL:     getEnvDuration("CACHE_TTL", 10*time.Minute),
		CacheMaxKeys: getEnvInt("CACHE_MAX_KEYS", 500),
		CatalogTTL:   getEnvDuration("CATALOG_TTL", 24*time.Hour),

		RateLimitPerSecond: getEnvFloat("RATE_LIMIT_PER_SECOND", 5),
		AdminSecret:        getEnv("ADMIN_SECRET", ""),

		GeoIPURL:       getEnv("GEOIP_URL", "http://ip-api.com/json/"),
		DefaultCountry: getEnv("DEFAULT_COUNTRY", "Uganda"),
		RatesURL:       getEnv("RATES_URL", ""),
		RatesRefresh:   getEnv("RATES_REFRESH", "@every 1h"),

		SweepSchedule:  getEnv("SWEEP_SCHEDULE", "@every 5m"),
		DigestSchedule: getEnv("DIGEST_SCHEDULE", "0 0 6 * * *"),
		WarmSchedule:   getEnv("WARM_SCHEDULE", "@every 30m"),
		WarmTopQueries: getEnvInt("WARM_TOP_QUERIES", 0),
		WarmWorkers:    getEnvInt("WARM_WORKERS", 2),
	}
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case "memory":
	case "postgres", "sqlite":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.DatabaseDriver)
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if c.ScraperTimeout <= 0 {
		return fmt.Errorf("SCRAPER_TIMEOUT must be positive")
	}
	if c.MaxInFlight <= 0 {
		return fmt.Errorf("SCRAPER_MAX_IN_FLIGHT must be positive")
	}
	if c.RetryCeiling < 0 {
		return fmt.Errorf("SCRAPER_RETRIES cannot be negative")
	}
	if c.MarkupPercentage < 0 || c.MinMarkupAmount < 0 {
		return fmt.Errorf("markup settings cannot be negative")
	}
	if c.MinMarkupAmount > c.MaxMarkupAmount {
		return fmt.Errorf("MIN_MARKUP_AMOUNT (%.2f) exceeds MAX_MARKUP_AMOUNT (%.2f)", c.MinMarkupAmount, c.MaxMarkupAmount)
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return fmt.Errorf("MATCH_THRESHOLD must be in (0, 1]")
	}
	if c.TrendingHalfLife <= 0 {
		return fmt.Errorf("TRENDING_HALF_LIFE must be positive")
	}
	return nil
}

// ValidateCatalog checks the markup bounds can be converted into the currency of
// every region the catalog serves
func (c *Config) ValidateCatalog(sites *Catalog) error {
	if !sites.HasRate(c.MarkupCurrency) {
		return fmt.Errorf("MARKUP_CURRENCY %s has no rate in the site catalog", c.MarkupCurrency)
	}
	for _, region := range append(sites.RegionNames(), "") {
		if currency := sites.CurrencyFor(region); !sites.HasRate(currency) {
			return fmt.Errorf("no exchange rate for %s, the currency of region %q", currency, region)
		}
	}
	return nil
}

// ScrapePolicy returns the orchestrator policy for one search
func (c *Config) ScrapePolicy() orchestrator.Policy {
	return orchestrator.Policy{
		Budget:         c.ScraperTimeout,
		AttemptTimeout: c.AttemptTimeout,
		Grace:          c.Grace,
		MaxInFlight:    c.MaxInFlight,
		RetryCeiling:   c.RetryCeiling,
		BackoffBase:    c.BackoffBase,
		BackoffMax:     c.BackoffMax,
	}
}

// MarkupPolicy returns the markup policy quoted in the given currency
func (c *Config) MarkupPolicy(displayCurrency string) pricing.MarkupPolicy {
	return pricing.MarkupPolicy{
		Percentage:      c.MarkupPercentage,
		MinAmount:       c.MinMarkupAmount,
		MaxAmount:       c.MaxMarkupAmount,
		BoundsCurrency:  c.MarkupCurrency,
		DisplayCurrency: displayCurrency,
	}
}

// MatchOptions returns the matcher settings
func (c *Config) MatchOptions() matcher.Options {
	return matcher.Options{
		Threshold:       c.MatchThreshold,
		AmbiguityMargin: c.AmbiguityMargin,
	}
}

// RecommendOptions returns the recommendation settings
func (c *Config) RecommendOptions() recommend.Options {
	return recommend.Options{
		HalfLife:       c.TrendingHalfLife,
		MinOccurrences: c.TrendingMinOccurrences,
		Window:         c.TrendingWindow,
	}
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvMillis accepts a bare millisecond count or a Go duration string
func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
