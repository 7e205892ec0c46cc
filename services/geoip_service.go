package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"pricewise/models"

	cache "github.com/go-pkgz/expirable-cache"
)

// Locator resolves a client IP to a location
type Locator interface {
	Locate(ctx context.Context, ip string) (models.Location, error)
}

type ipAPIResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Country    string `json:"country"`
	City       string `json:"city"`
	RegionName string `json:"regionName"`
	Timezone   string `json:"timezone"`
	Query      string `json:"query"`
}

// GeoIPService looks addresses up with an ip-api.com compatible endpoint and
// caches answers. Private and loopback addresses resolve to the default country.
type GeoIPService struct {
	baseURL        string
	client         *http.Client
	defaultCountry string
	cache          cache.Cache
}

// NewGeoIPService creates a locator; answers are cached for a day
func NewGeoIPService(baseURL, defaultCountry string, client *http.Client) (*GeoIPService, error) {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	c, err := cache.NewCache(cache.LRU(), cache.MaxKeys(10000), cache.TTL(24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to create geolocation cache: %w", err)
	}
	return &GeoIPService{
		baseURL:        strings.TrimRight(baseURL, "/") + "/",
		client:         client,
		defaultCountry: defaultCountry,
		cache:          c,
	}, nil
}

// Locate implements Locator. On lookup failure it returns the default location
// together with the error so callers can keep going.
func (g *GeoIPService) Locate(ctx context.Context, ip string) (models.Location, error) {
	fallback := models.Location{IP: ip, Country: g.defaultCountry}

	addr := net.ParseIP(ip)
	if addr == nil || addr.IsLoopback() || addr.IsPrivate() || addr.IsUnspecified() || addr.IsLinkLocalUnicast() {
		return fallback, nil
	}

	if v, ok := g.cache.Get(ip); ok {
		if loc, ok := v.(models.Location); ok {
			return loc, nil
		}
	}

	loc, err := g.lookup(ctx, ip)
	if err != nil {
		return fallback, err
	}
	g.cache.Set(ip, loc, 0)
	return loc, nil
}

func (g *GeoIPService) lookup(ctx context.Context, ip string) (models.Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+ip, nil)
	if err != nil {
		return models.Location{}, fmt.Errorf("failed to build geolocation request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return models.Location{}, fmt.Errorf("geolocation lookup failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Location{}, fmt.Errorf("geolocation service returned %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return models.Location{}, fmt.Errorf("failed to decode geolocation response: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return models.Location{}, fmt.Errorf("geolocation lookup for %s failed: %s", ip, body.Message)
	}

	return models.Location{
		IP:       ip,
		Country:  body.Country,
		City:     body.City,
		Region:   body.RegionName,
		Timezone: body.Timezone,
	}, nil
}

// Purge clears cached lookups
func (g *GeoIPService) Purge() {
	g.cache.Purge()
}

// ResolveLocation locates ip, logging and falling back on failure
func ResolveLocation(ctx context.Context, l Locator, ip string) models.Location {
	loc, err := l.Locate(ctx, ip)
	if err != nil {
		log.Printf("⚠️  Geolocation failed for %s: %v", ip, err)
	}
	return loc
}
