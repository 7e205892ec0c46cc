package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"pricewise/scraper"

	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var defaultSites []byte

// RatesBase is the currency the catalog rate table is expressed against
const RatesBase = "USD"

// Region is a market with its own stores and display currency
type Region struct {
	Countries []string       `yaml:"countries"`
	Currency  string         `yaml:"currency"`
	Sites     []scraper.Site `yaml:"sites"`
}

// Catalog lists every store the service knows how to search
type Catalog struct {
	DisplayCurrency string             `yaml:"display_currency"`
	Rates           map[string]float64 `yaml:"rates"`
	Regions         map[string]Region  `yaml:"regions"`
	International   []scraper.Site     `yaml:"international"`
}

// LoadCatalog reads the catalog from path, or the embedded default when path is empty
func LoadCatalog(path string) (*Catalog, error) {
	data := defaultSites
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read sites file: %w", err)
		}
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse sites: %w", err)
	}
	if c.DisplayCurrency == "" {
		c.DisplayCurrency = "USD"
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks ids are unique and every site can be searched
func (c *Catalog) Validate() error {
	seen := make(map[string]bool)
	check := func(s scraper.Site) error {
		if s.ID == "" {
			return fmt.Errorf("site %q has no id", s.Name)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate site id %q", s.ID)
		}
		seen[s.ID] = true
		if !strings.Contains(s.SearchURL, "{query}") {
			return fmt.Errorf("site %s: search_url must contain {query}", s.ID)
		}
		if s.Selectors.Item == "" || s.Selectors.Title == "" || s.Selectors.Price == "" {
			return fmt.Errorf("site %s: item, title and price selectors are required", s.ID)
		}
		if s.Kind != "" && s.Kind != scraper.KindHTML && s.Kind != scraper.KindRendered {
			return fmt.Errorf("site %s: unknown kind %q", s.ID, s.Kind)
		}
		return nil
	}
	for name, r := range c.Regions {
		for _, s := range r.Sites {
			if err := check(s); err != nil {
				return fmt.Errorf("region %s: %w", name, err)
			}
		}
	}
	for _, s := range c.International {
		if err := check(s); err != nil {
			return fmt.Errorf("international: %w", err)
		}
	}
	return nil
}

// RegionFor maps a country name or code to a configured region.
// Unknown countries get an empty region, which means international stores only.
func (c *Catalog) RegionFor(country string) string {
	key := strings.ToLower(strings.TrimSpace(country))
	if _, ok := c.Regions[key]; ok {
		return key
	}
	for _, name := range c.RegionNames() {
		for _, alias := range c.Regions[name].Countries {
			if strings.EqualFold(alias, key) {
				return name
			}
		}
	}
	return ""
}

// RegionNames returns configured regions in sorted order
func (c *Catalog) RegionNames() []string {
	names := make([]string, 0, len(c.Regions))
	for name := range c.Regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SitesFor returns the enabled local stores of a region followed by the international ones
func (c *Catalog) SitesFor(region string) []scraper.Site {
	var sites []scraper.Site
	if r, ok := c.Regions[region]; ok {
		for _, s := range r.Sites {
			if s.IsEnabled() {
				sites = append(sites, s)
			}
		}
	}
	for _, s := range c.International {
		if s.IsEnabled() {
			sites = append(sites, s)
		}
	}
	return sites
}

// AllSites returns every configured store, enabled or not
func (c *Catalog) AllSites() []scraper.Site {
	var sites []scraper.Site
	for _, name := range c.RegionNames() {
		sites = append(sites, c.Regions[name].Sites...)
	}
	return append(sites, c.International...)
}

// HasRate reports whether the rate table can convert code
func (c *Catalog) HasRate(code string) bool {
	code = strings.ToUpper(code)
	if code == RatesBase {
		return true
	}
	_, ok := c.Rates[code]
	return ok
}

// CurrencyFor returns the currency prices are quoted in for a region
func (c *Catalog) CurrencyFor(region string) string {
	if r, ok := c.Regions[region]; ok && r.Currency != "" {
		return r.Currency
	}
	return c.DisplayCurrency
}
