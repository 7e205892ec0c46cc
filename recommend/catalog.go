package recommend

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"pricewise/models"

	cache "github.com/go-pkgz/expirable-cache"
)

// Entry is a product a search recently surfaced, with the quotes it was shown with
type Entry struct {
	Product  models.CanonicalProduct `json:"product"`
	Quotes   []models.PriceQuote     `json:"quotes"`
	Query    string                  `json:"query"`
	Region   string                  `json:"region"`
	Position int                     `json:"position"`
	SeenAt   time.Time               `json:"seen_at"`
}

// Best returns the top ranked quote
func (e Entry) Best() (models.PriceQuote, bool) {
	if len(e.Quotes) == 0 {
		return models.PriceQuote{}, false
	}
	return e.Quotes[0], true
}

// Catalog remembers recently surfaced products so recommendations can point at
// something with a price. Entries are kept per region, since the same product is
// quoted by different stores in different currencies, and expire after the TTL.
type Catalog struct {
	entries cache.Cache
}

// NewCatalog creates a catalog holding at most maxKeys products for ttl each
func NewCatalog(maxKeys int, ttl time.Duration) (*Catalog, error) {
	if maxKeys <= 0 {
		maxKeys = 1000
	}
	c, err := cache.NewCache(cache.LRU(), cache.MaxKeys(maxKeys), cache.TTL(ttl))
	if err != nil {
		return nil, fmt.Errorf("failed to create product catalog: %w", err)
	}
	return &Catalog{entries: c}, nil
}

// Put records a product shown for a query; products with no quotes are ignored
func (c *Catalog) Put(e Entry) {
	if e.Product.ID == "" || len(e.Quotes) == 0 {
		return
	}
	e.Query = models.NormalizeQuery(e.Query)
	c.entries.Set(catalogKey(e.Region, e.Product.ID), e, 0)
}

// Get returns a product last shown in region
func (c *Catalog) Get(region, productID string) (Entry, bool) {
	v, ok := c.entries.Get(catalogKey(region, productID))
	if !ok {
		return Entry{}, false
	}
	e, ok := v.(Entry)
	return e, ok
}

// Entries returns the live entries of region ordered by product id
func (c *Catalog) Entries(region string) []Entry {
	prefix := catalogKey(region, "")
	keys := c.entries.Keys()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		v, ok := c.entries.Peek(k)
		if !ok {
			continue
		}
		if e, ok := v.(Entry); ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Product.ID < out[j].Product.ID })
	return out
}

// ForQuery returns the best placed product last shown for query in region, if still cached
func (c *Catalog) ForQuery(region, query string) (Entry, bool) {
	query = models.NormalizeQuery(query)
	var best Entry
	found := false
	for _, e := range c.Entries(region) {
		if e.Query != query {
			continue
		}
		if !found || e.Position < best.Position || (e.Position == best.Position && e.SeenAt.After(best.SeenAt)) {
			best, found = e, true
		}
	}
	return best, found
}

// Len returns the number of cached products
func (c *Catalog) Len() int {
	return c.entries.Len()
}

// Sweep drops expired products
func (c *Catalog) Sweep() {
	c.entries.DeleteExpired()
}

func catalogKey(region, productID string) string {
	return strings.ToLower(region) + "|" + productID
}
