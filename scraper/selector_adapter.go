package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pricewise/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

// SelectorAdapter reads a store's search page with CSS selectors
type SelectorAdapter struct {
	site     Site
	fetcher  Fetcher
	parser   *LocaleParser
	detector *BotDetector
	limit    int
	now      func() time.Time
}

// NewSelectorAdapter builds an adapter for site; limit <= 0 keeps every item
func NewSelectorAdapter(site Site, fetcher Fetcher, limit int) *SelectorAdapter {
	return &SelectorAdapter{
		site:     site,
		fetcher:  fetcher,
		parser:   NewLocaleParser(),
		detector: NewBotDetector(),
		limit:    limit,
		now:      time.Now,
	}
}

func (a *SelectorAdapter) ID() string   { return a.site.ID }
func (a *SelectorAdapter) Name() string { return a.site.Name }

// Search fetches the search page for query and parses its listings
func (a *SelectorAdapter) Search(ctx context.Context, query, region string) ([]models.RawListing, error) {
	pageURL := a.site.SearchURLFor(query)

	page, err := a.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			return nil, models.NewAdapterError(a.site.ID, models.KindHTTP, statusErr.StatusCode, err)
		}
		return nil, models.NewAdapterError(a.site.ID, models.KindTransport, 0, err)
	}

	listings, items, err := a.Parse(page)
	if err != nil {
		return nil, models.NewAdapterError(a.site.ID, models.KindParse, 0, err)
	}
	if len(listings) == 0 {
		if verdict := a.detector.Inspect(page); verdict.Blocked {
			return nil, models.NewAdapterError(a.site.ID, models.KindBlocked, 0,
				fmt.Errorf("%s: %s", verdict.Kind, verdict.Reason()))
		}
		if items > 0 {
			return nil, models.NewAdapterError(a.site.ID, models.KindParse, 0,
				fmt.Errorf("%d items found but no price could be read", items))
		}
	}
	return listings, nil
}

// Parse extracts listings from a results page. It also returns how many
// item containers matched, so callers can tell layout drift from an empty result.
func (a *SelectorAdapter) Parse(page string) ([]models.RawListing, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse HTML: %w", err)
	}

	sel := a.site.Selectors
	items := doc.Find(sel.Item)
	scrapedAt := a.now()
	var listings []models.RawListing

	items.EachWithBreak(func(_ int, item *goquery.Selection) bool {
		if a.limit > 0 && len(listings) >= a.limit {
			return false
		}

		title := cleanText(item.Find(sel.Title).First().Text())
		if title == "" {
			return true
		}
		price, currency, err := a.parser.ParsePrice(item.Find(sel.Price).First().Text(), a.site.Currency)
		if err != nil {
			return true
		}
		if a.site.Currency != "" {
			currency = a.site.Currency
		}

		listing := models.RawListing{
			ID:           uuid.NewString(),
			StoreID:      a.site.ID,
			StoreName:    a.site.Name,
			Country:      a.site.Country,
			Title:        title,
			Price:        price,
			Currency:     currency,
			URL:          a.site.Resolve(attr(item, sel.Link, "href")),
			ImageURL:     a.site.Resolve(firstNonEmpty(attr(item, sel.Image, "src"), attr(item, sel.Image, "data-src"))),
			CategoryHint: a.site.Category,
			ScrapedAt:    scrapedAt,
		}
		if sel.OriginalPrice != "" {
			if op, _, err := a.parser.ParsePrice(item.Find(sel.OriginalPrice).First().Text(), a.site.Currency); err == nil && op > price {
				listing.OriginalPrice = op
			}
		}
		if sel.Rating != "" {
			rating := item.Find(sel.Rating).First()
			listing.Rating = a.parser.ParseRating(firstNonEmpty(rating.Text(), rating.AttrOr("aria-label", "")))
		}
		if sel.Reviews != "" {
			listing.ReviewCount = a.parser.ParseCount(item.Find(sel.Reviews).First().Text())
		}
		if sel.Category != "" {
			if c := cleanText(item.Find(sel.Category).First().Text()); c != "" {
				listing.CategoryHint = c
			}
		}

		listings = append(listings, listing)
		return true
	})

	if len(listings) == 0 {
		listings = a.structuredListings(doc, scrapedAt)
	}
	return listings, items.Length(), nil
}

// attr reads an attribute from the first match of selector, or from the item itself when selector is empty
func attr(item *goquery.Selection, selector, name string) string {
	target := item
	if selector != "" {
		target = item.Find(selector).First()
	}
	return strings.TrimSpace(target.AttrOr(name, ""))
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
