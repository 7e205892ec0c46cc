package scraper

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"pricewise/models"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
)

// structuredListings reads schema.org Product entries embedded as JSON-LD.
// Stores that render results client side often still ship them this way.
func (a *SelectorAdapter) structuredListings(doc *goquery.Document, scrapedAt time.Time) []models.RawListing {
	var listings []models.RawListing
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var data interface{}
		if err := json.Unmarshal([]byte(s.Text()), &data); err != nil {
			return true
		}
		a.collectProducts(data, scrapedAt, &listings)
		return a.limit <= 0 || len(listings) < a.limit
	})
	if a.limit > 0 && len(listings) > a.limit {
		listings = listings[:a.limit]
	}
	return listings
}

// collectProducts walks nested objects and arrays looking for Product nodes
func (a *SelectorAdapter) collectProducts(data interface{}, scrapedAt time.Time, out *[]models.RawListing) {
	switch v := data.(type) {
	case map[string]interface{}:
		if isType(v["@type"], "Product") {
			if listing, ok := a.productListing(v, scrapedAt); ok {
				*out = append(*out, listing)
			}
			return
		}
		for _, value := range v {
			a.collectProducts(value, scrapedAt, out)
		}
	case []interface{}:
		for _, item := range v {
			a.collectProducts(item, scrapedAt, out)
		}
	}
}

func (a *SelectorAdapter) productListing(p map[string]interface{}, scrapedAt time.Time) (models.RawListing, bool) {
	title := cleanText(jsonString(p["name"]))
	offer := firstOffer(p["offers"])
	if title == "" || offer == nil {
		return models.RawListing{}, false
	}

	currency := strings.ToUpper(firstNonEmpty(jsonString(offer["priceCurrency"]), a.site.Currency))
	price, ok := a.jsonPrice(firstNonNil(offer["price"], offer["lowPrice"]), currency)
	if !ok || price <= 0 {
		return models.RawListing{}, false
	}

	listing := models.RawListing{
		ID:           uuid.NewString(),
		StoreID:      a.site.ID,
		StoreName:    a.site.Name,
		Country:      a.site.Country,
		Title:        title,
		Price:        price,
		Currency:     currency,
		URL:          a.site.Resolve(firstNonEmpty(jsonString(offer["url"]), jsonString(p["url"]))),
		ImageURL:     a.site.Resolve(jsonImage(p["image"])),
		CategoryHint: firstNonEmpty(jsonString(p["category"]), a.site.Category),
		ScrapedAt:    scrapedAt,
	}
	if rating, ok := p["aggregateRating"].(map[string]interface{}); ok {
		listing.Rating = a.parser.ParseRating(jsonString(rating["ratingValue"]))
		listing.ReviewCount = a.parser.ParseCount(firstNonEmpty(jsonString(rating["reviewCount"]), jsonString(rating["ratingCount"])))
	}
	return listing, true
}

// jsonPrice accepts numbers and formatted strings
func (a *SelectorAdapter) jsonPrice(value interface{}, currency string) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		price, _, err := a.parser.ParsePrice(v, currency)
		return price, err == nil
	}
	return 0, false
}

func firstOffer(value interface{}) map[string]interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		if isType(v["@type"], "AggregateOffer") {
			if nested := firstOffer(v["offers"]); nested != nil {
				return nested
			}
		}
		return v
	case []interface{}:
		for _, item := range v {
			if offer := firstOffer(item); offer != nil {
				return offer
			}
		}
	}
	return nil
}

func isType(value interface{}, want string) bool {
	switch v := value.(type) {
	case string:
		return strings.EqualFold(v, want)
	case []interface{}:
		for _, item := range v {
			if isType(item, want) {
				return true
			}
		}
	}
	return false
}

func jsonString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func jsonImage(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []interface{}:
		for _, item := range v {
			if img := jsonImage(item); img != "" {
				return img
			}
		}
	case map[string]interface{}:
		return jsonString(v["url"])
	}
	return ""
}

func firstNonNil(values ...interface{}) interface{} {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
