package pricing

import (
	"log"
	"math"
	"sort"
	"strings"

	"pricewise/models"
)

// BestDealCount is how many quotes are surfaced as best deals
const BestDealCount = 3

// MarkupPolicy is the revenue model applied to one request. Percentage is
// expressed in percent (2 means 2%).
type MarkupPolicy struct {
	Percentage float64
	MinAmount  float64
	MaxAmount  float64
	// BoundsCurrency is what MinAmount and MaxAmount are expressed in; empty means DisplayCurrency
	BoundsCurrency  string
	DisplayCurrency string
}

// Markup returns the amount added to a raw price, clamped and rounded to cents
func (p MarkupPolicy) Markup(raw float64) float64 {
	m := raw * p.Percentage / 100
	if m < p.MinAmount {
		m = p.MinAmount
	}
	if p.MaxAmount > 0 && m > p.MaxAmount {
		m = p.MaxAmount
	}
	return models.Round2(math.Max(m, 0))
}

// Final returns raw plus markup, rounded to cents
func (p MarkupPolicy) Final(raw float64) float64 {
	return models.Round2(raw + p.Markup(raw))
}

// Engine prices canonical products in a single display currency
type Engine struct {
	rates Converter
}

// NewEngine creates a price engine backed by a currency converter
func NewEngine(rates Converter) *Engine {
	return &Engine{rates: rates}
}

// Rank converts each member listing, applies markup and orders the result by final
// price ascending, then rating descending, then store id. Listings that cannot be
// priced are excluded and reported as errors wrapping models.ErrInvalidPrice.
func (e *Engine) Rank(product models.CanonicalProduct, policy MarkupPolicy) ([]models.PriceQuote, []error) {
	policy = e.resolve(policy)

	quotes := make([]models.PriceQuote, 0, len(product.Members))
	var errs []error
	for _, l := range product.Members {
		q, err := e.quote(product, l, policy)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		quotes = append(quotes, q)
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		return less(quotes[i], quotes[j])
	})
	for i := range quotes {
		quotes[i].Rank = i + 1
	}
	return quotes, errs
}

func (e *Engine) quote(product models.CanonicalProduct, l models.RawListing, policy MarkupPolicy) (models.PriceQuote, error) {
	if l.Price <= 0 || math.IsNaN(l.Price) || math.IsInf(l.Price, 0) {
		return models.PriceQuote{}, &models.PriceError{ListingID: l.ID, StoreID: l.StoreID, Reason: "non-positive price"}
	}

	currency := strings.ToUpper(l.Currency)
	if currency == "" {
		currency = policy.DisplayCurrency
	}
	converted, err := e.convert(l.Price, currency, policy.DisplayCurrency)
	if err != nil {
		return models.PriceQuote{}, &models.PriceError{ListingID: l.ID, StoreID: l.StoreID, Reason: err.Error()}
	}
	raw := models.Round2(converted)
	if raw <= 0 {
		return models.PriceQuote{}, &models.PriceError{ListingID: l.ID, StoreID: l.StoreID, Reason: "price rounds to zero"}
	}

	var original float64
	if l.OriginalPrice > l.Price {
		if op, err := e.convert(l.OriginalPrice, currency, policy.DisplayCurrency); err == nil {
			original = models.Round2(op)
		}
	}

	markup := policy.Markup(raw)
	category := product.Category
	if category == "" {
		category = l.CategoryHint
	}
	return models.PriceQuote{
		ProductID:     product.ID,
		ListingID:     l.ID,
		StoreID:       l.StoreID,
		StoreName:     l.StoreName,
		Country:       l.Country,
		Title:         l.Title,
		RawPrice:      raw,
		Markup:        markup,
		FinalPrice:    models.Round2(raw + markup),
		Currency:      policy.DisplayCurrency,
		OriginalPrice: original,
		Rating:        l.Rating,
		ReviewCount:   l.ReviewCount,
		ImageURL:      l.ImageURL,
		ProductURL:    l.URL,
		Category:      category,
	}, nil
}

func (e *Engine) convert(amount float64, from, to string) (float64, error) {
	if from == to || to == "" {
		return amount, nil
	}
	if e.rates == nil {
		return 0, ErrRateUnavailable
	}
	return e.rates.Convert(amount, from, to)
}

// resolve expresses the markup bounds in the display currency. Bounds that cannot
// be converted are dropped for the request, leaving the plain percentage.
func (e *Engine) resolve(policy MarkupPolicy) MarkupPolicy {
	policy.DisplayCurrency = strings.ToUpper(policy.DisplayCurrency)
	from := strings.ToUpper(policy.BoundsCurrency)
	if from == "" || from == policy.DisplayCurrency {
		return policy
	}
	lo, errLo := e.convert(policy.MinAmount, from, policy.DisplayCurrency)
	hi, errHi := e.convert(policy.MaxAmount, from, policy.DisplayCurrency)
	if errLo != nil || errHi != nil {
		log.Printf("⚠️  Markup bounds skipped: no rate from %s to %s", from, policy.DisplayCurrency)
		policy.MinAmount, policy.MaxAmount = 0, 0
		policy.BoundsCurrency = policy.DisplayCurrency
		return policy
	}
	policy.MinAmount, policy.MaxAmount = models.Round2(lo), models.Round2(hi)
	policy.BoundsCurrency = policy.DisplayCurrency
	return policy
}

func less(a, b models.PriceQuote) bool {
	if a.FinalPrice != b.FinalPrice {
		return a.FinalPrice < b.FinalPrice
	}
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	if a.StoreID != b.StoreID {
		return a.StoreID < b.StoreID
	}
	return a.ListingID < b.ListingID
}

// BestDeals returns the first BestDealCount quotes of a ranked list
func BestDeals(quotes []models.PriceQuote) []models.PriceQuote {
	n := min(len(quotes), BestDealCount)
	out := make([]models.PriceQuote, n)
	copy(out, quotes[:n])
	return out
}

// Cheapest returns the lowest final price of a ranked list, or 0 when it is empty
func Cheapest(quotes []models.PriceQuote) float64 {
	if len(quotes) == 0 {
		return 0
	}
	return quotes[0].FinalPrice
}
