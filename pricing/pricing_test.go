package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"pricewise/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultPolicy = MarkupPolicy{Percentage: 2, MinAmount: 1, MaxAmount: 5, DisplayCurrency: "USD"}

func product(members ...models.RawListing) models.CanonicalProduct {
	return models.CanonicalProduct{ID: "p1", Title: "phone", Category: "electronics", Members: members}
}

func offer(store string, price float64, currency string) models.RawListing {
	return models.RawListing{ID: "l-" + store, StoreID: store, StoreName: store, Title: "phone", Price: price, Currency: currency}
}

func TestRankOrdersByFinalPrice(t *testing.T) {
	e := NewEngine(nil)
	quotes, errs := e.Rank(product(offer("A", 500, "USD"), offer("B", 480, "USD")), defaultPolicy)

	require.Empty(t, errs)
	require.Len(t, quotes, 2)
	assert.Equal(t, "B", quotes[0].StoreID)
	assert.Equal(t, 485.0, quotes[0].FinalPrice)
	assert.Equal(t, 1, quotes[0].Rank)
	assert.Equal(t, "A", quotes[1].StoreID)
	assert.Equal(t, 505.0, quotes[1].FinalPrice)
	assert.Equal(t, 2, quotes[1].Rank)
}

func TestRankWithoutUpperBound(t *testing.T) {
	policy := MarkupPolicy{Percentage: 2, MinAmount: 1, MaxAmount: 20, DisplayCurrency: "USD"}
	quotes, _ := NewEngine(nil).Rank(product(offer("A", 500, "USD"), offer("B", 480, "USD")), policy)

	require.Len(t, quotes, 2)
	assert.Equal(t, 489.6, quotes[0].FinalPrice)
	assert.Equal(t, 510.0, quotes[1].FinalPrice)
}

func TestMarkupBounds(t *testing.T) {
	for _, raw := range []float64{0.01, 0.5, 10, 49.99, 50, 120, 250, 251, 1000, 99999} {
		final := defaultPolicy.Final(raw)
		markup := models.Round2(final - raw)
		assert.GreaterOrEqual(t, final, raw, "raw %v", raw)
		assert.GreaterOrEqual(t, markup, defaultPolicy.MinAmount, "raw %v", raw)
		assert.LessOrEqual(t, markup, defaultPolicy.MaxAmount, "raw %v", raw)
	}
	assert.Equal(t, 1.0, defaultPolicy.Markup(10))
	assert.Equal(t, 3.0, defaultPolicy.Markup(150))
	assert.Equal(t, 5.0, defaultPolicy.Markup(1000))
}

func TestRankExcludesInvalidPrices(t *testing.T) {
	quotes, errs := NewEngine(nil).Rank(product(
		offer("A", 0, "USD"),
		offer("B", -3, "USD"),
		offer("C", 20, "USD"),
	), defaultPolicy)

	require.Len(t, quotes, 1)
	assert.Equal(t, "C", quotes[0].StoreID)
	require.Len(t, errs, 2)
	for _, err := range errs {
		assert.True(t, errors.Is(err, models.ErrInvalidPrice))
	}
}

func TestRankExcludesUnconvertibleListings(t *testing.T) {
	rates := NewStaticRates("USD", map[string]float64{"UGX": 3700})
	quotes, errs := NewEngine(rates).Rank(product(
		offer("jumia-ug", 370000, "UGX"),
		offer("konga", 150000, "NGN"),
	), defaultPolicy)

	require.Len(t, quotes, 1)
	assert.Equal(t, 100.0, quotes[0].RawPrice)
	assert.Equal(t, 102.0, quotes[0].FinalPrice)
	assert.Equal(t, "USD", quotes[0].Currency)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], models.ErrInvalidPrice)
	assert.Contains(t, errs[0].Error(), "konga")
}

func TestRankTieBreaks(t *testing.T) {
	a := offer("b-store", 100, "USD")
	a.Rating = 4.1
	b := offer("a-store", 100, "USD")
	b.Rating = 4.1
	c := offer("c-store", 100, "USD")
	c.Rating = 4.8

	e := NewEngine(nil)
	first, _ := e.Rank(product(a, b, c), defaultPolicy)
	second, _ := e.Rank(product(c, a, b), defaultPolicy)

	require.Len(t, first, 3)
	assert.Equal(t, []string{"c-store", "a-store", "b-store"}, []string{first[0].StoreID, first[1].StoreID, first[2].StoreID})
	assert.Equal(t, first, second)
}

func TestRankConvertsMarkupBounds(t *testing.T) {
	rates := NewStaticRates("USD", map[string]float64{"UGX": 3700})
	policy := MarkupPolicy{Percentage: 2, MinAmount: 1, MaxAmount: 5, BoundsCurrency: "USD", DisplayCurrency: "UGX"}

	quotes, errs := NewEngine(rates).Rank(product(offer("jumia-ug", 50000, "UGX"), offer("ubuy-ug", 2000000, "UGX")), policy)
	require.Empty(t, errs)
	require.Len(t, quotes, 2)
	assert.Equal(t, 3700.0, quotes[0].Markup)
	assert.Equal(t, 18500.0, quotes[1].Markup)
}

func TestRankSkipsBoundsWithoutRate(t *testing.T) {
	rates := NewStaticRates("USD", map[string]float64{"UGX": 3700})
	policy := MarkupPolicy{Percentage: 2, MinAmount: 1, MaxAmount: 5, BoundsCurrency: "USD", DisplayCurrency: "KES"}

	quotes, errs := NewEngine(rates).Rank(product(offer("jumia-ke", 50000, "KES"), offer("kilimall", 20, "KES")), policy)
	require.Empty(t, errs)
	require.Len(t, quotes, 2)
	assert.Equal(t, 0.4, quotes[0].Markup)
	assert.Equal(t, 20.4, quotes[0].FinalPrice)
	assert.Equal(t, 1000.0, quotes[1].Markup)
	assert.Equal(t, 51000.0, quotes[1].FinalPrice)
}

func TestRankKeepsOriginalPriceWhenDiscounted(t *testing.T) {
	l := offer("A", 80, "USD")
	l.OriginalPrice = 100
	l.ImageURL = "https://img/a.jpg"
	quotes, _ := NewEngine(nil).Rank(product(l), defaultPolicy)

	require.Len(t, quotes, 1)
	rec := quotes[0].Record()
	require.NotNil(t, rec.OriginalPrice)
	assert.Equal(t, 100.0, *rec.OriginalPrice)
	assert.Nil(t, rec.Rating)
	assert.Equal(t, "electronics", rec.Category)
	assert.Equal(t, 81.6, rec.Price)
}

func TestBestDeals(t *testing.T) {
	var members []models.RawListing
	for i := 0; i < 5; i++ {
		members = append(members, offer(fmt.Sprintf("s%d", i), float64(100-i*10), "USD"))
	}
	quotes, _ := NewEngine(nil).Rank(product(members...), defaultPolicy)

	deals := BestDeals(quotes)
	require.Len(t, deals, 3)
	assert.Equal(t, "s4", deals[0].StoreID)
	assert.Len(t, quotes, 5)
	assert.Empty(t, BestDeals(nil))
	assert.Equal(t, quotes[0].FinalPrice, Cheapest(quotes))
}

func TestStaticRates(t *testing.T) {
	r := NewStaticRates("usd", map[string]float64{"UGX": 3700, "KES": 129, "BAD": 0})

	v, err := r.Convert(3700, "UGX", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)

	v, err = r.Convert(129, "kes", "UGX")
	require.NoError(t, err)
	assert.InDelta(t, 3700.0, v, 1e-9)

	_, err = r.Convert(1, "BAD", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
	assert.Equal(t, "USD", r.Base())
}

func TestHTTPRates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"base":"USD","rates":{"UGX":3800,"KES":130}}`)
	}))
	defer server.Close()

	fallback := NewStaticRates("USD", map[string]float64{"UGX": 3700, "NGN": 1550})
	h := NewHTTPRates(server.URL, server.Client(), fallback)

	v, err := h.Convert(3700, "UGX", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)
	assert.True(t, h.UpdatedAt().IsZero())

	require.NoError(t, h.Refresh(context.Background()))
	v, err = h.Convert(3800, "UGX", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)
	assert.False(t, h.UpdatedAt().IsZero())

	// NGN is only in the fallback table
	v, err = h.Convert(1550, "NGN", "USD")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestHTTPRatesRefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	h := NewHTTPRates(server.URL, server.Client(), nil)
	assert.Error(t, h.Refresh(context.Background()))
	_, err := h.Convert(1, "UGX", "USD")
	assert.ErrorIs(t, err, ErrRateUnavailable)
}
