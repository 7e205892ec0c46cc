package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrRateUnavailable is returned when no rate is known for a currency pair
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Converter turns an amount in one currency into another
type Converter interface {
	Convert(amount float64, from, to string) (float64, error)
}

// StaticRates converts through a table of units per one base currency
type StaticRates struct {
	base  string
	rates map[string]float64
}

// NewStaticRates copies rates; the base currency is always 1
func NewStaticRates(base string, rates map[string]float64) *StaticRates {
	base = strings.ToUpper(base)
	table := make(map[string]float64, len(rates)+1)
	for code, rate := range rates {
		if rate > 0 {
			table[strings.ToUpper(code)] = rate
		}
	}
	table[base] = 1
	return &StaticRates{base: base, rates: table}
}

// Convert implements Converter
func (s *StaticRates) Convert(amount float64, from, to string) (float64, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return amount, nil
	}
	rf, ok := s.rates[from]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, from)
	}
	rt, ok := s.rates[to]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, to)
	}
	return amount / rf * rt, nil
}

// Has reports whether the table knows a currency
func (s *StaticRates) Has(code string) bool {
	_, ok := s.rates[strings.ToUpper(code)]
	return ok
}

// Base returns the base currency
func (s *StaticRates) Base() string {
	return s.base
}

type ratesPayload struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// HTTPRates serves rates fetched from a JSON endpoint shaped {"base": "USD", "rates": {...}},
// falling back to a static table until the first refresh succeeds or for codes the feed lacks.
type HTTPRates struct {
	url      string
	client   *http.Client
	fallback *StaticRates

	mu      sync.RWMutex
	live    *StaticRates
	updated time.Time
}

// NewHTTPRates creates a rate source; fallback may be nil
func NewHTTPRates(url string, client *http.Client, fallback *StaticRates) *HTTPRates {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPRates{url: url, client: client, fallback: fallback}
}

// Refresh fetches the latest table
func (h *HTTPRates) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build rates request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch rates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rates endpoint returned %d", resp.StatusCode)
	}

	var payload ratesPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode rates: %w", err)
	}
	if payload.Base == "" || len(payload.Rates) == 0 {
		return fmt.Errorf("rates payload is empty")
	}

	live := NewStaticRates(payload.Base, payload.Rates)
	h.mu.Lock()
	h.live = live
	h.updated = time.Now()
	h.mu.Unlock()

	log.Printf("💱 Loaded %d exchange rates (base %s)", len(live.rates), live.base)
	return nil
}

// UpdatedAt returns when rates were last refreshed, zero if never
func (h *HTTPRates) UpdatedAt() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.updated
}

// Convert implements Converter
func (h *HTTPRates) Convert(amount float64, from, to string) (float64, error) {
	h.mu.RLock()
	live := h.live
	h.mu.RUnlock()

	if live != nil && live.Has(from) && live.Has(to) {
		return live.Convert(amount, from, to)
	}
	if h.fallback != nil {
		return h.fallback.Convert(amount, from, to)
	}
	return 0, fmt.Errorf("%w: %s to %s", ErrRateUnavailable, from, to)
}
