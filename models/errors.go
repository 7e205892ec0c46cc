package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAdapterTimeout    = errors.New("adapter timed out")
	ErrAdapterError      = errors.New("adapter error")
	ErrInvalidPrice      = errors.New("invalid price")
	ErrMatchingAmbiguous = errors.New("ambiguous match")
	ErrNoResultsFound    = errors.New("no results found")
	ErrColdStart         = errors.New("no history for user")
	ErrEmptyQuery        = errors.New("query is required")
	ErrInvalidQuery      = errors.New("invalid query")
)

// AdapterErrorKind classifies why a source failed
type AdapterErrorKind string

const (
	KindTimeout   AdapterErrorKind = "timeout"
	KindHTTP      AdapterErrorKind = "http"
	KindTransport AdapterErrorKind = "transport"
	KindParse     AdapterErrorKind = "parse"
	KindBlocked   AdapterErrorKind = "blocked"
)

// AdapterError wraps a failure from one site adapter
type AdapterError struct {
	Site       string
	Kind       AdapterErrorKind
	StatusCode int
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Site, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Site, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the taxonomy sentinels
func (e *AdapterError) Is(target error) bool {
	switch target {
	case ErrAdapterTimeout:
		return e.Kind == KindTimeout
	case ErrAdapterError:
		return e.Kind != KindTimeout
	}
	return false
}

// NewAdapterError builds an AdapterError, classifying context errors as timeouts
func NewAdapterError(site string, kind AdapterErrorKind, status int, err error) *AdapterError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return &AdapterError{Site: site, Kind: kind, StatusCode: status, Err: err}
}

// PriceError explains why a listing was excluded from ranking
type PriceError struct {
	ListingID string
	StoreID   string
	Reason    string
}

func (e *PriceError) Error() string {
	return fmt.Sprintf("%s from %s: %s", ErrInvalidPrice, e.StoreID, e.Reason)
}

func (e *PriceError) Unwrap() error {
	return ErrInvalidPrice
}
