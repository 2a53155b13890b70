package oracle

import (
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoFreshQuote indicates that no registered feed produced a quote
	// within the configured freshness window.
	ErrNoFreshQuote = errors.New("oracle: no fresh quote available")
	// ErrInvalidPrice indicates a feed reported a zero or negative price. A
	// broken feed must never be interpreted as a zero asset value.
	ErrInvalidPrice = errors.New("oracle: feed returned invalid price")
	// ErrUnknownAsset indicates no feed is registered for the requested asset.
	ErrUnknownAsset = errors.New("oracle: no feed registered for asset")
)

// Quote captures a price observation for an asset along with the timestamp
// reported by the upstream feed and the feed identifier.
type Quote struct {
	// Price is the USD price scaled by 10^Decimals.
	Price *big.Int
	// Decimals is the fixed-point scale of Price. Chainlink-style feeds use 8.
	Decimals uint8
	// Timestamp records when the upstream observation was made.
	Timestamp time.Time
	// Source identifies the feed that produced the quote.
	Source string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Decimals: q.Decimals, Timestamp: q.Timestamp, Source: q.Source}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// PriceFeed resolves the latest USD quote for an asset symbol.
type PriceFeed interface {
	LatestPrice(asset string) (Quote, error)
}

// Aggregator consults registered feeds in priority order until a fresh, valid
// quote is obtained. Freshness is evaluated against a caller-supplied clock so
// that behaviour stays reproducible under test.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]PriceFeed
	maxAge   time.Duration
}

// NewAggregator constructs an aggregator with the provided priority ordering
// and freshness window. A zero maxAge disables staleness checks.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		feeds:    make(map[string]PriceFeed),
		maxAge:   maxAge,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces a feed under the supplied identifier. Identifiers
// are stored in lowercase so lookups remain consistent regardless of the
// configuration casing.
func (a *Aggregator) Register(name string, feed PriceFeed) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.feeds[trimmed] = feed
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// LatestPrice fetches a quote for the asset respecting the priority ordering.
// Quotes older than the freshness window, and zero or negative prices, are
// skipped; when every feed fails the last classified error is returned.
func (a *Aggregator) LatestPrice(asset string, now time.Time) (Quote, error) {
	if a == nil {
		return Quote{}, ErrUnknownAsset
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if symbol == "" {
		return Quote{}, ErrUnknownAsset
	}

	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	a.mu.RUnlock()

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = now.Add(-maxAge)
	}

	lastErr := ErrUnknownAsset
	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[name]
		a.mu.RUnlock()
		if feed == nil {
			continue
		}
		quote, err := feed.LatestPrice(symbol)
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Price == nil || quote.Price.Sign() <= 0 {
			lastErr = ErrInvalidPrice
			continue
		}
		if maxAge > 0 && quote.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := quote.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		return result, nil
	}
	return Quote{}, lastErr
}

// StaticFeed serves fixed quotes from memory. Used for tests and local runs
// where no upstream feed transport is wired.
type StaticFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewStaticFeed constructs an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{quotes: make(map[string]Quote)}
}

// SetPrice records a quote for the asset symbol.
func (f *StaticFeed) SetPrice(asset string, price *big.Int, decimals uint8, observed time.Time) {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if symbol == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quotes[symbol] = Quote{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		Timestamp: observed,
		Source:    "static",
	}
}

// LatestPrice implements PriceFeed.
func (f *StaticFeed) LatestPrice(asset string) (Quote, error) {
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[symbol]
	if !ok {
		return Quote{}, ErrUnknownAsset
	}
	return quote.Clone(), nil
}
