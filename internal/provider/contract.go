// Package provider defines the exchange-provider contract shared by all
// six supported venues, and the registry that fans requests out across
// them. Adding a new venue means adding a Provider implementation;
// nothing else in the core changes.
package provider

import (
	"context"
	"time"

	"github.com/sawpanic/derivintel/internal/model"
)

// Provider is the small contract every exchange adapter implements.
// Each method runs with its own deadline; a provider failure must never
// block or poison another provider.
type Provider interface {
	Name() string

	// Snapshot fetches one exchange's OI result for symbol. Latency is
	// bounded by ctx's deadline (the aggregator's default is 5s). A
	// failed request is not retried; the failure is reported in the
	// result's Errors.
	Snapshot(ctx context.Context, symbol string) (model.ExchangeOIResult, error)

	// StreamLiquidations streams normalized liquidations for symbols
	// until ctx is cancelled, reconnecting internally with backoff
	// capped at 30s. Returns ErrUnsupported if the venue has no
	// liquidation feed.
	StreamLiquidations(ctx context.Context, symbols []string) (<-chan model.CompactLiquidation, error)

	// FetchCandles returns up to limit candles at the given interval.
	FetchCandles(ctx context.Context, symbol, interval string, limit int) ([]model.Candle, error)

	// ListMarkets returns the market types this venue quotes symbol in.
	ListMarkets(ctx context.Context, symbol string) ([]model.MarketType, error)

	// Health reports connectivity and recent error-rate for the
	// diagnostics/health endpoint.
	Health(ctx context.Context) ProviderHealth
}

// ProviderHealth is the per-venue health record surfaced by the health
// endpoint's ingestor_status[] field.
type ProviderHealth struct {
	Venue         string    `json:"venue"`
	Healthy       bool      `json:"healthy"`
	StreamState   string    `json:"stream_state,omitempty"` // "", "CONNECTED", "DEGRADED"
	LastSuccessAt time.Time `json:"last_success_at"`
	ErrorRate1m   float64   `json:"error_rate_1m"`
	Detail        string    `json:"detail,omitempty"`
}

// ProviderError is returned by Snapshot/FetchCandles on classified failure.
type ProviderError struct {
	Venue  string
	Kind   model.ErrorKind
	Detail string
}

func (e *ProviderError) Error() string {
	return e.Venue + ": " + e.Kind.String() + ": " + e.Detail
}

// ErrUnsupported indicates the venue does not implement an optional
// capability (e.g. a CEX provider with no native liquidation feed).
type ErrUnsupported struct{ Venue, Capability string }

func (e *ErrUnsupported) Error() string {
	return e.Venue + " does not support " + e.Capability
}
