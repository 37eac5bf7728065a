package persistence

import (
	"context"
	"time"
)

// TimeRange represents a time window for data queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// LiquidationRecord is a persisted, decoded CompactLiquidation event.
type LiquidationRecord struct {
	ID         int64                  `json:"id" db:"id"`
	Timestamp  time.Time              `json:"ts" db:"ts"`
	Symbol     string                 `json:"symbol" db:"symbol"`
	Venue      string                 `json:"venue" db:"venue"`
	Side       string                 `json:"side" db:"side"` // "LONG" or "SHORT"
	Price      float64                `json:"price" db:"price"`
	Qty        float64                `json:"qty" db:"qty"`
	ValueUSD   float64                `json:"value_usd" db:"value_usd"`
	Synthetic  bool                   `json:"ts_synthetic" db:"ts_synthetic"`
	Attributes map[string]interface{} `json:"attributes" db:"attributes"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// OISnapshotRecord is a persisted validated OI snapshot, one row per
// (symbol, venue, market_type) tuple in a coverage round.
type OISnapshotRecord struct {
	ID           int64                  `json:"id" db:"id"`
	Timestamp    time.Time              `json:"ts" db:"ts"`
	Symbol       string                 `json:"symbol" db:"symbol"`
	Venue        string                 `json:"venue" db:"venue"`
	MarketType   string                 `json:"market_type" db:"market_type"`
	OITokens     float64                `json:"oi_tokens" db:"oi_tokens"`
	OIUSD        float64                `json:"oi_usd" db:"oi_usd"`
	FundingRate  float64                `json:"funding_rate" db:"funding_rate"`
	Status       string                 `json:"status" db:"status"`
	Attributes   map[string]interface{} `json:"attributes" db:"attributes"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
}

// LiquidationRepo persists decoded liquidation events for later analysis.
// The live cascade detector never reads from here; it consumes the
// in-memory ring buffer. This sink is for audit/backtesting only.
type LiquidationRepo interface {
	Insert(ctx context.Context, rec LiquidationRecord) error
	InsertBatch(ctx context.Context, recs []LiquidationRecord) error
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]LiquidationRecord, error)
	ListByVenue(ctx context.Context, venue string, tr TimeRange, limit int) ([]LiquidationRecord, error)
	GetLatest(ctx context.Context, limit int) ([]LiquidationRecord, error)
	Count(ctx context.Context, tr TimeRange) (int64, error)
	CountByVenue(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// OISnapshotRepo persists validated OI aggregation rounds.
type OISnapshotRepo interface {
	Insert(ctx context.Context, rec OISnapshotRecord) error
	InsertBatch(ctx context.Context, recs []OISnapshotRecord) error
	ListBySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]OISnapshotRecord, error)
	GetLatest(ctx context.Context, symbol string) (*OISnapshotRecord, error)
	Count(ctx context.Context, tr TimeRange) (int64, error)
}

// Repository aggregates all persistence interfaces. Both fields are nil
// when the optional Postgres sink is disabled.
type Repository struct {
	Liquidations LiquidationRepo
	OISnapshots  OISnapshotRepo
}

// HealthCheck represents repository health status.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	Health(ctx context.Context) HealthCheck
	Ping(ctx context.Context) error
	Stats(ctx context.Context) map[string]interface{}
}
