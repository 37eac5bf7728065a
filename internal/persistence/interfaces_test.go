package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeRange_Validation(t *testing.T) {
	tests := []struct {
		name  string
		tr    TimeRange
		valid bool
	}{
		{
			name: "valid_range",
			tr: TimeRange{
				From: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC),
				To:   time.Date(2026, 7, 29, 11, 0, 0, 0, time.UTC),
			},
			valid: true,
		},
		{
			name: "same_time",
			tr: TimeRange{
				From: time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC),
				To:   time.Date(2026, 7, 29, 10, 0, 0, 0, time.UTC),
			},
			valid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.valid {
				assert.True(t, tt.tr.To.After(tt.tr.From) || tt.tr.To.Equal(tt.tr.From))
			}
		})
	}
}

func TestLiquidationRecord_Shape(t *testing.T) {
	rec := LiquidationRecord{
		Timestamp:  time.Now(),
		Symbol:     "BTC",
		Venue:      "binance",
		Side:       "LONG",
		Price:      65000.0,
		Qty:        0.5,
		ValueUSD:   32500.0,
		Synthetic:  false,
		Attributes: map[string]interface{}{"market_type": "usdt_linear"},
	}

	assert.Equal(t, "BTC", rec.Symbol)
	assert.Equal(t, "binance", rec.Venue)
	assert.Greater(t, rec.Price, 0.0)
	assert.Greater(t, rec.ValueUSD, 0.0)
	assert.False(t, rec.Synthetic)
}

func TestOISnapshotRecord_Shape(t *testing.T) {
	rec := OISnapshotRecord{
		Timestamp:   time.Now(),
		Symbol:      "ETH",
		Venue:       "okx",
		MarketType:  "usdt_linear",
		OITokens:    120000,
		OIUSD:       480000000,
		FundingRate: 0.0001,
		Status:      "ok",
		Attributes:  map[string]interface{}{},
	}

	assert.Equal(t, "ETH", rec.Symbol)
	assert.Equal(t, "usdt_linear", rec.MarketType)
	assert.Greater(t, rec.OIUSD, 0.0)
}

func TestHealthCheck_Structure(t *testing.T) {
	healthCheck := HealthCheck{
		Healthy: true,
		Errors:  []string{},
		ConnectionPool: map[string]int{
			"active": 5,
			"idle":   10,
			"max":    20,
		},
		LastCheck:      time.Now(),
		ResponseTimeMS: 45,
	}

	assert.True(t, healthCheck.Healthy)
	assert.Empty(t, healthCheck.Errors)
	assert.Contains(t, healthCheck.ConnectionPool, "active")
	assert.Greater(t, healthCheck.ResponseTimeMS, int64(0))
}
