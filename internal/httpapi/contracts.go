package httpapi

import "time"

// AggregateOIRequest is the body of a POST /aggregate_oi call.
type AggregateOIRequest struct {
	Symbol    string   `json:"symbol"`
	Exchanges []string `json:"exchanges,omitempty"`
}

// ProfileRequest is the body of a POST /profile call.
type ProfileRequest struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Exchange  string `json:"exchange,omitempty"`
}

// HealthResponse answers GET /health.
type HealthResponse struct {
	IngestorStatus        []IngestorStatus `json:"ingestor_status"`
	AggregatorErrorsLast1m int64           `json:"aggregator_errors_last_min"`
	ConfigGeneration      int              `json:"config_generation"`
	UptimeS               float64          `json:"uptime_s"`
}

// IngestorStatus is one venue's entry in HealthResponse.IngestorStatus.
type IngestorStatus struct {
	Venue         string    `json:"venue"`
	Healthy       bool      `json:"healthy"`
	StreamState   string    `json:"stream_state,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at"`
	ErrorRate1m   float64   `json:"error_rate_1m"`
	Detail        string    `json:"detail,omitempty"`
}

// ErrorResponse is the standard error envelope for 4xx/5xx responses.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}
