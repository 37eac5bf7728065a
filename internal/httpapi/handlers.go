package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/oiagg"
	"github.com/sawpanic/derivintel/internal/profile"
	"github.com/sawpanic/derivintel/internal/provider"
	"github.com/sawpanic/derivintel/internal/threshold"
)

const aggregateDeadline = 8 * time.Second

// Handlers holds every dependency the read-facing endpoints need.
type Handlers struct {
	registry   *provider.Registry
	aggregator *oiagg.Aggregator
	thresholds *threshold.Engine
	errs       *errorWindow
	startTime  time.Time
}

// NewHandlers wires the endpoint handlers to the running pipeline.
// thresholds may be nil (config_generation reports 0).
func NewHandlers(registry *provider.Registry, aggregator *oiagg.Aggregator, thresholds *threshold.Engine) *Handlers {
	return &Handlers{
		registry:   registry,
		aggregator: aggregator,
		thresholds: thresholds,
		errs:       newErrorWindow(),
		startTime:  time.Now(),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, `{"error":"json_encoding_failed"}`, http.StatusInternalServerError)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	requestID, _ := r.Context().Value(requestIDKey{}).(string)
	if requestID == "" {
		requestID = "unknown"
	}
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: requestID,
		Timestamp: time.Now().UTC(),
	})
}

// AggregateOI handles POST /aggregate_oi.
func (h *Handlers) AggregateOI(w http.ResponseWriter, r *http.Request) {
	var req AggregateOIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "symbol is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), aggregateDeadline)
	defer cancel()

	snap := h.aggregator.Aggregate(ctx, req.Symbol)
	h.errs.record(len(snap.ErrorSummary))

	h.writeJSON(w, http.StatusOK, snap)
}

// Profile handles POST /profile.
func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Symbol == "" || req.Timeframe == "" {
		h.writeError(w, r, http.StatusBadRequest, "invalid_request", "symbol and timeframe are required")
		return
	}

	cfg, ok := model.Timeframes[req.Timeframe]
	if !ok {
		h.writeError(w, r, http.StatusBadRequest, "unknown_timeframe", "timeframe is not recognized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), aggregateDeadline)
	defer cancel()

	candles, venue, err := h.fetchCandles(ctx, req.Symbol, req.Timeframe, req.Exchange, cfg.Candles)
	if err != nil {
		h.writeError(w, r, http.StatusBadGateway, "candle_fetch_failed", err.Error())
		return
	}

	snap := profile.Compute(req.Symbol, req.Timeframe, candles)
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshot": snap,
		"venue":    venue,
	})
}

// fetchCandles tries the requested venue, or every registered provider
// in registration order, until one returns candles.
func (h *Handlers) fetchCandles(ctx context.Context, symbol, timeframe, exchange string, limit int) ([]model.Candle, string, error) {
	if exchange != "" {
		p, ok := h.registry.Get(exchange)
		if !ok {
			return nil, "", &provider.ErrUnsupported{Venue: exchange, Capability: "candles"}
		}
		candles, err := p.FetchCandles(ctx, symbol, timeframe, limit)
		return candles, exchange, err
	}

	var lastErr error
	for _, p := range h.registry.All() {
		candles, err := p.FetchCandles(ctx, symbol, timeframe, limit)
		if err == nil {
			return candles, p.Name(), nil
		}
		lastErr = err
	}
	return nil, "", lastErr
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	perVenue := h.registry.Health(ctx)
	statuses := make([]IngestorStatus, 0, len(perVenue))
	for _, s := range perVenue {
		statuses = append(statuses, IngestorStatus{
			Venue:         s.Venue,
			Healthy:       s.Healthy,
			StreamState:   s.StreamState,
			LastSuccessAt: s.LastSuccessAt,
			ErrorRate1m:   s.ErrorRate1m,
			Detail:        s.Detail,
		})
	}

	generation := 0
	if h.thresholds != nil {
		generation = h.thresholds.Generation()
	}

	resp := HealthResponse{
		IngestorStatus:         statuses,
		AggregatorErrorsLast1m: h.errs.count(),
		ConfigGeneration:       generation,
		UptimeS:                time.Since(h.startTime).Seconds(),
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// NotFound handles unmatched routes.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found", "the requested endpoint does not exist")
}
