package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/derivintel/internal/cache"
	"github.com/sawpanic/derivintel/internal/oiagg"
	"github.com/sawpanic/derivintel/internal/provider"
	"github.com/sawpanic/derivintel/internal/threshold"
)

func newTestServer() *Server {
	registry := provider.NewRegistry()
	aggregator := oiagg.New(registry)
	thresholds := threshold.New(cache.New())
	return NewServer(DefaultServerConfig(), registry, aggregator, thresholds, nil)
}

func TestHealth_ReportsUptimeAndGeneration(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	s.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.UptimeS, 0.0)
	assert.Empty(t, resp.IngestorStatus, "no providers registered in this test registry")
}

func TestAggregateOI_RejectsMissingSymbol(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(AggregateOIRequest{})
	req := httptest.NewRequest(http.MethodPost, "/aggregate_oi", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAggregateOI_ReturnsSnapshotForKnownSymbol(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(AggregateOIRequest{Symbol: "BTC"})
	req := httptest.NewRequest(http.MethodPost, "/aggregate_oi", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code, "an empty registry still returns a (empty) snapshot, not an error")
}

func TestProfile_RejectsUnknownTimeframe(t *testing.T) {
	s := newTestServer()
	body, _ := json.Marshal(ProfileRequest{Symbol: "BTC", Timeframe: "3w"})
	req := httptest.NewRequest(http.MethodPost, "/profile", bytes.NewReader(body))
	rr := httptest.NewRecorder()

	s.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestNotFound_ReturnsStandardErrorEnvelope(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rr := httptest.NewRecorder()

	s.router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &errResp))
	assert.Equal(t, "endpoint_not_found", errResp.Code)
}

func TestCORS_AllowsLocalhostOrigin(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()

	s.router.ServeHTTP(rr, req)

	assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
}
