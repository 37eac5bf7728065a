package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivintel/internal/config"
	"github.com/sawpanic/derivintel/internal/net/budget"
	"github.com/sawpanic/derivintel/internal/net/circuit"
	"github.com/sawpanic/derivintel/internal/net/ratelimit"
	"github.com/sawpanic/derivintel/infra/limits"
)

// httpBase is the shared REST plumbing every exchange adapter embeds:
// a rate-limited client, a health record updated on every call, and a
// small JSON-GET helper, generalized across all six venues with a
// rate-limit/circuit-breaker/budget middleware stack.
type httpBase struct {
	venue      string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *circuit.Breaker // optional, nil unless built from a ProviderConfig
	budget     *budget.Tracker  // optional, nil unless built from a ProviderConfig
	onHeaders  func(http.Header)

	mu            sync.RWMutex
	lastSuccessAt time.Time
	errCount1m    int
	reqCount1m    int
	windowStart   time.Time
}

func newHTTPBase(venue, baseURL string, rps float64) *httpBase {
	return &httpBase{
		venue:      venue,
		baseURL:    baseURL,
		userAgent:  "derivintel/1.0 (+respect-robots.txt)",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    ratelimit.NewLimiter(rps, int(rps)+1),
	}
}

// newHTTPBaseFromConfig builds an httpBase whose rate limit, daily
// budget and circuit breaker all come from an operator-supplied
// providers.yaml entry, falling back to newHTTPBase's hardcoded
// defaults when cfg is nil (no providers.yaml configured for venue).
func newHTTPBaseFromConfig(venue, baseURL string, rps float64, cfg *config.ProviderConfig) *httpBase {
	b := newHTTPBase(venue, baseURL, rps)
	if cfg == nil {
		return b
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < cfg.RPS {
			burst = cfg.RPS
		}
		b.limiter = ratelimit.NewLimiter(float64(cfg.RPS), burst)
	}
	if cfg.DailyBudget > 0 {
		resetHour := 0
		b.budget = budget.NewTracker(int64(cfg.DailyBudget), resetHour, 0.8)
	}
	if cfg.Circuit.FailureThreshold > 0 {
		b.breaker = circuit.NewBreaker(circuit.Config{
			FailureThreshold: cfg.Circuit.FailureThreshold,
			SuccessThreshold: cfg.Circuit.SuccessThreshold,
			Timeout:          cfg.GetMaxBackoff(),
			RequestTimeout:   cfg.GetRequestTimeout(),
		})
	}
	if venue == "binance" {
		b.onHeaders = func(h http.Header) {
			w1m, wTotal := limits.ReadBinanceWeight(h)
			if w1m != "" || wTotal != "" {
				log.Debug().Str("venue", venue).Str("weight_1m", w1m).Str("weight", wTotal).Msg("binance rate limit weight")
			}
		}
	}
	return b
}

// baseForVenue looks up venue in an optional providers.yaml document and
// builds an httpBase accordingly, falling back to defaultRPS with no
// circuit breaker or budget when cfg is nil or the venue is absent.
func baseForVenue(cfg *config.ProvidersConfig, venue, baseURL string, defaultRPS float64) *httpBase {
	var pc *config.ProviderConfig
	if cfg != nil {
		if p, ok := cfg.GetProvider(venue); ok {
			pc = p
		}
	}
	return newHTTPBaseFromConfig(venue, baseURL, defaultRPS, pc)
}

func (b *httpBase) getJSON(ctx context.Context, path string, out interface{}) error {
	b.recordAttempt()
	if err := b.limiter.Wait(ctx, b.baseURL); err != nil {
		b.recordError()
		return fmt.Errorf("%s: rate limit wait: %w", b.venue, err)
	}
	if b.budget != nil {
		if err := b.budget.Consume(); err != nil {
			if _, exhausted := err.(*budget.BudgetExhaustedError); exhausted {
				b.recordError()
				return fmt.Errorf("%s: %w", b.venue, err)
			}
			log.Warn().Str("venue", b.venue).Err(err).Msg("provider budget warning")
		}
	}

	fetch := func(ctx context.Context) error { return b.doGet(ctx, path, out) }
	var err error
	if b.breaker != nil {
		err = b.breaker.Call(ctx, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		b.recordError()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *httpBase) doGet(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", b.venue, err)
	}
	req.Header.Set("User-Agent", b.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request: %w", b.venue, err)
	}
	defer resp.Body.Close()

	if b.onHeaders != nil {
		b.onHeaders(resp.Header)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", b.venue, err)
	}
	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{venue: b.venue, status: resp.StatusCode, body: string(body)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &decodeError{venue: b.venue, err: err}
		}
	}
	return nil
}

// httpStatusError carries the HTTP status code of a non-200 REST
// response so classifyErr can tell an unknown-symbol 400/404 apart
// from a 429 rate limit or a 5xx upstream failure, instead of
// collapsing every non-2xx response into one generic network error.
type httpStatusError struct {
	venue  string
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.venue, e.status, e.body)
}

// decodeError marks a syntactically broken JSON response body, the
// MALFORMED_RESPONSE case in the provider error taxonomy.
type decodeError struct {
	venue string
	err   error
}

func (e *decodeError) Error() string {
	return fmt.Sprintf("%s: decode response: %v", e.venue, e.err)
}

func (e *decodeError) Unwrap() error { return e.err }

func (b *httpBase) recordAttempt() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollWindowLocked()
	b.reqCount1m++
}

func (b *httpBase) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastSuccessAt = time.Now()
}

func (b *httpBase) recordError() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errCount1m++
}

func (b *httpBase) rollWindowLocked() {
	if time.Since(b.windowStart) > time.Minute {
		b.windowStart = time.Now()
		b.errCount1m = 0
		b.reqCount1m = 0
	}
}

func (b *httpBase) health(streamState, detail string) ProviderHealth {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var rate float64
	if b.reqCount1m > 0 {
		rate = float64(b.errCount1m) / float64(b.reqCount1m)
	}
	return ProviderHealth{
		Venue:         b.venue,
		Healthy:       rate < 0.5,
		StreamState:   streamState,
		LastSuccessAt: b.lastSuccessAt,
		ErrorRate1m:   rate,
		Detail:        detail,
	}
}
