// Package alertdispatch turns CascadeSignals, OI discrepancy flags, and
// profile anomalies into deduplicated, rate-limited, priority-ordered
// AlertEnvelope deliveries to a consumer-supplied sink. Delivery is
// circuit-broken via infra/breakers; per-symbol+kind rate limiting
// reuses internal/net/ratelimit.
package alertdispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivintel/infra/breakers"
	"github.com/sawpanic/derivintel/internal/metrics"
	"github.com/sawpanic/derivintel/internal/model"
	"github.com/sawpanic/derivintel/internal/net/ratelimit"
)

const (
	dedupWindow       = 5 * time.Minute
	rateLimitPerHour  = 10.0
	deliveryRetries   = 3
	deliveryTimeout   = 3 * time.Second
)

// Sink is the consumer-supplied delivery target, e.g. a messaging
// channel or webhook client.
type Sink interface {
	Deliver(ctx context.Context, env model.AlertEnvelope) error
}

type dedupEntry struct {
	severity Severity
	seenAt   time.Time
}

// Severity aliases model.Severity to keep this file's signatures
// readable without a model. prefix on every field access.
type Severity = model.Severity

// Dispatcher is the full pipeline: dedup -> rate limit -> priority
// queue -> circuit-broken delivery with bounded retry.
type Dispatcher struct {
	sink    Sink
	breaker *breakers.Breaker
	limiter *ratelimit.Limiter
	metrics *metrics.Registry
	now     func() time.Time

	mu     sync.Mutex
	dedup  map[string]dedupEntry
	queue  priorityQueue
	notify chan struct{}

	dropped   chan model.AlertEnvelope
	failedIDs chan string
}

// New constructs a Dispatcher. metricsReg may be nil.
func New(sink Sink, metricsReg *metrics.Registry) *Dispatcher {
	d := &Dispatcher{
		sink:      sink,
		breaker:   breakers.New("alertdispatch"),
		limiter:   ratelimit.NewLimiter(rateLimitPerHour/3600.0, int(rateLimitPerHour)),
		metrics:   metricsReg,
		now:       time.Now,
		dedup:     make(map[string]dedupEntry),
		notify:    make(chan struct{}, 1),
		dropped:   make(chan model.AlertEnvelope, 256),
		failedIDs: make(chan string, 256),
	}
	heap.Init(&d.queue)
	return d
}

// Submit evaluates dedup and rate limiting, then enqueues the envelope
// for delivery. Returns false if the envelope was suppressed (dedup hit
// or rate limited) rather than enqueued.
func (d *Dispatcher) Submit(kind model.AlertKind, symbol string, severity Severity, payload map[string]interface{}, valueUSD, valueTokens float64) bool {
	now := d.now()
	key := model.DedupKey(kind, symbol, severity)

	d.mu.Lock()
	if prev, ok := d.dedup[key]; ok {
		fresh := now.Sub(prev.seenAt) < dedupWindow
		upgraded := severity > prev.severity
		if fresh && !upgraded {
			d.mu.Unlock()
			if d.metrics != nil {
				d.metrics.AlertsDeduped.WithLabelValues(string(kind)).Inc()
			}
			return false
		}
	}
	d.dedup[key] = dedupEntry{severity: severity, seenAt: now}
	d.mu.Unlock()

	rlKey := symbol + "|" + string(kind)
	if !d.limiter.Allow(rlKey) {
		if d.metrics != nil {
			d.metrics.AlertsRateLimited.WithLabelValues(string(kind)).Inc()
		}
		return false
	}

	env := model.AlertEnvelope{
		ID:          uuid.NewString(),
		Kind:        kind,
		Symbol:      symbol,
		Severity:    severity,
		Ts:          now,
		Payload:     payload,
		DedupKey:    key,
		ValueUSD:    valueUSD,
		ValueTokens: valueTokens,
	}

	d.mu.Lock()
	heap.Push(&d.queue, env)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return true
}

// PruneDedup removes dedup entries older than the window. Intended to
// be called from a ticker alongside Run.
func (d *Dispatcher) PruneDedup() {
	cutoff := d.now().Add(-dedupWindow)
	d.mu.Lock()
	defer d.mu.Unlock()
	for k, v := range d.dedup {
		if v.seenAt.Before(cutoff) {
			delete(d.dedup, k)
		}
	}
}

// Run drains the priority queue and delivers envelopes until ctx is
// cancelled. Intended to run in its own goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	pruneTicker := time.NewTicker(time.Minute)
	defer pruneTicker.Stop()

	for {
		env, ok := d.popNext()
		if ok {
			d.deliverWithRetry(ctx, env)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-d.notify:
		case <-pruneTicker.C:
			d.PruneDedup()
		}
	}
}

func (d *Dispatcher) popNext() (model.AlertEnvelope, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.Len() == 0 {
		return model.AlertEnvelope{}, false
	}
	return heap.Pop(&d.queue).(model.AlertEnvelope), true
}

// deliverWithRetry delivers env through the gobreaker-wrapped sink: one
// attempt plus up to deliveryRetries retries, with 1s/2s/4s backoff
// before the retries; on persistent failure the envelope is dropped and surfaced on
// Dropped()/FailedIDs() for diagnostics.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, env model.AlertEnvelope) {
	backoff := time.Second
	var lastErr error
	for attempt := 0; attempt <= deliveryRetries; attempt++ {
		deliverCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		_, err := d.breaker.Execute(func() (any, error) {
			return nil, d.sink.Deliver(deliverCtx, env)
		})
		cancel()
		if err == nil {
			if d.metrics != nil {
				d.metrics.AlertsDispatched.WithLabelValues(string(env.Kind)).Inc()
			}
			return
		}
		lastErr = err
		if attempt < deliveryRetries {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	log.Warn().Str("alert_id", env.ID).Str("symbol", env.Symbol).Str("kind", string(env.Kind)).Err(lastErr).Msg("DELIVERY_FAILED")
	select {
	case d.dropped <- env:
	default:
	}
	select {
	case d.failedIDs <- env.ID:
	default:
	}
}

// Dropped exposes envelopes that exhausted delivery retries, for an
// operator-facing diagnostics feed.
func (d *Dispatcher) Dropped() <-chan model.AlertEnvelope { return d.dropped }

// FailedIDs exposes the IDs of envelopes whose delivery was marked
// DELIVERY_FAILED, for lightweight counters/tests.
func (d *Dispatcher) FailedIDs() <-chan string { return d.failedIDs }

// priorityQueue orders by severity descending, then timestamp
// ascending (FIFO within a severity).
type priorityQueue []model.AlertEnvelope

func (q priorityQueue) Len() int { return len(q) }
func (q priorityQueue) Less(i, j int) bool {
	if q[i].Severity != q[j].Severity {
		return q[i].Severity > q[j].Severity
	}
	return q[i].Ts.Before(q[j].Ts)
}
func (q priorityQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *priorityQueue) Push(x interface{}) {
	*q = append(*q, x.(model.AlertEnvelope))
}
func (q *priorityQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
