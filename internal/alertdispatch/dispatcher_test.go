package alertdispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/derivintel/internal/model"
)

type recordingSink struct {
	mu        sync.Mutex
	delivered []model.AlertEnvelope
	failN     int32 // number of leading calls to fail
	calls     int32
}

func (s *recordingSink) Deliver(ctx context.Context, env model.AlertEnvelope) error {
	n := atomic.AddInt32(&s.calls, 1)
	if n <= s.failN {
		return errors.New("simulated delivery failure")
	}
	s.mu.Lock()
	s.delivered = append(s.delivered, env)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []model.AlertEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AlertEnvelope, len(s.delivered))
	copy(out, s.delivered)
	return out
}

func TestSubmit_DedupSuppressesWithinWindow(t *testing.T) {
	sink := &recordingSink{}
	d := New(sink, nil)

	ok1 := d.Submit(model.KindCascade, "BTC", model.SeverityAlert, nil, 1000, 10)
	ok2 := d.Submit(model.KindCascade, "BTC", model.SeverityAlert, nil, 1000, 10)

	assert.True(t, ok1)
	assert.False(t, ok2, "second identical alert within the dedup window must be suppressed")
}

func TestSubmit_SeverityUpgradeBypassesDedup(t *testing.T) {
	sink := &recordingSink{}
	d := New(sink, nil)

	ok1 := d.Submit(model.KindCascade, "ETH", model.SeverityWatch, nil, 1000, 10)
	ok2 := d.Submit(model.KindCascade, "ETH", model.SeverityCritical, nil, 1000, 10)

	require.True(t, ok1)
	assert.True(t, ok2, "an upgrade in severity must bypass the dedup window")
}

func TestSubmit_RateLimitDropsOverflow(t *testing.T) {
	sink := &recordingSink{}
	d := New(sink, nil)

	base := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	accepted := 0
	for i := 0; i < 15; i++ {
		// each submission lands past the previous one's dedup window, so
		// dedup suppression cannot mask the rate limit check.
		at := base.Add(time.Duration(i) * (dedupWindow + time.Second))
		d.now = func() time.Time { return at }
		if d.Submit(model.KindOIDiscrepancy, "SOL", model.SeverityAlert, nil, 1, 1) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, 10, "burst of 10/hour token bucket must cap accepted submissions")
}

func TestRun_DeliversQueuedEnvelopeInPriorityOrder(t *testing.T) {
	sink := &recordingSink{}
	d := New(sink, nil)

	d.Submit(model.KindCascade, "BTC", model.SeverityWatch, nil, 1, 1)
	d.Submit(model.KindCascade, "ETH", model.SeverityExtreme, nil, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go d.Run(ctx)

	require.Eventually(t, func() bool { return len(sink.snapshot()) >= 2 }, time.Second, 10*time.Millisecond)

	got := sink.snapshot()
	assert.Equal(t, "ETH", got[0].Symbol, "higher severity must deliver before lower severity")
	assert.Equal(t, "BTC", got[1].Symbol)
}

func TestRun_RetriesThenMarksDeliveryFailedAfterExhaustion(t *testing.T) {
	sink := &recordingSink{failN: 3}
	d := New(sink, nil)
	d.Submit(model.KindProfileAnomaly, "BTC", model.SeverityAlert, nil, 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go d.Run(ctx)

	select {
	case id := <-d.FailedIDs():
		assert.NotEmpty(t, id)
	case <-time.After(9 * time.Second):
		t.Fatal("expected a DELIVERY_FAILED notification after retries were exhausted")
	}
}

func TestPruneDedup_RemovesExpiredEntries(t *testing.T) {
	sink := &recordingSink{}
	d := New(sink, nil)
	fixed := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	d.Submit(model.KindCascade, "BTC", model.SeverityAlert, nil, 1, 1)

	d.now = func() time.Time { return fixed.Add(dedupWindow + time.Minute) }
	d.PruneDedup()

	ok := d.Submit(model.KindCascade, "BTC", model.SeverityAlert, nil, 1, 1)
	assert.True(t, ok, "after the dedup window expires and is pruned, an identical alert must be accepted again")
}
