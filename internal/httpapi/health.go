package httpapi

import (
	"sync"
	"time"
)

// errorWindow counts aggregator errors observed within the trailing
// minute, for the health endpoint's aggregator_errors_last_min field.
type errorWindow struct {
	mu    sync.Mutex
	stamp []time.Time
	now   func() time.Time
}

func newErrorWindow() *errorWindow {
	return &errorWindow{now: time.Now}
}

func (w *errorWindow) record(n int) {
	if n <= 0 {
		return
	}
	now := w.now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := 0; i < n; i++ {
		w.stamp = append(w.stamp, now)
	}
}

func (w *errorWindow) count() int64 {
	cutoff := w.now().Add(-time.Minute)
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.stamp[:0]
	for _, t := range w.stamp {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.stamp = kept
	return int64(len(kept))
}
