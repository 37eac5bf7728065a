package threshold

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultReloadInterval is the default config-poll cadence.
const DefaultReloadInterval = 300 * time.Second

// Reloader periodically rereads a JSON config file from disk and feeds
// it to an Engine. A malformed file is logged and the previous
// generation stays active.
type Reloader struct {
	Engine   *Engine
	Path     string
	Interval time.Duration
}

// NewReloader constructs a Reloader with DefaultReloadInterval if
// interval is zero.
func NewReloader(engine *Engine, path string, interval time.Duration) *Reloader {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	return &Reloader{Engine: engine, Path: path, Interval: interval}
}

// Run loads the config once immediately, then on every tick until ctx
// is cancelled.
func (r *Reloader) Run(ctx context.Context) {
	r.reloadOnce()

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reloadOnce()
		}
	}
}

func (r *Reloader) reloadOnce() {
	raw, err := os.ReadFile(r.Path)
	if err != nil {
		log.Warn().Str("path", r.Path).Err(err).Msg("threshold config read failed, keeping previous generation")
		return
	}
	_ = r.Engine.LoadConfig(raw)
}
