package provider

import (
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/derivintel/internal/config"
)

// NewDefaultRegistry builds a Registry with all six required venues
// registered, using built-in rate limit defaults and no circuit
// breaker or daily budget.
func NewDefaultRegistry(liquidationSymbols []string) *Registry {
	return NewConfiguredRegistry(liquidationSymbols, nil)
}

// NewConfiguredRegistry is NewDefaultRegistry plus an optional
// providers.yaml document controlling each venue's rate limit, daily
// request budget and circuit breaker thresholds. Adding a new venue
// means adding one line here; nothing downstream (aggregator, ingestor,
// cascade detector) changes.
func NewConfiguredRegistry(liquidationSymbols []string, cfg *config.ProvidersConfig) *Registry {
	r := NewRegistry()
	r.Register(NewBinance(liquidationSymbols, cfg))
	r.Register(NewBybit(cfg))
	r.Register(NewOKX(cfg))
	r.Register(NewGateIO(cfg))
	r.Register(NewBitget(cfg))
	r.Register(NewHyperliquid(cfg))
	return r
}

// LoadProvidersConfigOrDefault reads a providers.yaml at path, logging
// and falling back to nil (all defaults) when the file is absent or
// malformed rather than failing startup.
func LoadProvidersConfigOrDefault(path string) *config.ProvidersConfig {
	if path == "" {
		return nil
	}
	cfg, err := config.LoadProvidersConfig(path)
	if err != nil {
		log.Warn().Str("path", path).Err(err).Msg("providers config not loaded, using built-in defaults")
		return nil
	}
	return cfg
}
