package config

import (
	"fmt"
	"strings"
)

var supportedEventLogDrivers = map[string]struct{}{
	"":         {},
	"sqlite":   {},
	"postgres": {},
}

// Validate checks the configuration, including the market parameters it
// converts to.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Node.Backend {
	case BackendMemory:
	case BackendLevelDB, BackendBolt:
		if strings.TrimSpace(cfg.Node.DataDir) == "" {
			return fmt.Errorf("node: DataDir is required for the %s backend", cfg.Node.Backend)
		}
	default:
		return fmt.Errorf("node: unsupported backend %q", cfg.Node.Backend)
	}
	if cfg.Node.TickIntervalMillis == 0 {
		return fmt.Errorf("node: TickIntervalMillis must be positive")
	}

	params, err := cfg.MarketParams()
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if _, err := cfg.GenesisState(); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.API.ListenAddress) == "" {
		return fmt.Errorf("api: ListenAddress is required")
	}
	if cfg.API.RateLimitPerSecond < 0 || cfg.API.RateLimitBurst < 0 {
		return fmt.Errorf("api: rate limits must not be negative")
	}
	if cfg.API.RateLimitPerSecond > 0 && cfg.API.RateLimitBurst == 0 {
		return fmt.Errorf("api: RateLimitBurst must be positive when rate limiting is enabled")
	}

	if _, ok := supportedEventLogDrivers[cfg.EventLog.Driver]; !ok {
		return fmt.Errorf("eventlog: unsupported driver %q", cfg.EventLog.Driver)
	}
	if cfg.EventLog.Driver != "" && strings.TrimSpace(cfg.EventLog.DSN) == "" {
		return fmt.Errorf("eventlog: DSN is required for the %s driver", cfg.EventLog.Driver)
	}
	return nil
}
