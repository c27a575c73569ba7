package config

import (
	"github.com/ldi/stageflow/internal/errors"
	"github.com/ldi/stageflow/internal/logging"
)

// Validate returns the first invalid setting found.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.ErrConfigNil
	}

	if cfg.DB.Path == "" {
		return errors.Newf(errors.ErrConfigInvalid, "db.path must not be empty")
	}

	if cfg.HTTP.Addr == "" {
		return errors.Newf(errors.ErrConfigInvalid, "http.addr must not be empty")
	}
	if cfg.HTTP.ReadTimeout <= 0 || cfg.HTTP.WriteTimeout <= 0 || cfg.HTTP.ShutdownTimeout <= 0 {
		return errors.Newf(errors.ErrConfigInvalid, "http timeouts must be positive")
	}

	if cfg.NATS.URL != "" && cfg.NATS.Prefix == "" {
		return errors.Newf(errors.ErrConfigInvalid, "nats.prefix must be set when nats.url is")
	}
	if cfg.NATS.MaxInFlight < 1 {
		return errors.Newf(errors.ErrConfigInvalid, "nats.max_in_flight must be at least 1, got %d", cfg.NATS.MaxInFlight)
	}

	if cfg.Query.MaxPageSize < 1 {
		return errors.Newf(errors.ErrConfigInvalid, "query.max_page_size must be at least 1, got %d", cfg.Query.MaxPageSize)
	}
	if cfg.Query.DefaultPageSize < 1 || cfg.Query.DefaultPageSize > cfg.Query.MaxPageSize {
		return errors.Newf(errors.ErrConfigInvalid,
			"query.default_page_size must be between 1 and %d, got %d", cfg.Query.MaxPageSize, cfg.Query.DefaultPageSize)
	}

	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return err
	}

	if cfg.Snapshot.Auto && cfg.Snapshot.Path == "" {
		return errors.Newf(errors.ErrConfigInvalid, "snapshot.path must be set when snapshot.auto is enabled")
	}
	return nil
}
