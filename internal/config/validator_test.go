package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate_Fields(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		field    string
		hasError bool
	}{
		{"sqlite driver", func(c *Config) { c.Store.Driver = "sqlite" }, "store.driver", false},
		{"unknown driver", func(c *Config) { c.Store.Driver = "redis" }, "store.driver", true},
		{"driver is case sensitive", func(c *Config) { c.Store.Driver = "SQLITE" }, "store.driver", true},
		{"zero snapshot interval", func(c *Config) { c.Store.SnapshotInterval = 0 }, "store.snapshot_interval", false},
		{"negative snapshot interval", func(c *Config) { c.Store.SnapshotInterval = -time.Second }, "store.snapshot_interval", true},
		{"sub-second ttl", func(c *Config) { c.Assignment.TTL = 500 * time.Millisecond }, "assignment.ttl", true},
		{"zero attempts", func(c *Config) { c.Assignment.MaxAttempts = 0 }, "assignment.max_attempts", true},
		{"excessive attempts", func(c *Config) { c.Assignment.MaxAttempts = 1000 }, "assignment.max_attempts", true},
		{"zero retry timeout", func(c *Config) { c.Assignment.RetryTimeout = 0 }, "assignment.retry_timeout", true},
		{"negative weight", func(c *Config) { c.Matcher.ComplexityWeight = -1 }, "matcher.complexity_weight", true},
		{"partial above exact", func(c *Config) { c.Matcher.PartialWeight = 4 }, "matcher.exact_weight", true},
		{"negative candidate limit", func(c *Config) { c.Matcher.CandidateLimit = -1 }, "matcher.candidate_limit", true},
		{"strict retry order", func(c *Config) { c.Matcher.RetrySpread = 1 }, "matcher.retry_spread", false},
		{"zero retry spread", func(c *Config) { c.Matcher.RetrySpread = 0 }, "matcher.retry_spread", true},
		{"smoothing of one", func(c *Config) { c.Profile.Smoothing = 1 }, "profile.smoothing", false},
		{"zero smoothing", func(c *Config) { c.Profile.Smoothing = 0 }, "profile.smoothing", true},
		{"smoothing above one", func(c *Config) { c.Profile.Smoothing = 1.5 }, "profile.smoothing", true},
		{"zero interest smoothing", func(c *Config) { c.Profile.InterestSmoothing = 0 }, "profile.interest_smoothing", true},
		{"zero shards", func(c *Config) { c.Profile.Shards = 0 }, "profile.shards", true},
		{"fast interval", func(c *Config) { c.Evaluator.Interval = time.Millisecond }, "evaluator.interval", true},
		{"zero batch", func(c *Config) { c.Evaluator.BatchSize = 0 }, "evaluator.batch_size", true},
		{"too many workers", func(c *Config) { c.Evaluator.Workers = 65 }, "evaluator.workers", true},
		{"zero min latency", func(c *Config) { c.Evaluator.MinLatencyMS = 0 }, "evaluator.min_latency_ms", false},
		{"negative min latency", func(c *Config) { c.Evaluator.MinLatencyMS = -1 }, "evaluator.min_latency_ms", true},
		{"fixed pool", func(c *Config) { c.Evaluator.MaxWorkers = 0 }, "evaluator.max_workers", false},
		{"max below workers", func(c *Config) { c.Evaluator.MaxWorkers = 2 }, "evaluator.max_workers", true},
		{"max above limit", func(c *Config) { c.Evaluator.MaxWorkers = 100 }, "evaluator.max_workers", true},
		{"autoscale range", func(c *Config) { c.Evaluator.MaxWorkers = 16 }, "evaluator.max_workers", false},
		{"zero backlog per worker", func(c *Config) { c.Evaluator.BacklogPerWorker = 0 }, "evaluator.backlog_per_worker", true},
		{"negative cooldown", func(c *Config) { c.Evaluator.ScaleCooldown = -time.Second }, "evaluator.scale_cooldown", true},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr", true},
		{"negative shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = -time.Second }, "server.shutdown_timeout", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if got := hasFieldError(cfg.Validate(), tt.field); got != tt.hasError {
				t.Errorf("Validate() error on %s = %v, want %v", tt.field, got, tt.hasError)
			}
		})
	}
}

func TestConfig_Validate_Logging(t *testing.T) {
	t.Run("valid log levels", func(t *testing.T) {
		for _, level := range ValidLogLevels() {
			cfg := Default()
			cfg.Logging.Level = level
			if hasFieldError(cfg.Validate(), "logging.level") {
				t.Errorf("level %q should be valid", level)
			}
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "verbose"
		if !hasFieldError(cfg.Validate(), "logging.level") {
			t.Error("expected error for invalid log level")
		}
	})

	t.Run("zero max size", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxSizeMB = 0
		if !hasFieldError(cfg.Validate(), "logging.max_size_mb") {
			t.Error("expected error for zero max_size_mb")
		}
	})

	t.Run("excessive max size", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxSizeMB = 2000
		if !hasFieldError(cfg.Validate(), "logging.max_size_mb") {
			t.Error("expected error for excessive max_size_mb")
		}
	})

	t.Run("negative backups", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.MaxBackups = -1
		if !hasFieldError(cfg.Validate(), "logging.max_backups") {
			t.Error("expected error for negative max_backups")
		}
	})
}

func TestConfig_Validate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = ""
	cfg.Assignment.MaxAttempts = 0
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("Validate() returned %d errors, want 3: %v", len(errs), errs)
	}
}
