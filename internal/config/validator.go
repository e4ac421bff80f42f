package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "assignment.ttl")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateAssignment()...)
	errors = append(errors, c.validateMatcher()...)
	errors = append(errors, c.validateProfile()...)
	errors = append(errors, c.validateEvaluator()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidDrivers(), c.Store.Driver) {
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDrivers(), ", ")),
		})
	}

	if c.Store.SnapshotInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "store.snapshot_interval",
			Value:   c.Store.SnapshotInterval,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateAssignment() []ValidationError {
	var errors []ValidationError

	if c.Assignment.TTL < time.Second {
		errors = append(errors, ValidationError{
			Field:   "assignment.ttl",
			Value:   c.Assignment.TTL,
			Message: "must be at least 1s",
		})
	}

	if c.Assignment.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "assignment.max_attempts",
			Value:   c.Assignment.MaxAttempts,
			Message: "must be at least 1",
		})
	}

	// Bounded retries are the point of this setting
	const maxAttemptsLimit = 100
	if c.Assignment.MaxAttempts > maxAttemptsLimit {
		errors = append(errors, ValidationError{
			Field:   "assignment.max_attempts",
			Value:   c.Assignment.MaxAttempts,
			Message: fmt.Sprintf("exceeds maximum of %d", maxAttemptsLimit),
		})
	}

	if c.Assignment.RetryTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "assignment.retry_timeout",
			Value:   c.Assignment.RetryTimeout,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateMatcher() []ValidationError {
	var errors []ValidationError

	weights := []struct {
		field string
		value float64
	}{
		{"matcher.exact_weight", c.Matcher.ExactWeight},
		{"matcher.partial_weight", c.Matcher.PartialWeight},
		{"matcher.interest_weight", c.Matcher.InterestWeight},
		{"matcher.complexity_weight", c.Matcher.ComplexityWeight},
	}
	for _, w := range weights {
		if w.value < 0 {
			errors = append(errors, ValidationError{
				Field:   w.field,
				Value:   w.value,
				Message: "must be non-negative",
			})
		}
	}

	if c.Matcher.ExactWeight < c.Matcher.PartialWeight {
		errors = append(errors, ValidationError{
			Field:   "matcher.exact_weight",
			Value:   c.Matcher.ExactWeight,
			Message: "must be at least matcher.partial_weight",
		})
	}

	if c.Matcher.CandidateLimit < 0 {
		errors = append(errors, ValidationError{
			Field:   "matcher.candidate_limit",
			Value:   c.Matcher.CandidateLimit,
			Message: "must be non-negative",
		})
	}

	if c.Matcher.RetrySpread < 1 {
		errors = append(errors, ValidationError{
			Field:   "matcher.retry_spread",
			Value:   c.Matcher.RetrySpread,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateProfile() []ValidationError {
	var errors []ValidationError

	if c.Profile.Smoothing <= 0 || c.Profile.Smoothing > 1 {
		errors = append(errors, ValidationError{
			Field:   "profile.smoothing",
			Value:   c.Profile.Smoothing,
			Message: "must be in (0, 1]",
		})
	}

	if c.Profile.InterestSmoothing <= 0 || c.Profile.InterestSmoothing > 1 {
		errors = append(errors, ValidationError{
			Field:   "profile.interest_smoothing",
			Value:   c.Profile.InterestSmoothing,
			Message: "must be in (0, 1]",
		})
	}

	if c.Profile.Shards < 1 {
		errors = append(errors, ValidationError{
			Field:   "profile.shards",
			Value:   c.Profile.Shards,
			Message: "must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateEvaluator() []ValidationError {
	var errors []ValidationError

	if c.Evaluator.Interval < time.Second {
		errors = append(errors, ValidationError{
			Field:   "evaluator.interval",
			Value:   c.Evaluator.Interval,
			Message: "must be at least 1s",
		})
	}

	if c.Evaluator.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "evaluator.batch_size",
			Value:   c.Evaluator.BatchSize,
			Message: "must be at least 1",
		})
	}

	const maxWorkers = 64
	if c.Evaluator.Workers < 1 || c.Evaluator.Workers > maxWorkers {
		errors = append(errors, ValidationError{
			Field:   "evaluator.workers",
			Value:   c.Evaluator.Workers,
			Message: fmt.Sprintf("must be between 1 and %d", maxWorkers),
		})
	}

	if c.Evaluator.MaxWorkers != 0 && (c.Evaluator.MaxWorkers < c.Evaluator.Workers || c.Evaluator.MaxWorkers > maxWorkers) {
		errors = append(errors, ValidationError{
			Field:   "evaluator.max_workers",
			Value:   c.Evaluator.MaxWorkers,
			Message: fmt.Sprintf("must be 0 or between evaluator.workers and %d", maxWorkers),
		})
	}

	if c.Evaluator.BacklogPerWorker < 1 {
		errors = append(errors, ValidationError{
			Field:   "evaluator.backlog_per_worker",
			Value:   c.Evaluator.BacklogPerWorker,
			Message: "must be at least 1",
		})
	}

	if c.Evaluator.ScaleCooldown < 0 {
		errors = append(errors, ValidationError{
			Field:   "evaluator.scale_cooldown",
			Value:   c.Evaluator.ScaleCooldown,
			Message: "must be non-negative",
		})
	}

	if c.Evaluator.MinLatencyMS < 0 {
		errors = append(errors, ValidationError{
			Field:   "evaluator.min_latency_ms",
			Value:   c.Evaluator.MinLatencyMS,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{
			Field:   "server.addr",
			Value:   c.Server.Addr,
			Message: "must not be empty",
		})
	}

	if c.Server.ShutdownTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "server.shutdown_timeout",
			Value:   c.Server.ShutdownTimeout,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000 // 1GB
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
