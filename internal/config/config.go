package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the complete hotlabel configuration
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Assignment AssignmentConfig `mapstructure:"assignment"`
	Matcher    MatcherConfig    `mapstructure:"matcher"`
	Profile    ProfileConfig    `mapstructure:"profile"`
	Evaluator  EvaluatorConfig  `mapstructure:"evaluator"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StoreConfig selects and tunes the task/response persistence backend
type StoreConfig struct {
	// Driver is the backend: "memory" or "sqlite" (default: "memory")
	Driver string `mapstructure:"driver"`
	// DataDir holds the SQLite database or the memory snapshot.
	// Empty means <config dir>/data.
	DataDir string `mapstructure:"data_dir"`
	// SnapshotInterval is how often the memory backend persists a snapshot (0 = only on shutdown)
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

// AssignmentConfig controls how long a task may be held and how hard the
// matcher retries after losing a race
type AssignmentConfig struct {
	// TTL bounds how long an assignment is held before it can be reclaimed (default: 10m)
	TTL time.Duration `mapstructure:"ttl"`
	// MaxAttempts is the number of TryAssign attempts per request (default: 5)
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryTimeout bounds the total time spent retrying after conflicts (default: 2s)
	RetryTimeout time.Duration `mapstructure:"retry_timeout"`
}

// MatcherConfig holds the scoring weights. These are tunables and may be
// hot-reloaded.
type MatcherConfig struct {
	ExactWeight      float64 `mapstructure:"exact_weight"`
	PartialWeight    float64 `mapstructure:"partial_weight"`
	InterestWeight   float64 `mapstructure:"interest_weight"`
	ComplexityWeight float64 `mapstructure:"complexity_weight"`
	// CandidateLimit caps how many ranked candidates a single request will try (0 = unlimited)
	CandidateLimit int `mapstructure:"candidate_limit"`
	// RetrySpread is how many of the best remaining candidates a retry
	// picks from at random after a lost race (default: 16, 1 = strict order)
	RetrySpread int `mapstructure:"retry_spread"`
}

// ProfileConfig controls the rolling session model
type ProfileConfig struct {
	// Smoothing is the EMA factor applied to quality outcomes (default: 0.2)
	Smoothing float64 `mapstructure:"smoothing"`
	// InterestSmoothing is the EMA factor for per-category interest (default: 0.1)
	InterestSmoothing float64 `mapstructure:"interest_smoothing"`
	// Shards is the number of lock shards in the profile map (default: 32)
	Shards int `mapstructure:"shards"`
}

// EvaluatorConfig controls the background sweep
type EvaluatorConfig struct {
	// Interval between sweeps (default: 1m)
	Interval time.Duration `mapstructure:"interval"`
	// BatchSize is the number of pending responses evaluated per sweep (default: 100)
	BatchSize int `mapstructure:"batch_size"`
	// Workers is the size of the evaluation pool (default: 4)
	Workers int `mapstructure:"workers"`
	// MinLatencyMS rejects answers faster than this as low-effort (default: 1000)
	MinLatencyMS int `mapstructure:"min_latency_ms"`
	// MaxWorkers lets the pool grow with the review backlog up to this
	// size (0 = fixed pool of Workers)
	MaxWorkers int `mapstructure:"max_workers"`
	// BacklogPerWorker is the waiting-response count one worker absorbs
	// before another is added (default: 50)
	BacklogPerWorker int `mapstructure:"backlog_per_worker"`
	// ScaleCooldown is the minimum time between pool resizes (default: 30s)
	ScaleCooldown time.Duration `mapstructure:"scale_cooldown"`
}

// Autoscale reports whether the evaluator pool may grow past Workers.
func (c *EvaluatorConfig) Autoscale() bool {
	return c.MaxWorkers > c.Workers
}

// ServerConfig controls the HTTP adapter
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// File is the log file path. Empty logs to stderr.
	File string `mapstructure:"file"`
	// MaxSizeMB is the size at which the log file is rotated (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// MinLatency returns the plausibility threshold as a time.Duration
func (c *EvaluatorConfig) MinLatency() time.Duration {
	return time.Duration(c.MinLatencyMS) * time.Millisecond
}

// ResolveDataDir returns the absolute data directory.
// If DataDir is empty it defaults to <config dir>/data; relative paths are
// resolved against baseDir.
func (s *StoreConfig) ResolveDataDir(baseDir string) string {
	if s.DataDir == "" {
		return filepath.Join(ConfigDir(), "data")
	}

	path := s.DataDir
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return path
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Driver:           "memory",
			DataDir:          "", // Empty means <config dir>/data
			SnapshotInterval: 5 * time.Minute,
		},
		Assignment: AssignmentConfig{
			TTL:          10 * time.Minute,
			MaxAttempts:  5,
			RetryTimeout: 2 * time.Second,
		},
		Matcher: MatcherConfig{
			ExactWeight:      3,
			PartialWeight:    1.5,
			InterestWeight:   0.5,
			ComplexityWeight: 1,
			CandidateLimit:   0,
			RetrySpread:      16,
		},
		Profile: ProfileConfig{
			Smoothing:         0.2,
			InterestSmoothing: 0.1,
			Shards:            32,
		},
		Evaluator: EvaluatorConfig{
			Interval:         time.Minute,
			BatchSize:        100,
			Workers:          4,
			MinLatencyMS:     1000,
			MaxWorkers:       0,
			BacklogPerWorker: 50,
			ScaleCooldown:    30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Store defaults
	v.SetDefault("store.driver", defaults.Store.Driver)
	v.SetDefault("store.data_dir", defaults.Store.DataDir)
	v.SetDefault("store.snapshot_interval", defaults.Store.SnapshotInterval)

	// Assignment defaults
	v.SetDefault("assignment.ttl", defaults.Assignment.TTL)
	v.SetDefault("assignment.max_attempts", defaults.Assignment.MaxAttempts)
	v.SetDefault("assignment.retry_timeout", defaults.Assignment.RetryTimeout)

	// Matcher defaults
	v.SetDefault("matcher.exact_weight", defaults.Matcher.ExactWeight)
	v.SetDefault("matcher.partial_weight", defaults.Matcher.PartialWeight)
	v.SetDefault("matcher.interest_weight", defaults.Matcher.InterestWeight)
	v.SetDefault("matcher.complexity_weight", defaults.Matcher.ComplexityWeight)
	v.SetDefault("matcher.candidate_limit", defaults.Matcher.CandidateLimit)
	v.SetDefault("matcher.retry_spread", defaults.Matcher.RetrySpread)

	// Profile defaults
	v.SetDefault("profile.smoothing", defaults.Profile.Smoothing)
	v.SetDefault("profile.interest_smoothing", defaults.Profile.InterestSmoothing)
	v.SetDefault("profile.shards", defaults.Profile.Shards)

	// Evaluator defaults
	v.SetDefault("evaluator.interval", defaults.Evaluator.Interval)
	v.SetDefault("evaluator.batch_size", defaults.Evaluator.BatchSize)
	v.SetDefault("evaluator.workers", defaults.Evaluator.Workers)
	v.SetDefault("evaluator.min_latency_ms", defaults.Evaluator.MinLatencyMS)
	v.SetDefault("evaluator.max_workers", defaults.Evaluator.MaxWorkers)
	v.SetDefault("evaluator.backlog_per_worker", defaults.Evaluator.BacklogPerWorker)
	v.SetDefault("evaluator.scale_cooldown", defaults.Evaluator.ScaleCooldown)

	// Server defaults
	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.shutdown_timeout", defaults.Server.ShutdownTimeout)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// DecodeHook converts the string forms used in YAML and environment
// variables ("10m", "a,b") into typed config fields.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom decodes and validates the configuration held by v
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hotlabel")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hotlabel"
	}
	return filepath.Join(home, ".config", "hotlabel")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidDrivers returns the list of valid store drivers
func ValidDrivers() []string {
	return []string{"memory", "sqlite"}
}
