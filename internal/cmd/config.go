package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/hotlabel/internal/config"
	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or check hotlabel configuration",
	Long: `View or check hotlabel configuration.

Without arguments, displays the effective configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and report every problem",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/hotlabel/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

// printable converts viper settings into YAML-friendly values. Durations
// are shown in their string form ("10m0s") rather than as nanoseconds.
func printable(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = printable(val)
		}
		return out
	case time.Duration:
		return t.String()
	default:
		return v
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	// Show where config is being read from
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(printable(viper.AllSettings()))
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if _, err := config.Load(); err != nil {
		var errs config.ValidationErrors
		if herrors.As(err, &errs) {
			fmt.Fprintf(out, "Configuration has %d problem(s):\n", len(errs))
			for _, e := range errs {
				fmt.Fprintf(out, "  - %s\n", e.Error())
			}
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	fmt.Fprintln(out, "Configuration is valid")
	return nil
}

const defaultConfigContent = `# Hotlabel Configuration

# Where tasks and responses live
store:
  # memory keeps everything in process and snapshots to data_dir; sqlite
  # writes through to data_dir/hotlabel.db
  driver: memory
  # Empty means ~/.config/hotlabel/data
  data_dir: ""
  # How often the memory store writes a snapshot (0 = only on shutdown)
  snapshot_interval: 5m

# How long a session may hold a task
assignment:
  ttl: 10m
  # Attempts per request after losing a race for a task
  max_attempts: 5
  retry_timeout: 2s

# Scoring weights used to rank candidate tasks
matcher:
  exact_weight: 3
  partial_weight: 1.5
  interest_weight: 0.5
  complexity_weight: 1
  # 0 = try every ranked candidate
  candidate_limit: 0
  # After a lost race, retry a random pick among this many of the best
  # remaining candidates (1 = strict ranked order)
  retry_spread: 16

# Rolling per-session model
profile:
  smoothing: 0.2
  interest_smoothing: 0.1
  shards: 32

# Background scoring of submitted responses
evaluator:
  interval: 1m
  batch_size: 100
  workers: 4
  # Answers faster than this are treated as low effort
  min_latency_ms: 1000
  # Grow the pool with the review backlog up to this many workers (0 = fixed)
  max_workers: 0
  backlog_per_worker: 50
  scale_cooldown: 30s

server:
  addr: ":8080"
  shutdown_timeout: 10s

logging:
  level: info
  # Empty logs to stderr
  file: ""
  max_size_mb: 10
  max_backups: 3
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := config.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/hotlabel/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: HOTLABEL_* (e.g., HOTLABEL_ASSIGNMENT_TTL)")
	return nil
}
