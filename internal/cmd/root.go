package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/hotlabel/internal/config"
	"github.com/Iron-Ham/hotlabel/internal/engine"
	herrors "github.com/Iron-Ham/hotlabel/internal/errors"
	"github.com/Iron-Ham/hotlabel/internal/logging"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

var rootCmd = &cobra.Command{
	Use:   "hotlabel",
	Short: "Dispatch labeling tasks to live sessions",
	Long: `Hotlabel hands out small labeling tasks to browsing sessions, records
their answers and scores them in the background.

Tasks are matched to a session by language, topic and the session's
recent answer quality. Each task is held by at most one session at a time
and returns to the pool if its assignment expires.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/hotlabel/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/hotlabel")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HOTLABEL")
	// e.g., HOTLABEL_ASSIGNMENT_TTL for assignment.ttl
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
		},
	})
}

// withEngine loads the configuration, opens an engine, runs fn and closes
// the engine again.
func withEngine(ctx context.Context, fn func(*engine.Engine, *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	eng, err := engine.Open(ctx, cfg, engine.WithLogger(logger))
	if err != nil {
		if herrors.Is(err, taskstore.ErrDataDirLocked) {
			return fmt.Errorf("%w (is 'hotlabel serve' running? use the HTTP API, or store.driver=sqlite to share the data directory)", err)
		}
		return err
	}
	runErr := fn(eng, cfg)
	if err := eng.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
