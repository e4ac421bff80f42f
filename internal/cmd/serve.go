package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/hotlabel/internal/api"
	"github.com/Iron-Ham/hotlabel/internal/config"
	"github.com/Iron-Ham/hotlabel/internal/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background evaluator",
	Long: `Run the HTTP API and the background evaluator until interrupted.

Matcher weights, assignment limits, profile smoothing and evaluator
settings are reloaded when the config file changes. Store and server
settings need a restart.`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("close engine", "error", err)
		}
	}()
	eng.Start(ctx)

	if viper.ConfigFileUsed() != "" {
		config.Watch(viper.GetViper(), func(next *config.Config, err error) {
			if err != nil {
				logger.Warn("config reload rejected", "error", err)
				return
			}
			eng.Reconfigure(next)
		})
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := api.NewServer(eng, addr,
		api.WithLogger(logger),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", addr)
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
