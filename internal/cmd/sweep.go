package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/hotlabel/internal/config"
	"github.com/Iron-Ham/hotlabel/internal/engine"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one evaluation pass",
	Long: `Reclaim expired assignments and evaluate pending responses once,
then exit. Useful with the sqlite store when no server is running.`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withEngine(cmd.Context(), func(eng *engine.Engine, _ *config.Config) error {
		sum, err := eng.Sweep(cmd.Context())
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Reclaimed: %d\n", sum.Reclaimed)
		fmt.Fprintf(out, "Evaluated: %d (%d accepted, %d rejected, %d failed)\n",
			sum.Evaluated, sum.Accepted, sum.Rejected, sum.Failed)
		fmt.Fprintf(out, "Duration:  %s\n", sum.Duration)
		return err
	})
}
