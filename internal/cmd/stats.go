package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/hotlabel/internal/config"
	"github.com/Iron-Ham/hotlabel/internal/engine"
	"github.com/Iron-Ham/hotlabel/internal/response"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show task and response statistics",
	Long: `Display counts for the configured store.

Shows:
- Tasks by state and the current queue depth
- Tasks by category and type
- Responses by review status and quality level
- The most recent evaluation sweep, if one ran in this process`,
	RunE: runStats,
}

var (
	statsJSON bool // Output as JSON
)

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Output statistics as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	return withEngine(cmd.Context(), func(eng *engine.Engine, _ *config.Config) error {
		st, err := eng.Stats(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if statsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}
		printStatsText(out, st, newPalette(isTerminal(out)))
		return nil
	})
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func printStatsText(out io.Writer, st engine.Stats, p palette) {
	row := func(label string, value any) string {
		return fmt.Sprintf("%s %s", p.label.Render(fmt.Sprintf("%-12s", label+":")), p.value.Render(fmt.Sprint(value)))
	}

	tasks := []string{
		p.title.Render("TASKS"),
		row("Total", st.Tasks.Total),
		row("Pending", st.Tasks.Pending),
		row("Assigned", st.Tasks.Assigned),
		row("Completed", st.Tasks.Completed),
		row("Retired", st.Tasks.Retired),
		row("Completion", fmt.Sprintf("%.1f%%", st.CompletionRate)),
		row("Sessions", st.Sessions),
	}
	fmt.Fprintln(out, p.section.Render(strings.Join(tasks, "\n")))

	if len(st.ByCategory) > 0 || len(st.ByType) > 0 {
		lines := []string{p.title.Render("CREATED")}
		for _, k := range slices.Sorted(maps.Keys(st.ByCategory)) {
			lines = append(lines, row(k, st.ByCategory[k]))
		}
		for _, k := range slices.Sorted(maps.Keys(st.ByType)) {
			lines = append(lines, row(k, st.ByType[k]))
		}
		fmt.Fprintln(out, p.section.Render(strings.Join(lines, "\n")))
	}

	resp := []string{
		p.title.Render("RESPONSES"),
		row("Total", st.Responses.Total),
	}
	for _, s := range response.Statuses() {
		style := p.value
		switch s {
		case response.StatusAccepted:
			style = p.good
		case response.StatusRejected:
			style = p.bad
		}
		resp = append(resp, fmt.Sprintf("%s %s",
			p.label.Render(fmt.Sprintf("%-12s", string(s)+":")),
			style.Render(fmt.Sprint(st.Responses.ByStatus[s]))))
	}
	for _, l := range response.QualityLevels() {
		if n := st.Responses.ByLevel[l]; n > 0 {
			resp = append(resp, row(string(l), n))
		}
	}
	fmt.Fprintln(out, p.section.Render(strings.Join(resp, "\n")))

	if st.LastSweep != nil {
		s := st.LastSweep
		sweep := []string{
			p.title.Render("LAST SWEEP"),
			row("Started", s.StartedAt.Format("2006-01-02 15:04:05")),
			row("Reclaimed", s.Reclaimed),
			row("Evaluated", s.Evaluated),
		}
		if s.Failed > 0 {
			sweep = append(sweep, p.warn.Render(fmt.Sprintf("%d evaluations failed", s.Failed)))
		}
		fmt.Fprintln(out, p.section.Render(strings.Join(sweep, "\n")))
	}
}
