package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/hotlabel/internal/config"
	"github.com/Iron-Ham/hotlabel/internal/engine"
	"github.com/Iron-Ham/hotlabel/internal/taskstore"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Import and inspect tasks",
}

var tasksImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import tasks from a YAML or JSON file",
	Long: `Import tasks from a YAML or JSON file.

The file holds either a list of tasks or an object with a "tasks" list.
Field names match the HTTP API, e.g.:

  - task_id: t-1
    language: en
    category: vqa
    type: vqa
    complexity: 2
    task:
      text: What animal is shown?`,
	Args: cobra.ExactArgs(1),
	RunE: runTasksImport,
}

var tasksGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one task as JSON",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksGet,
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks, newest first",
	RunE:  runTasksList,
}

var (
	listStatus   string
	listLanguage string
	listCategory string
	listLimit    int
	listCursor   string
)

func init() {
	tasksListCmd.Flags().StringVar(&listStatus, "status", "", "only tasks in this state")
	tasksListCmd.Flags().StringVar(&listLanguage, "language", "", "only tasks in this language")
	tasksListCmd.Flags().StringVar(&listCategory, "category", "", "only tasks in this category")
	tasksListCmd.Flags().IntVar(&listLimit, "limit", taskstore.DefaultPageSize, "page size")
	tasksListCmd.Flags().StringVar(&listCursor, "cursor", "", "resume after a previous page")

	tasksCmd.AddCommand(tasksImportCmd)
	tasksCmd.AddCommand(tasksGetCmd)
	tasksCmd.AddCommand(tasksListCmd)
	rootCmd.AddCommand(tasksCmd)
}

// parseTaskFile decodes a task list. YAML is a superset of JSON, so one
// decoder handles both; the document is re-encoded as JSON so the task's
// json tags apply.
func parseTaskFile(data []byte) ([]*taskstore.Task, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if m, ok := doc.(map[string]any); ok {
		list, found := m["tasks"]
		if !found {
			return nil, fmt.Errorf("task file object has no \"tasks\" list")
		}
		doc = list
	}
	if doc == nil {
		return nil, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("re-encode task file: %w", err)
	}
	var tasks []*taskstore.Task
	if err := json.Unmarshal(raw, &tasks); err != nil {
		return nil, fmt.Errorf("decode tasks: %w", err)
	}
	return tasks, nil
}

func runTasksImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	tasks, err := parseTaskFile(data)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No tasks in file")
		return nil
	}

	return withEngine(cmd.Context(), func(eng *engine.Engine, _ *config.Config) error {
		out := cmd.OutOrStdout()
		var failed int
		for i, res := range eng.CreateBatch(cmd.Context(), tasks) {
			if res.Err != nil {
				failed++
				fmt.Fprintf(out, "  #%d %s: %v\n", i+1, res.ID, res.Err)
			}
		}
		fmt.Fprintf(out, "Imported %d of %d tasks\n", len(tasks)-failed, len(tasks))
		if failed > 0 {
			return fmt.Errorf("%d tasks failed to import", failed)
		}
		return nil
	})
}

func runTasksGet(cmd *cobra.Command, args []string) error {
	return withEngine(cmd.Context(), func(eng *engine.Engine, _ *config.Config) error {
		task, err := eng.GetTask(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	})
}

func runTasksList(cmd *cobra.Command, args []string) error {
	filter := taskstore.Filter{
		Language: listLanguage,
		Category: taskstore.Category(listCategory),
	}
	if listStatus != "" {
		st, ok := taskstore.ParseState(listStatus)
		if !ok {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		filter.State = st
	}

	return withEngine(cmd.Context(), func(eng *engine.Engine, _ *config.Config) error {
		page, err := eng.ListTasks(cmd.Context(), filter, listLimit, listCursor)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(page.Tasks) == 0 {
			fmt.Fprintln(out, "No tasks")
			return nil
		}
		fmt.Fprintf(out, "%-38s %-10s %-6s %-8s %-16s %s\n", "ID", "STATUS", "LANG", "CATEGORY", "TYPE", "HOLDER")
		fmt.Fprintln(out, strings.Repeat("─", 90))
		for _, t := range page.Tasks {
			fmt.Fprintf(out, "%-38s %-10s %-6s %-8s %-16s %s\n",
				t.ID, t.State, t.Language, t.Category, t.Type, t.AssignedTo)
		}
		if page.NextCursor != "" {
			fmt.Fprintf(out, "\nNext page: --cursor %s\n", page.NextCursor)
		}
		return nil
	})
}
