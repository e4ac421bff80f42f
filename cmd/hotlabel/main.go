// Command hotlabel runs the task dispatch engine.
package main

import (
	"os"

	"github.com/Iron-Ham/hotlabel/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
