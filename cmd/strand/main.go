// Package main is the strand CLI: an agent orchestration runtime
// wiring an LLM provider, skills, MCP servers, long-term memory, and
// the DAG task executor behind a small set of commands.
//
// Usage:
//
//	strand serve --config strand.yaml
//	strand skills list
//	strand mcp status
//	strand tasks run <session-id>
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "strand",
		Short:         "Agent orchestration runtime",
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "strand.yaml", "path to config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newSkillsCmd(&configPath),
		newMCPCmd(&configPath),
		newTasksCmd(&configPath),
	)
	return root
}
