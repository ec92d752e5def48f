package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/strandlabs/strand/internal/agent"
	"github.com/strandlabs/strand/internal/config"
	"github.com/strandlabs/strand/internal/mcp"
	"github.com/strandlabs/strand/internal/skills"
	"github.com/strandlabs/strand/pkg/models"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newServeCmd runs an interactive chat session on the configured
// provider, with all tools wired.
func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			rt, err := buildRuntime(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer rt.Close()

			return runChat(ctx, rt)
		},
	}
}

// historyKey holds the conversation in the session's short-term
// store, so it ages out with the session.
const historyKey = "history"

func runChat(ctx context.Context, rt *runtime) error {
	sessionID := uuid.NewString()
	session := rt.sessions.GetSession(sessionID)

	fmt.Println("strand — type a message, Ctrl-D to exit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		var history []*models.Message
		if v, ok := session.Get(historyKey); ok {
			history, _ = v.([]*models.Message)
		}

		var answer string
		for ev := range rt.loop.Run(ctx, input, &agent.RunOptions{
			SessionID: sessionID,
			History:   history,
		}) {
			switch ev.Type {
			case models.EventContent:
				fmt.Print(ev.Content)
			case models.EventThought:
				fmt.Printf("\n[thought] %s\n", ev.Thought)
			case models.EventPlan:
				fmt.Printf("[plan] %s\n", strings.Join(ev.Steps, " -> "))
			case models.EventAction:
				fmt.Printf("\n[tool] %s %s\n", ev.Tool, ev.Input)
			case models.EventObservation:
				fmt.Printf("[result] %s\n", ev.Observation)
			case models.EventTaskCreated:
				fmt.Printf("[task created] %s\n", ev.TaskID)
			case models.EventTaskCompleted:
				fmt.Printf("[task done] %s: %s\n", ev.TaskID, ev.Result)
			case models.EventTaskFailed:
				fmt.Printf("[task failed] %s: %s\n", ev.TaskID, ev.Error)
			case models.EventAnswer:
				answer = ev.Content
			case models.EventError:
				fmt.Printf("\nerror: %s\n", ev.Error)
			}
		}
		fmt.Println()

		if ctx.Err() != nil {
			return nil
		}
		if len(history) == 0 {
			title := rt.loop.GenerateTitle(ctx, input)
			session.Set("title", title, rt.cfg.Sessions.TTL)
			fmt.Printf("(session titled %q)\n", title)
		}

		now := time.Now()
		history = append(history,
			&models.Message{Role: models.RoleUser, Content: input, SessionID: sessionID, CreatedAt: now},
			&models.Message{Role: models.RoleAssistant, Content: answer, SessionID: sessionID, CreatedAt: now},
		)
		session.Set(historyKey, history, rt.cfg.Sessions.TTL)
	}
}

// newSkillsCmd lists the skills discovered in the configured dirs.
func newSkillsCmd(configPath *string) *cobra.Command {
	skillsCmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage local skills",
	}
	skillsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List discovered skills and their actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if len(cfg.Skills.Dirs) == 0 {
				fmt.Println("no skill directories configured")
				return nil
			}

			ctx := cmd.Context()
			src := skills.NewLocalSource("skills", cfg.Skills.Dirs, slog.Default())
			if err := src.Initialize(ctx); err != nil {
				return fmt.Errorf("load skills: %w", err)
			}
			defer src.Destroy(ctx)

			manifests := src.Skills()
			if len(manifests) == 0 {
				fmt.Println("no skills found")
				return nil
			}
			for _, m := range manifests {
				fmt.Printf("%s %s — %s\n", m.Name, m.Version, m.Description)
				for _, action := range m.Actions {
					fmt.Printf("  %s.%s — %s\n", m.Name, action.Name, action.Description)
				}
			}
			return nil
		},
	})
	return skillsCmd
}

// newMCPCmd reports reachability of the configured MCP servers.
func newMCPCmd(configPath *string) *cobra.Command {
	mcpCmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP servers",
	}
	mcpCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show connection status for configured servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if len(cfg.MCP) == 0 {
				fmt.Println("no mcp servers configured")
				return nil
			}

			for i := range cfg.MCP {
				server := cfg.MCP[i]
				if !server.Enabled {
					fmt.Printf("%-20s disabled\n", server.Name)
					continue
				}

				ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
				client := mcp.NewClient(&server, slog.Default())
				if err := client.Connect(ctx); err != nil {
					fmt.Printf("%-20s unreachable: %v\n", server.Name, err)
					cancel()
					continue
				}
				fmt.Printf("%-20s connected (%d tools)\n", server.Name, len(client.Tools()))
				_ = client.Close()
				cancel()
			}
			return nil
		},
	})
	return mcpCmd
}

// newTasksCmd adds tasks to a session's graph and executes it.
func newTasksCmd(configPath *string) *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage the task graph",
	}

	var deps []string
	addCmd := &cobra.Command{
		Use:   "add <session-id> <description>",
		Short: "Add a task to a session's graph",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if !cfg.Tasks.Enabled {
				return fmt.Errorf("tasks are disabled in config")
			}
			if cfg.Tasks.Path == "" {
				return fmt.Errorf("tasks.path must point at a database for cli task management")
			}

			rt, err := buildRuntime(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer rt.Close()

			id, err := rt.tasks.CreateTask(cmd.Context(), args[0], args[1], deps)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	addCmd.Flags().StringSliceVar(&deps, "deps", nil, "task ids this task depends on")

	runCmd := &cobra.Command{
		Use:   "run <session-id>",
		Short: "Execute a session's task graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if !cfg.Tasks.Enabled {
				return fmt.Errorf("tasks are disabled in config")
			}

			ctx, cancel := signalContext()
			defer cancel()

			rt, err := buildRuntime(ctx, cfg, slog.Default())
			if err != nil {
				return err
			}
			defer rt.Close()

			failed := 0
			for ev := range rt.executor.Execute(ctx, args[0]) {
				switch ev.Type {
				case models.EventTaskCompleted:
					fmt.Printf("done   %s: %s\n", ev.TaskID, ev.Result)
				case models.EventTaskFailed:
					failed++
					fmt.Printf("failed %s: %s\n", ev.TaskID, ev.Error)
				case models.EventError:
					return fmt.Errorf("execution error: %s", ev.Error)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d task(s) failed", failed)
			}
			return nil
		},
	}

	tasksCmd.AddCommand(addCmd, runCmd)
	return tasksCmd
}
