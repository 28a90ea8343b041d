// Command taskrelay is the multi-agent coding orchestrator CLI.
//
// Commands:
//
//	taskrelay init       scaffold taskrelay.config.json in the current directory
//	taskrelay serve      run the HTTP server and schedulers
//	taskrelay mcp        serve the tool surface on stdio, scoped to a task
//	taskrelay run-agent  dispatch one agent for a task and wait
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/taskrelay/board/store"
	"github.com/dshills/taskrelay/board/tool"
	"github.com/dshills/taskrelay/config"
	"github.com/dshills/taskrelay/daemon"
	"github.com/dshills/taskrelay/mcpserver"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "taskrelay",
		Short:         "Multi-agent coding orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to taskrelay.config.json")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(mcpCmd(&configPath))
	root.AddCommand(runAgentCmd(&configPath))
	return root
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter taskrelay.config.json",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			path := filepath.Join(cwd, config.DefaultFileName)
			if _, err := os.Stat(path); err == nil {
				cmd.Printf("Config already exists: %s\n", path)
				return nil
			}
			if err := config.Write(config.Default(cwd), path); err != nil {
				return err
			}
			cmd.Printf("Created %s\n", path)
			cmd.Println("Edit it to set your repo_path and base_branch.")
			return nil
		},
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and schedulers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			d, err := daemon.New(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return d.Run(ctx)
		},
	}
}

func mcpCmd(configPath *string) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool surface on stdio for an agent subprocess",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbPath := os.Getenv("TASKRELAY_DB")
			if dbPath == "" {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				dbPath = cfg.DBPath
			}
			st, err := store.Open(config.ExpandPath(dbPath))
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			surface := tool.New(st)
			return mcpserver.New(surface, taskID).ServeStdio()
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task id this tool session is scoped to")
	return cmd
}

func runAgentCmd(configPath *string) *cobra.Command {
	var taskID string
	cmd := &cobra.Command{
		Use:   "run-agent",
		Short: "Dispatch one agent for a task and wait for it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if taskID == "" {
				return fmt.Errorf("--task-id is required")
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := slog.New(slog.NewTextHandler(os.Stderr, nil))
			d, err := daemon.New(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = d.Close() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := d.Runner().Run(ctx, taskID)
			if err != nil {
				return err
			}
			cmd.Printf("exit_code=%d session_id=%s\n", result.ExitCode, result.SessionID)
			if result.ExitCode != 0 {
				return fmt.Errorf("agent exited with code %d", result.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "task to dispatch")
	return cmd
}
