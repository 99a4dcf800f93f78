// Package main provides the CLI entry point for coderagentd, the iterative
// agent execution engine: a tagged-text model-response loop, schema-driven
// tool coercion, human-in-the-loop approval, speculative auto-execution of
// file edits during streaming, and per-file checkpointing.
//
// # Basic Usage
//
// Start the server:
//
//	coderagentd serve --config coderagentd.yaml
//
// Run a single task to completion without a server:
//
//	coderagentd run --workspace ./work --request "add a README"
//
// Validate a config file's shape before deploying it:
//
//	coderagentd config validate --config coderagentd.yaml
//
// # Environment Variables
//
//   - CODERAGENT_LISTEN_ADDR: server listen address override
//   - CODERAGENT_LOG_LEVEL: log level override
//   - CODERAGENT_MAX_ITERATIONS: iteration cap override
//   - CODERAGENT_DEFAULT_MODEL: default model override
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key (also enables the OpenAI leg)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/atlas2/coderagent/internal/config"
	"github.com/atlas2/coderagent/internal/engine"
	"github.com/atlas2/coderagent/internal/server"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "coderagentd",
		Short: "coderagentd - iterative agent execution engine",
		Long: `coderagentd drives a coding agent's tool-call loop: parses tagged-text
model responses, coerces parameters against declared tool schemas, gates
side-effecting tool calls behind human approval, speculatively
auto-executes file writes/edits while the model is still streaming (with
sound revert if the model changes its mind), and checkpoints every file
mutation.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildRunCmd(), buildConfigCmd())
	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildServeCmd starts the long-running HTTP server surface.
func buildServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a long-lived HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			eng, err := engine.Build(cfg, nil)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}
			defer eng.Close()

			srv := server.New(eng)
			httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: srv}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				eng.Log.Info("serving", "addr", cfg.Server.ListenAddr)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				eng.Log.Info("shutting down")
				return httpServer.Shutdown(context.Background())
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	return cmd
}

// buildRunCmd drives a single task to completion without a server,
// printing each emitted event as a JSON line to stdout. Tool calls
// requiring approval are auto-accepted unless --dry-run is set, in which
// case the task stops at the first pending proposal.
func buildRunCmd() *cobra.Command {
	var configPath, workspace, request, taskID, domainID, agentID, chatID string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a single task to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspace == "" {
				return fmt.Errorf("--workspace is required")
			}
			if request == "" {
				return fmt.Errorf("--request is required")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return runOneShot(cmd, cfg, oneShotParams{
				workspace: workspace, request: request, taskID: taskID,
				domainID: domainID, agentID: agentID, chatID: chatID, dryRun: dryRun,
			})
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "Workspace directory the task operates on")
	cmd.Flags().StringVar(&request, "request", "", "The user's request driving the task")
	cmd.Flags().StringVar(&taskID, "task-id", "task-cli", "Task identifier")
	cmd.Flags().StringVar(&domainID, "domain-id", "local", "Domain identifier")
	cmd.Flags().StringVar(&agentID, "agent-id", "coder", "Agent identifier")
	cmd.Flags().StringVar(&chatID, "chat-id", "cli", "Chat identifier")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Stop at the first pending tool-call proposal instead of auto-approving")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file's JSON Schema shape and semantic constraints",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			raw, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			var doc any
			if err := yaml.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("parse yaml: %w", err)
			}
			asJSON, err := json.Marshal(doc)
			if err != nil {
				return fmt.Errorf("re-encode config as json: %w", err)
			}
			if err := config.ValidateSchema(asJSON); err != nil {
				return err
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	return cmd
}
