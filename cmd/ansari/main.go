// Package main provides the ansari CLI entry point.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ansari-project/ansari-agent/cli"
	"github.com/ansari-project/ansari-agent/config"
	"github.com/ansari-project/ansari-agent/llm"
	"github.com/ansari-project/ansari-agent/orchestration"
	"github.com/ansari-project/ansari-agent/server"
	"github.com/ansari-project/ansari-agent/session"
	"github.com/ansari-project/ansari-agent/tools"
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "ansari",
		Short: "Side-by-side LLM comparison for Islamic knowledge answers",
		Long: `Runs the same prompt against multiple LLM backends concurrently and
streams their answers side by side, tools and all.

Two modes:
- serve: HTTP server with SSE streaming for the comparison UI
- compare: one-shot comparison rendered in the terminal`,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(compareCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the comparison HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := loadSettings()
			if err != nil {
				return err
			}

			registry := tools.NewRegistry()
			if err := registry.Register(tools.NewQuranSearchTool(settings.KalimatAPIKey)); err != nil {
				return fmt.Errorf("registering tools: %w", err)
			}

			adapters := make([]*llm.Adapter, 0, len(settings.Models))
			for _, spec := range settings.Models {
				provider, err := llm.NewProvider(spec, settings)
				if err != nil {
					return fmt.Errorf("model %s: %w", spec.ID, err)
				}
				adapters = append(adapters, llm.NewAdapter(spec.ID, provider, registry, settings.SystemPrompt, logger))
			}

			store := session.NewStore(logger)
			orch := orchestration.New(adapters, settings.StreamTimeout, logger)
			srv := server.New(settings, store, orch, logger)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				logger.Info("shutting down", "signal", sig.String())
				ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
				defer cancel()
				if err := srv.Shutdown(ctx); err != nil {
					logger.Error("shutdown error", "error", err)
				}
			}()

			return srv.ListenAndServe()
		},
	}
}

func compareCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compare [prompt]",
		Short: "Run one prompt against every backend and print the answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, logger, err := loadSettings()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return cli.RunCompare(ctx, args[0], settings, logger)
		},
	}
}

func loadSettings() (config.Settings, *slog.Logger, error) {
	settings, err := config.New()
	if err != nil {
		return config.Settings{}, nil, err
	}
	if err := settings.Validate(); err != nil {
		return config.Settings{}, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(settings.LogLevel),
	}))
	slog.SetDefault(logger)
	return settings, logger, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
