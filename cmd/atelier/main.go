// Package main provides the atelier dashboard server entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/richinex/atelier/config"
	"github.com/richinex/atelier/relay"
	"github.com/richinex/atelier/server"
	"github.com/richinex/atelier/storage"
)

var (
	// Global flags
	addr    string
	dbPath  string
	verbose bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "atelier",
		Short: "Single-operator AI dashboard with a streaming chat relay",
		Long: `A local dashboard server for one operator: chat with upstream
completion providers (OpenAI, Anthropic, DeepSeek, Moonshot, Gemini),
organize work into projects, and track review items.

Chat answers stream over SSE and are persisted as they arrive.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides ATELIER_ADDR)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite database path (overrides ATELIER_DB_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(modelsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.New()
			if err != nil {
				return err
			}
			if addr != "" {
				settings.HTTP.Addr = addr
			}
			if dbPath != "" {
				settings.Database.Path = dbPath
			}

			log := newLogger()

			store, err := storage.OpenSqlite(settings.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			srv := server.New(settings, store, relay.NewRegistry(), log)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			}

			ctx, cancel := context.WithTimeout(context.Background(), settings.HTTP.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the logical model names the relay resolves",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range relay.NewRegistry().Models() {
				fmt.Println(name)
			}
		},
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}
