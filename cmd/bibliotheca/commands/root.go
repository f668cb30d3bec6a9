package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bibliotheca/internal/app"
	"bibliotheca/internal/config"
	"bibliotheca/internal/logging"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "bibliotheca",
	Short: "Library circulation backend",
	Long: `bibliotheca serves the library API: catalog, accounts, loans and
reservations over a Postgres or SQLite store.

Configuration is read from the environment and an optional .env file.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.AddCommand(serveCmd, migrateCmd, validateCmd, promoteCmd, setRoleCmd)
}

// setup loads configuration and initializes logging.
func setup() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.App.Environment, cfg.App.LogLevel)
	return cfg, nil
}

// withApp runs fn against a fully wired app and closes it afterwards.
func withApp(ctx context.Context, fn func(*app.App) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
