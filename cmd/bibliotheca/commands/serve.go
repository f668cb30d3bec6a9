package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bibliotheca/internal/app"
	"bibliotheca/internal/server"
	"bibliotheca/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the maintenance scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx)
	},
}

func runServe(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Setup(ctx, cfg.App.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, err := a.Scheduler()
	if err != nil {
		return err
	}
	jobs.Start()
	defer jobs.Stop()

	log.Info().
		Str("env", cfg.App.Environment).
		Str("driver", string(cfg.Database.Driver)).
		Msg("starting bibliotheca")

	err = server.New(":"+cfg.HTTP.Port, a.Handler()).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
