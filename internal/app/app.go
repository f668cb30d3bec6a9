// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"bibliotheca/internal/audit"
	"bibliotheca/internal/catalog"
	"bibliotheca/internal/circulation"
	"bibliotheca/internal/config"
	"bibliotheca/internal/ledger"
	"bibliotheca/internal/membership"
	"bibliotheca/internal/repository"
	"bibliotheca/internal/scheduler"
	"bibliotheca/internal/server"
	"bibliotheca/internal/store"
)

// App is the assembled service graph over one store.
type App struct {
	Config      *config.Config
	Store       *store.Store
	Repo        *repository.Repository
	Ledger      *ledger.Log
	Membership  membership.Service
	Catalog     catalog.Service
	Circulation circulation.Service
	Audit       audit.Service
}

// Open connects and migrates the store, warms the caches and builds every
// service. Callers must Close the result.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	st, err := store.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	a, err := New(ctx, cfg, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

// New builds the services over an already open store.
func New(ctx context.Context, cfg *config.Config, st *store.Store) (*App, error) {
	if err := st.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	repo := repository.New(st)
	if err := repo.Warm(ctx); err != nil {
		return nil, fmt.Errorf("failed to warm caches: %w", err)
	}
	lg := ledger.New(st)

	loans, err := circulation.NewService(repo, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to create circulation service: %w", err)
	}

	return &App{
		Config:      cfg,
		Store:       st,
		Repo:        repo,
		Ledger:      lg,
		Membership:  membership.NewService(repo, cfg.HTTP.LoginRatePerMinute),
		Catalog:     catalog.NewService(repo, lg),
		Circulation: loans,
		Audit:       audit.NewService(repo, lg),
	}, nil
}

// Handler returns the HTTP surface of the app.
func (a *App) Handler() http.Handler {
	return server.NewRouter(server.Deps{
		Logger:         log.Logger,
		Store:          a.Store,
		Membership:     a.Membership,
		Catalog:        a.Catalog,
		Circulation:    a.Circulation,
		Audit:          a.Audit,
		FrontendOrigin: a.Config.HTTP.FrontendOrigin,
		CookieSecure:   a.Config.HTTP.CookieSecure,
	})
}

// Promote moves due scheduled loans to BORROWED and then expires lapsed
// reservations.
func (a *App) Promote(ctx context.Context) error {
	promoted, err := a.Circulation.PromoteDueReservations(ctx)
	if err != nil {
		return err
	}
	expired, err := a.Circulation.ExpireReservations(ctx)
	if err != nil {
		return err
	}
	if promoted > 0 || expired > 0 {
		log.Ctx(ctx).Info().Int("promoted", promoted).Int("expired", expired).Msg("circulation maintenance")
	}
	return nil
}

// PurgeSessions deletes sessions idle past their lifetime.
func (a *App) PurgeSessions(ctx context.Context) error {
	n, err := a.Membership.PurgeExpiredSessions(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Ctx(ctx).Info().Int64("sessions", n).Msg("expired sessions purged")
	}
	return nil
}

// Scheduler returns a scheduler with the maintenance jobs registered.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(time.Minute)
	if err := s.Add("promote", a.Config.Jobs.PromoteSchedule, a.Promote); err != nil {
		return nil, err
	}
	if err := s.Add("purge_sessions", a.Config.Jobs.SessionPurgeSchedule, a.PurgeSessions); err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}
