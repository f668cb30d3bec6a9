package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"bibliotheca/internal/app"
	"bibliotheca/internal/model"
	"bibliotheca/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		st, err := store.Open(cmd.Context(), cfg.StoreOptions())
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		log.Info().Str("driver", string(cfg.Database.Driver)).Msg("schema up to date")
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate-db",
	Short: "Recompute book counters and correct any drift",
	Long: `Recompute every book's copy counts, availability, borrow count and
rating from its copies and loans, and persist a correction for each field
that disagrees. Exits non-zero when corrections were made.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			report, err := a.Audit.ValidateDatabase(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				fmt.Printf("books checked: %d\n", report.BooksChecked)
				for _, c := range report.Corrections {
					fmt.Printf("  %s %s: %v -> %v\n", c.BookID, c.Field, c.Was, c.Now)
				}
				for _, id := range report.OrphanCopies {
					fmt.Printf("  orphan copy %s\n", id)
				}
			}
			if !report.Valid() {
				return fmt.Errorf("%d corrections, %d orphan copies", len(report.Corrections), len(report.OrphanCopies))
			}
			return nil
		})
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Start due scheduled loans and expire lapsed reservations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			return a.Promote(cmd.Context())
		})
	},
}

var setRoleCmd = &cobra.Command{
	Use:   "set-role EMAIL ROLE",
	Short: "Change a user's role",
	Long: `Change the role of the user registered under EMAIL.

ROLE is one of STUDENT, PROFESSOR, EMPLOYEE or ADMIN.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := model.Permission(strings.ToUpper(args[1]))
		return withApp(cmd.Context(), func(a *app.App) error {
			user, err := a.Membership.SetRoleByEmail(cmd.Context(), args[0], role)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(user)
			}
			fmt.Printf("%s is now %s\n", user.Email, user.Permissions)
			return nil
		})
	},
}
