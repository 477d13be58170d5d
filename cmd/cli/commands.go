package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/amirasaad/pixflow/infra"
	"github.com/amirasaad/pixflow/infra/initializer"
	"github.com/amirasaad/pixflow/pkg/app"
	"github.com/amirasaad/pixflow/pkg/config"
	"github.com/amirasaad/pixflow/pkg/domain/pix"
	"github.com/amirasaad/pixflow/pkg/scheduler"
	"github.com/amirasaad/pixflow/webapi"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// env carries what the commands need from the outside world so tests can
// replace it.
type env struct {
	out io.Writer
	// bootstrap loads configuration and wires the application.
	bootstrap func(ctx context.Context, envFile string) (*app.App, error)
	// openDB opens the database for schema commands.
	openDB func(envFile string) (*sql.DB, error)
}

func defaultEnv() *env {
	return &env{
		out: os.Stdout,
		bootstrap: func(ctx context.Context, envFile string) (*app.App, error) {
			cfg, err := config.Load(envFile)
			if err != nil {
				return nil, err
			}
			deps, err := initializer.InitializeDependencies(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return app.New(deps, cfg), nil
		},
		openDB: func(envFile string) (*sql.DB, error) {
			cfg, err := config.Load(envFile)
			if err != nil {
				return nil, err
			}
			initializer.SetupLogger(cfg.Log)
			db, err := infra.NewDBConnection(cfg.DB, cfg.Env)
			if err != nil {
				return nil, err
			}
			return db.DB()
		},
	}
}

func newRootCmd(e *env) *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "pixctl",
		Short:         "Operate the Pix reconciliation service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(e.out)
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load")

	root.AddCommand(serveCmd(e, &envFile))
	root.AddCommand(taskCmd(e, &envFile, scheduler.TaskSync, "Query the gateway for every pending charge once"))
	root.AddCommand(taskCmd(e, &envFile, scheduler.TaskExpire, "Expire every overdue pending charge once"))
	root.AddCommand(statusCmd(e, &envFile))
	root.AddCommand(migrateCmd(e, &envFile))
	return root
}

func withApp(ctx context.Context, e *env, envFile string, fn func(*app.App) error) error {
	a, err := e.bootstrap(ctx, envFile)
	if err != nil {
		return err
	}
	defer a.Close() //nolint: errcheck
	return fn(a)
}

func serveCmd(e *env, envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withApp(ctx, e, *envFile, func(a *app.App) error {
				return webapi.Serve(ctx, a)
			})
		},
	}
}

// taskCmd runs one scheduler task now, under the same overlap guards as a
// scheduled run.
func taskCmd(e *env, envFile *string, task, short string) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   task,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return withApp(ctx, e, *envFile, func(a *app.App) error {
				switch task {
				case scheduler.TaskSync:
					res, err := a.PixService.Sync(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "%s attempted=%d updated=%d failed=%d\n",
						color.GreenString("sync finished:"), res.Attempted, res.Updated, res.Failed)
					if res.Failed > 0 {
						fmt.Fprintln(e.out, color.YellowString("some records could not be queried; they will be retried"))
					}
				case scheduler.TaskExpire:
					n, err := a.PixService.MarkExpired(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(e.out, "%s %d charge(s) expired\n", color.GreenString("expiry finished:"), n)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the run after this long")
	return cmd
}

func statusCmd(e *env, envFile *string) *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show gateway health and per-status totals",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return withApp(ctx, e, *envFile, func(a *app.App) error {
				st := a.PixService.HealthCheck(ctx)
				label := color.GreenString("ONLINE")
				if !st.Online {
					label = color.RedString("OFFLINE") + " (" + st.Error + ")"
				}
				if st.Simulated {
					label += color.YellowString(" [simulated]")
				}
				fmt.Fprintf(e.out, "Gateway:  %s\n", label)

				stats, err := a.PixService.Stats(ctx, owner)
				if err != nil {
					return err
				}
				statuses := make([]pix.Status, 0, len(stats.ByStatus))
				for s := range stats.ByStatus {
					statuses = append(statuses, s)
				}
				sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
				fmt.Fprintln(e.out, "Transactions:")
				for _, s := range statuses {
					b := stats.ByStatus[s]
					fmt.Fprintf(e.out, "  %-10s %6d  %s\n", s, b.Count, formatBRL(b.TotalAmount))
				}
				fmt.Fprintf(e.out, "  %-10s %6d  %s\n", color.New(color.Bold).Sprint("TOTAL"), stats.Count, formatBRL(stats.TotalAmount))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "restrict totals to one owner")
	return cmd
}

func migrateCmd(e *env, envFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	withDB := func(fn func(*sql.DB) error) error {
		db, err := e.openDB(*envFile)
		if err != nil {
			return err
		}
		defer db.Close() //nolint: errcheck
		return fn(db)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(*cobra.Command, []string) error {
			return withDB(func(db *sql.DB) error {
				if err := infra.MigrateUp(db, nil); err != nil {
					return err
				}
				return printVersion(e.out, db)
			})
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(*cobra.Command, []string) error {
			return withDB(func(db *sql.DB) error {
				if err := infra.MigrateDown(db, steps, nil); err != nil {
					return err
				}
				return printVersion(e.out, db)
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(*cobra.Command, []string) error {
			return withDB(func(db *sql.DB) error { return printVersion(e.out, db) })
		},
	})
	return cmd
}

func printVersion(out io.Writer, db *sql.DB) error {
	version, dirty, err := infra.MigrationVersion(db)
	if err != nil {
		return err
	}
	state := color.GreenString("clean")
	if dirty {
		state = color.RedString("dirty")
	}
	fmt.Fprintf(out, "schema version %d (%s)\n", version, state)
	return nil
}

// formatBRL renders cents as R$ with two decimals.
func formatBRL(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%sR$ %d.%02d", sign, cents/100, cents%100)
}
