package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/theatreops/theatre/internal/config"
	"github.com/theatreops/theatre/internal/domain/theatre"
	"github.com/theatreops/theatre/internal/platform/db"
	"github.com/theatreops/theatre/internal/platform/logging"
	"github.com/theatreops/theatre/migrations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "theatre-scheduler",
		Short:        "Monthly operating theatre schedule generator",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	return rootCmd
}

// loadConfig loads and validates the configuration and builds the logger.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logging.New(cfg.Env, cfg.LogLevel), nil
}

// parseYearMonth reads the optional [year] [month] arguments, defaulting to
// the year and month of now. Range checks are left to theatre.ValidateMonth.
func parseYearMonth(args []string, now time.Time) (int, time.Month, error) {
	year, month := now.Year(), now.Month()
	if len(args) > 0 {
		y, err := strconv.Atoi(args[0])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q is not a number", theatre.ErrInvalidYear, args[0])
		}
		year = y
	}
	if len(args) > 1 {
		m, err := strconv.Atoi(args[1])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q is not a number", theatre.ErrInvalidMonth, args[1])
		}
		month = time.Month(m)
	}
	if err := theatre.ValidateMonth(year, month); err != nil {
		return 0, 0, err
	}
	return year, month, nil
}

func generateCmd() *cobra.Command {
	var (
		seed       int64
		exportPath string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "generate [year] [month]",
		Short: "Generate the theatre schedule for a month",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// invalid arguments fail before any store access
			year, month, err := parseYearMonth(args, time.Now())
			if err != nil {
				return err
			}

			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			req := theatre.GenerateRequest{Year: year, Month: int(month), DryRun: dryRun}
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}
			return runGenerate(ctx, a, req, exportPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "Archetype seed (default SCHEDULE_SEED)")
	cmd.Flags().StringVar(&exportPath, "export", "", "Write the generated month to an .xlsx file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan the month without clearing or writing sessions")
	return cmd
}

// runGenerate prints whatever summary the run produced, even when it failed,
// so partial persistence is visible to the operator.
func runGenerate(ctx context.Context, a *app, req theatre.GenerateRequest, exportPath string, out io.Writer) error {
	sum, runErr := a.svc.Generate(ctx, req)
	defer a.pushMetrics()

	if sum == nil {
		return runErr
	}
	if err := sum.Print(out); err != nil {
		return errors.Join(runErr, err)
	}
	if exportPath != "" {
		if err := writeWorkbookFile(exportPath, sum.Sessions, sum); err != nil {
			return errors.Join(runErr, err)
		}
		fmt.Fprintf(out, "Exported %d sessions to %s\n", len(sum.Sessions), exportPath)
	}
	return runErr
}

func writeWorkbookFile(path string, sessions []*theatre.TheatreSession, sum *theatre.RunSummary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := theatre.WriteWorkbook(f, sessions, sum); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export [year] [month]",
		Short: "Export a stored month to an .xlsx file",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, month, err := parseYearMonth(args, time.Now())
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if out == "" {
				out = fmt.Sprintf("theatre-schedule-%04d-%02d.xlsx", year, int(month))
			}
			sessions, err := a.svc.MonthSessions(ctx, year, month)
			if err != nil {
				return err
			}
			if err := writeWorkbookFile(out, sessions, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d sessions to %s\n", len(sessions), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default theatre-schedule-YYYY-MM.xlsx)")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the schedule API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	e := newServer(a)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("driver", cfg.StoreDriver).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		fmt.Fprintf(cmd.OutOrStdout(), "STORE_DRIVER=%s creates its schema on open; nothing to migrate.\n", cfg.StoreDriver)
		return nil
	}

	ctx := context.Background()
	a := &app{cfg: cfg, logger: logger}
	pool, err := a.newPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <fixtures.yaml>",
		Short: "Load consultants and waiting-list entries from a YAML fixture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fixtures, err := theatre.LoadFixtures(args[0])
			if err != nil {
				return err
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.svc.ImportFixtures(ctx, fixtures); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d consultant(s) and %d waiting-list entr(ies).\n",
				len(fixtures.Consultants), len(fixtures.WaitingList))
			return nil
		},
	}
}
