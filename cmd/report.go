package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/config"
	"github.com/kei1-dev/terakoya-invoicer/internal/observability"
	"github.com/kei1-dev/terakoya-invoicer/internal/reporting"
	"github.com/kei1-dev/terakoya-invoicer/internal/store"
)

// runStore is the slice of the store the report command needs. The
// interface exists so tests can substitute a fake for the database.
type runStore interface {
	GetRun(ctx context.Context, runID string) (*reporting.RunSummary, error)
	ListRuns(ctx context.Context, limit int) ([]store.RunMeta, error)
}

// storeProvider creates a runStore; production connects to PostgreSQL,
// tests inject a mock.
type storeProvider interface {
	Create(ctx context.Context, cfg *config.Config) (runStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database and returns the store plus
// a cleanup function closing the pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (runStore, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("run history is not configured (set TERAKOYA_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	st, err := store.New(ctx, pool, observability.GetLogger())
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize run history store: %w", err)
	}
	return st, pool.Close, nil
}

type reportParams struct {
	RunID     string
	OutputDir string
	List      bool
	Limit     int
}

// newReportCmd creates and configures the `report` command.
func newReportCmd(provider storeProvider) *cobra.Command {
	var params reportParams

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Regenerates the report files of a stored run",
		Long: `Loads a run summary from the run-history database and writes its JSON
and CSV report files again. With --list the stored runs are printed
instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, params, provider, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVar(&params.RunID, "run-id", "", "Run to regenerate (required unless --list)")
	reportCmd.Flags().StringVarP(&params.OutputDir, "output", "o", "", "Directory for the regenerated files (default: the configured data directory)")
	reportCmd.Flags().BoolVar(&params.List, "list", false, "List stored runs instead of regenerating one")
	reportCmd.Flags().IntVar(&params.Limit, "limit", 20, "Maximum number of runs to list")

	return reportCmd
}

// runReport contains the testable core of the report command.
func runReport(
	ctx context.Context,
	logger *zap.Logger,
	cfg *config.Config,
	p reportParams,
	provider storeProvider,
	out io.Writer,
) error {
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize run history: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if p.List {
		return listRuns(ctx, st, p.Limit, out)
	}
	if p.RunID == "" {
		return errors.New("either --run-id or --list is required")
	}

	summary, err := st.GetRun(ctx, p.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	dir := p.OutputDir
	if dir == "" {
		dir = cfg.Output.DataDir()
	}
	jsonPath, csvPath, err := summary.WriteAll(ctx, dir)
	if err != nil {
		return fmt.Errorf("failed to write report files: %w", err)
	}

	logger.Info("Reports regenerated",
		zap.String("run_id", summary.RunID),
		zap.String("json", jsonPath),
		zap.String("csv", csvPath))
	fmt.Fprintf(out, "JSON: %s\nCSV:  %s\n", jsonPath, csvPath)
	return nil
}

// listRuns prints the stored runs, newest first.
func listRuns(ctx context.Context, st runStore, limit int, out io.Writer) error {
	metas, err := st.ListRuns(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(metas) == 0 {
		fmt.Fprintln(out, "No runs stored yet.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-19s  %-7s  %-5s  %5s  %5s  %5s\n",
		"RUN ID", "EXECUTED", "MONTH", "MODE", "ADDED", "SKIP", "FAIL")
	for _, m := range metas {
		mode := "live"
		if m.DryRun {
			mode = "dry"
		}
		fmt.Fprintf(out, "%-36s  %-19s  %-7s  %-5s  %5d  %5d  %5d\n",
			m.RunID,
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			m.TargetMonth,
			mode,
			m.Totals.Added, m.Totals.Skipped, m.Totals.Failed)
	}
	return nil
}
