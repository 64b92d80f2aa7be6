package cmd

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/browser"
	"github.com/kei1-dev/terakoya-invoicer/internal/config"
	"github.com/kei1-dev/terakoya-invoicer/internal/observability"
	"github.com/kei1-dev/terakoya-invoicer/internal/reporting"
	"github.com/kei1-dev/terakoya-invoicer/internal/store"
	"github.com/kei1-dev/terakoya-invoicer/internal/terakoya"
)

// errRunFailed signals that the workflow completed but at least one
// record did not register; the caller maps it onto exit code 1.
var errRunFailed = errors.New("some invoice items failed to register")

// saveHistoryTimeout bounds the teardown write to the run-history
// database so an interrupt still exits promptly.
const saveHistoryTimeout = 10 * time.Second

type runParams struct {
	Year   int
	Month  int
	DryRun bool
	Submit bool
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Retrieves one month of lesson records and registers them as invoice items",
		Long: `Logs in, collects the lesson records of the target month, compares them
against the invoice items already on the claim page, and registers every
record that is not yet invoiced. With --dry-run the submission modal is
filled but never saved. With --submit the monthly claim itself is
submitted after all items registered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}

			month, _ := cmd.Flags().GetString("month")
			year, monthNum, err := parseMonth(month)
			if err != nil {
				return err
			}

			if cfg.Terakoya.Email == "" || cfg.Terakoya.Password.Reveal() == "" {
				return errors.New("credentials missing: set TERAKOYA_EMAIL and TERAKOYA_PASSWORD")
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("failed to prepare output directories: %w", err)
			}

			dryRun, _ := cmd.Flags().GetBool("dry-run")
			submit, _ := cmd.Flags().GetBool("submit")
			return runInvoicing(ctx, logger, cfg, runParams{
				Year:   year,
				Month:  monthNum,
				DryRun: dryRun,
				Submit: submit,
			})
		},
	}

	runCmd.Flags().String("month", "", "Target month in YYYY-MM form (required)")
	_ = runCmd.MarkFlagRequired("month")
	runCmd.Flags().Bool("dry-run", false, "Fill the submission modal but do not save anything")
	runCmd.Flags().Bool("submit", false, "Submit the monthly claim after registering the items")
	runCmd.Flags().Bool("headless", false, "Run the browser without a visible window")
	runCmd.Flags().Int("unit-price", 0, "Unit price per lesson in yen (overrides config)")
	runCmd.Flags().String("password", "", "Terakoya password (prefer TERAKOYA_PASSWORD or .env)")

	return runCmd
}

var monthPattern = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// parseMonth validates the --month argument and splits it into year and
// month numbers.
func parseMonth(raw string) (int, int, error) {
	m := monthPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, fmt.Errorf("month %q must be in YYYY-MM form", raw)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	if month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("month %d is out of range (1-12)", month)
	}
	if year < 2020 || year > 2100 {
		return 0, 0, fmt.Errorf("year %d is out of range (2020-2100)", year)
	}
	return year, month, nil
}

// runInvoicing drives the whole workflow. Report files are written on
// every exit path, interrupts included, so a partial run still leaves a
// usable record of what happened.
func runInvoicing(ctx context.Context, logger *zap.Logger, cfg *config.Config, p runParams) error {
	summary := reporting.NewRunSummary(uuid.NewString(), p.Year, p.Month, p.DryRun)
	defer func() {
		summary.Finalize()
		// The run context may already be canceled; the writers get a
		// fresh one so the report survives an interrupt.
		jsonPath, csvPath, err := summary.WriteAll(context.Background(), cfg.Output.DataDir())
		if err != nil {
			logger.Error("Failed to write report files", zap.Error(err))
		} else {
			logger.Info("Reports written",
				zap.String("json", jsonPath), zap.String("csv", csvPath))
		}
		if cfg.Database.URL != "" {
			saveRunHistory(logger, cfg.Database.URL, summary)
		}
	}()

	session, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		summary.RecordError("browser startup failed: %v", err)
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer session.Close()

	client := terakoya.New(ctx, session, cfg, logger)

	logger.Info("[1/6] Logging in")
	if st := client.Login(ctx, cfg.Terakoya.Email, cfg.Terakoya.Password); !st.Succeeded() {
		summary.RecordError("login failed: %v", st.Err())
		return fmt.Errorf("login failed: %w", st.Err())
	}

	logger.Info("[2/6] Retrieving lesson records",
		zap.Int("year", p.Year), zap.Int("month", p.Month))
	lessonsOut := client.LessonsForMonth(ctx, p.Year, p.Month)
	if !lessonsOut.Succeeded() {
		summary.RecordError("lesson retrieval failed: %v", lessonsOut.Err())
		return fmt.Errorf("failed to retrieve lesson records: %w", lessonsOut.Err())
	}
	lessons := lessonsOut.Value()
	summary.SetLessonCount(len(lessons))
	if len(lessons) == 0 {
		logger.Warn("No lesson records found for the target month, nothing to register")
		return nil
	}

	logger.Info("[3/6] Opening the claim page")
	if st := client.OpenInvoicePage(ctx, p.Year, p.Month); !st.Succeeded() {
		summary.RecordError("claim page unavailable: %v", st.Err())
		return fmt.Errorf("failed to open the claim page: %w", st.Err())
	}

	logger.Info("[4/6] Checking existing invoice items")
	existingOut := client.ExistingInvoices(ctx)
	if !existingOut.Succeeded() {
		summary.RecordError("existing invoice check failed: %v", existingOut.Err())
		return fmt.Errorf("failed to read existing invoice items: %w", existingOut.Err())
	}
	existing := existingOut.Value()
	summary.SetExistingCount(len(existing))

	logger.Info("[5/6] Registering invoice items",
		zap.Int("lessons", len(lessons)),
		zap.Int("existing", len(existing)),
		zap.Bool("dry_run", p.DryRun))
	client.SubmitLessons(ctx, lessons, existing, terakoya.AddOptions{
		UnitPrice: cfg.Terakoya.LessonUnitPrice,
		DryRun:    p.DryRun,
	}, summary)

	logger.Info("[6/6] Monthly claim submission")
	switch {
	case p.DryRun:
		logger.Info("Dry run, skipping claim submission")
	case !p.Submit:
		logger.Info("Claim submission not requested, registered items stay as drafts")
	default:
		if st := client.SubmitInvoice(ctx); !st.Succeeded() {
			summary.RecordError("claim submission failed: %v", st.Err())
		} else {
			summary.MarkSubmitted()
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if summary.Failed() {
		return errRunFailed
	}
	logger.Info("Run completed",
		zap.Int("added", summary.Totals.Added),
		zap.Int("skipped", summary.Totals.Skipped))
	return nil
}

// saveRunHistory persists the summary when a database is configured.
// History is best effort: a failure is logged, never fatal, and the
// write runs under its own deadline because the run context may be gone.
func saveRunHistory(logger *zap.Logger, databaseURL string, summary *reporting.RunSummary) {
	ctx, cancel := context.WithTimeout(context.Background(), saveHistoryTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Warn("Run history skipped, cannot connect to database", zap.Error(err))
		return
	}
	defer pool.Close()

	st, err := store.New(ctx, pool, logger)
	if err != nil {
		logger.Warn("Run history skipped, store initialization failed", zap.Error(err))
		return
	}
	if err := st.SaveRun(ctx, summary); err != nil {
		logger.Warn("Run history write failed", zap.Error(err))
	}
}
