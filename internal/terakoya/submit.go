// internal/terakoya/submit.go
package terakoya

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/outcome"
	"github.com/kei1-dev/terakoya-invoicer/internal/records"
	"github.com/kei1-dev/terakoya-invoicer/internal/reporting"
)

// AddOptions tunes how records go through the submission modal.
type AddOptions struct {
	// UnitPrice overrides the per-lesson price; zero means the default.
	UnitPrice int

	// DryRun fills the modal but never saves it, leaving the form open
	// for inspection.
	DryRun bool
}

// AddResult describes how one record's submission concluded.
type AddResult struct {
	Attempts   int
	Screenshot string
	Status     outcome.Status
}

// Stages of the per-record submission state machine, logged for
// debugging flaky runs.
type submitStage string

const (
	stageTrigger submitStage = "locate_trigger"
	stageModal   submitStage = "modal_open"
	stageFilled  submitStage = "fields_filled"
	stageSaved   submitStage = "saved"
	stageAborted submitStage = "aborted"
)

func (c *Client) logStage(lessonID string, stage submitStage) {
	c.log.Debug("Submission stage",
		zap.String("lesson", lessonID), zap.String("stage", string(stage)))
}

// Option values observed on the live category dropdown. Categories
// outside the map fall back to the select's visible-text matching.
var categoryOptionValues = map[string]string{
	records.CategoryDedicated:        "1",
	records.CategoryDedicatedSupport: "2",
}

func categoryOption(category string) string {
	if v, ok := categoryOptionValues[category]; ok {
		return v
	}
	return category
}

// Polling cadence for dropdowns the page populates asynchronously after
// a category pick or a search keystroke.
const (
	dependentPollBudget   = 5 * time.Second
	dependentPollInterval = 500 * time.Millisecond
)

// AddInvoiceItem drives the submission modal for one record: trigger,
// modal, fields, save. Required fields abort the record on failure with
// a screenshot named after the step; the student field is optional and
// only logs, because the modal derives the student from the picked
// lesson in most layouts.
func (c *Client) AddInvoiceItem(ctx context.Context, lesson records.Lesson, opts AddOptions) outcome.Status {
	unitPrice := opts.UnitPrice
	if unitPrice <= 0 {
		unitPrice = records.DefaultUnitPrice
	}

	c.log.Info("Adding invoice item",
		zap.String("date", lesson.Date),
		zap.String("student", lesson.StudentName),
		zap.String("category", lesson.Category),
		zap.Bool("dry_run", opts.DryRun))

	abort := func(shot, format string, args ...any) outcome.Status {
		c.screenshot(ctx, shot)
		c.logStage(lesson.ID, stageAborted)
		return outcome.FailStatusf(format, args...)
	}

	c.logStage(lesson.ID, stageTrigger)
	// Scripted click: the trigger reliably sits under a sticky footer,
	// and in dry-run mode under the previous record's open modal.
	if st := c.d.ClickViaScript(ctx, locAddItemTrigger); !st.Succeeded() {
		return abort("add_item_button_failed", "add item trigger: %w", st.Err())
	}

	if found := c.d.FindOne(ctx, locModalFields); !found.Succeeded() {
		return abort("modal_not_visible", "modal did not appear: %w", found.Err())
	}
	c.logStage(lesson.ID, stageModal)

	if st := c.d.SelectOption(ctx, locModalCategory, categoryOption(lesson.Category)); !st.Succeeded() {
		return abort("category_input_failed", "category select: %w", st.Err())
	}

	// Dedicated lessons unlock a lesson dropdown whose pick derives the
	// date; everything else gets the date typed into the React picker.
	dateHandled := false
	if lesson.Category == records.CategoryDedicated {
		dateHandled = c.pickDependentLesson(ctx, lesson.Date)
	}
	if !dateHandled {
		if st := c.d.SetValueViaScript(ctx, locModalDate, lesson.Date); !st.Succeeded() {
			return abort("date_input_failed", "date input: %w", st.Err())
		}
	}

	c.selectStudent(ctx, lesson)

	if st := c.d.InputText(ctx, locModalDuration, strconv.Itoa(lesson.DurationMin)); !st.Succeeded() {
		return abort("duration_input_failed", "duration input: %w", st.Err())
	}
	if st := c.d.InputText(ctx, locModalUnitPrice, strconv.Itoa(unitPrice)); !st.Succeeded() {
		return abort("unit_price_input_failed", "unit price input: %w", st.Err())
	}
	c.logStage(lesson.ID, stageFilled)

	if opts.DryRun {
		c.log.Info("Dry run, leaving modal open for inspection",
			zap.String("lesson", lesson.ID))
		return outcome.DoneMsg("form filled, not saved")
	}

	if st := c.clickWithFallback(ctx, locModalSave); !st.Succeeded() {
		return abort("modal_save_failed", "save click: %w", st.Err())
	}

	c.waitModalClosed(ctx)
	c.logStage(lesson.ID, stageSaved)
	c.session.UpdateActivity()

	c.log.Info("Invoice item added", zap.String("lesson", lesson.ID))
	return outcome.DoneMsg("invoice item added")
}

// Scripts for the dropdowns the page populates after earlier picks. All
// of them report how they concluded so the caller can log precision.

const lessonOptionCountScript = `(() => {
	const el = document.querySelector("select#lesson");
	return el ? el.options.length : 0;
})()`

// pickLessonOptionScript chooses the dropdown entry embedding the
// record's MM/DD date, falling back to the first entry past the
// placeholder when no date matches.
func pickLessonOptionScript(date string) string {
	want := date
	if len(date) == len("2006-01-02") {
		want = date[5:7] + "/" + date[8:10]
	}
	return fmt.Sprintf(`(() => {
	const el = document.querySelector("select#lesson");
	if (!el || el.options.length < 2) { return "none"; }
	const opts = Array.from(el.options);
	const hit = opts.find((o) => o.text.includes(%s));
	const pick = hit || opts[1];
	el.value = pick.value;
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return hit ? "date" : "first";
})()`, jsArg(want))
}

const studentOptionCountScript = `(() => {
	const scope = document.querySelector("div.sc-eYHxxX") || document;
	let n = 0;
	scope.querySelectorAll("ul li").forEach((li) => {
		if (li.textContent.trim() !== "") { n++; }
	});
	return n;
})()`

// pickStudentOptionScript chooses a search result: exact trimmed match
// first, then substring, then the first non-empty entry.
func pickStudentOptionScript(want string) string {
	return fmt.Sprintf(`(() => {
	const scope = document.querySelector("div.sc-eYHxxX") || document;
	const items = Array.from(scope.querySelectorAll("ul li")).filter((li) => li.textContent.trim() !== "");
	if (items.length === 0) { return "none"; }
	const want = %s;
	let how = "exact";
	let pick = items.find((li) => li.textContent.trim() === want);
	if (!pick) { pick = items.find((li) => li.textContent.includes(want)); how = "substring"; }
	if (!pick) { pick = items[0]; how = "first"; }
	pick.click();
	return how;
})()`, jsArg(want))
}

// pickDependentLesson drives the lesson dropdown that unlocks for
// dedicated lessons. Picking an entry makes the page derive the date, so
// a successful pick reports the date as handled. Failure here is not
// fatal; the caller falls back to the raw date input.
func (c *Client) pickDependentLesson(ctx context.Context, date string) bool {
	if found := c.d.FindOne(ctx, locModalLesson); !found.Succeeded() {
		c.log.Debug("Dependent lesson dropdown absent", zap.Error(found.Err()))
		return false
	}
	// At least two options: the placeholder plus one real lesson.
	if !c.pollOptions(ctx, lessonOptionCountScript, 2) {
		c.log.Warn("Dependent lesson dropdown never populated")
		return false
	}

	res, err := c.d.EvalString(ctx, pickLessonOptionScript(date)).Unwrap()
	if err != nil {
		c.log.Warn("Dependent lesson pick failed", zap.Error(err))
		return false
	}
	switch res {
	case "date":
		c.log.Debug("Picked dependent lesson by date", zap.String("date", date))
		return true
	case "first":
		c.log.Warn("No dependent lesson matches the date, picked first entry",
			zap.String("date", date))
		return true
	default:
		return false
	}
}

// selectStudent fills the student field through whichever widget the
// modal renders: a plain select, or the custom search dropdown.
func (c *Client) selectStudent(ctx context.Context, lesson records.Lesson) {
	want := lesson.StudentName
	if want == "" {
		want = lesson.StudentID
	}

	if found := c.d.FindOne(ctx, locModalStudentSelect); found.Succeeded() {
		if st := c.d.SelectOption(ctx, locModalStudentSelect, want); !st.Succeeded() {
			c.log.Warn("Student select rejected value, leaving field unset",
				zap.String("student", want), zap.Error(st.Err()))
		}
		return
	}

	if st := c.d.ClickViaScript(ctx, locStudentDropdown); !st.Succeeded() {
		c.log.Warn("Student dropdown not reachable, leaving field unset",
			zap.Error(st.Err()))
		return
	}
	if st := c.d.InputText(ctx, locStudentSearch, want); !st.Succeeded() {
		c.log.Warn("Student search input failed, leaving field unset",
			zap.Error(st.Err()))
		return
	}
	if !c.pollOptions(ctx, studentOptionCountScript, 1) {
		c.log.Warn("Student search returned no options", zap.String("student", want))
		return
	}

	res, err := c.d.EvalString(ctx, pickStudentOptionScript(want)).Unwrap()
	if err != nil || res == "none" {
		c.log.Warn("Student option pick failed",
			zap.String("student", want), zap.Error(err))
		return
	}
	if res != "exact" {
		c.log.Debug("Student picked by fallback match",
			zap.String("match", res), zap.String("student", want))
	}
}

// pollOptions reruns the counting script at the dropdown cadence until
// it reports at least want entries or the budget is spent.
func (c *Client) pollOptions(ctx context.Context, script string, want int) bool {
	attempts := int(dependentPollBudget / dependentPollInterval)
	for i := 0; i < attempts; i++ {
		if count, err := c.d.EvalInt(ctx, script).Unwrap(); err == nil && count >= want {
			return true
		}
		if !c.d.Pause(ctx, dependentPollInterval).Succeeded() {
			return false
		}
	}
	return false
}

// Modal close timing: a brief animation pause, a short presence
// re-check, and patience for the rest of the budget when the modal
// lingers. The page sometimes holds the modal open while the row table
// refreshes behind it, so lingering is logged, never failed.
const (
	modalAnimationPause = 300 * time.Millisecond
	modalCloseBudget    = 5 * time.Second
)

func (c *Client) waitModalClosed(ctx context.Context) {
	c.d.Pause(ctx, modalAnimationPause)

	if found := c.d.FindOne(ctx, locModalContainer); !found.Succeeded() {
		return
	}

	c.log.Warn("Modal still visible after save, waiting out the budget")
	c.d.Pause(ctx, modalCloseBudget-locModalContainer.Timeout-modalAnimationPause)
}

// AddInvoiceItemWithRetry validates the record and pushes it through the
// modal under the retry policy and the run's circuit breaker. The whole
// attempt sequence counts as one breaker operation: a record that keeps
// failing should trip the breaker, a single flaky field should not.
func (c *Client) AddInvoiceItemWithRetry(ctx context.Context, lesson records.Lesson, opts AddOptions) AddResult {
	if res := records.ValidateLesson(lesson); !res.Valid() {
		return AddResult{Status: outcome.FailStatusf("invalid lesson record: %s", res.Summary())}
	}

	c.lastShot = ""
	var attempts int
	err := c.breaker.Do(func() error {
		a, err := c.retryer.Do(ctx, "add invoice item "+lesson.ID, func() error {
			return c.AddInvoiceItem(ctx, lesson, opts).Err()
		})
		attempts = a
		return err
	})

	result := AddResult{Attempts: attempts, Screenshot: c.lastShot}
	if err != nil {
		c.logStage(lesson.ID, stageAborted)
		result.Status = outcome.FailStatus(err)
		return result
	}
	result.Status = outcome.DoneMsg("record %s processed", lesson.ID)
	return result
}

// SubmitLessons runs every lesson through duplicate detection and the
// submission pipeline, recording each outcome on the summary. When
// support records are enabled, a successfully added dedicated lesson
// queues its companion right behind itself; the companion faces the same
// duplicate check. A canceled context stops the loop and leaves the
// remaining records unrecorded so a partial report stays honest.
func (c *Client) SubmitLessons(ctx context.Context, lessons []records.Lesson, existing []records.InvoiceItem, opts AddOptions, summary *reporting.RunSummary) {
	queue := make([]records.Lesson, len(lessons))
	copy(queue, lessons)

	for i := 0; i < len(queue); i++ {
		if ctx.Err() != nil {
			remaining := len(queue) - i
			c.log.Warn("Submission loop interrupted", zap.Int("remaining", remaining))
			summary.RecordError("interrupted with %d records unprocessed", remaining)
			return
		}

		lesson := queue[i]
		if c.IsDuplicate(lesson, existing) {
			c.log.Info("Skipping already invoiced lesson",
				zap.String("date", lesson.Date),
				zap.String("student", lesson.StudentName))
			summary.RecordSkipped(lesson, "already invoiced")
			continue
		}

		res := c.AddInvoiceItemWithRetry(ctx, lesson, opts)
		if !res.Status.Succeeded() {
			c.log.Error("Invoice item failed",
				zap.String("lesson", lesson.ID),
				zap.Int("attempts", res.Attempts),
				zap.Error(res.Status.Err()))
			summary.RecordFailed(lesson, res.Attempts, res.Status.Message(), res.Screenshot)
			continue
		}
		summary.RecordAdded(lesson, res.Attempts)

		if c.cfg.Terakoya.AutoAddSupportLessons && lesson.Category == records.CategoryDedicated {
			support := lesson.SupportLesson()
			queue = append(queue[:i+1], append([]records.Lesson{support}, queue[i+1:]...)...)
			c.log.Info("Queued companion support lesson",
				zap.String("date", support.Date),
				zap.String("student", support.StudentName))
		}
	}
}

// SubmitInvoice files the monthly claim and clicks through its
// confirmation. The page's feedback is flaky, so an absent success
// indicator downgrades to an uncertain success rather than a failure;
// the screenshot tells the operator which it really was.
func (c *Client) SubmitInvoice(ctx context.Context) outcome.Status {
	c.log.Info("Submitting monthly invoice")

	if st := c.clickWithFallback(ctx, locSubmitMonthly); !st.Succeeded() {
		c.screenshot(ctx, "submit_button_failed")
		return outcome.FailStatusf("claim submit: %w", st.Err())
	}

	if st := c.d.WaitReady(ctx); !st.Succeeded() {
		c.log.Warn("Post-submit readiness wait failed", zap.Error(st.Err()))
	}

	if st := c.clickWithFallback(ctx, locSubmitConfirm); !st.Succeeded() {
		c.screenshot(ctx, "confirm_button_failed")
		return outcome.FailStatusf("claim confirmation: %w", st.Err())
	}

	if found := c.d.FindOne(ctx, locSuccessIndicator); found.Succeeded() {
		c.screenshot(ctx, "submit_success")
		c.session.UpdateActivity()
		c.log.Info("Invoice submitted")
		return outcome.DoneMsg("invoice submitted successfully")
	}
	if found := c.d.FindOne(ctx, locErrorIndicator); found.Succeeded() {
		c.screenshot(ctx, "submit_error")
		return outcome.FailStatusf("invoice submission failed, error message displayed")
	}

	c.screenshot(ctx, "submit_uncertain")
	c.log.Warn("Invoice submission result uncertain")
	return outcome.DoneMsg("invoice submission result uncertain")
}
