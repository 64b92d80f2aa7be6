// Package reporting builds the execution summary of an invoicing run and
// renders it to the report files kept under the output directory. The
// summary is also what the run-history store persists.
package reporting

import (
	"fmt"
	"time"

	"github.com/kei1-dev/terakoya-invoicer/internal/records"
)

// ItemStatus classifies how one record's submission concluded.
type ItemStatus string

const (
	ItemAdded   ItemStatus = "added"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// ItemOutcome is the per-record entry of the report: the lesson, how its
// submission ended, and the diagnostics gathered along the way.
type ItemOutcome struct {
	Lesson     records.Lesson `json:"lesson"`
	Status     ItemStatus     `json:"status"`
	Attempts   int            `json:"attempts,omitempty"`
	Detail     string         `json:"detail,omitempty"`
	Screenshot string         `json:"screenshot,omitempty"`
}

// Totals aggregates the run's counters.
type Totals struct {
	Lessons  int `json:"total_lessons"`
	Existing int `json:"existing_invoices"`
	Added    int `json:"added"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// RunSummary accumulates everything one run did. The orchestration is
// sequential, so mutators are not synchronized; the writers only read.
type RunSummary struct {
	RunID       string        `json:"run_id"`
	TargetMonth string        `json:"target_month"`
	ExecutedAt  time.Time     `json:"executed_at"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	DryRun      bool          `json:"dry_run"`
	Submitted   bool          `json:"submitted"`
	Totals      Totals        `json:"summary"`
	Items       []ItemOutcome `json:"items"`
	Errors      []string      `json:"errors,omitempty"`
}

// NewRunSummary starts a summary for the given target month.
func NewRunSummary(runID string, year, month int, dryRun bool) *RunSummary {
	return &RunSummary{
		RunID:       runID,
		TargetMonth: fmt.Sprintf("%04d-%02d", year, month),
		ExecutedAt:  time.Now(),
		DryRun:      dryRun,
		Items:       []ItemOutcome{},
	}
}

// SetLessonCount records how many lessons the retrieval step produced.
func (s *RunSummary) SetLessonCount(n int) { s.Totals.Lessons = n }

// SetExistingCount records how many invoice items were already present.
func (s *RunSummary) SetExistingCount(n int) { s.Totals.Existing = n }

// RecordAdded notes a successfully submitted record.
func (s *RunSummary) RecordAdded(lesson records.Lesson, attempts int) {
	s.Totals.Added++
	s.Items = append(s.Items, ItemOutcome{
		Lesson:   lesson,
		Status:   ItemAdded,
		Attempts: attempts,
	})
}

// RecordSkipped notes a record that was not submitted, duplicates above
// all.
func (s *RunSummary) RecordSkipped(lesson records.Lesson, reason string) {
	s.Totals.Skipped++
	s.Items = append(s.Items, ItemOutcome{
		Lesson: lesson,
		Status: ItemSkipped,
		Detail: reason,
	})
}

// RecordFailed notes a record whose submission failed for good, with the
// failure message and the diagnostic screenshot when one was captured.
func (s *RunSummary) RecordFailed(lesson records.Lesson, attempts int, detail, screenshot string) {
	s.Totals.Failed++
	s.Items = append(s.Items, ItemOutcome{
		Lesson:     lesson,
		Status:     ItemFailed,
		Attempts:   attempts,
		Detail:     detail,
		Screenshot: screenshot,
	})
}

// RecordError notes a run-level problem not tied to a single record,
// such as a failed login or an aborted retrieval.
func (s *RunSummary) RecordError(format string, args ...any) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// MarkSubmitted records that the monthly claim was submitted.
func (s *RunSummary) MarkSubmitted() { s.Submitted = true }

// Finalize stamps the completion time.
func (s *RunSummary) Finalize() { s.FinishedAt = time.Now() }

// Failed reports whether any record failed or a run-level error was
// recorded; the run command maps this onto its exit code.
func (s *RunSummary) Failed() bool {
	return s.Totals.Failed > 0 || len(s.Errors) > 0
}
