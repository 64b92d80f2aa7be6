package reporting

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kei1-dev/terakoya-invoicer/internal/records"
)

func sampleLesson(id, date, name string) records.Lesson {
	return records.Lesson{
		ID:          id,
		Date:        date,
		StudentID:   records.DeriveStudentID(name),
		StudentName: name,
		Status:      records.StatusCompleted,
		DurationMin: 60,
		Category:    records.CategoryDedicated,
	}
}

func TestRunSummaryCounters(t *testing.T) {
	s := NewRunSummary("run-1", 2025, 10, false)
	assert.Equal(t, "2025-10", s.TargetMonth)
	assert.False(t, s.DryRun)
	assert.False(t, s.Failed())

	s.SetLessonCount(3)
	s.SetExistingCount(1)
	s.RecordAdded(sampleLesson("lesson_20251015_0", "2025-10-15", "山田太郎"), 1)
	s.RecordSkipped(sampleLesson("lesson_20251016_1", "2025-10-16", "佐藤花子"), "already invoiced")
	s.RecordFailed(sampleLesson("lesson_20251017_2", "2025-10-17", "鈴木一郎"), 3,
		"modal did not appear", "output/shot.png")

	assert.Equal(t, Totals{Lessons: 3, Existing: 1, Added: 1, Skipped: 1, Failed: 1}, s.Totals)
	require.Len(t, s.Items, 3)
	assert.Equal(t, ItemAdded, s.Items[0].Status)
	assert.Equal(t, ItemSkipped, s.Items[1].Status)
	assert.Equal(t, "already invoiced", s.Items[1].Detail)
	assert.Equal(t, ItemFailed, s.Items[2].Status)
	assert.Equal(t, 3, s.Items[2].Attempts)
	assert.Equal(t, "output/shot.png", s.Items[2].Screenshot)
	assert.True(t, s.Failed())

	s.Finalize()
	assert.False(t, s.FinishedAt.IsZero())
}

func TestRunSummaryFailedOnRunError(t *testing.T) {
	s := NewRunSummary("run-2", 2025, 11, true)
	assert.False(t, s.Failed())
	s.RecordError("login failed: %s", "credentials may be incorrect")
	assert.True(t, s.Failed())
	require.Len(t, s.Errors, 1)
	assert.Contains(t, s.Errors[0], "credentials may be incorrect")
}

func TestWriteJSONRoundTrip(t *testing.T) {
	s := NewRunSummary("run-3", 2025, 10, true)
	s.SetLessonCount(1)
	s.RecordAdded(sampleLesson("lesson_20251015_0", "2025-10-15", "山田太郎"), 2)
	s.Finalize()

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, s.WriteJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got RunSummary
	require.NoError(t, json.Unmarshal(data, &got))
	// Timestamps survive the trip as wall-clock values; the monotonic
	// reading does not, so they need time.Time.Equal semantics.
	if diff := cmp.Diff(*s, got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("summary changed through JSON round trip (-want +got):\n%s", diff)
	}
}

func TestWriteCSVOneRowPerItem(t *testing.T) {
	s := NewRunSummary("run-4", 2025, 10, false)
	s.RecordAdded(sampleLesson("lesson_20251015_0", "2025-10-15", "山田太郎"), 1)
	s.RecordFailed(sampleLesson("lesson_20251017_1", "2025-10-17", "鈴木一郎"), 3, "timed out", "")

	path := filepath.Join(t.TempDir(), "items.csv")
	require.NoError(t, s.WriteCSV(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per item")
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "lesson_20251015_0", rows[1][0])
	assert.Equal(t, "山田太郎", rows[1][3])
	assert.Equal(t, "added", rows[1][6])
	assert.Equal(t, "failed", rows[2][6])
	assert.Equal(t, "timed out", rows[2][8])
}

func TestWriteAll(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewRunSummary("run-5", 2025, 10, false)
	s.RecordAdded(sampleLesson("lesson_20251015_0", "2025-10-15", "山田太郎"), 1)

	dir := filepath.Join(t.TempDir(), "nested", "reports")
	jsonPath, csvPath, err := s.WriteAll(context.Background(), dir)
	require.NoError(t, err)

	assert.Contains(t, filepath.Base(jsonPath), "invoice_report_202510_")
	assert.Contains(t, filepath.Base(csvPath), "invoice_items_202510_")
	assert.FileExists(t, jsonPath)
	assert.FileExists(t, csvPath)
}

func TestWriteAllCanceledContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewRunSummary("run-6", 2025, 10, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.WriteAll(ctx, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}
