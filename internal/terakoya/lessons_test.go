package terakoya

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kei1-dev/terakoya-invoicer/internal/browser"
	"github.com/kei1-dev/terakoya-invoicer/internal/records"
)

func TestLessonsForMonthRequiresLogin(t *testing.T) {
	f := &fakeDriver{}
	c := newTestClient(t, f)

	res := c.LessonsForMonth(context.Background(), 2025, 10)

	require.False(t, res.Succeeded())
	assert.Contains(t, res.Err().Error(), "not logged in")
	assert.False(t, f.saw("navigate:"), "auth failures must not touch the browser")
}

func TestLessonsForMonthHappyPath(t *testing.T) {
	f := &fakeDriver{
		intResults: map[string]int{"setAttribute": 3},
		cards: []string{
			"10/15(水)20:00~21:00【第3回】Django山田太郎マンツー編集受講履歴登録",
			"11/01(土)20:00~21:00【第2回】Github林晃司マンツー編集受講履歴登録",
			"",
		},
	}
	c := loggedInClient(t, f)

	res := c.LessonsForMonth(context.Background(), 2025, 10)

	require.True(t, res.Succeeded(), res.Message())
	lessons := res.Value()
	require.Len(t, lessons, 1, "the November card and the unreadable card must not survive the filter")

	got := lessons[0]
	assert.Equal(t, "lesson_20251015_0", got.ID)
	assert.Equal(t, "2025-10-15", got.Date)
	assert.Equal(t, "山田太郎", got.StudentName)
	assert.Equal(t, records.DeriveStudentID("山田太郎"), got.StudentID)
	assert.Equal(t, records.StatusCompleted, got.Status)
	assert.Equal(t, 60, got.DurationMin)
	assert.Equal(t, records.CategoryDedicated, got.Category)

	assert.True(t, f.saw("navigate:https://terakoya.sejuku.net/lessons"))
	assert.True(t, f.saw("findall:marked edit buttons"))
}

func TestLessonsForMonthDeduplicates(t *testing.T) {
	// Reschedule leftovers render the same lesson twice.
	card := "10/15(水)20:00~21:00【第3回】Django山田太郎マンツー編集受講履歴登録"
	f := &fakeDriver{
		intResults: map[string]int{"setAttribute": 2},
		cards:      []string{card, card},
	}
	c := loggedInClient(t, f)

	res := c.LessonsForMonth(context.Background(), 2025, 10)

	require.True(t, res.Succeeded())
	assert.Len(t, res.Value(), 1)
}

func TestLessonsForMonthNoEditButtons(t *testing.T) {
	// No intResults entry, so the marking script reports zero.
	f := &fakeDriver{}
	c := loggedInClient(t, f)

	res := c.LessonsForMonth(context.Background(), 2025, 10)

	require.False(t, res.Succeeded())
	assert.Contains(t, res.Err().Error(), "no lesson edit buttons")
	assert.True(t, f.saw("screenshot:lessons_not_found"))
}

func TestLessonsForMonthMarkedButtonsVanished(t *testing.T) {
	f := &fakeDriver{
		intResults:  map[string]int{"setAttribute": 2},
		failFindAll: map[string]error{"marked edit buttons": browser.ErrElementNotFound},
	}
	c := loggedInClient(t, f)

	res := c.LessonsForMonth(context.Background(), 2025, 10)

	require.False(t, res.Succeeded())
	assert.True(t, f.saw("screenshot:marked_buttons_not_found"))
}

func TestFilterMonth(t *testing.T) {
	lessons := []records.Lesson{
		{ID: "a", Date: "2025-10-01"},
		{ID: "b", Date: "2025-11-01"},
		{ID: "c", Date: "2025-10-31"},
	}

	got := filterMonth(lessons, "2025-10")

	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}

func TestDedupeLessonsKeepsFirst(t *testing.T) {
	lessons := []records.Lesson{
		{ID: "first", Date: "2025-10-01", StudentName: "山田太郎"},
		{ID: "ghost", Date: "2025-10-01", StudentName: "山田太郎"},
		{ID: "other-student", Date: "2025-10-01", StudentName: "佐藤花子"},
		{ID: "other-day", Date: "2025-10-02", StudentName: "山田太郎"},
	}

	got, removed := dedupeLessons(lessons)

	assert.Equal(t, 1, removed)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].ID, "the first occurrence wins")
}
