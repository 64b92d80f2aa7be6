// internal/extraction/gemini_test.go
package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/config"
	"github.com/kei1-dev/terakoya-invoicer/internal/records"
)

func TestNewGeminiStrategyRequiresKey(t *testing.T) {
	_, err := NewGeminiStrategy(context.Background(), config.ExtractionConfig{}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")
}

func TestBuildPrompt(t *testing.T) {
	cards := []string{
		"11/01(土)20:00~21:00林晃司マンツー編集",
		"11/02(日)10:00~11:00キャンセル編集",
	}
	prompt := buildPrompt(cards, 2025)

	assert.Contains(t, prompt, "2025年の日付として")
	assert.Contains(t, prompt, "1. 11/01(土)20:00~21:00林晃司マンツー編集")
	assert.Contains(t, prompt, "2. 11/02(日)10:00~11:00キャンセル編集")
	// The status-word guard is the whole point of using a model here.
	assert.Contains(t, prompt, "「キャンセル」")
	assert.Contains(t, prompt, "student_name を null に設定")
	assert.Contains(t, prompt, `"index": 0`)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"json fence", "```json\n[{\"index\":0}]\n```", `[{"index":0}]`},
		{"bare fence", "```\n[]\n```", "[]"},
		{"no fence", `[{"date":"2025-11-01"}]`, `[{"date":"2025-11-01"}]`},
		{"surrounding whitespace", "  \n[1]\n  ", "[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripFences(tt.in))
		})
	}
}

func TestParseBatch(t *testing.T) {
	s := &GeminiStrategy{log: zap.NewNop()}

	t.Run("aligned batch", func(t *testing.T) {
		raw := "```json\n" + `[
  {"date": "2025-11-01", "student_name": "林晃司", "category": "専属レッスン", "duration": 60, "index": 0},
  {"date": "2025-11-02", "student_name": null, "category": "専属レッスン", "duration": 60, "index": 1},
  {"date": "2025-11-03", "student_name": "佐藤花子", "category": "初回レッスン", "duration": 90, "index": 2}
]` + "\n```"

		lessons, err := s.parseBatch(raw, 3, 0)
		require.NoError(t, err)
		require.Len(t, lessons, 3)

		require.NotNil(t, lessons[0])
		assert.Equal(t, "林晃司", lessons[0].StudentName)
		assert.Equal(t, "lesson_20251101_0", lessons[0].ID)
		assert.Equal(t, records.DeriveStudentID("林晃司"), lessons[0].StudentID)

		assert.Nil(t, lessons[1], "null student_name must drop the card")

		require.NotNil(t, lessons[2])
		assert.Equal(t, records.CategoryTrial, lessons[2].Category)
		assert.Equal(t, 90, lessons[2].DurationMin)
	})

	t.Run("out of order entries land on their own index", func(t *testing.T) {
		raw := `[
  {"date": "2025-11-02", "student_name": "佐藤花子", "index": 1},
  {"date": "2025-11-01", "student_name": "林晃司", "index": 0}
]`
		lessons, err := s.parseBatch(raw, 2, 0)
		require.NoError(t, err)
		require.NotNil(t, lessons[0])
		assert.Equal(t, "林晃司", lessons[0].StudentName)
		require.NotNil(t, lessons[1])
		assert.Equal(t, "佐藤花子", lessons[1].StudentName)
	})

	t.Run("skipped card does not shift later entries", func(t *testing.T) {
		raw := `[
  {"date": "2025-11-01", "student_name": "林晃司", "index": 0},
  {"date": "2025-11-03", "student_name": "佐藤花子", "index": 2}
]`
		lessons, err := s.parseBatch(raw, 3, 0)
		require.NoError(t, err)
		require.Len(t, lessons, 3)
		assert.NotNil(t, lessons[0])
		assert.Nil(t, lessons[1], "the card the model skipped stays empty")
		require.NotNil(t, lessons[2])
		assert.Equal(t, "佐藤花子", lessons[2].StudentName)
		assert.Equal(t, "lesson_20251103_2", lessons[2].ID)
	})

	t.Run("short reply pads with nil", func(t *testing.T) {
		raw := `[{"date": "2025-11-01", "student_name": "林晃司", "index": 0}]`
		lessons, err := s.parseBatch(raw, 3, 0)
		require.NoError(t, err)
		require.Len(t, lessons, 3)
		assert.NotNil(t, lessons[0])
		assert.Nil(t, lessons[1])
		assert.Nil(t, lessons[2])
	})

	t.Run("entries beyond the card count are dropped", func(t *testing.T) {
		raw := `[
  {"date": "2025-11-01", "student_name": "林晃司", "index": 0},
  {"date": "2025-11-02", "student_name": "佐藤花子", "index": 1}
]`
		lessons, err := s.parseBatch(raw, 1, 0)
		require.NoError(t, err)
		require.Len(t, lessons, 1)
	})

	t.Run("non-array reply errors", func(t *testing.T) {
		_, err := s.parseBatch(`{"oops": true}`, 1, 0)
		assert.Error(t, err)
	})

	t.Run("base index offsets generated ids", func(t *testing.T) {
		raw := `[{"date": "2025-11-05", "student_name": "林晃司", "index": 0}]`
		lessons, err := s.parseBatch(raw, 1, 10)
		require.NoError(t, err)
		require.NotNil(t, lessons[0])
		assert.Equal(t, "lesson_20251105_10", lessons[0].ID)
	})
}

func TestConvertResult(t *testing.T) {
	t.Run("defaults fill missing fields", func(t *testing.T) {
		lesson := convertResult(cardResult{Date: "2025-11-01", StudentName: "林晃司"}, 0)
		require.NotNil(t, lesson)
		assert.Equal(t, records.DefaultDurationMin, lesson.DurationMin)
		assert.Equal(t, records.CategoryDedicated, lesson.Category)
		assert.Equal(t, records.StatusCompleted, lesson.Status)
	})

	t.Run("literal null string drops the card", func(t *testing.T) {
		assert.Nil(t, convertResult(cardResult{Date: "2025-11-01", StudentName: "null"}, 0))
	})

	t.Run("missing date drops the card", func(t *testing.T) {
		assert.Nil(t, convertResult(cardResult{StudentName: "林晃司"}, 0))
	})
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		errors.New("Error 429: quota exceeded"),
		errors.New("RESOURCE_EXHAUSTED: rate limit"),
		errors.New("rpc error: code = 503 desc = UNAVAILABLE"),
		fmt.Errorf("wrapped: %w", errors.New("500 INTERNAL server error")),
	}
	for _, err := range retryable {
		assert.True(t, isRetryable(err), "expected retryable: %v", err)
	}

	permanent := []error{
		nil,
		errors.New("Error 400: invalid argument"),
		errors.New("Error 403: permission denied"),
		errors.New("context canceled"),
	}
	for _, err := range permanent {
		assert.False(t, isRetryable(err), "expected permanent: %v", err)
	}
}

func TestGeminiStrategyName(t *testing.T) {
	s := &GeminiStrategy{log: zap.NewNop()}
	assert.Equal(t, "gemini", s.Name())
	assert.False(t, strings.EqualFold(s.Name(), NewRegexStrategy(zap.NewNop()).Name()))
}
