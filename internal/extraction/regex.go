// internal/extraction/regex.go
package extraction

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/records"
)

// Card layout the patterns target:
//
//	11/01(土)20:00~21:00【第2回】Github林晃司マンツー編集受講履歴登録
//
// date, time range, bracketed lesson title with an ASCII theme tail,
// student name, lesson-type keyword, then action-button labels.
var (
	cardDateRe  = regexp.MustCompile(`(\d{2})/(\d{2})\([日月火水木金土]\)`)
	timeRangeRe = regexp.MustCompile(`(\d{1,2}):(\d{2})[~\-](\d{1,2}):(\d{2})`)

	// bracketTitleRe strips 【タイトル】 plus the latin theme word that
	// follows it (Github, Django, AWS), keeping the Japanese name.
	bracketTitleRe = regexp.MustCompile(`【[^】]+】[A-Za-z0-9\s]*`)

	// studentRe captures the run between the end time and the
	// lesson-type keyword; the name lives in that run.
	studentRe = regexp.MustCompile(`(\d{2}:\d{2})([^\s]+?)(マンツー|専属レッスン|初回レッスン|初回|エキスパートコース|専属)`)

	// nameRe narrows the captured run to 2-4 kanji/hiragana/katakana
	// characters, the shape of the names on the roster.
	nameRe = regexp.MustCompile(`[\x{4e00}-\x{9fff}\x{3040}-\x{309f}\x{30a0}-\x{30ff}]{2,4}`)
)

// statusWords are card phrases that fit the name patterns but mark a
// lesson's state, not its student. Cards carrying them yield no record.
var statusWords = map[string]struct{}{
	"キャンセル": {},
	"キャンセ":  {},
	"最終レッスン": {},
	"最終レッ":  {},
	"マンツー":  {},
}

// RegexStrategy parses lesson cards with fixed patterns. It needs no
// credentials or network, so it doubles as the fallback when the AI
// strategy is disabled or failing.
type RegexStrategy struct {
	log *zap.Logger
}

// NewRegexStrategy builds the deterministic extraction strategy.
func NewRegexStrategy(logger *zap.Logger) *RegexStrategy {
	return &RegexStrategy{log: logger.Named("extract.regex")}
}

// Name implements Strategy.
func (s *RegexStrategy) Name() string { return "regex" }

// ExtractBatch implements Strategy. It never fails as a whole; cards
// the patterns cannot read come back nil.
func (s *RegexStrategy) ExtractBatch(ctx context.Context, cards []string, year int) ([]*records.Lesson, error) {
	lessons := make([]*records.Lesson, len(cards))
	for i, card := range cards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lessons[i] = s.extractCard(card, i, year)
	}
	return lessons, nil
}

func (s *RegexStrategy) extractCard(card string, index, year int) *records.Lesson {
	if strings.TrimSpace(card) == "" {
		return nil
	}

	dm := cardDateRe.FindStringSubmatch(card)
	if dm == nil {
		s.log.Debug("Card has no date pattern", zap.Int("card", index))
		return nil
	}
	month, _ := strconv.Atoi(dm[1])
	day, _ := strconv.Atoi(dm[2])
	date := fmt.Sprintf("%04d-%02d-%02d", year, month, day)

	duration := records.DefaultDurationMin
	if tm := timeRangeRe.FindStringSubmatch(card); tm != nil {
		duration = rangeMinutes(tm)
	}

	name, category := studentAndCategory(card)
	if name == "" {
		s.log.Debug("Card has no extractable student name",
			zap.Int("card", index), zap.String("head", head(card, 50)))
		return nil
	}

	return &records.Lesson{
		ID:          records.MakeLessonID(year, month, day, index),
		Date:        date,
		StudentID:   records.DeriveStudentID(name),
		StudentName: name,
		Status:      records.StatusCompleted,
		DurationMin: duration,
		Category:    category,
	}
}

// rangeMinutes computes end minus start from a time-range match.
// Non-positive spans (ranges crossing midnight, typos) fall back to
// the default lesson length.
func rangeMinutes(m []string) int {
	sh, _ := strconv.Atoi(m[1])
	sm, _ := strconv.Atoi(m[2])
	eh, _ := strconv.Atoi(m[3])
	em, _ := strconv.Atoi(m[4])

	d := (eh*60 + em) - (sh*60 + sm)
	if d <= 0 {
		return records.DefaultDurationMin
	}
	return d
}

// studentAndCategory pulls the student name and the lesson category
// out of a card. An empty name means the card names no student.
func studentAndCategory(card string) (string, string) {
	cleaned := bracketTitleRe.ReplaceAllString(card, "")

	m := studentRe.FindStringSubmatch(cleaned)
	if m == nil {
		return "", ""
	}

	name := nameRe.FindString(m[2])
	if name == "" {
		return "", ""
	}
	if _, isStatus := statusWords[name]; isStatus {
		return "", ""
	}
	return name, categoryForKeyword(m[3])
}

func categoryForKeyword(keyword string) string {
	switch {
	case strings.Contains(keyword, "エキスパート"):
		return records.CategoryExpert
	case strings.Contains(keyword, "初回"):
		return records.CategoryTrial
	default:
		return records.CategoryDedicated
	}
}

// head truncates a string to at most n runes for debug logging.
func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
