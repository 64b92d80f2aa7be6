// internal/terakoya/lessons.go
package terakoya

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/outcome"
	"github.com/kei1-dev/terakoya-invoicer/internal/records"
)

// The lesson list offers no stable ids or classes, so retrieval marks
// the edit buttons it can see with a data attribute and then reads each
// card's text off the buttons' ancestors.

// markEditButtonsScript tags up to maxLessonCards edit buttons inside
// the lesson container and reports how many it marked. The exact text
// match keeps lookalikes such as 受講履歴編集 out of the sweep.
func markEditButtonsScript() string {
	return fmt.Sprintf(`(() => {
	const container = document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!container) { return 0; }
	const buttons = Array.from(container.querySelectorAll("button"))
		.filter((btn) => btn.textContent.trim() === "編集")
		.slice(0, %d);
	buttons.forEach((btn) => btn.setAttribute("data-terakoya-target", "true"));
	return buttons.length;
})()`, jsArg(lessonContainerPath), maxLessonCards)
}

// collectCardTextsScript gathers one text blob per marked button by
// walking up to six ancestors and taking the first one that looks like a
// whole lesson card: a MM/DD(曜) date, an HH:MM-HH:MM time range, and a
// length under 300 characters so a list-level container never wins.
// Misses yield "" to keep the result aligned with the marked buttons.
const collectCardTextsScript = `(() => {
	const buttons = Array.from(document.querySelectorAll("button[data-terakoya-target='true']"));
	return buttons.map((btn) => {
		let node = btn;
		for (let i = 0; i < 6; i++) {
			node = node.parentElement;
			if (!node) { break; }
			const text = node.textContent;
			const hasDate = /\d{2}\/\d{2}\([日月火水木金土]\)/.test(text);
			const hasTime = /\d{2}:\d{2}[~\-]\d{2}:\d{2}/.test(text);
			if (hasDate && hasTime && text.length < 300) { return text; }
		}
		return "";
	});
})()`

// LessonsForMonth retrieves the given month's lessons off the lessons
// page. Records the active strategy cannot validate are dropped with a
// warning; the rest are filtered to the requested month and
// de-duplicated by date and student, keeping first occurrences.
func (c *Client) LessonsForMonth(ctx context.Context, year, month int) outcome.Outcome[[]records.Lesson] {
	if st := c.session.RequireLogin(); !st.Succeeded() {
		return outcome.Fail[[]records.Lesson](fmt.Errorf("lesson retrieval: %w", st.Err()))
	}

	c.log.Info("Retrieving lessons", zap.Int("year", year), zap.Int("month", month))

	if st := c.d.Navigate(ctx, c.pageURL("/lessons")); !st.Succeeded() {
		return outcome.Fail[[]records.Lesson](fmt.Errorf("navigate to lessons page: %w", st.Err()))
	}
	c.d.Pause(ctx, renderSettle)

	marked, err := c.d.EvalInt(ctx, markEditButtonsScript()).Unwrap()
	if err != nil {
		return outcome.Fail[[]records.Lesson](fmt.Errorf("mark lesson cards: %w", err))
	}
	if marked == 0 {
		c.screenshot(ctx, "lessons_not_found")
		return outcome.Fail[[]records.Lesson](fmt.Errorf("no lesson edit buttons found in the lesson container"))
	}
	c.log.Info("Marked lesson edit buttons", zap.Int("count", marked))

	// Cross-check via the DOM: the marks are only useful if the page
	// still holds them once the script returns.
	if found := c.d.FindAll(ctx, locMarkedEditButtons); !found.Succeeded() {
		c.screenshot(ctx, "marked_buttons_not_found")
		return outcome.Fail[[]records.Lesson](fmt.Errorf("marked buttons not retrievable: %w", found.Err()))
	}

	cards, err := c.d.EvalStrings(ctx, collectCardTextsScript).Unwrap()
	if err != nil {
		return outcome.Fail[[]records.Lesson](fmt.Errorf("collect card texts: %w", err))
	}
	c.session.UpdateActivity()

	extracted, err := c.extract(ctx, cards, year)
	if err != nil {
		return outcome.Fail[[]records.Lesson](fmt.Errorf("extract lessons: %w", err))
	}

	var lessons []records.Lesson
	for i, l := range extracted {
		if l == nil {
			c.log.Debug("Card yielded no record", zap.Int("card", i))
			continue
		}
		if res := records.ValidateLesson(*l); !res.Valid() {
			c.log.Warn("Dropping invalid lesson record",
				zap.Int("card", i), zap.String("problems", res.Summary()))
			continue
		}
		lessons = append(lessons, *l)
	}

	month4 := fmt.Sprintf("%04d-%02d", year, month)
	out, removed := dedupeLessons(filterMonth(lessons, month4))
	if removed > 0 {
		c.log.Warn("Removed duplicate lessons", zap.Int("count", removed))
	}

	c.log.Info("Retrieved lessons",
		zap.Int("count", len(out)), zap.String("month", month4))
	return outcome.OkMsg(out, "retrieved %d lessons", len(out))
}

// extract runs the active strategy over the cards. When the AI path
// fails it is demoted for the rest of the run and the regex strategy
// reprocesses the same cards.
func (c *Client) extract(ctx context.Context, cards []string, year int) ([]*records.Lesson, error) {
	c.log.Info("Extracting lessons",
		zap.String("strategy", c.strategy.Name()), zap.Int("cards", len(cards)))

	extracted, err := c.strategy.ExtractBatch(ctx, cards, year)
	if err == nil || c.strategy.Name() == c.regex.Name() {
		return extracted, err
	}

	c.log.Error("AI extraction failed, falling back to regex strategy", zap.Error(err))
	c.strategy = c.regex
	return c.regex.ExtractBatch(ctx, cards, year)
}

// filterMonth keeps the lessons dated inside the "YYYY-MM" month.
func filterMonth(lessons []records.Lesson, month string) []records.Lesson {
	var out []records.Lesson
	for _, l := range lessons {
		if strings.HasPrefix(l.Date, month) {
			out = append(out, l)
		}
	}
	return out
}

// dedupeLessons removes repeated (date, student) records, keeping the
// first occurrence. The lesson list renders reschedule leftovers that
// extract into identical records.
func dedupeLessons(lessons []records.Lesson) ([]records.Lesson, int) {
	type key struct{ date, student string }
	seen := make(map[key]struct{}, len(lessons))
	out := make([]records.Lesson, 0, len(lessons))
	removed := 0
	for _, l := range lessons {
		k := key{l.Date, l.StudentName}
		if _, dup := seen[k]; dup {
			removed++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, l)
	}
	return out, removed
}
