package records

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validation bounds for string fields, measured in runes because most
// values are Japanese text.
const (
	maxIDLength       = 100
	maxNameLength     = 200
	maxCategoryLength = 100

	minPlausibleDurationMin = 15
	maxPlausibleDurationMin = 180
)

var validStatuses = map[LessonStatus]struct{}{
	StatusCompleted: {},
	StatusPending:   {},
	StatusCancelled: {},
}

// ValidationResult accumulates problems found in a single record. Errors
// make the record unusable; warnings flag suspicious values that are still
// submitted as-is.
type ValidationResult struct {
	Errors   []string
	Warnings []string
}

// Valid reports whether the record passed without errors. Warnings never
// affect validity.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) AddError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) AddWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Summary renders the collected problems as an indented block for log
// output. Returns an empty string when there is nothing to report.
func (r *ValidationResult) Summary() string {
	var b strings.Builder
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "Errors (%d):\n", len(r.Errors))
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  - %s\n", e)
		}
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "Warnings (%d):\n", len(r.Warnings))
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  - %s\n", w)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// ValidateLesson checks a freshly extracted lesson before it is allowed
// anywhere near the submission flow. All missing required fields are
// reported together; the finer-grained checks only run once every field is
// present, since they would otherwise drown the report in follow-on noise.
func ValidateLesson(l Lesson) ValidationResult {
	var res ValidationResult

	required := []struct {
		name  string
		empty bool
	}{
		{"id", l.ID == ""},
		{"date", l.Date == ""},
		{"student_id", l.StudentID == ""},
		{"student_name", l.StudentName == ""},
		{"status", l.Status == ""},
		{"category", l.Category == ""},
	}
	for _, f := range required {
		if f.empty {
			res.AddError("missing required field: %s", f.name)
		}
	}
	if len(res.Errors) > 0 {
		return res
	}

	if n := utf8.RuneCountInString(l.ID); n > maxIDLength {
		res.AddError("id too long: %d runes", n)
	}
	if n := utf8.RuneCountInString(l.StudentName); n > maxNameLength {
		res.AddError("student_name too long: %d runes", n)
	}
	if n := utf8.RuneCountInString(l.Category); n > maxCategoryLength {
		res.AddError("category too long: %d runes", n)
	}
	if !isoDateRe.MatchString(l.Date) {
		res.AddError("invalid date format: %q", l.Date)
	}
	if _, ok := validStatuses[l.Status]; !ok {
		res.AddError("invalid status: %q", l.Status)
	}

	switch {
	case l.DurationMin <= 0:
		res.AddError("invalid duration: %dmin", l.DurationMin)
	case l.DurationMin < minPlausibleDurationMin:
		res.AddError("duration too short: %dmin", l.DurationMin)
	case l.DurationMin > maxPlausibleDurationMin:
		res.AddWarning("unusually long duration: %dmin", l.DurationMin)
	}

	return res
}
