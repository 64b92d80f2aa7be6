// Package records defines the lesson and invoice item models shared by the
// extraction, validation and submission layers, together with the parsing
// helpers that normalize the loosely formatted text scraped off the page.
package records

import (
	"fmt"
	"hash/fnv"
)

// LessonStatus describes the lifecycle state of a lesson record.
type LessonStatus string

const (
	StatusCompleted LessonStatus = "completed"
	StatusPending   LessonStatus = "pending"
	StatusCancelled LessonStatus = "cancelled"
)

// Lesson categories as they appear on the platform. The submission modal
// keys its category dropdown off these exact strings.
const (
	CategoryDedicated        = "専属レッスン"
	CategoryDedicatedSupport = "専属レッスン前後対応"
	CategoryTrial            = "初回レッスン"
	CategoryExpert           = "エキスパートコース"
)

// Defaults applied when a value cannot be recovered from the page.
const (
	DefaultDurationMin = 60
	DefaultUnitPrice   = 2300

	// SupportDurationMin is the fixed length of an auto-added
	// before/after support slot for a dedicated lesson.
	SupportDurationMin = 30
)

// Lesson is a single lesson occurrence extracted from the lessons page.
// Instances are validated once after extraction and treated as immutable
// afterwards.
type Lesson struct {
	ID          string       `json:"id"`
	Date        string       `json:"date"` // YYYY-MM-DD
	StudentID   string       `json:"student_id"`
	StudentName string       `json:"student_name"`
	Status      LessonStatus `json:"status"`
	DurationMin int          `json:"duration"`
	Category    string       `json:"category"`
}

// InvoiceItem is one row of the monthly claim: either an item already
// present on the claim page or a pending submission derived from a Lesson.
type InvoiceItem struct {
	Date        string `json:"date"`
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
	Category    string `json:"category"`
	DurationMin int    `json:"duration"`
	UnitPrice   int    `json:"unit_price"`
}

// SupportLesson derives the companion before/after support record that
// accompanies a dedicated lesson: same date and student, fixed 30 minute
// duration, support category.
func (l Lesson) SupportLesson() Lesson {
	return Lesson{
		ID:          l.ID + "_support",
		Date:        l.Date,
		StudentID:   l.StudentID,
		StudentName: l.StudentName,
		Status:      l.Status,
		DurationMin: SupportDurationMin,
		Category:    CategoryDedicatedSupport,
	}
}

// Item converts the lesson into a pending invoice item at the given unit
// price.
func (l Lesson) Item(unitPrice int) InvoiceItem {
	return InvoiceItem{
		Date:        l.Date,
		StudentID:   l.StudentID,
		StudentName: l.StudentName,
		Category:    l.Category,
		DurationMin: l.DurationMin,
		UnitPrice:   unitPrice,
	}
}

// DeriveStudentID produces a stable synthetic student id from a display
// name. The page itself never exposes student ids on lesson cards, so both
// extraction strategies fall back to this derivation and duplicate
// detection additionally matches on the name.
func DeriveStudentID(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	return fmt.Sprintf("student_%05d", h.Sum32()%100000)
}

// MakeLessonID builds the synthetic lesson id used when the card exposes
// no identifier of its own.
func MakeLessonID(year, month, day, index int) string {
	return fmt.Sprintf("lesson_%04d%02d%02d_%d", year, month, day, index)
}
