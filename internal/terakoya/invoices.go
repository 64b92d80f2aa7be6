// internal/terakoya/invoices.go
package terakoya

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kei1-dev/terakoya-invoicer/internal/browser"
	"github.com/kei1-dev/terakoya-invoicer/internal/outcome"
	"github.com/kei1-dev/terakoya-invoicer/internal/records"
	"github.com/kei1-dev/terakoya-invoicer/internal/scrape"
)

// OpenInvoicePage brings up the claim page. The year and month label the
// logs for now: the page always opens on the current claim period.
// TODO: drive the period filter once the claim page grows one.
func (c *Client) OpenInvoicePage(ctx context.Context, year, month int) outcome.Status {
	if st := c.session.RequireLogin(); !st.Succeeded() {
		return outcome.FailStatusf("invoice page: %w", st.Err())
	}

	c.log.Info("Opening invoice page", zap.Int("year", year), zap.Int("month", month))

	err := c.breaker.Do(func() error {
		if st := c.d.Navigate(ctx, c.pageURL("/invoices")); !st.Succeeded() {
			return st.Err()
		}
		c.d.Pause(ctx, invoiceSettle)
		return nil
	})
	if err != nil {
		return outcome.FailStatusf("open invoice page: %w", err)
	}

	c.session.UpdateActivity()
	return outcome.DoneMsg("invoice page open")
}

// ExistingInvoices reads the invoice items already present on the claim
// page. An empty claim page is a normal result, not an error. The rows
// are parsed out of one page snapshot instead of element-by-element
// round trips; the table is static once rendered.
func (c *Client) ExistingInvoices(ctx context.Context) outcome.Outcome[[]records.InvoiceItem] {
	var items []records.InvoiceItem

	err := c.breaker.Do(func() error {
		if found := c.d.FindOne(ctx, locInvoiceRows); !found.Succeeded() {
			if errors.Is(found.Err(), browser.ErrElementNotFound) {
				c.log.Info("No existing invoices found")
				return nil
			}
			return found.Err()
		}

		src, err := c.d.PageSource(ctx).Unwrap()
		if err != nil {
			return fmt.Errorf("capture claim page: %w", err)
		}
		parsed, err := parseInvoiceRows(src, c.log)
		if err != nil {
			return err
		}
		items = parsed
		return nil
	})
	if err != nil {
		return outcome.Fail[[]records.InvoiceItem](fmt.Errorf("existing invoices: %w", err))
	}

	c.session.UpdateActivity()
	c.log.Info("Found existing invoices", zap.Int("count", len(items)))
	return outcome.OkMsg(items, "found %d existing invoices", len(items))
}

// IsDuplicate reports whether the lesson is already invoiced. Identity
// is date plus student id, with date plus student name as the fallback
// for rows that expose no id. A name match against a row carrying a
// different id still counts, because same-day same-name records are
// overwhelmingly the same lesson, but it logs the collision.
func (c *Client) IsDuplicate(lesson records.Lesson, existing []records.InvoiceItem) bool {
	for _, item := range existing {
		if item.Date != lesson.Date {
			continue
		}
		if item.StudentID != "" && item.StudentID == lesson.StudentID {
			return true
		}
		if item.StudentName != "" && item.StudentName == lesson.StudentName {
			if item.StudentID != "" && item.StudentID != lesson.StudentID {
				c.log.Warn("Duplicate matched by name only",
					zap.String("date", lesson.Date),
					zap.String("student", lesson.StudentName))
			}
			return true
		}
	}
	return false
}

// parseInvoiceRows extracts invoice items from a claim page snapshot.
// Rows without a parseable date are skipped: the row selectors also
// match header and spacer rows.
func parseInvoiceRows(source string, log *zap.Logger) ([]records.InvoiceItem, error) {
	doc, err := scrape.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse claim page: %w", err)
	}
	rows, err := doc.Select(rowsSelector)
	if err != nil {
		return nil, fmt.Errorf("select invoice rows: %w", err)
	}

	items := make([]records.InvoiceItem, 0, len(rows))
	for idx, row := range rows {
		if item, ok := parseInvoiceRow(row, idx, log); ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func parseInvoiceRow(row *html.Node, idx int, log *zap.Logger) (records.InvoiceItem, bool) {
	dateText := cellText(row, cellDateSelector)
	if dateText == "" {
		return records.InvoiceItem{}, false
	}
	date, err := records.ParseDate(dateText)
	if err != nil {
		log.Warn("Invoice row has unparseable date",
			zap.Int("row", idx), zap.String("text", dateText))
		return records.InvoiceItem{}, false
	}

	duration := records.DefaultDurationMin
	if text := cellText(row, cellDurationSelector); text != "" {
		if d, err := records.ParseDuration(text); err == nil {
			duration = d
		}
	}

	return records.InvoiceItem{
		Date:        date,
		StudentID:   cellText(row, cellStudentIDSelector),
		StudentName: cellText(row, cellStudentSelector),
		Category:    cellText(row, cellCategorySelector),
		DurationMin: duration,
		UnitPrice:   records.ParseUnitPrice(cellText(row, cellUnitPriceSelector)),
	}, true
}

// cellText resolves a cell selector inside one row and returns its
// collapsed text, or "" when the row has no such cell.
func cellText(row *html.Node, selector string) string {
	node, err := scrape.SelectFirstIn(row, selector)
	if err != nil || node == nil {
		return ""
	}
	return scrape.Text(node)
}
