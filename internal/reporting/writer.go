package reporting

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteJSON renders the full summary, indented, to path.
func (s *RunSummary) WriteJSON(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

var csvHeader = []string{
	"id", "date", "student_id", "student_name", "category",
	"duration_min", "status", "attempts", "detail",
}

// WriteCSV writes the item outcomes as a flat table, one row per record.
func (s *RunSummary) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}

	w := csv.NewWriter(f)
	writeRows := func() error {
		if err := w.Write(csvHeader); err != nil {
			return err
		}
		for _, item := range s.Items {
			row := []string{
				item.Lesson.ID,
				item.Lesson.Date,
				item.Lesson.StudentID,
				item.Lesson.StudentName,
				item.Lesson.Category,
				strconv.Itoa(item.Lesson.DurationMin),
				string(item.Status),
				strconv.Itoa(item.Attempts),
				item.Detail,
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
		w.Flush()
		return w.Error()
	}

	if err := writeRows(); err != nil {
		f.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close csv: %w", err)
	}
	return nil
}

// WriteAll writes the JSON report and the CSV item table into dir,
// concurrently, and returns both paths. Callers that must produce a
// partial report after an interrupt pass a fresh context here.
func (s *RunSummary) WriteAll(ctx context.Context, dir string) (jsonPath, csvPath string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", fmt.Errorf("create report directory: %w", err)
	}

	ts := s.ExecutedAt.Format("20060102_150405")
	month := strings.ReplaceAll(s.TargetMonth, "-", "")
	jsonPath = filepath.Join(dir, fmt.Sprintf("invoice_report_%s_%s.json", month, ts))
	csvPath = filepath.Join(dir, fmt.Sprintf("invoice_items_%s_%s.csv", month, ts))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		return s.WriteJSON(jsonPath)
	})
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		return s.WriteCSV(csvPath)
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return jsonPath, csvPath, nil
}
