// internal/extraction/strategy.go

// Package extraction turns scraped lesson-card text into structured
// lesson records. Two strategies implement the same interface: a
// deterministic regex parser and a Gemini-backed extractor for the
// messy cards fixed patterns cannot untangle. The orchestrator prefers
// the AI strategy when configured and demotes to regex when it fails.
package extraction

import (
	"context"

	"github.com/kei1-dev/terakoya-invoicer/internal/records"
)

// Strategy extracts lessons from card texts.
type Strategy interface {
	// Name identifies the strategy in logs and run summaries.
	Name() string

	// ExtractBatch converts card texts into lessons. The result is
	// index-aligned with cards; a nil entry marks a card that yielded
	// no usable record. The error is reserved for whole-batch
	// failures (transport, quota), never per-card misses.
	ExtractBatch(ctx context.Context, cards []string, year int) ([]*records.Lesson, error)
}
