// internal/extraction/gemini.go
package extraction

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/kei1-dev/terakoya-invoicer/internal/config"
	"github.com/kei1-dev/terakoya-invoicer/internal/records"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	defaultModel             = "gemini-2.5-flash"
	defaultBatchSize         = 10
	defaultRequestsPerSecond = 0.5

	// extractionTemperature keeps the model near-deterministic; this
	// is data entry, not prose.
	extractionTemperature = 0.1
	maxOutputTokens       = 4096
)

// GeminiStrategy extracts lessons through the Gemini API. Cards are
// sent in batches, paced by a rate limiter, with exponential backoff
// on transient API errors.
type GeminiStrategy struct {
	client    *genai.Client
	model     string
	batchSize int
	limiter   *rate.Limiter
	log       *zap.Logger
}

// NewGeminiStrategy builds the AI extraction strategy from config.
// Construction fails without an API key; the orchestrator treats that
// as a signal to run on regex extraction instead.
func NewGeminiStrategy(ctx context.Context, cfg config.ExtractionConfig, logger *zap.Logger) (*GeminiStrategy, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey.Reveal(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}

	s := &GeminiStrategy{
		client:    client,
		model:     model,
		batchSize: batchSize,
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		log:       logger.Named("extract.gemini"),
	}

	s.log.Info("Gemini extraction strategy initialized",
		zap.String("model", model),
		zap.Int("batch_size", batchSize),
		zap.Float64("requests_per_second", rps),
	)
	return s, nil
}

// Name implements Strategy.
func (s *GeminiStrategy) Name() string { return "gemini" }

// ExtractBatch implements Strategy. Any chunk failing after retries
// fails the whole call so the orchestrator can demote to regex.
func (s *GeminiStrategy) ExtractBatch(ctx context.Context, cards []string, year int) ([]*records.Lesson, error) {
	lessons := make([]*records.Lesson, 0, len(cards))

	for start := 0; start < len(cards); start += s.batchSize {
		end := start + s.batchSize
		if end > len(cards) {
			end = len(cards)
		}

		chunk, err := s.extractChunk(ctx, cards[start:end], year, start)
		if err != nil {
			return nil, fmt.Errorf("cards %d-%d: %w", start, end-1, err)
		}
		lessons = append(lessons, chunk...)
	}
	return lessons, nil
}

func (s *GeminiStrategy) extractChunk(ctx context.Context, cards []string, year, baseIdx int) ([]*records.Lesson, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := s.generate(ctx, buildPrompt(cards, year))
	if err != nil {
		return nil, err
	}
	return s.parseBatch(raw, len(cards), baseIdx)
}

// generate runs one GenerateContent call under exponential backoff.
func (s *GeminiStrategy) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	genCfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](extractionTemperature),
		MaxOutputTokens:  maxOutputTokens,
		ResponseMIMEType: "application/json",
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var text string
	operation := func() error {
		start := time.Now()
		resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, genCfg)
		if err != nil {
			if !isRetryable(err) {
				return backoff.Permanent(fmt.Errorf("gemini generation failed: %w", err))
			}
			s.log.Warn("Transient Gemini error, retrying...", zap.Error(err))
			return err
		}

		text = resp.Text()
		if strings.TrimSpace(text) == "" {
			return backoff.Permanent(fmt.Errorf("gemini returned no text content"))
		}

		if resp.UsageMetadata != nil {
			s.log.Info("Extraction batch generated",
				zap.Duration("duration", time.Since(start)),
				zap.Int32("prompt_tokens", resp.UsageMetadata.PromptTokenCount),
				zap.Int32("completion_tokens", resp.UsageMetadata.CandidatesTokenCount),
				zap.Int32("total_tokens", resp.UsageMetadata.TotalTokenCount),
			)
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return text, nil
}

// cardResult is one element of the model's JSON array reply.
type cardResult struct {
	Date        string `json:"date"`
	StudentName string `json:"student_name"`
	Category    string `json:"category"`
	Duration    int    `json:"duration"`
	Index       int    `json:"index"`
}

// parseBatch decodes the model reply and converts it into lessons
// index-aligned with the chunk's cards. Entries are placed by their
// reported index, so a reply that skips a card cannot shift the ones
// after it.
func (s *GeminiStrategy) parseBatch(raw string, want, baseIdx int) ([]*records.Lesson, error) {
	var results []cardResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &results); err != nil {
		return nil, fmt.Errorf("gemini response is not a JSON array: %w", err)
	}

	lessons := make([]*records.Lesson, want)
	for _, res := range results {
		if res.Index < 0 || res.Index >= want {
			s.log.Warn("Gemini entry index out of range",
				zap.Int("index", res.Index), zap.Int("cards", want))
			continue
		}
		lessons[res.Index] = convertResult(res, baseIdx+res.Index)
	}
	return lessons, nil
}

// convertResult turns one reply entry into a lesson. Entries without
// a real student name or a date yield nil, mirroring how cards that
// carry only status words must be dropped.
func convertResult(res cardResult, cardIdx int) *records.Lesson {
	name := strings.TrimSpace(res.StudentName)
	if name == "" || name == "null" {
		return nil
	}
	if res.Date == "" {
		return nil
	}

	duration := res.Duration
	if duration <= 0 {
		duration = records.DefaultDurationMin
	}
	category := res.Category
	if category == "" {
		category = records.CategoryDedicated
	}

	return &records.Lesson{
		ID:          fmt.Sprintf("lesson_%s_%d", strings.ReplaceAll(res.Date, "-", ""), cardIdx),
		Date:        res.Date,
		StudentID:   records.DeriveStudentID(name),
		StudentName: name,
		Status:      records.StatusCompleted,
		DurationMin: duration,
		Category:    category,
	}
}

// stripFences removes the markdown code fences models wrap JSON in
// even when told not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// isRetryable classifies API failures. Rate limits and server-side
// errors are worth retrying; everything else is permanent.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"429", "RESOURCE_EXHAUSTED", "500", "INTERNAL", "503", "UNAVAILABLE"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// buildPrompt renders the extraction instructions and the numbered
// card list for one chunk.
func buildPrompt(cards []string, year int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, `あなたはレッスン管理システムのデータ抽出エキスパートです。

以下のレッスンカードテキストから情報を抽出し、JSON配列で返してください。

【重要な注意事項】
1. **生徒名の識別**: 人名のみを抽出してください
   - OK: 「林晃司」「土居一光」「柴田善司」
   - NG: 「最終レッスン」「最終レッ」「キャンセル」「キャンセ」「マンツー」
   - これらは生徒名ではなく、レッスンのステータスや種別です

2. **生徒名が存在しない場合**: student_nameに null を設定

3. **日付形式**: %d年の日付として、YYYY-MM-DD形式で出力

4. **カテゴリ判定**:
   - 「マンツー」「専属レッスン」 → "専属レッスン"
   - 「初回レッスン」「初回」 → "初回レッスン"
   - 「エキスパート」 → "エキスパートコース"
   - その他 → "専属レッスン" (default)

5. **時間計算**: 開始時刻と終了時刻から時間(分)を計算

【レッスンカードテキスト】
`, year)

	for i, card := range cards {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, card)
	}

	sb.WriteString(`

【出力形式】
以下のJSON配列形式で出力してください：

` + "```json" + `
[
  {
    "date": "YYYY-MM-DD",
    "student_name": "生徒名 または null",
    "category": "専属レッスン",
    "duration": 60,
    "index": 0
  }
]
` + "```" + `

**注意**:
- 各カードに対応する要素を配列に含めてください
- index は元のカードテキストのインデックス (0始まり)
- 生徒名が判別できない、またはステータス語の場合は student_name を null に設定
- JSON以外の説明文は不要です。JSON配列のみを出力してください。
`)

	return sb.String()
}
