// internal/terakoya/driver.go
package terakoya

import (
	"context"
	"time"

	"github.com/kei1-dev/terakoya-invoicer/internal/browser"
	"github.com/kei1-dev/terakoya-invoicer/internal/outcome"
)

// Driver is the browser surface the workflows drive. *browser.Session
// implements it; tests substitute a scripted fake so the flows run
// without Chrome.
type Driver interface {
	Navigate(ctx context.Context, url string) outcome.Status
	WaitReady(ctx context.Context) outcome.Status
	Pause(ctx context.Context, d time.Duration) outcome.Status

	FindOne(ctx context.Context, loc Locator) outcome.Outcome[browser.Strategy]
	FindAll(ctx context.Context, loc Locator) outcome.Outcome[browser.Matches]

	Click(ctx context.Context, loc Locator) outcome.Status
	ClickViaScript(ctx context.Context, loc Locator) outcome.Status
	InputText(ctx context.Context, loc Locator, text string) outcome.Status
	SetValueViaScript(ctx context.Context, loc Locator, value string) outcome.Status
	SelectOption(ctx context.Context, loc Locator, value string) outcome.Status

	PageSource(ctx context.Context) outcome.Outcome[string]
	Screenshot(ctx context.Context, path string) outcome.Status

	EvalInt(ctx context.Context, script string) outcome.Outcome[int]
	EvalString(ctx context.Context, script string) outcome.Outcome[string]
	EvalStrings(ctx context.Context, script string) outcome.Outcome[[]string]
}

var _ Driver = (*browser.Session)(nil)
