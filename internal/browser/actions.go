// internal/browser/actions.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/outcome"
)

const (
	// evalTimeout bounds one-shot script evaluations.
	evalTimeout = 20 * time.Second

	// screenshotQuality is the JPEG quality for diagnostic captures.
	screenshotQuality = 90
)

// Matches reports which strategy matched a FindAll and how many nodes
// it found. Callers feed the strategy back into page scripts for
// per-element work.
type Matches struct {
	Strategy Strategy
	Count    int
}

// Navigate loads url and then waits for document readiness. Readiness
// failure is logged but not fatal; client-side rendered pages keep
// streaming content long after the load event.
func (s *Session) Navigate(ctx context.Context, url string) outcome.Status {
	s.logger.Debug("Navigating", zap.String("url", url))

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := s.runActions(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return outcome.FailStatusf("navigation to %s timed out after %s: %w", url, navTimeout, err)
		}
		return outcome.FailStatus(s.wrapRunErr(ctx, "navigation to "+url, err))
	}

	if ready := s.WaitReady(ctx); !ready.Succeeded() {
		s.logger.Warn("Page readiness wait failed after navigation",
			zap.String("url", url), zap.Error(ready.Err()))
	}
	return outcome.DoneMsg("navigated to %s", url)
}

// WaitReady polls until document.readyState reports complete.
func (s *Session) WaitReady(ctx context.Context) outcome.Status {
	budget := s.cfg.Timeout
	if budget <= 0 {
		budget = defaultOpTimeout
	}

	var ready bool
	err := s.runActions(ctx, chromedp.Poll(
		`document.readyState === "complete"`,
		&ready,
		chromedp.WithPollingTimeout(budget),
		chromedp.WithPollingInterval(defaultPollInterval),
	))
	if err != nil {
		if errors.Is(err, chromedp.ErrPollingTimeout) {
			return outcome.FailStatusf("document not ready after %s", budget)
		}
		return outcome.FailStatus(s.wrapRunErr(ctx, "readiness wait", err))
	}
	return outcome.Done()
}

// Pause waits for the given duration under the session context. CSR
// pages mount widgets after readiness, so workflows insert short
// settle pauses before reading them.
func (s *Session) Pause(ctx context.Context, d time.Duration) outcome.Status {
	if err := s.runActions(ctx, chromedp.Sleep(d)); err != nil {
		return outcome.FailStatus(s.wrapRunErr(ctx, "pause", err))
	}
	return outcome.Done()
}

// FindOne waits until some strategy of the locator matches at least one
// element and returns the winning strategy.
func (s *Session) FindOne(ctx context.Context, loc Locator) outcome.Outcome[Strategy] {
	st, err := s.await(ctx, loc, 1)
	if err != nil {
		return outcome.Fail[Strategy](fmt.Errorf("find %s: %w", loc.Name, err))
	}
	return outcome.Ok(st)
}

// FindAll waits like FindOne and additionally reports how many nodes
// the winning strategy matched.
func (s *Session) FindAll(ctx context.Context, loc Locator) outcome.Outcome[Matches] {
	st, err := s.await(ctx, loc, 1)
	if err != nil {
		return outcome.Fail[Matches](fmt.Errorf("find all %s: %w", loc.Name, err))
	}

	var count int
	if err := s.eval(ctx, countExpr(st), &count); err != nil {
		return outcome.Fail[Matches](fmt.Errorf("count %s: %w", loc.Name, err))
	}
	return outcome.Ok(Matches{Strategy: st, Count: count})
}

// Click waits for the element, scrolls it into view and clicks it
// through CDP input events.
func (s *Session) Click(ctx context.Context, loc Locator) outcome.Status {
	st, err := s.await(ctx, loc, 1)
	if err != nil {
		return outcome.FailStatus(fmt.Errorf("click %s: %w", loc.Name, err))
	}

	budget := s.waitBudget(loc)
	opCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	tasks := chromedp.Tasks{
		chromedp.ScrollIntoView(st.Query, queryOption(st)),
		chromedp.WaitVisible(st.Query, queryOption(st)),
		chromedp.Click(st.Query, queryOption(st)),
	}
	if err := s.runActions(opCtx, tasks); err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return outcome.FailStatusf("click %s: %w: not clickable within %s", loc.Name, ErrNotInteractable, budget)
		}
		return outcome.FailStatus(s.wrapRunErr(ctx, "click "+loc.Name, err))
	}

	s.logger.Debug("Clicked element", zap.String("locator", loc.Name), zap.String("strategy", st.String()))
	return outcome.Done()
}

// ClickViaScript dispatches the click inside the page's script engine.
// Some of the site's controls are plain divs with framework-attached
// handlers that ignore CDP input events; a scripted el.click() reaches
// them, and also elements sitting under decorative overlays.
func (s *Session) ClickViaScript(ctx context.Context, loc Locator) outcome.Status {
	st, err := s.await(ctx, loc, 1)
	if err != nil {
		return outcome.FailStatus(fmt.Errorf("script click %s: %w", loc.Name, err))
	}

	script := fmt.Sprintf(`(async () => {
	const el = %s;
	if (!el) { return "missing"; }
	el.scrollIntoView({block: "center"});
	await new Promise(r => setTimeout(r, 150));
	el.click();
	return "clicked";
})()`, nodeExpr(st))

	var res string
	if err := s.eval(ctx, script, &res); err != nil {
		return outcome.FailStatus(fmt.Errorf("script click %s: %w", loc.Name, err))
	}
	if res != "clicked" {
		return outcome.FailStatusf("script click %s: %w: element vanished before click", loc.Name, ErrElementNotFound)
	}

	s.logger.Debug("Clicked element via script", zap.String("locator", loc.Name), zap.String("strategy", st.String()))
	return outcome.Done()
}

// InputText clears the field and types text through CDP key events.
// The clear runs as a page script so controlled inputs observe an
// input event for the emptied value before the new keystrokes arrive.
func (s *Session) InputText(ctx context.Context, loc Locator, text string) outcome.Status {
	st, err := s.await(ctx, loc, 1)
	if err != nil {
		return outcome.FailStatus(fmt.Errorf("input %s: %w", loc.Name, err))
	}

	clear := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) { return false; }
	el.focus();
	el.value = "";
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return true;
})()`, nodeExpr(st))

	budget := s.waitBudget(loc)
	opCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var cleared bool
	tasks := chromedp.Tasks{
		chromedp.ScrollIntoView(st.Query, queryOption(st)),
		chromedp.WaitVisible(st.Query, queryOption(st)),
		evalAction(clear, &cleared),
		chromedp.SendKeys(st.Query, text, queryOption(st)),
	}
	if err := s.runActions(opCtx, tasks); err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return outcome.FailStatusf("input %s: %w: not writable within %s", loc.Name, ErrNotInteractable, budget)
		}
		return outcome.FailStatus(s.wrapRunErr(ctx, "input "+loc.Name, err))
	}

	s.logger.Debug("Typed into element",
		zap.String("locator", loc.Name), zap.Int("text_length", len(text)))
	return outcome.Done()
}

// SetValueViaScript writes the value through the element prototype's
// native setter and fires synthetic input/change events. React-managed
// inputs (the datepicker above all) revert values assigned any other
// way, because the framework's own value tracker never saw the edit.
func (s *Session) SetValueViaScript(ctx context.Context, loc Locator, text string) outcome.Status {
	st, err := s.await(ctx, loc, 1)
	if err != nil {
		return outcome.FailStatus(fmt.Errorf("set value %s: %w", loc.Name, err))
	}

	script := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) { return "missing"; }
	const proto = el instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const setter = Object.getOwnPropertyDescriptor(proto, "value").set;
	setter.call(el, %s);
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return "set";
})()`, nodeExpr(st), jsonEncode(text))

	var res string
	if err := s.eval(ctx, script, &res); err != nil {
		return outcome.FailStatus(fmt.Errorf("set value %s: %w", loc.Name, err))
	}
	if res != "set" {
		return outcome.FailStatusf("set value %s: %w: element vanished", loc.Name, ErrElementNotFound)
	}

	s.logger.Debug("Set element value via script",
		zap.String("locator", loc.Name), zap.Int("text_length", len(text)))
	return outcome.Done()
}

// SelectOption picks an option on a <select>, matching option value
// first and falling back to visible text (exact, then substring), and
// fires a change event so framework listeners observe the pick.
func (s *Session) SelectOption(ctx context.Context, loc Locator, value string) outcome.Status {
	st, err := s.await(ctx, loc, 1)
	if err != nil {
		return outcome.FailStatus(fmt.Errorf("select %s: %w", loc.Name, err))
	}

	script := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) { return "missing"; }
	const want = %s;
	el.value = want;
	if (want !== "" && el.value === want) {
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return "selected";
	}
	const opts = Array.from(el.options || []);
	const hit = opts.find(o => o.text.trim() === want) || opts.find(o => o.text.includes(want));
	if (!hit) { return "nomatch"; }
	el.value = hit.value;
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return "selected";
})()`, nodeExpr(st), jsonEncode(value))

	var res string
	if err := s.eval(ctx, script, &res); err != nil {
		return outcome.FailStatus(fmt.Errorf("select %s: %w", loc.Name, err))
	}
	switch res {
	case "selected":
		s.logger.Debug("Selected option", zap.String("locator", loc.Name), zap.String("value", value))
		return outcome.Done()
	case "nomatch":
		return outcome.FailStatusf("select %s: %w: no option matches %q", loc.Name, ErrNotInteractable, value)
	default:
		return outcome.FailStatusf("select %s: %w: element vanished", loc.Name, ErrElementNotFound)
	}
}

// PageSource captures the full serialized DOM.
func (s *Session) PageSource(ctx context.Context) outcome.Outcome[string] {
	opCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	var html string
	if err := s.runActions(opCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return outcome.Fail[string](s.wrapRunErr(ctx, "page source capture", err))
	}
	return outcome.Ok(html)
}

// Screenshot writes a full-page capture to path, creating parent
// directories as needed.
func (s *Session) Screenshot(ctx context.Context, path string) outcome.Status {
	opCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	var buf []byte
	if err := s.runActions(opCtx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return outcome.FailStatus(s.wrapRunErr(ctx, "screenshot capture", err))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return outcome.FailStatus(fmt.Errorf("screenshot directory: %w", err))
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return outcome.FailStatus(fmt.Errorf("screenshot write: %w", err))
	}

	s.logger.Debug("Screenshot captured", zap.String("path", path))
	return outcome.DoneMsg("screenshot saved to %s", path)
}

// EvalBool evaluates a page script expected to yield a boolean.
func (s *Session) EvalBool(ctx context.Context, script string) outcome.Outcome[bool] {
	var res bool
	if err := s.eval(ctx, script, &res); err != nil {
		return outcome.Fail[bool](err)
	}
	return outcome.Ok(res)
}

// EvalString evaluates a page script expected to yield a string.
func (s *Session) EvalString(ctx context.Context, script string) outcome.Outcome[string] {
	var res string
	if err := s.eval(ctx, script, &res); err != nil {
		return outcome.Fail[string](err)
	}
	return outcome.Ok(res)
}

// EvalStrings evaluates a page script expected to yield an array of
// strings. Batch reads collapse per-element extraction into one round
// trip.
func (s *Session) EvalStrings(ctx context.Context, script string) outcome.Outcome[[]string] {
	var res []string
	if err := s.eval(ctx, script, &res); err != nil {
		return outcome.Fail[[]string](err)
	}
	return outcome.Ok(res)
}

// EvalInt evaluates a page script expected to yield an integer.
func (s *Session) EvalInt(ctx context.Context, script string) outcome.Outcome[int] {
	var res int
	if err := s.eval(ctx, script, &res); err != nil {
		return outcome.Fail[int](err)
	}
	return outcome.Ok(res)
}

// await polls until one of the locator's strategies matches at least
// minCount nodes, returning the winning strategy.
func (s *Session) await(ctx context.Context, loc Locator, minCount int) (Strategy, error) {
	if len(loc.Strategies) == 0 {
		return Strategy{}, fmt.Errorf("locator %q has no strategies", loc.Name)
	}

	budget := s.waitBudget(loc)
	start := time.Now()

	var idx int
	err := s.runActions(ctx, chromedp.Poll(
		probeExpr(loc.Strategies, minCount),
		&idx,
		chromedp.WithPollingTimeout(budget),
		chromedp.WithPollingInterval(defaultPollInterval),
	))
	if err != nil {
		if errors.Is(err, chromedp.ErrPollingTimeout) {
			return Strategy{}, fmt.Errorf("%w: %s after %s", ErrElementNotFound, loc.Name, time.Since(start).Round(time.Millisecond))
		}
		return Strategy{}, s.wrapRunErr(ctx, "probe for "+loc.Name, err)
	}
	if idx < 1 || idx > len(loc.Strategies) {
		return Strategy{}, fmt.Errorf("probe for %s returned index %d out of range", loc.Name, idx)
	}
	return loc.Strategies[idx-1], nil
}

// eval runs one script evaluation with promise resolution and
// by-value return, storing the JSON-decoded result in res.
func (s *Session) eval(ctx context.Context, script string, res interface{}) error {
	opCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	if err := s.runActions(opCtx, evalAction(script, res)); err != nil {
		if opCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("script evaluation timed out after %s: %w", evalTimeout, err)
		}
		return s.wrapRunErr(ctx, "script evaluation", err)
	}
	return nil
}

// evalAction configures Evaluate to await promises, return by value
// and keep page exceptions out of the browser console.
func evalAction(script string, res interface{}) chromedp.Action {
	return chromedp.Evaluate(script, res, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
		return p.WithReturnByValue(true).WithAwaitPromise(true).WithSilent(true)
	})
}

// queryOption maps a strategy kind onto the chromedp query mode.
func queryOption(st Strategy) chromedp.QueryOption {
	if st.Kind == KindXPath {
		return chromedp.BySearch
	}
	return chromedp.ByQuery
}

// wrapRunErr classifies a failed chromedp run. Caller cancellation
// wins over session shutdown, which wins over the raw CDP error.
func (s *Session) wrapRunErr(ctx context.Context, what string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s canceled: %w", what, ctx.Err())
	}
	if s.ctx != nil && s.ctx.Err() != nil {
		return fmt.Errorf("%s aborted, session closed: %w", what, err)
	}
	return fmt.Errorf("%s failed: %w", what, err)
}
