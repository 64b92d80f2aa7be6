// internal/browser/browser.go

// Package browser drives a headless Chrome instance over the DevTools
// protocol. It exposes coarse operations (navigate, find, click, type,
// screenshot) that accept multi-strategy locators and report through
// outcome values, shielding the layers above from chromedp details and
// from the target site's unstable DOM.
package browser

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/config"
)

const (
	// launchTimeout bounds the initial responsiveness check after the
	// browser process starts.
	launchTimeout = 30 * time.Second

	// defaultOpTimeout is the fallback wait budget when neither the
	// session config nor the locator supplies one.
	defaultOpTimeout = 30 * time.Second

	// defaultPollInterval is how often element probes re-evaluate.
	defaultPollInterval = 500 * time.Millisecond
)

// Session owns one browser process and one tab for the lifetime of a
// run. All operations are serialized by the caller; the session itself
// only guards its shutdown path.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	// allocCtx manages the browser process; ctx is the tab derived
	// from it. Every operation context is combined with ctx so that
	// closing the session cancels in-flight CDP calls.
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu       sync.Mutex
	isClosed bool
}

// NewSession starts a browser process, opens a tab and verifies the
// browser responds before returning. Any failure tears down whatever
// was already created.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	id := uuid.NewString()
	s := &Session{
		id:     id,
		cfg:    cfg,
		logger: logger.Named("browser").With(zap.String("session_id", id[:8])),
	}

	s.logger.Info("Launching browser",
		zap.Bool("headless", cfg.Headless),
		zap.Int("window_width", cfg.WindowWidth),
		zap.Int("window_height", cfg.WindowHeight),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg)...)
	s.allocCtx = allocCtx
	s.allocCancel = allocCancel

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	s.ctx = tabCtx
	s.cancel = tabCancel

	// Confirm the process actually started and answers CDP commands.
	testCtx, cancelTest := context.WithTimeout(tabCtx, launchTimeout)
	defer cancelTest()
	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	s.logger.Info("Browser session ready")
	return s, nil
}

// ID returns the session identifier used in logs and report metadata.
func (s *Session) ID() string { return s.id }

// Close shuts the tab and the browser process down. Safe to call more
// than once and from deferred cleanup paths.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return
	}
	s.isClosed = true

	s.logger.Debug("Closing browser session")
	if s.cancel != nil {
		s.cancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.logger.Info("Browser session closed")
}

// closed reports whether Close has run.
func (s *Session) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}

// runActions executes chromedp actions under a context combining the
// session's tab context (which carries the CDP target) with the
// caller's operational context (which carries the deadline).
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed() {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// waitBudget resolves the effective timeout for an element wait.
func (s *Session) waitBudget(loc Locator) time.Duration {
	if loc.Timeout > 0 {
		return loc.Timeout
	}
	if s.cfg.Timeout > 0 {
		return s.cfg.Timeout
	}
	return defaultOpTimeout
}

// buildAllocatorOptions assembles the Chrome launch flags. Later flags
// override the chromedp defaults, which is how the automation banner
// and the default headless mode get replaced.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	opts = append(opts,
		// The site fingerprints automation; suppress the obvious tells.
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)

	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// Flags required when running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}

	return opts
}

// CombineContext derives a context from ctx1 that is canceled when
// either ctx1 or ctx2 is canceled. It inherits values from ctx1, which
// matters for chromedp where ctx1 carries the CDP target and ctx2 only
// carries the operational deadline.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)

	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext inherits values from its parent but ignores the
// parent's deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that keeps ctx's values (the CDP target
// included) but survives ctx's cancellation. Used for cleanup work
// that must still reach the browser after an operation is abandoned.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
