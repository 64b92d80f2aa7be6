// internal/terakoya/client.go

// Package terakoya drives the lesson platform end to end: logging in
// through the client-side rendered UI, pulling the month's lesson cards,
// reconciling them against the invoice items already on the claim page,
// and pushing the missing records through the submission modal.
//
// All page interaction goes through the Driver interface so the
// workflows stay testable without a browser. The flows mirror how a
// person uses the site, settle pauses included; the page mounts its
// widgets well after document readiness.
package terakoya

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/browser"
	"github.com/kei1-dev/terakoya-invoicer/internal/config"
	"github.com/kei1-dev/terakoya-invoicer/internal/extraction"
	"github.com/kei1-dev/terakoya-invoicer/internal/outcome"
	"github.com/kei1-dev/terakoya-invoicer/internal/resilience"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Circuit breaker and retry tuning for page interactions.
const (
	breakerThreshold = 3
	breakerCooldown  = 60 * time.Second

	// maxAddAttempts bounds per-record submission retries.
	maxAddAttempts = 3
)

// Settle pauses, copied from manual timings against the live site. The
// page renders client side, so document readiness says nothing about
// mounted widgets.
const (
	renderSettle      = 3 * time.Second
	loginModalSettle  = 2 * time.Second
	buttonEnableDelay = 1 * time.Second
	invoiceSettle     = 2 * time.Second
)

// Client orchestrates the invoicing workflows against one browser
// session. It is not safe for concurrent use: the flows share a single
// page and drive it strictly in sequence.
type Client struct {
	d   Driver
	cfg *config.Config
	log *zap.Logger

	session *SessionTracker
	breaker *resilience.Breaker
	retryer *resilience.Retryer

	// strategy is the active lesson extractor; regex stays around as the
	// permanent fallback once the AI path has failed.
	strategy extraction.Strategy
	regex    *extraction.RegexStrategy

	// lastShot carries the most recent diagnostic screenshot path into
	// the run report.
	lastShot string

	clock func() time.Time
}

// New wires a client around an open browser session. When AI extraction
// is enabled but its client cannot be built, usually because the API key
// is missing, the run proceeds on the regex strategy alone.
func New(ctx context.Context, d Driver, cfg *config.Config, logger *zap.Logger) *Client {
	log := logger.Named("terakoya")
	c := &Client{
		d:       d,
		cfg:     cfg,
		log:     log,
		session: NewSessionTracker(d, log),
		breaker: resilience.NewBreaker(log, breakerThreshold, breakerCooldown),
		retryer: resilience.NewRetryer(log, maxAddAttempts),
		regex:   extraction.NewRegexStrategy(log),
		clock:   time.Now,
	}
	c.strategy = c.regex

	if cfg.Extraction.UseAI {
		ai, err := extraction.NewGeminiStrategy(ctx, cfg.Extraction, log)
		if err != nil {
			log.Warn("AI extraction unavailable, using regex strategy", zap.Error(err))
		} else {
			c.strategy = ai
		}
	}
	return c
}

// Session exposes the tracker for status output and diagnostics.
func (c *Client) Session() *SessionTracker { return c.session }

// LastScreenshot returns the path of the most recent diagnostic capture,
// or "" when the current operation produced none.
func (c *Client) LastScreenshot() string { return c.lastShot }

// Login authenticates through the header login modal. Each step that
// fails captures a screenshot named after it before reporting the error.
func (c *Client) Login(ctx context.Context, email string, password config.Secret) outcome.Status {
	if !strings.Contains(email, "@") {
		return outcome.FailStatusf("invalid email address")
	}
	if utf8.RuneCountInString(password.Reveal()) < 8 {
		return outcome.FailStatusf("password must be at least 8 characters")
	}

	c.log.Info("Logging in", zap.String("email", email))

	if st := c.d.Navigate(ctx, c.cfg.Terakoya.BaseURL); !st.Succeeded() {
		return outcome.FailStatusf("navigate to login page: %w", st.Err())
	}
	c.d.Pause(ctx, renderSettle)

	// The control only responds to scripted clicks; a native click lands
	// on the header overlay above it.
	if st := c.d.ClickViaScript(ctx, locLoginMenu); !st.Succeeded() {
		c.screenshot(ctx, "login_button_not_found")
		return outcome.FailStatusf("login control: %w", st.Err())
	}
	c.d.Pause(ctx, loginModalSettle)

	if st := c.d.InputText(ctx, locLoginEmail, email); !st.Succeeded() {
		c.screenshot(ctx, "login_email_failed")
		return outcome.FailStatusf("email field: %w", st.Err())
	}
	if st := c.d.InputText(ctx, locLoginPassword, password.Reveal()); !st.Succeeded() {
		c.screenshot(ctx, "login_password_failed")
		return outcome.FailStatusf("password field: %w", st.Err())
	}

	// The submit button enables once both fields hold values.
	c.d.Pause(ctx, buttonEnableDelay)

	if st := c.clickWithFallback(ctx, locLoginSubmit); !st.Succeeded() {
		c.screenshot(ctx, "login_button_failed")
		return outcome.FailStatusf("login submit: %w", st.Err())
	}

	if st := c.d.WaitReady(ctx); !st.Succeeded() {
		c.log.Warn("Post-login readiness wait failed", zap.Error(st.Err()))
	}

	if found := c.d.FindOne(ctx, locLoginError); found.Succeeded() {
		c.screenshot(ctx, "login_error")
		c.session.MarkLoggedOut()
		return outcome.FailStatusf("login failed, credentials may be incorrect")
	}

	c.session.MarkLoggedIn()
	c.log.Info("Login successful", zap.String("email", email))
	return outcome.DoneMsg("logged in as %s", email)
}

// clickWithFallback tries a native click and falls back to a scripted
// one when the element exists but would not take the click, typically
// because a decorative overlay intercepts it. A missing element is
// reported as-is; the script path could not find it either.
func (c *Client) clickWithFallback(ctx context.Context, loc Locator) outcome.Status {
	st := c.d.Click(ctx, loc)
	if st.Succeeded() || errors.Is(st.Err(), browser.ErrElementNotFound) {
		return st
	}
	c.log.Debug("Native click failed, retrying via script",
		zap.String("locator", loc.Name), zap.Error(st.Err()))
	return c.d.ClickViaScript(ctx, loc)
}

// screenshot captures a named diagnostic image into the screenshots
// directory and remembers its path for the run report. Capture failures
// are logged and swallowed; a diagnostic must never fail the step it
// documents.
func (c *Client) screenshot(ctx context.Context, name string) {
	filename := fmt.Sprintf("%s_%s.png", name, c.clock().Format("20060102_150405"))
	path := filepath.Join(c.cfg.Output.ScreenshotsDir(), filename)
	if st := c.d.Screenshot(ctx, path); !st.Succeeded() {
		c.log.Warn("Diagnostic screenshot failed",
			zap.String("name", name), zap.Error(st.Err()))
		return
	}
	c.lastShot = path
}

// pageURL joins a path onto the configured base URL.
func (c *Client) pageURL(path string) string {
	return strings.TrimRight(c.cfg.Terakoya.BaseURL, "/") + path
}

// jsArg encodes a Go value for embedding in an injected page script.
func jsArg(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(data)
}
