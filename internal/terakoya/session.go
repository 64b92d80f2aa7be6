// internal/terakoya/session.go
package terakoya

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/outcome"
	"github.com/kei1-dev/terakoya-invoicer/internal/scrape"
)

// SessionState tells where the login lifecycle stands.
type SessionState string

const (
	SessionNotLoggedIn SessionState = "not_logged_in"
	SessionLoggedIn    SessionState = "logged_in"
	SessionExpired     SessionState = "expired"
	SessionUnknown     SessionState = "unknown"
)

// sessionTimeout is how long the site keeps an idle session alive.
const sessionTimeout = 30 * time.Minute

// SessionTracker follows the login session across a run. The site gives
// no reliable logged-in marker in its rendered header, so the tracker
// combines its own state machine with an activity clock and falls back
// to a page heuristic only when those two are inconclusive.
type SessionTracker struct {
	d   Driver
	log *zap.Logger

	mu           sync.Mutex
	state        SessionState
	loginTime    time.Time
	lastActivity time.Time

	now func() time.Time
}

// NewSessionTracker starts a tracker in the not-logged-in state.
func NewSessionTracker(d Driver, log *zap.Logger) *SessionTracker {
	return &SessionTracker{
		d:     d,
		log:   log.Named("session"),
		state: SessionNotLoggedIn,
		now:   time.Now,
	}
}

// State returns the current session state.
func (t *SessionTracker) State() SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// MarkLoggedIn records a successful login and starts the activity clock.
func (t *SessionTracker) MarkLoggedIn() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = SessionLoggedIn
	t.loginTime = t.now()
	t.lastActivity = t.loginTime
	t.log.Info("Session marked as logged in")
}

// MarkLoggedOut resets the tracker to its initial state.
func (t *SessionTracker) MarkLoggedOut() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = SessionNotLoggedIn
	t.loginTime = time.Time{}
	t.lastActivity = time.Time{}
	t.log.Info("Session marked as logged out")
}

// UpdateActivity refreshes the activity clock. Workflows call it after
// every successful page interaction so an active run never times out.
func (t *SessionTracker) UpdateActivity() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastActivity = t.now()
}

// Expired reports whether the session has outlived the idle window. A
// session that never logged in counts as expired.
func (t *SessionTracker) Expired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiredLocked()
}

func (t *SessionTracker) expiredLocked() bool {
	if t.state != SessionLoggedIn || t.lastActivity.IsZero() {
		return true
	}
	return t.now().Sub(t.lastActivity) > sessionTimeout
}

// RequireLogin guards operations that need an authenticated session. It
// distinguishes a session that never existed from one that timed out, so
// callers can tell the user to log in versus log in again. Passing the
// check counts as activity.
func (t *SessionTracker) RequireLogin() outcome.Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != SessionLoggedIn {
		return outcome.FailStatusf("not logged in")
	}
	if t.expiredLocked() {
		t.state = SessionExpired
		t.log.Warn("Session expired, re-login required")
		return outcome.FailStatusf("session expired")
	}
	t.lastActivity = t.now()
	return outcome.Done()
}

// Validate cross-checks the tracked state against the page itself. A
// logged-in session inside the activity window is trusted without
// touching the DOM; the login-form heuristic only breaks ties, because
// the rendered header is too unstable to probe on every operation. The
// carried bool reports whether the session is usable.
func (t *SessionTracker) Validate(ctx context.Context) outcome.Outcome[bool] {
	t.mu.Lock()
	if t.state == SessionLoggedIn {
		if !t.expiredLocked() {
			t.lastActivity = t.now()
			t.mu.Unlock()
			return outcome.OkMsg(true, "session valid")
		}
		t.state = SessionExpired
		t.mu.Unlock()
		t.log.Warn("Session expired based on timeout")
		return outcome.OkMsg(false, "session expired")
	}
	t.mu.Unlock()

	src, err := t.d.PageSource(ctx).Unwrap()
	if err != nil {
		return outcome.Fail[bool](fmt.Errorf("session check: %w", err))
	}
	doc, err := scrape.Parse(src)
	if err != nil {
		return outcome.Fail[bool](fmt.Errorf("session check: parse page: %w", err))
	}

	if doc.Has(loginFormSelector) {
		t.setState(SessionNotLoggedIn)
		t.log.Warn("Login form detected, session invalid")
		return outcome.OkMsg(false, "login form present")
	}

	// No login form but no trusted state either. Leave the decision to
	// the caller rather than guessing logged-in.
	t.setState(SessionUnknown)
	return outcome.OkMsg(false, "session state unknown")
}

func (t *SessionTracker) setState(s SessionState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// SessionInfo is a diagnostic snapshot for logs and status output.
type SessionInfo struct {
	State             SessionState
	LoginTime         time.Time
	LastActivity      time.Time
	Expired           bool
	SessionAge        time.Duration
	SinceLastActivity time.Duration
}

// Info captures the tracker state at a point in time.
func (t *SessionTracker) Info() SessionInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	info := SessionInfo{
		State:        t.state,
		LoginTime:    t.loginTime,
		LastActivity: t.lastActivity,
		Expired:      t.expiredLocked(),
	}
	if !t.loginTime.IsZero() {
		info.SessionAge = t.now().Sub(t.loginTime)
	}
	if !t.lastActivity.IsZero() {
		info.SinceLastActivity = t.now().Sub(t.lastActivity)
	}
	return info
}
