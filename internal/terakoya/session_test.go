package terakoya

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSessionTrackerLifecycle(t *testing.T) {
	tr := NewSessionTracker(&fakeDriver{}, zap.NewNop())

	assert.Equal(t, SessionNotLoggedIn, tr.State())
	st := tr.RequireLogin()
	require.False(t, st.Succeeded())
	assert.Equal(t, "not logged in", st.Err().Error())

	tr.MarkLoggedIn()
	assert.Equal(t, SessionLoggedIn, tr.State())
	assert.True(t, tr.RequireLogin().Succeeded())
	assert.False(t, tr.Expired())

	tr.MarkLoggedOut()
	assert.Equal(t, SessionNotLoggedIn, tr.State())
	assert.False(t, tr.RequireLogin().Succeeded())
}

func TestSessionTrackerExpiry(t *testing.T) {
	current := time.Now()
	tr := NewSessionTracker(&fakeDriver{}, zap.NewNop())
	tr.now = func() time.Time { return current }

	tr.MarkLoggedIn()

	// Inside the window the session holds, and passing the check slides
	// the window forward.
	current = current.Add(20 * time.Minute)
	require.True(t, tr.RequireLogin().Succeeded())
	current = current.Add(20 * time.Minute)
	require.True(t, tr.RequireLogin().Succeeded(), "activity 20 minutes ago keeps the session alive")

	// Then half an hour of silence kills it.
	current = current.Add(31 * time.Minute)
	assert.True(t, tr.Expired())
	st := tr.RequireLogin()
	require.False(t, st.Succeeded())
	assert.Equal(t, "session expired", st.Err().Error(),
		"expiry must read differently from never having logged in")
	assert.Equal(t, SessionExpired, tr.State())
}

func TestSessionTrackerValidateTrustsActiveSession(t *testing.T) {
	f := &fakeDriver{}
	tr := NewSessionTracker(f, zap.NewNop())
	tr.MarkLoggedIn()

	res := tr.Validate(context.Background())

	require.True(t, res.Succeeded())
	assert.True(t, res.Value())
	assert.False(t, f.saw("source"), "an active session is trusted without touching the page")
}

func TestSessionTrackerValidateExpiredByTimeout(t *testing.T) {
	current := time.Now()
	f := &fakeDriver{}
	tr := NewSessionTracker(f, zap.NewNop())
	tr.now = func() time.Time { return current }
	tr.MarkLoggedIn()
	current = current.Add(sessionTimeout + time.Minute)

	res := tr.Validate(context.Background())

	require.True(t, res.Succeeded())
	assert.False(t, res.Value())
	assert.Equal(t, SessionExpired, tr.State())
	assert.False(t, f.saw("source"))
}

func TestSessionTrackerValidateDetectsLoginForm(t *testing.T) {
	tests := []struct {
		name   string
		source string
	}{
		{"password input", `<html><body><div><input type="password" name="pw"></div></body></html>`},
		{"login form action", `<html><body><form action="/users/login"><input type="text"></form></body></html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDriver{source: tt.source}
			tr := NewSessionTracker(f, zap.NewNop())

			res := tr.Validate(context.Background())

			require.True(t, res.Succeeded())
			assert.False(t, res.Value())
			assert.Equal(t, SessionNotLoggedIn, tr.State())
		})
	}
}

func TestSessionTrackerValidateInconclusive(t *testing.T) {
	f := &fakeDriver{source: `<html><body><main>ダッシュボード</main></body></html>`}
	tr := NewSessionTracker(f, zap.NewNop())

	res := tr.Validate(context.Background())

	require.True(t, res.Succeeded())
	assert.False(t, res.Value(), "no login form is not proof of a session")
	assert.Equal(t, SessionUnknown, tr.State())
}

func TestSessionInfo(t *testing.T) {
	current := time.Now()
	tr := NewSessionTracker(&fakeDriver{}, zap.NewNop())
	tr.now = func() time.Time { return current }

	info := tr.Info()
	assert.Equal(t, SessionNotLoggedIn, info.State)
	assert.True(t, info.Expired)
	assert.Zero(t, info.SessionAge)

	tr.MarkLoggedIn()
	current = current.Add(5 * time.Minute)
	tr.UpdateActivity()
	current = current.Add(2 * time.Minute)

	info = tr.Info()
	assert.Equal(t, SessionLoggedIn, info.State)
	assert.False(t, info.Expired)
	assert.Equal(t, 7*time.Minute, info.SessionAge)
	assert.Equal(t, 2*time.Minute, info.SinceLastActivity)
}
