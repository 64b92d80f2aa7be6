package terakoya

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kei1-dev/terakoya-invoicer/internal/browser"
	"github.com/kei1-dev/terakoya-invoicer/internal/config"
)

func TestLoginRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		email    string
		password string
		wantErr  string
	}{
		{"email without at sign", "not-an-email", "longenough1", "invalid email address"},
		{"short password", "user@example.com", "short", "password must be at least 8 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDriver{}
			c := newTestClient(t, f)

			st := c.Login(context.Background(), tt.email, config.Secret(tt.password))

			require.False(t, st.Succeeded())
			assert.Contains(t, st.Err().Error(), tt.wantErr)
			assert.False(t, f.saw("navigate:"), "validation failures must not touch the browser")
		})
	}
}

func TestLoginSuccess(t *testing.T) {
	f := &fakeDriver{
		failFind: map[string]error{"login error": browser.ErrElementNotFound},
	}
	c := newTestClient(t, f)

	st := c.Login(context.Background(), "user@example.com", config.Secret("supersecret99"))

	require.True(t, st.Succeeded(), st.Message())
	assert.Equal(t, SessionLoggedIn, c.Session().State())
	assert.True(t, c.Session().RequireLogin().Succeeded())

	assert.True(t, f.saw("navigate:https://terakoya.sejuku.net/"))
	assert.True(t, f.saw("script:login menu"), "the header control only answers scripted clicks")
	assert.True(t, f.saw("input:login email:user@example.com"))
	assert.True(t, f.saw("input:login password:supersecret99"))
	assert.True(t, f.saw("click:login submit"))
	assert.False(t, f.saw("screenshot:"), "clean logins leave no diagnostics behind")
}

func TestLoginWrongCredentials(t *testing.T) {
	// The default fake finds every locator, the error banner included.
	f := &fakeDriver{}
	c := newTestClient(t, f)

	st := c.Login(context.Background(), "user@example.com", config.Secret("wrongpassword"))

	require.False(t, st.Succeeded())
	assert.Contains(t, st.Err().Error(), "credentials may be incorrect")
	assert.True(t, f.saw("screenshot:login_error"))
	assert.Equal(t, SessionNotLoggedIn, c.Session().State())
}

func TestLoginStepFailuresCaptureScreenshots(t *testing.T) {
	tests := []struct {
		name     string
		arrange  func(f *fakeDriver)
		wantShot string
	}{
		{
			"login control missing",
			func(f *fakeDriver) {
				f.failScript = map[string]error{"login menu": browser.ErrElementNotFound}
			},
			"screenshot:login_button_not_found",
		},
		{
			"email field missing",
			func(f *fakeDriver) {
				f.failInput = map[string]error{"login email": browser.ErrElementNotFound}
			},
			"screenshot:login_email_failed",
		},
		{
			"password field not interactable",
			func(f *fakeDriver) {
				f.failInput = map[string]error{"login password": browser.ErrNotInteractable}
			},
			"screenshot:login_password_failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeDriver{}
			tt.arrange(f)
			c := newTestClient(t, f)

			st := c.Login(context.Background(), "user@example.com", config.Secret("supersecret99"))

			require.False(t, st.Succeeded())
			assert.True(t, f.saw(tt.wantShot), "want %s in %v", tt.wantShot, f.calls)
			assert.Equal(t, SessionNotLoggedIn, c.Session().State())
		})
	}
}

func TestLoginSubmitFallsBackToScriptedClick(t *testing.T) {
	f := &fakeDriver{
		failClick: map[string]error{"login submit": browser.ErrNotInteractable},
		failFind:  map[string]error{"login error": browser.ErrElementNotFound},
	}
	c := newTestClient(t, f)

	st := c.Login(context.Background(), "user@example.com", config.Secret("supersecret99"))

	require.True(t, st.Succeeded())
	assert.True(t, f.saw("script:login submit"), "intercepted clicks retry through the page script")
}

func TestLastScreenshotTracksLatestCapture(t *testing.T) {
	f := &fakeDriver{}
	c := newTestClient(t, f)

	assert.Empty(t, c.LastScreenshot())
	c.screenshot(context.Background(), "probe")
	require.NotEmpty(t, c.LastScreenshot())
	assert.Contains(t, c.LastScreenshot(), "probe_")
	assert.Contains(t, c.LastScreenshot(), "terakoya_screenshots")
}
