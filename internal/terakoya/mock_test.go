package terakoya

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/browser"
	"github.com/kei1-dev/terakoya-invoicer/internal/config"
	"github.com/kei1-dev/terakoya-invoicer/internal/outcome"
	"github.com/kei1-dev/terakoya-invoicer/internal/resilience"
)

// fakeDriver scripts the Driver surface. Every call is appended to an
// interaction log, failures are keyed by locator name, and script
// evaluations are keyed by a distinctive fragment of the script text.
// Pauses return immediately so polled flows run at full speed.
type fakeDriver struct {
	mu    sync.Mutex
	calls []string

	failNavigate error
	failFind     map[string]error
	failFindAll  map[string]error
	failClick    map[string]error
	failScript   map[string]error
	failInput    map[string]error
	failSetValue map[string]error
	failSelect   map[string]error
	failShot     error

	intResults    map[string]int
	stringResults map[string]string
	cards         []string
	source        string
}

func (f *fakeDriver) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

// count tallies logged calls starting with prefix.
func (f *fakeDriver) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeDriver) saw(prefix string) bool { return f.count(prefix) > 0 }

func (f *fakeDriver) Navigate(ctx context.Context, url string) outcome.Status {
	f.record("navigate:%s", url)
	if f.failNavigate != nil {
		return outcome.FailStatus(f.failNavigate)
	}
	return outcome.Done()
}

func (f *fakeDriver) WaitReady(ctx context.Context) outcome.Status {
	f.record("ready")
	return outcome.Done()
}

func (f *fakeDriver) Pause(ctx context.Context, d time.Duration) outcome.Status {
	f.record("pause")
	if err := ctx.Err(); err != nil {
		return outcome.FailStatus(err)
	}
	return outcome.Done()
}

func (f *fakeDriver) FindOne(ctx context.Context, loc Locator) outcome.Outcome[browser.Strategy] {
	f.record("find:%s", loc.Name)
	if err := f.failFind[loc.Name]; err != nil {
		return outcome.Fail[browser.Strategy](fmt.Errorf("find %s: %w", loc.Name, err))
	}
	return outcome.Ok(loc.Strategies[0])
}

func (f *fakeDriver) FindAll(ctx context.Context, loc Locator) outcome.Outcome[browser.Matches] {
	f.record("findall:%s", loc.Name)
	if err := f.failFindAll[loc.Name]; err != nil {
		return outcome.Fail[browser.Matches](fmt.Errorf("find all %s: %w", loc.Name, err))
	}
	return outcome.Ok(browser.Matches{Strategy: loc.Strategies[0], Count: len(f.cards)})
}

func (f *fakeDriver) Click(ctx context.Context, loc Locator) outcome.Status {
	f.record("click:%s", loc.Name)
	if err := f.failClick[loc.Name]; err != nil {
		return outcome.FailStatus(err)
	}
	return outcome.Done()
}

func (f *fakeDriver) ClickViaScript(ctx context.Context, loc Locator) outcome.Status {
	f.record("script:%s", loc.Name)
	if err := f.failScript[loc.Name]; err != nil {
		return outcome.FailStatus(err)
	}
	return outcome.Done()
}

func (f *fakeDriver) InputText(ctx context.Context, loc Locator, text string) outcome.Status {
	f.record("input:%s:%s", loc.Name, text)
	if err := f.failInput[loc.Name]; err != nil {
		return outcome.FailStatus(err)
	}
	return outcome.Done()
}

func (f *fakeDriver) SetValueViaScript(ctx context.Context, loc Locator, value string) outcome.Status {
	f.record("setvalue:%s:%s", loc.Name, value)
	if err := f.failSetValue[loc.Name]; err != nil {
		return outcome.FailStatus(err)
	}
	return outcome.Done()
}

func (f *fakeDriver) SelectOption(ctx context.Context, loc Locator, value string) outcome.Status {
	f.record("select:%s:%s", loc.Name, value)
	if err := f.failSelect[loc.Name]; err != nil {
		return outcome.FailStatus(err)
	}
	return outcome.Done()
}

func (f *fakeDriver) PageSource(ctx context.Context) outcome.Outcome[string] {
	f.record("source")
	return outcome.Ok(f.source)
}

func (f *fakeDriver) Screenshot(ctx context.Context, path string) outcome.Status {
	f.record("screenshot:%s", filepath.Base(path))
	if f.failShot != nil {
		return outcome.FailStatus(f.failShot)
	}
	return outcome.Done()
}

func (f *fakeDriver) EvalInt(ctx context.Context, script string) outcome.Outcome[int] {
	for fragment, v := range f.intResults {
		if strings.Contains(script, fragment) {
			f.record("evalint:%s:%d", fragment, v)
			return outcome.Ok(v)
		}
	}
	f.record("evalint:unmatched")
	return outcome.Ok(0)
}

func (f *fakeDriver) EvalString(ctx context.Context, script string) outcome.Outcome[string] {
	for fragment, v := range f.stringResults {
		if strings.Contains(script, fragment) {
			f.record("evalstring:%s:%s", fragment, v)
			return outcome.Ok(v)
		}
	}
	f.record("evalstring:unmatched")
	return outcome.Ok("")
}

func (f *fakeDriver) EvalStrings(ctx context.Context, script string) outcome.Outcome[[]string] {
	f.record("evalstrings")
	return outcome.Ok(f.cards)
}

var _ Driver = (*fakeDriver)(nil)

// newTestClient builds a client over the fake with immediate retry
// pauses so failure-path tests stay fast.
func newTestClient(t *testing.T, f *fakeDriver) *Client {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.Extraction.UseAI = false
	cfg.Output.Dir = t.TempDir()

	c := New(context.Background(), f, cfg, zap.NewNop())
	c.retryer = resilience.NewRetryerWithIntervals(zap.NewNop(), maxAddAttempts, 0, 0)
	return c
}

// loggedInClient is a test client whose session already passed login.
func loggedInClient(t *testing.T, f *fakeDriver) *Client {
	t.Helper()
	c := newTestClient(t, f)
	c.session.MarkLoggedIn()
	return c
}
