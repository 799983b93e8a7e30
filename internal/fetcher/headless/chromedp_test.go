package headless

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

func TestNewChromedpLimiterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1}, nil)
	require.Error(t, err)

	launcher, err := NewChromedp(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, cap(launcher.limiter))
	assert.Equal(t, 30*time.Second, launcher.cfg.NavigationTimeout)
	assert.Equal(t, 1920, launcher.cfg.WindowWidth)
	assert.Equal(t, 1080, launcher.cfg.WindowHeight)
}

func TestAcquireBlocksWhenPoolIsFull(t *testing.T) {
	t.Parallel()

	launcher, err := NewChromedp(Config{MaxParallel: 2}, nil)
	require.NoError(t, err)

	require.NoError(t, launcher.acquire(context.Background()))
	require.NoError(t, launcher.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, launcher.acquire(ctx), "third session must wait for a free slot")

	launcher.release()
	require.NoError(t, launcher.acquire(context.Background()))
}

func TestLaunchFlagsKeepSandboxByDefault(t *testing.T) {
	t.Parallel()

	launcher, err := NewChromedp(Config{}, nil)
	require.NoError(t, err)
	flags := launcher.launchFlags()
	assert.NotContains(t, flags, "no-sandbox")
	assert.Equal(t, "1920,1080", flags["window-size"])

	launcher, err = NewChromedp(Config{NoSandbox: true, WindowWidth: 800, WindowHeight: 600}, nil)
	require.NoError(t, err)
	flags = launcher.launchFlags()
	assert.Equal(t, true, flags["no-sandbox"])
	assert.Equal(t, "800,600", flags["window-size"])
	assert.NotEmpty(t, launcher.allocatorOptions())
}

func TestClickScriptQuotesSelector(t *testing.T) {
	t.Parallel()

	script, err := clickScript(`a[aria-label*='Next"']`)
	require.NoError(t, err)
	assert.True(t, strings.Contains(script, `document.querySelector("a[aria-label*='Next\"']")`), script)
	assert.Contains(t, script, "el.click()")
}

func TestRenderedScriptQuotesInputs(t *testing.T) {
	t.Parallel()

	script, err := renderedScript(`span[data-x='a"b']`, "")
	require.NoError(t, err)
	assert.Contains(t, script, `document.querySelectorAll("span[data-x='a\"b']")`)
	assert.Contains(t, script, `const attr = "href";`)
	assert.Contains(t, script, "getClientRects()")
	assert.Contains(t, script, "innerText")

	script, err = renderedScript("div.r", "data-zjs-href")
	require.NoError(t, err)
	assert.Contains(t, script, `const attr = "data-zjs-href";`)
}

// chromePath finds a local Chrome for the browser-backed tests.
func chromePath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser test skipped in -short mode")
	}
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no chrome binary on PATH")
	return ""
}

func TestSessionRenderedSkipsStylesheetHiddenResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><head><style>
			.promo { display: none; }
			.ghost { visibility: hidden; }
			.tag { display: none; }
		</style></head><body>
			<div class="r promo"><a href="/hidden">Hidden teaser</a></div>
			<div class="r ghost"><a href="/ghost">Ghost teaser</a></div>
			<div class="r"><a href="/shown">Shown <span class="tag">(sponsored)</span></a></div>
			<a href="/wrapped"><div class="r">Wrapped</div></a>
		</body></html>`))
	}))
	t.Cleanup(srv.Close)

	launcher, err := NewChromedp(Config{
		MaxParallel:       1,
		NoSandbox:         true,
		ExecPath:          chromePath(t),
		NavigationTimeout: 30 * time.Second,
	}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	session, err := launcher.Launch(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	require.NoError(t, session.Navigate(ctx, srv.URL+"/search"))
	page, err := session.Rendered(ctx, "div.r", "")
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/search", page.Location)
	assert.Positive(t, page.Size)
	assert.Equal(t, []crawler.RenderedElement{
		{Text: "Shown", Href: "/shown"},
		{Text: "Wrapped", Href: "/wrapped"},
	}, page.Elements)
}

func TestToNetworkHeaders(t *testing.T) {
	t.Parallel()

	headers := toNetworkHeaders(http.Header{
		"Accept-Language": {"en-US"},
		"X-Multi":         {"a", "b"},
		"X-Empty":         {},
	})
	assert.Equal(t, "en-US", headers["Accept-Language"])
	assert.Equal(t, []string{"a", "b"}, headers["X-Multi"])
	assert.NotContains(t, headers, "X-Empty")
}

func TestNoopLauncher(t *testing.T) {
	t.Parallel()

	session, err := NewNoop().Launch(context.Background())
	require.ErrorIs(t, err, ErrDisabled)
	assert.Nil(t, session)
}
