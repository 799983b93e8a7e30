// Package headless drives isolated headless Chrome sessions via chromedp.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/metrics"
)

// Config controls browser launches.
type Config struct {
	// MaxParallel bounds concurrently open sessions across the process.
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	WindowWidth       int
	WindowHeight      int
	// NoSandbox disables the Chrome sandbox. Only for containers that cannot run it.
	NoSandbox bool
	ExecPath  string
	Headers   http.Header
}

// Launcher starts one browser process per session. Sessions never share a
// process, so cookies, storage and crashes stay scoped to one site crawl.
type Launcher struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger
}

// NewChromedp creates a launcher backed by chromedp.
func NewChromedp(cfg Config, logger *zap.Logger) (*Launcher, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Launcher{cfg: cfg, limiter: limiter, logger: logger}, nil
}

// Launch waits for a free slot and starts a fresh browser. The returned
// session owns the slot until Close.
func (l *Launcher) Launch(ctx context.Context) (crawler.BrowserSession, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.logger.Sugar().Debugf))
	teardown := func() {
		tabCancel()
		allocCancel()
		l.release()
	}

	// The first Run starts the browser and binds it to tabCtx, so it cannot
	// run under a derived timeout context.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx, l.networkSetupAction())
	}()
	timer := time.NewTimer(l.cfg.NavigationTimeout)
	defer timer.Stop()
	select {
	case err := <-started:
		if err != nil {
			teardown()
			return nil, fmt.Errorf("start browser: %w", err)
		}
	case <-timer.C:
		teardown()
		return nil, fmt.Errorf("start browser: timed out after %s", l.cfg.NavigationTimeout)
	case <-ctx.Done():
		teardown()
		return nil, fmt.Errorf("start browser canceled: %w", ctx.Err())
	}

	metrics.IncBrowserSessions()
	return &Session{
		tabCtx:     tabCtx,
		navTimeout: l.cfg.NavigationTimeout,
		teardown:   teardown,
	}, nil
}

func (l *Launcher) launchFlags() map[string]any {
	flags := map[string]any{
		"headless":           "new",
		"disable-gpu":        true,
		"hide-scrollbars":    true,
		"enable-automation":  false,
		"mute-audio":         true,
		"window-size":        fmt.Sprintf("%d,%d", l.cfg.WindowWidth, l.cfg.WindowHeight),
		"disable-extensions": true,
	}
	if l.cfg.NoSandbox {
		flags["no-sandbox"] = true
	}
	return flags
}

func (l *Launcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range l.launchFlags() {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

func (l *Launcher) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if l.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(l.cfg.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(l.cfg.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (l *Launcher) acquire(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	select {
	case l.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (l *Launcher) release() {
	if l.limiter == nil {
		return
	}
	select {
	case <-l.limiter:
	default:
	}
}

// Session is one running browser with a single tab.
type Session struct {
	tabCtx     context.Context
	navTimeout time.Duration
	teardown   func()
	closeOnce  sync.Once
}

// Navigate loads url in the tab.
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.bounded(ctx, s.navTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitVisible waits up to wait for selector to become visible.
func (s *Session) WaitVisible(ctx context.Context, selector string, wait time.Duration) error {
	runCtx, cancel := s.bounded(ctx, wait)
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

// Rendered evaluates selector in the page and returns the elements the
// browser actually draws, with their rendered inner text. Elements hidden by
// any means, stylesheets included, are left out.
func (s *Session) Rendered(ctx context.Context, selector, linkAttr string) (crawler.RenderedPage, error) {
	script, err := renderedScript(selector, linkAttr)
	if err != nil {
		return crawler.RenderedPage{}, err
	}
	runCtx, cancel := s.bounded(ctx, s.navTimeout)
	defer cancel()
	var page crawler.RenderedPage
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &page)); err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("read results %s: %w", selector, err)
	}
	return page, nil
}

// Click clicks the first enabled element matching selector. With a positive
// wait it first waits for the element to become visible; a wait that runs
// out means there is nothing to click and is not an error.
func (s *Session) Click(ctx context.Context, selector string, wait time.Duration) (bool, error) {
	if wait > 0 {
		if err := s.WaitVisible(ctx, selector, wait); err != nil {
			if ctx.Err() != nil {
				return false, fmt.Errorf("click %s: %w", selector, ctx.Err())
			}
			return false, nil
		}
	}
	script, err := clickScript(selector)
	if err != nil {
		return false, err
	}
	runCtx, cancel := s.bounded(ctx, s.navTimeout)
	defer cancel()
	var clicked bool
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, fmt.Errorf("click %s: %w", selector, err)
	}
	return clicked, nil
}

// Close shuts the browser down and frees the launcher slot. It is safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if cerr := chromedp.Cancel(s.tabCtx); cerr != nil && !errors.Is(cerr, context.Canceled) {
			err = fmt.Errorf("close browser: %w", cerr)
		}
		s.teardown()
		metrics.DecBrowserSessions()
	})
	return err
}

// bounded derives an action context from the tab that expires after d and
// also stops when the caller's ctx is done.
func (s *Session) bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithTimeout(s.tabCtx, d)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func clickScript(selector string) (string, error) {
	quoted, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el || el.disabled || el.getAttribute('aria-disabled') === 'true') {
    return false;
  }
  el.click();
  return true;
})()`, quoted), nil
}

// renderedScript collects {text, href} for every rendered match of selector.
// An element counts as rendered when it has layout boxes and is not
// visibility:hidden; innerText already skips hidden descendants. The link
// is the element's linkAttr, else its enclosing anchor, else its first
// descendant anchor.
func renderedScript(selector, linkAttr string) (string, error) {
	quotedSel, err := json.Marshal(selector)
	if err != nil {
		return "", fmt.Errorf("encode selector: %w", err)
	}
	if linkAttr == "" {
		linkAttr = "href"
	}
	quotedAttr, err := json.Marshal(linkAttr)
	if err != nil {
		return "", fmt.Errorf("encode link attribute: %w", err)
	}
	return fmt.Sprintf(`(() => {
  const attr = %s;
  const rendered = (el) => {
    if (el.getClientRects().length === 0) {
      return false;
    }
    const style = window.getComputedStyle(el);
    return style.visibility !== 'hidden' && style.visibility !== 'collapse';
  };
  const link = (el) => {
    const own = el.getAttribute(attr);
    if (own && own.trim() !== '') {
      return own;
    }
    const up = el.closest('a[href]');
    if (up) {
      return up.getAttribute('href');
    }
    const down = el.querySelector('a[href]');
    return down ? down.getAttribute('href') : '';
  };
  const elements = [];
  for (const el of document.querySelectorAll(%s)) {
    if (!rendered(el)) {
      continue;
    }
    elements.push({text: (el.innerText || '').trim(), href: link(el) || ''});
  }
  return {
    location: window.location.href,
    size: document.documentElement.outerHTML.length,
    elements: elements,
  };
})()`, quotedAttr, quotedSel), nil
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
