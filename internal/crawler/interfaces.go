package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// BrowserLauncher starts isolated browser sessions.
type BrowserLauncher interface {
	Launch(ctx context.Context) (BrowserSession, error)
}

// BrowserSession drives a single browser process. Close must always be called.
type BrowserSession interface {
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until an element matching the CSS selector is visible or wait elapses.
	WaitVisible(ctx context.Context, selector string, wait time.Duration) error
	// Rendered reports the rendered elements matching the CSS selector and
	// the URL the browser is showing. linkAttr names the attribute read for
	// each element's link before falling back to anchors.
	Rendered(ctx context.Context, selector, linkAttr string) (RenderedPage, error)
	// Click clicks the first enabled element matching selector. A zero wait
	// checks for the element once instead of waiting for it to appear.
	Click(ctx context.Context, selector string, wait time.Duration) (bool, error)
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// AttemptStore persists search attempt records.
type AttemptStore interface {
	StoreAttempts(ctx context.Context, requestID, baseURL string, attempts []SearchAttempt) error
}

// ScriptShellDetector reports whether a static response looks like a
// script-rendered shell that needs a browser.
type ScriptShellDetector interface {
	LooksScriptRendered(resp FetchResponse) bool
}

// Hasher computes digests for artifact naming.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
