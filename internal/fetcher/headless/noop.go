package headless

import (
	"context"
	"errors"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

// ErrDisabled is returned when browser sessions are turned off.
var ErrDisabled = errors.New("headless browser not configured")

// Noop is a launcher for builds or environments without Chrome.
type Noop struct{}

// NewNoop creates a new Noop launcher.
func NewNoop() *Noop {
	return &Noop{}
}

// Launch always fails with ErrDisabled.
func (Noop) Launch(_ context.Context) (crawler.BrowserSession, error) {
	return nil, ErrDisabled
}
