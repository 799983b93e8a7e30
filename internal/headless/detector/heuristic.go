// Package detector recognizes pages whose content is produced by client-side
// scripts, which the static strategy cannot see.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

// DefaultBodyThreshold is the body size below which script density is checked.
const DefaultBodyThreshold = 2048

// ShellDetector flags script-rendered application shells.
type ShellDetector struct {
	BodyLengthThreshold int
}

// NewShellDetector creates a detector. A zero threshold uses DefaultBodyThreshold.
func NewShellDetector(threshold int) *ShellDetector {
	if threshold <= 0 {
		threshold = DefaultBodyThreshold
	}
	return &ShellDetector{BodyLengthThreshold: threshold}
}

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("data-server-rendered"),
}

// LooksScriptRendered reports whether resp is probably an empty shell that a
// browser would fill in. Non-200 responses are never flagged.
func (d *ShellDetector) LooksScriptRendered(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < d.BodyLengthThreshold && scriptCoverage(body) >= 25 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptCoverage returns the percentage of body occupied by <script> elements.
func scriptCoverage(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := strings.Index(lower[start:], closeTag)
		if end == -1 {
			// unterminated script runs to the end of the document
			covered += total - start
			break
		}
		next := start + end + len(closeTag)
		covered += next - start
		pos = next
	}
	return covered * 100 / total
}
