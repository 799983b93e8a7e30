// Package archive persists fetched pages to a blob store under names that
// embed hashes of the source URL and the content plus the fetch time.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

// DefaultContentType is used when the config leaves it empty.
const DefaultContentType = "text/html; charset=utf-8"

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// Config controls artifact naming.
type Config struct {
	Prefix      string
	ContentType string
}

// Archiver writes page bodies to a BlobStore.
type Archiver struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	clock  crawler.Clock
	cfg    Config
}

// New builds an Archiver.
func New(store crawler.BlobStore, hasher crawler.Hasher, clock crawler.Clock, cfg Config) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if hasher == nil || clock == nil {
		return nil, fmt.Errorf("hasher and clock are required")
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Archiver{store: store, hasher: hasher, clock: clock, cfg: cfg}, nil
}

// Save stores body and returns the artifact URI. kind groups artifacts
// ("search", "result", "page", ...).
func (a *Archiver) Save(ctx context.Context, kind, sourceURL string, body []byte) (string, error) {
	name, err := a.objectName(kind, sourceURL, body)
	if err != nil {
		return "", err
	}
	uri, err := a.store.PutObject(ctx, name, a.cfg.ContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return uri, nil
}

// objectName is <prefix>/<kind>/<kind>_<url hash>_<content hash>_<UTC timestamp>.html.
func (a *Archiver) objectName(kind, sourceURL string, body []byte) (string, error) {
	urlDigest, err := a.hasher.Hash([]byte(sourceURL))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	contentDigest, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	kind = sanitize(kind)
	if kind == "" {
		kind = "page"
	}
	stamp := a.clock.Now().UTC().Format("20060102T150405Z")
	file := fmt.Sprintf("%s_%s_%s_%s.html", kind, prefix(urlDigest, 8), prefix(contentDigest, 12), stamp)
	return path.Join(a.cfg.Prefix, kind, file), nil
}

func prefix(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func sanitize(s string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(s), "_"), "_")
}
