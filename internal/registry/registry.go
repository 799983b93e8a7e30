package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"go.uber.org/zap"
)

// DefaultCategory is used when a requested category is not configured.
const DefaultCategory = "General"

// Registry maps categories to their ordered site lists. It is immutable
// after construction and safe for concurrent reads.
type Registry struct {
	categories      *orderedmap.OrderedMap[string, []Site]
	defaultCategory string
	logger          *zap.Logger
}

// New returns an empty registry.
func New(defaultCategory string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(defaultCategory) == "" {
		defaultCategory = DefaultCategory
	}
	return &Registry{
		categories:      orderedmap.New[string, []Site](),
		defaultCategory: defaultCategory,
		logger:          logger,
	}
}

// Load reads and parses a registry file.
func Load(path, defaultCategory string, logger *zap.Logger) (*Registry, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration.
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data, defaultCategory, logger)
}

// Parse builds a registry from JSON. The document must be an object of
// categories, each an object of site key to site config. Category and site
// order is preserved. Site entries that cannot be used are skipped with a
// warning; missing optional keys take their defaults.
func Parse(data []byte, defaultCategory string, logger *zap.Logger) (*Registry, error) {
	r := New(defaultCategory, logger)

	categories := orderedmap.New[string, json.RawMessage]()
	if err := categories.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	for cat := categories.Oldest(); cat != nil; cat = cat.Next() {
		entries := orderedmap.New[string, json.RawMessage]()
		if err := entries.UnmarshalJSON(cat.Value); err != nil {
			r.logger.Warn("skipping malformed category", zap.String("category", cat.Key), zap.Error(err))
			continue
		}
		sites := make([]Site, 0, entries.Len())
		for entry := entries.Oldest(); entry != nil; entry = entry.Next() {
			cfg, err := decodeSiteConfig(entry.Value)
			if err != nil {
				r.logger.Warn("skipping malformed site",
					zap.String("category", cat.Key),
					zap.String("site", entry.Key),
					zap.Error(err),
				)
				continue
			}
			sites = append(sites, newSite(entry.Key, cfg))
		}
		r.categories.Set(cat.Key, sites)
	}
	return r, nil
}

// Lookup returns the sites configured for category together with the
// category name actually used. Unknown categories resolve to the default
// category. If that is missing too the site list is empty.
func (r *Registry) Lookup(category string) (string, []Site) {
	if sites, ok := r.categories.Get(category); ok {
		return category, cloneSites(sites)
	}
	for pair := r.categories.Oldest(); pair != nil; pair = pair.Next() {
		if strings.EqualFold(pair.Key, category) {
			return pair.Key, cloneSites(pair.Value)
		}
	}
	r.logger.Warn("unknown category, using default",
		zap.String("category", category),
		zap.String("default", r.defaultCategory),
	)
	if sites, ok := r.categories.Get(r.defaultCategory); ok {
		return r.defaultCategory, cloneSites(sites)
	}
	r.logger.Warn("default category is not configured", zap.String("default", r.defaultCategory))
	return r.defaultCategory, nil
}

// Categories lists the configured category names in registry order.
func (r *Registry) Categories() []string {
	out := make([]string, 0, r.categories.Len())
	for pair := r.categories.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

// DefaultCategory returns the category used for unknown lookups.
func (r *Registry) DefaultCategory() string {
	return r.defaultCategory
}

func cloneSites(sites []Site) []Site {
	out := make([]Site, len(sites))
	copy(out, sites)
	return out
}

// rawSiteConfig accepts both the descriptive key names and the short legacy
// ones (type/t_how/n_how/next/elem/link).
type rawSiteConfig struct {
	Type           string          `json:"type"`
	Strategy       string          `json:"strategy"`
	SearchPath     *string         `json:"search_path"`
	LegacySearch   *string         `json:"t_how"`
	NextPage       json.RawMessage `json:"next_page"`
	LegacyNext     json.RawMessage `json:"n_how"`
	Pagination     string          `json:"pagination"`
	LegacyMode     string          `json:"next"`
	ResultSelector json.RawMessage `json:"result_selector"`
	LegacyElem     json.RawMessage `json:"elem"`
	LinkAttribute  string          `json:"link_attribute"`
	LegacyLink     string          `json:"link"`
	NextButton     json.RawMessage `json:"next_button"`
	TimeoutSeconds float64         `json:"timeout_seconds"`
}

func decodeSiteConfig(data []byte) (SiteConfig, error) {
	var raw rawSiteConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return SiteConfig{}, fmt.Errorf("decode site: %w", err)
	}

	cfg := SiteConfig{
		Type:          parseStrategy(firstNonEmpty(raw.Strategy, raw.Type)),
		LinkAttribute: firstNonEmpty(raw.LinkAttribute, raw.LegacyLink, DefaultLinkAttribute),
		Pagination:    PaginationURLParam,
	}
	switch {
	case raw.SearchPath != nil:
		cfg.SearchPath = *raw.SearchPath
	case raw.LegacySearch != nil:
		cfg.SearchPath = *raw.LegacySearch
	}

	selectorRaw := firstRaw(raw.ResultSelector, raw.LegacyElem)
	if selectorRaw == nil {
		return SiteConfig{}, fmt.Errorf("result selector is required")
	}
	sel, err := decodeSelector(selectorRaw)
	if err != nil {
		return SiteConfig{}, fmt.Errorf("result selector: %w", err)
	}
	if sel.IsZero() {
		return SiteConfig{}, fmt.Errorf("result selector needs a tag")
	}
	cfg.ResultSelector = sel

	// next_page is a URL suffix in url_param mode; the legacy n_how key may
	// also carry the next button selector for click mode.
	if nextRaw := firstRaw(raw.NextPage, raw.LegacyNext); nextRaw != nil {
		var suffix string
		if err := json.Unmarshal(nextRaw, &suffix); err == nil {
			cfg.NextPage = suffix
		} else if button, err := decodeSelector(nextRaw); err == nil && !button.IsZero() {
			cfg.NextButton = &button
			cfg.Pagination = PaginationClick
		}
	}
	if buttonRaw := firstRaw(raw.NextButton); buttonRaw != nil {
		button, err := decodeSelector(buttonRaw)
		if err != nil {
			return SiteConfig{}, fmt.Errorf("next button: %w", err)
		}
		if !button.IsZero() {
			cfg.NextButton = &button
		}
	}
	switch strings.ToLower(firstNonEmpty(raw.Pagination, raw.LegacyMode)) {
	case string(PaginationClick):
		cfg.Pagination = PaginationClick
	case string(PaginationURLParam):
		cfg.Pagination = PaginationURLParam
	}
	if raw.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(raw.TimeoutSeconds * float64(time.Second))
	}
	return cfg, nil
}

func parseStrategy(v string) Strategy {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "selenium", "dynamic", "browser":
		return StrategyDynamic
	default:
		return StrategyStatic
	}
}

// decodeSelector accepts ["tag", "attr", "value"] (attr/value optional or
// null) or {"tag": ..., "attr": ..., "value": ...}.
func decodeSelector(data json.RawMessage) (Selector, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var parts []*string
		if err := json.Unmarshal(trimmed, &parts); err != nil {
			return Selector{}, fmt.Errorf("decode selector list: %w", err)
		}
		var sel Selector
		fields := []*string{&sel.Tag, &sel.Attr, &sel.Value}
		for i, part := range parts {
			if i >= len(fields) {
				break
			}
			if part != nil {
				*fields[i] = *part
			}
		}
		return sel, nil
	}
	var sel Selector
	if err := json.Unmarshal(trimmed, &sel); err != nil {
		return Selector{}, fmt.Errorf("decode selector: %w", err)
	}
	return sel, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstRaw(values ...json.RawMessage) json.RawMessage {
	for _, v := range values {
		trimmed := bytes.TrimSpace(v)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			continue
		}
		return trimmed
	}
	return nil
}
