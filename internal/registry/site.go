// Package registry loads the per-category site configuration that tells the
// crawler how to search each site and where its results live in the page.
package registry

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

// Strategy selects how a site is fetched.
type Strategy string

// Supported strategies.
const (
	StrategyStatic  Strategy = "static"
	StrategyDynamic Strategy = "dynamic"
)

// PaginationMode selects how the next results page is reached.
type PaginationMode string

// Supported pagination modes.
const (
	PaginationURLParam PaginationMode = "url_param"
	PaginationClick    PaginationMode = "click"
)

// DefaultLinkAttribute is used when a site does not name one.
const DefaultLinkAttribute = "href"

// Selector is a structural element query: a tag plus an optional attribute match.
type Selector struct {
	Tag   string `json:"tag"`
	Attr  string `json:"attr,omitempty"`
	Value string `json:"value,omitempty"`
}

// IsZero reports whether the selector names no element.
func (s Selector) IsZero() bool {
	return strings.TrimSpace(s.Tag) == ""
}

// CSS renders the selector as a CSS query. Class matches become compound
// class selectors ("div.a.b"), other attributes exact attribute matches.
func (s Selector) CSS() string {
	tag := strings.TrimSpace(s.Tag)
	if tag == "" {
		tag = "*"
	}
	attr := strings.TrimSpace(s.Attr)
	if attr == "" {
		return tag
	}
	if attr == "class" {
		classes := strings.Fields(s.Value)
		if len(classes) == 0 {
			return tag + "[class]"
		}
		return tag + "." + strings.Join(classes, ".")
	}
	value := strings.ReplaceAll(s.Value, `\`, `\\`)
	value = strings.ReplaceAll(value, `'`, `\'`)
	return tag + "[" + attr + "='" + value + "']"
}

// SiteConfig describes how to search one site and extract its results.
type SiteConfig struct {
	Type           Strategy       `json:"type"`
	SearchPath     string         `json:"search_path"`
	NextPage       string         `json:"next_page,omitempty"`
	ResultSelector Selector       `json:"result_selector"`
	LinkAttribute  string         `json:"link_attribute"`
	Pagination     PaginationMode `json:"pagination"`
	NextButton     *Selector      `json:"next_button,omitempty"`
	// Timeout overrides the static page timeout. Zero means the crawler default.
	Timeout time.Duration `json:"-"`
}

// Site is one registry entry: the key as written in the registry plus its config.
type Site struct {
	Key     string     `json:"site"`
	BaseURL string     `json:"base_url"`
	Config  SiteConfig `json:"config"`
}

// PageURL builds the URL of the given results page for keyword. Page 1 is
// base + search path + keyword; later pages append the next-page template
// and the page number.
func (s Site) PageURL(keyword string, page int) string {
	first := s.BaseURL + s.Config.SearchPath + url.QueryEscape(keyword)
	if page <= 1 {
		return first
	}
	return first + s.Config.NextPage + strconv.Itoa(page)
}

// PageCount caps the number of result pages to request for this site.
// Without a next-page template only the first page exists.
func (s Site) PageCount(max int) int {
	if max < 1 {
		return 1
	}
	if s.Config.NextPage == "" {
		return 1
	}
	return max
}

func newSite(key string, cfg SiteConfig) Site {
	return Site{
		Key:     key,
		BaseURL: crawler.SiteBaseURL(key),
		Config:  cfg,
	}
}
