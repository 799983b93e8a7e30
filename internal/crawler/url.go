package crawler

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ErrEmptyLink is returned when there is nothing to resolve.
var ErrEmptyLink = errors.New("empty link")

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// ResolveLink turns an extracted href into an absolute URL.
//
// Root-relative links are joined with the scheme and host of baseURL,
// ignoring any path baseURL or the current page carries. Absolute http(s)
// links are returned unchanged. Everything else is resolved against pageURL.
func ResolveLink(href, baseURL, pageURL string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", ErrEmptyLink
	}

	switch {
	case strings.HasPrefix(href, "//"):
		base, err := parseAbsolute(baseURL)
		if err != nil {
			return "", err
		}
		return base.Scheme + ":" + href, nil
	case strings.HasPrefix(href, "/"):
		base, err := parseAbsolute(baseURL)
		if err != nil {
			return "", err
		}
		return base.Scheme + "://" + base.Host + href, nil
	case HasHTTPScheme(href):
		return href, nil
	}

	page, err := parseAbsolute(pageURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	return page.ResolveReference(ref).String(), nil
}

// HasHTTPScheme reports whether raw starts with http:// or https://.
func HasHTTPScheme(raw string) bool {
	lower := strings.ToLower(raw)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// SiteBaseURL converts a registry site key into the base URL requests are built on.
// Keys that already carry a scheme are used as-is. Bare registrable domains
// ("reuters.com") get a "www." prefix; hosts that already name a subdomain
// ("www.bbc.com", "edition.cnn.com") are kept.
func SiteBaseURL(site string) string {
	site = strings.TrimRight(strings.TrimSpace(site), "/")
	if strings.Contains(site, "://") {
		return site
	}
	host := strings.ToLower(site)
	if i := strings.IndexAny(host, "/:"); i >= 0 {
		host = host[:i]
	}
	if strings.HasPrefix(host, "www.") {
		return "https://" + site
	}
	if apex, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil && apex == host {
		return "https://www." + site
	}
	return "https://" + site
}

// Domain returns the lowercase host of rawURL with any "www." prefix removed.
func Domain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q is not absolute", raw)
	}
	return u, nil
}
