// Package extract turns a parsed results page into title/link pairs using a
// site's configured result selector.
package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
	"github.com/JakeFAU/evidence-crawler/internal/registry"
)

// Parse builds a goquery document from raw HTML.
func Parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// Static extracts results from a page fetched without a browser. The link of
// each matched element comes from, in order: the configured link attribute
// on the element, the href of its first descendant anchor, its own href
// when the element is an anchor.
func Static(doc *goquery.Document, cfg registry.SiteConfig, baseURL, pageURL string) *crawler.Results {
	return collect(doc, cfg, baseURL, pageURL)
}

// Rendered builds results from the elements a browser reported as drawn.
// Titles are the rendered text with whitespace runs collapsed; elements
// without text or without an http(s) link are dropped.
func Rendered(elements []crawler.RenderedElement, baseURL, pageURL string) *crawler.Results {
	results := crawler.NewResults()
	for _, el := range elements {
		title := strings.Join(strings.Fields(el.Text), " ")
		if title == "" {
			continue
		}
		if link, ok := resolve(el.Href, baseURL, pageURL); ok {
			results.Add(title, link)
		}
	}
	return results
}

func collect(doc *goquery.Document, cfg registry.SiteConfig, baseURL, pageURL string) *crawler.Results {
	results := crawler.NewResults()
	if doc == nil || cfg.ResultSelector.IsZero() {
		return results
	}
	attr := cfg.LinkAttribute
	if attr == "" {
		attr = registry.DefaultLinkAttribute
	}

	doc.Find(cfg.ResultSelector.CSS()).Each(func(_ int, el *goquery.Selection) {
		title := Text(el)
		if title == "" {
			return
		}
		if link, ok := resolve(staticLink(el, attr), baseURL, pageURL); ok {
			results.Add(title, link)
		}
	})
	return results
}

func resolve(href, baseURL, pageURL string) (string, bool) {
	link, err := crawler.ResolveLink(href, baseURL, pageURL)
	if err != nil || !crawler.HasHTTPScheme(link) {
		return "", false
	}
	return link, true
}

func staticLink(el *goquery.Selection, attr string) string {
	if v, ok := el.Attr(attr); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if anchor := el.Find("a").First(); anchor.Length() > 0 {
		v, _ := anchor.Attr("href")
		return v
	}
	if goquery.NodeName(el) == "a" {
		v, _ := el.Attr("href")
		return v
	}
	return ""
}

// Text returns the element's text with whitespace runs collapsed.
func Text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}
