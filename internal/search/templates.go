package search

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

type template struct {
	host    string
	pattern string
}

// searchTemplates maps known hosts to their search URL. {base} is the site
// base URL and {query} the encoded keyword. First substring match wins.
var searchTemplates = []template{
	{"ipcc.ch", "{base}/search?query={query}"},
	{"epa.gov", "{base}/search/site/{query}"},
	{"carbonbrief.org", "{base}/?s={query}"},
	{"iea.org", "{base}/search?keywords={query}"},
	{"ev-volumes.com", "{base}/search/?q={query}"},
	{"cleantechnica.com", "{base}/?s={query}"},
	{"sealevel.nasa.gov", "{base}/search?search_api_fulltext={query}"},
	{"climate.gov", "{base}/search/content/{query}"},
	{"ocean.si.edu", "{base}/search?edan_q={query}"},
	{"climate.nasa.gov", "{base}/search?q={query}"},
	{"ncei.noaa.gov", "{base}/search?q={query}"},
	{"data.giss.nasa.gov", "https://search.nasa.gov/search?query={query}&affiliate=nasa"},
	{"iucn.org", "{base}/search?key={query}"},
	{"worldwildlife.org", "{base}/search?query={query}"},
	{"nationalgeographic.com", "{base}/search?q={query}"},
}

const defaultTemplate = "{base}/search?q={query}"

// languageSites accept a lang query parameter.
var languageSites = []string{"ipcc.ch", "iucn.org", "iea.org", "climate.gov"}

var supportedLanguages = map[string]bool{
	"ko": true, "en": true, "fr": true, "es": true, "zh": true, "ja": true,
}

// NormalizeLanguage returns lang when supported, otherwise "en".
func NormalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if supportedLanguages[lang] {
		return lang
	}
	return "en"
}

// BuildURL returns the search URL for keyword on the site at baseURL. A
// bare domain is given an https scheme.
func BuildURL(baseURL, keyword, language string) string {
	base := crawler.SiteBaseURL(baseURL)
	host := crawler.Domain(base)

	pattern := defaultTemplate
	for _, t := range searchTemplates {
		if strings.Contains(host, t.host) {
			pattern = t.pattern
			break
		}
	}
	query := url.QueryEscape(strings.Join(strings.Fields(keyword), " "))
	out := strings.NewReplacer("{base}", base, "{query}", query).Replace(pattern)

	for _, site := range languageSites {
		if strings.Contains(host, site) {
			sep := "?"
			if strings.Contains(out, "?") {
				sep = "&"
			}
			out += sep + "lang=" + NormalizeLanguage(language)
			break
		}
	}
	return out
}
