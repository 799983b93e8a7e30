package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const legacyRegistry = `{
  "General": {
    "reuters.com": {
      "type": "url",
      "t_how": "/site-search/?query=",
      "n_how": "&offset=",
      "elem": ["a", "data-testid", "Heading"]
    },
    "edition.cnn.com": {
      "type": "selenium",
      "t_how": "/search?q=",
      "n_how": ["button", "class", "pagination-arrow-right"],
      "next": "click",
      "elem": ["span", "class", "container__headline-text"],
      "link": "data-zjs-href"
    },
    "broken.example": {
      "type": "url",
      "t_how": "/search?q="
    }
  },
  "Climate": {
    "www.climate.gov": {
      "strategy": "static",
      "search_path": "/search/content/",
      "result_selector": {"tag": "h3", "attr": "class", "value": "title"},
      "timeout_seconds": 4
    }
  }
}`

func TestParseLegacyAndDescriptiveKeys(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(legacyRegistry), "", zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"General", "Climate"}, reg.Categories())

	name, sites := reg.Lookup("General")
	require.Equal(t, "General", name)
	require.Len(t, sites, 2, "entry without a result selector is skipped")

	reuters := sites[0]
	assert.Equal(t, "reuters.com", reuters.Key)
	assert.Equal(t, "https://www.reuters.com", reuters.BaseURL)
	assert.Equal(t, StrategyStatic, reuters.Config.Type)
	assert.Equal(t, "&offset=", reuters.Config.NextPage)
	assert.Equal(t, PaginationURLParam, reuters.Config.Pagination)
	assert.Equal(t, DefaultLinkAttribute, reuters.Config.LinkAttribute)
	assert.Equal(t, "a[data-testid='Heading']", reuters.Config.ResultSelector.CSS())

	cnn := sites[1]
	assert.Equal(t, "https://edition.cnn.com", cnn.BaseURL)
	assert.Equal(t, StrategyDynamic, cnn.Config.Type)
	assert.Equal(t, PaginationClick, cnn.Config.Pagination)
	require.NotNil(t, cnn.Config.NextButton)
	assert.Equal(t, "button.pagination-arrow-right", cnn.Config.NextButton.CSS())
	assert.Equal(t, "data-zjs-href", cnn.Config.LinkAttribute)
	assert.Empty(t, cnn.Config.NextPage)

	_, climate := reg.Lookup("Climate")
	require.Len(t, climate, 1)
	assert.Equal(t, "https://www.climate.gov", climate[0].BaseURL)
	assert.Equal(t, 4*time.Second, climate[0].Config.Timeout)
	assert.Equal(t, "h3.title", climate[0].Config.ResultSelector.CSS())
}

func TestLookupUnknownCategoryFallsBackToDefault(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	reg, err := Parse([]byte(legacyRegistry), "General", zap.New(core))
	require.NoError(t, err)

	name, sites := reg.Lookup("Astrology")
	assert.Equal(t, "General", name)
	assert.Len(t, sites, 2)
	assert.Equal(t, 1, logs.FilterMessage("unknown category, using default").Len())
}

func TestLookupCaseInsensitive(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(legacyRegistry), "General", zap.NewNop())
	require.NoError(t, err)

	name, sites := reg.Lookup("climate")
	assert.Equal(t, "Climate", name)
	assert.Len(t, sites, 1)
}

func TestLookupMissingDefaultReturnsEmpty(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(`{"Climate": {}}`), "General", zap.NewNop())
	require.NoError(t, err)

	name, sites := reg.Lookup("Sports")
	assert.Equal(t, "General", name)
	assert.Empty(t, sites)
}

func TestLookupReturnsCopy(t *testing.T) {
	t.Parallel()

	reg, err := Parse([]byte(legacyRegistry), "General", zap.NewNop())
	require.NoError(t, err)

	_, sites := reg.Lookup("General")
	sites[0].Key = "mutated"
	_, again := reg.Lookup("General")
	assert.Equal(t, "reuters.com", again[0].Key)
}

func TestParseRejectsInvalidDocument(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`[1,2,3]`), "", zap.NewNop())
	require.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sites.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyRegistry), 0o600))

	reg, err := Load(path, "General", zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, reg.Categories(), 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"), "General", zap.NewNop())
	require.Error(t, err)
}

func TestSelectorCSS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		sel  Selector
		want string
	}{
		{Selector{Tag: "article"}, "article"},
		{Selector{Tag: "div", Attr: "class", Value: "result  item"}, "div.result.item"},
		{Selector{Tag: "a", Attr: "data-testid", Value: "title"}, "a[data-testid='title']"},
		{Selector{Tag: "li", Attr: "id", Value: "it's"}, `li[id='it\'s']`},
		{Selector{}, "*"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.sel.CSS())
	}
}

func TestSitePageURL(t *testing.T) {
	t.Parallel()

	site := Site{
		BaseURL: "https://www.example.com",
		Config:  SiteConfig{SearchPath: "/search?q=", NextPage: "&page="},
	}
	assert.Equal(t, "https://www.example.com/search?q=flood", site.PageURL("flood", 1))
	assert.Equal(t, "https://www.example.com/search?q=flood&page=3", site.PageURL("flood", 3))
	assert.Equal(t, 5, site.PageCount(5))

	site.Config.NextPage = ""
	assert.Equal(t, 1, site.PageCount(5))
}
