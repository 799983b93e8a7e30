package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JakeFAU/evidence-crawler/internal/crawler"
)

func TestLooksScriptRendered(t *testing.T) {
	t.Parallel()

	article := "<html><body>" + strings.Repeat("<p>Sea level rise accelerates.</p>", 100) + "</body></html>"
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{name: "empty body", status: 200, body: "   ", want: true},
		{name: "next.js shell", status: 200, body: article + `<div id="__next"></div>`, want: true},
		{name: "angular shell", status: 200, body: article + `<app-root ng-version="17.0.0"></app-root>`, want: true},
		{name: "script heavy small page", status: 200, body: `<html><script>var a=1;</script><p>t</p></html>`, want: true},
		{name: "unterminated script", status: 200, body: `<p>x</p><script>var a`, want: true},
		{name: "plain article", status: 200, body: article, want: false},
		{name: "not found", status: 404, body: "", want: false},
	}

	d := NewShellDetector(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := d.LooksScriptRendered(crawler.FetchResponse{StatusCode: tt.status, Body: []byte(tt.body)})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewShellDetectorDefaultsThreshold(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultBodyThreshold, NewShellDetector(-1).BodyLengthThreshold)
	assert.Equal(t, 10, NewShellDetector(10).BodyLengthThreshold)
}
