// Package sitecrawl fetches the results pages of one site for one keyword.
//
// StaticFetcher downloads the configured number of result pages concurrently
// over plain HTTP. DynamicFetcher drives a dedicated headless browser through
// the pages, clicking or navigating to the next page between snapshots. Both
// return whatever they collected; failures only shrink the result set.
package sitecrawl
