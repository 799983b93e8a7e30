// Package crawler defines the types shared by the crawling strategies,
// the search fallback engine and the outer surfaces: fetch requests, the
// ordered result set, search attempt records and the link resolver.
package crawler
