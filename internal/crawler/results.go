package crawler

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Results is an insertion-ordered title to URL mapping. The first URL
// recorded for a title wins; later duplicates are ignored.
//
// The zero value is ready to use. Results is not safe for concurrent use.
type Results struct {
	entries *orderedmap.OrderedMap[string, string]
}

// NewResults returns an empty result set.
func NewResults() *Results {
	return &Results{entries: orderedmap.New[string, string]()}
}

func (r *Results) init() {
	if r.entries == nil {
		r.entries = orderedmap.New[string, string]()
	}
}

// Add records url under title unless the title is already present.
// It reports whether the entry was inserted.
func (r *Results) Add(title, url string) bool {
	r.init()
	if _, ok := r.entries.Get(title); ok {
		return false
	}
	r.entries.Set(title, url)
	return true
}

// Get returns the URL recorded for title.
func (r *Results) Get(title string) (string, bool) {
	if r == nil || r.entries == nil {
		return "", false
	}
	return r.entries.Get(title)
}

// Len returns the number of entries.
func (r *Results) Len() int {
	if r == nil || r.entries == nil {
		return 0
	}
	return r.entries.Len()
}

// Entries returns the entries in insertion order.
func (r *Results) Entries() []ResultEntry {
	if r == nil || r.entries == nil {
		return nil
	}
	out := make([]ResultEntry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, ResultEntry{Title: pair.Key, URL: pair.Value})
	}
	return out
}

// MergeFrom adds every entry of other that is not already present, in
// other's order. It returns the number of entries added.
func (r *Results) MergeFrom(other *Results) int {
	added := 0
	for _, entry := range other.Entries() {
		if r.Add(entry.Title, entry.URL) {
			added++
		}
	}
	return added
}

// MarshalJSON encodes the results as a JSON object in insertion order.
func (r *Results) MarshalJSON() ([]byte, error) {
	if r == nil || r.entries == nil {
		return []byte("{}"), nil
	}
	data, err := r.entries.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return data, nil
}

// UnmarshalJSON decodes a JSON object keeping the document order.
func (r *Results) UnmarshalJSON(data []byte) error {
	entries := orderedmap.New[string, string]()
	if err := entries.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("unmarshal results: %w", err)
	}
	r.entries = entries
	return nil
}

// Merge combines two result sets without modifying either. Entries of
// existing keep their position and value; entries of incoming whose title
// is new are appended in incoming's order.
func Merge(existing, incoming *Results) *Results {
	merged := NewResults()
	merged.MergeFrom(existing)
	merged.MergeFrom(incoming)
	return merged
}
