package domain

import "time"

// SearchPage is one page of search hits, optionally with aggregations and a
// continuation cursor.
type SearchPage struct {
	Hits         []map[string]any
	Aggregations map[string]any
	ScrollID     string
}

type SearchOptions struct {
	Size   *int
	Scroll time.Duration
}
