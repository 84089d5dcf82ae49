package domain

import "time"

type Feed struct {
	ID          int64
	URL         string
	Title       string
	Link        string
	LastUpdated *time.Time
	UpdatedAt   time.Time
}

type Entry struct {
	ID          int64
	FeedID      int64
	EntryID     string
	Title       string
	Author      string
	Link        string
	Content     string
	LastUpdated *time.Time
}

// RawItem is one feed item as named raw fields. A missing key means the
// field is absent from the item, which is different from an empty value.
type RawItem map[string]string

// Get returns the raw field value and whether the item carries it at all.
func (i RawItem) Get(name string) (string, bool) {
	v, ok := i[name]
	return v, ok
}

// RawFeed is a parsed feed snapshot before any mapping is applied.
type RawFeed struct {
	Title   string
	Channel RawItem
	Items   []RawItem
}
