package domain

import "context"

// Fetcher retrieves and parses one feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (RawFeed, error)
}

// EntryStore is the entry side of the persistence collaborator.
type EntryStore interface {
	FindEntryByIdentifier(ctx context.Context, feedID int64, identifier string) (Entry, bool, error)
	FindEntryByLink(ctx context.Context, feedID int64, link string) (Entry, bool, error)
	// SaveEntry inserts the entry when ID is zero and updates it otherwise.
	// On insert the new ID is written back.
	SaveEntry(ctx context.Context, entry *Entry) error
}

// StoreTx groups the writes of one sync pass.
type StoreTx interface {
	EntryStore
	UpdateFeed(ctx context.Context, feed Feed) error
}

// Store is the persistence collaborator for feeds, entries and mappings.
type Store interface {
	FindOrCreateFeed(ctx context.Context, feedURL string) (Feed, error)
	ListFeeds(ctx context.Context) ([]Feed, error)
	ListEntries(ctx context.Context, feedID int64) ([]Entry, error)
	CountEntries(ctx context.Context, feedID int64) (int64, error)
	LoadMapping(ctx context.Context, feedID int64) (map[string]string, error)
	SaveMapping(ctx context.Context, feedID int64, pairs map[string]string) error
	// WithTx runs fn in a transaction that is committed only when fn
	// returns nil.
	WithTx(ctx context.Context, fn func(tx StoreTx) error) error
}
