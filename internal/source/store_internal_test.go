package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"feedsync/internal/domain"
)

var errSaveFailed = errors.New("disk is full")

type memState struct {
	nextID   int64
	feeds    map[int64]domain.Feed
	entries  []domain.Entry
	mappings map[int64]map[string]string
}

func (s memState) clone() memState {
	c := memState{
		nextID:   s.nextID,
		feeds:    maps.Clone(s.feeds),
		entries:  slices.Clone(s.entries),
		mappings: make(map[int64]map[string]string, len(s.mappings)),
	}
	for id, pairs := range s.mappings {
		c.mappings[id] = maps.Clone(pairs)
	}
	return c
}

// memStore is an in-memory domain.Store. WithTx works on a copy of the
// state that replaces the committed state only when fn succeeds.
type memStore struct {
	mu    sync.Mutex
	state memState

	saveCalls atomic.Int64
	failSave  int64

	// mappingGate, when set, blocks SaveMapping until it is closed.
	// mappingStarted receives a value each time SaveMapping is entered.
	mappingGate     chan struct{}
	mappingStarted  chan struct{}
	failSaveMapping error
}

func newMemStore() *memStore {
	return &memStore{
		state: memState{
			feeds:    make(map[int64]domain.Feed),
			mappings: make(map[int64]map[string]string),
		},
	}
}

func (m *memStore) FindOrCreateFeed(_ context.Context, feedURL string) (domain.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.state.feeds {
		if f.URL == feedURL {
			return f, nil
		}
	}

	m.state.nextID++
	f := domain.Feed{ID: m.state.nextID, URL: feedURL, Link: feedURL, UpdatedAt: time.Now().UTC()}
	m.state.feeds[f.ID] = f

	return f, nil
}

func (m *memStore) ListFeeds(context.Context) ([]domain.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	feeds := slices.Collect(maps.Values(m.state.feeds))
	slices.SortFunc(feeds, func(a, b domain.Feed) int { return int(a.ID - b.ID) })

	return feeds, nil
}

func (m *memStore) ListEntries(_ context.Context, feedID int64) ([]domain.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entries []domain.Entry
	for _, e := range m.state.entries {
		if e.FeedID == feedID {
			entries = append(entries, e)
		}
	}

	return entries, nil
}

func (m *memStore) CountEntries(ctx context.Context, feedID int64) (int64, error) {
	entries, _ := m.ListEntries(ctx, feedID)
	return int64(len(entries)), nil
}

func (m *memStore) LoadMapping(_ context.Context, feedID int64) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return maps.Clone(m.state.mappings[feedID]), nil
}

func (m *memStore) SaveMapping(_ context.Context, feedID int64, pairs map[string]string) error {
	if m.mappingStarted != nil {
		m.mappingStarted <- struct{}{}
	}

	if m.mappingGate != nil {
		<-m.mappingGate
	}

	if m.failSaveMapping != nil {
		return m.failSaveMapping
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.mappings[feedID] = maps.Clone(pairs)

	return nil
}

func (m *memStore) WithTx(_ context.Context, fn func(tx domain.StoreTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{store: m, state: m.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	m.state = tx.state

	return nil
}

func (m *memStore) feed(id int64) domain.Feed {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.feeds[id]
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) UpdateFeed(_ context.Context, feed domain.Feed) error {
	if _, ok := t.state.feeds[feed.ID]; !ok {
		return fmt.Errorf("feed %d not found", feed.ID)
	}

	feed.LastUpdated = cloneTime(feed.LastUpdated)
	t.state.feeds[feed.ID] = feed

	return nil
}

func (t *memTx) FindEntryByIdentifier(_ context.Context, feedID int64, identifier string) (domain.Entry, bool, error) {
	for _, e := range t.state.entries {
		if e.FeedID == feedID && e.EntryID == identifier {
			return e, true, nil
		}
	}

	return domain.Entry{}, false, nil
}

func (t *memTx) FindEntryByLink(_ context.Context, feedID int64, link string) (domain.Entry, bool, error) {
	for _, e := range t.state.entries {
		if e.FeedID == feedID && e.EntryID == "" && e.Link == link {
			return e, true, nil
		}
	}

	return domain.Entry{}, false, nil
}

func (t *memTx) SaveEntry(_ context.Context, entry *domain.Entry) error {
	n := t.store.saveCalls.Add(1)
	if t.store.failSave > 0 && n >= t.store.failSave {
		return errSaveFailed
	}

	entry.LastUpdated = cloneTime(entry.LastUpdated)

	if entry.ID == 0 {
		t.state.nextID++
		entry.ID = t.state.nextID
		t.state.entries = append(t.state.entries, *entry)

		return nil
	}

	for i := range t.state.entries {
		if t.state.entries[i].ID == entry.ID {
			t.state.entries[i] = *entry
			return nil
		}
	}

	return fmt.Errorf("entry %d not found", entry.ID)
}

// stubFetcher serves feed as the parsed content of every URL.
type stubFetcher struct {
	mu    sync.Mutex
	feed  domain.RawFeed
	err   error
	calls atomic.Int64

	// release, when set, blocks Fetch until it is closed.
	release chan struct{}
}

func (f *stubFetcher) Fetch(ctx context.Context, _ string) (domain.RawFeed, error) {
	f.calls.Add(1)

	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.RawFeed{}, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.feed, f.err
}

func (f *stubFetcher) set(feed domain.RawFeed, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.feed = feed
	f.err = err
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(now time.Time) *clock {
	return &clock{now: now}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
