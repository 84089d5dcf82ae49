package source

import (
	"context"
	"errors"
	"testing"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/mapping"
)

func reconcileInTx(
	t *testing.T,
	store *memStore,
	feed domain.Feed,
	items []domain.RawItem,
	cfg mapping.Config,
	syncedAt *time.Time,
) (Result, error) {
	t.Helper()

	var res Result
	err := store.WithTx(context.Background(), func(tx domain.StoreTx) error {
		var reconcileErr error
		res, reconcileErr = NewReconciler(discardLogger()).Reconcile(
			context.Background(), tx, items, cfg, feed, syncedAt)
		return reconcileErr
	})

	return res, err
}

func newFeed(t *testing.T, store *memStore) domain.Feed {
	t.Helper()

	feed, err := store.FindOrCreateFeed(context.Background(), "https://example.com/feed.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return feed
}

func listEntries(t *testing.T, store *memStore, feedID int64) []domain.Entry {
	t.Helper()

	entries, err := store.ListEntries(context.Background(), feedID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return entries
}

func TestReconcileCreatesEntriesInFeedOrder(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)
	syncedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	items := []domain.RawItem{
		{"identifier": "a", "title": "First", "author": "Ann", "link": "https://example.com/a", "content": "one"},
		{"identifier": "b", "title": "Second", "link": "https://example.com/b"},
	}

	res, err := reconcileInTx(t, store, feed, items, mapping.Config{}, &syncedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Created != 2 || res.Updated != 0 || res.Unchanged != 0 {
		t.Fatalf("expected 2 created entries, got %+v", res)
	}

	entries := listEntries(t, store, feed.ID)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	first := entries[0]
	if first.EntryID != "a" || first.Title != "First" || first.Author != "Ann" || first.Content != "one" {
		t.Fatalf("unexpected first entry: %+v", first)
	}
	if first.LastUpdated == nil || !first.LastUpdated.Equal(syncedAt) {
		t.Fatalf("expected last updated %v, got %v", syncedAt, first.LastUpdated)
	}
	if entries[1].Title != "Second" {
		t.Fatalf("unexpected second entry title: %q", entries[1].Title)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)
	syncedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	items := []domain.RawItem{
		{"identifier": "a", "title": "First", "link": "https://example.com/a"},
		{"title": "No id", "link": "https://example.com/b"},
	}

	if _, err := reconcileInTx(t, store, feed, items, mapping.Config{}, &syncedAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := listEntries(t, store, feed.ID)
	savesBefore := store.saveCalls.Load()

	res, err := reconcileInTx(t, store, feed, items, mapping.Config{}, &syncedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Unchanged != 2 || res.Created != 0 || res.Updated != 0 {
		t.Fatalf("expected 2 unchanged entries, got %+v", res)
	}
	if got := store.saveCalls.Load(); got != savesBefore {
		t.Fatalf("expected no saves on an unchanged batch, got %d", got-savesBefore)
	}

	after := listEntries(t, store, feed.ID)
	if len(after) != len(before) {
		t.Fatalf("expected %d entries, got %d", len(before), len(after))
	}
	for i := range after {
		if !sameEntry(before[i], after[i]) || before[i].ID != after[i].ID {
			t.Fatalf("expected entry %d to stay %+v, got %+v", i, before[i], after[i])
		}
	}
}

func TestReconcileTimestampIsMonotonic(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)
	items := []domain.RawItem{{"identifier": "a", "title": "First"}}

	newer := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Hour)

	if _, err := reconcileInTx(t, store, feed, items, mapping.Config{}, &newer); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items[0]["title"] = "Retitled"
	res, err := reconcileInTx(t, store, feed, items, mapping.Config{}, &older)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("expected 1 updated entry, got %+v", res)
	}

	entries := listEntries(t, store, feed.ID)
	if entries[0].Title != "Retitled" {
		t.Fatalf("expected retitled entry, got %q", entries[0].Title)
	}
	if !entries[0].LastUpdated.Equal(newer) {
		t.Fatalf("expected last updated to stay %v, got %v", newer, entries[0].LastUpdated)
	}

	res, err = reconcileInTx(t, store, feed, items, mapping.Config{}, &newer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Unchanged != 1 {
		t.Fatalf("expected unchanged entry for an equal timestamp, got %+v", res)
	}
}

func TestReconcileNilTimestampClearsLastUpdated(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)
	items := []domain.RawItem{{"identifier": "a"}}
	syncedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	if _, err := reconcileInTx(t, store, feed, items, mapping.Config{}, &syncedAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := reconcileInTx(t, store, feed, items, mapping.Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("expected 1 updated entry, got %+v", res)
	}

	if got := listEntries(t, store, feed.ID)[0].LastUpdated; got != nil {
		t.Fatalf("expected last updated to be cleared, got %v", got)
	}
}

func TestReconcileIdentity(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)
	syncedAt := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	first := []domain.RawItem{
		{"identifier": "x", "link": "https://example.com/same", "title": "X"},
		{"identifier": "y", "link": "https://example.com/same", "title": "Y"},
		{"link": "https://example.com/plain", "title": "Plain"},
	}
	if _, err := reconcileInTx(t, store, feed, first, mapping.Config{}, &syncedAt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	entries := listEntries(t, store, feed.ID)
	if len(entries) != 3 {
		t.Fatalf("expected distinct identifiers sharing a link to stay distinct, got %d entries", len(entries))
	}

	second := []domain.RawItem{
		{"link": "https://example.com/plain", "title": "Plain v2"},
	}
	res, err := reconcileInTx(t, store, feed, second, mapping.Config{}, &syncedAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Updated != 1 {
		t.Fatalf("expected the link-only item to update its entry, got %+v", res)
	}

	entries = listEntries(t, store, feed.ID)
	if len(entries) != 3 || entries[2].Title != "Plain v2" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestReconcileAppliesMapping(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)

	cfg, err := mapping.New("", map[mapping.Field]string{mapping.FieldTitle: "headline"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items := []domain.RawItem{{"identifier": "a", "headline": "Hi", "title": "Ignored"}}
	if _, err = reconcileInTx(t, store, feed, items, cfg, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := listEntries(t, store, feed.ID)[0].Title; got != "Hi" {
		t.Fatalf("expected overridden title %q, got %q", "Hi", got)
	}
}

func TestReconcileSkipsItemsWithoutIdentity(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)

	items := []domain.RawItem{
		{"title": "Orphan"},
		{"identifier": "  ", "link": " ", "title": "Blank"},
		{"identifier": "a", "title": "Kept"},
	}

	res, err := reconcileInTx(t, store, feed, items, mapping.Config{}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Created != 1 || len(res.Skipped) != 2 {
		t.Fatalf("expected 1 created and 2 skipped, got %+v", res)
	}
	if res.Skipped[0].Index != 0 || res.Skipped[0].Title != "Orphan" {
		t.Fatalf("unexpected first skipped item: %+v", res.Skipped[0])
	}

	skipErr := res.Err()
	if !errors.Is(skipErr, domain.ErrMapping) {
		t.Fatalf("expected mapping error, got %v", skipErr)
	}

	var mappingErr *domain.MappingError
	if !errors.As(skipErr, &mappingErr) || mappingErr.FeedURL != feed.URL {
		t.Fatalf("unexpected mapping error: %+v", mappingErr)
	}
}

func TestReconcileStoreErrorAbortsPass(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)
	store.failSave = 2

	items := []domain.RawItem{
		{"identifier": "a"},
		{"identifier": "b"},
		{"identifier": "c"},
	}

	res, err := reconcileInTx(t, store, feed, items, mapping.Config{}, nil)
	if !errors.Is(err, errSaveFailed) {
		t.Fatalf("expected %v, got %v", errSaveFailed, err)
	}
	if res.Created != 1 {
		t.Fatalf("expected 1 created before the failure, got %+v", res)
	}

	if entries := listEntries(t, store, feed.ID); len(entries) != 0 {
		t.Fatalf("expected no entries after rollback, got %d", len(entries))
	}
}

func TestReconcileStopsOnCanceledContext(t *testing.T) {
	store := newMemStore()
	feed := newFeed(t, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.WithTx(ctx, func(tx domain.StoreTx) error {
		_, reconcileErr := NewReconciler(discardLogger()).Reconcile(
			ctx, tx, []domain.RawItem{{"identifier": "a"}}, mapping.Config{}, feed, nil)
		return reconcileErr
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}
