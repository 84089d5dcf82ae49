// Package source keeps one syndicated feed in sync with the store: it decides
// whether the stored snapshot is still fresh and, when it is not, refetches
// the feed and reconciles its items into entries.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/freshness"
	"feedsync/internal/mapping"

	"golang.org/x/sync/singleflight"
)

const (
	syncKey     = "sync"
	syncTimeout = 5 * time.Minute
)

type Source struct {
	url        string
	maxAge     time.Duration
	store      domain.Store
	fetcher    domain.Fetcher
	reconciler *Reconciler
	group      singleflight.Group
	now        func() time.Time
	log        *slog.Logger

	mappingMu sync.Mutex

	mu      sync.RWMutex
	feed    domain.Feed
	mapping mapping.Config
}

// NewSource finds or creates the feed row for feedURL. No fetch happens
// until the feed or its entries are requested.
func NewSource(
	ctx context.Context,
	feedURL string,
	maxAge time.Duration,
	store domain.Store,
	fetcher domain.Fetcher,
	cfg mapping.Config,
	log *slog.Logger,
) (*Source, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return nil, errors.New("feed URL is empty")
	}

	if maxAge < 0 {
		return nil, fmt.Errorf("max age is negative: %s", maxAge)
	}

	feed, err := store.FindOrCreateFeed(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("%w: find or create feed: %w", domain.ErrPersistence, err)
	}

	return &Source{
		url:        feedURL,
		maxAge:     maxAge,
		store:      store,
		fetcher:    fetcher,
		reconciler: NewReconciler(log),
		now:        time.Now,
		log:        log,
		feed:       feed,
		mapping:    cfg,
	}, nil
}

// GetFeed returns the feed, resyncing it first when the stored snapshot has
// expired. A non-nil error next to a usable feed reports skipped items.
func (s *Source) GetFeed(ctx context.Context) (domain.Feed, error) {
	return s.EnsureFresh(ctx)
}

func (s *Source) EnsureFresh(ctx context.Context) (domain.Feed, error) {
	if s.Cached() {
		return s.Feed(), nil
	}

	out, err := s.sync(ctx)
	if err != nil {
		return s.Feed(), err
	}

	return out.feed, out.skipped
}

// Entries returns the stored entries of the feed in feed order. Stored
// entries are served as they are while the snapshot is fresh; otherwise the
// feed is resynced and the entries are read back from the store.
func (s *Source) Entries(ctx context.Context) ([]domain.Entry, error) {
	count, err := s.store.CountEntries(ctx, s.ID())
	if err != nil {
		return nil, fmt.Errorf("%w: count entries: %w", domain.ErrPersistence, err)
	}

	if s.Cached() && count > 0 {
		return s.entriesFromStore(ctx)
	}

	return s.resyncEntries(ctx)
}

func (s *Source) entriesFromStore(ctx context.Context) ([]domain.Entry, error) {
	entries, err := s.store.ListEntries(ctx, s.ID())
	if err != nil {
		return nil, fmt.Errorf("%w: list entries: %w", domain.ErrPersistence, err)
	}

	return entries, nil
}

func (s *Source) resyncEntries(ctx context.Context) ([]domain.Entry, error) {
	out, err := s.sync(ctx)
	if err != nil {
		return nil, err
	}

	entries, err := s.entriesFromStore(ctx)
	if err != nil {
		return nil, err
	}

	return entries, out.skipped
}

type syncOutcome struct {
	feed    domain.Feed
	skipped error
}

// sync refetches the feed and writes feed metadata and entries in one
// transaction. Concurrent callers share one pass. The pass is detached from
// the caller that started it, so each caller only stops waiting when its own
// context is done.
func (s *Source) sync(ctx context.Context) (syncOutcome, error) {
	ch := s.group.DoChan(syncKey, func() (any, error) {
		syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), syncTimeout)
		defer cancel()

		return s.syncOnce(syncCtx)
	})

	select {
	case <-ctx.Done():
		return syncOutcome{}, fmt.Errorf("wait for feed sync: %w", ctx.Err())
	case res := <-ch:
		if res.Shared {
			s.log.DebugContext(ctx, "Joined in-flight feed sync",
				"feedURL", s.url)
		}

		out, _ := res.Val.(syncOutcome)

		return out, res.Err
	}
}

func (s *Source) syncOnce(ctx context.Context) (syncOutcome, error) {
	raw, err := s.fetcher.Fetch(ctx, s.url)
	if err != nil {
		return syncOutcome{}, err
	}

	fetchedAt := s.now().UTC()
	cfg := s.Mapping()

	feed := s.Feed()
	feed.Title = cfg.ResolveChannelTitle(raw)
	if feed.Title == "" {
		s.log.WarnContext(ctx, "Empty feed title",
			"feedURL", s.url,
			"fallbackTitle", s.url)

		feed.Title = s.url
	}

	feed.Link = strings.TrimSpace(raw.Channel["link"])
	if feed.Link == "" {
		feed.Link = s.url
	}

	feed.LastUpdated = &fetchedAt
	feed.UpdatedAt = fetchedAt

	var res Result

	err = s.store.WithTx(ctx, func(tx domain.StoreTx) error {
		if updateErr := tx.UpdateFeed(ctx, feed); updateErr != nil {
			return fmt.Errorf("update feed: %w", updateErr)
		}

		var reconcileErr error
		res, reconcileErr = s.reconciler.Reconcile(ctx, tx, raw.Items, cfg, feed, &fetchedAt)
		if reconcileErr != nil {
			return fmt.Errorf("reconcile entries: %w", reconcileErr)
		}

		return nil
	})
	if err != nil {
		return syncOutcome{}, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}

	s.mu.Lock()
	s.feed = feed
	s.mu.Unlock()

	s.log.InfoContext(ctx, "Feed is synced",
		"feedURL", s.url,
		"feedID", feed.ID,
		"itemCount", len(raw.Items),
		"created", res.Created,
		"updated", res.Updated,
		"unchanged", res.Unchanged,
		"skipped", len(res.Skipped))

	return syncOutcome{feed: feed, skipped: res.Err()}, nil
}

// Mapping returns the current field overrides.
func (s *Source) Mapping() mapping.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.mapping
}

// ApplyMapping merges additional on top of the current overrides, makes the
// result the source's mapping and returns it.
func (s *Source) ApplyMapping(additional mapping.Config) mapping.Config {
	// Merge never fails.
	cfg, _ := s.UpdateMapping(func(current mapping.Config) (mapping.Config, error) {
		return current.Merge(additional), nil
	})

	return cfg
}

// UpdateMapping serializes read-modify-write changes of the mapping. The
// result of fn becomes the mapping only when fn succeeds.
func (s *Source) UpdateMapping(
	fn func(current mapping.Config) (mapping.Config, error),
) (mapping.Config, error) {
	s.mappingMu.Lock()
	defer s.mappingMu.Unlock()

	next, err := fn(s.Mapping())
	if err != nil {
		return mapping.Config{}, err
	}

	s.mu.Lock()
	s.mapping = next
	s.mu.Unlock()

	return next, nil
}

// Feed returns the last known feed state without touching the network.
func (s *Source) Feed() domain.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f := s.feed
	f.LastUpdated = cloneTime(s.feed.LastUpdated)

	return f
}

func (s *Source) ID() int64 {
	return s.Feed().ID
}

func (s *Source) URL() string {
	return s.url
}

func (s *Source) Title() string {
	return s.Feed().Title
}

func (s *Source) Link() string {
	return s.Feed().Link
}

func (s *Source) LastUpdated() *time.Time {
	return s.Feed().LastUpdated
}

func (s *Source) UpdatedAt() time.Time {
	return s.Feed().UpdatedAt
}

func (s *Source) MaxAge() time.Duration {
	return s.maxAge
}

func (s *Source) TimeToExpiry() time.Duration {
	return freshness.TimeToExpiry(s.LastUpdated(), s.maxAge, s.now())
}

func (s *Source) Cached() bool {
	return s.TimeToExpiry() > freshness.Expired
}
