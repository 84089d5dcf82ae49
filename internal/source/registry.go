package source

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/mapping"
)

// Registry holds one Source per feed URL so that every caller shares the
// same freshness state and in-flight sync.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*Source

	store   domain.Store
	fetcher domain.Fetcher
	maxAge  time.Duration
	log     *slog.Logger
}

func NewRegistry(
	store domain.Store,
	fetcher domain.Fetcher,
	maxAge time.Duration,
	log *slog.Logger,
) *Registry {
	return &Registry{
		sources: make(map[string]*Source),
		store:   store,
		fetcher: fetcher,
		maxAge:  maxAge,
		log:     log,
	}
}

// Open returns the source for feedURL, creating the feed row and loading its
// stored mapping the first time the URL is seen.
func (r *Registry) Open(ctx context.Context, feedURL string) (*Source, error) {
	feedURL = strings.TrimSpace(feedURL)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sources[feedURL]; ok {
		return s, nil
	}

	s, err := NewSource(ctx, feedURL, r.maxAge, r.store, r.fetcher, mapping.Config{}, r.log)
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	pairs, err := r.store.LoadMapping(ctx, s.ID())
	if err != nil {
		return nil, fmt.Errorf("%w: load mapping: %w", domain.ErrPersistence, err)
	}

	if len(pairs) > 0 {
		cfg, cfgErr := mapping.FromPairs(pairs)
		if cfgErr != nil {
			r.log.WarnContext(ctx, "Ignoring invalid stored mapping",
				"error", cfgErr,
				"feedURL", feedURL)
		} else {
			s.ApplyMapping(cfg)
		}
	}

	r.sources[feedURL] = s

	r.log.DebugContext(ctx, "Source is opened",
		"feedURL", feedURL,
		"feedID", s.ID(),
		"mapping", s.Mapping().String())

	return s, nil
}

// Load opens a source for every stored feed. Feeds that fail to open are
// reported together and do not stop the rest.
func (r *Registry) Load(ctx context.Context) (int, error) {
	feeds, err := r.store.ListFeeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: list feeds: %w", domain.ErrPersistence, err)
	}

	var (
		loaded int
		errs   []error
	)

	for _, f := range feeds {
		if _, err = r.Open(ctx, f.URL); err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", f.URL, err))
			continue
		}
		loaded++
	}

	return loaded, errors.Join(errs...)
}

// Get returns the already opened source for feedURL.
func (r *Registry) Get(feedURL string) (*Source, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sources[strings.TrimSpace(feedURL)]

	return s, ok
}

// Sources returns the opened sources ordered by URL.
func (r *Registry) Sources() []*Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	sources := make([]*Source, 0, len(r.sources))
	for _, s := range r.sources {
		sources = append(sources, s)
	}

	slices.SortFunc(sources, func(a, b *Source) int {
		return cmp.Compare(a.URL(), b.URL())
	})

	return sources
}

// ApplyMapping merges additional into the mapping of feedURL and stores the
// result, so it survives restarts. The in-memory mapping changes only after
// the store accepted it.
func (r *Registry) ApplyMapping(
	ctx context.Context,
	feedURL string,
	additional mapping.Config,
) (mapping.Config, error) {
	s, err := r.Open(ctx, feedURL)
	if err != nil {
		return mapping.Config{}, err
	}

	return s.UpdateMapping(func(current mapping.Config) (mapping.Config, error) {
		merged := current.Merge(additional)

		if saveErr := r.store.SaveMapping(ctx, s.ID(), merged.Pairs()); saveErr != nil {
			return mapping.Config{}, fmt.Errorf("%w: save mapping: %w", domain.ErrPersistence, saveErr)
		}

		return merged, nil
	})
}
