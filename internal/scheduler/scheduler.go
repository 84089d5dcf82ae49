package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/source"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSyncSpec       = "*/15 * * * *"
	Timezone              = "UTC"
	TimezoneOffsetSeconds = 0
	defaultConcurrency    = 4
	syncAllTimeout        = 10 * time.Minute
)

// Scheduler periodically brings every registered source up to date. Fresh
// sources are left alone, so a tick only fetches expired feeds.
type Scheduler struct {
	ctx         context.Context
	cron        *cron.Cron
	spec        string
	registry    *source.Registry
	concurrency int
	log         *slog.Logger
}

func New(
	ctx context.Context,
	spec string,
	concurrency int,
	registry *source.Registry,
	log *slog.Logger,
) *Scheduler {
	c := cron.New(cron.WithLocation(time.FixedZone(Timezone, TimezoneOffsetSeconds)))

	if spec == "" {
		spec = DefaultSyncSpec
	}

	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Scheduler{
		ctx:         ctx,
		cron:        c,
		spec:        spec,
		registry:    registry,
		concurrency: concurrency,
		log:         log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.spec, s.syncAll); err != nil {
		return err
	}

	s.cron.Start()

	return nil
}

// Stop stops the cron and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) syncAll() {
	ctx, cancel := context.WithTimeout(s.ctx, syncAllTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		s.log.InfoContext(ctx, "Scheduler context is done",
			"error", ctx.Err())
		return
	default:
	}

	synced, failed := s.SyncAll(ctx)

	s.log.InfoContext(ctx, "Sources are synced",
		"syncedCount", synced,
		"failedCount", failed)
}

// SyncAll refreshes every registered source with bounded concurrency and
// returns how many sources succeeded and failed. Skipped items are logged but
// do not count as a failure.
func (s *Scheduler) SyncAll(ctx context.Context) (int, int) {
	sources := s.registry.Sources()
	results := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, src := range sources {
		g.Go(func() error {
			_, err := src.GetFeed(gctx)
			results[i] = err

			return nil
		})
	}

	// Workers never return an error.
	_ = g.Wait()

	var synced, failed int
	for i, err := range results {
		switch {
		case err == nil:
			synced++
		case isSkipsOnly(err):
			synced++

			s.log.WarnContext(ctx, "Source is synced with skipped items",
				"error", err,
				"feedURL", sources[i].URL())
		default:
			failed++

			s.log.ErrorContext(ctx, "Failed to sync source",
				"error", err,
				"feedURL", sources[i].URL())
		}
	}

	return synced, failed
}

func isSkipsOnly(err error) bool {
	return errors.Is(err, domain.ErrMapping) &&
		!errors.Is(err, domain.ErrFetch) &&
		!errors.Is(err, domain.ErrParse) &&
		!errors.Is(err, domain.ErrPersistence)
}
