package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"feedsync/internal/domain"
	"feedsync/internal/mapping"
)

// Result summarizes one reconciliation pass.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
	Skipped   []*domain.MappingError
}

// Err joins the per-item skips; nil when every item was reconciled.
func (r Result) Err() error {
	if len(r.Skipped) == 0 {
		return nil
	}

	errs := make([]error, 0, len(r.Skipped))
	for _, s := range r.Skipped {
		errs = append(errs, s)
	}

	return errors.Join(errs...)
}

type Reconciler struct {
	log *slog.Logger
}

func NewReconciler(log *slog.Logger) *Reconciler {
	return &Reconciler{log: log}
}

type resolvedItem struct {
	identifier string
	title      string
	author     string
	link       string
	content    string
}

// Reconcile upserts items, in feed order, as entries of feedID. An item that
// has neither identifier nor link is skipped and reported in Result.Skipped;
// a store error aborts the pass and is returned.
//
// syncedAt is written to an entry only when it is nil or strictly after the
// entry's current LastUpdated. A nil syncedAt therefore clears LastUpdated on
// every touched entry.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	store domain.EntryStore,
	items []domain.RawItem,
	cfg mapping.Config,
	feed domain.Feed,
	syncedAt *time.Time,
) (Result, error) {
	var res Result

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		resolved := resolveItem(cfg, item)

		if resolved.identifier == "" && resolved.link == "" {
			skip := &domain.MappingError{FeedURL: feed.URL, Index: i, Title: resolved.title}
			res.Skipped = append(res.Skipped, skip)

			r.log.WarnContext(ctx, "Skipping feed item without identity key",
				"feedURL", feed.URL,
				"itemIndex", i,
				"itemTitle", resolved.title)

			continue
		}

		current, found, err := findEntry(ctx, store, feed.ID, resolved)
		if err != nil {
			return res, fmt.Errorf("find entry (item = %d): %w", i, err)
		}

		next := current
		next.FeedID = feed.ID
		next.EntryID = resolved.identifier
		next.Title = resolved.title
		next.Author = resolved.author
		next.Link = resolved.link
		next.Content = resolved.content

		if shouldStamp(syncedAt, current.LastUpdated) {
			next.LastUpdated = cloneTime(syncedAt)
		}

		if found && sameEntry(current, next) {
			res.Unchanged++
			continue
		}

		if err = store.SaveEntry(ctx, &next); err != nil {
			return res, fmt.Errorf("save entry (item = %d): %w", i, err)
		}

		if found {
			res.Updated++
		} else {
			res.Created++
		}
	}

	return res, nil
}

func resolveItem(cfg mapping.Config, item domain.RawItem) resolvedItem {
	identifier, _ := cfg.Resolve(mapping.FieldIdentifier, item)
	title, _ := cfg.Resolve(mapping.FieldTitle, item)
	author, _ := cfg.Resolve(mapping.FieldAuthor, item)
	link, _ := cfg.Resolve(mapping.FieldLink, item)
	content, _ := cfg.Resolve(mapping.FieldContent, item)

	return resolvedItem{
		identifier: strings.TrimSpace(identifier),
		title:      title,
		author:     author,
		link:       strings.TrimSpace(link),
		content:    content,
	}
}

func findEntry(
	ctx context.Context,
	store domain.EntryStore,
	feedID int64,
	item resolvedItem,
) (domain.Entry, bool, error) {
	if item.identifier != "" {
		return store.FindEntryByIdentifier(ctx, feedID, item.identifier)
	}

	return store.FindEntryByLink(ctx, feedID, item.link)
}

func shouldStamp(syncedAt *time.Time, current *time.Time) bool {
	if syncedAt == nil {
		return true
	}

	floor := time.Unix(0, 0)
	if current != nil {
		floor = *current
	}

	return syncedAt.After(floor)
}

func sameEntry(a, b domain.Entry) bool {
	return a.EntryID == b.EntryID &&
		a.Title == b.Title &&
		a.Author == b.Author &&
		a.Link == b.Link &&
		a.Content == b.Content &&
		sameTime(a.LastUpdated, b.LastUpdated)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
