package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedsync/internal/domain"
)

const (
	feedColumns  = "id, url, title, link, last_updated, updated_at"
	entryColumns = "id, feed_id, entry_id, title, author, link, content, last_updated"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *Database) FindOrCreateFeed(ctx context.Context, feedURL string) (domain.Feed, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return domain.Feed{}, errors.New("feed URL is empty")
	}

	query := "insert into feeds (url, link, updated_at) values (?, ?, ?) on conflict (url) do nothing"

	if _, err := d.db.ExecContext(ctx, query, feedURL, feedURL, time.Now().UTC()); err != nil {
		return domain.Feed{}, fmt.Errorf("insert feed: %w", err)
	}

	row := d.db.QueryRowContext(ctx, "select "+feedColumns+" from feeds where url = ?", feedURL)

	f, err := scanFeed(row)
	if err != nil {
		return domain.Feed{}, fmt.Errorf("select feed: %w", err)
	}

	return f, nil
}

func (d *Database) ListFeeds(ctx context.Context) ([]domain.Feed, error) {
	rows, err := d.db.QueryContext(ctx, "select "+feedColumns+" from feeds order by id")
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"operation", "ListFeeds")
		}
	}()

	var feeds []domain.Feed
	for rows.Next() {
		f, scanErr := scanFeed(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan row: %w", scanErr)
		}
		feeds = append(feeds, f)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return feeds, nil
}

func (d *Database) ListEntries(ctx context.Context, feedID int64) ([]domain.Entry, error) {
	query := "select " + entryColumns + " from entries where feed_id = ? order by id"

	rows, err := d.db.QueryContext(ctx, query, feedID)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"feedID", feedID,
				"operation", "ListEntries")
		}
	}()

	var entries []domain.Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan row: %w", scanErr)
		}
		entries = append(entries, e)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return entries, nil
}

func (d *Database) CountEntries(ctx context.Context, feedID int64) (int64, error) {
	var count int64

	err := d.db.QueryRowContext(ctx, "select count(*) from entries where feed_id = ?", feedID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}

	return count, nil
}

func (d *Database) LoadMapping(ctx context.Context, feedID int64) (map[string]string, error) {
	rows, err := d.db.QueryContext(ctx, "select key, raw_name from feed_mappings where feed_id = ?", feedID)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer func() {
		if err = rows.Close(); err != nil {
			d.log.ErrorContext(ctx, "Failed to close rows",
				"error", err,
				"feedID", feedID,
				"operation", "LoadMapping")
		}
	}()

	pairs := make(map[string]string)
	for rows.Next() {
		var key, rawName string
		if err = rows.Scan(&key, &rawName); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		pairs[key] = rawName
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return pairs, nil
}

// SaveMapping replaces the stored overrides of a feed with pairs.
func (d *Database) SaveMapping(ctx context.Context, feedID int64, pairs map[string]string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err = tx.ExecContext(ctx, "delete from feed_mappings where feed_id = ?", feedID); err != nil {
		return errors.Join(fmt.Errorf("delete mapping: %w", err), tx.Rollback())
	}

	query := "insert into feed_mappings (feed_id, key, raw_name) values (?, ?, ?)"
	for key, rawName := range pairs {
		if _, err = tx.ExecContext(ctx, query, feedID, key, rawName); err != nil {
			return errors.Join(fmt.Errorf("insert mapping (key = %s): %w", key, err), tx.Rollback())
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (d *Database) WithTx(ctx context.Context, fn func(tx domain.StoreTx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err = fn(&Tx{q: sqlTx}); err != nil {
		if rollbackErr := sqlTx.Rollback(); rollbackErr != nil {
			return errors.Join(err, fmt.Errorf("rollback tx: %w", rollbackErr))
		}
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Tx is the write side of one sync pass.
type Tx struct {
	q queryer
}

func (t *Tx) UpdateFeed(ctx context.Context, feed domain.Feed) error {
	query := `update feeds
	set title = ?, link = ?, last_updated = ?, updated_at = ?
	where id = ?`

	res, err := t.q.ExecContext(ctx, query,
		feed.Title, feed.Link, nullTime(feed.LastUpdated), feed.UpdatedAt.UTC(), feed.ID)
	if err != nil {
		return fmt.Errorf("update feed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("feed %d not found", feed.ID)
	}

	return nil
}

func (t *Tx) FindEntryByIdentifier(
	ctx context.Context,
	feedID int64,
	identifier string,
) (domain.Entry, bool, error) {
	query := "select " + entryColumns + " from entries where feed_id = ? and entry_id = ?"

	return findEntry(t.q.QueryRowContext(ctx, query, feedID, identifier))
}

// FindEntryByLink only matches entries stored without an identifier, so the
// two identity key spaces stay disjoint.
func (t *Tx) FindEntryByLink(
	ctx context.Context,
	feedID int64,
	link string,
) (domain.Entry, bool, error) {
	query := "select " + entryColumns + " from entries where feed_id = ? and link = ? and entry_id is null"

	return findEntry(t.q.QueryRowContext(ctx, query, feedID, link))
}

func (t *Tx) SaveEntry(ctx context.Context, entry *domain.Entry) error {
	if entry.ID == 0 {
		query := `insert into entries (feed_id, entry_id, title, author, link, content, last_updated)
		values (?, ?, ?, ?, ?, ?, ?)`

		res, err := t.q.ExecContext(ctx, query,
			entry.FeedID, nullString(entry.EntryID), entry.Title, entry.Author,
			entry.Link, entry.Content, nullTime(entry.LastUpdated))
		if err != nil {
			return fmt.Errorf("insert entry: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		entry.ID = id

		return nil
	}

	query := `update entries
	set entry_id = ?, title = ?, author = ?, link = ?, content = ?, last_updated = ?
	where id = ?`

	_, err := t.q.ExecContext(ctx, query,
		nullString(entry.EntryID), entry.Title, entry.Author, entry.Link,
		entry.Content, nullTime(entry.LastUpdated), entry.ID)
	if err != nil {
		return fmt.Errorf("update entry %d: %w", entry.ID, err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeed(s scanner) (domain.Feed, error) {
	var (
		f           domain.Feed
		lastUpdated sql.NullTime
	)

	if err := s.Scan(&f.ID, &f.URL, &f.Title, &f.Link, &lastUpdated, &f.UpdatedAt); err != nil {
		return domain.Feed{}, err
	}

	f.LastUpdated = timePtr(lastUpdated)

	return f, nil
}

func scanEntry(s scanner) (domain.Entry, error) {
	var (
		e           domain.Entry
		entryID     sql.NullString
		lastUpdated sql.NullTime
	)

	err := s.Scan(&e.ID, &e.FeedID, &entryID, &e.Title, &e.Author, &e.Link, &e.Content, &lastUpdated)
	if err != nil {
		return domain.Entry{}, err
	}

	e.EntryID = entryID.String
	e.LastUpdated = timePtr(lastUpdated)

	return e, nil
}

func findEntry(row *sql.Row) (domain.Entry, bool, error) {
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Entry{}, false, nil
	}
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("select entry: %w", err)
	}

	return e, true, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var (
	_ domain.Store   = (*Database)(nil)
	_ domain.StoreTx = (*Tx)(nil)
)
