package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedhub/models"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"
)

// Sentinel errors surfaced to the router as typed error replies
var (
	ErrAlreadyExists = errors.New("already exists")
	ErrNotFound      = errors.New("not found")
)

const writeTimeout = 30 * time.Second

// DB handles all database operations with a shared connection pool
type DB struct {
	db *sql.DB
}

func NewDB(database string) (*DB, error) {
	db, err := connection(database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &DB{db: db}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Feed operations

func (d *DB) GetFeeds(ctx context.Context) ([]models.Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("url").From("feeds").OrderBy("id").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	feeds := []models.Feed{}
	for rows.Next() {
		var feed models.Feed
		if err := rows.Scan(&feed.Url); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// AddFeed inserts a feed URL. Returns ErrAlreadyExists when the URL is
// already registered.
func (d *DB) AddFeed(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("feeds").Cols("url").Values(url)
	query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// DeleteFeed removes a feed by URL. Entries of the feed are kept.
func (d *DB) DeleteFeed(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, "DELETE FROM feeds WHERE url = ?", url)
	if err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Keyword operations

func (d *DB) GetKeywords(ctx context.Context) ([]models.Keyword, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("word", "type").From("keywords").OrderBy("word").Asc()
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	keywords := []models.Keyword{}
	for rows.Next() {
		var keyword models.Keyword
		if err := rows.Scan(&keyword.Word, &keyword.Type); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		keywords = append(keywords, keyword)
	}
	return keywords, rows.Err()
}

func (d *DB) AddKeyword(ctx context.Context, word string, kind string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("keywords").Cols("word", "type").Values(word, kind)
	query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (d *DB) DeleteKeyword(ctx context.Context, word string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := d.db.ExecContext(ctx, "DELETE FROM keywords WHERE word = ?", word)
	if err != nil {
		return fmt.Errorf("delete error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Entry operations

// InsertEntryIfNew writes the entry unless a row with the same id already
// exists. Returns whether a new row was written. Safe to call from
// concurrent fetches, the insert is a single atomic statement.
func (d *DB) InsertEntryIfNew(ctx context.Context, entry models.Entry) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	ib := sqlbuilder.SQLite.NewInsertBuilder()
	ib.InsertIgnoreInto("entries").Cols(
		"id", "feed_url", "title", "link", "summary", "author",
		"published", "published_parsed_tz", "tags", "authors", "links",
		"content", "guid_is_link", "fetched_at",
	).Values(
		entry.Id, entry.FeedUrl, entry.Title, entry.Link, entry.Summary, entry.Author,
		entry.Published, entry.PublishedParsedTz, entry.Tags, entry.Authors, entry.Links,
		entry.Content, entry.GuidIsLink, entry.FetchedAt,
	)
	query, args := ib.BuildWithFlavor(sqlbuilder.SQLite)

	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("insert error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListEntries returns entries ordered by published_parsed_tz descending with
// unparseable timestamps last. A keyword filters by case-insensitive
// substring match on the title. Entries matching a stored blacklist word are
// excluded.
func (d *DB) ListEntries(ctx context.Context, keyword string, limit int) ([]models.Entry, error) {
	sb := d.entrySelect()

	if keyword != "" {
		sb.Where(sb.Like("title", "%"+keyword+"%"))
	}

	if err := d.applyBlacklist(ctx, sb); err != nil {
		return nil, err
	}

	sb.OrderBy("published_parsed_tz").Desc()
	sb.Limit(limit)

	return d.queryEntries(ctx, sb)
}

// ListEntriesForFeeds returns the entries of the given feed URLs in the same
// recency order and with the same blacklist filtering as ListEntries. Used
// to rehydrate a client view after a batch fetch.
func (d *DB) ListEntriesForFeeds(ctx context.Context, urls []string, limit int) ([]models.Entry, error) {
	if len(urls) == 0 {
		return []models.Entry{}, nil
	}

	sb := d.entrySelect()
	sb.Where(sb.In("feed_url", sqlbuilder.List(urls)))

	if err := d.applyBlacklist(ctx, sb); err != nil {
		return nil, err
	}

	sb.OrderBy("published_parsed_tz").Desc()
	sb.Limit(limit)

	return d.queryEntries(ctx, sb)
}

func (d *DB) applyBlacklist(ctx context.Context, sb *sqlbuilder.SelectBuilder) error {
	blacklist, err := d.blacklistWords(ctx)
	if err != nil {
		return err
	}
	for _, word := range blacklist {
		sb.Where(sb.NotLike("title", "%"+word+"%"))
	}
	return nil
}

func (d *DB) entrySelect() *sqlbuilder.SelectBuilder {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(
		"id", "feed_url", "title", "link", "summary", "author",
		"published", "published_parsed_tz", "fetched_at",
	).From("entries")
	return sb
}

func (d *DB) queryEntries(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]models.Entry, error) {
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	entries := []models.Entry{}
	for rows.Next() {
		var entry models.Entry
		if err := rows.Scan(
			&entry.Id, &entry.FeedUrl, &entry.Title, &entry.Link, &entry.Summary,
			&entry.Author, &entry.Published, &entry.PublishedParsedTz, &entry.FetchedAt,
		); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (d *DB) blacklistWords(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT word FROM keywords WHERE type = ?", "blacklist")
	if err != nil {
		return nil, fmt.Errorf("query error: %w", err)
	}
	defer rows.Close()

	var words []string
	for rows.Next() {
		var word string
		if err := rows.Scan(&word); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if strings.TrimSpace(word) == "" {
			continue
		}
		words = append(words, word)
	}
	return words, rows.Err()
}

// Setting operations

func (d *DB) GetSetting(ctx context.Context, name string) (models.Setting, error) {
	var setting models.Setting
	err := d.db.QueryRowContext(ctx, "SELECT name, value FROM settings WHERE name = ?", name).
		Scan(&setting.Name, &setting.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Setting{}, ErrNotFound
	}
	if err != nil {
		return models.Setting{}, fmt.Errorf("query error: %w", err)
	}
	return setting, nil
}

func (d *DB) SaveSetting(ctx context.Context, name string, value string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := d.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO settings (name, value) VALUES (?, ?)", name, value)
	if err != nil {
		return fmt.Errorf("insert error: %w", err)
	}

	log.WithFields(log.Fields{
		"name":  name,
		"value": value,
	}).Info("Saved setting")

	return nil
}
