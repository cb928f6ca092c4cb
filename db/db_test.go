package db_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"feedhub/db"
	"feedhub/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "feeds.db")
	require.NoError(t, db.Migrate(path))

	database, err := db.NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

func testEntry(id string, feedUrl string, title string, publishedTz *string) models.Entry {
	return models.Entry{
		Id:                id,
		FeedUrl:           feedUrl,
		Title:             title,
		Link:              "https://example.com/" + id,
		PublishedParsedTz: publishedTz,
		FetchedAt:         "2025-01-01T00:00:00Z",
	}
}

func tz(value string) *string {
	return &value
}

func TestInsertEntryIfNewIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	entry := testEntry("entry-1", "https://example.com/feed", "First", tz("2025-01-01T10:00:00Z"))

	isNew, err := database.InsertEntryIfNew(ctx, entry)
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = database.InsertEntryIfNew(ctx, entry)
	require.NoError(t, err)
	assert.False(t, isNew)

	entries, err := database.ListEntries(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestInsertEntryIfNewConcurrent(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	entry := testEntry("entry-race", "https://example.com/feed", "Race", tz("2025-01-01T10:00:00Z"))

	var wg sync.WaitGroup
	var newCount atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			isNew, err := database.InsertEntryIfNew(ctx, entry)
			assert.NoError(t, err)
			if isNew {
				newCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), newCount.Load())

	entries, err := database.ListEntries(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestListEntriesOrdering(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	// Inserted out of order, one entry without a parseable timestamp
	entries := []models.Entry{
		testEntry("old", "https://example.com/feed", "Old", tz("2025-01-01T10:00:00Z")),
		testEntry("unparsed", "https://example.com/feed", "Unparsed", nil),
		testEntry("new", "https://example.com/feed", "New", tz("2025-01-02T10:00:00Z")),
	}
	for _, entry := range entries {
		_, err := database.InsertEntryIfNew(ctx, entry)
		require.NoError(t, err)
	}

	listed, err := database.ListEntries(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, listed, 3)

	assert.Equal(t, "new", listed[0].Id)
	assert.Equal(t, "old", listed[1].Id)
	// Entries without a timestamp sort last
	assert.Equal(t, "unparsed", listed[2].Id)
	assert.Nil(t, listed[2].PublishedParsedTz)
}

func TestListEntriesKeywordFilter(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, err := database.InsertEntryIfNew(ctx, testEntry("a", "https://example.com/feed", "Fantasy Football Rankings", tz("2025-01-01T10:00:00Z")))
	require.NoError(t, err)
	_, err = database.InsertEntryIfNew(ctx, testEntry("b", "https://example.com/feed", "Baseball News", tz("2025-01-01T11:00:00Z")))
	require.NoError(t, err)

	// Case-insensitive substring match on the title
	listed, err := database.ListEntries(ctx, "football", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "a", listed[0].Id)
}

func TestListEntriesAppliesBlacklist(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.AddKeyword(ctx, "injury", "blacklist"))
	require.NoError(t, database.AddKeyword(ctx, "football", "whitelist"))

	_, err := database.InsertEntryIfNew(ctx, testEntry("kept", "https://example.com/feed", "Football rankings", tz("2025-01-01T10:00:00Z")))
	require.NoError(t, err)
	_, err = database.InsertEntryIfNew(ctx, testEntry("dropped", "https://example.com/feed", "Injury report week 5", tz("2025-01-01T11:00:00Z")))
	require.NoError(t, err)

	listed, err := database.ListEntries(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "kept", listed[0].Id)
}

func TestListEntriesLimit(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	timestamps := []string{
		"2025-01-01T10:00:00Z",
		"2025-01-02T10:00:00Z",
		"2025-01-03T10:00:00Z",
	}
	for i, ts := range timestamps {
		_, err := database.InsertEntryIfNew(ctx, testEntry(string(rune('a'+i)), "https://example.com/feed", "Entry", tz(ts)))
		require.NoError(t, err)
	}

	listed, err := database.ListEntries(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
	assert.Equal(t, "c", listed[0].Id)
}

func TestListEntriesForFeeds(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, err := database.InsertEntryIfNew(ctx, testEntry("a", "https://one.example.com/feed", "One", tz("2025-01-01T10:00:00Z")))
	require.NoError(t, err)
	_, err = database.InsertEntryIfNew(ctx, testEntry("b", "https://two.example.com/feed", "Two", tz("2025-01-02T10:00:00Z")))
	require.NoError(t, err)
	_, err = database.InsertEntryIfNew(ctx, testEntry("c", "https://three.example.com/feed", "Three", tz("2025-01-03T10:00:00Z")))
	require.NoError(t, err)

	listed, err := database.ListEntriesForFeeds(ctx, []string{"https://one.example.com/feed", "https://two.example.com/feed"}, 100)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "b", listed[0].Id)
	assert.Equal(t, "a", listed[1].Id)

	limited, err := database.ListEntriesForFeeds(ctx, []string{"https://one.example.com/feed", "https://two.example.com/feed"}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "b", limited[0].Id)

	empty, err := database.ListEntriesForFeeds(ctx, nil, 100)
	require.NoError(t, err)
	assert.Empty(t, empty)

	// Blacklist filtering applies to the scoped listing too
	require.NoError(t, database.AddKeyword(ctx, "Two", "blacklist"))
	filtered, err := database.ListEntriesForFeeds(ctx, []string{"https://one.example.com/feed", "https://two.example.com/feed"}, 100)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "a", filtered[0].Id)
}

func TestFeedCRUD(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.AddFeed(ctx, "https://example.com/feed"))

	err := database.AddFeed(ctx, "https://example.com/feed")
	assert.ErrorIs(t, err, db.ErrAlreadyExists)

	feeds, err := database.GetFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "https://example.com/feed", feeds[0].Url)

	require.NoError(t, database.DeleteFeed(ctx, "https://example.com/feed"))
	assert.ErrorIs(t, database.DeleteFeed(ctx, "https://example.com/feed"), db.ErrNotFound)

	feeds, err = database.GetFeeds(ctx)
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestDeleteFeedKeepsEntries(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.AddFeed(ctx, "https://example.com/feed"))
	_, err := database.InsertEntryIfNew(ctx, testEntry("a", "https://example.com/feed", "Kept", tz("2025-01-01T10:00:00Z")))
	require.NoError(t, err)

	require.NoError(t, database.DeleteFeed(ctx, "https://example.com/feed"))

	entries, err := database.ListEntries(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestKeywordCRUD(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, database.AddKeyword(ctx, "football", "whitelist"))
	assert.ErrorIs(t, database.AddKeyword(ctx, "football", "blacklist"), db.ErrAlreadyExists)

	keywords, err := database.GetKeywords(ctx)
	require.NoError(t, err)
	require.Len(t, keywords, 1)
	assert.Equal(t, models.Keyword{Word: "football", Type: "whitelist"}, keywords[0])

	require.NoError(t, database.DeleteKeyword(ctx, "football"))
	assert.ErrorIs(t, database.DeleteKeyword(ctx, "football"), db.ErrNotFound)
}

func TestSettings(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	_, err := database.GetSetting(ctx, "refresh_rate")
	assert.ErrorIs(t, err, db.ErrNotFound)

	require.NoError(t, database.SaveSetting(ctx, "refresh_rate", "5"))

	setting, err := database.GetSetting(ctx, "refresh_rate")
	require.NoError(t, err)
	assert.Equal(t, models.Setting{Name: "refresh_rate", Value: "5"}, setting)

	// Save is an upsert
	require.NoError(t, database.SaveSetting(ctx, "refresh_rate", "0"))
	setting, err = database.GetSetting(ctx, "refresh_rate")
	require.NoError(t, err)
	assert.Equal(t, "0", setting.Value)
}
