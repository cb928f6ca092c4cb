package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"feedhub/db"
	"feedhub/models"

	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

var (
	fetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedhub_fetch_attempts_total",
		Help: "The total number of per-feed fetch attempts",
	})

	fetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedhub_fetch_errors_total",
		Help: "The total number of per-feed fetch failures",
	})

	entriesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedhub_entries_stored_total",
		Help: "The total number of new entries written to the store",
	})

	entryWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedhub_entry_write_failures_total",
		Help: "The total number of entries dropped due to store write failures",
	})
)

const (
	fetchTimeout = 30 * time.Second
	probeTimeout = 10 * time.Second
	userAgent    = "feedhub/1.0"
)

// Validation errors for add-feed requests
var (
	ErrUnreachable = errors.New("feed unreachable")
	ErrInvalidFeed = errors.New("invalid feed")
)

// Notifier fans an event out to every connected subscriber
type Notifier interface {
	Broadcast(envelope models.Envelope)
}

// Result of one fetch batch. NewEntries holds only the entries that were
// actually inserted, for broadcast payloads.
type Result struct {
	NewCount   int
	NewEntries []models.Entry
}

// Fetcher fetches registered feeds concurrently, normalizes their items and
// persists new entries
type Fetcher struct {
	db       *db.DB
	notifier Notifier
	client   *http.Client
}

func New(database *db.DB, notifier Notifier) *Fetcher {
	return &Fetcher{
		db:       database,
		notifier: notifier,
		client: &http.Client{
			Timeout: fetchTimeout,
		},
	}
}

// FetchAll fetches every URL concurrently and joins before returning. A
// failing feed is logged and excluded from the result, it never cancels the
// sibling fetches.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) Result {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		result Result
	)

	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			newEntries, err := f.fetchFeed(ctx, url)
			if err != nil {
				fetchErrors.Inc()
				log.WithFields(log.Fields{
					"feed":  url,
					"error": err,
				}).Warn("Error fetching feed")
				return
			}

			mu.Lock()
			result.NewCount += len(newEntries)
			result.NewEntries = append(result.NewEntries, newEntries...)
			mu.Unlock()
		}(url)
	}

	wg.Wait()
	return result
}

// Refresh runs one fetch batch over all registered feeds and pushes the
// fetch_started, fetch_complete and new_entries events to subscribers.
func (f *Fetcher) Refresh(ctx context.Context) (int, error) {
	f.notifier.Broadcast(models.Envelope{
		Type:      models.EventFetchStarted,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	feeds, err := f.db.GetFeeds(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading feeds: %w", err)
	}
	urls := lo.Map(feeds, func(feed models.Feed, _ int) string {
		return feed.Url
	})

	result := f.FetchAll(ctx, urls)

	log.WithFields(log.Fields{
		"feeds": len(urls),
		"new":   result.NewCount,
	}).Info("Fetch batch complete")

	f.notifier.Broadcast(models.Envelope{
		Type:       models.EventFetchComplete,
		NewEntries: &result.NewCount,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	f.notifier.Broadcast(models.Envelope{
		Type: models.EventNewEntries,
		Data: result.NewEntries,
	})

	return result.NewCount, nil
}

// fetchFeed fetches and parses one feed and writes its new entries. A write
// failure drops that entry and continues with the next one.
func (f *Fetcher) fetchFeed(ctx context.Context, url string) ([]models.Entry, error) {
	fetchAttempts.Inc()

	feed, err := f.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	newEntries := []models.Entry{}
	for _, item := range feed.Items {
		entry := Normalize(item, url, now)
		isNew, err := f.db.InsertEntryIfNew(ctx, entry)
		if err != nil {
			entryWriteFailures.Inc()
			log.WithFields(log.Fields{
				"feed":  url,
				"entry": entry.Id,
				"error": err,
			}).Warn("Error saving entry")
			continue
		}
		if isNew {
			entriesStored.Inc()
			newEntries = append(newEntries, entry)
		}
	}

	return newEntries, nil
}

func (f *Fetcher) fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFeed, err)
	}
	return feed, nil
}

// Validate probes the URL for liveness and requires the content to parse
// into at least one entry before a feed is accepted.
func (f *Fetcher) Validate(ctx context.Context, url string) error {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrUnreachable, resp.StatusCode)
	}

	feed, err := f.fetch(ctx, url)
	if err != nil {
		return err
	}
	if len(feed.Items) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidFeed)
	}
	return nil
}
