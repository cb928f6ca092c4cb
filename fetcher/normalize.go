package fetcher

import (
	"encoding/json"
	"net/mail"
	"time"

	"feedhub/models"

	"github.com/mmcdole/gofeed"
	"github.com/samber/lo"
)

// Normalize maps one parsed feed item to a canonical Entry. Field extraction
// never fails the entry, a missing field defaults to the zero value and an
// unparseable timestamp leaves published_parsed_tz nil.
func Normalize(item *gofeed.Item, feedUrl string, now time.Time) models.Entry {
	entry := models.Entry{
		Id:        entryId(item),
		FeedUrl:   feedUrl,
		Title:     item.Title,
		Link:      item.Link,
		Summary:   item.Description,
		Published: item.Published,
		FetchedAt: now.UTC().Format(time.RFC3339),
	}

	if item.Author != nil {
		entry.Author = item.Author.Name
	}

	if parsed := publishedUTC(item); parsed != nil {
		formatted := parsed.Format(time.RFC3339)
		entry.PublishedParsedTz = &formatted
	}

	// Structured upstream fields are carried as opaque JSON blobs, the
	// service only passes them through for display.
	entry.Tags = opaqueJson(item.Categories)
	entry.Links = opaqueJson(item.Links)
	if len(item.Authors) > 0 {
		names := lo.Map(item.Authors, func(person *gofeed.Person, _ int) string {
			return person.Name
		})
		entry.Authors = opaqueJson(names)
	}
	if item.Content != "" {
		entry.Content = opaqueJson(item.Content)
	}

	entry.GuidIsLink = item.GUID != "" && item.GUID == item.Link

	return entry
}

// entryId derives the stable identity: upstream id/guid first, the link as
// fallback. gofeed folds both the RSS guid and the Atom id into GUID.
func entryId(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

// publishedUTC returns the upstream publication instant in UTC. Prefers the
// timestamp gofeed already parsed, falls back to RFC 2822 parsing of the raw
// published string.
func publishedUTC(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		utc := item.PublishedParsed.UTC()
		return &utc
	}
	if item.Published == "" {
		return nil
	}
	parsed, err := mail.ParseDate(item.Published)
	if err != nil {
		return nil
	}
	utc := parsed.UTC()
	return &utc
}

func opaqueJson(value any) *string {
	switch v := value.(type) {
	case []string:
		if len(v) == 0 {
			return nil
		}
	}
	data, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	encoded := string(data)
	return &encoded
}
