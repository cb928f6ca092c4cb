package models

// Feed is a subscribed feed URL
type Feed struct {
	Url string `json:"url"`
}

// Keyword is a stored filter word, type is either "whitelist" or "blacklist"
type Keyword struct {
	Word string `json:"word"`
	Type string `json:"type"`
}

// Setting is an operational parameter stored as a name/value pair
type Setting struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Entry is one canonical, deduplicated feed item. The Id is derived from the
// upstream id/guid with the entry link as fallback and is the primary key.
// Structured upstream fields (tags, authors, links, content) are kept as
// opaque JSON strings for downstream display.
type Entry struct {
	Id                string  `json:"id"`
	FeedUrl           string  `json:"feed_url"`
	Title             string  `json:"title"`
	Link              string  `json:"link"`
	Summary           string  `json:"summary"`
	Author            string  `json:"author"`
	Published         string  `json:"published"`
	PublishedParsedTz *string `json:"published_parsed_tz"`
	Tags              *string `json:"tags,omitempty"`
	Authors           *string `json:"authors,omitempty"`
	Links             *string `json:"links,omitempty"`
	Content           *string `json:"content,omitempty"`
	GuidIsLink        bool    `json:"guidislink,omitempty"`
	FetchedAt         string  `json:"fetched_at"`
}

// Request is an inbound subscriber message. Type is the dispatch tag, the
// remaining fields are type specific and zero valued when absent.
type Request struct {
	Type        string   `json:"type"`
	Url         string   `json:"url,omitempty"`
	Urls        []string `json:"urls,omitempty"`
	Word        string   `json:"word,omitempty"`
	KeywordType string   `json:"keyword_type,omitempty"`
	WordType    string   `json:"word_type,omitempty"`
	Keyword     string   `json:"keyword,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Name        string   `json:"name,omitempty"`
	Value       string   `json:"value,omitempty"`
}

// Envelope is an outbound message, both direct replies and broadcasts.
// Type is always set, the other fields only for the event types that
// carry them.
type Envelope struct {
	Type       string `json:"type"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message,omitempty"`
	NewEntries *int   `json:"new_entries,omitempty"`
	Remaining  *int   `json:"remaining,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// Event type tags pushed to subscribers
const (
	EventPong                  = "pong"
	EventFeeds                 = "feeds"
	EventKeywords              = "keywords"
	EventEntries               = "entries"
	EventSetting               = "setting"
	EventFeedAddedSuccess      = "feed_added_success"
	EventFeedDeletedSuccess    = "feed_deleted_success"
	EventKeywordAddedSuccess   = "keyword_added_success"
	EventKeywordDeletedSuccess = "keyword_deleted_success"
	EventSettingSavedSuccess   = "setting_saved_success"
	EventFetchStarted          = "fetch_started"
	EventFetchComplete         = "fetch_complete"
	EventNewEntries            = "new_entries"
	EventCountdown             = "countdown"
	EventError                 = "error"
)

// ErrorEnvelope builds an error event with the given message
func ErrorEnvelope(message string) Envelope {
	return Envelope{Type: EventError, Message: message}
}
