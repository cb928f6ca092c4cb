package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"feedhub/db"
	"feedhub/fetcher"
	"feedhub/models"
	"feedhub/scheduler"

	log "github.com/sirupsen/logrus"
)

const defaultEntryLimit = 100

// Router dispatches inbound subscriber requests by their type tag. Read
// requests reply to the caller only. Mutations broadcast their success event
// to every subscriber, including the caller, so all subscribers observe the
// same state transition.
type Router struct {
	db          *db.DB
	fetcher     *fetcher.Fetcher
	scheduler   *scheduler.Scheduler
	broadcaster *Broadcaster
}

func NewRouter(database *db.DB, f *fetcher.Fetcher, s *scheduler.Scheduler, b *Broadcaster) *Router {
	return &Router{
		db:          database,
		fetcher:     f,
		scheduler:   s,
		broadcaster: b,
	}
}

// Dispatch routes one request to its handler. Unknown tags get a typed error
// reply to the caller, never a broadcast.
func (r *Router) Dispatch(ctx context.Context, request models.Request, reply func(models.Envelope)) {
	switch request.Type {
	case "ping":
		reply(models.Envelope{Type: models.EventPong})
	case "get_feeds":
		r.handleGetFeeds(ctx, reply)
	case "get_keywords":
		r.handleGetKeywords(ctx, reply)
	case "get_entries":
		r.handleGetEntries(ctx, request, reply)
	case "add_feed":
		r.handleAddFeed(ctx, request, reply)
	case "delete_feed":
		r.handleDeleteFeed(ctx, request, reply)
	case "add_keyword":
		r.handleAddKeyword(ctx, request, reply)
	case "delete_keyword":
		r.handleDeleteKeyword(ctx, request, reply)
	case "fetch_feeds":
		r.handleFetchFeeds(reply)
	case "get_setting":
		r.handleGetSetting(ctx, request, reply)
	case "save_setting":
		r.handleSaveSetting(ctx, request, reply)
	default:
		reply(models.ErrorEnvelope(fmt.Sprintf("Unknown message type: %s", request.Type)))
	}
}

func (r *Router) handleGetFeeds(ctx context.Context, reply func(models.Envelope)) {
	feeds, err := r.db.GetFeeds(ctx)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Error listing feeds")
		reply(models.ErrorEnvelope("failed to list feeds"))
		return
	}
	reply(models.Envelope{Type: models.EventFeeds, Data: feeds})
}

func (r *Router) handleGetKeywords(ctx context.Context, reply func(models.Envelope)) {
	keywords, err := r.db.GetKeywords(ctx)
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Error listing keywords")
		reply(models.ErrorEnvelope("failed to list keywords"))
		return
	}
	reply(models.Envelope{Type: models.EventKeywords, Data: keywords})
}

func (r *Router) handleGetEntries(ctx context.Context, request models.Request, reply func(models.Envelope)) {
	limit := request.Limit
	if limit <= 0 {
		limit = defaultEntryLimit
	}

	// A urls list scopes the listing to those feeds, used by clients to
	// rehydrate their view after a fetch_complete event
	var entries []models.Entry
	var err error
	if len(request.Urls) > 0 {
		entries, err = r.db.ListEntriesForFeeds(ctx, request.Urls, limit)
	} else {
		entries, err = r.db.ListEntries(ctx, request.Keyword, limit)
	}
	if err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Error listing entries")
		reply(models.ErrorEnvelope("failed to list entries"))
		return
	}
	reply(models.Envelope{Type: models.EventEntries, Data: entries})
}

func (r *Router) handleAddFeed(ctx context.Context, request models.Request, reply func(models.Envelope)) {
	if request.Url == "" {
		reply(models.ErrorEnvelope("url is required"))
		return
	}

	if err := r.fetcher.Validate(ctx, request.Url); err != nil {
		switch {
		case errors.Is(err, fetcher.ErrUnreachable):
			reply(models.ErrorEnvelope("The provided URL is not reachable."))
		default:
			reply(models.ErrorEnvelope("The provided URL does not appear to be a valid RSS/Atom feed."))
		}
		return
	}

	if err := r.db.AddFeed(ctx, request.Url); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			reply(models.ErrorEnvelope("Feed already exists"))
			return
		}
		log.WithFields(log.Fields{"url": request.Url, "error": err}).Error("Error adding feed")
		reply(models.ErrorEnvelope("failed to add feed"))
		return
	}

	r.broadcaster.Broadcast(models.Envelope{
		Type: models.EventFeedAddedSuccess,
		Data: models.Feed{Url: request.Url},
	})
}

func (r *Router) handleDeleteFeed(ctx context.Context, request models.Request, reply func(models.Envelope)) {
	if request.Url == "" {
		reply(models.ErrorEnvelope("url is required"))
		return
	}

	if err := r.db.DeleteFeed(ctx, request.Url); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			reply(models.ErrorEnvelope("Feed not found"))
			return
		}
		log.WithFields(log.Fields{"url": request.Url, "error": err}).Error("Error deleting feed")
		reply(models.ErrorEnvelope("failed to delete feed"))
		return
	}

	r.broadcaster.Broadcast(models.Envelope{
		Type: models.EventFeedDeletedSuccess,
		Data: models.Feed{Url: request.Url},
	})
}

func (r *Router) handleAddKeyword(ctx context.Context, request models.Request, reply func(models.Envelope)) {
	if request.Word == "" || request.KeywordType == "" {
		reply(models.ErrorEnvelope("word and keyword_type are required"))
		return
	}
	if request.KeywordType != "whitelist" && request.KeywordType != "blacklist" {
		reply(models.ErrorEnvelope("keyword_type must be whitelist or blacklist"))
		return
	}

	if err := r.db.AddKeyword(ctx, request.Word, request.KeywordType); err != nil {
		if errors.Is(err, db.ErrAlreadyExists) {
			reply(models.ErrorEnvelope("Keyword already exists"))
			return
		}
		log.WithFields(log.Fields{"word": request.Word, "error": err}).Error("Error adding keyword")
		reply(models.ErrorEnvelope("failed to add keyword"))
		return
	}

	r.broadcaster.Broadcast(models.Envelope{
		Type: models.EventKeywordAddedSuccess,
		Data: models.Keyword{Word: request.Word, Type: request.KeywordType},
	})
}

func (r *Router) handleDeleteKeyword(ctx context.Context, request models.Request, reply func(models.Envelope)) {
	if request.Word == "" || request.WordType == "" {
		reply(models.ErrorEnvelope("word and word_type are required"))
		return
	}

	if err := r.db.DeleteKeyword(ctx, request.Word); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			reply(models.ErrorEnvelope("Keyword not found"))
			return
		}
		log.WithFields(log.Fields{"word": request.Word, "error": err}).Error("Error deleting keyword")
		reply(models.ErrorEnvelope("failed to delete keyword"))
		return
	}

	r.broadcaster.Broadcast(models.Envelope{
		Type: models.EventKeywordDeletedSuccess,
		Data: models.Keyword{Word: request.Word, Type: request.WordType},
	})
}

func (r *Router) handleFetchFeeds(reply func(models.Envelope)) {
	if !r.scheduler.Trigger() {
		reply(models.ErrorEnvelope("A refresh just completed, try again shortly"))
		return
	}
	reply(models.Envelope{Type: models.EventFetchStarted})
}

func (r *Router) handleGetSetting(ctx context.Context, request models.Request, reply func(models.Envelope)) {
	if request.Name == "" {
		reply(models.ErrorEnvelope("setting name is required"))
		return
	}

	setting, err := r.db.GetSetting(ctx, request.Name)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			reply(models.ErrorEnvelope("Setting not found"))
			return
		}
		log.WithFields(log.Fields{"name": request.Name, "error": err}).Error("Error reading setting")
		reply(models.ErrorEnvelope("failed to read setting"))
		return
	}
	reply(models.Envelope{Type: models.EventSetting, Data: setting})
}

func (r *Router) handleSaveSetting(ctx context.Context, request models.Request, reply func(models.Envelope)) {
	// An empty value is allowed, it blanks the setting out
	if request.Name == "" {
		reply(models.ErrorEnvelope("setting name is required"))
		return
	}

	minutes := 0
	if request.Name == "refresh_rate" {
		parsed, err := strconv.Atoi(request.Value)
		if err != nil {
			reply(models.ErrorEnvelope("refresh_rate must be an integer"))
			return
		}
		minutes = parsed
	}

	if err := r.db.SaveSetting(ctx, request.Name, request.Value); err != nil {
		log.WithFields(log.Fields{"name": request.Name, "error": err}).Error("Error saving setting")
		reply(models.ErrorEnvelope("failed to save setting"))
		return
	}

	if request.Name == "refresh_rate" {
		r.scheduler.SetRefreshRate(minutes)
	}

	r.broadcaster.Broadcast(models.Envelope{
		Type: models.EventSettingSavedSuccess,
		Data: models.Setting{Name: request.Name, Value: request.Value},
	})
}
