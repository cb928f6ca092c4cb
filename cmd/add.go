package cmd

import (
	"errors"
	"fmt"

	"feedhub/db"
	"feedhub/fetcher"
	"feedhub/models"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"
)

// noopNotifier satisfies the fetcher's notifier without a running server
type noopNotifier struct{}

func (noopNotifier) Broadcast(models.Envelope) {}

func addFeedCmd() *cli.Command {
	return &cli.Command{
		Name:  "add-feed",
		Usage: "Validate and register a feed URL directly in the database",
		Description: `Prompts for a feed URL, checks that it is reachable and parses into
at least one entry, and registers it. Useful to seed a database before
starting the service.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Usage:   "SQLite database file",
				EnvVars: []string{"FEEDHUB_DATABASE"},
				Value:   "feeds.db",
			},
		},
		Action: func(ctx *cli.Context) error {
			url, err := prompt.New().Ask("Feed URL:").Input("https://example.com/feed")
			if err != nil {
				return err
			}

			if err := db.Migrate(ctx.String("database")); err != nil {
				return err
			}

			database, err := db.NewDB(ctx.String("database"))
			if err != nil {
				return err
			}
			defer database.Close()

			feedFetcher := fetcher.New(database, noopNotifier{})
			if err := feedFetcher.Validate(ctx.Context, url); err != nil {
				return fmt.Errorf("feed validation failed: %w", err)
			}

			if err := database.AddFeed(ctx.Context, url); err != nil {
				if errors.Is(err, db.ErrAlreadyExists) {
					fmt.Println("Feed already registered")
					return nil
				}
				return err
			}

			fmt.Println("Feed registered:", url)
			return nil
		},
	}
}
