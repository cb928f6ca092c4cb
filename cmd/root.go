package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedhub",
		Usage: "An RSS/Atom aggregation service with live websocket subscribers",
		Description: `Feedhub ingests the registered RSS and Atom feeds on a schedule,
		deduplicates and stores new entries in an SQLite database and pushes
		live updates to every connected websocket subscriber. Subscribers
		manage feeds, keywords and settings over the same duplex channel.

		Flags can generally be set via environment variables, e.g.:

		--database => FEEDHUB_DATABASE=feeds.db
		--port => FEEDHUB_PORT=8000
		`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			subscribeCmd(),
			addFeedCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
