package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func subscribeCmd() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Log all events from a running feedhub instance to the command line",
		Description: `Connect to the websocket endpoint of a running feedhub instance and
log every pushed event to the command line.

Can be used to collect entry updates by passing the output to a file or
another application.

Returns each event as a JSON object on a single line. Use a tool like jq to
process the output.

Prints all other log messages to stderr.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "Websocket URL of the feedhub instance",
				EnvVars: []string{"FEEDHUB_URL"},
				Value:   "ws://localhost:8000/ws",
			},
		},
		Action: func(ctx *cli.Context) error {
			// Keep stdout clean for the event stream
			log.SetOutput(os.Stderr)

			url := ctx.String("url")

			// Reconnect with exponential backoff, never give up
			bo := backoff.NewExponentialBackOff()
			bo.InitialInterval = 100 * time.Millisecond
			bo.MaxInterval = 30 * time.Second
			bo.MaxElapsedTime = 0

			operation := func() error {
				if err := streamEvents(ctx, url); err != nil {
					log.WithFields(log.Fields{
						"url":   url,
						"error": err,
					}).Warn("Subscription interrupted, reconnecting")
					return err
				}
				return nil
			}

			return backoff.Retry(operation, backoff.WithContext(bo, ctx.Context))
		},
	}
}

func streamEvents(ctx *cli.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx.Context, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	log.WithFields(log.Fields{
		"url": url,
	}).Info("Subscribed to feedhub")

	for {
		select {
		case <-ctx.Context.Done():
			return backoff.Permanent(ctx.Context.Err())
		default:
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			// Print as single JSON string on a single line
			fmt.Println(string(data))
		}
	}
}
