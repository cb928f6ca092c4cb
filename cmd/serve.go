package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"feedhub/config"
	"feedhub/db"
	"feedhub/fetcher"
	"feedhub/scheduler"
	"feedhub/server"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the feedhub service",
		Description: `Starts the feedhub HTTP server and the background refresh scheduler.

Subscribers connect over the /ws websocket endpoint to query and mutate
feeds, keywords, entries and settings and to receive live update events.
Registered feeds are fetched on the configured refresh_rate cadence and new
entries are broadcast to every subscriber.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a TOML configuration file",
				EnvVars: []string{"FEEDHUB_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "database",
				Usage:   "SQLite database file",
				EnvVars: []string{"FEEDHUB_DATABASE"},
			},
			&cli.IntFlag{
				Name:    "port",
				Usage:   "Port to listen on",
				EnvVars: []string{"FEEDHUB_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := resolveConfig(ctx)
			if err != nil {
				return err
			}

			if err := db.Migrate(cfg.Database); err != nil {
				return fmt.Errorf("running migrations: %w", err)
			}

			database, err := db.NewDB(cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close()

			broadcaster := server.NewBroadcaster()
			feedFetcher := fetcher.New(database, broadcaster)
			sched := scheduler.New(scheduler.Config{
				Refresher:    feedFetcher,
				Notifier:     broadcaster,
				StartupDelay: 10 * time.Second,
			})

			// Pick up the persisted refresh rate, absent means disabled
			if setting, err := database.GetSetting(ctx.Context, "refresh_rate"); err == nil {
				if minutes, err := strconv.Atoi(setting.Value); err == nil {
					sched.SetRefreshRate(minutes)
				}
			}

			router := server.NewRouter(database, feedFetcher, sched, broadcaster)
			app := server.Server(&server.ServerConfig{
				Broadcaster: broadcaster,
				Router:      router,
			})

			runCtx, cancel := context.WithCancel(ctx.Context)
			defer cancel()
			go sched.Run(runCtx)

			// Graceful shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-quit
				log.Info("Gracefully shutting down...")
				cancel()
				broadcaster.Shutdown()
				if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
					log.WithFields(log.Fields{"error": err}).Error("Error shutting down server")
				}
			}()

			log.WithFields(log.Fields{
				"port":     cfg.Port,
				"database": cfg.Database,
			}).Info("Starting feedhub")

			if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
				return fmt.Errorf("server error: %w", err)
			}

			log.Info("Done!")
			return nil
		},
	}
}

// resolveConfig layers the optional TOML file under the flag and
// environment overrides
func resolveConfig(ctx *cli.Context) (*config.TomlConfig, error) {
	cfg := config.Default()

	if path := ctx.String("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if database := ctx.String("database"); database != "" {
		cfg.Database = database
	}
	if port := ctx.Int("port"); port != 0 {
		cfg.Port = port
	}

	return cfg, nil
}
