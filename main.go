package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mbaylor/intelboard/internal/client"
	"github.com/mbaylor/intelboard/internal/config"
	"github.com/mbaylor/intelboard/internal/database"
	"github.com/mbaylor/intelboard/internal/favorites"
	"github.com/mbaylor/intelboard/internal/feed"
	"github.com/mbaylor/intelboard/internal/model"
	"github.com/mbaylor/intelboard/internal/opml"
	"github.com/mbaylor/intelboard/internal/relay"
	"github.com/mbaylor/intelboard/internal/search"
	"github.com/mbaylor/intelboard/internal/server"
	"github.com/mbaylor/intelboard/internal/sources"
	"github.com/urfave/cli/v2"
)

// Version is set at build time.
var Version = "dev"

func main() {
	app := &cli.App{
		Name:    "intelboard",
		Usage:   "Self-hosted live intelligence feed dashboard",
		Version: Version,
		Commands: []*cli.Command{
			serveCmd(),
			relayCmd(),
			exportCmd(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// serveCmd runs the dashboard: stream client, favorites store, and the
// local web UI.
func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the dashboard against a backend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen", Aliases: []string{"l"}, Usage: "Override the dashboard bind address"},
			&cli.StringFlag{Name: "backend", Aliases: []string{"b"}, Usage: "Override the backend base URL"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if v := c.String("listen"); v != "" {
				cfg.Listen = v
			}
			if v := c.String("backend"); v != "" {
				cfg.BackendURL = v
			}

			if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
			db, err := database.New(filepath.Join(cfg.DataDir, "intelboard.db"))
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			api := client.New(cfg.BackendURL)
			if cfg.Token != "" {
				api.SetToken(cfg.Token)
			}
			api.OnUnauthorized = func(status int) {
				log.Printf("Backend rejected credentials (HTTP %d); favorites will stay local", status)
			}

			favs := favorites.NewStore(db, cfg.Username)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := favs.Load(ctx, api); err != nil {
				log.Printf("Favorite reconciliation skipped: %v", err)
			}
			cancel()

			ctrl := feed.NewController(feed.Options{
				StreamURL: api.StreamURL(),
				Token:     cfg.Token,
				Favorites: favs,
				API:       api,
			})
			overlay := search.NewOverlay(api, favs)
			registry := sources.NewRegistry()

			srv, err := server.New(api, ctrl, overlay, registry)
			if err != nil {
				return err
			}

			shutdownOnSignal(srv.Stop)
			return srv.Start(cfg.Listen)
		},
	}
}

// relayCmd runs the development backend: an RSS-fed intel store with the
// same REST and stream surface the dashboard expects.
func relayCmd() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Run a development backend fed from RSS sources",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "opml", Usage: "OPML file listing RSS sources"},
			&cli.StringFlag{Name: "listen", Usage: "Override the relay bind address"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if v := c.String("opml"); v != "" {
				cfg.RelayOPML = v
			}
			if v := c.String("listen"); v != "" {
				cfg.RelayListen = v
			}
			if cfg.RelayOPML == "" {
				return fmt.Errorf("no OPML source list (set --opml or INTELBOARD_RELAY_OPML)")
			}

			f, err := os.Open(cfg.RelayOPML)
			if err != nil {
				return fmt.Errorf("open OPML: %w", err)
			}
			srcs, err := opml.Parse(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("parse OPML: %w", err)
			}
			if len(srcs) == 0 {
				return fmt.Errorf("OPML file %s lists no feeds", cfg.RelayOPML)
			}

			rl := relay.New()
			poller := relay.NewPoller(rl, srcs, time.Duration(cfg.RelayIntervalMinutes)*time.Minute)
			poller.Start()
			shutdownOnSignal(poller.Stop)

			log.Printf("Relay listening on %s (%d feeds)", cfg.RelayListen, len(srcs))
			return http.ListenAndServe(cfg.RelayListen, rl.Handler())
		},
	}
}

// exportCmd fetches a document export from the backend and writes it to
// a local file.
func exportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export matching intel to a document",
		ArgsUsage: "<output-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "query", Aliases: []string{"q"}, Usage: "Search term"},
			&cli.StringFlag{Name: "range", Value: "all", Usage: "Time range (all, 3h, 6h, 12h)"},
		},
		Action: func(c *cli.Context) error {
			out := c.Args().First()
			if out == "" {
				return fmt.Errorf("output file required")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			api := client.New(cfg.BackendURL)
			if cfg.Token != "" {
				api.SetToken(cfg.Token)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			data, err := api.Export(ctx, client.ExportRequest{
				Query: c.String("query"),
				Range: parseRange(c.String("range")),
			})
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			log.Printf("Wrote %d bytes to %s", len(data), out)
			return nil
		},
	}
}

func parseRange(s string) model.TimeRange {
	switch model.TimeRange(s) {
	case model.Range3h, model.Range6h, model.Range12h:
		return model.TimeRange(s)
	default:
		return model.RangeAll
	}
}

func shutdownOnSignal(stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		stop()
		os.Exit(0)
	}()
}
