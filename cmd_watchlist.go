package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/animedb/animedb-helper/internal/library"
	"github.com/animedb/animedb-helper/internal/remote"
)

func newWatchlistCommand() *cli.Command {
	sourceFlag := &cli.StringFlag{
		Name:     "source",
		Aliases:  []string{"s"},
		Usage:    "service owning the anime ID (anilist, mal, trakt)",
		Required: true,
	}

	return &cli.Command{
		Name:  "watchlist",
		Usage: "Manage the local want-to-watch list",
		Commands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "List watchlist items",
				Action: runWatchlistShow,
			},
			{
				Name:      "toggle",
				Usage:     "Add an anime to the watchlist, or remove it if already present",
				Flags:     []cli.Flag{sourceFlag},
				ArgsUsage: "<anime-id>",
				Action:    runWatchlistToggle,
			},
		},
	}
}

func runWatchlistShow(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	items := app.store.Watchlist()
	if len(items) == 0 {
		app.logger.Info("Watchlist is empty")
		return nil
	}

	for _, item := range items {
		title := item.Title
		if title == "" {
			title = item.ID
		}
		app.logger.Info("%-10s %-8s %s (added %s)",
			item.ID, item.Source, title, item.AddedAt.Format("2006-01-02"))
	}
	return nil
}

func runWatchlistToggle(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}
	source, err := sourceArg(cmd)
	if err != nil {
		return err
	}
	id, err := animeIDArg(cmd)
	if err != nil {
		return err
	}

	item := library.WatchlistItem{ID: id, Source: source}
	if svc, ok := app.registry.Get(source); ok {
		if media, err := svc.FetchDetails(ctx, id); err == nil {
			item.Title = media.DisplayTitle()
			item.Poster = media.Poster
			item.Banner = media.Banner
		} else if !errors.Is(err, remote.ErrNotFound) {
			app.logger.Debug("Details lookup for %s/%s failed: %v", source, id, err)
		}
	}
	if item.Title != "" {
		app.tmdb.Enrich(ctx, &item)
	}

	added := app.store.ToggleWatchlist(item)
	if added {
		app.logger.InfoSuccess("Added %s/%s to watchlist", source, id)
	} else {
		app.logger.InfoSuccess("Removed %s/%s from watchlist", source, id)
	}
	return nil
}

func newHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect the watch history log",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "List watch events, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum events to show", Value: 30},
				},
				Action: runHistoryShow,
			},
			{
				Name:  "prune",
				Usage: "Trim the history to the most recent events",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "keep", Usage: "events to keep", Value: 1000},
				},
				Action: runHistoryPrune,
			},
			{
				Name:   "clear",
				Usage:  "Delete all watch events",
				Action: runHistoryClear,
			},
		},
	}
}

func runHistoryShow(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	events := app.store.GetWatchHistory(int(cmd.Int("limit")))
	if len(events) == 0 {
		app.logger.Info("No watch history")
		return nil
	}

	for _, ev := range events {
		app.logger.Info("%s  %-8s %-10s episode %d",
			ev.WatchedAt.Format("2006-01-02 15:04"), ev.Source, ev.AnimeID, ev.Episode)
	}
	return nil
}

func runHistoryPrune(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	keep := int(cmd.Int("keep"))
	if keep <= 0 {
		return fmt.Errorf("--keep must be positive")
	}
	if app.store.PruneHistory(keep) {
		app.logger.InfoSuccess("History pruned to %d events", keep)
	} else {
		app.logger.Info("History already within %d events", keep)
	}
	return nil
}

func runHistoryClear(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	if !app.store.ClearHistory() {
		return fmt.Errorf("failed to clear history")
	}
	app.logger.InfoSuccess("History cleared")
	return nil
}
