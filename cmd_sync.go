package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/animedb/animedb-helper/internal/library"
	"github.com/animedb/animedb-helper/internal/syncer"
)

func newSyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize the local library with the remote services",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "watchlist",
				Usage: "sync only the watchlist stage",
			},
			&cli.BoolFlag{
				Name:  "history",
				Usage: "sync only the watch history stage",
			},
			&cli.BoolFlag{
				Name:  "ratings",
				Usage: "sync only the ratings stage",
			},
			&cli.StringFlag{
				Name:  "anime",
				Usage: "restrict the history stage to one anime ID",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "service owning the --anime ID (anilist, mal, trakt)",
			},
			&cli.IntFlag{
				Name:  "episode",
				Usage: "restrict the history stage to one episode of --anime",
			},
		},
		Action: runSync,
	}
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	opts := syncOptions(cmd, app)
	if opts.HistoryFilter != nil && !opts.HistoryFilter.Source.Valid() {
		return fmt.Errorf("--anime requires a valid --source (anilist, mal, trakt)")
	}

	engine := syncer.New(app.store, app.registry, opts)

	cancel := syncer.NewCancelToken()
	go func() {
		<-ctx.Done()
		cancel.Cancel()
	}()

	start := time.Now()
	res := engine.SyncAll(ctx, func(message string, percent int) {
		app.logger.Progress(percent, message)
	}, cancel)

	switch {
	case res.Err != nil:
		return res.Err
	case res.Cancelled:
		app.logger.Warn("%s", res.Message)
		return nil
	}

	printStage(app, "Watchlist", res.Watchlist)
	printStage(app, "History", res.History)
	printStage(app, "Ratings", res.Ratings)
	app.logger.InfoSuccess("Sync finished in %v", time.Since(start).Round(time.Millisecond))

	return nil
}

// syncOptions derives the stage selection: explicit stage flags narrow the
// run, otherwise the config defaults apply.
func syncOptions(cmd *cli.Command, app *App) syncer.Options {
	opts := syncer.Options{
		Watchlist: cmd.Bool("watchlist"),
		History:   cmd.Bool("history"),
		Ratings:   cmd.Bool("ratings"),
	}
	if !opts.Watchlist && !opts.History && !opts.Ratings {
		opts.Watchlist = *app.config.Sync.Watchlist
		opts.History = *app.config.Sync.History
		opts.Ratings = *app.config.Sync.Ratings
	}

	if animeID := cmd.String("anime"); animeID != "" {
		opts.History = true
		opts.Watchlist = false
		opts.Ratings = false
		opts.HistoryFilter = &syncer.HistoryFilter{
			AnimeID: animeID,
			Source:  library.Source(strings.ToLower(cmd.String("source"))),
			Episode: int(cmd.Int("episode")),
		}
	}

	return opts
}

func printStage(app *App, name string, sr *syncer.StageResult) {
	if sr == nil {
		return
	}

	processed, synced := sr.Totals()
	app.logger.Info("%-10s %d processed, %d synced", name+":", processed, synced)
	for _, e := range sr.Errors() {
		app.logger.Warn("  %s", e)
	}
}
