package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/animedb/animedb-helper/internal/library"
)

func newLibraryCommand() *cli.Command {
	sourceFlag := &cli.StringFlag{
		Name:     "source",
		Aliases:  []string{"s"},
		Usage:    "service owning the anime ID (anilist, mal, trakt)",
		Required: true,
	}

	return &cli.Command{
		Name:  "library",
		Usage: "Inspect and modify the local library",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tracked entries",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "filter by status (PLANNING, WATCHING, COMPLETED, PAUSED, DROPPED, REPEATING)",
					},
				},
				Action: runLibraryList,
			},
			{
				Name:   "continue",
				Usage:  "Show entries with an unwatched next episode, most recent first",
				Action: runLibraryContinue,
			},
			{
				Name:   "recent",
				Usage:  "Show recently watched entries",
				Action: runLibraryRecent,
			},
			{
				Name:  "add",
				Usage: "Track an anime",
				Flags: []cli.Flag{
					sourceFlag,
					&cli.StringFlag{Name: "status", Usage: "initial status", Value: string(library.StatusPlanning)},
					&cli.IntFlag{Name: "episodes", Usage: "total episode count"},
					&cli.FloatFlag{Name: "score", Usage: "personal score"},
				},
				ArgsUsage: "<anime-id>",
				Action:    runLibraryAdd,
			},
			{
				Name:      "remove",
				Usage:     "Stop tracking an anime",
				Flags:     []cli.Flag{sourceFlag},
				ArgsUsage: "<anime-id>",
				Action:    runLibraryRemove,
			},
			{
				Name:  "watched",
				Usage: "Mark an episode as watched",
				Flags: []cli.Flag{
					sourceFlag,
					&cli.IntFlag{Name: "episode", Aliases: []string{"e"}, Usage: "episode number", Required: true},
					&cli.IntFlag{Name: "episodes", Usage: "total episode count, if known"},
				},
				ArgsUsage: "<anime-id>",
				Action:    runLibraryWatched,
			},
		},
	}
}

func sourceArg(cmd *cli.Command) (library.Source, error) {
	source := library.Source(strings.ToLower(cmd.String("source")))
	if !source.Valid() {
		return "", fmt.Errorf("invalid source %q (use: anilist, mal, trakt)", cmd.String("source"))
	}
	return source, nil
}

func animeIDArg(cmd *cli.Command) (string, error) {
	id := cmd.Args().First()
	if id == "" {
		return "", fmt.Errorf("anime ID argument is required")
	}
	return id, nil
}

func runLibraryList(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	status := library.Status(strings.ToUpper(cmd.String("status")))
	entries := app.store.List(status)
	if len(entries) == 0 {
		app.logger.Info("No tracked entries")
		return nil
	}

	for _, e := range entries {
		app.logger.Info("%-10s %-8s %-10s %5.1f%% (%d/%d episodes)",
			e.ID, e.Source, e.Status, e.Progress, len(e.WatchedEpisodes), e.TotalEpisodes)
	}
	return nil
}

func runLibraryContinue(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	items := app.store.GetContinueWatching(20)
	if len(items) == 0 {
		app.logger.Info("Nothing to continue")
		return nil
	}

	for _, item := range items {
		app.logger.Info("%-10s %-8s next episode %d (%.1f%% done, last watched %s)",
			item.Entry.ID, item.Entry.Source, item.NextEpisode,
			item.Entry.Progress, item.LastWatched.Format("2006-01-02"))
	}
	return nil
}

func runLibraryRecent(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	for _, e := range app.store.GetRecentlyWatched(20) {
		app.logger.Info("%-10s %-8s %-10s %5.1f%%", e.ID, e.Source, e.Status, e.Progress)
	}
	return nil
}

func runLibraryAdd(ctx context.Context, cmd *cli.Command) error {
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

	ok := app.store.AddOrUpdate(id, source, library.Upsert{
		Status:        library.Status(strings.ToUpper(cmd.String("status"))),
		TotalEpisodes: int(cmd.Int("episodes")),
		Score:         cmd.Float("score"),
	})
	if !ok {
		return fmt.Errorf("failed to save entry %s/%s", source, id)
	}
	app.logger.InfoSuccess("Tracking %s/%s", source, id)
	return nil
}

func runLibraryRemove(ctx context.Context, cmd *cli.Command) error {
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

	if !app.store.Remove(id, source) {
		return fmt.Errorf("%s/%s is not tracked", source, id)
	}
	app.logger.InfoSuccess("Removed %s/%s", source, id)
	return nil
}

func runLibraryWatched(ctx context.Context, cmd *cli.Command) error {
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

	episode := int(cmd.Int("episode"))
	if !app.store.MarkEpisodeWatched(id, source, episode, int(cmd.Int("episodes"))) {
		return fmt.Errorf("failed to mark %s/%s episode %d", source, id, episode)
	}

	entry := app.store.GetStatus(id, source)
	app.logger.InfoSuccess("Marked %s/%s episode %d watched (%.1f%%, %s)",
		source, id, episode, entry.Progress, entry.Status)
	return nil
}
