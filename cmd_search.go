package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/animedb/animedb-helper/internal/library"
	"github.com/animedb/animedb-helper/internal/remote"
)

func newSearchCommand() *cli.Command {
	return &cli.Command{
		Name:  "search",
		Usage: "Search the remote services for a title",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "source",
				Aliases: []string{"s"},
				Usage:   "search one service only (anilist, mal, trakt)",
			},
		},
		ArgsUsage: "<query>",
		Action:    runSearch,
	}
}

func runSearch(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	query := strings.Join(cmd.Args().Slice(), " ")
	if query == "" {
		return fmt.Errorf("search query argument is required")
	}

	var services []remote.Service
	if name := cmd.String("source"); name != "" {
		source := library.Source(strings.ToLower(name))
		svc, ok := app.registry.Get(source)
		if !ok {
			return fmt.Errorf("service %q is not configured", name)
		}
		services = []remote.Service{svc}
	} else {
		services = app.registry.Enabled()
		if len(services) == 0 {
			return fmt.Errorf("no services configured, run login first")
		}
	}

	for _, svc := range services {
		results, err := svc.Search(ctx, query)
		if err != nil {
			app.logger.Warn("%s search failed: %v", svc.Name(), err)
			continue
		}

		app.logger.Stage("%s (%d results)", svc.Name(), len(results))
		for _, media := range results {
			printMedia(app, media)
		}
	}
	return nil
}

func printMedia(app *App, media remote.Media) {
	details := make([]string, 0, 3)
	if media.Year > 0 {
		details = append(details, fmt.Sprintf("%d", media.Year))
	}
	if media.Episodes > 0 {
		details = append(details, fmt.Sprintf("%d episodes", media.Episodes))
	}
	if media.Score > 0 {
		details = append(details, fmt.Sprintf("score %.1f", media.Score))
	}
	app.logger.Info("%-10s %s  %s", media.ID, media.DisplayTitle(), strings.Join(details, ", "))
}
