package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/animedb/animedb-helper/internal/library"
)

func newStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show authentication and library status",
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	app.logger.Stage("Authentication Status")
	for _, source := range library.Sources {
		printServiceStatus(app, source)
	}

	app.logger.Info("")
	app.logger.Stage("Library")
	app.logger.Info("%-13s %d tracked entries", "Entries:", app.store.Len())
	app.logger.Info("%-13s %d items", "Watchlist:", len(app.store.Watchlist()))
	app.logger.Info("%-13s %d events", "History:", len(app.store.GetWatchHistory(0)))
	app.logger.Info("%-13s %s", "Data dir:", app.config.DataDir)

	return nil
}

func printServiceStatus(app *App, source library.Source) {
	cred, err := app.creds.Load(source)
	if err != nil {
		app.logger.Info("%-13s Not authenticated", string(source)+":")
		return
	}

	switch {
	case cred.ExpiresAt.IsZero():
		app.logger.Info("%-13s Authenticated (no expiry)", string(source)+":")
	case cred.Expired():
		app.logger.Info("%-13s Token expired (refresh will be attempted on use)", string(source)+":")
	default:
		remaining := time.Until(cred.ExpiresAt).Round(time.Minute)
		app.logger.Info("%-13s Authenticated (expires in %v)", string(source)+":", remaining)
	}
}
