package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/animedb/animedb-helper/internal/library"
)

func newLogoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Remove stored credentials for a service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "service",
				Aliases: []string{"s"},
				Usage:   "service to log out from (anilist, mal, trakt, all)",
				Value:   ServiceAll,
			},
		},
		Action: runLogout,
	}
}

func runLogout(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	var targets []library.Source
	switch cmd.String("service") {
	case ServiceAnilist:
		targets = []library.Source{library.SourceAniList}
	case ServiceMyAnimeList:
		targets = []library.Source{library.SourceMAL}
	case ServiceTrakt:
		targets = []library.Source{library.SourceTrakt}
	case ServiceAll:
		targets = library.Sources
	default:
		return fmt.Errorf("unknown service: %s (use: anilist, mal, trakt, all)", cmd.String("service"))
	}

	for _, source := range targets {
		if !app.creds.IsAuthenticated(source) {
			app.logger.Info("%s: not authenticated, nothing to do", source)
			continue
		}
		if err := app.creds.Revoke(source); err != nil {
			return fmt.Errorf("logout %s: %w", source, err)
		}
		app.logger.InfoSuccess("%s: credentials removed", source)
	}

	return nil
}
