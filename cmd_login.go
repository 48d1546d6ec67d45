package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/animedb/animedb-helper/internal/library"
)

// colorPrint prints colored text to stdout, ignoring write errors
func colorPrint(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(os.Stdout, format, args...)
}

func newLoginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Authenticate with AniList, MyAnimeList and/or Trakt",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "service",
				Aliases: []string{"s"},
				Usage:   "service to authenticate (anilist, mal, trakt, all)",
				Value:   ServiceAll,
			},
		},
		Action: runLogin,
	}
}

func runLogin(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	switch cmd.String("service") {
	case ServiceAnilist:
		return loginCode(ctx, app, library.SourceAniList)
	case ServiceMyAnimeList:
		return loginCode(ctx, app, library.SourceMAL)
	case ServiceTrakt:
		return loginTrakt(ctx, app)
	case ServiceAll:
		for _, source := range library.Sources {
			var err error
			if source == library.SourceTrakt {
				err = loginTrakt(ctx, app)
			} else {
				err = loginCode(ctx, app, source)
			}
			if err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown service: %s (use: anilist, mal, trakt, all)", cmd.String("service"))
	}
}

// loginCode runs the browser-based authorization-code flow for AniList and
// MyAnimeList.
func loginCode(ctx context.Context, app *App, source library.Source) error {
	colorPrint("\n%s=== %s Authentication ===%s\n", colorBold+colorCyan, source, colorReset)

	if app.creds.IsAuthenticated(source) {
		colorPrint("%s✓ %s: Already authenticated%s\n", colorGreen, source, colorReset)
		return nil
	}

	var flow interface {
		Login(ctx context.Context, port string) error
	}
	switch source {
	case library.SourceAniList:
		if !app.config.AniList.IsEnabled() {
			return fmt.Errorf("anilist is not configured (set anilist.client_id)")
		}
		flow = app.anilistFlow()
	case library.SourceMAL:
		if !app.config.MyAnimeList.IsEnabled() {
			return fmt.Errorf("myanimelist is not configured (set myanimelist.client_id)")
		}
		flow = app.malFlow()
	default:
		return fmt.Errorf("no code flow for %s", source)
	}

	if err := flow.Login(ctx, app.config.OAuth.Port); err != nil {
		return fmt.Errorf("login %s: %w", source, err)
	}

	colorPrint("%s✓ %s: Authentication successful%s\n", colorGreen, source, colorReset)
	return nil
}

// loginTrakt runs the device-code flow: the user enters a short code on the
// Trakt site while we poll for approval.
func loginTrakt(ctx context.Context, app *App) error {
	colorPrint("\n%s=== Trakt Authentication ===%s\n", colorBold+colorCyan, colorReset)

	if app.creds.IsAuthenticated(library.SourceTrakt) {
		colorPrint("%s✓ trakt: Already authenticated%s\n", colorGreen, colorReset)
		return nil
	}
	if !app.config.Trakt.IsEnabled() {
		return fmt.Errorf("trakt is not configured (set trakt.client_id)")
	}

	flow := app.traktFlow()
	code, err := flow.RequestCode(ctx)
	if err != nil {
		return fmt.Errorf("request trakt device code: %w", err)
	}

	colorPrint("Open %s%s%s and enter code %s%s%s\n",
		colorCyan, code.VerificationURL, colorReset,
		colorBold, code.UserCode, colorReset)

	if _, err := flow.Poll(ctx, code); err != nil {
		return fmt.Errorf("trakt authorization: %w", err)
	}

	colorPrint("%s✓ trakt: Authentication successful%s\n", colorGreen, colorReset)
	return nil
}
