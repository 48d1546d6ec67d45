package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

const (
	ServiceAnilist     = "anilist"
	ServiceMyAnimeList = "mal"
	ServiceTrakt       = "trakt"
	ServiceAll         = "all"
)

// NewCLI creates the root CLI command
func NewCLI() *cli.Command {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to config file",
		Value:   "config.yaml",
	}
	verboseFlag := &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "enable verbose logging",
	}

	return &cli.Command{
		Name:        "animedb-helper",
		Usage:       "Track anime watch state and keep it in sync with AniList, MyAnimeList and Trakt",
		Version:     "1.0.0",
		Description: "Local anime library with watch history, playback tracking and remote list synchronization.",
		Flags: []cli.Flag{
			configFlag,
			verboseFlag,
		},
		Commands: []*cli.Command{
			newLoginCommand(),
			newLogoutCommand(),
			newStatusCommand(),
			newSyncCommand(),
			newMonitorCommand(),
			newLibraryCommand(),
			newWatchlistCommand(),
			newHistoryCommand(),
			newSearchCommand(),
			newPlayCommand(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Present() {
				return fmt.Errorf("unknown command: %s", cmd.Args().First())
			}
			return cli.ShowAppHelp(cmd)
		},
	}
}

// RunCLI executes the CLI application
func RunCLI() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := NewCLI()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
		return fmt.Errorf("command failed")
	}

	return nil
}

// appFromCommand builds the App using the root command's flags.
func appFromCommand(cmd *cli.Command) (*App, error) {
	return loadApp(cmd.String("config"), cmd.Bool("verbose"))
}
