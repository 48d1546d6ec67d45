package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

func newMonitorCommand() *cli.Command {
	return &cli.Command{
		Name:   "monitor",
		Usage:  "Run in the background, syncing on a schedule until interrupted",
		Action: runMonitor,
	}
}

func runMonitor(ctx context.Context, cmd *cli.Command) error {
	app, err := appFromCommand(cmd)
	if err != nil {
		return err
	}

	app.logger.Stage("Monitoring (sync every %v, Ctrl-C to stop)", app.monitor.SyncInterval)
	app.monitor.Start()
	defer app.monitor.Stop()

	<-ctx.Done()
	app.logger.Info("Shutting down")
	return nil
}
