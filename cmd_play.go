package main

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/animedb/animedb-helper/internal/player"
)

func newPlayCommand() *cli.Command {
	return &cli.Command{
		Name:  "play",
		Usage: "Launch an external player for an episode and track watch progress",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "source",
				Aliases:  []string{"s"},
				Usage:    "service owning the anime ID (anilist, mal, trakt)",
				Required: true,
			},
			&cli.IntFlag{
				Name:     "episode",
				Aliases:  []string{"e"},
				Usage:    "episode number",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "episodes",
				Usage: "total episode count, if known",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "episode runtime, used to estimate progress",
				Value: 24 * time.Minute,
			},
			&cli.StringFlag{
				Name:  "player",
				Usage: "player command to launch",
				Value: "mpv",
			},
		},
		ArgsUsage: "<anime-id> <url-or-file>",
		Action:    runPlay,
	}
}

func runPlay(ctx context.Context, cmd *cli.Command) error {
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
	target := cmd.Args().Get(1)
	if target == "" {
		return fmt.Errorf("url or file argument is required")
	}

	episode := int(cmd.Int("episode"))
	host := newProcessHost(cmd.Duration("duration"))

	proc := exec.CommandContext(ctx, cmd.String("player"), target)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", cmd.String("player"), err)
	}
	go func() {
		if err := proc.Wait(); err != nil && ctx.Err() == nil {
			app.logger.Debug("Player exited: %v", err)
		}
		host.stop()
	}()

	app.logger.Stage("Playing %s/%s episode %d", source, id, episode)
	tracker := player.NewTracker(app.store, host, &loggerNotifier{app.logger},
		id, source, episode, int(cmd.Int("episodes")))
	tracker.Run(ctx)

	if entry := app.store.GetStatus(id, source); entry != nil {
		app.logger.InfoSuccess("Session ended: %.1f%% of %s/%s (%s)",
			entry.Progress, source, id, entry.Status)
	}
	return nil
}

// processHost estimates playback position from wall-clock time while the
// player process is alive. Pause and seek in the external player are not
// observable; position is elapsed time capped at the configured duration.
type processHost struct {
	mu        sync.Mutex
	startedAt time.Time
	duration  time.Duration
	stopped   bool
}

func newProcessHost(duration time.Duration) *processHost {
	return &processHost{startedAt: time.Now(), duration: duration}
}

func (h *processHost) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
}

func (h *processHost) IsPlaying() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.stopped
}

func (h *processHost) Position() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	pos := time.Since(h.startedAt)
	if pos > h.duration {
		pos = h.duration
	}
	return pos
}

func (h *processHost) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

// loggerNotifier surfaces tracker checkpoints through the CLI logger.
type loggerNotifier struct {
	logger *Logger
}

func (n *loggerNotifier) Notify(title, message string) {
	n.logger.Info("%s: %s", title, message)
}
