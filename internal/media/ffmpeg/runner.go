// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package ffmpeg wraps the ffmpeg binary for the trim stage: silence
// analysis, stream-copy cutting and audio extraction. No re-encode of
// video ever happens here.
package ffmpeg

import (
	"context"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/mediapress/internal/log"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Runner executes ffmpeg invocations, keeping the tail of stderr for
// diagnostics and for silencedetect parsing.
type Runner struct {
	Bin         string
	KillTimeout time.Duration
	logger      zerolog.Logger
}

// NewRunner builds a runner; an empty bin means "ffmpeg" from PATH.
func NewRunner(bin string, killTimeout time.Duration) *Runner {
	if bin == "" {
		bin = "ffmpeg"
	}
	if killTimeout <= 0 {
		killTimeout = 10 * time.Second
	}
	return &Runner{Bin: bin, KillTimeout: killTimeout, logger: log.WithComponent("ffmpeg")}
}

// Run executes one invocation and returns the captured stderr lines.
// Cancellation sends SIGTERM and escalates to SIGKILL after the kill
// timeout. A cancelled run reports Cancelled, any other non-zero exit
// is StagePermanent with the stderr tail in the error.
func (r *Runner) Run(ctx context.Context, args []string) ([]string, error) {
	ring := NewLineRing(512)

	// #nosec G204 -- args are built by this package, never from user input
	cmd := exec.CommandContext(ctx, r.Bin, args...)
	cmd.Stderr = ring
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.KillTimeout

	started := time.Now()
	err := cmd.Run()
	lines := ring.Lines()
	if err == nil {
		r.logger.Debug().
			Dur("took", time.Since(started)).
			Str("arg0", firstArg(args)).
			Msg("ffmpeg finished")
		return lines, nil
	}
	if ctx.Err() != nil {
		return lines, xerr.Wrap(xerr.KindCancelled, "ffmpeg cancelled", ctx.Err())
	}
	r.logger.Error().
		Err(err).
		Strs("stderr_tail", ring.LastN(10)).
		Msg("ffmpeg failed")
	return lines, xerr.Wrap(xerr.KindStagePermanent, "ffmpeg exited with error", err)
}

func firstArg(args []string) string {
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
