package mastering

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// runner executes ffmpeg with a hard per-invocation timeout. A run that
// exceeds its timeout is killed and reported as an error; it is never
// retried here — retry policy belongs to the job layer.
type runner struct {
	ffmpegPath string
}

func newRunner(ffmpegPath string) *runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &runner{ffmpegPath: ffmpegPath}
}

// run invokes ffmpeg and returns its stderr, where ffmpeg writes both its
// diagnostics and filter reports.
func (r *runner) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	// Keeps Wait from hanging on pipe-inheriting grandchildren after a kill.
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return stderr.String(), fmt.Errorf("ffmpeg killed after %s timeout", timeout)
	}
	if err != nil {
		return stderr.String(), fmt.Errorf("ffmpeg failed: %w: %s", err, tail(stderr.String(), 400))
	}
	return stderr.String(), nil
}

// tail returns at most n trailing bytes of s, for error messages.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
