package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/models"
)

// Runner is the seam to the external transcoder and prober.
type Runner interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Run(ctx context.Context, args ...string) error
}

// maxOutput bounds the diagnostic text kept from a failed invocation.
const maxOutput = 4096

// Exec runs the real ffmpeg and ffprobe binaries.
type Exec struct {
	ffmpegPath     string
	ffprobePath    string
	probeTimeout   time.Duration
	processTimeout time.Duration
	logger         zerolog.Logger
}

func New(settings models.Settings, logger zerolog.Logger) *Exec {
	probePath := settings.FFprobePath
	if probePath == "" {
		probePath = ProbePathFor(settings.FFmpegPath)
	}
	return &Exec{
		ffmpegPath:     settings.FFmpegPath,
		ffprobePath:    probePath,
		probeTimeout:   settings.ProbeTimeout,
		processTimeout: settings.ProcessTimeout,
		logger:         logger,
	}
}

// ProbePathFor derives the ffprobe binary that ships next to ffmpegPath.
func ProbePathFor(ffmpegPath string) string {
	dir, base := filepath.Split(ffmpegPath)
	if !strings.Contains(base, "ffmpeg") {
		return "ffprobe"
	}
	return dir + strings.Replace(base, "ffmpeg", "ffprobe", 1)
}

func (e *Exec) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	ctx, cancel := withTimeout(ctx, e.probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return nil, processError(ctx, "ffprobe", args, stderr.Bytes(), err, e.probeTimeout)
	}

	return ParseProbe(output)
}

func (e *Exec) Run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-nostdin", "-loglevel", "error"}, args...)

	ctx, cancel := withTimeout(ctx, e.processTimeout)
	defer cancel()

	e.logger.Debug().Strs("args", full).Msg("Running ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, full...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return processError(ctx, "ffmpeg", full, output, err, e.processTimeout)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func processError(ctx context.Context, tool string, args []string, output []byte, err error, timeout time.Duration) error {
	switch {
	case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		err = fmt.Errorf("%s not found (check PATH or FFMPEG_PATH): %w", tool, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("timed out after %s: %w", timeout, ctx.Err())
	}

	text := strings.TrimSpace(string(output))
	if len(text) > maxOutput {
		text = "..." + text[len(text)-maxOutput:]
	}

	return &models.ProcessError{
		Tool:   tool,
		Args:   args,
		Output: text,
		Err:    err,
	}
}
