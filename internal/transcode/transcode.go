// Package transcode produces the audio payload of a plan's temp file.
package transcode

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/fsops"
	"github.com/nlsukhde/ipod-format/internal/models"
)

type Producer struct {
	runner           ffmpeg.Runner
	targetSampleRate int
	logger           zerolog.Logger
}

func New(runner ffmpeg.Runner, settings models.Settings, logger zerolog.Logger) *Producer {
	rate := settings.TargetSampleRate
	if rate <= 0 {
		rate = 44100
	}
	return &Producer{
		runner:           runner,
		targetSampleRate: rate,
		logger:           logger,
	}
}

// Produce writes plan's audio to plan.TempPath: an MP3 source is copied
// byte for byte, anything else is encoded.
func (p *Producer) Produce(ctx context.Context, plan models.TrackPlan) error {
	if !plan.NeedsEncode {
		if err := fsops.CopyFile(plan.Source, plan.TempPath); err != nil {
			return fmt.Errorf("copy audio: %w", err)
		}
		return nil
	}

	args := EncodeArgs(plan, p.targetSampleRate)
	p.logger.Debug().Str("source", plan.Source).Strs("args", args).Msg("Encoding")
	if err := p.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// EncodeArgs builds the CBR MP3 encode arguments for plan.
func EncodeArgs(plan models.TrackPlan, targetSampleRate int) []string {
	args := []string{
		"-y",
		"-i", plan.Source,
		"-vn",
		"-c:a", "libmp3lame",
		"-b:a", strconv.Itoa(plan.Bitrate.Kbps()) + "k",
	}
	if plan.SampleRate != models.SampleRatePreserve {
		args = append(args, "-ar", strconv.Itoa(targetSampleRate))
	}
	return append(args,
		"-id3v2_version", "3",
		"-f", "mp3",
		plan.TempPath,
	)
}
