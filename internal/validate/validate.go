// Package validate gates a produced file before it may replace anything.
package validate

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/metadata"
	"github.com/nlsukhde/ipod-format/internal/models"
)

// Check names.
const (
	CheckDuration   = "duration"
	CheckBitrate    = "bitrate"
	CheckCover      = "cover"
	CheckTagVersion = "id3_version"
)

type Validator struct {
	runner   ffmpeg.Runner
	settings models.Settings
	logger   zerolog.Logger
}

func New(runner ffmpeg.Runner, settings models.Settings, logger zerolog.Logger) *Validator {
	return &Validator{
		runner:   runner,
		settings: settings,
		logger:   logger,
	}
}

// Check runs every enabled gate against the produced file at path and joins
// the failures. Each failure is a *models.ValidationError.
func (v *Validator) Check(ctx context.Context, plan models.TrackPlan, path string) error {
	var errs []error

	dst, dstErr := v.runner.Probe(ctx, path)
	if dstErr != nil {
		v.logger.Debug().Err(dstErr).Str("path", path).Msg("Output probe failed")
	}

	if err := v.checkDuration(ctx, plan.Source, dst); err != nil {
		errs = append(errs, err)
	}
	if plan.NeedsEncode {
		if err := v.checkBitrate(dst, dstErr); err != nil {
			errs = append(errs, err)
		}
	}

	if v.settings.VerifyCover || v.settings.VerifyTagVersion {
		info, err := metadata.Inspect(path)
		if err != nil {
			errs = append(errs, &models.ValidationError{Check: CheckTagVersion, Msg: err.Error()})
		} else {
			if v.settings.VerifyCover {
				if err := v.checkCover(info); err != nil {
					errs = append(errs, err)
				}
			}
			if v.settings.VerifyTagVersion && int(info.Version) != v.settings.TagVersion {
				errs = append(errs, &models.ValidationError{
					Check: CheckTagVersion,
					Msg:   fmt.Sprintf("tag is ID3v2.%d, want ID3v2.%d", info.Version, v.settings.TagVersion),
				})
			}
		}
	}

	return errors.Join(errs...)
}

func (v *Validator) checkDuration(ctx context.Context, src string, dst *ffmpeg.ProbeResult) error {
	if dst == nil {
		return nil
	}
	srcProbe, err := v.runner.Probe(ctx, src)
	if err != nil {
		v.logger.Debug().Err(err).Str("source", src).Msg("Source probe failed, skipping duration check")
		return nil
	}

	sd, dd := srcProbe.DurationSec(), dst.DurationSec()
	if sd == 0 || dd == 0 {
		return nil
	}
	if floor := v.settings.MinDurationSec; floor > 0 && sd >= floor && dd < floor {
		return &models.ValidationError{
			Check: CheckDuration,
			Msg:   fmt.Sprintf("output is %.2fs, shorter than the %.0fs minimum (source %.2fs)", dd, floor, sd),
		}
	}
	if diff := math.Abs(sd - dd); diff > v.settings.DurationTolerance {
		return &models.ValidationError{
			Check: CheckDuration,
			Msg:   fmt.Sprintf("mismatch > %.2fs (src=%.2fs, dst=%.2fs)", v.settings.DurationTolerance, sd, dd),
		}
	}
	return nil
}

func (v *Validator) checkBitrate(dst *ffmpeg.ProbeResult, probeErr error) error {
	if dst == nil {
		return &models.ValidationError{Check: CheckBitrate, Msg: fmt.Sprintf("output not probeable: %v", probeErr)}
	}
	if br := dst.AudioBitRate(); br < v.settings.BitrateFloor {
		return &models.ValidationError{
			Check: CheckBitrate,
			Msg:   fmt.Sprintf("audio bit rate is %d, want >= %d", br, v.settings.BitrateFloor),
		}
	}
	return nil
}

// checkCover requires exactly one picture of the configured format and size.
// A track whose art did not resolve has none and fails here.
func (v *Validator) checkCover(info *metadata.TagInfo) error {
	if len(info.Covers) != 1 {
		return &models.ValidationError{Check: CheckCover, Msg: fmt.Sprintf("%d pictures embedded, want exactly one", len(info.Covers))}
	}
	c := info.Covers[0]
	px := v.settings.ArtTargetPx
	if c.Format != string(v.settings.ArtFormat) {
		return &models.ValidationError{Check: CheckCover, Msg: fmt.Sprintf("picture is %q, want %q", c.Format, v.settings.ArtFormat)}
	}
	if c.Width != px || c.Height != px {
		return &models.ValidationError{Check: CheckCover, Msg: fmt.Sprintf("picture is %dx%d, want %dx%d", c.Width, c.Height, px, px)}
	}
	return nil
}
