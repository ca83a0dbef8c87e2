package artwork

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/fsops"
	"github.com/nlsukhde/ipod-format/internal/models"
)

// FolderCovers are the directory image names checked, in order.
var FolderCovers = []string{
	"cover.jpg",
	"cover.jpeg",
	"cover.png",
	"folder.jpg",
	"folder.jpeg",
	"folder.png",
}

// Candidate proposes an art source for a track, or reports no match.
type Candidate func(ctx context.Context) (models.ArtSource, bool, error)

// FirstMatch returns the first matching candidate's source. A candidate error
// stops the chain.
func FirstMatch(ctx context.Context, candidates ...Candidate) (models.ArtSource, error) {
	for _, c := range candidates {
		art, ok, err := c(ctx)
		if err != nil {
			return models.NoArt(), err
		}
		if ok {
			return art, nil
		}
	}
	return models.NoArt(), nil
}

// Resolver picks, extracts and squares each track's cover.
type Resolver struct {
	runner   ffmpeg.Runner
	targetPx int
	format   models.ImageFormat
	mode     models.FitMode
	logger   zerolog.Logger
}

func New(runner ffmpeg.Runner, settings models.Settings, logger zerolog.Logger) *Resolver {
	return &Resolver{
		runner:   runner,
		targetPx: settings.ArtTargetPx,
		format:   settings.ArtFormat,
		mode:     settings.ArtMode,
		logger:   logger,
	}
}

// Detect applies the provenance chain to src: a folder image, then an
// attached picture stream, then any video stream. The source is probed at
// most once, and only when no folder image exists.
func (r *Resolver) Detect(ctx context.Context, src string) (models.ArtSource, error) {
	var probe *ffmpeg.ProbeResult
	probed := func(ctx context.Context) (*ffmpeg.ProbeResult, error) {
		if probe != nil {
			return probe, nil
		}
		res, err := r.runner.Probe(ctx, src)
		if err != nil {
			return nil, err
		}
		probe = res
		return probe, nil
	}

	return FirstMatch(ctx,
		FolderCover(filepath.Dir(src)),
		streamCandidate(probed, "embedded", ffmpeg.ProbeStream.IsAttachedPic),
		streamCandidate(probed, "video", ffmpeg.ProbeStream.IsVideo),
	)
}

// FolderCover matches the first existing FolderCovers entry in dir.
func FolderCover(dir string) Candidate {
	return func(ctx context.Context) (models.ArtSource, bool, error) {
		for _, name := range FolderCovers {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
				return models.ArtSource{
					Kind:        models.ArtFolder,
					Path:        path,
					StreamIndex: -1,
					Detail:      "folder:" + name,
				}, true, nil
			}
		}
		return models.ArtSource{}, false, nil
	}
}

func streamCandidate(probe func(context.Context) (*ffmpeg.ProbeResult, error), label string, match func(ffmpeg.ProbeStream) bool) Candidate {
	return func(ctx context.Context) (models.ArtSource, bool, error) {
		res, err := probe(ctx)
		if err != nil {
			return models.ArtSource{}, false, err
		}
		for _, s := range res.Streams {
			if match(s) {
				return models.ArtSource{
					Kind:        models.ArtEmbedded,
					StreamIndex: s.Index,
					Detail:      fmt.Sprintf("%s:0:%d (%s %dx%d)", label, s.Index, s.CodecName, s.Width, s.Height),
				}, true, nil
			}
		}
		return models.ArtSource{}, false, nil
	}
}

// ResolveAll resolves every plan in order.
func (r *Resolver) ResolveAll(ctx context.Context, plans []models.TrackPlan) []models.TrackPlan {
	out := make([]models.TrackPlan, len(plans))
	for i, p := range plans {
		out[i] = r.Resolve(ctx, p)
	}
	return out
}

// Resolve returns plan carrying its art source with the raw and normalized
// images written beside the temp path. Any failure degrades to no art and
// is recorded as a note.
func (r *Resolver) Resolve(ctx context.Context, plan models.TrackPlan) models.TrackPlan {
	logger := r.logger.With().Str("source", plan.Source).Logger()

	art, err := r.Detect(ctx, plan.Source)
	if err != nil {
		return r.degrade(logger, plan, models.NoArt(), "artwork probe failed", err)
	}
	if art.Kind == models.ArtNone {
		logger.Debug().Msg("No artwork found")
		return plan.WithArt(art)
	}

	raw, err := r.extract(ctx, plan, art)
	art.RawPath = raw
	if err != nil {
		return r.degrade(logger, plan, art, "artwork extraction failed", err)
	}
	if _, err := os.Stat(raw); err != nil {
		return r.degrade(logger, plan, art, "artwork extraction produced no image", err)
	}

	norm := r.NormalizedPath(plan.TempPath)
	art.NormalizedPath = norm
	if err := r.runner.Run(ctx, NormalizeArgs(raw, norm, r.targetPx, r.mode)...); err != nil {
		return r.degrade(logger, plan, art, "artwork normalization failed", err)
	}

	logger.Debug().Str("art", art.Label()).Msg("Artwork ready")
	return plan.WithArt(art)
}

func (r *Resolver) degrade(logger zerolog.Logger, plan models.TrackPlan, art models.ArtSource, msg string, err error) models.TrackPlan {
	logger.Warn().Err(err).Str("art", art.Label()).Msg(msg)
	removeAll(logger, art.TempFiles())
	return plan.WithArt(models.NoArt()).WithNote(fmt.Sprintf("%s: %v", msg, err))
}

func (r *Resolver) extract(ctx context.Context, plan models.TrackPlan, art models.ArtSource) (string, error) {
	if art.Kind == models.ArtFolder {
		raw := plan.TempPath + ".art_src" + strings.ToLower(filepath.Ext(art.Path))
		return raw, fsops.CopyFile(art.Path, raw)
	}

	raw := plan.TempPath + ".art_src.png"
	return raw, r.runner.Run(ctx, ExtractArgs(plan.Source, art.StreamIndex, raw)...)
}

// NormalizedPath is where the squared cover for tempPath is written.
func (r *Resolver) NormalizedPath(tempPath string) string {
	return fmt.Sprintf("%s.cover_%d%s", tempPath, r.targetPx, r.format.Ext())
}

// ExtractArgs builds the ffmpeg arguments that dump stream index of src as a
// single image.
func ExtractArgs(src string, index int, out string) []string {
	return []string{"-y", "-i", src, "-map", "0:" + strconv.Itoa(index), "-frames:v", "1", out}
}

// NormalizeArgs builds the ffmpeg arguments that square raw into out.
func NormalizeArgs(raw, out string, px int, mode models.FitMode) []string {
	return []string{"-y", "-i", raw, "-vf", Filter(px, mode), "-frames:v", "1", out}
}

// Filter returns the scale filter squaring an image to px for mode.
func Filter(px int, mode models.FitMode) string {
	if mode == models.FitPad {
		return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", px, px, px, px)
	}
	return fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d", px, px, px, px)
}

// Cleanup removes plan's art temp files.
func (r *Resolver) Cleanup(plan models.TrackPlan) {
	removeAll(r.logger.With().Str("source", plan.Source).Logger(), plan.Art.TempFiles())
}

func removeAll(logger zerolog.Logger, paths []string) {
	for _, p := range paths {
		if err := fsops.RemoveIfExists(p); err != nil {
			logger.Warn().Err(err).Str("path", p).Msg("Failed to remove artwork temp file")
		}
	}
}
