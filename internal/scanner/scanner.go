package scanner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/models"
)

// codecByExt maps the supported input extensions to their codec tag.
var codecByExt = map[string]string{
	".flac": "flac",
	".alac": "alac",
	".m4a":  "m4a",
	".aac":  "m4a",
	".wav":  "wav",
	".aiff": "aiff",
	".aif":  "aiff",
	".ogg":  "ogg",
	".oga":  "ogg",
	".opus": "opus",
	".mp3":  "mp3",
}

// CodecFor returns the codec tag of path's extension, or "" when unsupported.
func CodecFor(path string) string {
	return codecByExt[strings.ToLower(filepath.Ext(path))]
}

// Planner turns input paths into ordered track plans.
type Planner struct {
	settings models.Settings
	logger   zerolog.Logger
}

func New(settings models.Settings, logger zerolog.Logger) *Planner {
	return &Planner{
		settings: settings,
		logger:   logger,
	}
}

// BuildPlans expands roots (files or directories) into one plan per eligible
// audio file. Unreadable or missing roots are skipped. It returns a
// *models.PlanError when nothing is eligible.
func (p *Planner) BuildPlans(roots []string) ([]models.TrackPlan, error) {
	seen := make(map[string]bool)
	var files []string

	add := func(path string) {
		if CodecFor(path) == "" {
			return
		}
		canon, err := canonical(path)
		if err != nil || seen[canon] {
			return
		}
		seen[canon] = true
		files = append(files, canon)
	}

	for _, root := range roots {
		canon, err := canonical(root)
		if err != nil {
			p.logger.Debug().Err(err).Str("path", root).Msg("Skipping unreadable input")
			continue
		}
		info, err := os.Stat(canon)
		if err != nil {
			p.logger.Debug().Err(err).Str("path", root).Msg("Skipping unreadable input")
			continue
		}
		if !info.IsDir() {
			add(canon)
			continue
		}

		err = filepath.WalkDir(canon, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				p.logger.Debug().Err(err).Str("path", path).Msg("Walk error")
				if d != nil && d.IsDir() && path != canon {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				if path != canon && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() || d.Type()&os.ModeSymlink != 0 {
				add(path)
			}
			return nil
		})
		if err != nil {
			p.logger.Warn().Err(err).Str("root", canon).Msg("Directory walk aborted")
		}
	}

	if len(files) == 0 {
		return nil, &models.PlanError{Msg: "no eligible audio files found in the given paths"}
	}

	plans := make([]models.TrackPlan, 0, len(files))
	for _, f := range files {
		plans = append(plans, p.planFor(f))
	}

	sort.SliceStable(plans, func(i, j int) bool {
		di, dj := filepath.Dir(plans[i].Source), filepath.Dir(plans[j].Source)
		if di != dj {
			return di < dj
		}
		return filepath.Base(plans[i].Source) < filepath.Base(plans[j].Source)
	})

	p.logger.Info().Int("tracks", len(plans)).Int("roots", len(roots)).Msg("Planned tracks")
	return plans, nil
}

func (p *Planner) planFor(src string) models.TrackPlan {
	codec := CodecFor(src)
	ext := filepath.Ext(src)
	stem := strings.TrimSuffix(filepath.Base(src), ext)

	plan := models.TrackPlan{
		Source:      src,
		SourceCodec: codec,
		NeedsEncode: codec != models.TargetCodec,
		Target:      strings.TrimSuffix(src, ext) + ".mp3",
		TempPath:    TempPathFor(filepath.Dir(src), stem),
		DeleteMode:  p.settings.DeleteMode,
		Collision:   p.settings.Collision,
		SampleRate:  p.settings.SampleRate,
		Bitrate:     p.settings.Bitrate,
		Art:         models.NoArt(),
	}

	if !plan.NeedsEncode {
		return plan.WithNote("will copy audio (already MP3)")
	}
	rate := "44.1 kHz"
	if p.settings.SampleRate == models.SampleRatePreserve {
		rate = "source sample rate"
	}
	return plan.WithNote(fmt.Sprintf("will encode to %d CBR, %s", p.settings.Bitrate.Kbps(), rate))
}

// TempPathFor returns a unique hidden temp path in dir for the given stem.
func TempPathFor(dir, stem string) string {
	id := uuid.New()
	return filepath.Join(dir, fmt.Sprintf(".~%s.%x.tmp", stem, id[:]))
}

// canonical resolves path to an absolute path with symlinks evaluated.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return resolved, nil
}
