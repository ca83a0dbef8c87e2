package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/models"
)

// Analyzer reads source tags and media snapshots through the prober.
type Analyzer struct {
	runner ffmpeg.Runner
	logger zerolog.Logger
}

func New(runner ffmpeg.Runner, logger zerolog.Logger) *Analyzer {
	return &Analyzer{
		runner: runner,
		logger: logger,
	}
}

// ReadTags returns the generic tag map of path. The title falls back to the
// file name without extension.
func (a *Analyzer) ReadTags(ctx context.Context, path string) (models.TagMap, error) {
	probe, err := a.runner.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}

	tags := ExtractTags(probe)
	if tags[models.TagTitle] == "" {
		tags[models.TagTitle] = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return tags, nil
}

// Snapshot probes path for its audio properties. It never fails: a missing
// file or a failed probe yields a zero snapshot. The raw ffprobe document is
// returned alongside for archiving.
func (a *Analyzer) Snapshot(ctx context.Context, path string) (models.MediaSnapshot, []byte) {
	if _, err := os.Stat(path); err != nil {
		return models.MediaSnapshot{}, nil
	}

	probe, err := a.runner.Probe(ctx, path)
	if err != nil {
		a.logger.Debug().Err(err).Str("path", path).Msg("Snapshot probe failed")
		return models.MediaSnapshot{Exists: true}, nil
	}
	return probe.Snapshot(), probe.Raw
}

var aliases = []struct {
	key   string
	names []string
}{
	{models.TagTitle, []string{"title"}},
	{models.TagArtist, []string{"artist"}},
	{models.TagAlbum, []string{"album"}},
	{models.TagAlbumArtist, []string{"album_artist", "albumartist", "album artist"}},
	{models.TagGenre, []string{"genre"}},
	{models.TagDate, []string{"date", "year"}},
}

// ExtractTags maps container tags onto the fixed tag vocabulary. Container
// tags win over audio stream tags (Ogg keeps comments on the stream). Keys
// are matched case-insensitively.
func ExtractTags(probe *ffmpeg.ProbeResult) models.TagMap {
	raw := make(map[string]string)
	if a := probe.FirstAudio(); a != nil {
		for k, v := range a.Tags {
			raw[strings.ToLower(k)] = strings.TrimSpace(v)
		}
	}
	for k, v := range probe.Format.Tags {
		raw[strings.ToLower(k)] = strings.TrimSpace(v)
	}

	tags := make(models.TagMap)
	for _, alias := range aliases {
		if v := first(raw, alias.names...); v != "" {
			tags[alias.key] = v
		}
	}

	setPair(tags, models.TagTrack, models.TagTrackTotal,
		first(raw, "track", "tracknumber"), first(raw, "tracktotal", "totaltracks"))
	setPair(tags, models.TagDisc, models.TagDiscTotal,
		first(raw, "disc", "discnumber"), first(raw, "disctotal", "totaldiscs"))

	return tags
}

func first(raw map[string]string, names ...string) string {
	for _, n := range names {
		if v := raw[n]; v != "" {
			return v
		}
	}
	return ""
}

// setPair stores "n" and "total" from values like "3/12" plus an optional
// separate total, keeping only positive integers.
func setPair(tags models.TagMap, numKey, totalKey, number, total string) {
	n, embeddedTotal := parseNumberPair(number)
	if n > 0 {
		tags[numKey] = strconv.Itoa(n)
	}
	t, _ := parseNumberPair(total)
	if t <= 0 {
		t = embeddedTotal
	}
	if t > 0 {
		tags[totalKey] = strconv.Itoa(t)
	}
}

func parseNumberPair(s string) (int, int) {
	s = strings.TrimSpace(s)
	total := 0
	if idx := strings.Index(s, "/"); idx >= 0 {
		total, _ = strconv.Atoi(strings.TrimSpace(s[idx+1:]))
		s = s[:idx]
	}
	num, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, total
	}
	return num, total
}

// parseYear extracts the leading four-digit year of a date tag.
func parseYear(s string) int {
	s = strings.TrimSpace(s)
	if len(s) >= 4 {
		if year, err := strconv.Atoi(s[:4]); err == nil {
			return year
		}
	}
	return 0
}

// Year returns the year of a tag map's date, or 0.
func Year(tags models.TagMap) int {
	return parseYear(tags[models.TagDate])
}
