package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/nlsukhde/ipod-format/internal/jobs"
	"github.com/nlsukhde/ipod-format/internal/models"
)

// console prints the plan preview, one line per finished track and the
// run outcome.
type console struct {
	w        io.Writer
	settings models.Settings
}

func newConsole(w io.Writer, settings models.Settings) *console {
	return &console{w: w, settings: settings}
}

func (c *console) OnPlanned(plans []models.TrackPlan, dryRun bool, workers int) {
	if dryRun {
		c.printPlan(plans)
		return
	}
	fmt.Fprintf(c.w, "Running with up to %d parallel job(s)...\n", workers)
}

func (c *console) OnTrackDone(res models.RunResult) {
	fmt.Fprintf(c.w, "→ %s: %s\n", filepath.Base(res.Plan.Source), res.Message)
}

func (c *console) OnRunDone(report *jobs.Report) {
	manifest := report.ManifestPath
	if manifest == "" {
		manifest = "(not written)"
	}

	switch {
	case report.Mode == models.ModeDryRun:
		fmt.Fprintf(c.w, "\nDry-run only. No files changed.\nManifest: %s\n", manifest)
	case report.Failed():
		fmt.Fprintf(c.w, "\nCompleted with %d failure(s). Manifest: %s\n", report.Summary.Failed, manifest)
	default:
		fmt.Fprintf(c.w, "\nAll files processed successfully. Manifest: %s\n", manifest)
	}
}

func (c *console) actionLabel(p models.TrackPlan) string {
	if !p.NeedsEncode {
		return "copy (mp3)"
	}
	rate := "44.1"
	if p.SampleRate == models.SampleRatePreserve {
		rate = "src"
	}
	return fmt.Sprintf("encode → mp3 %d/%s", p.Bitrate.Kbps(), rate)
}

func (c *console) printPlan(plans []models.TrackPlan) {
	s := c.settings
	coverCol := fmt.Sprintf("%s%d?", strings.ToUpper(string(s.ArtFormat)), s.ArtTargetPx)

	fmt.Fprintln(c.w, "\nPlan Preview (with artwork):")
	tw := tabwriter.NewWriter(c.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Source\tCodec\tAction\tArt Source\t%s\tTarget\n", coverCol)
	for _, p := range plans {
		ready := "no"
		if p.Art.NormalizedPath != "" {
			ready = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Source, p.SourceCodec, c.actionLabel(p), p.Art.Label(), ready, filepath.Base(p.Target))
	}
	tw.Flush()

	replace := "OFF"
	if s.ReplaceInPlace {
		replace = "ON"
	}
	fmt.Fprintf(c.w, "Total files: %d\n", len(plans))
	fmt.Fprintf(c.w, "Replace-in-place: %s (delete mode: %s) | Collision: %s\n", replace, s.DeleteMode, s.Collision)
	fmt.Fprintf(c.w, "Sample rate: %s | Bitrate: %s | ID3: v2.%d\n", s.SampleRate, s.Bitrate, s.TagVersion)
	fmt.Fprintf(c.w, "Artwork: %dx%d %s (%s, single image)\n", s.ArtTargetPx, s.ArtTargetPx, strings.ToUpper(string(s.ArtFormat)), s.ArtMode)
}
