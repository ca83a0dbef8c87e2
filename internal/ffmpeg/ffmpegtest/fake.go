// Package ffmpegtest provides a scripted ffmpeg.Runner for tests.
package ffmpegtest

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/nlsukhde/ipod-format/internal/ffmpeg"
	"github.com/nlsukhde/ipod-format/internal/models"
)

// Fake answers probes from a table and "runs" ffmpeg by writing the output
// file named by the last argument, unless RunFunc says otherwise. Image
// outputs get a real picture, sized by a "scale=N:N" filter when present.
type Fake struct {
	mu     sync.Mutex
	probes map[string]*ffmpeg.ProbeResult
	calls  [][]string

	// ProbeFunc, when set, handles paths missing from the table.
	ProbeFunc func(path string) (*ffmpeg.ProbeResult, error)
	// RunFunc, when set, replaces the default output-writing behavior.
	RunFunc func(args []string) error
}

func New() *Fake {
	return &Fake{probes: make(map[string]*ffmpeg.ProbeResult)}
}

// SetProbe registers the probe answer for path.
func (f *Fake) SetProbe(path string, res *ffmpeg.ProbeResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes[path] = res
}

func (f *Fake) Probe(ctx context.Context, path string) (*ffmpeg.ProbeResult, error) {
	f.mu.Lock()
	res, ok := f.probes[path]
	fn := f.ProbeFunc
	f.mu.Unlock()

	if ok {
		return res, nil
	}
	if fn != nil {
		return fn(path)
	}
	return nil, &models.ProcessError{Tool: "ffprobe", Err: fmt.Errorf("no probe scripted for %s", path)}
}

func (f *Fake) Run(ctx context.Context, args ...string) error {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), args...))
	fn := f.RunFunc
	f.mu.Unlock()

	if fn != nil {
		return fn(args)
	}
	return WriteOutput(args)
}

// WriteOutput is the default Run behavior.
func WriteOutput(args []string) error {
	out := Output(args)
	switch strings.ToLower(filepath.Ext(out)) {
	case ".png", ".jpg", ".jpeg":
		w, h := 64, 48
		if px := scaleSize(args); px > 0 {
			w, h = px, px
		}
		return WriteImage(out, w, h)
	}
	return os.WriteFile(out, []byte("fake media"), 0644)
}

// WriteImage writes a w x h picture to path, encoded by its extension.
func WriteImage(path string, w, h int) error {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.ToLower(filepath.Ext(path)) == ".png" {
		return png.Encode(f, img)
	}
	return jpeg.Encode(f, img, &jpeg.Options{Quality: 90})
}

func scaleSize(args []string) int {
	for i := 0; i+1 < len(args); i++ {
		if args[i] != "-vf" || !strings.HasPrefix(args[i+1], "scale=") {
			continue
		}
		dims := strings.SplitN(strings.TrimPrefix(args[i+1], "scale="), ":", 2)
		n, _ := strconv.Atoi(dims[0])
		return n
	}
	return 0
}

// Calls returns a copy of every Run invocation so far.
func (f *Fake) Calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Output is the output path of an ffmpeg argument list.
func Output(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}

// Input is the value following the first -i flag.
func Input(args []string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == "-i" {
			return args[i+1]
		}
	}
	return ""
}

// Audio builds a probe result for a single audio stream file.
func Audio(codec string, durationSec float64, bitRate, sampleRate, channels int) *ffmpeg.ProbeResult {
	dur := strconv.FormatFloat(durationSec, 'f', 6, 64)
	return &ffmpeg.ProbeResult{
		Format: ffmpeg.ProbeFormat{
			Duration: dur,
			BitRate:  strconv.Itoa(bitRate),
			Tags:     map[string]string{},
		},
		Streams: []ffmpeg.ProbeStream{{
			Index:      0,
			CodecType:  "audio",
			CodecName:  codec,
			SampleRate: strconv.Itoa(sampleRate),
			Channels:   channels,
			BitRate:    strconv.Itoa(bitRate),
			Duration:   dur,
		}},
	}
}

// WithPicture appends a video stream at index; attached marks it as cover art.
func WithPicture(res *ffmpeg.ProbeResult, index int, codec string, w, h int, attached bool) *ffmpeg.ProbeResult {
	disp := map[string]int{"attached_pic": 0}
	if attached {
		disp["attached_pic"] = 1
	}
	res.Streams = append(res.Streams, ffmpeg.ProbeStream{
		Index:       index,
		CodecType:   "video",
		CodecName:   codec,
		Width:       w,
		Height:      h,
		Disposition: disp,
	})
	return res
}

// WithTags sets container tags on res.
func WithTags(res *ffmpeg.ProbeResult, tags map[string]string) *ffmpeg.ProbeResult {
	res.Format.Tags = tags
	return res
}
