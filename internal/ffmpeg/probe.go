package ffmpeg

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nlsukhde/ipod-format/internal/models"
)

type ProbeResult struct {
	Format  ProbeFormat   `json:"format"`
	Streams []ProbeStream `json:"streams"`

	// Raw is the ffprobe document as received.
	Raw []byte `json:"-"`
}

type ProbeFormat struct {
	Filename   string            `json:"filename"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

type ProbeStream struct {
	Index       int               `json:"index"`
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	SampleRate  string            `json:"sample_rate"`
	Channels    int               `json:"channels"`
	BitRate     string            `json:"bit_rate"`
	Duration    string            `json:"duration"`
	Tags        map[string]string `json:"tags"`
	Disposition map[string]int    `json:"disposition"`
}

// ParseProbe decodes ffprobe -print_format json output.
func ParseProbe(data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	result.Raw = data
	return &result, nil
}

func (s ProbeStream) IsVideo() bool { return s.CodecType == "video" }

func (s ProbeStream) IsAudio() bool { return s.CodecType == "audio" }

// IsAttachedPic reports a still image stream (cover art).
func (s ProbeStream) IsAttachedPic() bool {
	return s.IsVideo() && s.Disposition["attached_pic"] == 1
}

// FirstAudio returns the first audio stream, or nil.
func (p *ProbeResult) FirstAudio() *ProbeStream {
	for i := range p.Streams {
		if p.Streams[i].IsAudio() {
			return &p.Streams[i]
		}
	}
	return nil
}

// DurationSec prefers the container duration and falls back to the audio
// stream. Zero means unknown.
func (p *ProbeResult) DurationSec() float64 {
	if d := parseFloat(p.Format.Duration); d > 0 {
		return d
	}
	if a := p.FirstAudio(); a != nil {
		return parseFloat(a.Duration)
	}
	return 0
}

// AudioBitRate is the first audio stream's bit rate, or the container's when
// the stream does not report one.
func (p *ProbeResult) AudioBitRate() int {
	if a := p.FirstAudio(); a != nil {
		if br := parseInt(a.BitRate); br > 0 {
			return br
		}
	}
	return parseInt(p.Format.BitRate)
}

// Snapshot summarizes the audio properties of the probed file.
func (p *ProbeResult) Snapshot() models.MediaSnapshot {
	snap := models.MediaSnapshot{
		Exists:      true,
		BitRate:     p.AudioBitRate(),
		DurationSec: p.DurationSec(),
	}
	if a := p.FirstAudio(); a != nil {
		snap.SampleRate = parseInt(a.SampleRate)
		snap.Channels = a.Channels
	}
	return snap
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

func parseInt(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}
