package runlog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/nlsukhde/ipod-format/internal/fsops"
	"github.com/nlsukhde/ipod-format/internal/models"
)

const (
	ArchiveVersion = 1
	ArchiveFile    = "probes.msgpack.zst"
)

// ProbeArchive keeps the raw ffprobe documents of a run.
type ProbeArchive struct {
	Version int          `msgpack:"version"`
	RunID   string       `msgpack:"runId"`
	Tracks  []ProbeEntry `msgpack:"tracks"`
}

type ProbeEntry struct {
	Source    string               `msgpack:"source"`
	FinalPath string               `msgpack:"finalPath,omitempty"`
	Before    models.MediaSnapshot `msgpack:"before"`
	After     models.MediaSnapshot `msgpack:"after"`
	RawBefore []byte               `msgpack:"rawBefore,omitempty"`
	RawAfter  []byte               `msgpack:"rawAfter,omitempty"`
}

// NewProbeArchive collects the probes of results.
func NewProbeArchive(runID string, results []models.RunResult) *ProbeArchive {
	a := &ProbeArchive{Version: ArchiveVersion, RunID: runID}
	for _, r := range results {
		a.Tracks = append(a.Tracks, ProbeEntry{
			Source:    r.Plan.Source,
			FinalPath: r.FinalPath,
			Before:    r.Before,
			After:     r.After,
			RawBefore: r.RawBefore,
			RawAfter:  r.RawAfter,
		})
	}
	return a
}

// SaveProbeArchive writes a msgpack, zstd-compressed archive to dir.
func SaveProbeArchive(dir string, archive *ProbeArchive) (string, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("msgpack")
	if err := enc.Encode(archive); err != nil {
		return "", fmt.Errorf("msgpack encode: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return "", fmt.Errorf("create zstd encoder: %w", err)
	}
	defer encoder.Close()

	path := filepath.Join(dir, ArchiveFile)
	if err := fsops.WriteFileAtomic(path, encoder.EncodeAll(buf.Bytes(), nil), 0644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	return path, nil
}

// LoadProbeArchive reads an archive written by SaveProbeArchive.
func LoadProbeArchive(dir string) (*ProbeArchive, error) {
	compressed, err := os.ReadFile(filepath.Join(dir, ArchiveFile))
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}

	var a ProbeArchive
	dec := msgpack.NewDecoder(bytes.NewReader(decompressed))
	dec.SetCustomStructTag("msgpack")
	if err := dec.Decode(&a); err != nil {
		return nil, fmt.Errorf("msgpack decode: %w", err)
	}
	return &a, nil
}
