package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nlsukhde/ipod-format/internal/metadata"
	"github.com/nlsukhde/ipod-format/internal/models"
)

// DefaultPath is consulted when no config path is given.
const DefaultPath = "config/settings.yaml"

// EnvFFmpegPath overrides system.ffmpeg_path.
const EnvFFmpegPath = "FFMPEG_PATH"

type Config struct {
	Encoding       EncodingConfig   `yaml:"encoding"`
	ID3            ID3Config        `yaml:"id3"`
	Artwork        ArtworkConfig    `yaml:"artwork"`
	ReplaceInPlace ReplaceConfig    `yaml:"replace_in_place"`
	Collision      CollisionConfig  `yaml:"collision"`
	Validation     ValidationConfig `yaml:"validation"`
	Logging        LoggingConfig    `yaml:"logging"`
	System         SystemConfig     `yaml:"system"`
	Storage        StorageConfig    `yaml:"storage"`
}

type EncodingConfig struct {
	Profile    string `yaml:"profile"`
	SampleRate string `yaml:"sample_rate"`
}

type ID3Config struct {
	Version     string   `yaml:"version"`
	StripFrames []string `yaml:"strip_frames"`
}

type ArtworkConfig struct {
	TargetPx        int    `yaml:"target_px"`
	Format          string `yaml:"format"`
	Mode            string `yaml:"mode"`
	SingleImageOnly bool   `yaml:"single_image_only"`
}

type ReplaceConfig struct {
	Enabled              bool   `yaml:"enabled"`
	DeleteMode           string `yaml:"delete_mode"`
	RequireSuccessChecks bool   `yaml:"require_success_checks"`
}

type CollisionConfig struct {
	IfTargetExists string `yaml:"if_target_exists"`
}

type ValidationConfig struct {
	MinDurationSec       float64 `yaml:"min_duration_sec"`
	DurationToleranceSec float64 `yaml:"duration_tolerance_sec"`
	BitrateFloor         int     `yaml:"bitrate_floor"`
	VerifyCover          bool    `yaml:"verify_cover"`
	VerifyID3v23         bool    `yaml:"verify_id3_v23"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	WriteManifest bool   `yaml:"write_manifest"`
}

type SystemConfig struct {
	FFmpegPath     string `yaml:"ffmpeg_path"`
	FFprobePath    string `yaml:"ffprobe_path"`
	ProbeTimeout   string `yaml:"probe_timeout"`
	ProcessTimeout string `yaml:"process_timeout"`
	Workers        int    `yaml:"workers"`
}

type StorageConfig struct {
	RunsDir        string `yaml:"runs_dir"`
	HistoryEnabled bool   `yaml:"history_enabled"`
	HistoryDB      string `yaml:"history_db"`
}

func DefaultConfig() *Config {
	return &Config{
		Encoding: EncodingConfig{
			Profile:    string(models.ProfileCBR320),
			SampleRate: string(models.SampleRate44100),
		},
		ID3: ID3Config{
			Version:     "2.3",
			StripFrames: []string{"TXXX:iTunNORM", "PRIV"},
		},
		Artwork: ArtworkConfig{
			TargetPx:        500,
			Format:          string(models.ImageJPEG),
			Mode:            string(models.FitCenterCrop),
			SingleImageOnly: true,
		},
		ReplaceInPlace: ReplaceConfig{
			Enabled:              true,
			DeleteMode:           string(models.DeleteTrash),
			RequireSuccessChecks: true,
		},
		Collision: CollisionConfig{
			IfTargetExists: string(models.CollisionOverwrite),
		},
		Validation: ValidationConfig{
			MinDurationSec:       10,
			DurationToleranceSec: 0.5,
			BitrateFloor:         319000,
			VerifyCover:          true,
			VerifyID3v23:         true,
		},
		Logging: LoggingConfig{
			Level:         "info",
			WriteManifest: true,
		},
		System: SystemConfig{
			FFmpegPath:     "ffmpeg",
			ProbeTimeout:   "30s",
			ProcessTimeout: "10m",
		},
		Storage: StorageConfig{
			RunsDir:        "logs",
			HistoryEnabled: true,
			HistoryDB:      "logs/history.db",
		},
	}
}

// Load reads path over the defaults. An empty path falls back to DefaultPath
// when it exists; an explicit path must exist. FFMPEG_PATH wins over the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, &models.ConfigError{Msg: fmt.Sprintf("config file not found: %s", path)}
			}
			return nil, &models.ConfigError{Msg: "read " + path, Err: err}
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &models.ConfigError{Msg: "parse " + path, Err: err}
		}
	}

	if v := os.Getenv(EnvFFmpegPath); v != "" {
		cfg.System.FFmpegPath = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

func invalid(field, msg string) error {
	return &models.ConfigError{Field: field, Msg: msg}
}

// Validate rejects unsupported values, one field at a time.
func (c *Config) Validate() error {
	if c.Encoding.Profile != string(models.ProfileCBR320) {
		return invalid("encoding.profile", fmt.Sprintf("unsupported profile %q; only CBR320 is supported", c.Encoding.Profile))
	}
	switch models.SampleRatePolicy(c.Encoding.SampleRate) {
	case models.SampleRate44100, models.SampleRatePreserve:
	default:
		return invalid("encoding.sample_rate", "must be '44100' or 'preserve'")
	}
	if c.ID3.Version != "2.3" {
		return invalid("id3.version", "only ID3 v2.3 is supported")
	}
	for _, p := range c.ID3.StripFrames {
		if _, err := metadata.ParseStripPattern(p); err != nil {
			return invalid("id3.strip_frames", err.Error())
		}
	}
	if c.Artwork.TargetPx <= 0 {
		return invalid("artwork.target_px", "must be > 0")
	}
	switch models.ImageFormat(c.Artwork.Format) {
	case models.ImageJPEG, models.ImagePNG:
	default:
		return invalid("artwork.format", "must be 'jpeg' or 'png'")
	}
	switch models.FitMode(c.Artwork.Mode) {
	case models.FitCenterCrop, models.FitPad:
	default:
		return invalid("artwork.mode", "must be 'center_crop' or 'pad'")
	}
	if !c.Artwork.SingleImageOnly {
		return invalid("artwork.single_image_only", "only a single embedded image is supported")
	}
	if _, err := c.deleteMode(); err != nil {
		return err
	}
	switch models.CollisionPolicy(c.Collision.IfTargetExists) {
	case models.CollisionOverwrite, models.CollisionSkip, models.CollisionVersion:
	default:
		return invalid("collision.if_target_exists", "must be 'overwrite' | 'skip' | 'version'")
	}
	if c.Validation.MinDurationSec < 0 {
		return invalid("validation.min_duration_sec", "must be >= 0")
	}
	if c.Validation.DurationToleranceSec <= 0 {
		return invalid("validation.duration_tolerance_sec", "must be > 0")
	}
	if c.Validation.BitrateFloor <= 0 {
		return invalid("validation.bitrate_floor", "must be > 0")
	}
	switch c.Logging.Level {
	case "info", "debug":
	default:
		return invalid("logging.level", "must be 'info' or 'debug'")
	}
	if c.System.FFmpegPath == "" {
		return invalid("system.ffmpeg_path", "must not be empty")
	}
	if _, err := parseTimeout("system.probe_timeout", c.System.ProbeTimeout); err != nil {
		return err
	}
	if _, err := parseTimeout("system.process_timeout", c.System.ProcessTimeout); err != nil {
		return err
	}
	if c.System.Workers < 0 {
		return invalid("system.workers", "must be >= 0")
	}
	if c.Storage.RunsDir == "" {
		return invalid("storage.runs_dir", "must not be empty")
	}
	if c.Storage.HistoryEnabled && c.Storage.HistoryDB == "" {
		return invalid("storage.history_db", "must be set when history is enabled")
	}
	return nil
}

func (c *Config) deleteMode() (models.DeleteMode, error) {
	switch c.ReplaceInPlace.DeleteMode {
	case "trash":
		return models.DeleteTrash, nil
	case "permanent", "hard":
		return models.DeletePermanent, nil
	}
	return "", invalid("replace_in_place.delete_mode", "must be 'trash' or 'permanent'")
}

func parseTimeout(field, v string) (time.Duration, error) {
	if v == "" || v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, invalid(field, fmt.Sprintf("bad duration %q", v))
	}
	return d, nil
}

// Settings converts a validated config into the immutable run settings.
func (c *Config) Settings() models.Settings {
	deleteMode, _ := c.deleteMode()
	probeTimeout, _ := parseTimeout("", c.System.ProbeTimeout)
	processTimeout, _ := parseTimeout("", c.System.ProcessTimeout)

	return models.Settings{
		Bitrate:           models.BitrateProfile(c.Encoding.Profile),
		SampleRate:        models.SampleRatePolicy(c.Encoding.SampleRate),
		TargetSampleRate:  44100,
		TagVersion:        3,
		StripFrames:       append([]string(nil), c.ID3.StripFrames...),
		ArtTargetPx:       c.Artwork.TargetPx,
		ArtFormat:         models.ImageFormat(c.Artwork.Format),
		ArtMode:           models.FitMode(c.Artwork.Mode),
		ReplaceInPlace:    c.ReplaceInPlace.Enabled,
		DeleteMode:        deleteMode,
		RequireChecks:     c.ReplaceInPlace.RequireSuccessChecks,
		Collision:         models.CollisionPolicy(c.Collision.IfTargetExists),
		MinDurationSec:    c.Validation.MinDurationSec,
		DurationTolerance: c.Validation.DurationToleranceSec,
		BitrateFloor:      c.Validation.BitrateFloor,
		VerifyCover:       c.Validation.VerifyCover,
		VerifyTagVersion:  c.Validation.VerifyID3v23,
		LogLevel:          c.Logging.Level,
		WriteManifest:     c.Logging.WriteManifest,
		FFmpegPath:        c.System.FFmpegPath,
		FFprobePath:       c.System.FFprobePath,
		ProbeTimeout:      probeTimeout,
		ProcessTimeout:    processTimeout,
	}
}
