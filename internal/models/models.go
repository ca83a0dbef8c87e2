package models

import (
	"database/sql"
	"time"
)

// BitrateProfile names an encoding profile. Only CBR320 exists today.
type BitrateProfile string

const ProfileCBR320 BitrateProfile = "CBR320"

// Kbps returns the nominal bit rate of the profile.
func (p BitrateProfile) Kbps() int {
	switch p {
	case ProfileCBR320:
		return 320
	}
	return 0
}

type SampleRatePolicy string

const (
	SampleRate44100    SampleRatePolicy = "44100"
	SampleRatePreserve SampleRatePolicy = "preserve"
)

type FitMode string

const (
	FitCenterCrop FitMode = "center_crop"
	FitPad        FitMode = "pad"
)

type ImageFormat string

const (
	ImageJPEG ImageFormat = "jpeg"
	ImagePNG  ImageFormat = "png"
)

// Ext returns the file extension written for the format.
func (f ImageFormat) Ext() string {
	if f == ImagePNG {
		return ".png"
	}
	return ".jpg"
}

// MimeType returns the APIC mime type for the format.
func (f ImageFormat) MimeType() string {
	if f == ImagePNG {
		return "image/png"
	}
	return "image/jpeg"
}

type DeleteMode string

const (
	DeleteTrash     DeleteMode = "trash"
	DeletePermanent DeleteMode = "permanent"
)

type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionSkip      CollisionPolicy = "skip"
	CollisionVersion   CollisionPolicy = "version"
)

// TargetCodec is the codec every plan converges on.
const TargetCodec = "mp3"

// Settings is the effective configuration of one run. It is passed by value
// and never mutated; the With* helpers return modified copies.
type Settings struct {
	Bitrate           BitrateProfile   `json:"bitrateMode"`
	SampleRate        SampleRatePolicy `json:"sampleRate"`
	TargetSampleRate  int              `json:"targetSampleRate"`
	TagVersion        int              `json:"id3Version"`
	StripFrames       []string         `json:"stripFrames"`
	ArtTargetPx       int              `json:"artTargetPx"`
	ArtFormat         ImageFormat      `json:"artFormat"`
	ArtMode           FitMode          `json:"artMode"`
	ReplaceInPlace    bool             `json:"replaceInPlace"`
	DeleteMode        DeleteMode       `json:"deleteMode"`
	RequireChecks     bool             `json:"requireSuccessChecks"`
	Collision         CollisionPolicy  `json:"collision"`
	MinDurationSec    float64          `json:"minDurationSec"`
	DurationTolerance float64          `json:"durationToleranceSec"`
	BitrateFloor      int              `json:"bitrateFloor"`
	VerifyCover       bool             `json:"verifyCover"`
	VerifyTagVersion  bool             `json:"verifyId3v23"`
	LogLevel          string           `json:"logLevel"`
	WriteManifest     bool             `json:"writeManifest"`
	FFmpegPath        string           `json:"ffmpegPath"`
	FFprobePath       string           `json:"ffprobePath"`
	ProbeTimeout      time.Duration    `json:"probeTimeout"`
	ProcessTimeout    time.Duration    `json:"processTimeout"`
}

func (s Settings) clone() Settings {
	s.StripFrames = append([]string(nil), s.StripFrames...)
	return s
}

func (s Settings) WithReplaceInPlace(v bool) Settings {
	c := s.clone()
	c.ReplaceInPlace = v
	return c
}

func (s Settings) WithDeleteMode(m DeleteMode) Settings {
	c := s.clone()
	c.DeleteMode = m
	return c
}

func (s Settings) WithCollision(p CollisionPolicy) Settings {
	c := s.clone()
	c.Collision = p
	return c
}

// TrackPlan describes what will happen to one input file.
type TrackPlan struct {
	Source      string           `json:"source"`
	SourceCodec string           `json:"sourceCodec"`
	NeedsEncode bool             `json:"needsEncode"`
	Target      string           `json:"target"`
	TempPath    string           `json:"tempPath"`
	DeleteMode  DeleteMode       `json:"deleteMode"`
	Collision   CollisionPolicy  `json:"collision"`
	SampleRate  SampleRatePolicy `json:"sampleRate"`
	Bitrate     BitrateProfile   `json:"bitrateMode"`
	Notes       []string         `json:"notes,omitempty"`
	Art         ArtSource        `json:"art"`
}

// Action is "encode" or "copy".
func (p TrackPlan) Action() string {
	if p.NeedsEncode {
		return ActionEncode
	}
	return ActionCopy
}

// WithNote returns a copy of the plan with note appended.
func (p TrackPlan) WithNote(note string) TrackPlan {
	notes := make([]string, 0, len(p.Notes)+1)
	notes = append(notes, p.Notes...)
	p.Notes = append(notes, note)
	return p
}

// WithArt returns a copy of the plan carrying art.
func (p TrackPlan) WithArt(art ArtSource) TrackPlan {
	p.Notes = append([]string(nil), p.Notes...)
	p.Art = art
	return p
}

const (
	ActionEncode = "encode"
	ActionCopy   = "copy"
)

type ArtKind string

const (
	ArtFolder   ArtKind = "folder"
	ArtEmbedded ArtKind = "embedded"
	ArtNone     ArtKind = "none"
)

// ArtSource records where a plan's cover comes from and the temp files
// produced for it.
type ArtSource struct {
	Kind           ArtKind `json:"kind"`
	Path           string  `json:"path,omitempty"`
	StreamIndex    int     `json:"streamIndex"`
	Detail         string  `json:"detail,omitempty"`
	RawPath        string  `json:"rawPath,omitempty"`
	NormalizedPath string  `json:"normalizedPath,omitempty"`
}

// NoArt is the art source of a plan without a cover.
func NoArt() ArtSource {
	return ArtSource{Kind: ArtNone, StreamIndex: -1}
}

// Label renders the art source for previews.
func (a ArtSource) Label() string {
	if a.Kind == "" {
		return string(ArtNone)
	}
	if a.Detail == "" {
		return string(a.Kind)
	}
	return string(a.Kind) + " [" + a.Detail + "]"
}

// TempFiles lists the art temp files that exist for cleanup.
func (a ArtSource) TempFiles() []string {
	var out []string
	if a.RawPath != "" {
		out = append(out, a.RawPath)
	}
	if a.NormalizedPath != "" {
		out = append(out, a.NormalizedPath)
	}
	return out
}

// TagMap keys.
const (
	TagArtist      = "artist"
	TagAlbum       = "album"
	TagAlbumArtist = "albumartist"
	TagTitle       = "title"
	TagDate        = "date"
	TagGenre       = "genre"
	TagTrack       = "track"
	TagTrackTotal  = "tracktotal"
	TagDisc        = "disc"
	TagDiscTotal   = "disctotal"
)

// TagMap is a generic tag set keyed by the constants above.
type TagMap map[string]string

// MediaSnapshot is a best-effort view of an audio file's properties.
type MediaSnapshot struct {
	Exists      bool    `json:"exists" msgpack:"exists"`
	BitRate     int     `json:"bitRate" msgpack:"bitRate"`
	SampleRate  int     `json:"sampleRate" msgpack:"sampleRate"`
	Channels    int     `json:"channels" msgpack:"channels"`
	DurationSec float64 `json:"durationSec" msgpack:"durationSec"`
}

// StageTiming records how long one pipeline stage took.
type StageTiming struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"durationMs"`
}

// LogEntry is a single line of a track's job log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"` // info, warn, error, debug
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
}

// RunResult is the outcome of one pipeline execution.
type RunResult struct {
	Plan          TrackPlan     `json:"plan"`
	Success       bool          `json:"success"`
	Message       string        `json:"message"`
	Error         string        `json:"error,omitempty"`
	Action        string        `json:"action"`
	FinalPath     string        `json:"finalPath,omitempty"`
	State         string        `json:"state"`
	Stages        []StageTiming `json:"stages,omitempty"`
	Before        MediaSnapshot `json:"before"`
	After         MediaSnapshot `json:"after"`
	SourceDeleted bool          `json:"sourceDeleted"`
	StartedAt     time.Time     `json:"startedAt"`
	Elapsed       time.Duration `json:"elapsed"`
	Log           []LogEntry    `json:"log,omitempty"`

	// Raw ffprobe documents for the probe archive.
	RawBefore []byte `json:"-"`
	RawAfter  []byte `json:"-"`
}

// Status constants
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusRunning = "running"

	ModeExecute = "execute"
	ModeDryRun  = "dry-run"
)

// Run is a row of the run history.
type Run struct {
	ID           string          `db:"id" json:"id"`
	Mode         string          `db:"mode" json:"mode"`
	RunDir       string          `db:"run_dir" json:"runDir"`
	ManifestPath sql.NullString  `db:"manifest_path" json:"manifestPath,omitempty"`
	InputsJSON   string          `db:"inputs_json" json:"-"`
	SettingsJSON string          `db:"settings_json" json:"-"`
	Status       string          `db:"status" json:"status"`
	StartedAt    time.Time       `db:"started_at" json:"startedAt"`
	FinishedAt   sql.NullTime    `db:"finished_at" json:"finishedAt,omitempty"`
	ElapsedSec   sql.NullFloat64 `db:"elapsed_sec" json:"elapsedSec,omitempty"`
	Total        int             `db:"total" json:"total"`
	OK           int             `db:"ok" json:"ok"`
	Failed       int             `db:"failed" json:"failed"`
	Deleted      int             `db:"deleted" json:"deleted"`

	Inputs []string `db:"-" json:"inputs,omitempty"`
}

// TrackResult is a row of the per-track history.
type TrackResult struct {
	ID            string         `db:"id" json:"id"`
	RunID         string         `db:"run_id" json:"runId"`
	Source        string         `db:"source" json:"source"`
	SourceCodec   string         `db:"source_codec" json:"sourceCodec"`
	Target        string         `db:"target" json:"target"`
	FinalPath     sql.NullString `db:"final_path" json:"finalPath,omitempty"`
	Action        string         `db:"action" json:"action"`
	ArtKind       string         `db:"art_kind" json:"artKind"`
	ArtDetail     string         `db:"art_detail" json:"artDetail"`
	Success       bool           `db:"success" json:"success"`
	ErrorMsg      sql.NullString `db:"error_msg" json:"errorMsg,omitempty"`
	SourceDeleted bool           `db:"source_deleted" json:"sourceDeleted"`
	ElapsedSec    float64        `db:"elapsed_sec" json:"elapsedSec"`
	StartedAt     time.Time      `db:"started_at" json:"startedAt"`
	BeforeJSON    string         `db:"before_json" json:"-"`
	AfterJSON     string         `db:"after_json" json:"-"`

	Before *MediaSnapshot `db:"-" json:"before,omitempty"`
	After  *MediaSnapshot `db:"-" json:"after,omitempty"`
}
