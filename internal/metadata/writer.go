package metadata

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/rs/zerolog"

	"github.com/nlsukhde/ipod-format/internal/analyzer"
	"github.com/nlsukhde/ipod-format/internal/models"
)

// CoverDescription is the description of the single APIC frame written.
const CoverDescription = "Cover (front)"

// TagVersion is the ID3v2 minor version every write produces.
const TagVersion = 3

// coveredFrames are replaced wholesale on every write.
var coveredFrames = []string{"TIT2", "TALB", "TPE1", "TPE2", "TCON", "TRCK", "TPOS", "TYER", "TDRC"}

// StripPattern selects frames to remove: every frame with ID, or, when Desc
// is set, only TXXX/COMM frames whose description matches case-insensitively.
type StripPattern struct {
	ID   string
	Desc string
}

// ParseStripPattern parses "PRIV" or "TXXX:iTunNORM".
func ParseStripPattern(s string) (StripPattern, error) {
	id, desc, qualified := strings.Cut(strings.TrimSpace(s), ":")
	if len(id) != 4 {
		return StripPattern{}, fmt.Errorf("bad frame id in %q", s)
	}
	if qualified {
		if id != "TXXX" && id != "COMM" {
			return StripPattern{}, fmt.Errorf("description match only works for TXXX and COMM, got %q", s)
		}
		if desc == "" {
			return StripPattern{}, fmt.Errorf("empty description in %q", s)
		}
	}
	return StripPattern{ID: id, Desc: desc}, nil
}

// Writer rewrites a produced file's tag into the reduced frame set.
type Writer struct {
	strip  []StripPattern
	logger zerolog.Logger
}

// New builds a Writer from settings. Strip patterns are validated by config
// loading; malformed ones are logged and ignored here.
func New(settings models.Settings, logger zerolog.Logger) *Writer {
	w := &Writer{logger: logger}
	for _, s := range settings.StripFrames {
		p, err := ParseStripPattern(s)
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring strip pattern")
			continue
		}
		w.strip = append(w.strip, p)
	}
	return w
}

// WriteTags opens path's tag, applies the strip patterns, replaces the text
// frames from tags and embeds coverPath as the only front cover. An empty
// coverPath leaves the file without pictures.
func (w *Writer) WriteTags(path string, tags models.TagMap, coverPath string) error {
	var cover []byte
	if coverPath != "" {
		data, err := os.ReadFile(coverPath)
		if err != nil {
			return fmt.Errorf("read cover: %w", err)
		}
		cover = data
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return fmt.Errorf("open tag: %w", err)
	}
	defer tag.Close()

	tag.SetVersion(TagVersion)
	w.applyStrip(tag)

	for _, id := range coveredFrames {
		tag.DeleteFrames(id)
	}

	set := func(id, value string) {
		if value = strings.TrimSpace(value); value != "" {
			tag.AddTextFrame(id, id3v2.EncodingUTF16, value)
		}
	}

	set("TIT2", tags[models.TagTitle])
	set("TALB", tags[models.TagAlbum])
	set("TPE1", tags[models.TagArtist])
	set("TPE2", tags[models.TagAlbumArtist])
	set("TCON", tags[models.TagGenre])
	set("TRCK", numberPair(tags[models.TagTrack], tags[models.TagTrackTotal]))
	set("TPOS", numberPair(tags[models.TagDisc], tags[models.TagDiscTotal]))
	if year := analyzer.Year(tags); year > 0 {
		set("TYER", fmt.Sprintf("%04d", year))
	}

	tag.DeleteFrames("APIC")
	if cover != nil {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingISO,
			MimeType:    mimeFor(coverPath),
			PictureType: id3v2.PTFrontCover,
			Description: CoverDescription,
			Picture:     cover,
		})
	}

	if err := tag.Save(); err != nil {
		return fmt.Errorf("save tag: %w", err)
	}
	w.logger.Debug().Str("path", path).Int("frames", tag.Count()).Msg("Tags written")
	return nil
}

func (w *Writer) applyStrip(tag *id3v2.Tag) {
	for _, p := range w.strip {
		if p.Desc == "" {
			tag.DeleteFrames(p.ID)
			continue
		}

		frames := tag.GetFrames(p.ID)
		tag.DeleteFrames(p.ID)
		for _, f := range frames {
			switch fr := f.(type) {
			case id3v2.UserDefinedTextFrame:
				if !strings.EqualFold(fr.Description, p.Desc) {
					tag.AddUserDefinedTextFrame(fr)
				}
			case id3v2.CommentFrame:
				if !strings.EqualFold(fr.Description, p.Desc) {
					tag.AddCommentFrame(fr)
				}
			default:
				tag.AddFrame(p.ID, f)
			}
		}
	}
}

// numberPair renders "n" or "n/total". A total without a number is dropped.
func numberPair(n, total string) string {
	n = strings.TrimSpace(n)
	if n == "" {
		return ""
	}
	if total = strings.TrimSpace(total); total != "" {
		return n + "/" + total
	}
	return n
}

func mimeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return models.ImagePNG.MimeType()
	}
	return models.ImageJPEG.MimeType()
}

// Cover describes one embedded picture.
type Cover struct {
	MimeType    string `json:"mimeType"`
	PictureType byte   `json:"pictureType"`
	Description string `json:"description"`
	Format      string `json:"format"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// TagInfo is what Inspect reports about a file's ID3 tag.
type TagInfo struct {
	Version  byte              `json:"version"`
	Text     map[string]string `json:"text"`
	UserText []string          `json:"userText,omitempty"`
	Comments []string          `json:"comments,omitempty"`
	FrameIDs []string          `json:"frameIds"`
	Covers   []Cover           `json:"covers"`
}

// Inspect reads the ID3 tag of path. Pictures that fail to decode are
// reported with an empty Format.
func Inspect(path string) (*TagInfo, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("open tag: %w", err)
	}
	defer tag.Close()

	info := &TagInfo{
		Version: tag.Version(),
		Text:    make(map[string]string),
	}

	for id, frames := range tag.AllFrames() {
		info.FrameIDs = append(info.FrameIDs, id)
		for _, f := range frames {
			switch fr := f.(type) {
			case id3v2.TextFrame:
				info.Text[id] = fr.Text
			case id3v2.UserDefinedTextFrame:
				info.UserText = append(info.UserText, fr.Description)
			case id3v2.CommentFrame:
				info.Comments = append(info.Comments, fr.Description)
			case id3v2.PictureFrame:
				info.Covers = append(info.Covers, inspectPicture(fr))
			}
		}
	}
	sort.Strings(info.FrameIDs)
	sort.Strings(info.UserText)
	sort.Strings(info.Comments)
	return info, nil
}

func inspectPicture(pf id3v2.PictureFrame) Cover {
	c := Cover{
		MimeType:    pf.MimeType,
		PictureType: pf.PictureType,
		Description: pf.Description,
	}
	if cfg, format, err := image.DecodeConfig(bytes.NewReader(pf.Picture)); err == nil {
		c.Format = format
		c.Width = cfg.Width
		c.Height = cfg.Height
	}
	return c
}
