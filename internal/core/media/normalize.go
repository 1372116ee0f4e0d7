package media

import (
	"fmt"
	"strings"

	"github.com/guiyumin/vfetch/internal/core/extractor"
	"github.com/guiyumin/vfetch/internal/core/platform"
)

const (
	DefaultTitle    = "Untitled"
	DefaultUploader = "Unknown"
)

// Normalize converts an adapter record into Info, applying defaults for
// anything the backend left out.
func Normalize(p platform.Platform, rec *extractor.Record) *Info {
	if rec == nil {
		rec = &extractor.Record{}
	}

	info := &Info{
		Platform:     p,
		ID:           rec.ID,
		Title:        orDefault(rec.Title, DefaultTitle),
		Uploader:     orDefault(rec.Uploader, DefaultUploader),
		ThumbnailURL: strings.TrimSpace(rec.Thumbnail),
		UploadDate:   strings.TrimSpace(rec.UploadDate),
		Description:  rec.Description,
		WebpageURL:   rec.WebpageURL,
		Formats:      make([]Format, 0, len(rec.Formats)),
		IsPlayable:   true,
	}
	if rec.Playable != nil {
		info.IsPlayable = *rec.Playable
	}

	if secs := int(rec.Duration); secs > 0 {
		formatted := FormatDuration(secs)
		info.DurationSeconds = &secs
		info.DurationFormatted = &formatted
	}

	for _, f := range rec.Formats {
		info.Formats = append(info.Formats, normalizeFormat(f))
	}
	return info
}

func normalizeFormat(f extractor.RecordFormat) Format {
	out := Format{
		Quality:   qualityLabel(f),
		Extension: f.Ext,
	}
	if f.Filesize > 0 {
		size := f.Filesize
		out.FilesizeBytes = &size
	}
	if f.FPS > 0 {
		fps := f.FPS
		out.FPS = &fps
	}
	out.VideoCodec = codec(f.VCodec)
	out.AudioCodec = codec(f.ACodec)
	return out
}

// qualityLabel returns a human-readable quality label
func qualityLabel(f extractor.RecordFormat) string {
	if f.Height > 0 {
		return fmt.Sprintf("%dp", f.Height)
	}
	if f.Note != "" {
		return f.Note
	}
	if f.VCodec == "none" && f.ACodec != "" && f.ACodec != "none" {
		return "audio only"
	}
	return "unknown"
}

// codec maps the "none" sentinel and empty strings to nil
func codec(c string) *string {
	if c == "" || c == "none" {
		return nil
	}
	return &c
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// FormatDuration renders seconds as H:MM:SS, or M:SS under an hour. It
// returns "" when seconds is not positive (unknown duration).
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return ""
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
