// Package media holds the canonical metadata shape every adapter converges to.
package media

import (
	"github.com/guiyumin/vfetch/internal/core/platform"
)

// Info is the normalized metadata of one piece of media
type Info struct {
	Platform          platform.Platform `json:"platform"`
	Title             string            `json:"title"`
	DurationSeconds   *int              `json:"durationSeconds"`
	DurationFormatted *string           `json:"durationFormatted"`
	ThumbnailURL      string            `json:"thumbnailUrl,omitempty"`
	Uploader          string            `json:"uploader"`
	UploadDate        string            `json:"uploadDate,omitempty"`
	Description       string            `json:"description,omitempty"`
	WebpageURL        string            `json:"webpageUrl"`
	Formats           []Format          `json:"formats"`
	IsPlayable        bool              `json:"isPlayable"`

	// ID is the source's own identifier, when known
	ID string `json:"id,omitempty"`
}

// Format describes one available rendition. Treat as immutable once built.
type Format struct {
	Quality       string   `json:"quality"`
	Extension     string   `json:"extension"`
	FilesizeBytes *int64   `json:"filesizeBytes,omitempty"`
	FPS           *float64 `json:"fps,omitempty"`
	VideoCodec    *string  `json:"videoCodec,omitempty"`
	AudioCodec    *string  `json:"audioCodec,omitempty"`
}

// Result describes a media file that has been completely written to the
// download directory. It never represents a partial download.
type Result struct {
	Filename      string `json:"filename"`
	FilesizeBytes int64  `json:"filesizeBytes"`
	DownloadPath  string `json:"downloadPath"`
	SourceInfo    *Info  `json:"sourceInfo"`
}

// Summary is the public shape of a finished retrieval
type Summary struct {
	Filename      string            `json:"filename"`
	DownloadURL   string            `json:"downloadUrl"`
	FilesizeBytes int64             `json:"filesizeBytes"`
	Platform      platform.Platform `json:"platform"`
	Title         string            `json:"title"`
	Uploader      string            `json:"uploader,omitempty"`
	ThumbnailURL  string            `json:"thumbnailUrl,omitempty"`
}

// Summary flattens the result for callers that only need the file and a few
// identifying fields.
func (r *Result) Summary() Summary {
	s := Summary{
		Filename:      r.Filename,
		DownloadURL:   "/downloads/" + r.Filename,
		FilesizeBytes: r.FilesizeBytes,
	}
	if r.SourceInfo != nil {
		s.Platform = r.SourceInfo.Platform
		s.Title = r.SourceInfo.Title
		s.Uploader = r.SourceInfo.Uploader
		s.ThumbnailURL = r.SourceInfo.ThumbnailURL
	}
	return s
}
