package media

import (
	"encoding/json"
	"testing"

	"github.com/guiyumin/vfetch/internal/core/extractor"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, ""},
		{-5, ""},
		{5, "0:05"},
		{212, "3:32"},
		{599, "9:59"},
		{3599, "59:59"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
		{36000, "10:00:00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.seconds), "FormatDuration(%d)", tt.seconds)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	info := Normalize(platform.Instagram, &extractor.Record{Title: "   "})

	assert.Equal(t, platform.Instagram, info.Platform)
	assert.Equal(t, DefaultTitle, info.Title)
	assert.Equal(t, DefaultUploader, info.Uploader)
	assert.Nil(t, info.DurationSeconds)
	assert.Nil(t, info.DurationFormatted)
	assert.True(t, info.IsPlayable)
	assert.NotNil(t, info.Formats)
	assert.Empty(t, info.Formats)

	// nil durations must serialize as null, formats as []
	raw, err := json.Marshal(info)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"durationSeconds":null`)
	assert.Contains(t, string(raw), `"durationFormatted":null`)
	assert.Contains(t, string(raw), `"formats":[]`)
}

func TestNormalizeFields(t *testing.T) {
	playable := false
	rec := &extractor.Record{
		ID:          "dQw4w9WgXcQ",
		Title:       "Test",
		Duration:    212.7,
		Thumbnail:   "https://i.ytimg.com/hq.jpg",
		Uploader:    "Rick",
		UploadDate:  "20091025",
		Description: "desc",
		WebpageURL:  "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		Playable:    &playable,
		Formats: []extractor.RecordFormat{
			{ID: "18", Ext: "mp4", Height: 360, Filesize: 1000, FPS: 25, VCodec: "avc1", ACodec: "mp4a"},
			{ID: "140", Ext: "m4a", VCodec: "none", ACodec: "mp4a"},
			{ID: "x", Note: "medium", Ext: "webm"},
		},
	}

	info := Normalize(platform.YouTube, rec)

	require.NotNil(t, info.DurationSeconds)
	assert.Equal(t, 212, *info.DurationSeconds)
	require.NotNil(t, info.DurationFormatted)
	assert.Equal(t, "3:32", *info.DurationFormatted)
	assert.Equal(t, "Test", info.Title)
	assert.Equal(t, "Rick", info.Uploader)
	assert.False(t, info.IsPlayable)
	assert.Equal(t, rec.WebpageURL, info.WebpageURL)

	require.Len(t, info.Formats, 3)
	assert.Equal(t, "360p", info.Formats[0].Quality)
	assert.Equal(t, int64(1000), *info.Formats[0].FilesizeBytes)
	assert.Equal(t, 25.0, *info.Formats[0].FPS)
	assert.Equal(t, "avc1", *info.Formats[0].VideoCodec)

	assert.Equal(t, "audio only", info.Formats[1].Quality)
	assert.Nil(t, info.Formats[1].VideoCodec)
	assert.Nil(t, info.Formats[1].FilesizeBytes)

	assert.Equal(t, "medium", info.Formats[2].Quality)
	assert.Nil(t, info.Formats[2].AudioCodec)
}

func TestNormalizeNilRecord(t *testing.T) {
	info := Normalize(platform.TikTok, nil)
	assert.Equal(t, DefaultTitle, info.Title)
	assert.Equal(t, platform.TikTok, info.Platform)
}

func TestResultSummary(t *testing.T) {
	res := &Result{
		Filename:      "Test_20240101T000000-abcd1234.mp4",
		FilesizeBytes: 42,
		DownloadPath:  "/downloads/Test_20240101T000000-abcd1234.mp4",
		SourceInfo:    &Info{Platform: platform.YouTube, Title: "Test", Uploader: "Rick"},
	}

	s := res.Summary()
	assert.Equal(t, "/downloads/Test_20240101T000000-abcd1234.mp4", s.DownloadURL)
	assert.Equal(t, int64(42), s.FilesizeBytes)
	assert.Equal(t, platform.YouTube, s.Platform)
	assert.Equal(t, "Test", s.Title)

	raw, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "thumbnailUrl")
}
