package extractor

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiyumin/vfetch/internal/core/platform"
)

func TestPayloadTrack(t *testing.T) {
	type call struct{ downloaded, total int64 }

	tests := []struct {
		name      string
		size      int64
		wantTotal int64
	}{
		{"known size", 11, 11},
		{"unknown size", -1, -1},
		{"zero size treated as unknown", 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []call
			p := &Payload{Body: io.NopCloser(strings.NewReader("hello world")), Size: tt.size}
			p.Track(func(d, total int64) { calls = append(calls, call{d, total}) })

			rc, err := p.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(data))

			require.NotEmpty(t, calls)
			assert.Equal(t, call{0, tt.wantTotal}, calls[0])
			assert.Equal(t, call{11, tt.wantTotal}, calls[len(calls)-1])
		})
	}
}

func TestPayloadTrackIgnoresStagedFiles(t *testing.T) {
	called := false
	p := &Payload{Path: "/tmp/x.mp4"}
	p.Track(func(d, total int64) { called = true })
	assert.False(t, called)
	assert.Nil(t, p.Body)

	p = &Payload{Body: io.NopCloser(strings.NewReader("x"))}
	p.Track(nil)
	_, wrapped := p.Body.(*progressReader)
	assert.False(t, wrapped)
}

func TestPayloadReleaseOnce(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "staged.mp4")
	require.NoError(t, os.WriteFile(staged, []byte("x"), 0644))

	cleanups := 0
	p := &Payload{Path: staged, Cleanup: func() {
		cleanups++
		os.RemoveAll(dir)
	}}

	rc, err := p.Open()
	require.NoError(t, err)
	rc.Close()

	p.Release()
	p.Release()
	assert.Equal(t, 1, cleanups)
	assert.NoFileExists(t, staged)
}

func TestPayloadOpenEmpty(t *testing.T) {
	_, err := (&Payload{}).Open()
	assert.Error(t, err)
}

func TestServes(t *testing.T) {
	a := NewOEmbed(nil, map[platform.Platform]string{platform.YouTube: "https://www.youtube.com/oembed"})
	assert.True(t, Serves(a, platform.YouTube))
	assert.False(t, Serves(a, platform.Instagram))
}
