package extractor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hlsServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/master.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		io.WriteString(w, "#EXTM3U\n"+
			"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=200000\nlow/index.m3u8\n"+
			"#EXT-X-STREAM-INF:PROGRAM-ID=1,BANDWIDTH=900000\nhigh/index.m3u8\n")
	})
	mux.HandleFunc("/high/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n"+
			"#EXTINF:10.0,\nseg0.ts\n#EXTINF:10.0,\nseg1.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/high/seg0.ts", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "AAA") })
	mux.HandleFunc("/high/seg1.ts", func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "BBB") })
	mux.HandleFunc("/clip.mp4", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://www.instagram.com/reel/x/", r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "video/mp4")
		io.WriteString(w, "mp4data")
	})
	return httptest.NewServer(mux)
}

func TestOpenStreamDirect(t *testing.T) {
	srv := hlsServer(t)
	defer srv.Close()

	s, err := OpenStream(context.Background(), srv.Client(), srv.URL+"/clip.mp4", map[string]string{"Referer": "https://www.instagram.com/reel/x/"})
	require.NoError(t, err)
	defer s.Body.Close()

	data, err := io.ReadAll(s.Body)
	require.NoError(t, err)
	assert.Equal(t, "mp4data", string(data))
	assert.Equal(t, "mp4", s.Ext)
	assert.Equal(t, int64(7), s.Size)
}

func TestOpenStreamHLS(t *testing.T) {
	srv := hlsServer(t)
	defer srv.Close()

	s, err := OpenStream(context.Background(), srv.Client(), srv.URL+"/master.m3u8", nil)
	require.NoError(t, err)
	defer s.Body.Close()

	data, err := io.ReadAll(s.Body)
	require.NoError(t, err)
	assert.Equal(t, "AAABBB", string(data))
	assert.Equal(t, "ts", s.Ext)
	assert.Equal(t, int64(-1), s.Size)
}

func TestOpenStreamStatus(t *testing.T) {
	srv := hlsServer(t)
	defer srv.Close()

	_, err := OpenStream(context.Background(), srv.Client(), srv.URL+"/missing.mp4", nil)
	assert.True(t, errs.Is(err, errs.KindExtractionFailed), "got %v", err)
}

func TestExtFor(t *testing.T) {
	u, _ := url.Parse("https://cdn.example.com/v/abc.webm?x=1")
	assert.Equal(t, "webm", extFor(u, ""))
	u, _ = url.Parse("https://cdn.example.com/v/abc")
	assert.Equal(t, "m4a", extFor(u, "audio/mp4; charset=binary"))
	assert.Equal(t, "mp4", extFor(u, "application/octet-stream"))
}

func TestIsMediaRequest(t *testing.T) {
	assert.True(t, isMediaRequest("https://scontent.cdninstagram.com/v/t50/abc.mp4?efg=1"))
	assert.True(t, isMediaRequest("https://cdn.example.com/master.M3U8"))
	assert.False(t, isMediaRequest("blob:https://www.instagram.com/123"))
	assert.False(t, isMediaRequest("https://www.instagram.com/static/app.js"))
}

func TestPlaylistID(t *testing.T) {
	assert.Equal(t, "PL123", PlaylistID("https://www.youtube.com/watch?v=abc&list=PL123"))
	assert.Equal(t, "PL9", PlaylistID("https://www.youtube.com/playlist?list=PL9"))
	assert.Equal(t, "", PlaylistID("https://www.youtube.com/watch?v=abc"))

	_, err := ListPlaylist(context.Background(), "https://www.youtube.com/watch?v=abc", 0)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
	_, err = ListPlaylist(context.Background(), "https://vimeo.com/1?list=x", 0)
	assert.True(t, errs.Is(err, errs.KindUnsupportedPlatform))
}
