package extractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOEmbedFetchInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "https://www.tiktok.com/@user/video/1", r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"title":"Dance","author_name":"user","thumbnail_url":"https://p16.tiktokcdn.com/x.jpg","embed_product_id":"1"}`))
	}))
	defer srv.Close()

	a := NewOEmbed(srv.Client(), map[platform.Platform]string{platform.TikTok: srv.URL})
	assert.Equal(t, []platform.Platform{platform.TikTok}, a.Platforms())
	assert.False(t, a.CanDownload())

	rec, err := a.FetchInfo(context.Background(), "https://www.tiktok.com/@user/video/1")
	require.NoError(t, err)
	assert.Equal(t, "Dance", rec.Title)
	assert.Equal(t, "user", rec.Uploader)
	assert.Equal(t, "1", rec.ID)
	assert.Equal(t, "https://www.tiktok.com/@user/video/1", rec.WebpageURL)
}

func TestOEmbedErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   errs.Kind
	}{
		{"not found", http.StatusNotFound, "", errs.KindExtractionFailed},
		{"server error", http.StatusBadGateway, "", errs.KindBackendUnavailable},
		{"malformed", http.StatusOK, "<html>", errs.KindExtractionFailed},
		{"empty object", http.StatusOK, "{}", errs.KindExtractionFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			a := NewOEmbed(srv.Client(), map[platform.Platform]string{platform.YouTube: srv.URL})
			_, err := a.FetchInfo(context.Background(), "https://youtu.be/abc")
			assert.Equal(t, tt.want, errs.KindOf(err), "got %v", err)
		})
	}

	t.Run("platform without endpoint", func(t *testing.T) {
		a := NewOEmbed(nil, map[platform.Platform]string{platform.YouTube: "http://127.0.0.1:1"})
		_, err := a.FetchInfo(context.Background(), "https://www.instagram.com/reel/abc/")
		assert.True(t, errs.Is(err, errs.KindExtractionFailed))
	})

	t.Run("unreachable endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		addr := srv.URL
		srv.Close()
		a := NewOEmbed(nil, map[platform.Platform]string{platform.YouTube: addr})
		_, err := a.FetchInfo(context.Background(), "https://youtu.be/abc")
		assert.True(t, errs.Is(err, errs.KindBackendUnavailable), "got %v", err)
	})
}
