package extractor

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/ytget/ytdlp/v2"
)

// PlaylistEntry is one video of a playlist
type PlaylistEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// PlaylistID extracts the list= parameter of a YouTube playlist URL
func PlaylistID(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return u.Query().Get("list")
}

// ListPlaylist enumerates a YouTube playlist. limit <= 0 means no limit.
func ListPlaylist(ctx context.Context, rawURL string, limit int) ([]PlaylistEntry, error) {
	const op = "playlist.List"

	if platform.Classify(rawURL) != platform.YouTube {
		return nil, errs.Errorf(errs.KindUnsupportedPlatform, op, "playlists are only supported for YouTube")
	}
	id := PlaylistID(rawURL)
	if id == "" {
		return nil, errs.Errorf(errs.KindInvalidInput, op, "URL has no list parameter")
	}

	items, err := ytdlp.New().GetPlaylistItemsAll(ctx, id, limit)
	if err != nil {
		if e := classifyCtx(ctx, op, err); e != nil {
			return nil, e
		}
		return nil, errs.E(errs.KindExtractionFailed, op, err)
	}

	entries := make([]PlaylistEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, PlaylistEntry{
			ID:    it.VideoID,
			Title: it.Title,
			URL:   fmt.Sprintf("https://www.youtube.com/watch?v=%s", it.VideoID),
		})
	}
	return entries, nil
}
