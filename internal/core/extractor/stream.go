package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/grafov/m3u8"
	"github.com/guiyumin/vfetch/internal/core/errs"
)

// DefaultUserAgent is sent on every direct media request
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// NewHTTPClient returns the client used for media and metadata requests.
// There is no overall timeout; callers bound requests with their context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return nil
		},
	}
}

// Stream is an open media stream
type Stream struct {
	Body io.ReadCloser
	Ext  string
	Size int64 // -1 when unknown
}

// OpenStream opens a media URL for reading. HLS playlists are resolved to
// their segments and concatenated into a single MPEG-TS stream.
func OpenStream(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) (*Stream, error) {
	const op = "stream.Open"

	resp, err := get(ctx, client, rawURL, headers)
	if err != nil {
		return nil, streamError(ctx, op, err)
	}

	if isHLS(rawURL, resp.Header.Get("Content-Type")) {
		defer resp.Body.Close()
		base := resp.Request.URL
		segments, err := hlsSegments(ctx, client, base, resp.Body, headers, 0)
		if err != nil {
			return nil, err
		}
		return &Stream{
			Body: concatSegments(ctx, client, segments, headers),
			Ext:  "ts",
			Size: -1,
		}, nil
	}

	return &Stream{
		Body: resp.Body,
		Ext:  extFor(resp.Request.URL, resp.Header.Get("Content-Type")),
		Size: resp.ContentLength,
	}, nil
}

func get(ctx context.Context, client *http.Client, rawURL string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errs.E(errs.KindExtractionFailed, "stream.get", err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		kind := errs.KindExtractionFailed
		if resp.StatusCode >= 500 {
			kind = errs.KindBackendUnavailable
		}
		return nil, errs.Errorf(kind, "stream.get", "%s returned status %d", req.URL.Host, resp.StatusCode)
	}
	return resp, nil
}

func streamError(ctx context.Context, op string, err error) error {
	if e := classifyCtx(ctx, op, err); e != nil {
		return e
	}
	if errs.KindOf(err) != errs.KindInternal {
		return err
	}
	return errs.E(errs.KindBackendUnavailable, op, err)
}

func isHLS(rawURL, contentType string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "mpegurl") {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return ext == ".m3u8" || ext == ".m3u"
}

// hlsSegments decodes a playlist and returns absolute segment URLs. Master
// playlists are followed to their highest-bandwidth variant.
func hlsSegments(ctx context.Context, client *http.Client, base *url.URL, body io.Reader, headers map[string]string, depth int) ([]string, error) {
	const op = "stream.hls"

	pl, listType, err := m3u8.DecodeFrom(body, true)
	if err != nil {
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "decode playlist: %v", err)
	}

	switch listType {
	case m3u8.MASTER:
		if depth > 0 {
			return nil, errs.Errorf(errs.KindExtractionFailed, op, "nested master playlist")
		}
		master := pl.(*m3u8.MasterPlaylist)
		var best *m3u8.Variant
		for _, v := range master.Variants {
			if v == nil || v.Iframe {
				continue
			}
			if best == nil || v.Bandwidth > best.Bandwidth {
				best = v
			}
		}
		if best == nil {
			return nil, errs.Errorf(errs.KindExtractionFailed, op, "master playlist has no variants")
		}
		variantURL, err := base.Parse(best.URI)
		if err != nil {
			return nil, errs.E(errs.KindExtractionFailed, op, err)
		}
		resp, err := get(ctx, client, variantURL.String(), headers)
		if err != nil {
			return nil, streamError(ctx, op, err)
		}
		defer resp.Body.Close()
		return hlsSegments(ctx, client, resp.Request.URL, resp.Body, headers, depth+1)

	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		if encrypted(media.Key) {
			return nil, errs.Errorf(errs.KindExtractionFailed, op, "encrypted HLS streams are not supported")
		}
		var urls []string
		for _, seg := range media.Segments {
			// Segments is a ring buffer; unused slots are nil
			if seg == nil {
				continue
			}
			if encrypted(seg.Key) {
				return nil, errs.Errorf(errs.KindExtractionFailed, op, "encrypted HLS streams are not supported")
			}
			u, err := base.Parse(seg.URI)
			if err != nil {
				return nil, errs.E(errs.KindExtractionFailed, op, err)
			}
			urls = append(urls, u.String())
		}
		if len(urls) == 0 {
			return nil, errs.Errorf(errs.KindExtractionFailed, op, "media playlist has no segments")
		}
		return urls, nil
	}

	return nil, errs.Errorf(errs.KindExtractionFailed, op, "unknown playlist type")
}

func encrypted(k *m3u8.Key) bool {
	return k != nil && k.Method != "" && !strings.EqualFold(k.Method, "NONE")
}

// concatSegments streams every segment in order through a pipe. The first
// failure is delivered to the reader.
func concatSegments(ctx context.Context, client *http.Client, segments []string, headers map[string]string) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		for _, seg := range segments {
			resp, err := get(ctx, client, seg, headers)
			if err != nil {
				pw.CloseWithError(fmt.Errorf("fetch segment: %w", err))
				return
			}
			_, err = io.Copy(pw, resp.Body)
			resp.Body.Close()
			if err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.Close()
	}()
	return pr
}

var contentTypeExt = map[string]string{
	"video/mp4":       "mp4",
	"video/webm":      "webm",
	"video/quicktime": "mov",
	"video/mp2t":      "ts",
	"audio/mpeg":      "mp3",
	"audio/mp4":       "m4a",
	"audio/aac":       "aac",
	"image/jpeg":      "jpg",
	"image/png":       "png",
	"image/webp":      "webp",
}

// extFor picks a file extension from the URL path, then the content type
func extFor(u *url.URL, contentType string) string {
	if u != nil {
		if ext := strings.ToLower(strings.TrimPrefix(path.Ext(u.Path), ".")); ext != "" && len(ext) <= 5 {
			return ext
		}
	}
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if ext, ok := contentTypeExt[ct]; ok {
		return ext
	}
	return "mp4"
}
