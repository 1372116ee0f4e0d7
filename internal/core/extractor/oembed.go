package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/tidwall/gjson"
)

// Public oEmbed endpoints that need no token
var DefaultOEmbedEndpoints = map[platform.Platform]string{
	platform.YouTube: "https://www.youtube.com/oembed",
	platform.TikTok:  "https://www.tiktok.com/oembed",
}

const maxOEmbedBody = 1 << 20

// OEmbedAdapter reads metadata from a platform's oEmbed endpoint. It cannot download.
type OEmbedAdapter struct {
	client    *http.Client
	endpoints map[platform.Platform]string
	platforms []platform.Platform
}

// NewOEmbed creates the adapter. Nil endpoints means DefaultOEmbedEndpoints.
func NewOEmbed(client *http.Client, endpoints map[platform.Platform]string) *OEmbedAdapter {
	if client == nil {
		client = NewHTTPClient()
	}
	if endpoints == nil {
		endpoints = DefaultOEmbedEndpoints
	}
	a := &OEmbedAdapter{client: client, endpoints: endpoints}
	for _, p := range platform.All() {
		if endpoints[p] != "" {
			a.platforms = append(a.platforms, p)
		}
	}
	return a
}

func (a *OEmbedAdapter) Name() string                   { return "oembed" }
func (a *OEmbedAdapter) Platforms() []platform.Platform { return a.platforms }
func (a *OEmbedAdapter) CanDownload() bool              { return false }

// Available always succeeds: there is no local tool to probe
func (a *OEmbedAdapter) Available() error { return nil }

func (a *OEmbedAdapter) FetchInfo(ctx context.Context, rawURL string) (*Record, error) {
	const op = "oembed.FetchInfo"

	p := platform.Classify(rawURL)
	endpoint := a.endpoints[p]
	if endpoint == "" {
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "no oEmbed endpoint for %s", p)
	}

	q := url.Values{}
	q.Set("url", rawURL)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, errs.E(errs.KindExtractionFailed, op, err)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if e := classifyCtx(ctx, op, err); e != nil {
			return nil, e
		}
		return nil, errs.E(errs.KindBackendUnavailable, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, errs.Errorf(errs.KindBackendUnavailable, op, "endpoint returned status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOEmbedBody))
	if err != nil {
		if e := classifyCtx(ctx, op, err); e != nil {
			return nil, e
		}
		return nil, errs.E(errs.KindBackendUnavailable, op, fmt.Errorf("read body: %w", err))
	}
	if !gjson.ValidBytes(body) {
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "malformed oEmbed response")
	}

	doc := gjson.ParseBytes(body)
	rec := &Record{
		ID:         doc.Get("embed_product_id").String(),
		Title:      doc.Get("title").String(),
		Uploader:   doc.Get("author_name").String(),
		Thumbnail:  doc.Get("thumbnail_url").String(),
		WebpageURL: rawURL,
	}
	if rec.Title == "" && rec.Uploader == "" && rec.Thumbnail == "" {
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "oEmbed response carries no metadata")
	}
	return rec, nil
}

func (a *OEmbedAdapter) FetchMedia(ctx context.Context, rawURL string, opts Options) (*Payload, error) {
	return nil, errs.Errorf(errs.KindExtractionFailed, "oembed.FetchMedia", "oEmbed cannot download media")
}
