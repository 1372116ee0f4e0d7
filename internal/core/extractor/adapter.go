package extractor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/guiyumin/vfetch/internal/core/platform"
)

// Adapter wraps one external extraction mechanism
type Adapter interface {
	// Name returns the adapter name used in chain configuration (e.g., "ytdlp", "browser")
	Name() string

	// Platforms lists the platforms this adapter can serve
	Platforms() []platform.Platform

	// CanDownload reports whether FetchMedia is supported
	CanDownload() bool

	// Available reports whether the backing tool is usable. The check runs
	// once per process; later calls return the cached result.
	Available() error

	// FetchInfo retrieves raw metadata for the URL
	FetchInfo(ctx context.Context, url string) (*Record, error)

	// FetchMedia retrieves the media itself. The caller must Release the payload.
	FetchMedia(ctx context.Context, url string, opts Options) (*Payload, error)
}

// Record is the raw metadata an adapter extracted, before normalization.
// Zero values mean "not provided by the backend".
type Record struct {
	ID          string
	Title       string
	Description string
	Duration    float64 // seconds
	Thumbnail   string
	Uploader    string
	UploadDate  string
	WebpageURL  string
	Formats     []RecordFormat
	Playable    *bool
}

// RecordFormat is one format as reported by the backend
type RecordFormat struct {
	ID       string
	Note     string // "1080p", "medium", ...
	Ext      string
	Height   int
	Filesize int64
	FPS      float64
	VCodec   string
	ACodec   string
}

// Options tune a media download
type Options struct {
	// Quality is an opaque hint ("best", "720p", "audio")
	Quality string

	// Progress, when set, is called as bytes arrive. total is -1 when unknown.
	Progress func(downloaded, total int64)
}

// Payload is the result of FetchMedia: either an open stream or a file the
// adapter staged outside the download directory.
type Payload struct {
	Body io.ReadCloser
	Path string
	Ext  string // without leading dot
	Size int64  // -1 when unknown

	// Cleanup removes whatever the adapter staged (temp dirs, browser state)
	Cleanup func()

	releaseOnce sync.Once
}

// Open returns a reader over the payload content
func (p *Payload) Open() (io.ReadCloser, error) {
	if p.Body != nil {
		return p.Body, nil
	}
	if p.Path == "" {
		return nil, fmt.Errorf("payload has neither body nor path")
	}
	return os.Open(p.Path)
}

// Release closes the body and runs Cleanup. Safe to call more than once.
func (p *Payload) Release() {
	p.releaseOnce.Do(func() {
		if p.Body != nil {
			p.Body.Close()
		}
		if p.Cleanup != nil {
			p.Cleanup()
		}
	})
}

// Track reports bytes read from Body to fn. Payloads staged on disk are
// left alone; their adapters report progress while staging.
func (p *Payload) Track(fn func(downloaded, total int64)) {
	if fn == nil || p.Body == nil {
		return
	}
	total := p.Size
	if total <= 0 {
		total = -1
	}
	fn(0, total)
	p.Body = &progressReader{ReadCloser: p.Body, total: total, fn: fn}
}

type progressReader struct {
	io.ReadCloser
	current int64
	total   int64
	fn      func(downloaded, total int64)
}

func (r *progressReader) Read(b []byte) (int, error) {
	n, err := r.ReadCloser.Read(b)
	if n > 0 {
		r.current += int64(n)
		r.fn(r.current, r.total)
	}
	return n, err
}

// Serves reports whether a lists p among its platforms
func Serves(a Adapter, p platform.Platform) bool {
	for _, candidate := range a.Platforms() {
		if candidate == p {
			return true
		}
	}
	return false
}
