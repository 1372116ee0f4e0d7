package extractor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/tidwall/gjson"
)

// mediaMarkers are substrings that identify a media request on the wire
var mediaMarkers = []string{".mp4", ".m3u8"}

// BrowserAdapter loads the page in a headless browser and intercepts the
// media request the page's own player makes.
type BrowserAdapter struct {
	bin         string
	userDataDir string
	client      *http.Client
	captureWait time.Duration
	probe       *Probe
	recent      *captureCache
}

// NewBrowser creates the browser adapter. bin overrides the browser binary
// (ROD_BROWSER is honoured when empty).
func NewBrowser(bin, userDataDir string, client *http.Client) *BrowserAdapter {
	if bin == "" {
		bin = os.Getenv("ROD_BROWSER")
	}
	if client == nil {
		client = NewHTTPClient()
	}
	a := &BrowserAdapter{
		bin:         bin,
		userDataDir: userDataDir,
		client:      client,
		captureWait: 15 * time.Second,
		recent:      newCaptureCache(captureTTL),
	}
	a.probe = NewProbe(a.lookBrowser)
	return a
}

func (a *BrowserAdapter) Name() string { return "browser" }

func (a *BrowserAdapter) Platforms() []platform.Platform {
	return []platform.Platform{platform.Instagram, platform.TikTok, platform.Snapchat, platform.Twitter}
}

func (a *BrowserAdapter) CanDownload() bool { return true }
func (a *BrowserAdapter) Available() error  { return a.probe.Err() }

func (a *BrowserAdapter) lookBrowser() error {
	const op = "browser.probe"
	if a.bin != "" {
		if _, err := os.Stat(a.bin); err != nil {
			return errs.E(errs.KindBackendUnavailable, op, err)
		}
		return nil
	}
	path, has := launcher.LookPath()
	if !has {
		return errs.Errorf(errs.KindBackendUnavailable, op, "no Chromium-compatible browser found")
	}
	a.bin = path
	return nil
}

// capture is what one page visit yields
type capture struct {
	mediaURL    string
	title       string
	description string
	image       string
	pageURL     string
	origin      string
}

func (a *BrowserAdapter) FetchInfo(ctx context.Context, rawURL string) (*Record, error) {
	const op = "browser.FetchInfo"
	if err := a.Available(); err != nil {
		return nil, err
	}

	c, err := a.visit(ctx, op, rawURL)
	if err != nil {
		return nil, err
	}
	if c.mediaURL == "" && c.title == "" {
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "page exposed neither media nor metadata")
	}
	if c.mediaURL != "" {
		a.recent.put(rawURL, c)
	}

	return &Record{
		Title:       c.title,
		Description: c.description,
		Thumbnail:   c.image,
		WebpageURL:  c.pageURL,
	}, nil
}

func (a *BrowserAdapter) FetchMedia(ctx context.Context, rawURL string, opts Options) (*Payload, error) {
	const op = "browser.FetchMedia"
	if err := a.Available(); err != nil {
		return nil, err
	}

	// A capture from a recent FetchInfo saves a second page load
	if c, ok := a.recent.take(rawURL); ok {
		if stream, err := OpenStream(ctx, a.client, c.mediaURL, c.headers()); err == nil {
			return &Payload{Body: stream.Body, Ext: stream.Ext, Size: stream.Size}, nil
		}
		if e := classifyCtx(ctx, op, ctx.Err()); e != nil {
			return nil, e
		}
	}

	c, err := a.visit(ctx, op, rawURL)
	if err != nil {
		return nil, err
	}
	if c.mediaURL == "" {
		return nil, errs.Errorf(errs.KindExtractionFailed, op, "no media stream found")
	}

	stream, err := OpenStream(ctx, a.client, c.mediaURL, c.headers())
	if err != nil {
		return nil, err
	}
	return &Payload{Body: stream.Body, Ext: stream.Ext, Size: stream.Size}, nil
}

// captureTTL bounds reuse of a captured media URL; signed URLs expire
const captureTTL = 2 * time.Minute

// captureCache holds captures by page URL until taken or expired
type captureCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cachedCapture
}

type cachedCapture struct {
	c       *capture
	expires time.Time
}

func newCaptureCache(ttl time.Duration) *captureCache {
	return &captureCache{ttl: ttl, now: time.Now, entries: make(map[string]cachedCapture)}
}

func (cc *captureCache) put(pageURL string, c *capture) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	now := cc.now()
	for k, e := range cc.entries {
		if now.After(e.expires) {
			delete(cc.entries, k)
		}
	}
	cc.entries[pageURL] = cachedCapture{c: c, expires: now.Add(cc.ttl)}
}

// take removes and returns a live capture for pageURL
func (cc *captureCache) take(pageURL string) (*capture, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	e, ok := cc.entries[pageURL]
	if !ok {
		return nil, false
	}
	delete(cc.entries, pageURL)
	if cc.now().After(e.expires) {
		return nil, false
	}
	return e.c, true
}

func (c *capture) headers() map[string]string {
	return map[string]string{"Referer": c.pageURL, "Origin": c.origin}
}

func (a *BrowserAdapter) visit(ctx context.Context, op, rawURL string) (*capture, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, errs.E(errs.KindExtractionFailed, op, err)
	}

	l := a.launcher().Context(ctx)
	defer l.Cleanup()

	controlURL, err := l.Launch()
	if err != nil {
		if e := classifyCtx(ctx, op, err); e != nil {
			return nil, e
		}
		return nil, errs.E(errs.KindBackendUnavailable, op, fmt.Errorf("launch browser: %w", err))
	}

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, errs.E(errs.KindBackendUnavailable, op, fmt.Errorf("connect browser: %w", err))
	}
	defer browser.Close()

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, errs.E(errs.KindBackendUnavailable, op, fmt.Errorf("open page: %w", err))
	}
	defer page.Close()

	c := &capture{
		pageURL: rawURL,
		origin:  fmt.Sprintf("%s://%s", pageURL.Scheme, pageURL.Host),
	}
	c.mediaURL = a.captureFromNetwork(ctx, page, rawURL)

	if err := a.readMeta(page, c); err != nil {
		if e := classifyCtx(ctx, op, err); e != nil {
			return nil, e
		}
		return nil, errs.E(errs.KindExtractionFailed, op, err)
	}
	return c, nil
}

// captureFromNetwork navigates and returns the first media request seen
func (a *BrowserAdapter) captureFromNetwork(ctx context.Context, page *rod.Page, rawURL string) string {
	_ = proto.NetworkEnable{}.Call(page)

	found := make(chan string, 1)
	waitCtx, cancel := context.WithTimeout(ctx, a.captureWait)
	defer cancel()

	listenerCtx, stopListener := context.WithCancel(ctx)
	listenerDone := make(chan struct{})

	go func() {
		defer close(listenerDone)
		page.Context(listenerCtx).EachEvent(func(ev *proto.NetworkRequestWillBeSent) {
			if isMediaRequest(ev.Request.URL) {
				select {
				case found <- ev.Request.URL:
				default:
				}
			}
		})()
	}()

	navCtx, navCancel := context.WithTimeout(waitCtx, 10*time.Second)
	_ = page.Context(navCtx).Navigate(rawURL)
	_ = page.Context(navCtx).WaitLoad()
	navCancel()

	var result string
	select {
	case result = <-found:
	case <-waitCtx.Done():
		select {
		case result = <-found:
		default:
		}
	}

	stopListener()
	<-listenerDone
	return result
}

func isMediaRequest(reqURL string) bool {
	lower := strings.ToLower(reqURL)
	if strings.HasPrefix(lower, "blob:") || strings.HasPrefix(lower, "data:") {
		return false
	}
	for _, m := range mediaMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

const metaScript = `() => {
	const m = (key) => {
		const el = document.querySelector('meta[property="' + key + '"]') ||
			document.querySelector('meta[name="' + key + '"]');
		return el ? (el.getAttribute('content') || '') : '';
	};
	return JSON.stringify({
		title: m('og:title') || document.title || '',
		description: m('og:description'),
		image: m('og:image'),
		video: m('og:video:secure_url') || m('og:video:url') || m('og:video'),
	});
}`

func (a *BrowserAdapter) readMeta(page *rod.Page, c *capture) error {
	res, err := page.Eval(metaScript)
	if err != nil {
		return fmt.Errorf("read page metadata: %w", err)
	}
	doc := gjson.Parse(res.Value.String())
	c.title = strings.TrimSpace(doc.Get("title").String())
	c.description = doc.Get("description").String()
	c.image = doc.Get("image").String()
	if c.mediaURL == "" {
		c.mediaURL = doc.Get("video").String()
	}
	return nil
}

func (a *BrowserAdapter) launcher() *launcher.Launcher {
	l := launcher.New().
		Headless(true).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("disable-extensions").
		Set("disable-background-networking").
		Set("disable-sync").
		Set("no-first-run").
		Set("mute-audio").
		Set("window-size", "1920,1080").
		Set("user-agent", DefaultUserAgent)

	if a.userDataDir != "" {
		l = l.UserDataDir(a.userDataDir)
	}
	if a.bin != "" {
		l = l.Bin(a.bin)
	}
	return l
}
