// Package retrieval resolves metadata and retrieves media by walking a
// static, per-platform chain of extraction adapters.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/guiyumin/vfetch/internal/core/errs"
	"github.com/guiyumin/vfetch/internal/core/extractor"
	"github.com/guiyumin/vfetch/internal/core/media"
	"github.com/guiyumin/vfetch/internal/core/metrics"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/guiyumin/vfetch/internal/core/storage"
)

const (
	DefaultInfoTimeout     = 30 * time.Second
	DefaultDownloadTimeout = 120 * time.Second
)

// InfoCache is an optional store for resolved metadata
type InfoCache interface {
	GetInfo(ctx context.Context, rawURL string) (*media.Info, bool, error)
	SetInfo(ctx context.Context, rawURL string, info *media.Info) error
	Invalidate(ctx context.Context, rawURL string) error
}

// Timeouts bound each adapter attempt
type Timeouts struct {
	Info     time.Duration
	Download time.Duration // covers FetchMedia plus writing the file
}

// Chains maps each platform to its adapters in priority order
type Chains map[platform.Platform][]extractor.Adapter

// Orchestrator runs resolve and retrieve requests. It holds no per-request
// state and is safe for concurrent use.
type Orchestrator struct {
	chains   Chains
	sink     *storage.Sink
	cache    InfoCache
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   zerolog.Logger
	timeouts Timeouts
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithCache(c InfoCache) Option { return func(o *Orchestrator) { o.cache = c } }

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.With().Str("component", "orchestrator").Logger() }
}

func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) {
		if t.Info > 0 {
			o.timeouts.Info = t.Info
		}
		if t.Download > 0 {
			o.timeouts.Download = t.Download
		}
	}
}

func WithValidator(v *validator.Validate) Option { return func(o *Orchestrator) { o.validate = v } }

// New builds an orchestrator. Every adapter must serve the platform whose
// chain it sits in. sink may be nil for resolve-only use.
func New(chains Chains, sink *storage.Sink, opts ...Option) (*Orchestrator, error) {
	for p, chain := range chains {
		seen := make(map[string]bool, len(chain))
		for _, a := range chain {
			if !extractor.Serves(a, p) {
				return nil, fmt.Errorf("adapter %s does not serve %s", a.Name(), p)
			}
			if seen[a.Name()] {
				return nil, fmt.Errorf("adapter %s listed twice for %s", a.Name(), p)
			}
			seen[a.Name()] = true
		}
	}

	o := &Orchestrator{
		chains: chains,
		sink:   sink,
		logger: zerolog.Nop(),
		timeouts: Timeouts{
			Info:     DefaultInfoTimeout,
			Download: DefaultDownloadTimeout,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.validate == nil {
		o.validate = validator.New()
	}
	return o, nil
}

// Chains returns adapter names per platform, in priority order
func (o *Orchestrator) Chains() map[platform.Platform][]string {
	out := make(map[platform.Platform][]string, len(o.chains))
	for p, chain := range o.chains {
		for _, a := range chain {
			out[p] = append(out[p], a.Name())
		}
	}
	return out
}

// AdapterStatus is the availability of one adapter in a chain
type AdapterStatus struct {
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	CanDownload bool   `json:"canDownload"`
	Available   bool   `json:"available"`
	Reason      string `json:"reason,omitempty"`
}

// Probe reports every adapter's cached availability per platform. The first
// call may run the capability checks.
func (o *Orchestrator) Probe(ctx context.Context) map[platform.Platform][]AdapterStatus {
	out := make(map[platform.Platform][]AdapterStatus, len(o.chains))
	for _, p := range platform.All() {
		chain, ok := o.chains[p]
		if !ok {
			continue
		}
		statuses := make([]AdapterStatus, 0, len(chain))
		for i, a := range chain {
			if ctx.Err() != nil {
				return out
			}
			st := AdapterStatus{Name: a.Name(), Priority: i + 1, CanDownload: a.CanDownload(), Available: true}
			if err := a.Available(); err != nil {
				st.Available = false
				st.Reason = err.Error()
			}
			statuses = append(statuses, st)
		}
		out[p] = statuses
	}
	return out
}

// ResolveInfo returns normalized metadata for rawURL
func (o *Orchestrator) ResolveInfo(ctx context.Context, rawURL string) (*media.Info, error) {
	const op = "retrieval.ResolveInfo"
	start := time.Now()

	rawURL, p, err := o.prepare(op, rawURL)
	if err != nil {
		o.finish(op, p, err, start)
		return nil, err
	}

	info, _, err := o.resolve(ctx, op, p, rawURL)
	o.finish(op, p, err, start)
	return info, err
}

// RetrieveMedia resolves metadata, then downloads the media through the first
// download-capable adapter that succeeds and persists it to the sink.
func (o *Orchestrator) RetrieveMedia(ctx context.Context, rawURL string, opts extractor.Options) (*media.Result, error) {
	const op = "retrieval.RetrieveMedia"
	start := time.Now()

	rawURL, p, err := o.prepare(op, rawURL)
	if err != nil {
		o.finish(op, p, err, start)
		return nil, err
	}
	if o.sink == nil {
		err := errs.Errorf(errs.KindInternal, op, "no download directory configured")
		o.finish(op, p, err, start)
		return nil, err
	}

	info, cached, err := o.resolve(ctx, op, p, rawURL)
	if err != nil {
		o.finish(op, p, err, start)
		return nil, err
	}

	if p != platform.YouTube {
		opts.Quality = ""
	}

	res, err := o.download(ctx, op, p, rawURL, info, opts)
	// A cached entry for media no adapter can fetch is likely stale
	if cached && errs.Is(err, errs.KindAllBackendsFailed) {
		o.invalidate(ctx, rawURL)
	}
	o.finish(op, p, err, start)
	return res, err
}

func (o *Orchestrator) invalidate(ctx context.Context, rawURL string) {
	if err := o.cache.Invalidate(context.WithoutCancel(ctx), rawURL); err != nil {
		o.logger.Warn().Err(err).Msg("info cache invalidate failed")
		return
	}
	o.logger.Debug().Str("url", rawURL).Msg("info cache entry invalidated")
}

// prepare validates and classifies. No adapter is touched when it fails.
func (o *Orchestrator) prepare(op, rawURL string) (string, platform.Platform, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := o.validateURL(rawURL); err != nil {
		return rawURL, platform.Unknown, errs.E(errs.KindInvalidInput, op, err)
	}

	p := platform.Classify(rawURL)
	if p == platform.Unknown {
		return rawURL, p, errs.Errorf(errs.KindUnsupportedPlatform, op, "no supported platform matches %s", rawURL)
	}
	if len(o.chains[p]) == 0 {
		return rawURL, p, errs.Errorf(errs.KindUnsupportedPlatform, op, "no adapters configured for %s", p)
	}
	return rawURL, p, nil
}

func (o *Orchestrator) validateURL(rawURL string) error {
	if err := o.validate.Var(rawURL, "required,url"); err != nil {
		return fmt.Errorf("malformed url %q", rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}
	return nil
}

// resolve walks the info chain. cached reports that info came from the cache.
func (o *Orchestrator) resolve(ctx context.Context, op string, p platform.Platform, rawURL string) (*media.Info, bool, error) {
	if o.cache != nil {
		info, hit, err := o.cache.GetInfo(ctx, rawURL)
		if err != nil {
			o.logger.Warn().Err(err).Msg("info cache lookup failed")
		}
		o.metrics.CacheLookup(hit)
		if hit && info != nil {
			return info, true, nil
		}
	}

	chain := o.chains[p]
	causes := make([]error, 0, len(chain))

	for i, a := range chain {
		attemptCtx, cancel := context.WithTimeout(ctx, o.timeouts.Info)
		started := time.Now()
		rec, err := a.FetchInfo(attemptCtx, rawURL)
		cancel()

		if err == nil {
			o.attemptOK(p, a, i, "info", started)
			info := media.Normalize(p, rec)
			if info.WebpageURL == "" {
				info.WebpageURL = rawURL
			}
			if o.cache != nil {
				if err := o.cache.SetInfo(ctx, rawURL, info); err != nil {
					o.logger.Warn().Err(err).Msg("info cache store failed")
				}
			}
			return info, false, nil
		}

		aerr, terminal := o.attemptFailed(ctx, op, p, a, i, "info", started, err)
		if terminal {
			return nil, false, aerr
		}
		causes = append(causes, aerr)
	}

	return nil, false, exhausted(op, p, "metadata", causes)
}

func (o *Orchestrator) download(ctx context.Context, op string, p platform.Platform, rawURL string, info *media.Info, opts extractor.Options) (*media.Result, error) {
	var causes []error
	tried := 0

	for i, a := range o.chains[p] {
		if !a.CanDownload() {
			continue
		}
		tried++

		started := time.Now()
		res, err := o.downloadWith(ctx, a, rawURL, info, opts)
		if err == nil {
			o.attemptOK(p, a, i, "download", started)
			o.metrics.Persisted(res.FilesizeBytes)
			return res, nil
		}

		// A failed write is never retried with another adapter
		if errs.Is(err, errs.KindPersistFailed) {
			o.logger.Error().Err(err).Str("platform", string(p)).Str("adapter", a.Name()).Msg("persist failed")
			return nil, err
		}

		aerr, terminal := o.attemptFailed(ctx, op, p, a, i, "download", started, err)
		if terminal {
			return nil, aerr
		}
		causes = append(causes, aerr)
	}

	if tried == 0 {
		return nil, errs.Errorf(errs.KindAllBackendsFailed, op, "no download-capable adapter configured for %s", p)
	}
	return nil, exhausted(op, p, "download", causes)
}

// downloadWith runs one adapter's FetchMedia and persists the payload, all
// under a single download deadline.
func (o *Orchestrator) downloadWith(ctx context.Context, a extractor.Adapter, rawURL string, info *media.Info, opts extractor.Options) (*media.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, o.timeouts.Download)
	defer cancel()

	payload, err := a.FetchMedia(attemptCtx, rawURL, opts)
	if err != nil {
		return nil, err
	}
	payload.Track(opts.Progress)
	return o.sink.Persist(attemptCtx, payload, info)
}

func (o *Orchestrator) attemptOK(p platform.Platform, a extractor.Adapter, i int, stage string, started time.Time) {
	elapsed := time.Since(started)
	o.metrics.Attempt(string(p), a.Name(), stage, "ok", elapsed)
	o.logger.Debug().
		Str("platform", string(p)).
		Str("adapter", a.Name()).
		Int("priority", i+1).
		Str("stage", stage).
		Dur("elapsed", elapsed).
		Msg("adapter attempt succeeded")
}

// attemptFailed classifies an adapter failure. It returns the annotated error
// and whether the chain must stop.
func (o *Orchestrator) attemptFailed(ctx context.Context, op string, p platform.Platform, a extractor.Adapter, i int, stage string, started time.Time, err error) (*errs.Error, bool) {
	// The caller gave up; nothing further is attempted
	if ctxErr := ctx.Err(); ctxErr != nil {
		kind := errs.KindCanceled
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			kind = errs.KindTimeout
		}
		e := annotate(err, kind, p, a.Name())
		e.Op = op
		o.metrics.Attempt(string(p), a.Name(), stage, string(kind), time.Since(started))
		o.logger.Info().
			Str("platform", string(p)).
			Str("adapter", a.Name()).
			Str("kind", string(kind)).
			Msg("request aborted by caller")
		return e, true
	}

	kind := errs.KindOf(err)
	switch {
	case kind.Fallback():
	case errors.Is(err, context.DeadlineExceeded):
		kind = errs.KindTimeout
	default:
		kind = errs.KindExtractionFailed
	}
	e := annotate(err, kind, p, a.Name())

	elapsed := time.Since(started)
	o.metrics.Attempt(string(p), a.Name(), stage, string(kind), elapsed)
	o.logger.Warn().
		Err(err).
		Str("platform", string(p)).
		Str("adapter", a.Name()).
		Int("priority", i+1).
		Str("stage", stage).
		Str("kind", string(kind)).
		Dur("elapsed", elapsed).
		Msg("adapter attempt failed, falling back")
	return e, false
}

// annotate tags err with the platform and adapter, reusing err when it is
// already an *errs.Error of the same kind.
func annotate(err error, kind errs.Kind, p platform.Platform, adapter string) *errs.Error {
	var e *errs.Error
	if errors.As(err, &e) && e.Kind == kind {
		cp := *e
		cp.Platform = string(p)
		cp.Adapter = adapter
		return &cp
	}
	return &errs.Error{Kind: kind, Platform: string(p), Adapter: adapter, Err: err}
}

func exhausted(op string, p platform.Platform, stage string, causes []error) *errs.Error {
	var last error = errors.New("no attempts made")
	if len(causes) > 0 {
		last = causes[len(causes)-1]
	}
	return &errs.Error{
		Kind:     errs.KindAllBackendsFailed,
		Op:       op,
		Platform: string(p),
		Err:      fmt.Errorf("all %d %s adapter(s) failed, last: %w", len(causes), stage, last),
		Causes:   causes,
	}
}

func (o *Orchestrator) finish(op string, p platform.Platform, err error, start time.Time) {
	outcome := "ok"
	if err != nil {
		outcome = string(errs.KindOf(err))
	}
	o.metrics.Request(strings.TrimPrefix(op, "retrieval."), string(p), outcome)

	ev := o.logger.Info()
	if err != nil {
		ev = o.logger.Warn().Err(err)
	}
	ev.Str("op", op).
		Str("platform", string(p)).
		Str("outcome", outcome).
		Dur("elapsed", time.Since(start)).
		Msg("request finished")
}
