package retrieval

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/guiyumin/vfetch/internal/core/cache"
	"github.com/guiyumin/vfetch/internal/core/config"
	"github.com/guiyumin/vfetch/internal/core/extractor"
	"github.com/guiyumin/vfetch/internal/core/metrics"
	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/guiyumin/vfetch/internal/core/storage"
)

// Adapters builds one instance of every known adapter, keyed by chain name
func Adapters(cfg *config.Config, client *http.Client) map[string]extractor.Adapter {
	if client == nil {
		client = extractor.NewHTTPClient()
	}
	oembed := map[platform.Platform]string{}
	if cfg.OEmbed.YouTube != "" {
		oembed[platform.YouTube] = cfg.OEmbed.YouTube
	}
	if cfg.OEmbed.TikTok != "" {
		oembed[platform.TikTok] = cfg.OEmbed.TikTok
	}

	list := []extractor.Adapter{
		extractor.NewYtDlp(cfg.Tools.YtDlp, "", cfg.Timeouts.Probe),
		extractor.NewYoutubeDL(cfg.Tools.YoutubeDL, "", cfg.Timeouts.Probe),
		extractor.NewOEmbed(client, oembed),
		extractor.NewBrowser(cfg.Tools.Browser, "", client),
	}
	out := make(map[string]extractor.Adapter, len(list))
	for _, a := range list {
		out[a.Name()] = a
	}
	return out
}

// BuildChains resolves configured adapter names into chains. Unknown
// platforms or adapter names are an error.
func BuildChains(configured map[string][]string, adapters map[string]extractor.Adapter) (Chains, error) {
	chains := make(Chains, len(configured))
	for tag, names := range configured {
		p := platform.Parse(tag)
		if p == platform.Unknown {
			return nil, fmt.Errorf("chains: unknown platform %q", tag)
		}
		for _, name := range names {
			a, ok := adapters[name]
			if !ok {
				return nil, fmt.Errorf("chains.%s: unknown adapter %q (known: %v)", tag, name, adapterNames(adapters))
			}
			chains[p] = append(chains[p], a)
		}
	}
	return chains, nil
}

func adapterNames(adapters map[string]extractor.Adapter) []string {
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Setup wires an orchestrator from configuration: adapters, chains, the
// download sink, the optional Redis cache and metrics on reg (nil skips
// metrics). The returned cache must be closed by the caller.
func Setup(cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Orchestrator, *cache.Cache, error) {
	chains, err := BuildChains(cfg.Chains, Adapters(cfg, nil))
	if err != nil {
		return nil, nil, err
	}

	sink, err := storage.NewSink(cfg.OutputDir, logger)
	if err != nil {
		return nil, nil, err
	}

	opts := []Option{
		WithLogger(logger),
		WithTimeouts(Timeouts{Info: cfg.Timeouts.Info, Download: cfg.Timeouts.Download}),
	}

	c := cache.New(cache.Config{
		RedisAddr:      cfg.Cache.RedisAddr,
		RedisPassword:  cfg.Cache.RedisPassword,
		RedisDB:        cfg.Cache.RedisDB,
		TTL:            cfg.Cache.TTL,
		DisableOnError: true,
	}, logger)
	if c.IsAvailable() {
		opts = append(opts, WithCache(c))
	}

	if reg != nil {
		opts = append(opts, WithMetrics(metrics.New(reg)))
	}

	o, err := New(chains, sink, opts...)
	if err != nil {
		c.Close()
		return nil, nil, err
	}
	return o, c, nil
}

// Sink exposes the download sink
func (o *Orchestrator) Sink() *storage.Sink {
	return o.sink
}

// Metrics exposes the metrics recorder, which may be nil
func (o *Orchestrator) Metrics() *metrics.Metrics {
	return o.metrics
}
