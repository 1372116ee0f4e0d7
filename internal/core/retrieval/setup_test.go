package retrieval

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiyumin/vfetch/internal/core/config"
	"github.com/guiyumin/vfetch/internal/core/platform"
)

func TestBuildChainsDefaults(t *testing.T) {
	cfg := config.DefaultConfig()
	chains, err := BuildChains(cfg.Chains, Adapters(cfg, nil))
	require.NoError(t, err)

	names := func(p platform.Platform) []string {
		var out []string
		for _, a := range chains[p] {
			out = append(out, a.Name())
		}
		return out
	}
	assert.Equal(t, []string{"ytdlp", "youtube-dl", "oembed"}, names(platform.YouTube))
	assert.Equal(t, []string{"ytdlp", "browser"}, names(platform.Instagram))
	assert.Equal(t, []string{"ytdlp", "oembed", "browser"}, names(platform.TikTok))
	assert.Equal(t, []string{"ytdlp", "browser"}, names(platform.Snapchat))
	assert.Equal(t, []string{"ytdlp", "browser"}, names(platform.Twitter))

	// every default chain is consistent with what its adapters serve
	_, err = New(chains, nil)
	require.NoError(t, err)
}

func TestBuildChainsErrors(t *testing.T) {
	adapters := Adapters(config.DefaultConfig(), nil)

	_, err := BuildChains(map[string][]string{"myspace": {"ytdlp"}}, adapters)
	assert.ErrorContains(t, err, "unknown platform")

	_, err = BuildChains(map[string][]string{"youtube": {"ytdlp", "gallery-dl"}}, adapters)
	assert.ErrorContains(t, err, `unknown adapter "gallery-dl"`)
}

func TestSetup(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.OutputDir = t.TempDir()

	o, c, err := Setup(cfg, zerolog.Nop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, cfg.OutputDir, o.Sink().Dir())
	assert.NotNil(t, o.Metrics())
	assert.False(t, c.IsAvailable())
	assert.Len(t, o.Chains(), 5)

	// snapchat is not served by youtube-dl
	cfg.Chains = map[string][]string{"snapchat": {"youtube-dl"}}
	_, _, err = Setup(cfg, zerolog.Nop(), nil)
	assert.ErrorContains(t, err, "does not serve snapchat")
}
