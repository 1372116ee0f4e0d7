package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/guiyumin/vfetch/internal/core/config"
)

// configKey is one settable scalar in config.yml
type configKey struct {
	name string
	help string
	get  func(*config.Config) string
	set  func(*config.Config, string) error
}

func intSetter(dst func(*config.Config) *int) func(*config.Config, string) error {
	return func(cfg *config.Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%q is not an integer", v)
		}
		*dst(cfg) = n
		return nil
	}
}

func floatSetter(dst func(*config.Config) *float64) func(*config.Config, string) error {
	return func(cfg *config.Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", v)
		}
		*dst(cfg) = f
		return nil
	}
}

func durationSetter(dst func(*config.Config) *time.Duration) func(*config.Config, string) error {
	return func(cfg *config.Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%q is not a duration (e.g. 30s, 2m)", v)
		}
		*dst(cfg) = d
		return nil
	}
}

func stringSetter(dst func(*config.Config) *string) func(*config.Config, string) error {
	return func(cfg *config.Config, v string) error {
		*dst(cfg) = v
		return nil
	}
}

var configKeys = []configKey{
	{"output_dir", "download directory",
		func(c *config.Config) string { return c.OutputDir },
		stringSetter(func(c *config.Config) *string { return &c.OutputDir })},
	{"quality", "default quality (best, 1080p, 720p, audio)",
		func(c *config.Config) string { return c.Quality },
		stringSetter(func(c *config.Config) *string { return &c.Quality })},
	{"environment", "production or development",
		func(c *config.Config) string { return c.Environment },
		stringSetter(func(c *config.Config) *string { return &c.Environment })},
	{"log_level", "debug, info, warn, error",
		func(c *config.Config) string { return c.LogLevel },
		stringSetter(func(c *config.Config) *string { return &c.LogLevel })},
	{"server.port", "server listen port",
		func(c *config.Config) string { return strconv.Itoa(c.Server.Port) },
		intSetter(func(c *config.Config) *int { return &c.Server.Port })},
	{"server.max_concurrent", "concurrent download jobs",
		func(c *config.Config) string { return strconv.Itoa(c.Server.MaxConcurrent) },
		intSetter(func(c *config.Config) *int { return &c.Server.MaxConcurrent })},
	{"server.api_key", "API key for mutating requests",
		func(c *config.Config) string { return c.Server.APIKey },
		stringSetter(func(c *config.Config) *string { return &c.Server.APIKey })},
	{"server.rate_limit", "requests per second per client (0 disables)",
		func(c *config.Config) string { return strconv.FormatFloat(c.Server.RateLimit, 'g', -1, 64) },
		floatSetter(func(c *config.Config) *float64 { return &c.Server.RateLimit })},
	{"server.rate_burst", "request burst per client",
		func(c *config.Config) string { return strconv.Itoa(c.Server.RateBurst) },
		intSetter(func(c *config.Config) *int { return &c.Server.RateBurst })},
	{"timeouts.info", "per-attempt metadata timeout",
		func(c *config.Config) string { return c.Timeouts.Info.String() },
		durationSetter(func(c *config.Config) *time.Duration { return &c.Timeouts.Info })},
	{"timeouts.download", "per-attempt download timeout",
		func(c *config.Config) string { return c.Timeouts.Download.String() },
		durationSetter(func(c *config.Config) *time.Duration { return &c.Timeouts.Download })},
	{"tools.ytdlp", "yt-dlp binary",
		func(c *config.Config) string { return c.Tools.YtDlp },
		stringSetter(func(c *config.Config) *string { return &c.Tools.YtDlp })},
	{"tools.youtube_dl", "youtube-dl binary",
		func(c *config.Config) string { return c.Tools.YoutubeDL },
		stringSetter(func(c *config.Config) *string { return &c.Tools.YoutubeDL })},
	{"tools.browser", "Chromium binary for the browser adapter",
		func(c *config.Config) string { return c.Tools.Browser },
		stringSetter(func(c *config.Config) *string { return &c.Tools.Browser })},
	{"cache.redis_addr", "Redis address for the metadata cache",
		func(c *config.Config) string { return c.Cache.RedisAddr },
		stringSetter(func(c *config.Config) *string { return &c.Cache.RedisAddr })},
}

func lookupKey(name string) (*configKey, error) {
	for i := range configKeys {
		if configKeys[i].name == name {
			return &configKeys[i], nil
		}
	}
	names := make([]string, len(configKeys))
	for i, k := range configKeys {
		names[i] = k.name
	}
	return nil, fmt.Errorf("unknown config key %q (known: %s)", name, strings.Join(names, ", "))
}

func setConfigValue(cfg *config.Config, key, value string) error {
	k, err := lookupKey(key)
	if err != nil {
		return err
	}
	return k.set(cfg, value)
}

func getConfigValue(cfg *config.Config, key string) (string, error) {
	k, err := lookupKey(key)
	if err != nil {
		return "", err
	}
	return k.get(cfg), nil
}

// unsetConfigValue restores the default for key
func unsetConfigValue(cfg *config.Config, key string) error {
	k, err := lookupKey(key)
	if err != nil {
		return err
	}
	return k.set(cfg, k.get(config.DefaultConfig()))
}

// configTarget is the file config set/unset write to
func configTarget() string {
	if configFile != "" {
		return configFile
	}
	return config.SavePath()
}

func saveConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return config.SaveFile(cfg, configTarget())
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage vfetch configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "# %s\n", configTarget())

		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file path",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), configTarget())
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), value)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in config.yml.

Examples:
  vfetch config set output_dir ~/Videos
  vfetch config set server.port 9000
  vfetch config set timeouts.download 5m`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := setConfigValue(cfg, args[0], args[1]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", args[0], args[1])
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := unsetConfigValue(cfg, args[0]); err != nil {
			return err
		}
		if err := saveConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
		return nil
	},
}

var configChainsCmd = &cobra.Command{
	Use:   "chains",
	Short: "Show the configured adapter chain per platform",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tags := make([]string, 0, len(cfg.Chains))
		for tag := range cfg.Chains {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %s\n", tag, strings.Join(cfg.Chains[tag], " → "))
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configPathCmd, configGetCmd, configSetCmd, configUnsetCmd, configChainsCmd)
	rootCmd.AddCommand(configCmd)
}
