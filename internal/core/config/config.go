package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "config.yml"
	AppDirName     = "vfetch"

	// EnvConfigPath overrides the config file location
	EnvConfigPath = "VFETCH_CONFIG"
)

// ConfigDir returns the standard config directory for vfetch.
// Windows: %APPDATA%\vfetch\
// macOS/Linux: ~/.config/vfetch/
func ConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, AppDirName), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppDirName), nil
}

// ConfigPath returns the path to the config file.
// e.g., ~/.config/vfetch/config.yml
func ConfigPath() (string, error) {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return expandPath(p), nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

type Config struct {
	// Default output directory
	OutputDir string `yaml:"output_dir,omitempty" env:"VFETCH_OUTPUT_DIR"`

	// Default quality preference (e.g., "1080p", "720p", "best", "audio")
	Quality string `yaml:"quality,omitempty" env:"VFETCH_QUALITY" env-default:"best"`

	// Environment is "production" or "development" (debug logging)
	Environment string `yaml:"environment,omitempty" env:"VFETCH_ENV" env-default:"production"`

	// LogLevel is a zerolog level name
	LogLevel string `yaml:"log_level,omitempty" env:"VFETCH_LOG_LEVEL" env-default:"info"`

	// Server configuration for `vfetch serve`
	Server ServerConfig `yaml:"server,omitempty"`

	// Time budgets for adapter calls
	Timeouts TimeoutConfig `yaml:"timeouts,omitempty"`

	// External tool locations
	Tools ToolsConfig `yaml:"tools,omitempty"`

	// Chains maps a platform to its adapters in priority order.
	// Example YAML:
	//   chains:
	//     youtube: [ytdlp, youtube-dl, oembed]
	//     tiktok: [ytdlp, browser]
	Chains map[string][]string `yaml:"chains,omitempty"`

	// Metadata cache; an empty redis_addr disables it
	Cache CacheConfig `yaml:"cache,omitempty"`

	// oEmbed endpoints used by the oembed adapter
	OEmbed OEmbedConfig `yaml:"oembed,omitempty"`
}

// ServerConfig holds HTTP server settings for `vfetch serve`
type ServerConfig struct {
	// Port is the HTTP listen port (default: 8080)
	Port int `yaml:"port,omitempty" env:"VFETCH_PORT" env-default:"8080"`

	// MaxConcurrent is the max number of concurrent download jobs (default: 4)
	MaxConcurrent int `yaml:"max_concurrent,omitempty" env:"VFETCH_MAX_CONCURRENT" env-default:"4"`

	// APIKey for authentication (optional, if set mutations and job listings must include X-API-Key header)
	APIKey string `yaml:"api_key,omitempty" env:"VFETCH_API_KEY"`

	// RateLimit is the sustained requests per second allowed per client, 0 disables limiting.
	// No env-default: an explicit 0 must survive loading.
	RateLimit float64 `yaml:"rate_limit" env:"VFETCH_RATE_LIMIT"`

	// RateBurst is the burst size per client
	RateBurst int `yaml:"rate_burst,omitempty" env:"VFETCH_RATE_BURST" env-default:"10"`
}

// TimeoutConfig bounds adapter work
type TimeoutConfig struct {
	Info     time.Duration `yaml:"info,omitempty" env:"VFETCH_TIMEOUT_INFO" env-default:"30s"`
	Download time.Duration `yaml:"download,omitempty" env:"VFETCH_TIMEOUT_DOWNLOAD" env-default:"120s"`
	Probe    time.Duration `yaml:"probe,omitempty" env:"VFETCH_TIMEOUT_PROBE" env-default:"10s"`
}

// ToolsConfig locates external binaries
type ToolsConfig struct {
	YtDlp     string `yaml:"ytdlp,omitempty" env:"VFETCH_YTDLP" env-default:"yt-dlp"`
	YoutubeDL string `yaml:"youtube_dl,omitempty" env:"VFETCH_YOUTUBE_DL" env-default:"youtube-dl"`

	// Browser is a Chromium binary; empty means look it up (or ROD_BROWSER)
	Browser string `yaml:"browser,omitempty" env:"VFETCH_BROWSER"`
}

// CacheConfig configures the Redis metadata cache
type CacheConfig struct {
	RedisAddr     string        `yaml:"redis_addr,omitempty" env:"VFETCH_REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password,omitempty" env:"VFETCH_REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db,omitempty" env:"VFETCH_REDIS_DB"`
	TTL           time.Duration `yaml:"ttl,omitempty" env:"VFETCH_CACHE_TTL" env-default:"10m"`
}

// OEmbedConfig holds oEmbed endpoints per platform
type OEmbedConfig struct {
	YouTube string `yaml:"youtube,omitempty" env:"VFETCH_OEMBED_YOUTUBE" env-default:"https://www.youtube.com/oembed"`
	TikTok  string `yaml:"tiktok,omitempty" env:"VFETCH_OEMBED_TIKTOK" env-default:"https://www.tiktok.com/oembed"`
}

// DefaultChains returns the built-in adapter priority per platform
func DefaultChains() map[string][]string {
	return map[string][]string{
		"youtube":   {"ytdlp", "youtube-dl", "oembed"},
		"instagram": {"ytdlp", "browser"},
		"tiktok":    {"ytdlp", "oembed", "browser"},
		"snapchat":  {"ytdlp", "browser"},
		"twitter":   {"ytdlp", "browser"},
	}
}

// DefaultDownloadDir returns the default download directory
// Windows: ~/Downloads/vfetch
// macOS: ~/Downloads/vfetch
// Linux: ~/downloads
func DefaultDownloadDir() string {
	// Docker: use the default container path (users mount their volume here)
	if IsRunningInDocker() {
		return "/home/vfetch/downloads"
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./downloads"
	}

	switch runtime.GOOS {
	case "darwin", "windows":
		return filepath.Join(home, "Downloads", "vfetch")
	default:
		// Linux and others
		return filepath.Join(home, "downloads")
	}
}

// IsRunningInDocker detects if we're running inside a Docker container
func IsRunningInDocker() bool {
	// Check for .dockerenv file
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	// Check cgroup
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		content := string(data)
		if strings.Contains(content, "docker") || strings.Contains(content, "containerd") {
			return true
		}
	}
	// Check for kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return true
	}
	return false
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		OutputDir:   DefaultDownloadDir(),
		Quality:     "best",
		Environment: "production",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:          8080,
			MaxConcurrent: 4,
			RateLimit:     5,
			RateBurst:     10,
		},
		Timeouts: TimeoutConfig{
			Info:     30 * time.Second,
			Download: 120 * time.Second,
			Probe:    10 * time.Second,
		},
		Tools: ToolsConfig{
			YtDlp:     "yt-dlp",
			YoutubeDL: "youtube-dl",
		},
		Chains: DefaultChains(),
		Cache:  CacheConfig{TTL: 10 * time.Minute},
		OEmbed: OEmbedConfig{
			YouTube: "https://www.youtube.com/oembed",
			TikTok:  "https://www.tiktok.com/oembed",
		},
	}
}

// Exists checks if config file exists
func Exists() bool {
	path, err := ConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load reads the config from ~/.config/vfetch/config.yml, applying
// VFETCH_* environment overrides on top
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads a specific config file
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file not found: %w", err)
	}

	// Keys absent from the file keep their defaults; chains are replaced whole
	cfg := DefaultConfig()
	cfg.Chains = nil
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.finalize()
	return cfg, nil
}

// LoadEnv builds a config from defaults and VFETCH_* variables only
func LoadEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.finalize()
	return cfg, nil
}

// finalize fills values cleanenv cannot default and expands paths
func (c *Config) finalize() {
	c.OutputDir = expandPath(c.OutputDir)
	if c.OutputDir == "" {
		c.OutputDir = DefaultDownloadDir()
	}
	c.Tools.YtDlp = expandPath(c.Tools.YtDlp)
	c.Tools.YoutubeDL = expandPath(c.Tools.YoutubeDL)
	c.Tools.Browser = expandPath(c.Tools.Browser)

	if len(c.Chains) == 0 {
		c.Chains = DefaultChains()
	}
	normalized := make(map[string][]string, len(c.Chains))
	for p, names := range c.Chains {
		normalized[strings.ToLower(strings.TrimSpace(p))] = names
	}
	c.Chains = normalized
}

// Validate reports settings that cannot work
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxConcurrent <= 0 {
		return fmt.Errorf("server.max_concurrent must be positive")
	}
	if c.Timeouts.Info <= 0 || c.Timeouts.Download <= 0 || c.Timeouts.Probe <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative")
	}
	return nil
}

// expandPath expands the tilde (~) in the path to the user's home directory.
// It handles both forward and backward slashes to ensure cross-platform compatibility
// for configuration files.
func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		// Only expand if it's explicitly "~", "~/", or "~\"
		if len(path) == 1 || path[1] == '/' || path[1] == '\\' {
			home, err := os.UserHomeDir()
			if err == nil {
				subPath := path[1:]
				// Handle the separator manually to ensure clean join across platforms
				// This allows "~\Downloads" to work correctly on macOS/Linux as well
				if len(subPath) > 0 && (subPath[0] == '/' || subPath[0] == '\\') {
					subPath = subPath[1:]
				}
				return filepath.Join(home, subPath)
			}
		}
	}

	return path
}

// Save writes the config to ~/.config/vfetch/config.yml
func Save(cfg *Config) error {
	configPath, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	return SaveFile(cfg, configPath)
}

// SaveFile writes the config to path
func SaveFile(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Add a header comment
	header := "# vfetch configuration file\n# Run 'vfetch init' to regenerate with defaults\n\n"
	content := header + string(data)

	return os.WriteFile(configPath, []byte(content), 0644)
}

// SavePath returns the path where config will be saved
func SavePath() string {
	if path, err := ConfigPath(); err == nil {
		return path
	}
	return "config.yml"
}

// Init creates a new config.yml with default values
func Init() error {
	if Exists() {
		path, _ := ConfigPath()
		return fmt.Errorf("%s already exists", path)
	}
	return Save(DefaultConfig())
}

// LoadOrDefault loads the config file if it exists, otherwise falls back to
// defaults plus environment overrides. A file that exists but cannot be
// parsed is an error.
func LoadOrDefault() (*Config, error) {
	cfg, err := Load()
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		if _, perr := ConfigPath(); perr == nil {
			return nil, err
		}
	}
	return LoadEnv()
}
