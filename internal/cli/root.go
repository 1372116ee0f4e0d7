package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/guiyumin/vfetch/internal/core/config"
	"github.com/guiyumin/vfetch/internal/core/logging"
	"github.com/guiyumin/vfetch/internal/core/retrieval"
	"github.com/guiyumin/vfetch/internal/core/version"
)

var (
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "vfetch [url]",
	Short:         "Resolve and download media from social platforms",
	Long:          "vfetch identifies the platform of a URL, resolves its metadata and downloads the media through a chain of extraction backends.",
	Version:       version.Version,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runGet(cmd, args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: ~/.config/vfetch/config.yml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log adapter attempts")
	rootCmd.Flags().StringVarP(&getQuality, "quality", "q", "", "preferred quality (youtube only, e.g. 720p, audio)")
	rootCmd.Flags().StringVarP(&getOutput, "output", "o", "", "download directory")
}

// Execute runs the root command and prints any error
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error: %s", describe(err)))
	}
	return err
}

// loadConfig reads --config when given, else the default location with
// environment overrides
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.LoadOrDefault()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, quiet bool) zerolog.Logger {
	level := cfg.LogLevel
	if quiet {
		level = "warn"
	}
	if verbose {
		level = "debug"
	}
	return logging.Setup(cfg.Environment, level)
}

// newOrchestrator is replaced in tests
var newOrchestrator = func(cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*retrieval.Orchestrator, io.Closer, error) {
	o, c, err := retrieval.Setup(cfg, logger, reg)
	if err != nil {
		return nil, nil, err
	}
	return o, c, nil
}

// session is the wiring one command runs against
type session struct {
	cfg    *config.Config
	orch   *retrieval.Orchestrator
	logger zerolog.Logger
	closer io.Closer
}

func (s *session) Close() {
	if s.closer != nil {
		s.closer.Close()
	}
}

// openSession loads config, applies adjust and wires an orchestrator.
// Quiet sessions only log warnings unless --verbose is set.
func openSession(reg prometheus.Registerer, quiet bool, adjust func(*config.Config)) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if adjust != nil {
		adjust(cfg)
	}
	logger := newLogger(cfg, quiet)
	orch, closer, err := newOrchestrator(cfg, logger, reg)
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, orch: orch, logger: logger, closer: closer}, nil
}
