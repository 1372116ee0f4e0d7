package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/guiyumin/vfetch/internal/core/config"
	"github.com/guiyumin/vfetch/internal/core/extractor"
)

var (
	getQuality string
	getOutput  string
)

var getCmd = &cobra.Command{
	Use:   "get <url>",
	Short: "Download media into the output directory",
	Long: `Download the media behind a URL. The file is named after the title with a
timestamp and a random suffix, so repeated downloads never overwrite each other.

Examples:
  vfetch get https://youtu.be/dQw4w9WgXcQ
  vfetch get -q 720p https://youtu.be/dQw4w9WgXcQ
  vfetch get -o ~/Videos https://www.instagram.com/reel/abc/`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGet(cmd, args[0])
	},
}

func init() {
	getCmd.Flags().StringVarP(&getQuality, "quality", "q", "", "preferred quality (youtube only, e.g. 720p, audio)")
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "download directory")
	rootCmd.AddCommand(getCmd)
}

func runGet(cmd *cobra.Command, rawURL string) error {
	sess, err := openSession(nil, true, func(cfg *config.Config) {
		if getOutput != "" {
			cfg.OutputDir = getOutput
		}
	})
	if err != nil {
		return err
	}
	defer sess.Close()

	quality := getQuality
	if quality == "" {
		quality = sess.cfg.Quality
	}

	// Ctrl-C aborts the retrieval; the sink removes the partial file
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := extractor.Options{Quality: quality}
	var progress *progressPrinter
	if isTerminal(os.Stderr) {
		progress = newProgressPrinter(cmd.ErrOrStderr())
		opts.Progress = progress.update
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "  %s %s\n", color.CyanString("→"), rawURL)
	res, err := sess.orch.RetrieveMedia(ctx, rawURL, opts)
	if progress != nil {
		progress.done()
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "  %s %s\n", color.GreenString("✓"), res.SourceInfo.Title)
	fmt.Fprintf(out, "    %s (%s)\n", filepath.Join(sess.orch.Sink().Dir(), res.Filename), formatSize(res.FilesizeBytes))
	return nil
}
