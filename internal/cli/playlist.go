package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guiyumin/vfetch/internal/core/extractor"
)

var (
	playlistLimit int
	playlistJSON  bool
)

// listPlaylist is replaced in tests
var listPlaylist = extractor.ListPlaylist

var playlistCmd = &cobra.Command{
	Use:   "playlist <url>",
	Short: "List the videos of a YouTube playlist",
	Long: `List the entries of a YouTube playlist. Each entry URL can be passed to
'vfetch get'.

Examples:
  vfetch playlist "https://www.youtube.com/playlist?list=PL..."
  vfetch playlist -n 10 --json "https://www.youtube.com/watch?v=x&list=PL..."`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if playlistLimit < 0 {
			return fmt.Errorf("--limit must not be negative")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.Info)
		defer cancel()

		entries, err := listPlaylist(ctx, args[0], playlistLimit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if playlistJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}
		for i, e := range entries {
			fmt.Fprintf(out, "  [%d] %s\n      %s\n", i+1, e.Title, e.URL)
		}
		fmt.Fprintf(out, "\n  %d entries\n", len(entries))
		return nil
	},
}

func init() {
	playlistCmd.Flags().IntVarP(&playlistLimit, "limit", "n", 0, "maximum entries (0 = all)")
	playlistCmd.Flags().BoolVar(&playlistJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(playlistCmd)
}
