package cli

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"
)

var infoJSON bool

var infoCmd = &cobra.Command{
	Use:   "info <url>",
	Short: "Show media metadata without downloading",
	Long: `Resolve canonical metadata for a URL through the platform's adapter chain.

Examples:
  vfetch info https://www.youtube.com/watch?v=dQw4w9WgXcQ
  vfetch info --json https://www.tiktok.com/@user/video/123`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil, true, nil)
		if err != nil {
			return err
		}
		defer sess.Close()

		info, err := sess.orch.ResolveInfo(context.Background(), args[0])
		if err != nil {
			return err
		}

		if infoJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}
		renderInfo(cmd.OutOrStdout(), info)
		return nil
	},
}

func init() {
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(infoCmd)
}
