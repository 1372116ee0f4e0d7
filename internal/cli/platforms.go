package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/guiyumin/vfetch/internal/core/platform"
	"github.com/guiyumin/vfetch/internal/core/retrieval"
)

var platformsCmd = &cobra.Command{
	Use:   "platforms",
	Short: "List supported platforms and their adapter chains",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := openSession(nil, true, nil)
		if err != nil {
			return err
		}
		defer sess.Close()

		renderPlatforms(cmd.OutOrStdout(), sess.orch.Probe(context.Background()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(platformsCmd)
}

func renderPlatforms(w io.Writer, probe map[platform.Platform][]retrieval.AdapterStatus) {
	for _, p := range platform.All() {
		chain, ok := probe[p]
		if !ok {
			continue
		}
		fmt.Fprintln(w, titleStyle.Render(p.String()))
		for _, a := range chain {
			mark := color.GreenString("✓")
			note := ""
			if !a.Available {
				mark = color.RedString("✗")
				note = " " + hintStyle.Render(a.Reason)
			}
			mode := "info+download"
			if !a.CanDownload {
				mode = "info only"
			}
			fmt.Fprintf(w, "  %d. %s %-12s %s%s\n", a.Priority, mark, a.Name, mode, note)
		}
	}
}
