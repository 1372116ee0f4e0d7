package cli

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for vfetch.

Bash:
  # Add to ~/.bashrc:
  source <(vfetch completion bash)

Zsh:
  # Add to ~/.zshrc:
  source <(vfetch completion zsh)

  # Or install to fpath:
  vfetch completion zsh > "${fpath[1]}/_vfetch"

Fish:
  vfetch completion fish > ~/.config/fish/completions/vfetch.fish

PowerShell:
  vfetch completion powershell >> $PROFILE
`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletion(os.Stdout)
		default:
			return cmd.Help()
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	configGetCmd.ValidArgsFunction = completeConfigKey
	configSetCmd.ValidArgsFunction = completeConfigKey
	configUnsetCmd.ValidArgsFunction = completeConfigKey
}

// completeConfigKey completes the first argument of config get/set/unset
func completeConfigKey(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var completions []string
	for _, k := range configKeys {
		if strings.HasPrefix(k.name, toComplete) {
			completions = append(completions, k.name+"\t"+k.help)
		}
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}
