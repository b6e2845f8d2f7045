package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
)

// completionCmd represents the completion command.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for bash or zsh.

To load completions:

Bash:

  $ source <(rootca completion bash)

  # To load completions for each session, execute once:
  $ rootca completion bash > /etc/bash_completion.d/rootca

Zsh:

  # If shell completion is not already enabled in your environment,
  # you will need to enable it.  You can execute the following once:

  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ rootca completion zsh > "${fpath[1]}/_rootca"

  # You will need to start a new shell for this setup to take effect.`,
	ValidArgs: []string{"bash", "zsh"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE:      runCompletion,
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

func runCompletion(cmd *cobra.Command, args []string) error {
	switch args[0] {
	case "bash":
		return cmd.Root().GenBashCompletion(stdout)
	case "zsh":
		return cmd.Root().GenZshCompletion(stdout)
	default:
		return &rootcaerrors.RootcaError{
			Op:  "generate completion",
			Err: fmt.Errorf("%w: unsupported shell %q, supported shells: bash, zsh", rootcaerrors.ErrConfig, args[0]),
		}
	}
}
