// Package cli provides the command-line interface for rootca.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
)

// Version information (will be set by build flags in production).
var (
	Version   = "dev"
	GitCommit = "none"
	BuildDate = "unknown"
)

// Flags shared by every command that touches the workdir.
var (
	configPath     string
	devMode        bool
	opensslPath    string
	privateKeyPath string
	publicKeyPath  string
	runTimeout     time.Duration
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "rootca",
	Short: "Mirror the Mozilla root CA feed as a signed PKCS#7 bundle",
	Long: `rootca keeps a local PKCS#7 bundle of the Mozilla root certificates
published by curl.se.

The bundle is only rebuilt when the upstream fingerprint changes. Each run
records the upstream fingerprint and timestamp in a metadata file and, when a
signing key is configured, writes detached signatures next to the artifacts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd represents the version command.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		Info("rootca version %s", Version)
		Info("  commit: %s", GitCommit)
		Info("  built:  %s", BuildDate)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file (default <workdir>/rootca.yaml when present)")
	flags.BoolVar(&devMode, "dev", false, "Human-readable debug logging")
	flags.StringVar(&opensslPath, "openssl-path", "", "Path to the openssl binary (default: looked up in PATH)")
	flags.StringVar(&privateKeyPath, "private-key-path", "", "PEM private key used for signing (overrides $ROOTCA_SIGNING_KEY)")
	flags.StringVar(&publicKeyPath, "public-key-path", "", "PEM public key used to verify signatures (overrides $ROOTCA_SIGNING_PUBLIC_KEY)")
	flags.DurationVar(&runTimeout, "timeout", 0, "Abort the run after this duration (0 means no limit)")

	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command and exits with the code matching the error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		Error("%v", err)
		os.Exit(rootcaerrors.ExitCode(err))
	}
}
