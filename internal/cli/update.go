package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/rootca/internal/encoder"
	"github.com/princespaghetti/rootca/internal/execx"
	"github.com/princespaghetti/rootca/internal/pipeline"
)

var updateForce bool

// updateCmd represents the update command.
var updateCmd = &cobra.Command{
	Use:   "update [workdir]",
	Short: "Rebuild the bundle if the upstream feed changed",
	Long: `Check the upstream fingerprint and rebuild the PKCS#7 bundle when it
differs from the one recorded in the metadata file.

The run:
  1. Fetches the published SHA-256 of the feed
  2. Skips the rebuild when it matches the stored fingerprint
  3. Otherwise downloads the feed, extracts every certificate and encodes
     them with "openssl crl2pkcs7"
  4. Installs the bundle, then rewrites the metadata
  5. Signs the bundle and metadata when a signing key is configured

A ".force_update" file in the workdir forces one rebuild and is removed.

Examples:
  rootca update
  rootca update ./bundles --force
  ROOTCA_SIGNING_KEY="$(cat key.pem)" rootca update --public-key-path pub.pem`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	updateCmd.Flags().BoolVar(&updateForce, "force", false, "Rebuild even when the upstream fingerprint is unchanged")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, args)
	if err != nil {
		return err
	}
	ctx, cancel := a.runContext(cmd)
	defer cancel()

	bin, err := a.openssl()
	if err != nil {
		return err
	}
	runner := execx.OSRunner{}

	opts := []pipeline.Option{pipeline.WithForce(updateForce)}
	sig, err := a.newSigner(bin)
	if err != nil {
		return err
	}
	if sig != nil && sig.CanSign() {
		opts = append(opts, pipeline.WithSigner(sig))
	} else {
		a.logger.Info().Msg("no signing key configured, artifacts will not be signed")
	}

	a.logger.Info().Str("run_id", a.runID).Str("openssl", bin).Msg("update started")

	result, err := a.newPipeline(encoder.NewOpenSSLEncoder(bin, runner), opts...).Run(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("update failed")
		return err
	}

	if result.Rebuilt {
		Success("Bundle rebuilt")
	} else {
		Success("Bundle is up to date")
	}
	if m := result.Metadata; m != nil {
		Field("Upstream", m.UpstreamTimestamp)
		Field("Fingerprint", m.UpstreamFingerprint)
		Field("Certificates", fmt.Sprintf("%d", m.CertCount))
		Field("Bundle", a.store.BundlePath())
		Field("PEM bundle", a.store.PEMBundlePath())
	}
	if len(result.Signed) > 0 {
		Field("Signed", fmt.Sprintf("%d artifacts", len(result.Signed)))
	}
	return nil
}
