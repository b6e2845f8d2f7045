package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/pipeline"
	"github.com/princespaghetti/rootca/internal/signer"
)

// signCmd represents the sign command.
var signCmd = &cobra.Command{
	Use:   "sign [workdir]",
	Short: "Sign the current bundle and metadata",
	Long: `Write detached signatures for the installed bundle and metadata without
contacting upstream. Either every artifact is signed or no signature is left.

The private key is read from --private-key-path or $ROOTCA_SIGNING_KEY.
When a public key is configured each signature is verified after signing.

Examples:
  rootca sign --private-key-path key.pem
  rootca sign ./bundles --public-key-path pub.pem`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSign,
}

// verifyCmd represents the verify command.
var verifyCmd = &cobra.Command{
	Use:   "verify [workdir]",
	Short: "Verify the detached signatures of the bundle and metadata",
	Long: `Check every artifact signature with the public key from
--public-key-path or $ROOTCA_SIGNING_PUBLIC_KEY.

Examples:
  rootca verify --public-key-path pub.pem`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
}

func runSign(cmd *cobra.Command, args []string) error {
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
	sig, err := a.newSigner(bin)
	if err != nil {
		return err
	}
	if sig == nil || !sig.CanSign() {
		return &rootcaerrors.RootcaError{
			Op:  "sign artifacts",
			Err: fmt.Errorf("%w: no private key, set --private-key-path or $ROOTCA_SIGNING_KEY", rootcaerrors.ErrConfig),
		}
	}

	signed, err := a.newPipeline(nil, pipeline.WithSigner(sig)).Sign(ctx)
	if err != nil {
		return err
	}
	for _, target := range signed {
		Success("Signed %s", signer.SignatureName(target))
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
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
	sig, err := a.newSigner(bin)
	if err != nil {
		return err
	}
	if sig == nil || !sig.CanVerify() {
		return &rootcaerrors.RootcaError{
			Op:  "verify artifacts",
			Err: fmt.Errorf("%w: no public key, set --public-key-path or $ROOTCA_SIGNING_PUBLIC_KEY", rootcaerrors.ErrConfig),
		}
	}

	targets := a.store.Artifacts()
	if len(targets) == 0 {
		return &rootcaerrors.RootcaError{Op: "verify artifacts", Path: a.store.BasePath(), Err: rootcaerrors.ErrNoMetadata}
	}
	if err := signer.VerifyAll(ctx, sig, targets); err != nil {
		return err
	}
	for _, target := range targets {
		Success("Verified %s", target)
	}
	return nil
}
