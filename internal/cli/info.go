package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/rootca/internal/certstore"
	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/signer"
)

var infoJSON bool

// infoCmd represents the info command.
var infoCmd = &cobra.Command{
	Use:   "info [workdir]",
	Short: "Display the stored bundle metadata",
	Long: `Display the metadata of the installed bundle without making network
connections.

Shows:
  - Upstream feed date and fingerprint
  - Certificate count and bundle SHA-256
  - Bundle file size
  - Whether detached signatures are present

Examples:
  rootca info
  rootca info ./bundles --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Output in JSON format")
}

// InfoOutput represents the output of the info command.
type InfoOutput struct {
	BundlePath          string    `json:"bundle_path"`
	PEMBundlePath       string    `json:"pem_bundle_path"`
	MetadataPath        string    `json:"metadata_path"`
	UpstreamTimestamp   string    `json:"upstream_timestamp"`
	UpstreamFingerprint string    `json:"upstream_fingerprint"`
	Generated           time.Time `json:"generated"`
	CertCount           int       `json:"cert_count"`
	BundleSHA256        string    `json:"bundle_sha256"`
	PEMBundleSHA256     string    `json:"pem_bundle_sha256,omitempty"`
	SizeBytes           int64     `json:"size_bytes,omitempty"`
	Source              string    `json:"source,omitempty"`
	Signed              bool      `json:"signed"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, args)
	if err != nil {
		return err
	}

	output, err := gatherInfo(a.store)
	if err != nil {
		return err
	}

	if infoJSON {
		return JSON(output)
	}
	printInfoHuman(output)
	return nil
}

// gatherInfo collects the metadata and artifact details of store.
func gatherInfo(store *certstore.Store) (InfoOutput, error) {
	if !store.IsInitialized() {
		return InfoOutput{}, noMetadataError(store)
	}
	metadata, err := store.ReadMetadata()
	if err != nil {
		return InfoOutput{}, err
	}
	if metadata == nil {
		return InfoOutput{}, noMetadataError(store)
	}

	output := InfoOutput{
		BundlePath:          store.BundlePath(),
		PEMBundlePath:       store.PEMBundlePath(),
		MetadataPath:        store.MetadataPath(),
		UpstreamTimestamp:   metadata.UpstreamTimestamp,
		UpstreamFingerprint: metadata.UpstreamFingerprint,
		Generated:           metadata.Generated,
		CertCount:           metadata.CertCount,
		BundleSHA256:        metadata.BundleSHA256,
		PEMBundleSHA256:     metadata.PEMBundleSHA256,
		Source:              metadata.Source,
		Signed:              true,
	}
	if info, err := os.Stat(store.BundlePath()); err == nil {
		output.SizeBytes = info.Size()
	}
	for _, p := range store.ArtifactPaths() {
		if _, err := os.Stat(signer.SignatureName(p)); err != nil {
			output.Signed = false
		}
	}
	return output, nil
}

func noMetadataError(store *certstore.Store) error {
	return &rootcaerrors.RootcaError{
		Op:   "read metadata",
		Path: store.MetadataPath(),
		Err:  fmt.Errorf("%w, run 'rootca update' first", rootcaerrors.ErrNoMetadata),
	}
}

func printInfoHuman(info InfoOutput) {
	Header("Mozilla CA Bundle Information")
	Field("Feed date", info.UpstreamTimestamp)
	Field("Fingerprint", info.UpstreamFingerprint)
	Field("Certificates", fmt.Sprintf("%d", info.CertCount))
	if info.SizeBytes > 0 {
		Field("Size", FormatBytes(info.SizeBytes))
	}
	Field("Generated", info.Generated.Format("2006-01-02 15:04:05 MST"))
	if info.Source != "" {
		Field("Source", info.Source)
	}
	Field("Bundle", info.BundlePath)
	Field("PEM bundle", info.PEMBundlePath)
	Field("Metadata", info.MetadataPath)
	Field("Signed", fmt.Sprintf("%v", info.Signed))
	EmptyLine()
	Field("SHA256", info.BundleSHA256)
	if info.PEMBundleSHA256 != "" {
		Field("PEM SHA256", info.PEMBundleSHA256)
	}
}
