package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/princespaghetti/rootca/internal/certstore"
	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/execx"
	"github.com/princespaghetti/rootca/internal/feed"
	"github.com/princespaghetti/rootca/internal/fetcher"
	"github.com/princespaghetti/rootca/internal/signer"
)

var (
	doctorVerbose bool
	doctorJSON    bool
)

// doctorCmd represents the doctor command.
var doctorCmd = &cobra.Command{
	Use:   "doctor [workdir]",
	Short: "Run diagnostics on the workdir",
	Long: `Run diagnostics on the workdir to identify issues without contacting
upstream.

Checks performed:
  - Workdir exists and is a directory
  - Metadata file is valid with the current schema
  - PKCS#7 and PEM bundles exist and their SHA-256 match the metadata
  - Signatures are present for every artifact or for none
  - No temp files were left behind by an interrupted run
  - The openssl binary can be found

Use --verbose for detailed diagnostic information.
Use --json for machine-readable output.

Examples:
  rootca doctor
  rootca doctor ./bundles --verbose
  rootca doctor --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().BoolVar(&doctorVerbose, "verbose", false, "Show detailed diagnostic information")
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output in JSON format")
}

// CheckResult represents the result of a single diagnostic check.
type CheckResult struct {
	Name        string   `json:"name"`
	Status      string   `json:"status"` // "pass", "warn", "fail"
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// DoctorOutput represents the complete diagnostic output.
type DoctorOutput struct {
	Checks      []CheckResult `json:"checks"`
	Summary     Summary       `json:"summary"`
	OverallPass bool          `json:"overall_pass"`
}

// Summary contains counts of check results.
type Summary struct {
	Total    int `json:"total"`
	Passed   int `json:"passed"`
	Warnings int `json:"warnings"`
	Failures int `json:"failures"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, args)
	if err != nil {
		return err
	}

	output := diagnose(a.store, a.cfg.OpenSSLPath)

	if doctorJSON {
		if err := JSON(output); err != nil {
			return err
		}
	} else {
		printDoctorOutput(output)
	}

	if !output.OverallPass {
		return &rootcaerrors.RootcaError{
			Op:  "doctor",
			Err: fmt.Errorf("%d of %d checks failed", output.Summary.Failures, output.Summary.Total),
		}
	}
	return nil
}

// diagnose runs every check against store.
func diagnose(store *certstore.Store, opensslPath string) DoctorOutput {
	results := []CheckResult{
		checkWorkdir(store),
		checkMetadata(store),
		checkBundle("PKCS#7 bundle", store.BundlePath(), func(m *certstore.Metadata) string { return m.BundleSHA256 }, store),
		checkBundle("PEM bundle", store.PEMBundlePath(), func(m *certstore.Metadata) string { return m.PEMBundleSHA256 }, store),
		checkSignatures(store),
		checkLeftovers(store),
		checkOpenSSL(opensslPath),
	}

	summary := Summary{Total: len(results)}
	overallPass := true
	for _, result := range results {
		switch result.Status {
		case "pass":
			summary.Passed++
		case "warn":
			summary.Warnings++
			// Warnings don't fail the overall check
		case "fail":
			summary.Failures++
			overallPass = false
		}
	}

	return DoctorOutput{
		Checks:      results,
		Summary:     summary,
		OverallPass: overallPass,
	}
}

func printDoctorOutput(output DoctorOutput) {
	Header("Workdir Diagnostics")

	for _, check := range output.Checks {
		fmt.Fprintf(stdout, "%s %s\n", StatusIcon(check.Status), check.Name)

		if (doctorVerbose || check.Status != "pass") && len(check.Issues) > 0 {
			for _, issue := range check.Issues {
				fmt.Fprintf(stdout, "  - %s\n", issue)
			}
		}

		if check.Status != "pass" && len(check.Suggestions) > 0 {
			for _, suggestion := range check.Suggestions {
				fmt.Fprintf(stdout, "  → %s\n", suggestion)
			}
		}

		EmptyLine()
	}

	Subheader("Summary")
	Field("Total checks", fmt.Sprintf("%d", output.Summary.Total))
	Field("Passed", fmt.Sprintf("%d", output.Summary.Passed))
	if output.Summary.Warnings > 0 {
		Field("Warnings", fmt.Sprintf("%d", output.Summary.Warnings))
	}
	if output.Summary.Failures > 0 {
		Field("Failures", fmt.Sprintf("%d", output.Summary.Failures))
	}
	EmptyLine()

	switch {
	case !output.OverallPass:
		Info("Status: FAIL")
	case output.Summary.Warnings > 0:
		Info("Status: PASS (with warnings)")
	default:
		Info("Status: PASS")
	}
}

// checkWorkdir verifies the workdir exists.
func checkWorkdir(store *certstore.Store) CheckResult {
	result := CheckResult{
		Name:   "Workdir",
		Status: "pass",
	}

	info, err := os.Stat(store.BasePath())
	switch {
	case os.IsNotExist(err):
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Directory does not exist: %s", store.BasePath()))
		result.Suggestions = append(result.Suggestions, "Run 'rootca update' to create it")
	case err != nil:
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Cannot access directory: %v", err))
	case !info.IsDir():
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Path exists but is not a directory: %s", store.BasePath()))
	default:
		result.Issues = append(result.Issues, fmt.Sprintf("Location: %s", store.BasePath()))
	}

	return result
}

// checkMetadata verifies the metadata file is valid.
func checkMetadata(store *certstore.Store) CheckResult {
	result := CheckResult{
		Name:   "Metadata integrity",
		Status: "pass",
	}

	metadata, err := store.ReadMetadata()
	if err != nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Cannot read metadata: %v", err))
		result.Suggestions = append(result.Suggestions, "Run 'rootca update --force' to rewrite it")
		return result
	}
	if metadata == nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, "Metadata file does not exist")
		result.Suggestions = append(result.Suggestions, "Run 'rootca update' to build the bundle")
		return result
	}

	if _, err := fetcher.ParseFingerprintLine(metadata.UpstreamFingerprint); err != nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Invalid upstream fingerprint: %v", err))
	}
	if _, err := time.Parse(feed.NormalizedTimeLayout, metadata.UpstreamTimestamp); err != nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Invalid upstream timestamp %q", metadata.UpstreamTimestamp))
	}
	if metadata.BundleSHA256 == "" {
		result.Status = "fail"
		result.Issues = append(result.Issues, "Bundle SHA256 missing from metadata")
	}

	if result.Status == "fail" {
		result.Suggestions = append(result.Suggestions, "Run 'rootca update --force' to rewrite the metadata")
	}

	return result
}

// checkBundle verifies a bundle exists and matches its recorded digest.
// An empty recorded digest skips the comparison.
func checkBundle(name, path string, recorded func(*certstore.Metadata) string, store *certstore.Store) CheckResult {
	result := CheckResult{
		Name:   name,
		Status: "pass",
	}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Cannot read bundle: %v", err))
		result.Suggestions = append(result.Suggestions, "Run 'rootca update --force' to rebuild it")
		return result
	}
	if len(data) == 0 {
		result.Status = "fail"
		result.Issues = append(result.Issues, "Bundle file is empty")
		result.Suggestions = append(result.Suggestions, "Run 'rootca update --force' to rebuild it")
		return result
	}
	result.Issues = append(result.Issues, fmt.Sprintf("Size: %s", FormatBytes(int64(len(data)))))

	metadata, err := store.ReadMetadata()
	if err == nil && metadata != nil {
		if want := recorded(metadata); want != "" && fetcher.ComputeSHA256(data) != want {
			result.Status = "fail"
			result.Issues = append(result.Issues, "Bundle SHA256 hash mismatch")
			result.Suggestions = append(result.Suggestions, "Bundle file has been modified outside of rootca")
			result.Suggestions = append(result.Suggestions, "Run 'rootca update --force' to rebuild it")
		}
	}

	return result
}

// checkSignatures verifies that either every artifact or none is signed.
func checkSignatures(store *certstore.Store) CheckResult {
	result := CheckResult{
		Name:   "Signatures",
		Status: "pass",
	}

	var signed, unsigned []string
	for _, p := range store.ArtifactPaths() {
		if _, err := os.Stat(signer.SignatureName(p)); err == nil {
			signed = append(signed, filepath.Base(p))
		} else {
			unsigned = append(unsigned, filepath.Base(p))
		}
	}

	switch {
	case len(unsigned) == 0:
		result.Issues = append(result.Issues, "All artifacts are signed")
	case len(signed) == 0:
		result.Status = "warn"
		result.Issues = append(result.Issues, "No artifact is signed")
		result.Suggestions = append(result.Suggestions, "Set $ROOTCA_SIGNING_KEY and run 'rootca sign'")
	default:
		result.Status = "fail"
		result.Issues = append(result.Issues, fmt.Sprintf("Signed: %s; unsigned: %s", strings.Join(signed, ", "), strings.Join(unsigned, ", ")))
		result.Suggestions = append(result.Suggestions, "Run 'rootca sign' to re-sign every artifact")
	}

	return result
}

// checkLeftovers reports temp files from an interrupted run.
func checkLeftovers(store *certstore.Store) CheckResult {
	result := CheckResult{
		Name:   "Temp files",
		Status: "pass",
	}

	matches, err := filepath.Glob(filepath.Join(store.BasePath(), "*.tmp"))
	if err != nil {
		result.Status = "warn"
		result.Issues = append(result.Issues, fmt.Sprintf("Cannot list workdir: %v", err))
		return result
	}
	if len(matches) > 0 {
		result.Status = "warn"
		for _, m := range matches {
			result.Issues = append(result.Issues, fmt.Sprintf("Leftover temp file: %s", filepath.Base(m)))
		}
		result.Suggestions = append(result.Suggestions, "An earlier run was interrupted; the files can be removed safely")
	}

	return result
}

// checkOpenSSL verifies the encoder and signer binary can be found.
func checkOpenSSL(explicit string) CheckResult {
	result := CheckResult{
		Name:   "OpenSSL",
		Status: "pass",
	}

	path, err := execx.LookPath(explicit, "openssl")
	if err == nil && explicit != "" {
		_, err = os.Stat(path)
	}
	if err != nil {
		result.Status = "fail"
		result.Issues = append(result.Issues, err.Error())
		result.Suggestions = append(result.Suggestions, "Install openssl or pass --openssl-path")
		return result
	}
	result.Issues = append(result.Issues, fmt.Sprintf("Binary: %s", path))

	return result
}
