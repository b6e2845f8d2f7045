package cli

import (
	"github.com/spf13/cobra"

	"github.com/princespaghetti/rootca/internal/certstore"
)

var statusJSON bool

// statusCmd represents the status command.
var statusCmd = &cobra.Command{
	Use:   "status [workdir]",
	Short: "Report whether the bundle matches the upstream feed",
	Long: `Fetch only the upstream fingerprint and compare it with the stored
metadata. Nothing is downloaded beyond the fingerprint and nothing is written.

Examples:
  rootca status
  rootca status ./bundles --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
}

// StatusOutput represents the structured output of the status command.
type StatusOutput struct {
	Workdir           string `json:"workdir"`
	State             string `json:"state"`
	LatestFingerprint string `json:"latest_fingerprint"`
	StoredFingerprint string `json:"stored_fingerprint,omitempty"`
	UpstreamTimestamp string `json:"upstream_timestamp,omitempty"`
}

// Bundle states reported by status.
const (
	stateUpToDate = "up-to-date"
	stateStale    = "stale"
	stateMissing  = "missing"
)

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd, args)
	if err != nil {
		return err
	}
	ctx, cancel := a.runContext(cmd)
	defer cancel()

	stale, latest, stored, err := a.newPipeline(nil).Check(ctx)
	if err != nil {
		return err
	}

	status := buildStatus(a.store.BasePath(), stale, latest, stored)
	if statusJSON {
		return JSON(status)
	}
	printStatusHuman(status)
	return nil
}

// buildStatus condenses a freshness check into StatusOutput.
func buildStatus(workdir string, stale bool, latest string, stored *certstore.Metadata) StatusOutput {
	status := StatusOutput{
		Workdir:           workdir,
		State:             stateUpToDate,
		LatestFingerprint: latest,
	}
	switch {
	case stored == nil:
		status.State = stateMissing
	case stale:
		status.State = stateStale
	}
	if stored != nil {
		status.StoredFingerprint = stored.UpstreamFingerprint
		status.UpstreamTimestamp = stored.UpstreamTimestamp
	}
	return status
}

// printStatusHuman prints the status in a human-readable format.
func printStatusHuman(status StatusOutput) {
	switch status.State {
	case stateUpToDate:
		Success("Bundle is up to date")
	case stateStale:
		Warning("Bundle is stale, run 'rootca update'")
	default:
		Warning("No bundle has been built yet, run 'rootca update'")
	}
	Field("Workdir", status.Workdir)
	Field("Upstream", status.LatestFingerprint)
	if status.StoredFingerprint != "" {
		Field("Stored", status.StoredFingerprint)
		Field("Feed date", status.UpstreamTimestamp)
	}
}
