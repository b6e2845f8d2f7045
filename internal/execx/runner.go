// Package execx runs external tools such as openssl.
package execx

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Runner executes an external command and returns its combined output.
// A non-zero exit status is reported as an error.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// OSRunner is the production implementation of Runner.
type OSRunner struct{}

// Run executes name with args and waits for it to exit.
func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, &ExitError{
			Command: name + " " + strings.Join(args, " "),
			Output:  strings.TrimSpace(string(output)),
			Err:     err,
		}
	}
	return output, nil
}

// ExitError describes a failed command invocation.
type ExitError struct {
	Command string
	Output  string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Output)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// LookPath resolves the tool binary, preferring an explicit path.
func LookPath(explicit, name string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("cannot find %s in PATH: %w", name, err)
	}
	return path, nil
}
