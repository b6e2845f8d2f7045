// Package errors provides custom error types and exit codes for rootca.
package errors

import (
	"errors"
	"fmt"
	"io/fs"
)

// RootcaError is a custom error type that provides context about operations.
type RootcaError struct {
	Op   string // Operation being performed (e.g., "encode bundle", "sign file")
	Path string // File or URL involved
	Err  error  // Underlying error
}

// Error implements the error interface.
func (e *RootcaError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RootcaError) Unwrap() error {
	return e.Err
}

// Predefined errors for the failure classes of an update run.
var (
	ErrFetch          = fmt.Errorf("upstream fetch failed")
	ErrEmptyFeed      = fmt.Errorf("upstream feed contains no certificates")
	ErrEncode         = fmt.Errorf("container encoder failed")
	ErrTimestampParse = fmt.Errorf("unparseable upstream timestamp")
	ErrSign           = fmt.Errorf("signing failed")
	ErrVerify         = fmt.Errorf("signature verification failed")
	ErrLocked         = fmt.Errorf("workdir is locked by another run")
	ErrNoMetadata     = fmt.Errorf("bundle metadata not found")
	ErrBadMetadata    = fmt.Errorf("bundle metadata is unreadable")
	ErrConfig         = fmt.Errorf("invalid configuration")
)

// Exit codes - use these constants in CLI commands instead of hardcoding values.
const (
	ExitSuccess      = 0 // Success, including the "already fresh" short-circuit
	ExitGeneralError = 1 // General error (file I/O, permissions, lock)
	ExitConfigError  = 2 // Configuration error (invalid config, missing values)
	ExitCertError    = 3 // Feed error (no certificates, bad timestamp)
	ExitNetworkError = 4 // Network error (failed to fetch feed or fingerprint)
	ExitToolError    = 5 // External tool error (encoder or signer)
)

// ExitCode maps an error to the process exit code the CLI should use.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case errors.Is(err, ErrConfig):
		return ExitConfigError
	case errors.Is(err, ErrFetch):
		return ExitNetworkError
	case errors.Is(err, ErrEmptyFeed), errors.Is(err, ErrTimestampParse):
		return ExitCertError
	case errors.Is(err, ErrEncode), errors.Is(err, ErrSign), errors.Is(err, ErrVerify):
		return ExitToolError
	default:
		return ExitGeneralError
	}
}

// IgnoreNotExist returns nil when err reports a missing file.
func IgnoreNotExist(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
