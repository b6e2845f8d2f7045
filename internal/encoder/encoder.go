// Package encoder packages PEM certificates into a PKCS#7 container.
package encoder

import (
	"context"
	"fmt"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/execx"
)

// Encoder turns a list of PEM certificate files into a single container file.
type Encoder interface {
	Encode(ctx context.Context, certPaths []string, outPath string) error
}

// OpenSSLEncoder shells out to "openssl crl2pkcs7".
type OpenSSLEncoder struct {
	opensslPath string
	runner      execx.Runner
}

// NewOpenSSLEncoder creates an encoder using the openssl binary at opensslPath.
// If runner is nil, execx.OSRunner is used.
func NewOpenSSLEncoder(opensslPath string, runner execx.Runner) *OpenSSLEncoder {
	if runner == nil {
		runner = execx.OSRunner{}
	}
	return &OpenSSLEncoder{
		opensslPath: opensslPath,
		runner:      runner,
	}
}

// Encode invokes openssl once with every certificate path and writes outPath.
func (e *OpenSSLEncoder) Encode(ctx context.Context, certPaths []string, outPath string) error {
	if len(certPaths) == 0 {
		return &rootcaerrors.RootcaError{
			Op:   "encode bundle",
			Path: outPath,
			Err:  fmt.Errorf("%w: no certificates to add to bundle", rootcaerrors.ErrEncode),
		}
	}

	args := []string{"crl2pkcs7", "-nocrl"}
	for _, certPath := range certPaths {
		args = append(args, "-certfile", certPath)
	}
	args = append(args, "-out", outPath)

	if _, err := e.runner.Run(ctx, e.opensslPath, args...); err != nil {
		return &rootcaerrors.RootcaError{
			Op:   "encode bundle",
			Path: outPath,
			Err:  fmt.Errorf("%w: %w", rootcaerrors.ErrEncode, err),
		}
	}

	return nil
}
