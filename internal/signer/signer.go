// Package signer produces and checks detached SHA-256 signatures over build artifacts.
package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/execx"
)

// SignatureSuffix is appended to a target path to name its detached signature.
const SignatureSuffix = ".sig"

// Signer writes a detached signature of targetPath to sigPath.
type Signer interface {
	Sign(ctx context.Context, targetPath, sigPath string) error
}

// Verifier checks a detached signature produced by a Signer.
type Verifier interface {
	Verify(ctx context.Context, targetPath, sigPath string) error
}

// SignatureName returns the signature path for target.
func SignatureName(target string) string {
	return target + SignatureSuffix
}

// UnescapeKey turns PEM text whose newlines were escaped as literal "\n"
// (the usual form in CI secret variables) back into real PEM.
func UnescapeKey(s string) []byte {
	return []byte(strings.ReplaceAll(s, `\n`, "\n"))
}

// OpenSSLSigner signs with "openssl dgst -sha256 -sign" using a PEM private key
// held in memory. The key only touches disk for the duration of one invocation.
type OpenSSLSigner struct {
	opensslPath string
	runner      execx.Runner
	privateKey  []byte
	publicKey   []byte
	tempDir     string
}

// Option configures an OpenSSLSigner.
type Option func(*OpenSSLSigner)

// WithTempDir sets where key material is written while openssl runs.
// Empty selects the system temp directory.
func WithTempDir(dir string) Option {
	return func(s *OpenSSLSigner) { s.tempDir = dir }
}

// NewOpenSSLSigner creates a signer. publicKey may be empty, in which case
// signatures are not verified after signing and Verify is unavailable.
// If runner is nil, execx.OSRunner is used.
func NewOpenSSLSigner(opensslPath string, runner execx.Runner, privateKey, publicKey []byte, opts ...Option) *OpenSSLSigner {
	if runner == nil {
		runner = execx.OSRunner{}
	}
	s := &OpenSSLSigner{
		opensslPath: opensslPath,
		runner:      runner,
		privateKey:  privateKey,
		publicKey:   publicKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanSign reports whether a private key is configured.
func (s *OpenSSLSigner) CanSign() bool {
	return len(s.privateKey) > 0
}

// CanVerify reports whether a public key is configured.
func (s *OpenSSLSigner) CanVerify() bool {
	return len(s.publicKey) > 0
}

// Sign replaces sigPath with a hex-encoded SHA-256 signature of targetPath.
func (s *OpenSSLSigner) Sign(ctx context.Context, targetPath, sigPath string) error {
	if len(s.privateKey) == 0 {
		return signError(targetPath, fmt.Errorf("no signing key configured"))
	}

	keyPath, cleanup, err := writeSecret(s.tempDir, s.privateKey)
	if err != nil {
		return signError(targetPath, err)
	}
	defer cleanup()

	if err := rootcaerrors.IgnoreNotExist(os.Remove(sigPath)); err != nil {
		return signError(targetPath, fmt.Errorf("remove previous signature: %w", err))
	}

	args := []string{
		"dgst",
		"-sha256",
		"-sign", keyPath,
		"-keyform", "PEM",
		"-out", sigPath,
		"-hex",
		targetPath,
	}
	if _, err := s.runner.Run(ctx, s.opensslPath, args...); err != nil {
		_ = os.Remove(sigPath)
		return signError(targetPath, err)
	}

	if len(s.publicKey) > 0 {
		if err := s.Verify(ctx, targetPath, sigPath); err != nil {
			_ = os.Remove(sigPath)
			return signError(targetPath, fmt.Errorf("signature validation failed after signing: %w", err))
		}
	}

	return nil
}

// Verify checks sigPath against targetPath with the configured public key.
func (s *OpenSSLSigner) Verify(ctx context.Context, targetPath, sigPath string) error {
	if len(s.publicKey) == 0 {
		return verifyError(targetPath, fmt.Errorf("no public key configured"))
	}

	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return verifyError(targetPath, err)
	}

	rawSig, err := DecodeHexSignature(sigData)
	if err != nil {
		return verifyError(targetPath, err)
	}

	rawSigPath, cleanupSig, err := writeSecret(s.tempDir, rawSig)
	if err != nil {
		return verifyError(targetPath, err)
	}
	defer cleanupSig()

	pubKeyPath, cleanupPub, err := writeSecret(s.tempDir, s.publicKey)
	if err != nil {
		return verifyError(targetPath, err)
	}
	defer cleanupPub()

	args := []string{
		"dgst",
		"-sha256",
		"-verify", pubKeyPath,
		"-signature", rawSigPath,
		targetPath,
	}
	if _, err := s.runner.Run(ctx, s.opensslPath, args...); err != nil {
		return verifyError(targetPath, err)
	}

	return nil
}

// DecodeHexSignature extracts the binary signature from openssl's hex output,
// which looks like "RSA-SHA2-256(file)= 3045...".
func DecodeHexSignature(data []byte) ([]byte, error) {
	text := bytes.TrimSpace(data)
	if idx := bytes.LastIndex(text, []byte("= ")); idx >= 0 {
		text = bytes.TrimSpace(text[idx+2:])
	}
	if len(text) == 0 {
		return nil, fmt.Errorf("signature file is empty")
	}

	sig := make([]byte, hex.DecodedLen(len(text)))
	if _, err := hex.Decode(sig, text); err != nil {
		return nil, fmt.Errorf("decode hex signature: %w", err)
	}
	return sig, nil
}

// writeSecret stores data in a private temp file and returns a cleanup func
// that removes it.
func writeSecret(dir string, data []byte) (string, func(), error) {
	f, err := os.CreateTemp(dir, "rootca")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	cleanup := func() { _ = os.Remove(path) }

	if err := f.Chmod(0600); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}

	return path, cleanup, nil
}

func signError(target string, err error) error {
	return &rootcaerrors.RootcaError{
		Op:   "sign file",
		Path: target,
		Err:  fmt.Errorf("%w: %w", rootcaerrors.ErrSign, err),
	}
}

func verifyError(target string, err error) error {
	return &rootcaerrors.RootcaError{
		Op:   "verify signature",
		Path: target,
		Err:  fmt.Errorf("%w: %w", rootcaerrors.ErrVerify, err),
	}
}
