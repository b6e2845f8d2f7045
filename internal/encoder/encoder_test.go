package encoder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
)

type recordingRunner struct {
	calls [][]string
	err   error
}

func (r *recordingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	return nil, r.err
}

func TestOpenSSLEncoder_Arguments(t *testing.T) {
	runner := &recordingRunner{}
	enc := NewOpenSSLEncoder("/usr/bin/openssl", runner)

	err := enc.Encode(context.Background(), []string{"/tmp/s/cert_0.crt", "/tmp/s/cert_1.crt"}, "/tmp/s/out.p7b")
	require.NoError(t, err)

	require.Len(t, runner.calls, 1, "encoder must be invoked exactly once")
	assert.Equal(t, []string{
		"/usr/bin/openssl", "crl2pkcs7", "-nocrl",
		"-certfile", "/tmp/s/cert_0.crt",
		"-certfile", "/tmp/s/cert_1.crt",
		"-out", "/tmp/s/out.p7b",
	}, runner.calls[0])
}

func TestOpenSSLEncoder_Failure(t *testing.T) {
	runner := &recordingRunner{err: errors.New("exit status 1")}
	enc := NewOpenSSLEncoder("openssl", runner)

	err := enc.Encode(context.Background(), []string{"cert_0.crt"}, "out.p7b")
	require.Error(t, err)
	assert.ErrorIs(t, err, rootcaerrors.ErrEncode)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestOpenSSLEncoder_NoCertificates(t *testing.T) {
	runner := &recordingRunner{}
	enc := NewOpenSSLEncoder("openssl", runner)

	err := enc.Encode(context.Background(), nil, "out.p7b")
	require.Error(t, err)
	assert.ErrorIs(t, err, rootcaerrors.ErrEncode)
	assert.Empty(t, runner.calls)
}

func TestNewOpenSSLEncoder_DefaultRunner(t *testing.T) {
	enc := NewOpenSSLEncoder("openssl", nil)
	assert.NotNil(t, enc.runner)
}
