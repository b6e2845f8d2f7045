package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/princespaghetti/rootca/internal/certstore"
	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/fetcher"
	"github.com/princespaghetti/rootca/internal/signer"
)

const (
	fingerprintA = "8682b8d8a5bc5b3e6e3e2f9a6b1c0d5e4f3a2b1c0d9e8f7a6b5c4d3e2f1a0b9c"
	fingerprintB = "1f1e1d1c1b1a19181716151413121110f0e0d0c0b0a090807060504030201000"
)

const certOne = `-----BEGIN CERTIFICATE-----
MIIBATCBrKADAgECAgEBMA0GCSqGSIb3DQEBCwUAMA8xDTALBgNVBAMMBHJvb3Qx
-----END CERTIFICATE-----
`

const certTwo = `-----BEGIN CERTIFICATE-----
MIIBAjCBraADAgECAgECMA0GCSqGSIb3DQEBCwUAMA8xDTALBgNVBAMMBHJvb3Qy
-----END CERTIFICATE-----
`

func mozillaFeed(asOf string, certs ...string) []byte {
	var b strings.Builder
	b.WriteString("##\n## Bundle of CA Root Certificates\n##\n")
	if asOf != "" {
		b.WriteString("## Certificate data from Mozilla as of: " + asOf + "\n")
	}
	b.WriteString("##\n\n")
	for i, c := range certs {
		fmt.Fprintf(&b, "Root CA %d\n==========\n%s\n", i+1, c)
	}
	return []byte(b.String())
}

// fakeUpstream serves a fixed fingerprint and feed.
type fakeUpstream struct {
	fingerprint    string
	feed           []byte
	fingerprintErr error
	feedErr        error
	feedCalls      int
}

func (f *fakeUpstream) FetchFingerprint(ctx context.Context, url string) (string, error) {
	return f.fingerprint, f.fingerprintErr
}

func (f *fakeUpstream) FetchFeed(ctx context.Context, url string) ([]byte, error) {
	f.feedCalls++
	return f.feed, f.feedErr
}

// fakeEncoder concatenates the certificate files into outPath.
type fakeEncoder struct {
	calls     int
	lastPaths []string
	err       error
}

func (e *fakeEncoder) Encode(ctx context.Context, certPaths []string, outPath string) error {
	e.calls++
	e.lastPaths = certPaths
	if e.err != nil {
		return &rootcaerrors.RootcaError{Op: "encode bundle", Path: outPath, Err: fmt.Errorf("%w: %w", rootcaerrors.ErrEncode, e.err)}
	}
	var out []byte
	for _, p := range certPaths {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, data...)
	}
	return os.WriteFile(outPath, out, 0644)
}

// fakeSigner writes "signed:<sha256 of target>" as the signature.
type fakeSigner struct {
	fail  map[string]bool
	calls []string
}

func (s *fakeSigner) Sign(ctx context.Context, targetPath, sigPath string) error {
	s.calls = append(s.calls, targetPath)
	if s.fail[filepath.Base(targetPath)] {
		return &rootcaerrors.RootcaError{Op: "sign file", Path: targetPath, Err: rootcaerrors.ErrSign}
	}
	data, err := os.ReadFile(targetPath)
	if err != nil {
		return err
	}
	return os.WriteFile(sigPath, []byte("signed:"+fetcher.ComputeSHA256(data)), 0644)
}

// failingMetadataFS fails the rename that publishes the metadata file.
type failingMetadataFS struct {
	certstore.OSFileSystem
	metadataName string
}

func (fs *failingMetadataFS) Rename(oldpath, newpath string) error {
	if filepath.Base(newpath) == fs.metadataName {
		return errors.New("injected rename failure")
	}
	return os.Rename(oldpath, newpath)
}

type harness struct {
	dir      string
	scratch  string
	upstream *fakeUpstream
	encoder  *fakeEncoder
	clock    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		dir:     t.TempDir(),
		scratch: t.TempDir(),
		upstream: &fakeUpstream{
			fingerprint: fingerprintA,
			feed:        mozillaFeed("Tue Oct 11 03:12:05 2022 GMT", certOne, certTwo),
		},
		encoder: &fakeEncoder{},
		clock:   time.Date(2026, 10, 17, 6, 30, 0, 0, time.UTC),
	}
}

func (h *harness) store(t *testing.T, opts ...certstore.Option) *certstore.Store {
	t.Helper()
	store, err := certstore.NewStore(h.dir, opts...)
	require.NoError(t, err)
	return store
}

func (h *harness) pipeline(t *testing.T, store *certstore.Store, opts ...Option) *Pipeline {
	t.Helper()
	base := []Option{
		WithScratchDir(h.scratch),
		WithClock(func() time.Time { return h.clock }),
		WithLockTimeout(time.Second),
	}
	return New(store, h.upstream, h.upstream, h.encoder, append(base, opts...)...)
}

func (h *harness) run(t *testing.T, opts ...Option) (*Result, error) {
	t.Helper()
	return h.pipeline(t, h.store(t), opts...).Run(context.Background())
}

func snapshotDir(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), ".lock") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		info, err := e.Info()
		require.NoError(t, err)
		files[e.Name()] = fmt.Sprintf("%s@%d", data, info.ModTime().UnixNano())
	}
	return files
}

func TestNeedsRebuild(t *testing.T) {
	tests := []struct {
		name   string
		stored *certstore.Metadata
		latest string
		want   bool
	}{
		{"no metadata", nil, fingerprintA, true},
		{"equal", &certstore.Metadata{UpstreamFingerprint: fingerprintA}, fingerprintA, false},
		{"case and whitespace", &certstore.Metadata{UpstreamFingerprint: fingerprintA}, " " + strings.ToUpper(fingerprintA) + "\n", false},
		{"different", &certstore.Metadata{UpstreamFingerprint: fingerprintA}, fingerprintB, true},
		{"empty stored", &certstore.Metadata{}, fingerprintA, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsRebuild(tt.stored, tt.latest); got != tt.want {
				t.Errorf("NeedsRebuild() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_FirstRunBuilds(t *testing.T) {
	h := newHarness(t)

	result, err := h.run(t)
	require.NoError(t, err)
	assert.True(t, result.Rebuilt)
	assert.Equal(t, fingerprintA, result.Fingerprint)

	store := h.store(t)
	bundle, err := os.ReadFile(store.BundlePath())
	require.NoError(t, err)
	assert.Equal(t, certOne+certTwo, string(bundle), "records keep their upstream order")

	pem, err := os.ReadFile(store.PEMBundlePath())
	require.NoError(t, err)
	assert.Equal(t, certOne+certTwo, string(pem))

	metadata, err := store.ReadMetadata()
	require.NoError(t, err)
	want := &certstore.Metadata{
		Version:             "1",
		UpstreamTimestamp:   "2022-10-11T03:12:05Z",
		UpstreamFingerprint: fingerprintA,
		Generated:           h.clock,
		CertCount:           2,
		BundleSHA256:        fetcher.ComputeSHA256(bundle),
		PEMBundleSHA256:     fetcher.ComputeSHA256(pem),
		Source:              fetcher.DefaultFeedURL,
	}
	if diff := cmp.Diff(want, metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, 1, h.encoder.calls)
	for i, p := range h.encoder.lastPaths {
		assert.Equal(t, fmt.Sprintf("cert_%d.crt", i), filepath.Base(p))
	}

	entries, err := os.ReadDir(h.scratch)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directory must be removed")
}

func TestRun_UnchangedFingerprintSkips(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t)
	require.NoError(t, err)

	before := snapshotDir(t, h.dir)

	h.upstream.fingerprint = "  " + strings.ToUpper(fingerprintA) + "  "
	result, err := h.run(t)
	require.NoError(t, err)

	assert.False(t, result.Rebuilt)
	assert.Equal(t, 1, h.upstream.feedCalls, "feed must not be downloaded")
	assert.Equal(t, 1, h.encoder.calls, "encoder must not run")
	assert.Equal(t, fingerprintA, result.Metadata.UpstreamFingerprint)
	if diff := cmp.Diff(before, snapshotDir(t, h.dir)); diff != "" {
		t.Errorf("workdir changed on a fresh run (-before +after):\n%s", diff)
	}
}

func TestRun_ChangedFingerprintRebuilds(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t)
	require.NoError(t, err)

	h.upstream.fingerprint = fingerprintB
	h.upstream.feed = mozillaFeed("Wed Nov  2 04:00:00 2022 GMT", certTwo)
	result, err := h.run(t)
	require.NoError(t, err)

	assert.True(t, result.Rebuilt)
	assert.Equal(t, fingerprintB, result.Metadata.UpstreamFingerprint)
	assert.Equal(t, "2022-11-02T04:00:00Z", result.Metadata.UpstreamTimestamp)
	assert.Equal(t, 1, result.Metadata.CertCount)

	bundle, err := os.ReadFile(h.store(t).BundlePath())
	require.NoError(t, err)
	assert.Equal(t, certTwo, string(bundle))
}

func TestRun_Force(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t)
	require.NoError(t, err)

	result, err := h.run(t, WithForce(true))
	require.NoError(t, err)
	assert.True(t, result.Forced)
	assert.True(t, result.Rebuilt)
	assert.Equal(t, 2, h.encoder.calls)
}

func TestRun_ForceMarker(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t)
	require.NoError(t, err)

	marker := filepath.Join(h.dir, certstore.ForceMarkerName)
	require.NoError(t, os.WriteFile(marker, nil, 0644))

	result, err := h.run(t)
	require.NoError(t, err)
	assert.True(t, result.Rebuilt)
	assert.NoFileExists(t, marker)

	result, err = h.run(t)
	require.NoError(t, err)
	assert.False(t, result.Rebuilt, "marker only forces one rebuild")
}

func TestRun_FailuresPublishNothing(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(h *harness)
		wantErr error
		encodes int
	}{
		{
			name:    "empty feed",
			mutate:  func(h *harness) { h.upstream.feed = mozillaFeed("Tue Oct 11 03:12:05 2022 GMT") },
			wantErr: rootcaerrors.ErrEmptyFeed,
			encodes: 1,
		},
		{
			name:    "feed download",
			mutate:  func(h *harness) { h.upstream.feedErr = fmt.Errorf("%w: 503", rootcaerrors.ErrFetch) },
			wantErr: rootcaerrors.ErrFetch,
			encodes: 1,
		},
		{
			name:    "encoder",
			mutate:  func(h *harness) { h.encoder.err = errors.New("exit status 1") },
			wantErr: rootcaerrors.ErrEncode,
			encodes: 2,
		},
		{
			name:    "missing timestamp",
			mutate:  func(h *harness) { h.upstream.feed = mozillaFeed("", certOne) },
			wantErr: rootcaerrors.ErrTimestampParse,
			encodes: 1,
		},
		{
			name:    "garbled timestamp",
			mutate:  func(h *harness) { h.upstream.feed = mozillaFeed("yesterday", certOne) },
			wantErr: rootcaerrors.ErrTimestampParse,
			encodes: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.run(t)
			require.NoError(t, err)
			before := snapshotDir(t, h.dir)

			h.upstream.fingerprint = fingerprintB
			tt.mutate(h)
			_, err = h.run(t)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.encodes, h.encoder.calls)

			if diff := cmp.Diff(before, snapshotDir(t, h.dir)); diff != "" {
				t.Errorf("workdir changed after a failed run (-before +after):\n%s", diff)
			}
			entries, err := os.ReadDir(h.scratch)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestRun_MetadataFailureLeavesNoStaleRecord(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, WithSigner(&fakeSigner{}))
	require.NoError(t, err)

	h.upstream.fingerprint = fingerprintB
	h.upstream.feed = mozillaFeed("Wed Nov  2 04:00:00 2022 GMT", certTwo)

	failing := h.store(t, certstore.WithFileSystem(&failingMetadataFS{metadataName: certstore.DefaultMetadataName}))
	_, err = h.pipeline(t, failing, WithSigner(&fakeSigner{})).Run(context.Background())
	require.Error(t, err)

	store := h.store(t)
	bundle, err := os.ReadFile(store.BundlePath())
	require.NoError(t, err)
	metadata, err := store.ReadMetadata()
	require.NoError(t, err)
	if metadata != nil {
		assert.Equal(t, fetcher.ComputeSHA256(bundle), metadata.BundleSHA256, "metadata must describe the installed bundle")
	}
	for _, p := range store.ArtifactPaths() {
		assert.NoFileExists(t, signer.SignatureName(p), "signature of a replaced artifact survived")
	}
	assert.NoFileExists(t, store.MetadataPath()+".tmp")

	// The next healthy run finds no record and rebuilds.
	result, err := h.run(t)
	require.NoError(t, err)
	assert.True(t, result.Rebuilt)
	assert.Equal(t, fingerprintB, result.Metadata.UpstreamFingerprint)
	assert.Equal(t, fetcher.ComputeSHA256(bundle), result.Metadata.BundleSHA256)
}

func TestRun_ForceRebuildsUnreadableMetadata(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t)
	require.NoError(t, err)

	store := h.store(t)
	require.NoError(t, os.WriteFile(store.MetadataPath(), []byte(`{"version":"9"}`), 0644))

	_, err = h.run(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, rootcaerrors.ErrBadMetadata)
	assert.Contains(t, err.Error(), "rootca update --force")

	result, err := h.run(t, WithForce(true))
	require.NoError(t, err)
	assert.True(t, result.Rebuilt)

	metadata, err := store.ReadMetadata()
	require.NoError(t, err)
	assert.Equal(t, fingerprintA, metadata.UpstreamFingerprint)
}

func TestRun_FingerprintError(t *testing.T) {
	h := newHarness(t)
	h.upstream.fingerprintErr = fmt.Errorf("%w: connection refused", rootcaerrors.ErrFetch)

	_, err := h.run(t)
	require.Error(t, err)
	assert.Equal(t, rootcaerrors.ExitNetworkError, rootcaerrors.ExitCode(err))
	assert.Zero(t, h.upstream.feedCalls)
	assert.NoFileExists(t, h.store(t).MetadataPath())
}

func TestRun_SignsEvenWithoutRebuild(t *testing.T) {
	h := newHarness(t)
	s := &fakeSigner{}

	_, err := h.run(t, WithSigner(s))
	require.NoError(t, err)

	result, err := h.run(t, WithSigner(s))
	require.NoError(t, err)
	assert.False(t, result.Rebuilt)

	store := h.store(t)
	assert.Equal(t, []string{store.MetadataPath(), store.BundlePath(), store.PEMBundlePath()}, result.Signed)
	assert.Len(t, s.calls, 6)
	for _, target := range result.Signed {
		assert.FileExists(t, signer.SignatureName(target))
		assert.NoFileExists(t, signer.SignatureName(target)+".tmp")
	}
}

func TestRun_SigningFailureRemovesSignatures(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, WithSigner(&fakeSigner{}))
	require.NoError(t, err)

	store := h.store(t)
	require.FileExists(t, signer.SignatureName(store.BundlePath()))

	failing := &fakeSigner{fail: map[string]bool{certstore.DefaultBundleName: true}}
	result, err := h.run(t, WithSigner(failing))
	require.Error(t, err)
	assert.ErrorIs(t, err, rootcaerrors.ErrSign)
	assert.NotNil(t, result)
	assert.Len(t, failing.calls, 3, "every target is attempted")

	for _, p := range store.ArtifactPaths() {
		assert.NoFileExists(t, signer.SignatureName(p))
	}
	assert.FileExists(t, store.BundlePath(), "artifacts themselves survive")
}

func TestRun_UnterminatedFeedWarns(t *testing.T) {
	h := newHarness(t)
	h.upstream.feed = append(mozillaFeed("Tue Oct 11 03:12:05 2022 GMT", certOne), []byte("-----BEGIN CERTIFICATE-----\nMIIB\n")...)

	var logs bytes.Buffer
	result, err := h.run(t, WithLogger(zerolog.New(&logs)))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Metadata.CertCount)
	assert.Contains(t, logs.String(), `"level":"warn"`)
	assert.Contains(t, logs.String(), "partial block dropped")
}

func TestRun_Locked(t *testing.T) {
	h := newHarness(t)
	store := h.store(t)
	require.NoError(t, store.Init())

	lock, err := store.Lock(context.Background())
	require.NoError(t, err)
	defer func() { _ = lock.Unlock() }()

	_, err = h.pipeline(t, h.store(t), WithLockTimeout(150*time.Millisecond)).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rootcaerrors.ErrLocked)
}

func TestSign(t *testing.T) {
	h := newHarness(t)

	_, err := h.pipeline(t, h.store(t)).Sign(context.Background())
	assert.ErrorIs(t, err, rootcaerrors.ErrConfig, "signing requires a signer")

	_, err = h.pipeline(t, h.store(t), WithSigner(&fakeSigner{})).Sign(context.Background())
	assert.ErrorIs(t, err, rootcaerrors.ErrNoMetadata, "nothing to sign yet")

	_, err = h.run(t)
	require.NoError(t, err)

	s := &fakeSigner{}
	signed, err := h.pipeline(t, h.store(t), WithSigner(s)).Sign(context.Background())
	require.NoError(t, err)
	assert.Len(t, signed, 3)
	assert.Equal(t, 1, h.upstream.feedCalls, "sign never contacts upstream")
}

func TestCheck(t *testing.T) {
	h := newHarness(t)
	p := h.pipeline(t, h.store(t))

	stale, latest, stored, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, stale)
	assert.Equal(t, fingerprintA, latest)
	assert.Nil(t, stored)

	_, err = p.Run(context.Background())
	require.NoError(t, err)

	stale, _, stored, err = p.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, stale)
	assert.Equal(t, fingerprintA, stored.UpstreamFingerprint)
}
