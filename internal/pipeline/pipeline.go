// Package pipeline runs an update: it decides whether the upstream feed
// changed, rebuilds the bundle when it did and signs the published artifacts.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/princespaghetti/rootca/internal/certstore"
	"github.com/princespaghetti/rootca/internal/encoder"
	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/feed"
	"github.com/princespaghetti/rootca/internal/fetcher"
	"github.com/princespaghetti/rootca/internal/signer"
)

// FingerprintSource returns the published digest of the upstream feed.
type FingerprintSource interface {
	FetchFingerprint(ctx context.Context, url string) (string, error)
}

// FeedSource returns the full upstream feed.
type FeedSource interface {
	FetchFeed(ctx context.Context, url string) ([]byte, error)
}

// Snapshot is one download of the upstream feed together with the
// fingerprint that was published for it.
type Snapshot struct {
	Raw         []byte
	Fingerprint string
}

// Result describes what a run did.
type Result struct {
	Fingerprint string
	Rebuilt     bool
	Forced      bool
	Metadata    *certstore.Metadata
	Signed      []string
}

// Pipeline wires the collaborators of an update run.
type Pipeline struct {
	store        *certstore.Store
	fingerprints FingerprintSource
	feeds        FeedSource
	encoder      encoder.Encoder
	signer       signer.Signer

	feedURL        string
	fingerprintURL string
	force          bool
	scratchDir     string
	lockTimeout    time.Duration

	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSigner enables signing of the artifacts after every run.
func WithSigner(s signer.Signer) Option {
	return func(p *Pipeline) { p.signer = s }
}

// WithURLs overrides the upstream endpoints.
func WithURLs(feedURL, fingerprintURL string) Option {
	return func(p *Pipeline) {
		if feedURL != "" {
			p.feedURL = feedURL
		}
		if fingerprintURL != "" {
			p.fingerprintURL = fingerprintURL
		}
	}
}

// WithForce rebuilds even when the fingerprint is unchanged.
func WithForce(force bool) Option {
	return func(p *Pipeline) { p.force = force }
}

// WithScratchDir sets the parent of the per-build scratch directory.
// The default is the system temp directory.
func WithScratchDir(dir string) Option {
	return func(p *Pipeline) { p.scratchDir = dir }
}

// WithLockTimeout bounds the wait for the workdir lock. Zero waits as long
// as the run context allows.
func WithLockTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.lockTimeout = d }
}

// WithClock replaces the clock used for the generated timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline. Signing is disabled unless WithSigner is given.
func New(store *certstore.Store, fingerprints FingerprintSource, feeds FeedSource, enc encoder.Encoder, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:          store,
		fingerprints:   fingerprints,
		feeds:          feeds,
		encoder:        enc,
		feedURL:        fetcher.DefaultFeedURL,
		fingerprintURL: fetcher.DefaultFingerprintURL,
		now:            time.Now,
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NeedsRebuild reports whether the bundle must be rebuilt for the latest
// upstream fingerprint. Comparison ignores surrounding whitespace and case.
func NeedsRebuild(stored *certstore.Metadata, latest string) bool {
	if stored == nil {
		return true
	}
	return !strings.EqualFold(strings.TrimSpace(stored.UpstreamFingerprint), strings.TrimSpace(latest))
}

// Check fetches the upstream fingerprint and compares it with the stored
// metadata without building anything.
func (p *Pipeline) Check(ctx context.Context) (stale bool, latest string, stored *certstore.Metadata, err error) {
	latest, err = p.fingerprints.FetchFingerprint(ctx, p.fingerprintURL)
	if err != nil {
		return false, "", nil, err
	}
	stored, err = p.store.ReadMetadata()
	if err != nil {
		return false, latest, nil, err
	}
	return NeedsRebuild(stored, latest), latest, stored, nil
}

// Run performs one update while holding the workdir lock.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	unlock, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &Result{Forced: p.force}
	marker, err := p.store.ConsumeForceMarker()
	if err != nil {
		return nil, err
	}
	if marker {
		p.logger.Info().Str("marker", certstore.ForceMarkerName).Msg("force marker found")
		result.Forced = true
	}

	stale, latest, stored, err := p.Check(ctx)
	if err != nil {
		if !result.Forced || latest == "" || !errors.Is(err, rootcaerrors.ErrBadMetadata) {
			return nil, err
		}
		p.logger.Warn().Err(err).Msg("ignoring unreadable metadata for forced rebuild")
		stale = true
	}
	result.Fingerprint = latest
	result.Metadata = stored

	if stale || result.Forced {
		p.logger.Info().
			Str("fingerprint", latest).
			Bool("forced", result.Forced).
			Msg("upstream changed, rebuilding bundle")

		raw, err := p.feeds.FetchFeed(ctx, p.feedURL)
		if err != nil {
			return nil, err
		}
		metadata, err := p.Build(ctx, &Snapshot{Raw: raw, Fingerprint: latest})
		if err != nil {
			return nil, err
		}
		result.Rebuilt = true
		result.Metadata = metadata
	} else {
		p.logger.Info().Str("fingerprint", latest).Msg("bundle is up to date")
	}

	if p.signer == nil {
		p.logger.Debug().Msg("no signing key configured, skipping signatures")
		return result, nil
	}

	signed, err := p.signArtifacts(ctx)
	if err != nil {
		return result, err
	}
	result.Signed = signed

	return result, nil
}

// Sign signs the artifacts currently in the workdir without contacting
// upstream.
func (p *Pipeline) Sign(ctx context.Context) ([]string, error) {
	if p.signer == nil {
		return nil, &rootcaerrors.RootcaError{
			Op:  "sign artifacts",
			Err: fmt.Errorf("%w: no signing key configured", rootcaerrors.ErrConfig),
		}
	}

	unlock, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return p.signArtifacts(ctx)
}

func (p *Pipeline) signArtifacts(ctx context.Context) ([]string, error) {
	targets := p.store.Artifacts()
	if len(targets) == 0 {
		return nil, &rootcaerrors.RootcaError{
			Op:   "sign artifacts",
			Path: p.store.BasePath(),
			Err:  rootcaerrors.ErrNoMetadata,
		}
	}
	if err := signer.SignAll(ctx, p.signer, targets); err != nil {
		return nil, err
	}
	p.logger.Info().Strs("artifacts", targets).Msg("artifacts signed")
	return targets, nil
}

// acquire takes the workdir lock, waiting at most lockTimeout.
func (p *Pipeline) acquire(ctx context.Context) (func(), error) {
	if err := p.store.Init(); err != nil {
		return nil, err
	}

	lockCtx := ctx
	if p.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, p.lockTimeout)
		defer cancel()
	}
	lock, err := p.store.Lock(lockCtx)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			p.logger.Warn().Err(err).Msg("release workdir lock")
		}
	}, nil
}

// Build converts snap into the installed bundles and rewrites the metadata.
// Nothing in the workdir changes unless every step before publishing
// succeeds. Publishing removes the old metadata and signatures, installs the
// bundles and writes the new metadata last, so an interrupted publish leaves
// no metadata and the next run rebuilds.
func (p *Pipeline) Build(ctx context.Context, snap *Snapshot) (*certstore.Metadata, error) {
	parsed, err := feed.Parse(snap.Raw)
	if err != nil {
		return nil, err
	}
	if parsed.Unterminated {
		p.logger.Warn().Int("records", len(parsed.Records)).Msg("feed ended inside a certificate block, partial block dropped")
	}

	timestamp, err := feed.NormalizeTimestamp(parsed.AsOf)
	if err != nil {
		return nil, err
	}

	scratch, err := os.MkdirTemp(p.scratchDir, "rootca-build-")
	if err != nil {
		return nil, &rootcaerrors.RootcaError{Op: "create scratch dir", Path: p.scratchDir, Err: err}
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			p.logger.Warn().Err(err).Str("path", scratch).Msg("remove scratch dir")
		}
	}()

	certPaths := make([]string, 0, len(parsed.Records))
	for _, rec := range parsed.Records {
		path := filepath.Join(scratch, fmt.Sprintf("cert_%d.crt", rec.Index))
		if err := os.WriteFile(path, rec.Data, 0644); err != nil {
			return nil, &rootcaerrors.RootcaError{Op: "write certificate", Path: path, Err: err}
		}
		certPaths = append(certPaths, path)
	}
	p.logger.Debug().Int("count", len(certPaths)).Str("dir", scratch).Msg("certificates extracted")

	outPath := filepath.Join(scratch, filepath.Base(p.store.BundlePath()))
	if err := p.encoder.Encode(ctx, certPaths, outPath); err != nil {
		return nil, err
	}

	container, err := os.ReadFile(outPath)
	if err != nil {
		return nil, &rootcaerrors.RootcaError{
			Op:   "read encoded bundle",
			Path: outPath,
			Err:  fmt.Errorf("%w: %w", rootcaerrors.ErrEncode, err),
		}
	}

	pem := make([]byte, 0, len(snap.Raw))
	for _, rec := range parsed.Records {
		pem = append(pem, rec.Data...)
	}
	pemPath := filepath.Join(scratch, filepath.Base(p.store.PEMBundlePath()))
	if err := os.WriteFile(pemPath, pem, 0644); err != nil {
		return nil, &rootcaerrors.RootcaError{Op: "write PEM bundle", Path: pemPath, Err: err}
	}

	metadata := certstore.NewMetadata()
	metadata.UpstreamTimestamp = timestamp
	metadata.UpstreamFingerprint = strings.ToLower(strings.TrimSpace(snap.Fingerprint))
	metadata.Generated = p.now().UTC().Truncate(time.Second)
	metadata.CertCount = len(parsed.Records)
	metadata.BundleSHA256 = fetcher.ComputeSHA256(container)
	metadata.PEMBundleSHA256 = fetcher.ComputeSHA256(pem)
	metadata.Source = p.feedURL

	// Metadata and signatures go first: until the new metadata is written
	// the workdir holds no record claiming to describe the bundles.
	if err := p.store.RetractMetadata(); err != nil {
		return nil, err
	}
	if err := p.store.InstallBundle(outPath); err != nil {
		return nil, err
	}
	if err := p.store.InstallPEMBundle(pemPath); err != nil {
		return nil, err
	}

	if err := p.store.WriteMetadata(metadata); err != nil {
		return nil, err
	}

	p.logger.Info().
		Int("certificates", metadata.CertCount).
		Str("upstream_timestamp", metadata.UpstreamTimestamp).
		Str("bundle_sha256", metadata.BundleSHA256).
		Str("pem_bundle_sha256", metadata.PEMBundleSHA256).
		Msg("bundle rebuilt")

	return metadata, nil
}
