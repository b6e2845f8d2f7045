package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/princespaghetti/rootca/internal/certstore"
	"github.com/princespaghetti/rootca/internal/config"
	"github.com/princespaghetti/rootca/internal/encoder"
	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/execx"
	"github.com/princespaghetti/rootca/internal/fetcher"
	"github.com/princespaghetti/rootca/internal/logger"
	"github.com/princespaghetti/rootca/internal/pipeline"
	"github.com/princespaghetti/rootca/internal/signer"
)

// app holds everything a command needs after flags and config are resolved.
type app struct {
	cfg    *config.Config
	store  *certstore.Store
	logger zerolog.Logger
	runID  string
}

// newApp resolves the configuration for cmd. An optional positional
// argument names the workdir and wins over every other source.
func newApp(cmd *cobra.Command, args []string) (*app, error) {
	workdir := ""
	if len(args) > 0 {
		workdir = args[0]
	}

	hint := workdir
	if hint == "" {
		hint = os.Getenv("ROOTCA_WORKDIR")
	}
	cfg, err := config.Load(config.Resolve(configPath, hint))
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, cfg, workdir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, err := certstore.NewStore(cfg.Workdir,
		certstore.WithBundleName(cfg.BundleName),
		certstore.WithPEMBundleName(cfg.PEMBundleName),
		certstore.WithMetadataName(cfg.MetadataName),
	)
	if err != nil {
		return nil, &rootcaerrors.RootcaError{Op: "open workdir", Path: cfg.Workdir, Err: fmt.Errorf("%w: %w", rootcaerrors.ErrConfig, err)}
	}

	log, runID := logger.WithRunID(logger.Setup(devMode))
	log = log.With().Str("command", cmd.Name()).Str("workdir", store.BasePath()).Logger()

	return &app{cfg: cfg, store: store, logger: log, runID: runID}, nil
}

// applyFlags overlays explicitly set flags on cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config, workdir string) {
	if workdir != "" {
		cfg.Workdir = workdir
	}
	flags := cmd.Flags()
	if flags.Changed("openssl-path") {
		cfg.OpenSSLPath = opensslPath
	}
	if flags.Changed("private-key-path") {
		cfg.PrivateKeyPath = privateKeyPath
	}
	if flags.Changed("public-key-path") {
		cfg.PublicKeyPath = publicKeyPath
	}
	if flags.Changed("timeout") {
		cfg.Timeout = runTimeout
	}
}

// runContext returns the command context bounded by the configured timeout.
func (a *app) runContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = a.logger.WithContext(ctx)
	if a.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, a.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// openssl resolves the openssl binary.
func (a *app) openssl() (string, error) {
	path, err := execx.LookPath(a.cfg.OpenSSLPath, "openssl")
	if err != nil {
		return "", &rootcaerrors.RootcaError{Op: "locate openssl", Err: fmt.Errorf("%w: %w", rootcaerrors.ErrConfig, err)}
	}
	return path, nil
}

// newSigner builds the configured signer, or returns nil when neither key
// is available.
func (a *app) newSigner(opensslBin string) (*signer.OpenSSLSigner, error) {
	private, public, err := a.cfg.SigningKeys(os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if len(private) == 0 && len(public) == 0 {
		return nil, nil
	}
	return signer.NewOpenSSLSigner(opensslBin, execx.OSRunner{}, private, public, signer.WithTempDir(a.cfg.TempDir)), nil
}

// newPipeline assembles an update pipeline. enc may be nil for commands that
// never build. The feed is cached on disk when http_cache_dir is set.
func (a *app) newPipeline(enc encoder.Encoder, opts ...pipeline.Option) *pipeline.Pipeline {
	fingerprints, feeds := fetcher.NewFetchers(a.cfg.HTTPCacheDir, a.cfg.UserAgent)
	base := []pipeline.Option{
		pipeline.WithURLs(a.cfg.FeedURL, a.cfg.FingerprintURL),
		pipeline.WithScratchDir(a.cfg.TempDir),
		pipeline.WithLockTimeout(a.cfg.LockTimeout),
		pipeline.WithLogger(a.logger),
	}
	return pipeline.New(a.store, fingerprints, feeds, enc, append(base, opts...)...)
}
