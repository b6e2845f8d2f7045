// Package config loads rootca settings from defaults, an optional YAML file
// and ROOTCA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/princespaghetti/rootca/internal/certstore"
	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/fetcher"
	"github.com/princespaghetti/rootca/internal/signer"
)

// FileName is the config file looked up inside the workdir when no explicit
// path is given.
const FileName = "rootca.yaml"

// Environment variables carrying the signing credentials.
const (
	EnvSigningKey       = "ROOTCA_SIGNING_KEY"
	EnvSigningPublicKey = "ROOTCA_SIGNING_PUBLIC_KEY"
)

// DefaultLockTimeout bounds the wait for another run holding the workdir.
const DefaultLockTimeout = 5 * time.Second

// Config holds every setting of an update run.
type Config struct {
	Workdir        string        `yaml:"workdir"`
	FeedURL        string        `yaml:"feed_url"`
	FingerprintURL string        `yaml:"fingerprint_url"`
	OpenSSLPath    string        `yaml:"openssl_path"`
	BundleName     string        `yaml:"bundle_name"`
	PEMBundleName  string        `yaml:"pem_bundle_name"`
	MetadataName   string        `yaml:"metadata_name"`
	HTTPCacheDir   string        `yaml:"http_cache_dir"`
	TempDir        string        `yaml:"temp_dir"`
	LockTimeout    time.Duration `yaml:"lock_timeout"`
	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	PrivateKeyPath string        `yaml:"private_key_path"`
	PublicKeyPath  string        `yaml:"public_key_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Workdir:        certstore.DefaultWorkdir,
		FeedURL:        fetcher.DefaultFeedURL,
		FingerprintURL: fetcher.DefaultFingerprintURL,
		BundleName:     certstore.DefaultBundleName,
		PEMBundleName:  certstore.DefaultPEMBundleName,
		MetadataName:   certstore.DefaultMetadataName,
		LockTimeout:    DefaultLockTimeout,
		UserAgent:      fetcher.DefaultUserAgent,
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// not empty) and then with the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, configError("read config", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, configError("parse config", path, err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve picks the config file to load: the explicit path when given,
// otherwise FileName inside workdir when it exists, otherwise none.
func Resolve(explicit, workdir string) string {
	if explicit != "" {
		return explicit
	}
	if workdir == "" {
		workdir = certstore.DefaultWorkdir
	}
	candidate := filepath.Join(workdir, FileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// ApplyEnv overrides fields from ROOTCA_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ROOTCA_WORKDIR":          &c.Workdir,
		"ROOTCA_FEED_URL":         &c.FeedURL,
		"ROOTCA_FINGERPRINT_URL":  &c.FingerprintURL,
		"ROOTCA_OPENSSL_PATH":     &c.OpenSSLPath,
		"ROOTCA_BUNDLE_NAME":      &c.BundleName,
		"ROOTCA_PEM_BUNDLE_NAME":  &c.PEMBundleName,
		"ROOTCA_METADATA_NAME":    &c.MetadataName,
		"ROOTCA_HTTP_CACHE_DIR":   &c.HTTPCacheDir,
		"ROOTCA_TEMP_DIR":         &c.TempDir,
		"ROOTCA_USER_AGENT":       &c.UserAgent,
		"ROOTCA_PRIVATE_KEY_PATH": &c.PrivateKeyPath,
		"ROOTCA_PUBLIC_KEY_PATH":  &c.PublicKeyPath,
	}
	for name, field := range strs {
		if v, ok := lookup(name); ok && v != "" {
			*field = v
		}
	}

	durations := map[string]*time.Duration{
		"ROOTCA_LOCK_TIMEOUT": &c.LockTimeout,
		"ROOTCA_TIMEOUT":      &c.Timeout,
	}
	for name, field := range durations {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return configError("parse "+name, "", err)
		}
		*field = d
	}
	return nil
}

// Validate checks that the configuration can drive a run.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{"feed_url": c.FeedURL, "fingerprint_url": c.FingerprintURL} {
		u, err := url.Parse(raw)
		if err != nil {
			return configError("validate "+name, raw, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return configError("validate "+name, raw, fmt.Errorf("scheme must be http or https"))
		}
	}
	if c.LockTimeout < 0 || c.Timeout < 0 {
		return configError("validate timeouts", "", fmt.Errorf("durations must not be negative"))
	}
	seen := map[string]bool{}
	for _, name := range []string{c.BundleName, c.PEMBundleName, c.MetadataName} {
		if strings.ContainsRune(name, os.PathSeparator) {
			return configError("validate file names", name, fmt.Errorf("artifact names must be plain file names"))
		}
		if name != "" && seen[name] {
			return configError("validate file names", name, fmt.Errorf("artifact names must differ"))
		}
		seen[name] = true
	}
	return nil
}

// SigningKeys returns the PEM private and public keys. Key files take
// precedence over the ROOTCA_SIGNING_* variables. An empty private key means
// signing is disabled.
func (c *Config) SigningKeys(lookup func(string) (string, bool)) (private, public []byte, err error) {
	private, err = readKey(c.PrivateKeyPath, EnvSigningKey, lookup)
	if err != nil {
		return nil, nil, err
	}
	public, err = readKey(c.PublicKeyPath, EnvSigningPublicKey, lookup)
	if err != nil {
		return nil, nil, err
	}
	return private, public, nil
}

func readKey(path, env string, lookup func(string) (string, bool)) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, configError("read key", path, fmt.Errorf("key file does not exist"))
			}
			return nil, configError("read key", path, err)
		}
		return data, nil
	}
	if v, ok := lookup(env); ok && strings.TrimSpace(v) != "" {
		return signer.UnescapeKey(v), nil
	}
	return nil, nil
}

func configError(op, path string, err error) error {
	return &rootcaerrors.RootcaError{
		Op:   op,
		Path: path,
		Err:  fmt.Errorf("%w: %w", rootcaerrors.ErrConfig, err),
	}
}
