package certstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
)

const (
	// DefaultWorkdir is used when no working directory is configured.
	DefaultWorkdir = "bundles"

	// DefaultBundleName is the file name of the PKCS#7 container.
	DefaultBundleName = "mozilla_ca_bundle.p7b"

	// DefaultPEMBundleName is the file name of the concatenated PEM bundle.
	DefaultPEMBundleName = "mozilla_ca_bundle.pem"

	// DefaultMetadataName is the file name of the fingerprint metadata.
	DefaultMetadataName = "bundle_metadata.json"

	// ForceMarkerName is a marker file that forces one rebuild when present.
	ForceMarkerName = ".force_update"

	lockName = ".rootca"
)

// Store represents the working directory holding the bundle and its metadata.
type Store struct {
	basePath     string
	fs           FileSystem
	bundleName   string
	pemName      string
	metadataName string
}

// Option configures a Store.
type Option func(*Store)

// WithFileSystem replaces the file system implementation.
func WithFileSystem(fs FileSystem) Option {
	return func(s *Store) { s.fs = fs }
}

// WithBundleName overrides the bundle file name.
func WithBundleName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.bundleName = name
		}
	}
}

// WithPEMBundleName overrides the PEM bundle file name.
func WithPEMBundleName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.pemName = name
		}
	}
}

// WithMetadataName overrides the metadata file name.
func WithMetadataName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.metadataName = name
		}
	}
}

// NewStore creates a new Store rooted at basePath.
// If basePath is empty, it defaults to ./bundles.
func NewStore(basePath string, opts ...Option) (*Store, error) {
	if basePath == "" {
		basePath = DefaultWorkdir
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir %s: %w", basePath, err)
	}

	s := &Store{
		basePath:     abs,
		fs:           &OSFileSystem{},
		bundleName:   DefaultBundleName,
		pemName:      DefaultPEMBundleName,
		metadataName: DefaultMetadataName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Init creates the working directory if it does not exist yet.
func (s *Store) Init() error {
	info, err := s.fs.Stat(s.basePath)
	if err == nil {
		if !info.IsDir() {
			return &rootcaerrors.RootcaError{
				Op:   "validate workdir",
				Path: s.basePath,
				Err:  fmt.Errorf("not a directory"),
			}
		}
		return nil
	}

	if err := s.fs.MkdirAll(s.basePath, 0755); err != nil {
		return &rootcaerrors.RootcaError{
			Op:   "create workdir",
			Path: s.basePath,
			Err:  err,
		}
	}
	return nil
}

// IsInitialized returns true if a bundle has been built into the store.
func (s *Store) IsInitialized() bool {
	_, err := s.fs.Stat(s.MetadataPath())
	return err == nil
}

// BasePath returns the base path of the store.
func (s *Store) BasePath() string {
	return s.basePath
}

// BundlePath returns the path to the installed PKCS#7 bundle.
func (s *Store) BundlePath() string {
	return filepath.Join(s.basePath, s.bundleName)
}

// PEMBundlePath returns the path to the installed PEM bundle.
func (s *Store) PEMBundlePath() string {
	return filepath.Join(s.basePath, s.pemName)
}

// MetadataPath returns the path to the metadata file.
func (s *Store) MetadataPath() string {
	return filepath.Join(s.basePath, s.metadataName)
}

// ArtifactPaths returns the paths of every published file, present or not.
func (s *Store) ArtifactPaths() []string {
	return []string{s.MetadataPath(), s.BundlePath(), s.PEMBundlePath()}
}

// Artifacts returns the published files that currently exist.
func (s *Store) Artifacts() []string {
	var paths []string
	for _, p := range s.ArtifactPaths() {
		if _, err := s.fs.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

// Lock acquires the single-instance lock of the working directory.
// The caller must Unlock the returned lock.
func (s *Store) Lock(ctx context.Context) (Locker, error) {
	lock := NewFileLock(filepath.Join(s.basePath, lockName))
	if err := lock.Lock(ctx); err != nil {
		return nil, &rootcaerrors.RootcaError{
			Op:   "lock workdir",
			Path: s.basePath,
			Err:  err,
		}
	}
	return lock, nil
}

// ConsumeForceMarker reports whether a force marker file was present and
// removes it.
func (s *Store) ConsumeForceMarker() (bool, error) {
	path := filepath.Join(s.basePath, ForceMarkerName)
	if _, err := s.fs.Stat(path); err != nil {
		return false, nil
	}
	if err := rootcaerrors.IgnoreNotExist(s.fs.Remove(path)); err != nil {
		return true, &rootcaerrors.RootcaError{
			Op:   "remove force marker",
			Path: path,
			Err:  err,
		}
	}
	return true, nil
}

// InstallBundle moves a fully written container at srcPath onto BundlePath.
func (s *Store) InstallBundle(srcPath string) error {
	return s.install(srcPath, s.BundlePath(), "bundle")
}

// InstallPEMBundle moves a fully written PEM bundle at srcPath onto
// PEMBundlePath.
func (s *Store) InstallPEMBundle(srcPath string) error {
	return s.install(srcPath, s.PEMBundlePath(), "PEM bundle")
}

// install renames srcPath onto dst. When srcPath is on another filesystem
// the bytes are staged next to dst first, so dst is only ever replaced by a
// rename.
func (s *Store) install(srcPath, dst, what string) error {
	err := s.fs.Rename(srcPath, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return &rootcaerrors.RootcaError{
			Op:   "install " + what,
			Path: dst,
			Err:  err,
		}
	}

	data, err := s.fs.ReadFile(srcPath)
	if err != nil {
		return &rootcaerrors.RootcaError{
			Op:   "read built " + what,
			Path: srcPath,
			Err:  err,
		}
	}
	if err := s.replaceFile(dst, data, what); err != nil {
		return err
	}
	_ = s.fs.Remove(srcPath)
	return nil
}

// replaceFile writes data to path + ".tmp" and renames it over path.
func (s *Store) replaceFile(path string, data []byte, what string) error {
	tempPath := path + ".tmp"
	if err := s.fs.WriteFile(tempPath, data, 0644); err != nil {
		_ = s.fs.Remove(tempPath)
		return &rootcaerrors.RootcaError{
			Op:   "write temp " + what,
			Path: tempPath,
			Err:  err,
		}
	}

	// Atomic rename (os.Rename is atomic on POSIX systems)
	if err := s.fs.Rename(tempPath, path); err != nil {
		_ = s.fs.Remove(tempPath)
		return &rootcaerrors.RootcaError{
			Op:   "rename " + what,
			Path: path,
			Err:  err,
		}
	}

	return nil
}
