package certstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/gowebpki/jcs"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
	"github.com/princespaghetti/rootca/internal/signer"
)

// Metadata records which upstream feed produced the installed bundle.
// UpstreamFingerprint always belongs to the bundle currently on disk.
type Metadata struct {
	Version             string    `json:"version"`
	UpstreamTimestamp   string    `json:"upstream_timestamp"`
	UpstreamFingerprint string    `json:"upstream_fingerprint"`
	Generated           time.Time `json:"generated"`
	CertCount           int       `json:"cert_count"`
	BundleSHA256        string    `json:"bundle_sha256"`
	PEMBundleSHA256     string    `json:"pem_bundle_sha256,omitempty"`
	Source              string    `json:"source,omitempty"`
}

const (
	// currentSchemaVersion is the current metadata schema version.
	currentSchemaVersion = "1"
)

// NewMetadata creates a new metadata instance with default values.
func NewMetadata() *Metadata {
	return &Metadata{
		Version: currentSchemaVersion,
	}
}

// ReadMetadata reads and parses the metadata file.
// It returns nil and no error when no metadata has been written yet.
func (s *Store) ReadMetadata() (*Metadata, error) {
	data, err := s.fs.ReadFile(s.MetadataPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &rootcaerrors.RootcaError{
			Op:   "read metadata",
			Path: s.MetadataPath(),
			Err:  err,
		}
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &rootcaerrors.RootcaError{
			Op:   "parse metadata",
			Path: s.MetadataPath(),
			Err:  fmt.Errorf("%w: %w, run 'rootca update --force' to rebuild", rootcaerrors.ErrBadMetadata, err),
		}
	}

	if m.Version != currentSchemaVersion {
		if err := migrateMetadata(&m); err != nil {
			return nil, &rootcaerrors.RootcaError{
				Op:   "migrate metadata",
				Path: s.MetadataPath(),
				Err:  fmt.Errorf("%w: %w, run 'rootca update --force' to rebuild", rootcaerrors.ErrBadMetadata, err),
			}
		}
	}

	return &m, nil
}

// WriteMetadata replaces the metadata file with m using a temp file and an
// atomic rename. The record is written in canonical JSON so a signature over
// it only changes when a value changes.
func (s *Store) WriteMetadata(m *Metadata) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return &rootcaerrors.RootcaError{
			Op:  "marshal metadata",
			Err: err,
		}
	}

	data, err := jcs.Transform(raw)
	if err != nil {
		return &rootcaerrors.RootcaError{
			Op:  "canonicalize metadata",
			Err: err,
		}
	}

	return s.replaceFile(s.MetadataPath(), append(data, '\n'), "metadata")
}

// RetractMetadata removes the metadata file and the signatures of every
// artifact. A missing file is not an error. It runs before new artifacts are
// installed, so an interrupted install leaves no metadata describing a
// bundle that is no longer on disk.
func (s *Store) RetractMetadata() error {
	paths := []string{s.MetadataPath()}
	for _, p := range s.ArtifactPaths() {
		paths = append(paths, signer.SignatureName(p))
	}
	for _, p := range paths {
		if err := rootcaerrors.IgnoreNotExist(s.fs.Remove(p)); err != nil {
			return &rootcaerrors.RootcaError{
				Op:   "retract metadata",
				Path: p,
				Err:  err,
			}
		}
	}
	return nil
}

// migrateMetadata handles schema version migrations.
func migrateMetadata(m *Metadata) error {
	// Only v1 exists; an empty version comes from hand-written files.
	if m.Version != "" {
		return fmt.Errorf("unsupported metadata version %q", m.Version)
	}
	m.Version = currentSchemaVersion
	return nil
}
