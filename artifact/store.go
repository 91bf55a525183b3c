// Package artifact persists the trained scaler and classifier as a
// versioned pair and serves the current pair to the inference path.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/features"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/model"
)

// SchemaVersion is the blob layout this build reads and writes
const SchemaVersion = 1

const (
	manifestFile   = "manifest.yaml"
	versionsDir    = "versions"
	scalerFile     = "scaler.msgpack"
	classifierFile = "classifier.msgpack"
	reportFile     = "report.yaml"
)

// Header is stamped on every blob so the pair can be checked at load
type Header struct {
	Schema         int       `msgpack:"schema" yaml:"schema"`
	ArtifactID     string    `msgpack:"artifact_id" yaml:"artifact_id"`
	FeatureVersion string    `msgpack:"feature_version" yaml:"feature_version"`
	CreatedAt      time.Time `msgpack:"created_at" yaml:"created_at"`
}

type scalerBlob struct {
	Header Header              `msgpack:"header"`
	Scaler *model.ScalerParams `msgpack:"scaler"`
}

type classifierBlob struct {
	Header Header        `msgpack:"header"`
	Forest *model.Forest `msgpack:"forest"`
}

// Manifest points at the version currently in service
type Manifest struct {
	Schema         int       `yaml:"schema"`
	Current        string    `yaml:"current"`
	FeatureVersion string    `yaml:"feature_version"`
	UpdatedAt      time.Time `yaml:"updated_at"`
}

// Bundle is a scaler and forest trained together. Never mutated after
// construction.
type Bundle struct {
	ID             string
	FeatureVersion string
	CreatedAt      time.Time
	Scaler         *model.ScalerParams
	Forest         *model.Forest
}

// Store reads and writes bundles under a directory
type Store struct {
	dir    string
	logger logging.Logger
}

// NewStore returns a store rooted at dir; nothing is created until Publish
func NewStore(dir string) *Store {
	return &Store{
		dir: dir,
		logger: logging.WithFields(logging.Fields{
			"component": "artifact_store",
			"dir":       dir,
		}),
	}
}

// Dir is the store root
func (s *Store) Dir() string {
	return s.dir
}

// Publish writes b (and report, when non-nil, as YAML) into a new version
// directory and then repoints the manifest. A missing ID is generated. The
// manifest swap is a rename, so readers see either the old or the new pair.
func (s *Store) Publish(b *Bundle, report any) (string, error) {
	if b == nil || b.Scaler == nil || b.Forest == nil {
		return "", fmt.Errorf("publish: bundle is incomplete")
	}

	id := b.ID
	if id == "" {
		id = uuid.NewString()
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	header := Header{
		Schema:         SchemaVersion,
		ArtifactID:     id,
		FeatureVersion: b.FeatureVersion,
		CreatedAt:      created,
	}

	root := filepath.Join(s.dir, versionsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	final := filepath.Join(root, id)
	if _, err := os.Stat(final); err == nil {
		return "", fmt.Errorf("publish: version %s already exists", id)
	}

	staging, err := os.MkdirTemp(root, "."+id+"-")
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := writeMsgpack(filepath.Join(staging, scalerFile), &scalerBlob{Header: header, Scaler: b.Scaler}); err != nil {
		return "", fmt.Errorf("publish scaler: %w", err)
	}
	if err := writeMsgpack(filepath.Join(staging, classifierFile), &classifierBlob{Header: header, Forest: b.Forest}); err != nil {
		return "", fmt.Errorf("publish classifier: %w", err)
	}
	if report != nil {
		data, err := yaml.Marshal(report)
		if err != nil {
			return "", fmt.Errorf("publish report: %w", err)
		}
		if err := writeFileSync(filepath.Join(staging, reportFile), data); err != nil {
			return "", fmt.Errorf("publish report: %w", err)
		}
	}

	if err := os.Rename(staging, final); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	manifest := Manifest{
		Schema:         SchemaVersion,
		Current:        id,
		FeatureVersion: b.FeatureVersion,
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.writeManifest(&manifest); err != nil {
		return "", err
	}

	s.logger.Info("Published model artifacts", logging.Fields{
		"artifact_id":     id,
		"feature_version": b.FeatureVersion,
	})

	return id, nil
}

// Load reads the version named by the manifest. featureVersion must match
// the version the artifacts were trained with; "" skips the check.
func (s *Store) Load(featureVersion string) (*Bundle, error) {
	const op = "artifact.load"

	m, err := s.Manifest()
	if err != nil {
		return nil, err
	}
	return s.loadVersion(op, m.Current, featureVersion)
}

// LoadVersion reads a specific version regardless of the manifest
func (s *Store) LoadVersion(id, featureVersion string) (*Bundle, error) {
	return s.loadVersion("artifact.load_version", id, featureVersion)
}

// Manifest reads the current manifest
func (s *Store) Manifest() (*Manifest, error) {
	const op = "artifact.manifest"

	data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.ArtifactLoad(op, "no model has been published to "+s.dir, err)
	}
	if err != nil {
		return nil, errs.ArtifactLoad(op, "manifest unreadable", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, errs.ArtifactLoad(op, "manifest corrupt", err)
	}
	if m.Schema != SchemaVersion {
		return nil, errs.ArtifactLoad(op, fmt.Sprintf("unsupported manifest schema %d", m.Schema), nil)
	}
	if m.Current == "" {
		return nil, errs.ArtifactLoad(op, "manifest names no version", nil)
	}
	return &m, nil
}

// Versions lists published version IDs, oldest first
func (s *Store) Versions() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, versionsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	type version struct {
		id  string
		mod time.Time
	}
	var found []version
	for _, e := range entries {
		if !e.IsDir() || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, version{e.Name(), info.ModTime()})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].mod.Before(found[j].mod) })

	ids := make([]string, len(found))
	for i, v := range found {
		ids[i] = v.id
	}
	return ids, nil
}

// ReportPath is where the training report of version id lives
func (s *Store) ReportPath(id string) string {
	return filepath.Join(s.dir, versionsDir, id, reportFile)
}

func (s *Store) loadVersion(op, id, featureVersion string) (*Bundle, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errs.ArtifactLoad(op, fmt.Sprintf("invalid version id %q", id), err)
	}
	dir := filepath.Join(s.dir, versionsDir, id)

	var sb scalerBlob
	if err := readMsgpack(filepath.Join(dir, scalerFile), &sb); err != nil {
		return nil, errs.ArtifactLoad(op, "scaler unreadable", err)
	}
	var cb classifierBlob
	if err := readMsgpack(filepath.Join(dir, classifierFile), &cb); err != nil {
		return nil, errs.ArtifactLoad(op, "classifier unreadable", err)
	}

	for name, h := range map[string]Header{"scaler": sb.Header, "classifier": cb.Header} {
		if h.Schema != SchemaVersion {
			return nil, errs.ArtifactLoad(op, fmt.Sprintf("%s has unsupported schema %d", name, h.Schema), nil)
		}
		if h.ArtifactID != id {
			return nil, errs.ArtifactLoad(op, fmt.Sprintf("%s belongs to artifact %q, not %q", name, h.ArtifactID, id), nil)
		}
	}
	if sb.Header.FeatureVersion != cb.Header.FeatureVersion {
		return nil, errs.ArtifactLoad(op, "scaler and classifier were trained on different feature versions", nil)
	}
	if featureVersion != "" && sb.Header.FeatureVersion != featureVersion {
		return nil, errs.ArtifactLoad(op, fmt.Sprintf("artifacts use feature version %s, extractor is %s",
			sb.Header.FeatureVersion, featureVersion), nil)
	}

	if sb.Scaler == nil || cb.Forest == nil {
		return nil, errs.ArtifactLoad(op, "blob has no payload", nil)
	}
	if err := sb.Scaler.Validate(); err != nil {
		return nil, errs.ArtifactLoad(op, "scaler invalid", err)
	}
	if sb.Scaler.Dim() != features.Dim {
		return nil, errs.ArtifactLoad(op, fmt.Sprintf("scaler has %d dimensions, want %d", sb.Scaler.Dim(), features.Dim), nil)
	}
	if err := cb.Forest.Validate(); err != nil {
		return nil, errs.ArtifactLoad(op, "classifier invalid", err)
	}
	if cb.Forest.NumFeatures != sb.Scaler.Dim() {
		return nil, errs.ArtifactLoad(op, "classifier and scaler dimensions differ", nil)
	}

	return &Bundle{
		ID:             id,
		FeatureVersion: sb.Header.FeatureVersion,
		CreatedAt:      sb.Header.CreatedAt,
		Scaler:         sb.Scaler,
		Forest:         cb.Forest,
	}, nil
}

func (s *Store) writeManifest(m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+manifestFile+"-")
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	return os.Rename(tmp.Name(), filepath.Join(s.dir, manifestFile))
}

func writeMsgpack(path string, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	return writeFileSync(path, data)
}

func readMsgpack(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, v)
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
