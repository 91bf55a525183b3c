package artifact

import (
	"sync"
	"sync/atomic"

	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/logging"
)

// Registry holds the bundle in service. Readers never block; Reload builds
// a complete new bundle before swapping it in, and a failed reload keeps
// the previous one.
type Registry struct {
	store          *Store
	featureVersion string

	current  atomic.Pointer[Bundle]
	reloadMu sync.Mutex
	logger   logging.Logger
}

// NewRegistry creates an empty registry over store. Bundles whose feature
// version differs from featureVersion are refused.
func NewRegistry(store *Store, featureVersion string) *Registry {
	return &Registry{
		store:          store,
		featureVersion: featureVersion,
		logger: logging.WithFields(logging.Fields{
			"component": "artifact_registry",
		}),
	}
}

// Current returns the bundle in service, or an ArtifactLoad error when
// nothing has been loaded yet
func (r *Registry) Current() (*Bundle, error) {
	b := r.current.Load()
	if b == nil {
		return nil, errs.ArtifactLoad("artifact.current", "model not loaded", nil)
	}
	return b, nil
}

// Swap installs b and returns the bundle it replaced
func (r *Registry) Swap(b *Bundle) *Bundle {
	return r.current.Swap(b)
}

// Reload reads the manifest's current version and swaps it in
func (r *Registry) Reload() (*Bundle, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	b, err := r.store.Load(r.featureVersion)
	if err != nil {
		r.logger.Error(err, "Reload failed, keeping current model")
		return nil, err
	}

	prev := r.current.Swap(b)
	fields := logging.Fields{"artifact_id": b.ID}
	if prev != nil {
		fields["previous_artifact_id"] = prev.ID
	}
	r.logger.Info("Model loaded", fields)

	return b, nil
}
