package artifact

import (
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/features"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/model"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

const testFeatureVersion = "v1-test"

func trainedBundle(t *testing.T, seed int64) *Bundle {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))

	X := make([][]float64, 40)
	y := make([]string, len(X))
	for i := range X {
		X[i] = make([]float64, features.Dim)
		label := []string{"F", "I"}[i%2]
		for j := range X[i] {
			X[i][j] = rng.NormFloat64() + float64(i%2)*3
		}
		y[i] = label
	}

	scaler, err := model.FitScaler(X)
	require.NoError(t, err)
	scaled, err := scaler.ApplyAll(X)
	require.NoError(t, err)

	params := model.DefaultForestParams()
	params.NumTrees = 5
	forest, err := model.FitForest(scaled, y, params)
	require.NoError(t, err)

	return &Bundle{FeatureVersion: testFeatureVersion, Scaler: scaler, Forest: forest}
}

func TestPublishAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())
	b := trainedBundle(t, 1)

	id, err := store.Publish(b, map[string]any{"accuracy": 0.9})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	loaded, err := store.Load(testFeatureVersion)
	require.NoError(t, err)

	assert.Equal(t, id, loaded.ID)
	assert.Equal(t, testFeatureVersion, loaded.FeatureVersion)
	assert.Equal(t, b.Scaler, loaded.Scaler)
	assert.Equal(t, b.Forest.Classes, loaded.Forest.Classes)
	assert.Equal(t, b.Forest.Trees, loaded.Forest.Trees)
	assert.False(t, loaded.CreatedAt.IsZero())

	assert.FileExists(t, store.ReportPath(id))

	// identical predictions after the round trip
	zero := make([]float64, features.Dim)
	want, err := b.Forest.PredictProba(zero)
	require.NoError(t, err)
	got, err := loaded.Forest.PredictProba(zero)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadWithoutManifest(t *testing.T) {
	_, err := NewStore(t.TempDir()).Load(testFeatureVersion)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)
}

func TestLoadRejectsFeatureVersionMismatch(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Publish(trainedBundle(t, 1), nil)
	require.NoError(t, err)

	_, err = store.Load("v1-other")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)
	assert.ErrorContains(t, err, "feature version")

	_, err = store.Load("")
	assert.NoError(t, err)
}

func TestLoadRejectsCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	id, err := store.Publish(trainedBundle(t, 1), nil)
	require.NoError(t, err)

	path := filepath.Join(dir, versionsDir, id, classifierFile)
	require.NoError(t, os.WriteFile(path, []byte{0xc1, 0x00, 0x13}, 0o644))

	_, err = store.Load(testFeatureVersion)
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)
}

func TestLoadRejectsMissingBlob(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	id, err := store.Publish(trainedBundle(t, 1), nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, versionsDir, id, scalerFile)))

	_, err = store.Load(testFeatureVersion)
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)
}

func TestLoadRejectsMismatchedPair(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	first, err := store.Publish(trainedBundle(t, 1), nil)
	require.NoError(t, err)
	second, err := store.Publish(trainedBundle(t, 2), nil)
	require.NoError(t, err)

	// graft the first scaler into the second version
	data, err := os.ReadFile(filepath.Join(dir, versionsDir, first, scalerFile))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, versionsDir, second, scalerFile), data, 0o644))

	_, err = store.Load(testFeatureVersion)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)
	assert.ErrorContains(t, err, "belongs to artifact")
}

func TestLoadRejectsWrongSchemaAndDimension(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	b := trainedBundle(t, 1)
	id, err := store.Publish(b, nil)
	require.NoError(t, err)
	vdir := filepath.Join(dir, versionsDir, id)

	var sb scalerBlob
	data, err := os.ReadFile(filepath.Join(vdir, scalerFile))
	require.NoError(t, err)
	require.NoError(t, msgpack.Unmarshal(data, &sb))

	rewrite := func(blob scalerBlob) {
		out, err := msgpack.Marshal(&blob)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(vdir, scalerFile), out, 0o644))
	}

	future := sb
	future.Header.Schema = SchemaVersion + 1
	rewrite(future)
	_, err = store.Load(testFeatureVersion)
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)

	narrow := sb
	narrow.Scaler = &model.ScalerParams{Mean: []float64{0, 0}, Std: []float64{1, 1}}
	rewrite(narrow)
	_, err = store.Load(testFeatureVersion)
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)
	assert.ErrorContains(t, err, "dimensions")
}

func TestPublishMovesManifest(t *testing.T) {
	store := NewStore(t.TempDir())
	first, err := store.Publish(trainedBundle(t, 1), nil)
	require.NoError(t, err)
	second, err := store.Publish(trainedBundle(t, 2), nil)
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	m, err := store.Manifest()
	require.NoError(t, err)
	assert.Equal(t, second, m.Current)

	versions, err := store.Versions()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, second}, versions)

	old, err := store.LoadVersion(first, testFeatureVersion)
	require.NoError(t, err)
	assert.Equal(t, first, old.ID)
}

func TestPublishIncompleteBundle(t *testing.T) {
	_, err := NewStore(t.TempDir()).Publish(&Bundle{}, nil)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	store := NewStore(t.TempDir())
	reg := NewRegistry(store, testFeatureVersion)

	_, err := reg.Current()
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)

	_, err = reg.Reload()
	assert.ErrorIs(t, err, errs.ErrArtifactLoad)

	first, err := store.Publish(trainedBundle(t, 1), nil)
	require.NoError(t, err)
	b, err := reg.Reload()
	require.NoError(t, err)
	assert.Equal(t, first, b.ID)

	second, err := store.Publish(trainedBundle(t, 2), nil)
	require.NoError(t, err)

	// readers keep working while a reload swaps the bundle underneath them
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				cur, err := reg.Current()
				if assert.NoError(t, err) {
					assert.Contains(t, []string{first, second}, cur.ID)
				}
			}
		}()
	}
	_, err = reg.Reload()
	require.NoError(t, err)
	wg.Wait()

	cur, err := reg.Current()
	require.NoError(t, err)
	assert.Equal(t, second, cur.ID)

	// a broken store leaves the current bundle in place
	require.NoError(t, os.Remove(filepath.Join(store.Dir(), manifestFile)))
	_, err = reg.Reload()
	assert.Error(t, err)
	cur, err = reg.Current()
	require.NoError(t, err)
	assert.Equal(t, second, cur.ID)

	prev := reg.Swap(b)
	assert.Equal(t, second, prev.ID)
}
