package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/audio"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/features"
	"github.com/RyanBlaney/catvid/internal/testaudio"
	"github.com/RyanBlaney/catvid/labels"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/model"
	"github.com/RyanBlaney/catvid/pipeline"
	"github.com/RyanBlaney/catvid/transcode"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

// randomBundle is a small forest over random vectors; predictions are
// arbitrary but always one of F, I, B
func randomBundle(t *testing.T, featureVersion string) *artifact.Bundle {
	t.Helper()
	rng := rand.New(rand.NewSource(3))

	X := make([][]float64, 30)
	y := make([]string, len(X))
	for i := range X {
		X[i] = make([]float64, features.Dim)
		for j := range X[i] {
			X[i][j] = rng.NormFloat64()
		}
		y[i] = []string{"F", "I", "B"}[i%3]
	}

	scaler, err := model.FitScaler(X)
	require.NoError(t, err)
	params := model.DefaultForestParams()
	params.NumTrees = 5
	forest, err := model.FitForest(X, y, params)
	require.NoError(t, err)

	return &artifact.Bundle{
		ID:             "3f1e1c3a-6c2b-4a53-9d9e-0b1f7f0a4c11",
		FeatureVersion: featureVersion,
		CreatedAt:      time.Now(),
		Scaler:         scaler,
		Forest:         forest,
	}
}

func newTestFrontend(t *testing.T, media audio.MediaDecoder) *pipeline.Frontend {
	t.Helper()

	ncfg := audio.DefaultNormalizerConfig()
	ncfg.Resample = audio.ResampleSinc
	normalizer, err := audio.NewNormalizer(ncfg)
	require.NoError(t, err)
	extractor, err := features.NewExtractor(features.DefaultConfig())
	require.NoError(t, err)

	return pipeline.NewFrontend(audio.NewDecoder(media), normalizer, extractor)
}

func newTestServer(t *testing.T, loaded bool) (*Server, *artifact.Registry) {
	t.Helper()

	frontend := newTestFrontend(t, nil)
	reg := artifact.NewRegistry(artifact.NewStore(t.TempDir()), frontend.FeatureVersion())
	if loaded {
		reg.Swap(randomBundle(t, frontend.FeatureVersion()))
	}

	cfg := DefaultConfig()
	cfg.MaxUploadBytes = 1 << 20
	return New(cfg, pipeline.NewInference(frontend, reg), reg), reg
}

func multipartBody(t *testing.T, field string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "clip.wav")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func meow() []byte {
	return testaudio.MustWAV(testaudio.Meow("F", rand.New(rand.NewSource(1)), 16000), 16000)
}

func TestUpload(t *testing.T) {
	srv, _ := newTestServer(t, true)
	h := srv.Handler()

	for _, field := range uploadFields {
		t.Run(field, func(t *testing.T) {
			body, ct := multipartBody(t, field, meow())
			req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
			req.Header.Set("Content-Type", ct)

			rec := do(t, h, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

			var resp UploadResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			a := resp.Analysis
			assert.Contains(t, []string{"F", "I", "B"}, a.Code)
			assert.Equal(t, labels.Lookup(a.Code), a.Category)
			assert.Equal(t, a.Code == "F", a.Hungry)
			assert.Equal(t, a.Code == "I", a.Scared)
			assert.Equal(t, a.Code == "B", a.Content)
			assert.Equal(t, rec.Header().Get(requestIDHeader), resp.RequestID)
		})
	}
}

func TestUploadMissingFile(t *testing.T) {
	srv, _ := newTestServer(t, true)

	body, ct := multipartBody(t, "image", meow())
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), req).Code)

	req = httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader([]byte("plain")))
	assert.Equal(t, http.StatusBadRequest, do(t, srv.Handler(), req).Code)
}

func TestClassifyStatusCodes(t *testing.T) {
	srv, _ := newTestServer(t, true)
	h := srv.Handler()

	tests := []struct {
		name   string
		body   []byte
		status int
		code   string
	}{
		{"ok", meow(), http.StatusOK, ""},
		{"garbage", []byte("not audio at all"), http.StatusUnprocessableEntity, errs.CodeAudioDecode},
		{"empty", nil, http.StatusUnprocessableEntity, errs.CodeAudioDecode},
		{"too short", testaudio.MustWAV([]float64{0.1, 0.2, 0.3, 0.2, 0.1}, 16000), http.StatusUnprocessableEntity, errs.CodeInsufficientAudio},
		{"too large", make([]byte, 2<<20), http.StatusRequestEntityTooLarge, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/classify", bytes.NewReader(tt.body))
			rec := do(t, h, req)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			if tt.code != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.code, resp.Code)
				assert.NotEmpty(t, resp.Stage)
			}
		})
	}
}

func TestNoModelLoaded(t *testing.T) {
	srv, reg := newTestServer(t, false)
	h := srv.Handler()

	rec := do(t, h, httptest.NewRequest(http.MethodPost, "/api/classify", bytes.NewReader(meow())))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health["status"])

	// hot swap without restarting the server
	reg.Swap(randomBundle(t, newTestFrontend(t, nil).FeatureVersion()))
	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var m ModelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, features.Dim, m.Features)
	assert.Equal(t, 5, m.Trees)
	assert.Len(t, m.Classes, 3)
}

func TestCORSAndRequestID(t *testing.T) {
	srv, _ := newTestServer(t, true)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := do(t, h, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = do(t, h, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))

	rec = do(t, h, httptest.NewRequest(http.MethodGet, "/api/upload", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRestrictedOrigins(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	h := corsMiddleware([]string{"http://app.local"})(next)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec := do(t, h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://app.local")
	rec = do(t, h, req)
	assert.Equal(t, "http://app.local", rec.Header().Get("Access-Control-Allow-Origin"))
}

type stalledMedia struct{}

func (stalledMedia) DecodeBytes(ctx context.Context, _ []byte) (*transcode.AudioData, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("ffmpeg decode interrupted: %w", ctx.Err())
}

func TestDecodeTimeoutIsNotClientError(t *testing.T) {
	frontend := newTestFrontend(t, stalledMedia{})
	reg := artifact.NewRegistry(artifact.NewStore(t.TempDir()), frontend.FeatureVersion())
	reg.Swap(randomBundle(t, frontend.FeatureVersion()))

	cfg := DefaultConfig()
	cfg.RequestTimeout = 20 * time.Millisecond
	srv := New(cfg, pipeline.NewInference(frontend, reg), reg)

	rec := do(t, srv.Handler(), httptest.NewRequest(http.MethodPost, "/api/classify", bytes.NewReader([]byte("mp4 bytes"))))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code, rec.Body.String())

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEqual(t, errs.CodeAudioDecode, resp.Code)
}

func TestStatusForContextErrors(t *testing.T) {
	decode := &errs.ClassificationError{Stage: pipeline.StageDecode, Cause: context.DeadlineExceeded}
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(decode))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(fmt.Errorf("decode: %w", context.Canceled)))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(errs.AudioDecode("audio.decode", "malformed wav", nil)))
}

type blockingClassifier struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingClassifier) Classify(ctx context.Context, _ []byte) (*pipeline.Result, error) {
	if b.started != nil {
		close(b.started)
	}
	select {
	case <-b.release:
		return &pipeline.Result{Code: "F", Category: labels.Lookup("F")}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestWorkerLimit(t *testing.T) {
	blocker := &blockingClassifier{started: make(chan struct{}), release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.Workers = 1
	srv := New(cfg, blocker, artifact.NewRegistry(artifact.NewStore(t.TempDir()), ""))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := srv.classify(context.Background(), nil)
		assert.NoError(t, err)
	}()

	// the single slot is taken; a second caller that gives up gets errBusy
	<-blocker.started
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := srv.classify(ctx, nil)
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(err))

	close(blocker.release)
	<-done
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	srv := New(cfg, &blockingClassifier{}, artifact.NewRegistry(artifact.NewStore(t.TempDir()), ""))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
