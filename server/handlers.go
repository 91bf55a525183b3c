package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/labels"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/pipeline"
)

var errBusy = errors.New("server busy")

// uploadFields are the multipart fields accepted by /api/upload, in order
var uploadFields = []string{"video", "audio", "file"}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Analysis is the upload reply. The booleans are the flags the web
// frontend renders.
type Analysis struct {
	Category      string             `json:"category"`
	Code          string             `json:"code"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	Hungry        bool               `json:"hungry"`
	Scared        bool               `json:"scared"`
	Content       bool               `json:"content"`
	ArtifactID    string             `json:"artifact_id"`
	AudioSeconds  float64            `json:"audio_seconds"`
	ElapsedMillis float64            `json:"elapsed_ms"`
}

// UploadResponse wraps Analysis
type UploadResponse struct {
	Analysis  Analysis `json:"analysis"`
	RequestID string   `json:"request_id"`
}

// ModelResponse describes the loaded model
type ModelResponse struct {
	ArtifactID     string       `json:"artifact_id"`
	FeatureVersion string       `json:"feature_version"`
	CreatedAt      time.Time    `json:"created_at"`
	Trees          int          `json:"trees"`
	Features       int          `json:"features"`
	Classes        []ModelClass `json:"classes"`
}

// ModelClass pairs a classifier label with its category name
type ModelClass struct {
	Code     string `json:"code"`
	Category string `json:"category"`
}

func analysisOf(r *pipeline.Result) Analysis {
	ctx := labels.Parse(r.Code)
	return Analysis{
		Category:      r.Category,
		Code:          r.Code,
		Confidence:    r.Confidence,
		Probabilities: r.Probabilities,
		Hungry:        ctx == labels.WaitingForFood,
		Scared:        ctx == labels.Isolated,
		Content:       ctx == labels.Brushing,
		ArtifactID:    r.ArtifactID,
		AudioSeconds:  r.AudioSeconds,
		ElapsedMillis: r.ElapsedMillis,
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error(err, "Failed to encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	body := ErrorResponse{
		Error:     http.StatusText(status),
		Code:      errs.CodeOf(err),
		Message:   err.Error(),
		RequestID: requestIDFrom(r.Context()),
	}
	var ce *errs.ClassificationError
	if errors.As(err, &ce) {
		body.Stage = ce.Stage
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(err, "Request failed", logging.Fields{"status": status, "request_id": body.RequestID})
	}
	s.respondJSON(w, status, body)
}

// statusFor maps pipeline errors onto HTTP status codes
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, errs.ErrAudioDecode), errors.Is(err, errs.ErrInsufficientAudio):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrArtifactLoad), errors.Is(err, errBusy):
		return http.StatusServiceUnavailable
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "catvid",
		"endpoints": map[string]string{
			"health":   "GET /health",
			"model":    "GET /api/model",
			"upload":   "POST /api/upload (multipart: video | audio | file)",
			"classify": "POST /api/classify (raw body)",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	loaded := true
	if _, err := s.registry.Current(); err != nil {
		status = "degraded"
		loaded = false
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"model_loaded":   loaded,
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	b, err := s.registry.Current()
	if err != nil {
		s.respondError(w, r, statusFor(err), err)
		return
	}

	resp := ModelResponse{
		ArtifactID:     b.ID,
		FeatureVersion: b.FeatureVersion,
		CreatedAt:      b.CreatedAt,
		Trees:          len(b.Forest.Trees),
		Features:       b.Forest.NumFeatures,
	}
	for _, c := range b.Forest.Classes {
		resp.Classes = append(resp.Classes, ModelClass{Code: c, Category: labels.Lookup(c)})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, r, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.respondError(w, r, http.StatusBadRequest, errors.New("expected multipart form data"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	var data []byte
	for _, field := range uploadFields {
		file, _, err := r.FormFile(field)
		if err != nil {
			continue
		}
		data, err = io.ReadAll(file)
		file.Close()
		if err != nil {
			s.respondError(w, r, http.StatusBadRequest, err)
			return
		}
		break
	}
	if data == nil {
		s.respondError(w, r, http.StatusBadRequest, errors.New("no file in fields video, audio or file"))
		return
	}

	result, err := s.classify(r.Context(), data)
	if err != nil {
		s.respondError(w, r, statusFor(err), err)
		return
	}

	s.respondJSON(w, http.StatusOK, UploadResponse{
		Analysis:  analysisOf(result),
		RequestID: requestIDFrom(r.Context()),
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes))
	if err != nil {
		s.respondError(w, r, statusFor(err), err)
		return
	}

	result, err := s.classify(r.Context(), data)
	if err != nil {
		s.respondError(w, r, statusFor(err), err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}
