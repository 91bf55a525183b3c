// Package errs holds the error taxonomy shared by the audio, feature, model
// and artifact layers. Callers match kinds with errors.Is against the
// sentinels below; the concrete *Error carries the code, operation and cause.
package errs

import "errors"

// Error codes
const (
	CodeAudioDecode         = "AUDIO_DECODE"
	CodeInsufficientAudio   = "INSUFFICIENT_AUDIO"
	CodeInvalidTrainingData = "INVALID_TRAINING_DATA"
	CodeArtifactLoad        = "ARTIFACT_LOAD"
)

// Sentinels for errors.Is matching.
var (
	ErrAudioDecode         = &Error{Code: CodeAudioDecode, Message: "audio could not be decoded"}
	ErrInsufficientAudio   = &Error{Code: CodeInsufficientAudio, Message: "audio too short for feature extraction"}
	ErrInvalidTrainingData = &Error{Code: CodeInvalidTrainingData, Message: "invalid training data"}
	ErrArtifactLoad        = &Error{Code: CodeArtifactLoad, Message: "model artifacts could not be loaded"}
)

// Error is a classified pipeline failure.
type Error struct {
	Code    string `json:"code"`
	Op      string `json:"op,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports a match when target is an *Error with the same code, so every
// AudioDecode error matches ErrAudioDecode regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code, op, message string, cause error) *Error {
	return &Error{Code: code, Op: op, Message: message, Cause: cause}
}

// AudioDecode reports empty, corrupt, or unsupported audio input.
func AudioDecode(op, message string, cause error) *Error {
	return newError(CodeAudioDecode, op, message, cause)
}

// InsufficientAudio reports audio shorter than one analysis frame.
func InsufficientAudio(op, message string) *Error {
	return newError(CodeInsufficientAudio, op, message, nil)
}

// InvalidTrainingData reports a malformed training set.
func InvalidTrainingData(op, message string) *Error {
	return newError(CodeInvalidTrainingData, op, message, nil)
}

// ArtifactLoad reports missing, corrupt, or incompatible model artifacts.
func ArtifactLoad(op, message string, cause error) *Error {
	return newError(CodeArtifactLoad, op, message, cause)
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ClassificationError wraps a failure of one inference stage.
type ClassificationError struct {
	Stage string
	Cause error
}

func (e *ClassificationError) Error() string {
	return "classification failed at " + e.Stage + ": " + e.Cause.Error()
}

func (e *ClassificationError) Unwrap() error {
	return e.Cause
}
