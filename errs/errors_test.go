package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := AudioDecode("wav.decode", "not a RIFF file", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, ErrAudioDecode)
	assert.NotErrorIs(t, err, ErrInsufficientAudio)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "wav.decode: not a RIFF file: unexpected EOF", err.Error())
}

func TestClassificationErrorKeepsKind(t *testing.T) {
	inner := InsufficientAudio("features.extract", "5 samples < window 2048")
	err := fmt.Errorf("request: %w", &ClassificationError{Stage: "extract", Cause: inner})

	assert.ErrorIs(t, err, ErrInsufficientAudio)
	assert.Equal(t, CodeInsufficientAudio, CodeOf(err))

	var ce *ClassificationError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "extract", ce.Stage)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Empty(t, CodeOf(errors.New("plain")))
}
