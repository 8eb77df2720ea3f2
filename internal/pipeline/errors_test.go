package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorString(t *testing.T) {
	err := WrapError(errors.New("exit status 1"), ErrTranscode, "transcode video").
		WithContext("media_key", "k1").
		WithContext("attempt", 2)

	assert.Equal(t, "[Transcode] transcode video | context: attempt=2, media_key=k1 | cause: exit status 1", err.Error())
	assert.Equal(t, "[NoMedia] message has no media", NewError(ErrNoMedia, "message has no media").Error())
}

func TestWrapErrorMapsCancellation(t *testing.T) {
	err := WrapError(context.Canceled, ErrTranscribe, "transcribe segment")
	assert.Equal(t, ErrCanceled, err.Type)
	assert.ErrorIs(t, err, context.Canceled)

	err = WrapError(fmt.Errorf("post: %w", context.DeadlineExceeded), ErrClassify, "classify")
	assert.Equal(t, ErrCanceled, err.Type)
}

func TestIsErrorType(t *testing.T) {
	inner := NewError(ErrOCR, "ocr")
	wrapped := fmt.Errorf("image: %w", inner)

	assert.True(t, IsErrorType(wrapped, ErrOCR))
	assert.False(t, IsErrorType(wrapped, ErrDescribe))
	assert.False(t, IsErrorType(errors.New("plain"), ErrOCR))
}

func TestUserMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NewError(ErrNoMedia, "x"), MsgReadMediaFailed},
		{NewError(ErrDownload, "x"), MsgReadMediaFailed},
		{NewError(ErrTranscribe, "x"), MsgAnalysisFailed},
		{errors.New("plain"), MsgAnalysisFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, UserMessage(tt.err), "%v", tt.err)
	}
}

func TestSafeExecute(t *testing.T) {
	err := SafeExecute(func() error { panic("boom") })
	require.Error(t, err)
	assert.True(t, IsErrorType(err, ErrUnknown))
	assert.Contains(t, err.Error(), "boom")

	want := errors.New("plain")
	assert.Equal(t, want, SafeExecute(func() error { return want }))
}
