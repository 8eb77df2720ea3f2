package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	ErrNoMedia ErrorType = iota
	ErrDownload
	ErrTranscode
	ErrTranscribe
	ErrClassify
	ErrFrames
	ErrOCR
	ErrDescribe
	ErrStorage
	ErrCanceled
	ErrUnknown
)

func (t ErrorType) String() string {
	switch t {
	case ErrNoMedia:
		return "NoMedia"
	case ErrDownload:
		return "Download"
	case ErrTranscode:
		return "Transcode"
	case ErrTranscribe:
		return "Transcribe"
	case ErrClassify:
		return "Classify"
	case ErrFrames:
		return "Frames"
	case ErrOCR:
		return "OCR"
	case ErrDescribe:
		return "Describe"
	case ErrStorage:
		return "Storage"
	case ErrCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// PipelineError is returned for every failed stage. Context carries the
// media key and stage details for logs.
type PipelineError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func WrapError(err error, errorType ErrorType, message string) *PipelineError {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		errorType = ErrCanceled
	}
	e := NewError(errorType, message)
	e.Cause = err
	return e
}

func (e *PipelineError) Error() string {
	parts := []string{fmt.Sprintf("[%s] %s", e.Type, e.Message)}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, "context: "+strings.Join(ctxParts, ", "))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	e.Context[key] = value
	return e
}

func IsErrorType(err error, errorType ErrorType) bool {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Type == errorType
	}
	return false
}

// UserMessage is the reply a chat front end sends when analysis failed.
func UserMessage(err error) string {
	var pErr *PipelineError
	if !errors.As(err, &pErr) {
		return MsgAnalysisFailed
	}
	switch pErr.Type {
	case ErrNoMedia, ErrDownload:
		return MsgReadMediaFailed
	default:
		return MsgAnalysisFailed
	}
}

// SafeExecute runs fn and converts a panic into an ErrUnknown error.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
