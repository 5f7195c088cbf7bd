package media

import (
	"errors"
	"fmt"

	"github.com/nextconvert/fxengine/internal/modules/effects"
)

var (
	ErrFileNotFound    = errors.New("file not found")
	ErrProbeFailure    = errors.New("probe failed")
	ErrTimeout         = errors.New("encode attempt timed out")
	ErrSizeExceeded    = errors.New("output does not fit under the size ceiling")
	ErrProcessFailure  = errors.New("ffmpeg process failed")
	ErrInvalidSource   = errors.New("invalid source")
	ErrNothingToRender = errors.New("nothing to render")
)

// TypeMismatchError is returned when an effect needs a stream the asset lacks
type TypeMismatchError struct {
	Effect string
	Reason string
}

func (e *TypeMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("effect %q cannot be applied: %s", e.Effect, e.Reason)
	}
	return fmt.Sprintf("effect %q cannot be applied to an audio-only asset", e.Effect)
}

// ProcessError carries the tail of ffmpeg's stderr for a failed pass
type ProcessError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

func (e *ProcessError) Is(target error) bool {
	return target == ErrProcessFailure
}

// StepError attributes a chain failure to the step that caused it. Step is
// the zero-based position of the effect in the filter spec, the same index
// whether the failure is found before or during execution. The clip trim and
// a raw graph are not listed effects; they report Step 0 and are named by
// Effect.
type StepError struct {
	Step   int
	Effect string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Effect, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Error codes reported to callers of the job and HTTP layers
const (
	CodeFileNotFound   = "FILE_NOT_FOUND"
	CodeInvalidFilter  = "INVALID_FILTER_SYNTAX"
	CodeUnknownEffect  = "UNKNOWN_EFFECT"
	CodeTypeMismatch   = "TYPE_MISMATCH"
	CodeTimeout        = "TIMEOUT"
	CodeSizeExceeded   = "SIZE_EXCEEDED"
	CodeProcessFailure = "PROCESS_FAILURE"
	CodeProbeFailure   = "PROBE_FAILURE"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeInternal       = "INTERNAL"
	CodeOK             = "OK"
)

// Code maps an error onto the taxonomy. nil maps to CodeOK.
func Code(err error) string {
	var mismatch *TypeMismatchError
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrFileNotFound):
		return CodeFileNotFound
	case errors.Is(err, effects.ErrInvalidFilterSyntax):
		return CodeInvalidFilter
	case errors.Is(err, effects.ErrUnknownEffect):
		return CodeUnknownEffect
	case errors.As(err, &mismatch):
		return CodeTypeMismatch
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrSizeExceeded):
		return CodeSizeExceeded
	case errors.Is(err, ErrProbeFailure):
		return CodeProbeFailure
	case errors.Is(err, ErrProcessFailure):
		return CodeProcessFailure
	case errors.Is(err, ErrInvalidSource), errors.Is(err, ErrNothingToRender):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
