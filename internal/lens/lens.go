// Package lens runs independent analysis passes ("lenses") over a parsed
// diff with bounded concurrency and merges their results.
package lens

import (
	"context"
	"errors"
	"fmt"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Input is what every lens receives. Diff is shared between lenses and must
// not be modified.
type Input struct {
	Diff           *diff.ParsedDiff
	ProjectContext string
	Root           string
	// OnChunk receives incremental generation text. It may be nil.
	OnChunk func(content string)
}

func (in Input) chunk(s string) {
	if in.OnChunk != nil {
		in.OnChunk(s)
	}
}

// Lens is one analysis pass.
type Lens interface {
	ID() string
	Run(ctx context.Context, in Input) (*model.LensResult, error)
}

// Func adapts a function to Lens.
type Func struct {
	Name string
	Fn   func(ctx context.Context, in Input) (*model.LensResult, error)
}

func (f Func) ID() string { return f.Name }

func (f Func) Run(ctx context.Context, in Input) (*model.LensResult, error) {
	return f.Fn(ctx, in)
}

// Code classifies a lens or orchestration failure.
type Code string

const (
	CodeTimeout     Code = "TIMEOUT"
	CodeCancelled   Code = "CANCELLED"
	CodeRateLimited Code = "RATE_LIMITED"
	CodeAuth        Code = "AUTH_ERROR"
	CodeParse       Code = "PARSE_ERROR"
	CodeAI          Code = "AI_ERROR"
	CodeLens        Code = "LENS_ERROR"
)

// LensError is a single lens failure.
type LensError struct {
	LensID string
	Code   Code
	Err    error
}

func (e *LensError) Error() string {
	return fmt.Sprintf("lens %s: %s: %v", e.LensID, e.Code, e.Err)
}

func (e *LensError) Unwrap() error { return e.Err }

// parseError marks model output that could not be turned into issues.
type parseError struct{ err error }

func (e *parseError) Error() string { return "parsing lens output: " + e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// classify wraps err in a LensError unless it already is one.
func classify(lensID string, err error) *LensError {
	var le *LensError
	if errors.As(err, &le) {
		return le
	}
	var pe *parseError
	if errors.As(err, &pe) {
		return &LensError{LensID: lensID, Code: CodeParse, Err: err}
	}

	code := CodeLens
	var aiErr *ai.Error
	switch ai.KindOf(err) {
	case ai.KindTimeout:
		code = CodeTimeout
	case ai.KindCanceled:
		code = CodeCancelled
	case ai.KindRateLimited:
		code = CodeRateLimited
	case ai.KindAuth:
		code = CodeAuth
	default:
		if errors.As(err, &aiErr) {
			code = CodeAI
		}
	}
	return &LensError{LensID: lensID, Code: code, Err: err}
}

// OrchestrationError is returned when a run produced no usable outcome:
// every lens failed (and partial results were not allowed) or the run was
// cancelled.
type OrchestrationError struct {
	Code    Code
	Message string
	// Last is the last failure in lens order, if any.
	Last *LensError
}

func (e *OrchestrationError) Error() string {
	return e.Message
}

func (e *OrchestrationError) Unwrap() error {
	if e.Last == nil {
		return nil
	}
	return e.Last
}
