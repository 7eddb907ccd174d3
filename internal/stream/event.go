// Package stream carries orchestration progress to clients as an ordered
// sequence of typed events over SSE or WebSocket, and buffers runs so a
// disconnected client can resume.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sprite-ai/lensrev/internal/lens"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Type is the discriminator carried in every event payload.
type Type string

const (
	TypeStepStart    Type = "step_start"
	TypeStepComplete Type = "step_complete"
	TypeStepError    Type = "step_error"
	TypeChunk        Type = "chunk"
	TypeComplete     Type = "complete"
	TypeError        Type = "error"
)

// Event is one of StepStart, StepComplete, StepError, Chunk, Complete or
// ErrorEvent.
type Event interface {
	Type() Type
}

type StepStart struct {
	LensID string `json:"lensId"`
}

type StepComplete struct {
	LensID     string `json:"lensId"`
	IssueCount int    `json:"issueCount"`
}

type StepError struct {
	LensID  string `json:"lensId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Chunk is incremental generation text. LensID is empty for output that is
// not tied to a lens, such as a drilldown.
type Chunk struct {
	Content string `json:"content"`
	LensID  string `json:"lensId,omitempty"`
}

// Complete is the terminal event of a successful run.
type Complete struct {
	ReviewID     string              `json:"reviewId,omitempty"`
	Summary      string              `json:"summary"`
	Issues       []model.ReviewIssue `json:"issues"`
	LensStats    []model.LensStat    `json:"lensStats"`
	FailedLenses []model.FailedLens  `json:"failedLenses"`
}

// ErrorEvent is the terminal event of a failed run.
type ErrorEvent struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (StepStart) Type() Type    { return TypeStepStart }
func (StepComplete) Type() Type { return TypeStepComplete }
func (StepError) Type() Type    { return TypeStepError }
func (Chunk) Type() Type        { return TypeChunk }
func (Complete) Type() Type     { return TypeComplete }
func (ErrorEvent) Type() Type   { return TypeError }

func (e StepStart) MarshalJSON() ([]byte, error) {
	type payload StepStart
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e StepComplete) MarshalJSON() ([]byte, error) {
	type payload StepComplete
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e StepError) MarshalJSON() ([]byte, error) {
	type payload StepError
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e Chunk) MarshalJSON() ([]byte, error) {
	type payload Chunk
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e Complete) MarshalJSON() ([]byte, error) {
	type payload Complete
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	type payload ErrorEvent
	return json.Marshal(struct {
		Type Type `json:"type"`
		payload
	}{e.Type(), payload(e)})
}

// IsTerminal reports whether e ends a stream.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Complete, ErrorEvent:
		return true
	}
	return false
}

// ErrUnknownType is returned by Decode for an unrecognized discriminator.
var ErrUnknownType = errors.New("unknown event type")

// Decode parses one event payload. Fields the variant does not know are
// ignored.
func Decode(data []byte) (Event, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}

	var (
		ev  Event
		err error
	)
	switch head.Type {
	case TypeStepStart:
		var v StepStart
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeStepComplete:
		var v StepComplete
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeStepError:
		var v StepError
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeChunk:
		var v Chunk
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeComplete:
		var v Complete
		err = json.Unmarshal(data, &v)
		ev = v
	case TypeError:
		var v ErrorEvent
		err = json.Unmarshal(data, &v)
		ev = v
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", head.Type, err)
	}
	return ev, nil
}

// FromLens converts an orchestrator progress event.
func FromLens(e lens.Event) Event {
	switch e.Kind {
	case lens.EventStepStart:
		return StepStart{LensID: e.LensID}
	case lens.EventStepComplete:
		return StepComplete{LensID: e.LensID, IssueCount: e.IssueCount}
	case lens.EventStepError:
		return StepError{LensID: e.LensID, Code: string(e.Code), Message: e.Message}
	default:
		return Chunk{LensID: e.LensID, Content: e.Content}
	}
}

// CompleteFrom builds the terminal event for a finished orchestration.
func CompleteFrom(reviewID string, out *model.OrchestrationOutcome) Complete {
	return Complete{
		ReviewID:     reviewID,
		Summary:      out.Summary,
		Issues:       out.Issues,
		LensStats:    out.LensStats,
		FailedLenses: out.FailedLenses,
	}
}
