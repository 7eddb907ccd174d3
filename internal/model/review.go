package model

import "time"

// ReviewKind selects which collection a saved review lives in.
type ReviewKind string

const (
	KindReview ReviewKind = "review"
	KindTriage ReviewKind = "triage"
)

// ReviewMetadata is the listing-friendly header of a saved review.
type ReviewMetadata struct {
	ID           string         `json:"id" validate:"required,uuid"`
	ProjectPath  string         `json:"projectPath"`
	Mode         string         `json:"mode,omitempty"`
	Profile      string         `json:"profile,omitempty"`
	Lenses       []string       `json:"lenses,omitempty"`
	CreatedAt    time.Time      `json:"createdAt" validate:"required"`
	UpdatedAt    time.Time      `json:"updatedAt" validate:"required"`
	IssueCount   int            `json:"issueCount" validate:"gte=0"`
	Counts       SeverityCounts `json:"counts"`
	Score        float64        `json:"score" validate:"gte=0,lte=10"`
	FailedLenses int            `json:"failedLenses,omitempty"`
}

// GitContext describes where the reviewed diff came from.
type GitContext struct {
	Branch string   `json:"branch,omitempty"`
	Commit string   `json:"commit,omitempty"`
	Mode   string   `json:"mode,omitempty"`
	Range  string   `json:"range,omitempty"`
	Files  []string `json:"files,omitempty"`
}

// SavedReview is a persisted orchestration outcome plus its drilldowns.
// Triage reviews share the same shape and live in their own directory.
type SavedReview struct {
	Metadata   ReviewMetadata       `json:"metadata" validate:"required"`
	Result     OrchestrationOutcome `json:"result"`
	GitContext *GitContext          `json:"gitContext,omitempty"`
	Diff       string               `json:"diff,omitempty"`
	Drilldowns []DrilldownResult    `json:"drilldowns,omitempty" validate:"dive"`
}

// FindIssue returns the issue with the given id.
func (r *SavedReview) FindIssue(id string) (ReviewIssue, bool) {
	for _, i := range r.Result.Issues {
		if i.ID == id {
			return i, true
		}
	}
	return ReviewIssue{}, false
}

// TraceRef is one recorded tool invocation.
type TraceRef struct {
	Step          int       `json:"step" validate:"gte=1"`
	Tool          string    `json:"tool" validate:"required"`
	InputSummary  string    `json:"inputSummary"`
	OutputSummary string    `json:"outputSummary"`
	Timestamp     time.Time `json:"timestamp"`
}

// DrilldownFindings is the structured analysis produced by a drilldown.
type DrilldownFindings struct {
	Analysis        string   `json:"analysis"`
	RootCause       string   `json:"rootCause,omitempty"`
	Impact          string   `json:"impact,omitempty"`
	SuggestedFix    string   `json:"suggestedFix,omitempty"`
	Patch           string   `json:"patch,omitempty"`
	RelatedIssueIDs []string `json:"relatedIssueIds,omitempty"`
}

// DrilldownResult is an appended deep-dive into one issue.
type DrilldownResult struct {
	IssueID   string            `json:"issueId" validate:"required"`
	Issue     ReviewIssue       `json:"issue"`
	Findings  DrilldownFindings `json:"findings"`
	Trace     []TraceRef        `json:"trace" validate:"dive"`
	CreatedAt time.Time         `json:"createdAt"`
}

// SessionMessage is one entry in a conversation log.
type SessionMessage struct {
	ID        string    `json:"id" validate:"required"`
	Role      string    `json:"role" validate:"oneof=user assistant system"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt" validate:"required"`
}

// SessionMetadata is the listing-friendly header of a session.
type SessionMetadata struct {
	ID           string    `json:"id" validate:"required,uuid"`
	ProjectPath  string    `json:"projectPath"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt" validate:"required"`
	UpdatedAt    time.Time `json:"updatedAt" validate:"required"`
	MessageCount int       `json:"messageCount" validate:"gte=0"`
}

// Session is an append-only conversation log.
type Session struct {
	Metadata SessionMetadata  `json:"metadata" validate:"required"`
	Messages []SessionMessage `json:"messages" validate:"dive"`
}
