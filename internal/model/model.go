// Package model defines the core data types shared across lensrev.
package model

import (
	"fmt"
	"strings"
)

// Severity ranks how urgent a review issue is.
type Severity string

const (
	SeverityBlocker Severity = "blocker"
	SeverityHigh    Severity = "high"
	SeverityMedium  Severity = "medium"
	SeverityLow     Severity = "low"
	SeverityNit     Severity = "nit"
)

// Severities lists every severity, most severe first.
var Severities = []Severity{SeverityBlocker, SeverityHigh, SeverityMedium, SeverityLow, SeverityNit}

// Rank returns a numeric rank for sorting (higher = more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityBlocker:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityNit:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

func (s Severity) String() string {
	if s.Rank() == 0 {
		return "unknown"
	}
	return string(s)
}

// ParseSeverity maps loosely formatted model output onto a Severity.
// Common synonyms used by LLMs ("critical", "info", ...) are folded in.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "blocker", "critical":
		return SeverityBlocker, nil
	case "high", "major", "error":
		return SeverityHigh, nil
	case "medium", "moderate", "warning":
		return SeverityMedium, nil
	case "low", "minor":
		return SeverityLow, nil
	case "nit", "info", "trivial", "style":
		return SeverityNit, nil
	default:
		return "", fmt.Errorf("unknown severity %q", raw)
	}
}

// ReviewIssue is a single finding produced by a lens.
type ReviewIssue struct {
	ID          string   `json:"id" validate:"required"`
	Severity    Severity `json:"severity" validate:"oneof=blocker high medium low nit"`
	Category    string   `json:"category,omitempty"`
	Title       string   `json:"title" validate:"required"`
	File        string   `json:"file"`
	Line        int      `json:"line,omitempty" validate:"gte=0"`
	EndLine     int      `json:"endLine,omitempty" validate:"gte=0"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion,omitempty"`
	Patch       string   `json:"patch,omitempty"`
	LensID      string   `json:"lensId,omitempty"`
	Confidence  float64  `json:"confidence,omitempty" validate:"gte=0,lte=1"`
}

// Location returns "file:line" or just the file when the line is unknown.
func (i ReviewIssue) Location() string {
	if i.Line > 0 {
		return fmt.Sprintf("%s:%d", i.File, i.Line)
	}
	return i.File
}

// LensResult is the output of one successful lens invocation.
type LensResult struct {
	LensID  string        `json:"lensId" validate:"required"`
	Summary string        `json:"summary"`
	Issues  []ReviewIssue `json:"issues" validate:"dive"`
}

// LensStat records how one lens performed.
type LensStat struct {
	LensID     string `json:"lensId"`
	DurationMs int64  `json:"durationMs"`
	IssueCount int    `json:"issueCount"`
}

// FailedLens records a lens that did not produce a result.
type FailedLens struct {
	LensID  string `json:"lensId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OrchestrationOutcome is the merged result of running all lenses for one request.
type OrchestrationOutcome struct {
	Summary      string        `json:"summary"`
	Issues       []ReviewIssue `json:"issues" validate:"dive"`
	LensStats    []LensStat    `json:"lensStats"`
	FailedLenses []FailedLens  `json:"failedLenses"`
	Results      []LensResult  `json:"results,omitempty" validate:"dive"`
}

// SeverityCounts holds issue counts by severity.
type SeverityCounts struct {
	Blocker int `json:"blocker"`
	High    int `json:"high"`
	Medium  int `json:"medium"`
	Low     int `json:"low"`
	Nit     int `json:"nit"`
}

// Total returns the sum of all counts.
func (c SeverityCounts) Total() int {
	return c.Blocker + c.High + c.Medium + c.Low + c.Nit
}

// CountSeverities tallies issues by severity.
func CountSeverities(issues []ReviewIssue) SeverityCounts {
	var c SeverityCounts
	for _, i := range issues {
		switch i.Severity {
		case SeverityBlocker:
			c.Blocker++
		case SeverityHigh:
			c.High++
		case SeverityMedium:
			c.Medium++
		case SeverityLow:
			c.Low++
		case SeverityNit:
			c.Nit++
		}
	}
	return c
}

// Score converts severity counts into a 0-10 quality score.
// Each blocker costs 3 points, high 1.5, medium 0.5, low 0.2; nits are free.
func Score(c SeverityCounts) float64 {
	penalty := 3*float64(c.Blocker) + 1.5*float64(c.High) + 0.5*float64(c.Medium) + 0.2*float64(c.Low)
	score := 10 - penalty
	if score < 0 {
		return 0
	}
	return float64(int(score*10)) / 10
}

// FilterBySeverity returns the issues at or above min, preserving order.
func FilterBySeverity(issues []ReviewIssue, min Severity) []ReviewIssue {
	if min == "" {
		return issues
	}
	out := make([]ReviewIssue, 0, len(issues))
	for _, i := range issues {
		if i.Severity.AtLeast(min) {
			out = append(out, i)
		}
	}
	return out
}
