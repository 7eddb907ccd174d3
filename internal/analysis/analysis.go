// Package analysis implements deterministic, regex-based passes over a
// parsed diff. They back the static lenses and need no AI provider.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

// Finding represents a single analysis finding attached to a file and line.
type Finding struct {
	Pass     string // which analysis pass produced this
	Category string
	File     string
	Line     int // line in the new file (old file for deletions), 0 if file-level
	Title    string
	Message  string
	Severity model.Severity
}

func (f Finding) String() string {
	loc := f.File
	if f.Line > 0 {
		loc = fmt.Sprintf("%s:%d", f.File, f.Line)
	}
	return fmt.Sprintf("[%s] %s: %s", f.Pass, loc, f.Message)
}

// Issue converts the finding into a review issue. Ids are assigned later by
// the orchestrator.
func (f Finding) Issue() model.ReviewIssue {
	title := f.Title
	if title == "" {
		title = f.Message
	}
	return model.ReviewIssue{
		Severity:    f.Severity,
		Category:    f.Category,
		Title:       title,
		File:        f.File,
		Line:        f.Line,
		Description: f.Message,
		Confidence:  0.5,
	}
}

// Results holds all findings from running analysis passes.
type Results struct {
	Findings []Finding
}

// ByFile returns findings grouped by file path.
func (r *Results) ByFile() map[string][]Finding {
	m := make(map[string][]Finding)
	for _, f := range r.Findings {
		m[f.File] = append(m[f.File], f)
	}
	return m
}

// AtLeast returns findings at or above the given severity.
func (r *Results) AtLeast(min model.Severity) []Finding {
	var result []Finding
	for _, f := range r.Findings {
		if f.Severity.AtLeast(min) {
			result = append(result, f)
		}
	}
	return result
}

// Issues converts every finding into a review issue, preserving order.
func (r *Results) Issues() []model.ReviewIssue {
	issues := make([]model.ReviewIssue, 0, len(r.Findings))
	for _, f := range r.Findings {
		issues = append(issues, f.Issue())
	}
	return issues
}

// Summary returns a one-line summary of findings.
func (r *Results) Summary() string {
	if len(r.Findings) == 0 {
		return "No issues found"
	}

	counts := make(map[model.Severity]int)
	for _, f := range r.Findings {
		counts[f.Severity]++
	}

	var parts []string
	for _, sev := range model.Severities {
		if c := counts[sev]; c > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c, sev))
		}
	}
	return strings.Join(parts, ", ")
}

// Pass analyzes a diff and returns findings. root is the project directory;
// passes that search the working tree do nothing when it is empty.
type Pass func(ctx context.Context, pd *diff.ParsedDiff, root string) []Finding

// Passes maps pass names to their functions.
var Passes = map[string]Pass{
	"deps":          NewDependencyPass,
	"security":      SecuritySurfacePass,
	"deleted":       DeletedCodePass,
	"schema":        SchemaChangePass,
	"anti_patterns": AntiPatternPass,
	"blast_radius":  BlastRadiusPass,
}

// PassOrder is the stable execution order of Passes.
var PassOrder = []string{"deps", "security", "deleted", "schema", "anti_patterns", "blast_radius"}

// Run executes the named passes (all when names is empty) in PassOrder and
// returns the aggregated results. It stops early when ctx is done.
func Run(ctx context.Context, pd *diff.ParsedDiff, root string, names ...string) (*Results, error) {
	want := make(map[string]bool)
	for _, n := range names {
		if _, ok := Passes[n]; !ok {
			return nil, fmt.Errorf("unknown analysis pass %q", n)
		}
		want[n] = true
	}

	results := &Results{}
	for _, name := range PassOrder {
		if len(want) > 0 && !want[name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results.Findings = append(results.Findings, Passes[name](ctx, pd, root)...)
	}
	return results, nil
}

// addedLines calls fn for every added line with its new-file line number.
func addedLines(f *diff.FileDiff, fn func(line int, text string)) {
	for _, h := range f.Hunks {
		lineNum := h.NewStart
		for _, l := range h.Lines {
			if l.Op == diff.LineAdd {
				fn(lineNum, l.Text)
			}
			if l.Op == diff.LineAdd || l.Op == diff.LineContext {
				lineNum++
			}
		}
	}
}

// deletedLines calls fn for every removed line with its old-file line number.
func deletedLines(f *diff.FileDiff, fn func(line int, text string)) {
	for _, h := range f.Hunks {
		lineNum := h.OldStart
		for _, l := range h.Lines {
			if l.Op == diff.LineDelete {
				fn(lineNum, l.Text)
			}
			if l.Op == diff.LineDelete || l.Op == diff.LineContext {
				lineNum++
			}
		}
	}
}

// deduplicateFindings removes findings with the same file+line+message.
func deduplicateFindings(findings []Finding) []Finding {
	seen := make(map[string]bool)
	var result []Finding
	for _, f := range findings {
		key := fmt.Sprintf("%s:%d:%s", f.File, f.Line, f.Message)
		if !seen[key] {
			seen[key] = true
			result = append(result, f)
		}
	}
	return result
}
