// Package drilldown investigates one issue of a saved review in depth and
// appends the result, with its tool-call trace, to the review.
package drilldown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
	"github.com/sprite-ai/lensrev/internal/store"
)

// Code classifies a drilldown failure.
type Code string

const (
	CodeIssueNotFound  Code = "ISSUE_NOT_FOUND"
	CodeReviewNotFound Code = "REVIEW_NOT_FOUND"
	CodeAI             Code = "AI_ERROR"
	CodeStore          Code = "STORE_ERROR"
)

// Error is a failed drilldown.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// excerptRadius is how many lines around the issue line are shown to the model.
const excerptRadius = 20

const systemPrompt = `You are a senior engineer investigating a single code review finding in depth.
Use the finding, the file excerpt and the diff to determine whether the finding is real, what causes it and how to fix it.

You MUST respond with ONLY a JSON object. No markdown, no preamble.
{
  "analysis": "Your detailed investigation",
  "rootCause": "The underlying cause",
  "impact": "What breaks and for whom",
  "suggestedFix": "Concrete steps or code",
  "patch": "Optional unified diff implementing the fix",
  "relatedIssueIds": ["ids of other listed findings with the same cause"]
}`

// Engine runs drilldowns against the review stores.
type Engine struct {
	stores *store.Stores
	client ai.Client
	log    zerolog.Logger
	now    func() time.Time
}

// New creates an engine. client may be nil, in which case every drilldown
// fails with AI_ERROR after loading the review.
func New(stores *store.Stores, client ai.Client, log zerolog.Logger) *Engine {
	return &Engine{stores: stores, client: client, log: log, now: time.Now}
}

// Drilldown investigates issueID of the review reviewID stored under kind.
// onChunk receives generation text as it streams and may be nil.
func (e *Engine) Drilldown(ctx context.Context, kind model.ReviewKind, reviewID, issueID string, onChunk func(string)) (*model.DrilldownResult, error) {
	rs, err := e.stores.ReviewStore(kind)
	if err != nil {
		return nil, &Error{Code: CodeStore, Message: "invalid review kind", Err: err}
	}
	review, err := rs.Read(reviewID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &Error{Code: CodeReviewNotFound, Message: "review " + reviewID + " not found", Err: err}
		}
		return nil, &Error{Code: CodeStore, Message: "loading review", Err: err}
	}
	issue, ok := review.FindIssue(issueID)
	if !ok {
		return nil, &Error{Code: CodeIssueNotFound, Message: fmt.Sprintf("issue %q not found in review %s", issueID, reviewID)}
	}

	rec := NewRecorder()
	excerpt, _ := Record(rec, "read_file", issue.Location(), func() (string, error) {
		return readExcerpt(review.Metadata.ProjectPath, issue)
	})
	fileDiff, _ := Record(rec, "diff_lookup", issue.File, func() (string, error) {
		return lookupDiff(review, issue.File)
	})
	related, _ := Record(rec, "related_issues", issue.File, func() ([]model.ReviewIssue, error) {
		return relatedIssues(review, issue), nil
	})

	prompt := buildPrompt(issue, excerpt, fileDiff, related)
	resp, err := Record(rec, "ai_analyze", fmt.Sprintf("%s (%d chars)", issue.Title, len(prompt)), func() (*ai.Response, error) {
		if e.client == nil {
			return nil, ai.ErrNoProvider
		}
		return e.client.Generate(ctx, ai.Request{System: systemPrompt, Prompt: prompt}, onChunk)
	})
	if err != nil {
		return nil, &Error{Code: CodeAI, Message: "analysis failed", Err: err}
	}

	result := &model.DrilldownResult{
		IssueID:   issue.ID,
		Issue:     issue,
		Findings:  parseFindings(resp.Text),
		Trace:     rec.Trace(),
		CreatedAt: e.now().UTC(),
	}

	if err := e.appendResult(rs, reviewID, result); err != nil {
		return nil, &Error{Code: CodeStore, Message: "saving drilldown", Err: err}
	}
	e.log.Info().Str("review", reviewID).Str("issue", issue.ID).Int("steps", len(result.Trace)).Msg("drilldown complete")
	return result, nil
}

// appendResult re-reads the review so drilldowns saved meanwhile are kept.
func (e *Engine) appendResult(rs *store.FileStore[model.SavedReview], reviewID string, result *model.DrilldownResult) error {
	review, err := rs.Read(reviewID)
	if err != nil {
		return err
	}
	review.Drilldowns = append(review.Drilldowns, *result)
	review.Metadata.UpdatedAt = result.CreatedAt
	return rs.Write(reviewID, review)
}

func readExcerpt(root string, issue model.ReviewIssue) (string, error) {
	if root == "" || issue.File == "" {
		return "", errors.New("no project path or file")
	}
	path, err := diff.ResolveInRoot(root, issue.File)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	start, end := 0, len(lines)
	if issue.Line > 0 {
		start = max(issue.Line-1-excerptRadius, 0)
		end = min(max(issue.EndLine, issue.Line)+excerptRadius, len(lines))
	}
	if start >= end {
		return "", fmt.Errorf("line %d is past the end of %s", issue.Line, issue.File)
	}

	var b strings.Builder
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "%5d  %s\n", i+1, lines[i])
	}
	return b.String(), nil
}

func lookupDiff(review *model.SavedReview, file string) (string, error) {
	if review.Diff == "" {
		return "", errors.New("review has no stored diff")
	}
	pd, err := diff.Parse(review.Diff)
	if err != nil {
		return "", err
	}
	fd, ok := pd.File(file)
	if !ok {
		return "", fmt.Errorf("%s is not part of the diff", file)
	}
	return diff.Format(fd), nil
}

func relatedIssues(review *model.SavedReview, issue model.ReviewIssue) []model.ReviewIssue {
	var out []model.ReviewIssue
	for _, other := range review.Result.Issues {
		if other.ID != issue.ID && other.File == issue.File {
			out = append(out, other)
		}
	}
	return out
}

func buildPrompt(issue model.ReviewIssue, excerpt, fileDiff string, related []model.ReviewIssue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Finding %s [%s] from lens %s\n", issue.ID, issue.Severity, issue.LensID)
	fmt.Fprintf(&b, "Title: %s\nLocation: %s\n", issue.Title, issue.Location())
	if issue.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", issue.Description)
	}
	if issue.Suggestion != "" {
		fmt.Fprintf(&b, "Original suggestion: %s\n", issue.Suggestion)
	}
	if excerpt != "" {
		b.WriteString("\n--- FILE EXCERPT ---\n")
		b.WriteString(excerpt)
	}
	if fileDiff != "" {
		b.WriteString("\n--- DIFF ---\n")
		b.WriteString(fileDiff)
	}
	if len(related) > 0 {
		b.WriteString("\n--- OTHER FINDINGS IN THIS FILE ---\n")
		for _, r := range related {
			fmt.Fprintf(&b, "- %s [%s] %s: %s\n", r.ID, r.Severity, r.Location(), r.Title)
		}
	}
	return b.String()
}

// parseFindings decodes the model's JSON answer. Anything else is kept as
// free-form analysis.
func parseFindings(text string) model.DrilldownFindings {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s[nl+1:]), "```"))
		}
	}
	var f model.DrilldownFindings
	if err := json.Unmarshal([]byte(s), &f); err == nil && f.Analysis != "" {
		return f
	}
	return model.DrilldownFindings{Analysis: strings.TrimSpace(text)}
}
