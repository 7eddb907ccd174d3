package lens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sprite-ai/lensrev/internal/ai"
	"github.com/sprite-ai/lensrev/internal/diff"
	"github.com/sprite-ai/lensrev/internal/model"
)

const issueFormat = `You MUST respond with ONLY a JSON object. No markdown, no explanation, no preamble.

The object must have this exact structure:
{
  "summary": "One or two sentences about the change from your perspective",
  "issues": [
    {
      "severity": "blocker|high|medium|low|nit",
      "category": "short category name",
      "title": "Short descriptive title",
      "file": "relative/file/path",
      "line": 1,
      "endLine": 1,
      "description": "What is wrong and why it matters",
      "suggestion": "How to fix it, with code if helpful",
      "confidence": 0.0
    }
  ]
}

Rules:
1. Only review the changes shown in the diff. Do not comment on unchanged code.
2. Reference line numbers from the new side of the diff hunks.
3. Rate confidence from 0.0 to 1.0.
4. If there are no issues, return an empty "issues" array.`

// AI is a lens backed by a single generation call.
type AI struct {
	id     string
	focus  string
	client ai.Client
}

// NewAI creates an AI lens. focus is the reviewer persona placed at the top
// of the system prompt.
func NewAI(id, focus string, client ai.Client) *AI {
	return &AI{id: id, focus: focus, client: client}
}

func (l *AI) ID() string { return l.id }

// SystemPrompt returns the full system prompt of the lens.
func (l *AI) SystemPrompt() string {
	return l.focus + "\n\n" + issueFormat
}

func (l *AI) Run(ctx context.Context, in Input) (*model.LensResult, error) {
	if l.client == nil {
		return nil, &LensError{LensID: l.id, Code: CodeAI, Err: ai.ErrNoProvider}
	}
	system := l.SystemPrompt()

	resp, err := l.client.Generate(ctx, ai.Request{System: system, Prompt: BuildPrompt(in)}, in.chunk)
	if err != nil {
		return nil, err
	}

	parsed, err := ParseOutput(resp.Text)
	if err != nil {
		repair := fmt.Sprintf(
			"Your previous response was not valid JSON. The error was: %s\n\nPlease fix and respond with ONLY the JSON object.\n\nPrevious response:\n%s",
			err.Error(), resp.Text,
		)
		resp2, err2 := l.client.Generate(ctx, ai.Request{System: system, Prompt: repair}, nil)
		if err2 != nil {
			return nil, fmt.Errorf("repair: %w", err2)
		}
		parsed, err = ParseOutput(resp2.Text)
		if err != nil {
			return nil, &parseError{err: fmt.Errorf("after repair: %w", err)}
		}
	}

	summary := parsed.Summary
	if summary == "" {
		summary = fmt.Sprintf("%d issues", len(parsed.Issues))
	}
	return &model.LensResult{LensID: l.id, Summary: summary, Issues: parsed.Issues}, nil
}

// BuildPrompt renders the user prompt for a diff review.
func BuildPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Review the following code diff.\n\n")

	var langs []string
	seen := make(map[string]bool)
	for _, f := range in.Diff.Files {
		if f.Language != "" && !seen[f.Language] {
			seen[f.Language] = true
			langs = append(langs, f.Language)
		}
	}
	if len(langs) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(langs, ", "))
	}
	if pc := strings.TrimSpace(in.ProjectContext); pc != "" {
		b.WriteString("\n--- PROJECT CONTEXT ---\n")
		b.WriteString(pc)
		b.WriteString("\n")
	}

	b.WriteString("\n--- BEGIN DIFF ---\n")
	b.WriteString(diff.FormatAll(in.Diff.Files))
	b.WriteString("\n--- END DIFF ---\n")
	return b.String()
}

// Output is the decoded response of an AI lens.
type Output struct {
	Summary string
	Issues  []model.ReviewIssue
}

type rawIssue struct {
	Severity    string  `json:"severity"`
	Category    string  `json:"category"`
	Title       string  `json:"title"`
	File        string  `json:"file"`
	Path        string  `json:"path"`
	Line        int     `json:"line"`
	StartLine   int     `json:"startLine"`
	EndLine     int     `json:"endLine"`
	Description string  `json:"description"`
	Message     string  `json:"message"`
	Suggestion  string  `json:"suggestion"`
	Patch       string  `json:"patch"`
	Confidence  float64 `json:"confidence"`
}

// ParseOutput decodes model output into issues. It accepts the documented
// object, or a bare array of issues, optionally wrapped in a code fence.
func ParseOutput(content string) (*Output, error) {
	content = stripFence(strings.TrimSpace(content))
	if content == "" {
		return nil, errors.New("empty response")
	}

	var raws []rawIssue
	out := &Output{}
	switch content[0] {
	case '{':
		var obj struct {
			Summary string     `json:"summary"`
			Issues  []rawIssue `json:"issues"`
		}
		if err := json.Unmarshal([]byte(content), &obj); err != nil {
			return nil, fmt.Errorf("invalid JSON object: %w", err)
		}
		out.Summary = strings.TrimSpace(obj.Summary)
		raws = obj.Issues
	case '[':
		if err := json.Unmarshal([]byte(content), &raws); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
	default:
		return nil, errors.New("response is not a JSON object or array")
	}

	out.Issues = make([]model.ReviewIssue, 0, len(raws))
	for i, r := range raws {
		issue, err := r.issue()
		if err != nil {
			return nil, fmt.Errorf("issue %d: %w", i, err)
		}
		out.Issues = append(out.Issues, issue)
	}
	return out, nil
}

func (r rawIssue) issue() (model.ReviewIssue, error) {
	title := strings.TrimSpace(r.Title)
	desc := strings.TrimSpace(r.Description)
	if desc == "" {
		desc = strings.TrimSpace(r.Message)
	}
	if title == "" {
		if desc == "" {
			return model.ReviewIssue{}, errors.New("missing title")
		}
		title = desc
	}

	sev, err := model.ParseSeverity(r.Severity)
	if err != nil {
		return model.ReviewIssue{}, err
	}

	file := r.File
	if file == "" {
		file = r.Path
	}
	line := r.Line
	if line <= 0 {
		line = r.StartLine
	}
	conf := r.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return model.ReviewIssue{
		Severity:    sev,
		Category:    strings.TrimSpace(r.Category),
		Title:       title,
		File:        file,
		Line:        max(line, 0),
		EndLine:     max(r.EndLine, 0),
		Description: desc,
		Suggestion:  strings.TrimSpace(r.Suggestion),
		Patch:       r.Patch,
		Confidence:  conf,
	}, nil
}

// stripFence removes a surrounding ```json ... ``` fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		return ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
